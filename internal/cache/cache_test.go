package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/commjoen/dnsbl/pkg/models"
)

func listedSet(host string) models.RecordSet {
	return models.RecordSet{models.NewARecord(host, "IN", 60, "127.0.0.2")}
}

func readDump(t *testing.T, path string) models.Snapshot {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read dump file: %v", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("Dump file is not valid JSON: %v\n%s", err, data)
	}
	return snap
}

func TestNewRejectsConflictingPreloads(t *testing.T) {
	_, err := New(Options{
		Preloads:    models.Snapshot{},
		PreloadFile: filepath.Join(t.TempDir(), "preload.json"),
	})
	if !errors.Is(err, ErrConflictingPreload) {
		t.Errorf("Expected ErrConflictingPreload, got %v", err)
	}
}

func TestPreloadMapIsUsedVerbatim(t *testing.T) {
	preloads := models.Snapshot{}
	preloads.Set("127.0.0.2", "bl.example.org", listedSet("2.0.0.127.bl.example.org"))
	preloads.Set("127.0.0.2", "null.example.org", nil)
	preloads.Set("127.0.0.2", "empty.example.org", models.RecordSet{})

	c, err := New(Options{Preloads: preloads, Logger: zaptest.NewLogger(t).Sugar()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if rs, ok := c.Lookup("127.0.0.2", "bl.example.org"); !ok || !rs.Listed() {
		t.Errorf("Expected listed preload, got %v (present=%v)", rs, ok)
	}
	if rs, ok := c.Lookup("127.0.0.2", "null.example.org"); !ok || rs != nil {
		t.Errorf("Expected cached null, got %v (present=%v)", rs, ok)
	}
	if rs, ok := c.Lookup("127.0.0.2", "empty.example.org"); !ok || rs == nil || len(rs) != 0 {
		t.Errorf("Expected cached empty set, got %v (present=%v)", rs, ok)
	}
	if _, ok := c.Lookup("127.0.0.2", "other.example.org"); ok {
		t.Error("Expected absent entry")
	}

	// Mutating the caller's map must not leak into the cache
	preloads.Set("127.0.0.2", "late.example.org", nil)
	if _, ok := c.Lookup("127.0.0.2", "late.example.org"); ok {
		t.Error("Cache should not alias the preload map")
	}
}

func TestPreloadFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content *string
		wantLen int
	}{
		{"missing file", nil, 0},
		{"empty file", strPtr(""), 0},
		{"corrupt file", strPtr("{not json"), 0},
		{"json null", strPtr("null"), 0},
		{"valid file", strPtr(`{"1.2.3.4":{"bl.example.org":[],"other.example.org":null}}`), 2},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("preload-%d.json", i))
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0o600); err != nil {
					t.Fatalf("Failed to write preload file: %v", err)
				}
			}

			c, err := New(Options{PreloadFile: path, Logger: zaptest.NewLogger(t).Sugar()})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if c.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", c.Len(), tt.wantLen)
			}
		})
	}
}

func strPtr(s string) *string {
	return &s
}

func TestRecordWithoutDumpFile(t *testing.T) {
	c, err := New(Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := c.Record("10.0.0.1", "bl.example.org", models.RecordSet{}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	rs, ok := c.Lookup("10.0.0.1", "bl.example.org")
	if !ok || rs == nil || len(rs) != 0 {
		t.Errorf("Expected cached empty set, got %v (present=%v)", rs, ok)
	}
}

func TestRecordPersistsToDumpFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.json")
	c, err := New(Options{DumpFile: path, Logger: zaptest.NewLogger(t).Sugar()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := c.Record("127.0.0.2", "bl.example.org", listedSet("2.0.0.127.bl.example.org")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := c.Record("127.0.0.2", "clean.example.org", models.RecordSet{}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := c.Record("127.0.0.2", "broken.example.org", nil); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	snap := readDump(t, path)
	if rs, ok := snap.Lookup("127.0.0.2", "bl.example.org"); !ok || len(rs) != 1 || rs[0].IP != "127.0.0.2" {
		t.Errorf("Listed entry not persisted: %v", rs)
	}
	if rs, ok := snap.Lookup("127.0.0.2", "clean.example.org"); !ok || rs == nil {
		t.Errorf("Empty entry should persist as []: %v (present=%v)", rs, ok)
	}
	if rs, ok := snap.Lookup("127.0.0.2", "broken.example.org"); !ok || rs != nil {
		t.Errorf("Null entry should persist as null: %v (present=%v)", rs, ok)
	}

	// The dump doubles as a preload file
	reloaded, err := New(Options{PreloadFile: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if reloaded.Len() != 3 {
		t.Errorf("Reloaded cache has %d entries, want 3", reloaded.Len())
	}
}

func TestRecordMergesExistingDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.json")
	existing := `{"192.0.2.1": {"bl.example.org": []}}`
	if err := os.WriteFile(path, []byte(existing), 0o600); err != nil {
		t.Fatalf("Failed to seed dump file: %v", err)
	}

	c, err := New(Options{DumpFile: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Record("192.0.2.2", "bl.example.org", nil); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	snap := readDump(t, path)
	if _, ok := snap.Lookup("192.0.2.1", "bl.example.org"); !ok {
		t.Error("Existing dump entry was lost")
	}
	if _, ok := snap.Lookup("192.0.2.2", "bl.example.org"); !ok {
		t.Error("New entry was not written")
	}
}

func TestRecordRewritesCorruptDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.json")
	if err := os.WriteFile(path, []byte("garbage that is much longer than the new content {{{"), 0o600); err != nil {
		t.Fatalf("Failed to seed dump file: %v", err)
	}

	c, err := New(Options{DumpFile: path, Logger: zaptest.NewLogger(t).Sugar()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Record("a", "z", models.RecordSet{}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	snap := readDump(t, path)
	if len(snap) != 1 {
		t.Errorf("Expected only the new entry, got %v", snap)
	}
}

func TestRecordPersistenceFailureKeepsMemoryEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "dump.json")
	c, err := New(Options{DumpFile: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = c.Record("a", "z", models.RecordSet{})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("Expected ErrPersistence, got %v", err)
	}
	if _, ok := c.Lookup("a", "z"); !ok {
		t.Error("In-memory entry should survive a persistence failure")
	}
}

func TestConcurrentWritersShareDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.json")

	const writers = 4
	const perWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		c, err := New(Options{DumpFile: path})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		wg.Add(1)
		go func(w int, c *Cache) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := c.Record(fmt.Sprintf("10.0.%d.%d", w, i), "bl.example.org", models.RecordSet{}); err != nil {
					t.Errorf("Record() error = %v", err)
				}
			}
		}(w, c)
	}
	wg.Wait()

	snap := readDump(t, path)
	if len(snap) != writers*perWriter {
		t.Errorf("Dump has %d candidates, want %d (lost updates)", len(snap), writers*perWriter)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c, err := New(Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_ = c.Record("a", "z", listedSet("h"))

	snap := c.Snapshot()
	snap.Set("b", "z", nil)
	if _, ok := c.Lookup("b", "z"); ok {
		t.Error("Snapshot should not alias cache state")
	}
	if c.DumpFile() != "" {
		t.Errorf("DumpFile() = %q, want empty", c.DumpFile())
	}
}
