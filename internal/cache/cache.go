// Package cache keeps blacklist query results keyed by candidate and zone,
// preloaded from a snapshot and optionally dumped to a JSON file.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/commjoen/dnsbl/pkg/models"
)

var (
	// ErrConflictingPreload is returned when both a preload map and a preload file are given
	ErrConflictingPreload = errors.New("preloads and preload file are mutually exclusive")

	// ErrPersistence wraps every failure to update the dump file
	ErrPersistence = errors.New("cache persistence failed")
)

// Options configures a Cache
type Options struct {
	// Preloads is used verbatim as the initial content
	Preloads models.Snapshot
	// PreloadFile is read at construction when Preloads is nil and the file exists
	PreloadFile string
	// DumpFile receives every recorded result when set
	DumpFile string
	// Logger defaults to a no-op logger
	Logger *zap.SugaredLogger
}

// Validate checks that at most one preload source is configured
func (o Options) Validate() error {
	if o.Preloads != nil && o.PreloadFile != "" {
		return ErrConflictingPreload
	}
	return nil
}

// Cache maps candidate to zone to record set
type Cache struct {
	mu      sync.RWMutex
	entries models.Snapshot

	dumpFile  string
	persistMu sync.Mutex
	log       *zap.SugaredLogger
}

// New creates a cache and runs the preload protocol
func New(opts Options) (*Cache, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	c := &Cache{
		dumpFile: opts.DumpFile,
		log:      log,
	}

	switch {
	case opts.Preloads != nil:
		c.entries = opts.Preloads.Clone()
	case opts.PreloadFile != "":
		c.entries = loadSnapshotFile(opts.PreloadFile, log)
	default:
		c.entries = models.Snapshot{}
	}

	return c, nil
}

// loadSnapshotFile reads a preload file. A missing or unparsable file
// yields an empty snapshot.
func loadSnapshotFile(path string, log *zap.SugaredLogger) models.Snapshot {
	// #nosec G304 -- preload path is operator configuration
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warnw("cannot read preload file", "path", path, "error", err)
		}
		return models.Snapshot{}
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		log.Warnw("ignoring unparsable preload file", "path", path, "error", err)
		return models.Snapshot{}
	}
	log.Debugw("preloaded cache", "path", path, "candidates", len(snap))
	return snap
}

func decodeSnapshot(data []byte) (models.Snapshot, error) {
	snap := models.Snapshot{}
	if len(bytes.TrimSpace(data)) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.Snapshot{}, err
	}
	if snap == nil {
		snap = models.Snapshot{}
	}
	return snap, nil
}

// Lookup returns the cached entry for candidate and zone. The boolean is
// false when the pair was never recorded; a recorded nil or empty set is
// returned with true.
func (c *Cache) Lookup(candidate, zone string) (models.RecordSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rs, ok := c.entries.Lookup(candidate, zone)
	if !ok {
		return nil, false
	}
	return rs.Clone(), true
}

// Record stores a freshly obtained result and, when a dump file is
// configured, merges it into that file. The in-memory entry is kept even
// if persisting fails; the returned error wraps ErrPersistence.
func (c *Cache) Record(candidate, zone string, rs models.RecordSet) error {
	c.mu.Lock()
	c.entries.Set(candidate, zone, rs.Clone())
	c.mu.Unlock()

	if c.dumpFile == "" {
		return nil
	}
	if err := c.persist(candidate, zone, rs); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPersistence, c.dumpFile, err)
	}
	return nil
}

// Snapshot returns a copy of everything cached
func (c *Cache) Snapshot() models.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Clone()
}

// Len returns the number of cached candidate/zone pairs
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, zones := range c.entries {
		n += len(zones)
	}
	return n
}

// DumpFile returns the configured dump path, if any
func (c *Cache) DumpFile() string {
	return c.dumpFile
}

// persist merges one entry into the dump file under an exclusive lock.
// Content written concurrently by other processes is kept because the
// file is re-read while the lock is held.
func (c *Cache) persist(candidate, zone string, rs models.RecordSet) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	// #nosec G304 -- dump path is operator configuration
	f, err := os.OpenFile(filepath.Clean(c.dumpFile), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	unlock, err := lockFile(f)
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer unlock()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		c.log.Warnw("dump file is corrupt, rewriting", "path", c.dumpFile, "error", err)
	}
	snap.Set(candidate, zone, rs)

	buf, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
