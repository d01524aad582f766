// Package main provides tests for the dnsbl CLI
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/foxcpp/go-mockdns"

	"github.com/commjoen/dnsbl/internal/blacklist"
	"github.com/commjoen/dnsbl/pkg/models"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DNSBL_MODE", "DNSBL_BLACKLISTS", "DNSBL_DUMP_FILE", "DNSBL_PRELOAD_FILE",
		"DNSBL_CCTLD_SOURCE", "DNSBL_SERVERS", "DNSBL_TIMEOUT", "DNSBL_RETRIES",
		"DNSBL_CONCURRENT", "DNSBL_FORMAT", "DNSBL_HTTP_ADDR", "DNSBL_QUERY_TIMEOUT",
	} {
		t.Setenv(k, "")
	}
}

func startDNS(t *testing.T, zones map[string]mockdns.Zone) string {
	t.Helper()
	srv, err := mockdns.NewServer(zones, false)
	if err != nil {
		t.Fatalf("Failed to start mock DNS server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv.LocalAddr().String()
}

// deadServer returns a UDP address nothing listens on
func deadServer(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket failed: %v", err)
	}
	addr := pc.LocalAddr().String()
	pc.Close()
	return addr
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func decodeReport(t *testing.T, out string) models.CheckReport {
	t.Helper()
	var report models.CheckReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("Output is not a JSON report: %v\n%s", err, out)
	}
	return report
}

var listedZones = map[string]mockdns.Zone{
	"2.0.0.127.zen.example.": {
		A:   []string{"127.0.0.2"},
		TXT: []string{"https://zen.example/query/ip/127.0.0.2"},
	},
	"4.0.0.127.bl.example.": {
		A: []string{"127.0.0.2"},
	},
}

func TestRootCmdFlags(t *testing.T) {
	root := newRootCmd()

	persistent := []struct {
		name  string
		short string
	}{
		{"mode", "m"},
		{"blacklists", "b"},
		{"dump-file", ""},
		{"preload-file", ""},
		{"cctld-source", ""},
		{"servers", ""},
		{"timeout", "t"},
		{"retries", ""},
		{"query-timeout", ""},
		{"verbose", "v"},
	}
	for _, flag := range persistent {
		t.Run(flag.name, func(t *testing.T) {
			f := root.PersistentFlags().Lookup(flag.name)
			if f == nil {
				t.Fatalf("Flag --%s should exist", flag.name)
			}
			if f.Shorthand != flag.short {
				t.Errorf("Flag --%s should have short form -%s, got -%s", flag.name, flag.short, f.Shorthand)
			}
		})
	}

	check, _, err := root.Find([]string{"check"})
	if err != nil {
		t.Fatalf("check command not found: %v", err)
	}
	for _, name := range []string{"check-all", "format", "out", "input", "concurrent", "fail-on-listed"} {
		if check.Flags().Lookup(name) == nil {
			t.Errorf("check flag --%s should exist", name)
		}
	}

	serve, _, err := root.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("serve command not found: %v", err)
	}
	if serve.Flags().Lookup("addr") == nil {
		t.Error("serve flag --addr should exist")
	}
}

func TestRootCmdUsage(t *testing.T) {
	out, _, err := execute(t, "--help")
	if err != nil {
		t.Errorf("Help command failed: %v", err)
	}

	for _, expected := range []string{"dnsbl", "blacklists", "check", "serve", "--mode"} {
		if !strings.Contains(out, expected) {
			t.Errorf("Help output should contain %q", expected)
		}
	}
}

func TestRootCmdVersion(t *testing.T) {
	out, _, err := execute(t, "--version")
	if err != nil {
		t.Errorf("Version command failed: %v", err)
	}
	if !strings.Contains(out, "dnsbl") {
		t.Error("Version output should contain 'dnsbl'")
	}
}

func TestInitVersionPreservesLDFLAGS(t *testing.T) {
	originalVersion := version
	defer func() { version = originalVersion }()

	version = "v1.2.3"
	initVersion()

	if version != "v1.2.3" {
		t.Errorf("initVersion should preserve LDFLAGS version, got %q, want %q", version, "v1.2.3")
	}
}

func TestInitVersionFromBuildInfo(t *testing.T) {
	originalVersion := version
	defer func() { version = originalVersion }()

	version = "dev"
	initVersion()

	if version == "" {
		t.Error("initVersion should not set version to empty string")
	}
}

func TestMergeConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("DNSBL_MODE", "surbl")
	t.Setenv("DNSBL_TIMEOUT", "3s")
	t.Setenv("DNSBL_BLACKLISTS", "env.example")

	c := newCLI()
	root := c.rootCmd()
	check, _, err := root.Find([]string{"check"})
	if err != nil {
		t.Fatalf("check command not found: %v", err)
	}
	if err := check.ParseFlags([]string{"--mode", "DNSBL", "--blacklists", "a.example,b.example", "-f", "csv"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}

	cfg, err := c.mergeConfig(check)
	if err != nil {
		t.Fatalf("mergeConfig() error = %v", err)
	}
	if cfg.Mode != blacklist.ModeDNSBL {
		t.Errorf("Mode = %q, flag should win over environment", cfg.Mode)
	}
	if !reflect.DeepEqual(cfg.Blacklists, []string{"a.example", "b.example"}) {
		t.Errorf("Blacklists = %v", cfg.Blacklists)
	}
	if cfg.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, environment should apply when the flag is unset", cfg.Timeout)
	}
	if cfg.Format != "csv" {
		t.Errorf("Format = %q", cfg.Format)
	}
}

func TestMergeConfigInvalid(t *testing.T) {
	clearEnv(t)

	_, _, err := execute(t, "check", "--mode", "rbl", "127.0.0.2")
	if err == nil || !strings.Contains(err.Error(), "unsupported mode") {
		t.Errorf("Expected unsupported mode error, got %v", err)
	}

	t.Setenv("DNSBL_TIMEOUT", "soon")
	if _, _, err := execute(t, "check", "127.0.0.2"); err == nil {
		t.Error("Expected error for invalid DNSBL_TIMEOUT")
	}
}

func TestCollectCandidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candidates.txt")
	if err := os.WriteFile(path, []byte("# hosts\n127.0.0.2\n\n  mail.example.org  \n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := collectCandidates([]string{"192.0.2.1"}, path, nil)
	if err != nil {
		t.Fatalf("collectCandidates() error = %v", err)
	}
	want := []string{"192.0.2.1", "127.0.0.2", "mail.example.org"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("collectCandidates() = %v, want %v", got, want)
	}

	got, err = collectCandidates(nil, "-", strings.NewReader("http://example.com/\n"))
	if err != nil {
		t.Fatalf("collectCandidates(stdin) error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"http://example.com/"}) {
		t.Errorf("collectCandidates(stdin) = %v", got)
	}

	if _, err := collectCandidates(nil, filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("Expected error for missing input file")
	}
}

func TestCheckNoCandidates(t *testing.T) {
	clearEnv(t)

	_, _, err := execute(t, "check", "--servers", deadServer(t))
	if err == nil || !strings.Contains(err.Error(), "no candidates") {
		t.Errorf("Expected no candidates error, got %v", err)
	}
}

func TestCheckDNSBL(t *testing.T) {
	clearEnv(t)
	addr := startDNS(t, listedZones)
	dump := filepath.Join(t.TempDir(), "dump.json")

	out, _, err := execute(t, "check",
		"--servers", addr,
		"--blacklists", "zen.example,bl.example",
		"--format", "json",
		"--dump-file", dump,
		"127.0.0.2", "127.0.0.1", " ",
	)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}

	report := decodeReport(t, out)
	if len(report.Results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(report.Results))
	}

	listed := report.Results[0]
	if !listed.Listed || !reflect.DeepEqual(listed.ListingBlacklists, []string{"zen.example"}) {
		t.Errorf("127.0.0.2 should be listed on zen.example: %+v", listed)
	}
	if len(listed.Details) != 1 {
		t.Errorf("Expected early stop after zen.example, got %d details", len(listed.Details))
	}

	clean := report.Results[1]
	if clean.Listed || len(clean.Details) != 2 {
		t.Errorf("127.0.0.1 should be clean with two zones checked: %+v", clean)
	}

	if report.Results[2].Error == "" {
		t.Error("Blank candidate should be reported as invalid")
	}

	want := models.CheckSummary{TotalCandidates: 3, Listed: 1, Clean: 1, Invalid: 1}
	if *report.Summary != want {
		t.Errorf("Summary = %+v, want %+v", *report.Summary, want)
	}

	data, err := os.ReadFile(dump)
	if err != nil {
		t.Fatalf("Dump file should exist: %v", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("Dump is not JSON: %v", err)
	}
	if rs, ok := snap.Lookup("127.0.0.2", "zen.example"); !ok || len(rs) != 2 {
		t.Errorf("Dump should hold the A and TXT records, got %v", rs)
	}
	if rs, ok := snap.Lookup("127.0.0.1", "bl.example"); !ok || rs == nil || len(rs) != 0 {
		t.Errorf("Dump should hold an empty set for a clean zone, got %v (present=%v)", rs, ok)
	}
}

func TestCheckAllAndFailOnListed(t *testing.T) {
	clearEnv(t)
	addr := startDNS(t, listedZones)

	out, _, err := execute(t, "check",
		"--servers", addr,
		"--blacklists", "zen.example,bl.example",
		"--check-all",
		"--fail-on-listed",
		"-f", "json",
		"127.0.0.2",
	)
	if !errors.Is(err, errListed) {
		t.Fatalf("Expected errListed, got %v", err)
	}

	report := decodeReport(t, out)
	if got := len(report.Results[0].Details); got != 2 {
		t.Errorf("--check-all should query both zones, got %d", got)
	}
}

func TestCheckFallsThroughSilentServer(t *testing.T) {
	clearEnv(t)

	// Bound but never read, so every exchange with it runs to --timeout
	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to open socket: %v", err)
	}
	t.Cleanup(func() { silent.Close() })
	addr := startDNS(t, listedZones)

	out, _, err := execute(t, "check",
		"--servers", silent.LocalAddr().String()+","+addr,
		"--timeout", "300ms",
		"--retries", "2",
		"--blacklists", "zen.example",
		"--format", "json",
		"127.0.0.2",
	)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}

	result := decodeReport(t, out).Results[0]
	if !result.Listed || !reflect.DeepEqual(result.ListingBlacklists, []string{"zen.example"}) {
		t.Errorf("127.0.0.2 should be listed via the second server: %+v", result)
	}
}

func TestMergeConfigQueryTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("DNSBL_QUERY_TIMEOUT", "20s")

	c := newCLI()
	check, _, err := c.rootCmd().Find([]string{"check"})
	if err != nil {
		t.Fatalf("check command not found: %v", err)
	}

	cfg, err := c.mergeConfig(check)
	if err != nil {
		t.Fatalf("mergeConfig() error = %v", err)
	}
	if cfg.QueryTimeout != 20*time.Second {
		t.Errorf("QueryTimeout = %v, want 20s from the environment", cfg.QueryTimeout)
	}

	if err := check.ParseFlags([]string{"--query-timeout", "45s"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	if cfg, err = c.mergeConfig(check); err != nil {
		t.Fatalf("mergeConfig() error = %v", err)
	}
	if cfg.QueryTimeout != 45*time.Second {
		t.Errorf("QueryTimeout = %v, flag should win over environment", cfg.QueryTimeout)
	}
}

func TestCheckPreloadWithoutDNS(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	preload := filepath.Join(dir, "preload.json")
	outFile := filepath.Join(dir, "out.csv")

	snap := models.Snapshot{}
	snap.Set("192.0.2.10", "zen.example", models.RecordSet{models.NewARecord("10.2.0.192.zen.example", "IN", 60, "127.0.0.4")})
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := os.WriteFile(preload, data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, _, err = execute(t, "check",
		"--servers", deadServer(t),
		"--timeout", "200ms",
		"--retries", "1",
		"--blacklists", "zen.example",
		"--preload-file", preload,
		"--format", "csv",
		"--out", outFile,
		"192.0.2.10",
	)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}

	csv, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("Output file should exist: %v", err)
	}
	if !strings.Contains(string(csv), "192.0.2.10,dnsbl,zen.example,listed,") {
		t.Errorf("Unexpected CSV output:\n%s", csv)
	}
}

func TestCheckSURBL(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cctldFile := filepath.Join(dir, "two-level-tlds")
	if err := os.WriteFile(cctldFile, []byte("co.uk\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	addr := startDNS(t, map[string]mockdns.Zone{
		"spammer.co.uk.multi.example.": {A: []string{"127.0.0.2"}},
	})

	out, _, err := execute(t, "check",
		"--mode", "surbl",
		"--servers", addr,
		"--blacklists", "multi.example",
		"--cctld-source", cctldFile,
		"-f", "json",
		"http://www.spammer.co.uk/buy?now=1",
		"http://www.example.co.uk/",
	)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}

	report := decodeReport(t, out)
	if !report.Results[0].Listed {
		t.Errorf("spammer.co.uk should be listed: %+v", report.Results[0])
	}
	if report.Results[1].Listed {
		t.Errorf("example.co.uk should be clean: %+v", report.Results[1])
	}
	if report.Results[0].Mode != blacklist.ModeSURBL {
		t.Errorf("Mode = %q", report.Results[0].Mode)
	}
}
