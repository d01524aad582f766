package cctld

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultFetchTimeout = 30 * time.Second
	maxListSize         = 4 << 20
	userAgent           = "dnsbl-cctld/1.0"
)

//go:embed two-level-tlds.txt
var bundledList string

// Source produces the set of whitelisted two-label suffixes
type Source interface {
	Load(ctx context.Context) (map[string]struct{}, error)
}

// Parse reads a newline-delimited suffix list. Blank lines and lines
// starting with # are skipped; surrounding whitespace is trimmed.
func Parse(r io.Reader) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// StaticSource is an application-supplied set
type StaticSource map[string]struct{}

// NewStaticSource builds a StaticSource from a list of suffixes
func NewStaticSource(suffixes ...string) StaticSource {
	s := make(StaticSource, len(suffixes))
	for _, suffix := range suffixes {
		s[suffix] = struct{}{}
	}
	return s
}

// Load returns a copy of the set
func (s StaticSource) Load(_ context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out, nil
}

// BundledSource is the list shipped with the binary
type BundledSource struct{}

// Load parses the bundled list
func (BundledSource) Load(_ context.Context) (map[string]struct{}, error) {
	return Parse(strings.NewReader(bundledList))
}

// FileSource reads the list from a local file
type FileSource struct {
	Path string
}

// Load reads and parses the file
func (s FileSource) Load(_ context.Context) (map[string]struct{}, error) {
	// #nosec G304 -- whitelist path is operator configuration
	f, err := os.Open(filepath.Clean(s.Path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// HTTPSource fetches the list from a URL
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Load downloads and parses the list
func (s HTTPSource) Load(ctx context.Context) (map[string]struct{}, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, s.URL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxListSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read list: %w", err)
	}
	if len(data) > maxListSize {
		return nil, fmt.Errorf("list from %s exceeds %d bytes", s.URL, maxListSize)
	}
	return Parse(bytes.NewReader(data))
}

// SourceFor picks a source from a configuration string: empty means the
// bundled list, values starting with "http" are fetched, anything else is
// a file path.
func SourceFor(location string) Source {
	location = strings.TrimSpace(location)
	switch {
	case location == "":
		return BundledSource{}
	case strings.HasPrefix(strings.ToLower(location), "http"):
		return HTTPSource{URL: location}
	default:
		return FileSource{Path: location}
	}
}
