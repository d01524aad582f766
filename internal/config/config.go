// Package config loads runtime settings from the environment
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/commjoen/dnsbl/internal/blacklist"
)

// Config holds the settings shared by the check and serve commands
type Config struct {
	Mode        string
	Blacklists  []string
	DumpFile    string
	PreloadFile string
	CCTLDSource string
	Servers     []string
	Timeout     time.Duration
	Retries     int
	Concurrent  int
	Format      string
	HTTPAddr    string

	// QueryTimeout bounds one zone lookup; zero derives it from the client
	QueryTimeout time.Duration
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		Mode:       blacklist.ModeDNSBL,
		Timeout:    5 * time.Second,
		Retries:    2,
		Concurrent: 10,
		Format:     "text",
		HTTPAddr:   ":8080",
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// FromEnv applies DNSBL_* environment variables on top of Default
func FromEnv() (Config, error) {
	cfg := Default()

	cfg.Mode = strings.ToLower(getenv("DNSBL_MODE", cfg.Mode))
	cfg.Blacklists = SplitList(os.Getenv("DNSBL_BLACKLISTS"))
	cfg.DumpFile = os.Getenv("DNSBL_DUMP_FILE")
	cfg.PreloadFile = os.Getenv("DNSBL_PRELOAD_FILE")
	cfg.CCTLDSource = os.Getenv("DNSBL_CCTLD_SOURCE")
	cfg.Servers = SplitList(os.Getenv("DNSBL_SERVERS"))
	cfg.Format = getenv("DNSBL_FORMAT", cfg.Format)
	cfg.HTTPAddr = getenv("DNSBL_HTTP_ADDR", cfg.HTTPAddr)

	timeoutStr := getenv("DNSBL_TIMEOUT", cfg.Timeout.String())
	d, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DNSBL_TIMEOUT=%q: %w", timeoutStr, err)
	}
	cfg.Timeout = d

	if v := os.Getenv("DNSBL_QUERY_TIMEOUT"); v != "" {
		if cfg.QueryTimeout, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("invalid DNSBL_QUERY_TIMEOUT=%q: %w", v, err)
		}
	}

	if cfg.Retries, err = getenvInt("DNSBL_RETRIES", cfg.Retries); err != nil {
		return Config{}, err
	}
	if cfg.Concurrent, err = getenvInt("DNSBL_CONCURRENT", cfg.Concurrent); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}

// Validate checks value ranges
func (c Config) Validate() error {
	switch c.Mode {
	case blacklist.ModeDNSBL, blacklist.ModeSURBL:
	default:
		return fmt.Errorf("unsupported mode %q (use %s or %s)", c.Mode, blacklist.ModeDNSBL, blacklist.ModeSURBL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.QueryTimeout < 0 {
		return fmt.Errorf("query timeout must not be negative, got %s", c.QueryTimeout)
	}
	if c.Retries < 1 {
		return fmt.Errorf("retries must be at least 1, got %d", c.Retries)
	}
	if c.Concurrent < 1 {
		return fmt.Errorf("concurrent must be at least 1, got %d", c.Concurrent)
	}
	return nil
}

// Zones returns the configured blacklists, or the mode's defaults when none are set
func (c Config) Zones() []string {
	if len(c.Blacklists) > 0 {
		return c.Blacklists
	}
	if c.Mode == blacklist.ModeSURBL {
		return blacklist.DefaultSURBLZones
	}
	return blacklist.DefaultDNSBLZones
}

// SplitList splits a comma-separated value, dropping blanks
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
