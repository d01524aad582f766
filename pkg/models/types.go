// Package models contains shared data structures used across the application
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Record types returned by blacklist zones
const (
	TypeA   = "A"
	TypeTXT = "TXT"
)

// Record is a single resource record returned by a blacklist zone.
//
// The JSON form depends on Type: A records carry "ip", TXT records carry
// "txt" and "entries". This shape is shared by the dump file and preloads.
type Record struct {
	Host    string   `json:"host"`
	Class   string   `json:"class"`
	TTL     uint32   `json:"ttl"`
	Type    string   `json:"type"`
	IP      string   `json:"ip,omitempty"`
	TXT     string   `json:"txt,omitempty"`
	Entries []string `json:"entries,omitempty"`
}

type aRecordJSON struct {
	Host  string `json:"host"`
	Class string `json:"class"`
	TTL   uint32 `json:"ttl"`
	Type  string `json:"type"`
	IP    string `json:"ip"`
}

type txtRecordJSON struct {
	Host    string   `json:"host"`
	Class   string   `json:"class"`
	TTL     uint32   `json:"ttl"`
	Type    string   `json:"type"`
	TXT     string   `json:"txt"`
	Entries []string `json:"entries"`
}

// NewARecord creates an A record
func NewARecord(host, class string, ttl uint32, ip string) Record {
	return Record{Host: host, Class: class, TTL: ttl, Type: TypeA, IP: ip}
}

// NewTXTRecord creates a TXT record from its character strings
func NewTXTRecord(host, class string, ttl uint32, entries []string) Record {
	e := make([]string, len(entries))
	copy(e, entries)
	return Record{
		Host:    host,
		Class:   class,
		TTL:     ttl,
		Type:    TypeTXT,
		TXT:     strings.Join(entries, ""),
		Entries: e,
	}
}

// MarshalJSON writes the type-specific record shape
func (r Record) MarshalJSON() ([]byte, error) {
	switch r.Type {
	case TypeA:
		return json.Marshal(aRecordJSON{Host: r.Host, Class: r.Class, TTL: r.TTL, Type: r.Type, IP: r.IP})
	case TypeTXT:
		entries := r.Entries
		if entries == nil {
			entries = []string{}
		}
		return json.Marshal(txtRecordJSON{Host: r.Host, Class: r.Class, TTL: r.TTL, Type: r.Type, TXT: r.TXT, Entries: entries})
	default:
		type plain Record
		return json.Marshal(plain(r))
	}
}

// RecordSet is the outcome of one zone query.
//
// A nil RecordSet means no data (the query failed or was never answered).
// An empty non-nil RecordSet means the zone answered with nothing.
// Both classify as not listed.
type RecordSet []Record

// Listed reports whether the set holds at least one record
func (rs RecordSet) Listed() bool {
	return len(rs) > 0
}

// Clone returns a copy that preserves the nil/empty distinction
func (rs RecordSet) Clone() RecordSet {
	if rs == nil {
		return nil
	}
	out := make(RecordSet, len(rs))
	copy(out, rs)
	return out
}

// Snapshot maps candidate identity to zone to record set. It is the
// in-memory and on-disk form of the query cache.
type Snapshot map[string]map[string]RecordSet

// Lookup returns the entry for candidate and zone. The boolean is false
// when the pair was never recorded.
func (s Snapshot) Lookup(candidate, zone string) (RecordSet, bool) {
	zones, ok := s[candidate]
	if !ok {
		return nil, false
	}
	rs, ok := zones[zone]
	return rs, ok
}

// Set stores rs for candidate and zone
func (s Snapshot) Set(candidate, zone string, rs RecordSet) {
	zones, ok := s[candidate]
	if !ok {
		zones = make(map[string]RecordSet)
		s[candidate] = zones
	}
	zones[zone] = rs
}

// Clone returns a deep copy of the snapshot
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for candidate, zones := range s {
		cz := make(map[string]RecordSet, len(zones))
		for zone, rs := range zones {
			cz[zone] = rs.Clone()
		}
		out[candidate] = cz
	}
	return out
}

// ZoneDetail is one zone's outcome in a check result
type ZoneDetail struct {
	Zone    string    `json:"zone"`
	Records RecordSet `json:"records"`
	Listed  bool      `json:"listed"`
	Reasons []string  `json:"reasons,omitempty"`
}

// CheckResult is the evaluated verdict for one candidate
type CheckResult struct {
	Candidate         string       `json:"candidate"`
	Mode              string       `json:"mode"`
	Listed            bool         `json:"listed"`
	ListingBlacklists []string     `json:"listing_blacklists"`
	Details           []ZoneDetail `json:"details,omitempty"`
	Error             string       `json:"error,omitempty"`
}

// CheckReport is the top-level result structure
type CheckReport struct {
	Timestamp time.Time     `json:"timestamp"`
	Results   []CheckResult `json:"results"`
	Summary   *CheckSummary `json:"summary"`
}

// NewCheckReport wraps results and computes their summary
func NewCheckReport(ts time.Time, results []CheckResult) *CheckReport {
	summary := &CheckSummary{TotalCandidates: len(results)}
	for _, r := range results {
		switch {
		case r.Error != "":
			summary.Invalid++
		case r.Listed:
			summary.Listed++
		default:
			summary.Clean++
		}
	}
	return &CheckReport{Timestamp: ts, Results: results, Summary: summary}
}

// CheckSummary provides aggregate statistics
type CheckSummary struct {
	TotalCandidates int `json:"total_candidates"`
	Listed          int `json:"listed"`
	Clean           int `json:"clean"`
	Invalid         int `json:"invalid"`
}
