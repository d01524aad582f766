// Package blacklist checks hosts and URLs against DNS-based blacklists
// (DNSBL for addresses, SURBL for URL hosts).
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/commjoen/dnsbl/internal/cache"
	"github.com/commjoen/dnsbl/pkg/models"
)

// DefaultDNSBLZones contains commonly used address blacklists
var DefaultDNSBLZones = []string{
	"zen.spamhaus.org",
	"bl.spamcop.net",
	"b.barracudacentral.org",
}

// DefaultSURBLZones contains commonly used URL blacklists
var DefaultSURBLZones = []string{
	"multi.surbl.org",
}

// Resolver returns the A and TXT records at a name. A missing name should
// yield an empty set; failures return an error.
type Resolver interface {
	LookupRecords(ctx context.Context, name string) (models.RecordSet, error)
}

// Config configures an Evaluator
type Config struct {
	// Blacklists is the ordered list of zones to query
	Blacklists []string
	// Builder selects DNSBL or SURBL name construction
	Builder NameBuilder
	// Resolver performs the zone queries
	Resolver Resolver
	// Cache configures preloading and the dump file
	Cache cache.Options
	// QueryTimeout bounds each zone query; zero means no extra bound
	QueryTimeout time.Duration
}

// ZoneResult is one zone's outcome
type ZoneResult struct {
	Zone    string
	Records models.RecordSet
}

// Details holds zone outcomes in configured order
type Details []ZoneResult

// Get returns the records for zone and whether zone was evaluated
func (d Details) Get(zone string) (models.RecordSet, bool) {
	for _, r := range d {
		if r.Zone == zone {
			return r.Records, true
		}
	}
	return nil, false
}

// Listed reports whether any evaluated zone returned records
func (d Details) Listed() bool {
	for _, r := range d {
		if r.Records.Listed() {
			return true
		}
	}
	return false
}

// ListingZones returns the zones that returned records, in order
func (d Details) ListingZones() []string {
	zones := []string{}
	for _, r := range d {
		if r.Records.Listed() {
			zones = append(zones, r.Zone)
		}
	}
	return zones
}

// Evaluator queries the configured zones for a candidate
type Evaluator struct {
	mu    sync.RWMutex
	zones []string

	builder  NameBuilder
	resolver Resolver
	cache    *cache.Cache
	timeout  time.Duration

	log     *zap.SugaredLogger
	metrics *Metrics
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithLogger sets the evaluator logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Evaluator) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics sets the collectors the evaluator reports to
func WithMetrics(m *Metrics) Option {
	return func(e *Evaluator) {
		if m != nil {
			e.metrics = m
		}
	}
}

// New creates an evaluator and loads its cache
func New(cfg Config, opts ...Option) (*Evaluator, error) {
	if cfg.Builder == nil {
		return nil, errors.New("blacklist: name builder is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("blacklist: resolver is required")
	}

	e := &Evaluator{
		builder:  cfg.Builder,
		resolver: cfg.Resolver,
		timeout:  cfg.QueryTimeout,
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}

	cacheOpts := cfg.Cache
	if cacheOpts.Logger == nil {
		cacheOpts.Logger = e.log
	}
	c, err := cache.New(cacheOpts)
	if err != nil {
		return nil, fmt.Errorf("blacklist: %w", err)
	}
	e.cache = c

	e.SetBlacklists(cfg.Blacklists)
	return e, nil
}

// Mode returns the name builder's mode
func (e *Evaluator) Mode() string {
	return e.builder.Mode()
}

// SetBlacklists replaces the zone list. An empty list is allowed.
func (e *Evaluator) SetBlacklists(zones []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.zones = append([]string(nil), zones...)
}

// Blacklists returns the configured zones
func (e *Evaluator) Blacklists() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.zones...)
}

// Cache returns the evaluator's record cache
func (e *Evaluator) Cache() *cache.Cache {
	return e.cache
}

// Details evaluates the zones in order and stops after the first listing
// zone unless checkAll is set. Zones after an early stop are not included.
func (e *Evaluator) Details(ctx context.Context, candidate string, checkAll bool) (Details, error) {
	if err := validateCandidate(candidate); err != nil {
		return nil, err
	}

	zones := e.Blacklists()
	details := make(Details, 0, len(zones))
	for _, zone := range zones {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		records := e.zoneRecords(ctx, candidate, zone)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		details = append(details, ZoneResult{Zone: zone, Records: records})

		if records.Listed() {
			e.metrics.listings.WithLabelValues(zone).Inc()
			if !checkAll {
				break
			}
		}
	}
	return details, nil
}

// IsListed reports whether any zone lists candidate. Invalid candidates and
// canceled evaluations are reported as not listed.
func (e *Evaluator) IsListed(ctx context.Context, candidate string, checkAll bool) bool {
	details, err := e.Details(ctx, candidate, checkAll)
	if err != nil {
		e.log.Debugw("treating candidate as not listed", "candidate", candidate, "error", err)
		return false
	}
	return details.Listed()
}

// ListingBlacklists evaluates every zone and returns those listing candidate
func (e *Evaluator) ListingBlacklists(ctx context.Context, candidate string) []string {
	details, err := e.Details(ctx, candidate, true)
	if err != nil {
		e.log.Debugw("treating candidate as not listed", "candidate", candidate, "error", err)
		return []string{}
	}
	return details.ListingZones()
}

// Check evaluates candidate and returns a printable verdict
func (e *Evaluator) Check(ctx context.Context, candidate string, checkAll bool) models.CheckResult {
	result := models.CheckResult{
		Candidate:         candidate,
		Mode:              e.Mode(),
		ListingBlacklists: []string{},
	}

	details, err := e.Details(ctx, candidate, checkAll)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Listed = details.Listed()
	result.ListingBlacklists = details.ListingZones()
	result.Details = make([]models.ZoneDetail, 0, len(details))
	for _, d := range details {
		result.Details = append(result.Details, models.ZoneDetail{
			Zone:    d.Zone,
			Records: d.Records,
			Listed:  d.Records.Listed(),
			Reasons: DescribeRecords(d.Zone, d.Records),
		})
	}
	return result
}

// zoneRecords resolves one zone for candidate: cache first, then a live
// query whose outcome is recorded. Names that cannot be built are not
// recorded, so they are retried on the next call.
func (e *Evaluator) zoneRecords(ctx context.Context, candidate, zone string) models.RecordSet {
	if records, ok := e.cache.Lookup(candidate, zone); ok {
		e.metrics.queries.WithLabelValues(zone, sourceCache).Inc()
		return records
	}

	name, ok := e.builder.BuildLookupName(ctx, candidate, zone)
	if !ok {
		e.metrics.queries.WithLabelValues(zone, sourceNoLookup).Inc()
		e.log.Debugw("no lookup name", "candidate", candidate, "zone", zone)
		return nil
	}

	qctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.metrics.queries.WithLabelValues(zone, sourceDNS).Inc()
	records, err := e.resolver.LookupRecords(qctx, name)
	if err != nil {
		if ctx.Err() != nil {
			// canceled by the caller, not an answer from the zone
			return nil
		}
		e.metrics.resolverErrors.WithLabelValues(zone).Inc()
		e.log.Debugw("zone query failed", "name", name, "zone", zone, "error", err)
		records = nil
	}

	if err := e.cache.Record(candidate, zone, records); err != nil {
		e.metrics.persistenceFailures.Inc()
		e.log.Warnw("cannot persist query result", "candidate", candidate, "zone", zone, "error", err)
	}
	return records
}

// validateCandidate rejects subjects that cannot name a host or URL
func validateCandidate(candidate string) error {
	if strings.TrimSpace(candidate) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCandidate)
	}
	if !utf8.ValidString(candidate) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidCandidate)
	}
	if strings.IndexFunc(candidate, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: contains control characters", ErrInvalidCandidate)
	}
	return nil
}
