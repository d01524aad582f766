package blacklist

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "dnsbl"

	sourceCache    = "cache"
	sourceDNS      = "dns"
	sourceNoLookup = "unresolvable"
)

// Metrics holds the evaluator's Prometheus collectors
type Metrics struct {
	queries             *prometheus.CounterVec
	listings            *prometheus.CounterVec
	resolverErrors      *prometheus.CounterVec
	persistenceFailures prometheus.Counter
}

// NewMetrics creates the evaluator collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_queries_total",
			Help:      "Zone evaluations by result source (cache, dns, unresolvable).",
		}, []string{"zone", "source"}),
		listings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_total",
			Help:      "Zone evaluations that found the candidate listed.",
		}, []string{"zone"}),
		resolverErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_errors_total",
			Help:      "DNS queries that failed and were treated as not listed.",
		}, []string{"zone"}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_persistence_failures_total",
			Help:      "Failed writes of the cache dump file.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.queries, m.listings, m.resolverErrors, m.persistenceFailures)
	}
	return m
}
