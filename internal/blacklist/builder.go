package blacklist

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/commjoen/dnsbl/internal/dns"
)

// Modes supported by the evaluator
const (
	ModeDNSBL = "dnsbl"
	ModeSURBL = "surbl"
)

// NameBuilder turns a candidate into the fully-qualified name to query in
// zone. It reports false when the candidate yields nothing to query, which
// is a normal outcome meaning not listed.
type NameBuilder interface {
	BuildLookupName(ctx context.Context, candidate, zone string) (string, bool)
	Mode() string
}

// HostResolver resolves a hostname to an IPv4 address
type HostResolver interface {
	LookupIPv4(ctx context.Context, hostname string) (string, error)
}

// SecondLevelChecker decides whether a two-label suffix such as co.uk needs
// a third label to form a registrable domain
type SecondLevelChecker interface {
	IsSecondLevel(ctx context.Context, suffix string) bool
}

// HostBuilder builds DNSBL names from a host name or IP address
type HostBuilder struct {
	resolver HostResolver
	log      *zap.SugaredLogger
}

// NewHostBuilder creates a DNSBL name builder. Host names are resolved
// with resolver; literal addresses are used as they are.
func NewHostBuilder(resolver HostResolver, log *zap.SugaredLogger) *HostBuilder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &HostBuilder{resolver: resolver, log: log}
}

// Mode returns ModeDNSBL
func (b *HostBuilder) Mode() string {
	return ModeDNSBL
}

// BuildLookupName returns the reversed address of candidate followed by zone
func (b *HostBuilder) BuildLookupName(ctx context.Context, candidate, zone string) (string, bool) {
	addr, ok := parseIP(candidate)
	if !ok {
		if b.resolver == nil {
			return "", false
		}
		ip, err := b.resolver.LookupIPv4(ctx, candidate)
		if err != nil {
			if dns.IsNotFound(err) {
				b.log.Debugw("host has no IPv4 address", "host", candidate)
			} else {
				b.log.Warnw("host resolution failed", "host", candidate, "error", err)
			}
			return "", false
		}
		addr, ok = parseIP(ip)
		if !ok || !addr.Is4() {
			return "", false
		}
	}
	return reverseAddr(addr) + "." + zone, true
}

// URLBuilder builds SURBL names from the host part of a URL
type URLBuilder struct {
	whitelist SecondLevelChecker
}

// NewURLBuilder creates a SURBL name builder. A nil whitelist behaves as
// an empty one.
func NewURLBuilder(whitelist SecondLevelChecker) *URLBuilder {
	return &URLBuilder{whitelist: whitelist}
}

// Mode returns ModeSURBL
func (b *URLBuilder) Mode() string {
	return ModeSURBL
}

// BuildLookupName extracts the URL host and returns either its reversed
// address or its registrable domain, followed by zone
func (b *URLBuilder) BuildLookupName(ctx context.Context, candidate, zone string) (string, bool) {
	host, ok := urlHost(candidate)
	if !ok {
		return "", false
	}

	if addr, ok := parseIP(host); ok {
		return reverseAddr(addr) + "." + zone, true
	}

	host2 := lastLabels(host, 2)
	host3 := lastLabels(host, 3)

	name := host2
	if b.whitelist != nil && b.whitelist.IsSecondLevel(ctx, host2) {
		name = host3
	}
	return name + "." + zone, true
}

// urlHost returns the percent-decoded host component of raw
func urlHost(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	// Hostname is already percent-decoded once by url.Parse
	host := strings.TrimSuffix(u.Hostname(), ".")
	if host == "" {
		return "", false
	}
	return host, true
}

// lastLabels returns the last n dot-separated labels of host, or host
// itself when it has fewer
func lastLabels(host string, n int) string {
	labels := strings.Split(host, ".")
	if len(labels) <= n {
		return host
	}
	return strings.Join(labels[len(labels)-n:], ".")
}
