// Package dns provides the blacklist zone resolver built on miekg/dns
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/commjoen/dnsbl/pkg/models"
)

const (
	defaultTimeout = 5 * time.Second
	defaultRetries = 2
	retryBackoff   = 250 * time.Millisecond

	// ednsBufferSize is advertised so long TXT answers fit in one datagram
	ednsBufferSize = 4096
)

// ErrNoAddress is returned by LookupIPv4 when a name has no A records
var ErrNoAddress = errors.New("no IPv4 address")

// Client queries blacklist zones over UDP with retry logic
type Client struct {
	dnsServers []string
	timeout    time.Duration
	retries    int
	net        string
}

// Option configures a Client
type Option func(*Client)

// WithServers overrides the resolv.conf servers. Entries without a port get :53.
func WithServers(servers []string) Option {
	return func(c *Client) {
		if len(servers) > 0 {
			c.dnsServers = normalizeServers(servers)
		}
	}
}

// WithRetries sets how many rounds over all servers are attempted
func WithRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithTCP makes the client query over TCP instead of UDP
func WithTCP() Option {
	return func(c *Client) {
		c.net = "tcp"
	}
}

// NewClient creates a new DNS client with the specified per-exchange timeout
func NewClient(timeout time.Duration, opts ...Option) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		timeout:    timeout,
		retries:    defaultRetries,
		dnsServers: getSystemDNSServers(),
		net:        "udp",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Servers returns the servers queried, in order
func (c *Client) Servers() []string {
	return append([]string(nil), c.dnsServers...)
}

// MaxLookupDuration bounds a LookupRecords call that walks every retry round
// over every server, including the backoff between rounds. Callers that put
// a deadline on a lookup should allow at least this much.
func (c *Client) MaxLookupDuration() time.Duration {
	var round time.Duration
	for attempt := 0; attempt < c.retries; attempt++ {
		round += c.timeout * time.Duration(len(c.dnsServers))
		if attempt < c.retries-1 {
			round += time.Duration(attempt+1) * retryBackoff
		}
	}
	// A then TXT
	return 2 * round
}

// getSystemDNSServers returns the system's DNS servers or defaults
func getSystemDNSServers() []string {
	config, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		// Fall back to well-known public DNS servers
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	return normalizeServers(config.Servers)
}

func normalizeServers(in []string) []string {
	servers := make([]string, 0, len(in))
	for _, server := range in {
		server = strings.TrimSpace(server)
		if server == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(strings.Trim(server, "[]"), "53")
		}
		servers = append(servers, server)
	}
	return servers
}

// LookupRecords returns the A and TXT records published at name.
//
// A name that does not exist yields an empty, non-nil set. Any other
// failure yields a nil set and an error.
func (c *Client) LookupRecords(ctx context.Context, name string) (models.RecordSet, error) {
	records := models.RecordSet{}

	for _, qtype := range []uint16{dns.TypeA, dns.TypeTXT} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(name), qtype)
		msg.SetEdns0(ednsBufferSize, false)

		resp, err := c.query(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %s: %w", dns.TypeToString[qtype], name, categorizeError(err), err)
		}

		records = append(records, convertAnswers(resp.Answer)...)
		if resp.Rcode == dns.RcodeNameError {
			break
		}
	}

	return records, nil
}

// LookupIPv4 resolves hostname to its first IPv4 address
func (c *Client) LookupIPv4(ctx context.Context, hostname string) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(hostname), dns.TypeA)
	msg.SetEdns0(ednsBufferSize, false)

	resp, err := c.query(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("A %s: %s: %w", hostname, categorizeError(err), err)
	}

	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A.String(), nil
		}
	}

	return "", fmt.Errorf("%s: %w", hostname, ErrNoAddress)
}

// convertAnswers keeps the A and TXT answers, in wire order
func convertAnswers(answers []dns.RR) models.RecordSet {
	var out models.RecordSet
	for _, ans := range answers {
		hdr := ans.Header()
		host := strings.TrimSuffix(hdr.Name, ".")
		class := dns.ClassToString[hdr.Class]

		switch rr := ans.(type) {
		case *dns.A:
			out = append(out, models.NewARecord(host, class, hdr.Ttl, rr.A.String()))
		case *dns.TXT:
			out = append(out, models.NewTXTRecord(host, class, hdr.Ttl, rr.Txt))
		}
	}
	return out
}

// query performs a DNS query with retry logic
func (c *Client) query(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	client := &dns.Client{
		Timeout: c.timeout,
		Net:     c.net,
	}

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		for _, server := range c.dnsServers {
			resp, _, err := client.ExchangeContext(ctx, msg, server)
			if err == nil && resp.Truncated && client.Net != "tcp" {
				resp, err = c.exchangeTCP(ctx, msg, server)
			}
			if err != nil {
				lastErr = err
				continue
			}

			// NXDOMAIN is an answer for a blacklist: not listed
			if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
				lastErr = fmt.Errorf("DNS error: %s", dns.RcodeToString[resp.Rcode])
				continue
			}

			return resp, nil
		}

		// Wait before retry (except for last attempt)
		if attempt < c.retries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * retryBackoff):
			}
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("DNS query failed after %d attempts: %w", c.retries, lastErr)
	}
	return nil, fmt.Errorf("DNS query failed after %d attempts", c.retries)
}

// exchangeTCP repeats a truncated UDP exchange against the same server
func (c *Client) exchangeTCP(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, error) {
	client := &dns.Client{
		Timeout: c.timeout,
		Net:     "tcp",
	}
	resp, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, fmt.Errorf("TCP retry after truncated reply: %w", err)
	}
	return resp, nil
}

// isNotFoundError checks if the error indicates no records were found
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoAddress) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "NXDOMAIN") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "Name Error")
}

// IsNotFound reports whether err means the name simply has no data
func IsNotFound(err error) bool {
	return isNotFoundError(err)
}

// categorizeError converts DNS errors to user-friendly messages
func categorizeError(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	// Check for common error patterns
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "DNS query timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "DNS query timeout"
	}

	switch {
	case strings.Contains(errStr, "NXDOMAIN"):
		return "domain not found (NXDOMAIN)"
	case strings.Contains(errStr, "SERVFAIL"):
		return "server failure (SERVFAIL)"
	case strings.Contains(errStr, "REFUSED"):
		return "query refused"
	case strings.Contains(errStr, "no such host"):
		return "host not found"
	case strings.Contains(errStr, "i/o timeout"):
		return "DNS query timeout"
	case strings.Contains(errStr, "connection refused"):
		return "DNS server connection refused"
	default:
		return errStr
	}
}
