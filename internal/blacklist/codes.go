package blacklist

import (
	"strings"

	"github.com/commjoen/dnsbl/pkg/models"
)

// spamhausCodes maps ZEN and DBL return addresses to their list
var spamhausCodes = map[string]string{
	"127.0.0.2":   "SBL - Spamhaus Block List",
	"127.0.0.3":   "SBL CSS - Spamhaus Block List CSS",
	"127.0.0.4":   "XBL - Exploits Block List",
	"127.0.0.9":   "SBL DROP - Spamhaus DROP/EDROP",
	"127.0.0.10":  "PBL - Policy Block List (ISP)",
	"127.0.0.11":  "PBL - Policy Block List (Spamhaus)",
	"127.0.1.2":   "DBL - spam domain",
	"127.0.1.4":   "DBL - phishing domain",
	"127.0.1.5":   "DBL - malware domain",
	"127.0.1.6":   "DBL - botnet C&C domain",
	"127.0.1.102": "DBL - abused legit spam",
	"127.0.1.103": "DBL - abused redirector",
	"127.0.1.104": "DBL - abused legit phish",
	"127.0.1.105": "DBL - abused legit malware",
	"127.0.1.106": "DBL - abused legit botnet",
}

// surblBits are the sub-lists encoded in the last octet of a multi.surbl.org answer
var surblBits = []struct {
	bit  int
	name string
}{
	{8, "PH - phishing"},
	{16, "MW - malware"},
	{64, "ABUSE - spam"},
	{128, "CR - cracked sites"},
}

// DescribeRecords returns human-readable reasons for the A records in rs.
// TXT records are returned as they are. Unknown codes are reported by value.
func DescribeRecords(zone string, rs models.RecordSet) []string {
	var reasons []string
	for _, r := range rs {
		switch r.Type {
		case models.TypeA:
			reasons = append(reasons, describeCode(zone, r.IP)...)
		case models.TypeTXT:
			if r.TXT != "" {
				reasons = append(reasons, r.TXT)
			}
		}
	}
	return reasons
}

func describeCode(zone, ip string) []string {
	switch {
	case strings.HasSuffix(zone, "spamhaus.org"):
		if d, ok := spamhausCodes[ip]; ok {
			return []string{d}
		}
	case strings.HasSuffix(zone, "surbl.org"):
		if names := surblNames(ip); len(names) > 0 {
			return names
		}
	}
	return []string{"listed (code: " + ip + ")"}
}

func surblNames(ip string) []string {
	addr, ok := parseIP(ip)
	if !ok || !addr.Is4() {
		return nil
	}
	last := int(addr.As4()[3])
	var names []string
	for _, b := range surblBits {
		if last&b.bit != 0 {
			names = append(names, b.name)
		}
	}
	return names
}
