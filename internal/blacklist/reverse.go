package blacklist

import (
	"fmt"
	"net/netip"
	"strings"
)

const hexDigits = "0123456789abcdef"

// parseIP parses a literal IPv4 or IPv6 address, optionally bracketed.
// Zoned IPv6 addresses are rejected.
func parseIP(s string) (netip.Addr, bool) {
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		s = s[1 : len(s)-1]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || addr.Zone() != "" {
		return netip.Addr{}, false
	}
	return addr, true
}

// ReverseIP returns the label-reversed form of ip used as a DNSBL query
// prefix: 127.0.0.1 becomes 1.0.0.127, IPv6 addresses become 32 reversed
// nibbles. Brackets around the address are ignored.
func ReverseIP(ip string) (string, error) {
	addr, ok := parseIP(ip)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
	}
	return reverseAddr(addr), nil
}

func reverseAddr(addr netip.Addr) string {
	var sb strings.Builder

	if addr.Is4() {
		b := addr.As4()
		for i := len(b) - 1; i >= 0; i-- {
			fmt.Fprintf(&sb, "%d", b[i])
			if i > 0 {
				sb.WriteByte('.')
			}
		}
		return sb.String()
	}

	b := addr.As16()
	sb.Grow(63)
	for i := len(b) - 1; i >= 0; i-- {
		sb.WriteByte(hexDigits[b[i]&0x0f])
		sb.WriteByte('.')
		sb.WriteByte(hexDigits[b[i]>>4])
		if i > 0 {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}
