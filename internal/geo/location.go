package geo

import (
	"net/netip"
	"strings"
)

// Location is a best-effort location descriptor.
type Location struct {
	City        string  `json:"city,omitempty"`
	Region      string  `json:"region,omitempty"`
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"countryCode,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lon         float64 `json:"lon,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
	ISP         string  `json:"isp,omitempty"`
	Display     string  `json:"display"`
}

// Display strings for the synthetic descriptors.
const (
	DisplayLocalNetwork = "Local Network"
	DisplayUnknown      = "Unknown"
)

// LocalNetwork is returned for addresses that never leave the LAN.
var LocalNetwork = Location{
	City:    "Local",
	Country: DisplayLocalNetwork,
	Display: DisplayLocalNetwork,
}

// Unknown is returned whenever a lookup cannot produce an answer.
var Unknown = Location{
	Display: DisplayUnknown,
}

// IsUnknown reports whether l carries no resolved location.
func (l Location) IsUnknown() bool {
	return l.Display == DisplayUnknown
}

// withDisplay fills Display from the named parts when the backend did not.
func (l Location) withDisplay() Location {
	if l.Display != "" {
		return l
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{l.City, l.Region, l.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		l.Display = DisplayUnknown
		return l
	}
	l.Display = strings.Join(parts, ", ")
	return l
}

// cgnat is the RFC 6598 shared address space used by carrier-grade NAT.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// IsLocal reports whether addr is private, loopback, link-local, shared
// (CGNAT) or unspecified. IPv4-mapped IPv6 addresses are unmapped first.
func IsLocal(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified() ||
		cgnat.Contains(addr)
}

// ParseAddress extracts an IP from the forms a client address arrives in:
// bare IPv4/IPv6, host:port, [v6]:port, and the ::ffff: mapped form.
func ParseAddress(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap(), true
	}
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	// Zones (fe80::1%eth0) are accepted by netip.ParseAddr.
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
