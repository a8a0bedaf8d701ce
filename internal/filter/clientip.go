package filter

import (
	"net/netip"
	"strings"

	"traefiklens/internal/logrecord"
)

const (
	headerCFConnectingIP = "CF-Connecting-IP"
	headerXRealIP        = "X-Real-IP"
	headerXForwardedFor  = "X-Forwarded-For"
)

// ResolveClientIP returns the real client address of a record. Enabled proxy
// headers are checked in fixed order (Cloudflare, X-Real-IP, X-Forwarded-For,
// then custom headers in list order) and the first one present wins.
// Without any, the record's own client host is used.
func ResolveClientIP(rec *logrecord.Record, proxy ProxySettings) string {
	if proxy.EnableCFHeaders {
		if ip, ok := rec.Headers.Get(headerCFConnectingIP); ok {
			return ip
		}
	}

	if proxy.EnableXRealIP {
		if ip, ok := rec.Headers.Get(headerXRealIP); ok {
			return ip
		}
	}

	if proxy.EnableXForwardedFor {
		if chain, ok := rec.Headers.Get(headerXForwardedFor); ok {
			// Proxies append, so the first hop is the original client
			first, _, _ := strings.Cut(chain, ",")
			return strings.TrimSpace(first)
		}
	}

	for _, name := range proxy.CustomHeaders {
		if ip, ok := rec.Headers.Get(name); ok {
			return ip
		}
	}

	return rec.ClientIP()
}

var privateIPv4 = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
}

// IsPrivateIPv4 reports whether ip is in 10/8, 172.16/12, 192.168/16 or
// 127/8. IPv6 addresses, including ::1 and fc00::/7, are never private here.
func IsPrivateIPv4(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil || !addr.Is4() {
		return false
	}
	for _, prefix := range privateIPv4 {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
