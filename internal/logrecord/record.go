package logrecord

import (
	"net"
	"net/textproto"
	"strings"
	"time"
)

// MaxBuffered is the number of records a dashboard session keeps in memory
// and the number of records a snapshot is computed over.
const MaxBuffered = 1000

// Record is one Traefik access-log entry. Records are created by the parser
// and never modified afterwards.
type Record struct {
	ClientAddr            string `json:"ClientAddr"`
	ClientHost            string `json:"ClientHost"`
	ClientPort            string `json:"ClientPort"`
	ClientUsername        string `json:"ClientUsername"`
	DownstreamContentSize int64  `json:"DownstreamContentSize"`
	DownstreamStatus      int    `json:"DownstreamStatus"`
	Duration              int64  `json:"Duration"` // nanoseconds
	OriginContentSize     int64  `json:"OriginContentSize"`
	OriginDuration        int64  `json:"OriginDuration"` // nanoseconds
	OriginStatus          int    `json:"OriginStatus"`
	Overhead              int64  `json:"Overhead"` // nanoseconds
	RequestAddr           string `json:"RequestAddr"`
	RequestContentSize    int64  `json:"RequestContentSize"`
	RequestCount          int    `json:"RequestCount"`
	RequestHost           string `json:"RequestHost"`
	RequestMethod         string `json:"RequestMethod"`
	RequestPath           string `json:"RequestPath"`
	RequestPort           string `json:"RequestPort"`
	RequestProtocol       string `json:"RequestProtocol"`
	RequestScheme         string `json:"RequestScheme"`
	RetryAttempts         int    `json:"RetryAttempts"`
	RouterName            string `json:"RouterName"`
	ServiceAddr           string `json:"ServiceAddr"`
	ServiceName           string `json:"ServiceName"`
	ServiceURL            string `json:"ServiceURL"`
	StartLocal            string `json:"StartLocal"`
	StartUTC              string `json:"StartUTC"`
	EntryPointName        string `json:"entryPointName"`
	RequestReferer        string `json:"request_Referer"`
	RequestUserAgent      string `json:"request_User_Agent"`

	// Headers holds forwarded request headers (CF-Connecting-IP, X-Real-IP,
	// X-Forwarded-For, custom ones) keyed by canonical header name.
	Headers Headers `json:"headers,omitempty"`
}

// Timestamp returns the request start time. StartUTC is preferred, StartLocal
// is used when StartUTC is missing. ok is false when neither parses.
func (r *Record) Timestamp() (t time.Time, ok bool) {
	for _, raw := range []string{r.StartUTC, r.StartLocal} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ClientIP returns the client host, falling back to ClientAddr without its port.
func (r *Record) ClientIP() string {
	if r.ClientHost != "" {
		return r.ClientHost
	}
	return StripPort(r.ClientAddr)
}

// DurationMillis returns the total request duration in milliseconds.
func (r *Record) DurationMillis() float64 {
	return float64(r.Duration) / float64(time.Millisecond)
}

// StripPort removes a trailing :port from an address. Bare IPv4 and IPv6
// addresses are returned unchanged.
func StripPort(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]")
	}
	return host
}

// Headers is a side map of forwarded request headers.
type Headers map[string]string

// CanonicalHeader normalizes a header name as it appears in Traefik field
// names ("request_X_Real_IP", "x-real-ip") to its canonical form.
// Names with characters that are invalid in a header are returned as-is
// and will simply never match.
func CanonicalHeader(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "_", "-")
	return textproto.CanonicalMIMEHeaderKey(name)
}

// Get returns the value of a header and whether it is present and non-empty.
func (h Headers) Get(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h[CanonicalHeader(name)]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Set stores a header value under its canonical name.
func (h Headers) Set(name, value string) {
	h[CanonicalHeader(name)] = value
}
