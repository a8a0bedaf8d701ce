package metrics

import (
	"traefiklens/internal/geo"
	"traefiklens/internal/logrecord"
)

const (
	topN           = 10
	topUserAgents  = 12
	maxErrors      = 50
	timelinePoints = 20
)

// RequestMetrics summarises request volume
type RequestMetrics struct {
	Total     int     `json:"total"`
	PerSecond float64 `json:"perSecond"`
	Change    float64 `json:"change"` // percent vs previous snapshot
}

// ResponseTimeMetrics summarises latency in milliseconds
type ResponseTimeMetrics struct {
	Average float64 `json:"average"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
	Change  float64 `json:"change"` // percent vs previous snapshot
}

// StatusCodeMetrics counts responses per status class
type StatusCodeMetrics struct {
	Status2xx int     `json:"status2xx"`
	Status3xx int     `json:"status3xx"`
	Status4xx int     `json:"status4xx"`
	Status5xx int     `json:"status5xx"`
	ErrorRate float64 `json:"errorRate"`
}

type RouteMetrics struct {
	Path        string  `json:"path"`
	Method      string  `json:"method"`
	Count       int     `json:"count"`
	AvgDuration float64 `json:"avgDuration"`
	ErrorRate   float64 `json:"errorRate"`
}

type BackendMetrics struct {
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	Requests    int     `json:"requests"`
	AvgDuration float64 `json:"avgDuration"`
	ErrorRate   float64 `json:"errorRate"`
}

type RouterMetrics struct {
	Name        string  `json:"name"`
	Service     string  `json:"service"`
	Requests    int     `json:"requests"`
	AvgDuration float64 `json:"avgDuration"`
	ErrorRate   float64 `json:"errorRate"`
}

type AddressMetric struct {
	Addr  string `json:"addr"`
	Count int    `json:"count"`
}

type HostMetric struct {
	Host  string `json:"host"`
	Count int    `json:"count"`
}

type ClientMetric struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

type UserAgentMetrics struct {
	Browser    string  `json:"browser"`
	UserAgent  string  `json:"userAgent"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// TimeSeriesPoint is one timeline bucket
type TimeSeriesPoint struct {
	Timestamp string `json:"timestamp"`
	Value     int    `json:"value"`
	Label     string `json:"label"`
}

// ErrorLog is a recent 4xx/5xx response
type ErrorLog struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Snapshot is everything the dashboard renders. A snapshot is never
// modified once published; the next one replaces it.
type Snapshot struct {
	Requests            RequestMetrics      `json:"requests"`
	ResponseTime        ResponseTimeMetrics `json:"responseTime"`
	StatusCodes         StatusCodeMetrics   `json:"statusCodes"`
	TopRoutes           []RouteMetrics      `json:"topRoutes"`
	Backends            []BackendMetrics    `json:"backends"`
	Routers             []RouterMetrics     `json:"routers"`
	TopRequestAddresses []AddressMetric     `json:"topRequestAddresses"`
	TopRequestHosts     []HostMetric        `json:"topRequestHosts"`
	TopClientIPs        []ClientMetric      `json:"topClientIPs"`
	GeoLocations        []geo.Location      `json:"geoLocations"`
	UserAgents          []UserAgentMetrics  `json:"userAgents"`
	Timeline            []TimeSeriesPoint   `json:"timeline"`
	Errors              []ErrorLog          `json:"errors"`
	Logs                []logrecord.Record  `json:"logs"`
}

// Empty returns the snapshot for zero admitted records: all counters zero,
// all lists empty.
func Empty() *Snapshot {
	return &Snapshot{
		TopRoutes:           []RouteMetrics{},
		Backends:            []BackendMetrics{},
		Routers:             []RouterMetrics{},
		TopRequestAddresses: []AddressMetric{},
		TopRequestHosts:     []HostMetric{},
		TopClientIPs:        []ClientMetric{},
		GeoLocations:        []geo.Location{},
		UserAgents:          []UserAgentMetrics{},
		Timeline:            []TimeSeriesPoint{},
		Errors:              []ErrorLog{},
		Logs:                []logrecord.Record{},
	}
}

// WithGeo returns a shallow copy of s carrying the given locations.
func (s *Snapshot) WithGeo(locations []geo.Location) *Snapshot {
	out := *s
	if locations == nil {
		locations = []geo.Location{}
	}
	out.GeoLocations = locations
	return &out
}

// WithChange returns a shallow copy of s whose change fields are relative to prev.
func (s *Snapshot) WithChange(prev *Snapshot) *Snapshot {
	out := *s
	if prev != nil {
		out.Requests.Change = PercentChange(float64(s.Requests.Total), float64(prev.Requests.Total))
		out.ResponseTime.Change = PercentChange(s.ResponseTime.Average, prev.ResponseTime.Average)
	}
	return &out
}

// PercentChange is (current-previous)/previous*100, or 0 when previous is 0.
func PercentChange(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}
