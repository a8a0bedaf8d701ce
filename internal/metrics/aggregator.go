package metrics

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"traefiklens/internal/logrecord"
)

// Aggregator turns admitted records into a Snapshot. The zero value is ready
// to use: labels are rendered in the local time zone and client IPs come
// from the record's own client host.
type Aggregator struct {
	// Location is the zone used for timeline labels. nil means time.Local.
	Location *time.Location

	// ClientIP extracts the address used for the top-clients list.
	ClientIP func(*logrecord.Record) string
}

// Compute is Aggregator{}.Compute.
func Compute(records []logrecord.Record) *Snapshot {
	return Aggregator{}.Compute(records)
}

// Compute builds a snapshot from records without modifying them. Geo
// locations are left empty; the caller merges them in with WithGeo.
func (a Aggregator) Compute(records []logrecord.Record) *Snapshot {
	if len(records) == 0 {
		return Empty()
	}

	sorted, stamps := sortByRecency(records)
	if len(sorted) > logrecord.MaxBuffered {
		sorted = sorted[:logrecord.MaxBuffered]
		stamps = stamps[:logrecord.MaxBuffered]
	}

	snap := Empty()
	snap.Logs = sorted
	snap.Requests = requestRate(stamps, len(sorted))
	snap.ResponseTime = latency(sorted)
	snap.StatusCodes = statusCodes(sorted)

	clientIP := a.ClientIP
	if clientIP == nil {
		clientIP = (*logrecord.Record).ClientIP
	}

	for _, g := range top(groupBy(sorted, func(r *logrecord.Record) string { return r.RequestPath }), topN) {
		snap.TopRoutes = append(snap.TopRoutes, RouteMetrics{
			Path: g.key, Method: g.first.RequestMethod, Count: g.count,
			AvgDuration: g.avgMillis(), ErrorRate: g.errorRate(),
		})
	}
	for _, g := range top(groupBy(sorted, func(r *logrecord.Record) string { return r.ServiceName }), topN) {
		snap.Backends = append(snap.Backends, BackendMetrics{
			Name: g.key, URL: g.first.ServiceURL, Requests: g.count,
			AvgDuration: g.avgMillis(), ErrorRate: g.errorRate(),
		})
	}
	for _, g := range top(groupBy(sorted, func(r *logrecord.Record) string { return r.RouterName }), topN) {
		snap.Routers = append(snap.Routers, RouterMetrics{
			Name: g.key, Service: g.first.ServiceName, Requests: g.count,
			AvgDuration: g.avgMillis(), ErrorRate: g.errorRate(),
		})
	}
	for _, g := range top(groupBy(sorted, func(r *logrecord.Record) string { return r.RequestAddr }), topN) {
		snap.TopRequestAddresses = append(snap.TopRequestAddresses, AddressMetric{Addr: g.key, Count: g.count})
	}
	for _, g := range top(groupBy(sorted, func(r *logrecord.Record) string { return r.RequestHost }), topN) {
		snap.TopRequestHosts = append(snap.TopRequestHosts, HostMetric{Host: g.key, Count: g.count})
	}
	for _, g := range top(groupBy(sorted, clientIP), topN) {
		snap.TopClientIPs = append(snap.TopClientIPs, ClientMetric{IP: g.key, Count: g.count})
	}
	for _, g := range top(groupBy(sorted, func(r *logrecord.Record) string { return r.RequestUserAgent }), topUserAgents) {
		snap.UserAgents = append(snap.UserAgents, UserAgentMetrics{
			Browser:    Browser(g.key),
			UserAgent:  g.key,
			Count:      g.count,
			Percentage: float64(g.count) / float64(len(sorted)) * 100,
		})
	}

	loc := a.Location
	if loc == nil {
		loc = time.Local
	}
	snap.Timeline = timeline(stamps, loc)
	snap.Errors = recentErrors(sorted)

	return snap
}

// sortByRecency returns a copy of records ordered most recent first, plus
// each record's timestamp in unix milliseconds (ok=false when unparseable).
// Records without a timestamp sort after all others, keeping input order.
func sortByRecency(records []logrecord.Record) ([]logrecord.Record, []stamp) {
	type entry struct {
		rec logrecord.Record
		ts  stamp
	}
	entries := make([]entry, len(records))
	for i := range records {
		entries[i].rec = records[i]
		if t, ok := records[i].Timestamp(); ok {
			entries[i].ts = stamp{ms: t.UnixMilli(), ok: true}
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].ts, entries[j].ts
		if a.ok != b.ok {
			return a.ok
		}
		return a.ms > b.ms
	})

	sorted := make([]logrecord.Record, len(entries))
	stamps := make([]stamp, len(entries))
	for i, e := range entries {
		sorted[i] = e.rec
		stamps[i] = e.ts
	}
	return sorted, stamps
}

type stamp struct {
	ms int64
	ok bool
}

func timeRange(stamps []stamp) (lo, hi int64, valid int) {
	for _, s := range stamps {
		if !s.ok {
			continue
		}
		if valid == 0 || s.ms < lo {
			lo = s.ms
		}
		if valid == 0 || s.ms > hi {
			hi = s.ms
		}
		valid++
	}
	return lo, hi, valid
}

func requestRate(stamps []stamp, total int) RequestMetrics {
	m := RequestMetrics{Total: total}
	lo, hi, valid := timeRange(stamps)
	if valid < 2 {
		return m
	}
	span := float64(hi-lo) / 1000
	if span > 0 {
		m.PerSecond = float64(total) / span
	}
	return m
}

func latency(records []logrecord.Record) ResponseTimeMetrics {
	durations := make([]float64, len(records))
	for i := range records {
		durations[i] = records[i].DurationMillis()
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	return ResponseTimeMetrics{
		Average: Average(durations),
		P95:     percentileSorted(sorted, 95),
		P99:     percentileSorted(sorted, 99),
	}
}

func statusCodes(records []logrecord.Record) StatusCodeMetrics {
	var m StatusCodeMetrics
	for i := range records {
		switch records[i].DownstreamStatus / 100 {
		case 2:
			m.Status2xx++
		case 3:
			m.Status3xx++
		case 4:
			m.Status4xx++
		case 5:
			m.Status5xx++
		}
	}
	if len(records) > 0 {
		m.ErrorRate = float64(m.Status4xx+m.Status5xx) / float64(len(records)) * 100
	}
	return m
}

type group struct {
	key         string
	first       *logrecord.Record
	count       int
	errors      int
	totalMillis float64
}

func (g *group) avgMillis() float64 { return g.totalMillis / float64(g.count) }

func (g *group) errorRate() float64 { return float64(g.errors) / float64(g.count) * 100 }

// groupBy groups records by key in first-seen order. Empty keys are skipped.
func groupBy(records []logrecord.Record, key func(*logrecord.Record) string) []*group {
	index := make(map[string]*group)
	var groups []*group
	for i := range records {
		rec := &records[i]
		k := key(rec)
		if k == "" {
			continue
		}
		g, ok := index[k]
		if !ok {
			g = &group{key: k, first: rec}
			index[k] = g
			groups = append(groups, g)
		}
		g.count++
		g.totalMillis += rec.DurationMillis()
		if rec.DownstreamStatus >= 400 {
			g.errors++
		}
	}
	return groups
}

// top sorts by count descending, ties keep first-seen order, and keeps n.
func top(groups []*group, n int) []*group {
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].count > groups[j].count })
	if len(groups) > n {
		groups = groups[:n]
	}
	return groups
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// timeline spreads records over 20 equal intervals covering at least one
// minute and emits one point per interval boundary.
func timeline(stamps []stamp, loc *time.Location) []TimeSeriesPoint {
	lo, hi, valid := timeRange(stamps)
	if valid < 2 {
		return []TimeSeriesPoint{}
	}

	effectiveHi := max(hi, lo+int64(time.Minute/time.Millisecond))
	span := effectiveHi - lo
	interval := (span + timelinePoints - 1) / timelinePoints

	buckets := make(map[int64]int)
	for _, s := range stamps {
		if s.ok {
			buckets[floorDiv(s.ms, interval)*interval]++
		}
	}

	start := floorDiv(lo, interval) * interval
	end := floorDiv(effectiveHi, interval) * interval
	points := make([]TimeSeriesPoint, 0, (end-start)/interval+1)
	for k := start; k <= end; k += interval {
		t := time.UnixMilli(k)
		points = append(points, TimeSeriesPoint{
			Timestamp: t.UTC().Format("2006-01-02T15:04:05.000Z"),
			Value:     buckets[k],
			Label:     t.In(loc).Format("15:04"),
		})
	}
	return points
}

func recentErrors(records []logrecord.Record) []ErrorLog {
	errs := []ErrorLog{}
	for i := range records {
		rec := &records[i]
		if rec.DownstreamStatus < 400 {
			continue
		}
		level := "warning"
		if rec.DownstreamStatus >= 500 {
			level = "error"
		}
		ts := rec.StartUTC
		if ts == "" {
			ts = rec.StartLocal
		}
		errs = append(errs, ErrorLog{
			Timestamp: ts,
			Level:     level,
			Message:   fmt.Sprintf("%s %s - %d", rec.RequestMethod, rec.RequestPath, rec.DownstreamStatus),
		})
		if len(errs) == maxErrors {
			break
		}
	}
	return errs
}
