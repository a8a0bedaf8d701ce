// Package telemetry exposes Prometheus counters and gauges for the ingestion
// pipeline, the geo lookups and the snapshot recomputes.
package telemetry

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "traefiklens"

// Metrics holds the collectors. It satisfies ingestion.Recorder.
type Metrics struct {
	recordsIngested *prometheus.CounterVec
	linesDropped    *prometheus.CounterVec
	agentFetches    *prometheus.CounterVec
	geoBatches      *prometheus.CounterVec
	buffered        prometheus.Gauge
	admitted        prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		recordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Parsed access log records handed to the session",
		}, []string{"source"}),
		linesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_dropped_total",
			Help:      "Access log lines that matched neither the JSON nor the CLF format",
		}, []string{"source"}),
		agentFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_fetch_total",
			Help:      "Agent log fetches by result",
		}, []string{"result"}),
		geoBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geo_batches_total",
			Help:      "Geo lookup batches by result",
		}, []string{"result"}),
		buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_buffered",
			Help:      "Records currently held in the session buffer",
		}),
		admitted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_admitted",
			Help:      "Buffered records admitted by the current filter settings",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.recordsIngested,
		m.linesDropped,
		m.agentFetches,
		m.geoBatches,
		m.buffered,
		m.admitted,
	)
	return m
}

func (m *Metrics) RecordsIngested(source string, n int) {
	if n > 0 {
		m.recordsIngested.WithLabelValues(source).Add(float64(n))
	}
}

func (m *Metrics) LinesDropped(source string, n int) {
	if n > 0 {
		m.linesDropped.WithLabelValues(source).Add(float64(n))
	}
}

// AgentFetch counts one fetch; result is "success" or "error".
func (m *Metrics) AgentFetch(result string) {
	m.agentFetches.WithLabelValues(result).Inc()
}

// GeoBatch counts one lookup batch. It matches geo.Options.OnBatch.
func (m *Metrics) GeoBatch(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.geoBatches.WithLabelValues(result).Inc()
}

// Recompute records buffer occupancy after a snapshot recompute. It matches
// realtime.Options.OnRecompute.
func (m *Metrics) Recompute(buffered, admitted int) {
	m.buffered.Set(float64(buffered))
	m.admitted.Set(float64(admitted))
}

// WatchDB exports the connection pool statistics of db.
func (m *Metrics) WatchDB(db *sql.DB) error {
	return m.registry.Register(collectors.NewDBStatsCollector(db, namespace))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
