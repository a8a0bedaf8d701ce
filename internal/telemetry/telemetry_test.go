package telemetry

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordsIngested("agent", 3)
	m.RecordsIngested("agent", 2)
	m.RecordsIngested("file", 0)
	m.LinesDropped("file", 4)
	m.AgentFetch("success")
	m.AgentFetch("error")
	m.AgentFetch("success")
	m.GeoBatch(nil)
	m.GeoBatch(errors.New("timeout"))

	assert.Equal(t, 5.0, testutil.ToFloat64(m.recordsIngested.WithLabelValues("agent")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.linesDropped.WithLabelValues("file")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.agentFetches.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.agentFetches.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.geoBatches.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.geoBatches.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.recordsIngested), "zero counts create no series")
}

func TestRecomputeGauges(t *testing.T) {
	m := New(nil)
	m.Recompute(800, 650)
	m.Recompute(1000, 700)

	assert.Equal(t, 1000.0, testutil.ToFloat64(m.buffered))
	assert.Equal(t, 700.0, testutil.ToFloat64(m.admitted))
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.AgentFetch("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `traefiklens_agent_fetch_total{result="success"} 1`)
	assert.Contains(t, string(body), "traefiklens_records_buffered 0")
}
