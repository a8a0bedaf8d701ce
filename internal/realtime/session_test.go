package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"traefiklens/internal/clock"
	"traefiklens/internal/filter"
	"traefiklens/internal/geo"
	"traefiklens/internal/logrecord"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// stubGeo answers each Aggregate call from a queue of replies. A reply
// waits on release (if set) before returning.
type stubGeo struct {
	mu      sync.Mutex
	calls   int
	inputs  [][]logrecord.Record
	replies []stubReply
	started chan int
}

type stubReply struct {
	locations []geo.Location
	err       error
	release   chan struct{}
}

func (g *stubGeo) Aggregate(ctx context.Context, records []logrecord.Record, clientIP func(*logrecord.Record) string, onProgress geo.ProgressFunc) ([]geo.Location, error) {
	g.mu.Lock()
	idx := g.calls
	g.calls++
	g.inputs = append(g.inputs, records)
	reply := g.replies[idx]
	g.mu.Unlock()

	if g.started != nil {
		g.started <- idx
	}
	if onProgress != nil {
		onProgress(1, 2)
	}
	if reply.release != nil {
		select {
		case <-reply.release:
		case <-ctx.Done():
		}
	}
	return reply.locations, reply.err
}

func (g *stubGeo) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func testLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelDisabled)
}

func rec(offset time.Duration, status int, host string) logrecord.Record {
	return logrecord.Record{
		StartUTC:         epoch.Add(offset).Format(time.RFC3339Nano),
		DownstreamStatus: status,
		ClientHost:       host,
		RequestMethod:    "GET",
		RequestPath:      "/",
	}
}

func newSession(t *testing.T, g GeoAggregator) (*Session, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	s := NewSession(filter.DefaultSettings(), g, Options{Clock: clk, Location: time.UTC}, testLogger())
	t.Cleanup(s.Close)
	return s, clk
}

func TestSession_StartsEmpty(t *testing.T) {
	s, _ := newSession(t, nil)
	snap := s.Snapshot()
	assert.Zero(t, snap.Requests.Total)
	assert.Empty(t, snap.Logs)
	assert.Equal(t, Progress{}, s.Progress())
}

func TestSession_IngestRecomputesSynchronously(t *testing.T) {
	s, _ := newSession(t, nil)

	s.Ingest([]logrecord.Record{rec(0, 200, "1.1.1.1"), rec(time.Second, 404, "1.1.1.1"), rec(2*time.Second, 500, "2.2.2.2")})
	snap := s.Snapshot()
	assert.Equal(t, 3, snap.Requests.Total)
	assert.InDelta(t, 66.7, snap.StatusCodes.ErrorRate, 0.05)

	settings := filter.DefaultSettings()
	settings.ExcludeStatusCodes = []int{404}
	s.SetSettings(settings)

	snap = s.Snapshot()
	assert.Equal(t, 2, snap.Requests.Total)
	assert.InDelta(t, 50, snap.StatusCodes.ErrorRate, 0.05)
	assert.InDelta(t, -33.3, snap.Requests.Change, 0.05)
	assert.Equal(t, []int{404}, s.Settings().ExcludeStatusCodes)
}

func TestSession_BufferIsBounded(t *testing.T) {
	var observed [2]int
	clk := clock.NewFake(epoch)
	s := NewSession(filter.DefaultSettings(), nil, Options{
		Clock:       clk,
		OnRecompute: func(buffered, admitted int) { observed = [2]int{buffered, admitted} },
	}, testLogger())
	defer s.Close()

	for batch := 0; batch < 3; batch++ {
		records := make([]logrecord.Record, 400)
		for i := range records {
			records[i] = rec(time.Duration(batch*400+i)*time.Second, 200, "1.1.1.1")
		}
		s.Ingest(records)
	}

	snap := s.Snapshot()
	assert.Len(t, snap.Logs, logrecord.MaxBuffered)
	assert.Equal(t, epoch.Add(1199*time.Second).Format(time.RFC3339Nano), snap.Logs[0].StartUTC)
	assert.Equal(t, [2]int{1000, 1000}, observed)
}

func TestSession_IngestEmptyIsNoop(t *testing.T) {
	g := &stubGeo{}
	s, clk := newSession(t, g)
	s.Ingest(nil)
	assert.Zero(t, clk.Pending())
}

func TestSession_GeoDebouncedAndMerged(t *testing.T) {
	g := &stubGeo{replies: []stubReply{{locations: []geo.Location{{Country: "France", Count: 2}}}}}
	s, clk := newSession(t, g)

	s.Ingest([]logrecord.Record{rec(0, 200, "5.5.5.5")})
	clk.Advance(time.Second)
	s.Ingest([]logrecord.Record{rec(time.Second, 200, "5.5.5.5")})
	clk.Advance(1999 * time.Millisecond)
	assert.Zero(t, g.callCount(), "quiet period restarts on every change")
	assert.Empty(t, s.Snapshot().GeoLocations)

	clk.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return len(s.Snapshot().GeoLocations) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, g.callCount())
	assert.Len(t, g.inputs[0], 2)
	assert.Equal(t, Progress{Running: false, Current: 1, Total: 2}, s.Progress())

	// cheap recomputations keep the cached locations
	s.Ingest([]logrecord.Record{rec(2*time.Second, 200, "5.5.5.5")})
	assert.Equal(t, []geo.Location{{Country: "France", Count: 2}}, s.Snapshot().GeoLocations)
	assert.Equal(t, 3, s.Snapshot().Requests.Total)
}

func TestSession_SupersededGeoRunIsDiscarded(t *testing.T) {
	slow := make(chan struct{})
	g := &stubGeo{
		started: make(chan int, 2),
		replies: []stubReply{
			{locations: []geo.Location{{Country: "Stale", Count: 1}}, release: slow},
			{locations: []geo.Location{{Country: "Fresh", Count: 2}}},
		},
	}
	s, clk := newSession(t, g)

	s.Ingest([]logrecord.Record{rec(0, 200, "5.5.5.5")})
	clk.Advance(2 * time.Second)
	assert.Equal(t, 0, <-g.started)
	require.Eventually(t, func() bool { return s.Progress().Current == 1 }, time.Second, 5*time.Millisecond)

	s.Ingest([]logrecord.Record{rec(time.Second, 200, "6.6.6.6")})
	clk.Advance(2 * time.Second)
	assert.Equal(t, 1, <-g.started)

	require.Eventually(t, func() bool {
		locs := s.Snapshot().GeoLocations
		return len(locs) == 1 && locs[0].Country == "Fresh"
	}, time.Second, 5*time.Millisecond)

	// the first run was cancelled when the second started; releasing it
	// must not overwrite the newer result
	close(slow)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "Fresh", s.Snapshot().GeoLocations[0].Country)
	assert.False(t, s.Progress().Running)
}

func TestSession_GeoFailureKeepsPreviousLocations(t *testing.T) {
	g := &stubGeo{replies: []stubReply{
		{locations: []geo.Location{{Country: "France", Count: 1}}},
		{err: errors.New("boom")},
	}}
	s, clk := newSession(t, g)

	s.Ingest([]logrecord.Record{rec(0, 200, "5.5.5.5")})
	clk.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return len(s.Snapshot().GeoLocations) == 1 }, time.Second, 5*time.Millisecond)

	s.Ingest([]logrecord.Record{rec(time.Second, 200, "5.5.5.5")})
	clk.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return g.callCount() == 2 && !s.Progress().Running }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []geo.Location{{Country: "France", Count: 1}}, s.Snapshot().GeoLocations)
	assert.Equal(t, 2, s.Snapshot().Requests.Total)
}

func TestSession_ResetDiscardsInFlightRun(t *testing.T) {
	release := make(chan struct{})
	g := &stubGeo{
		started: make(chan int, 1),
		replies: []stubReply{{locations: []geo.Location{{Country: "Old", Count: 1}}, release: release}},
	}
	s, clk := newSession(t, g)

	s.Ingest([]logrecord.Record{rec(0, 200, "5.5.5.5")})
	clk.Advance(2 * time.Second)
	<-g.started

	s.Reset()
	close(release)
	time.Sleep(20 * time.Millisecond)

	snap := s.Snapshot()
	assert.Empty(t, snap.GeoLocations)
	assert.Zero(t, snap.Requests.Total)
	assert.Equal(t, Progress{}, s.Progress())
}

func TestSession_ResetCancelsPendingDebounce(t *testing.T) {
	g := &stubGeo{}
	s, clk := newSession(t, g)

	s.Ingest([]logrecord.Record{rec(0, 200, "5.5.5.5")})
	s.Reset()
	clk.Advance(time.Minute)
	assert.Zero(t, g.callCount())
}

func TestSession_SourceStatus(t *testing.T) {
	s, clk := newSession(t, nil)

	s.SetSourceStatus(errors.New("connection refused"))
	st := s.SourceStatus()
	assert.False(t, st.Connected)
	assert.Equal(t, "connection refused", st.LastError)
	assert.Equal(t, epoch, st.LastUpdate)

	clk.Advance(time.Second)
	s.SetSourceStatus(nil)
	st = s.SourceStatus()
	assert.True(t, st.Connected)
	assert.Empty(t, st.LastError)
	assert.Equal(t, epoch.Add(time.Second), st.LastUpdate)
}

func TestSession_TopClientsUseProxyHeaders(t *testing.T) {
	s, _ := newSession(t, nil)

	r := rec(0, 200, "10.0.0.1")
	r.Headers = logrecord.Headers{}
	r.Headers.Set("X-Real-IP", "203.0.113.9")
	s.Ingest([]logrecord.Record{r})

	require.Len(t, s.Snapshot().TopClientIPs, 1)
	assert.Equal(t, "203.0.113.9", s.Snapshot().TopClientIPs[0].IP)
}

func TestSession_BufferNewestFirst(t *testing.T) {
	s, _ := newSession(t, nil)

	s.Ingest([]logrecord.Record{rec(0, 200, "a"), rec(time.Second, 200, "b")})
	s.Ingest([]logrecord.Record{rec(2*time.Second, 200, "c")})

	s.mu.RLock()
	defer s.mu.RUnlock()
	hosts := make([]string, len(s.buffer))
	for i := range s.buffer {
		hosts[i] = s.buffer[i].ClientHost
	}
	assert.Equal(t, []string{"c", "b", "a"}, hosts)
}
