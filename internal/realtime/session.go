package realtime

import (
	"context"
	"sync"
	"time"

	"traefiklens/internal/clock"
	"traefiklens/internal/filter"
	"traefiklens/internal/geo"
	"traefiklens/internal/logrecord"
	"traefiklens/internal/metrics"

	"github.com/pterm/pterm"
)

const defaultDebounce = 2 * time.Second

// GeoAggregator resolves admitted records to locations. It is satisfied by
// *geo.Aggregator.
type GeoAggregator interface {
	Aggregate(ctx context.Context, records []logrecord.Record, clientIP func(*logrecord.Record) string, onProgress geo.ProgressFunc) ([]geo.Location, error)
}

// Progress describes the geo run in flight, if any.
type Progress struct {
	Running bool `json:"running"`
	Current int  `json:"current"`
	Total   int  `json:"total"`
}

// SourceStatus reports the health of whatever feeds the session.
type SourceStatus struct {
	Connected  bool      `json:"connected"`
	LastError  string    `json:"last_error,omitempty"`
	LastUpdate time.Time `json:"last_update"`
}

// Options tune a Session. Zero values select defaults.
type Options struct {
	// Debounce is the quiet period before a geo run starts. Defaults to 2s.
	Debounce time.Duration
	Clock    clock.Clock
	// Location is used for timeline labels. nil means time.Local.
	Location *time.Location
	// OnRecompute is told the buffered and admitted record counts after
	// every cheap recomputation.
	OnRecompute func(buffered, admitted int)
}

// Session keeps the live dashboard: a bounded record buffer, the current
// filter settings, the latest snapshot and the geo locations last resolved.
//
// New records or new settings recompute the snapshot synchronously with the
// cached geo locations, and (re)arm a debounce timer that starts a geo run.
// Each run is tagged with a generation; a run that finishes after a newer
// one started, or after Reset, is discarded.
type Session struct {
	logger   *pterm.Logger
	geo      GeoAggregator
	clock    clock.Clock
	debounce time.Duration
	location *time.Location
	observe  func(buffered, admitted int)

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu           sync.RWMutex
	settings     filter.Settings
	buffer       []logrecord.Record // most recent batch first
	admitted     []logrecord.Record
	geoLocations []geo.Location
	snapshot     *metrics.Snapshot
	generation   uint64
	timer        clock.Timer
	cancelRun    context.CancelFunc
	progress     Progress
	status       SourceStatus
}

// NewSession creates a session. geoAgg may be nil, in which case geo
// locations stay empty.
func NewSession(settings filter.Settings, geoAgg GeoAggregator, opts Options, logger *pterm.Logger) *Session {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		logger:     logger,
		geo:        geoAgg,
		clock:      clk,
		debounce:   debounce,
		location:   opts.Location,
		observe:    opts.OnRecompute,
		baseCtx:    ctx,
		baseCancel: cancel,
		settings:   settings.Clone(),
		snapshot:   metrics.Empty(),
	}
}

// Ingest adds a batch of records given in file order (oldest first). The
// buffer keeps the newest logrecord.MaxBuffered records, newest first.
func (s *Session) Ingest(records []logrecord.Record) {
	if len(records) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buffer := make([]logrecord.Record, 0, min(len(records)+len(s.buffer), logrecord.MaxBuffered))
	for i := len(records) - 1; i >= 0 && len(buffer) < logrecord.MaxBuffered; i-- {
		buffer = append(buffer, records[i])
	}
	for i := 0; i < len(s.buffer) && len(buffer) < logrecord.MaxBuffered; i++ {
		buffer = append(buffer, s.buffer[i])
	}
	s.buffer = buffer

	s.logger.Trace("Ingested records", s.logger.Args("new", len(records), "buffered", len(s.buffer)))

	s.recomputeLocked()
	s.scheduleGeoLocked()
}

// SetSettings replaces the filter settings and recomputes.
func (s *Session) SetSettings(settings filter.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = settings.Clone()
	s.recomputeLocked()
	s.scheduleGeoLocked()

	s.logger.Debug("Filter settings applied", s.logger.Args("admitted", len(s.admitted), "buffered", len(s.buffer)))
}

func (s *Session) Settings() filter.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Clone()
}

// Snapshot returns the latest snapshot. Callers must not modify it.
func (s *Session) Snapshot() *metrics.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

func (s *Session) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// SetSourceStatus records the outcome of the latest fetch. A nil error marks
// the source connected.
func (s *Session) SetSourceStatus(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.LastUpdate = s.clock.Now()
	if err != nil {
		s.status.Connected = false
		s.status.LastError = err.Error()
		return
	}
	s.status.Connected = true
	s.status.LastError = ""
}

func (s *Session) SourceStatus() SourceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Reset drops all records and geo data, e.g. when the selected agent
// changes. Any geo run in flight is abandoned.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopGeoLocked()
	s.buffer = nil
	s.admitted = nil
	s.geoLocations = nil
	s.snapshot = metrics.Empty()
	s.status = SourceStatus{}
	if s.observe != nil {
		s.observe(0, 0)
	}

	s.logger.Info("Dashboard session reset")
}

// Close stops the debounce timer and cancels any geo run.
func (s *Session) Close() {
	s.mu.Lock()
	s.stopGeoLocked()
	s.mu.Unlock()
	s.baseCancel()
}

func (s *Session) clientIP(proxy filter.ProxySettings) func(*logrecord.Record) string {
	return func(rec *logrecord.Record) string {
		return filter.ResolveClientIP(rec, proxy)
	}
}

// recomputeLocked is the cheap path. Caller must hold s.mu.
func (s *Session) recomputeLocked() {
	s.admitted = filter.Apply(s.buffer, s.settings)

	agg := metrics.Aggregator{Location: s.location, ClientIP: s.clientIP(s.settings.ProxySettings)}
	next := agg.Compute(s.admitted).WithGeo(s.geoLocations)
	s.snapshot = next.WithChange(s.snapshot)

	if s.observe != nil {
		s.observe(len(s.buffer), len(s.admitted))
	}
}

// scheduleGeoLocked (re)arms the debounce timer. Caller must hold s.mu.
func (s *Session) scheduleGeoLocked() {
	if s.geo == nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.AfterFunc(s.debounce, s.startGeo)
}

// stopGeoLocked cancels pending and running geo work and invalidates any
// result still on its way. Caller must hold s.mu.
func (s *Session) stopGeoLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.generation++
	s.progress = Progress{}
}

func (s *Session) startGeo() {
	s.mu.Lock()
	s.timer = nil
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancelRun = cancel
	records := s.admitted
	clientIP := s.clientIP(s.settings.ProxySettings)
	s.progress = Progress{Running: true}
	s.mu.Unlock()

	s.logger.Debug("Geo run started", s.logger.Args("generation", gen, "records", len(records)))

	go s.runGeo(ctx, cancel, gen, records, clientIP)
}

func (s *Session) runGeo(ctx context.Context, cancel context.CancelFunc, gen uint64, records []logrecord.Record, clientIP func(*logrecord.Record) string) {
	defer cancel()

	locations, err := s.geo.Aggregate(ctx, records, clientIP, func(current, total int) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen == s.generation {
			s.progress = Progress{Running: true, Current: current, Total: total}
		}
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.logger.Debug("Discarding superseded geo result", s.logger.Args("generation", gen, "current", s.generation))
		return
	}
	s.cancelRun = nil
	s.progress.Running = false

	if err != nil {
		s.logger.WithCaller().Warn("Geo run failed, keeping previous locations", s.logger.Args("error", err))
		return
	}

	s.geoLocations = locations
	s.snapshot = s.snapshot.WithGeo(locations)
	s.logger.Debug("Geo run applied", s.logger.Args("generation", gen, "locations", len(locations)))
}
