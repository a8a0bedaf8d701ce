package ingestion

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"traefiklens/internal/database/repositories"
	"traefiklens/internal/parser/traefik"

	"github.com/fsnotify/fsnotify"
	"github.com/pterm/pterm"
)

const (
	defaultTailPoll  = 2 * time.Second
	defaultTailBatch = 1000
)

// TailerOptions configure a FileTailer. Zero values select defaults.
type TailerOptions struct {
	// PollInterval is the fallback read interval when no write events arrive.
	PollInterval time.Duration
	BatchLines   int
	// FromStart reads the existing content; otherwise only new lines are read.
	FromStart bool
	Recorder  Recorder
	// Positions persists the read position across restarts. Optional.
	Positions repositories.LogSourceRepository
}

// FileTailer follows a local Traefik access log. Writes are picked up through
// fsnotify on the file's directory (so rotation by rename is seen too), with a
// polling fallback for filesystems that do not deliver events.
type FileTailer struct {
	processor
	path      string
	reader    *IncrementalReader
	interval  time.Duration
	batch     int
	fromStart bool
	positions repositories.LogSourceRepository
	trackName string
	saved     int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFileTailer(path string, parser *traefik.Parser, sink Sink, opts TailerOptions, logger *pterm.Logger) *FileTailer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultTailPoll
	}
	if opts.BatchLines <= 0 {
		opts.BatchLines = defaultTailBatch
	}
	return &FileTailer{
		processor: processor{
			source:   "file",
			parser:   parser,
			sink:     sink,
			recorder: opts.Recorder,
			logger:   logger,
		},
		path:      path,
		reader:    NewIncrementalReader(path, 0, logger),
		interval:  opts.PollInterval,
		batch:     opts.BatchLines,
		fromStart: opts.FromStart,
		positions: opts.Positions,
		trackName: sourceName(path),
		saved:     -1,
	}
}

// sourceName derives the tracking key from the file name:
// /var/log/traefik/access.log becomes traefik-access.
func sourceName(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	}
	return "traefik-" + base
}

func (t *FileTailer) Name() string { return t.source }

// Start begins tailing. A watcher that cannot be created is logged and
// polling alone is used.
func (t *FileTailer) Start() error {
	restored := t.restore()
	if !restored && !t.fromStart {
		if err := t.reader.SeekToEnd(); err != nil {
			return err
		}
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.WithCaller().Warn("File watcher unavailable, falling back to polling",
			t.logger.Args("path", t.path, "error", err))
		watcher = nil
	} else if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		t.logger.WithCaller().Warn("Cannot watch log directory, falling back to polling",
			t.logger.Args("path", t.path, "error", err))
		watcher.Close()
		watcher = nil
	}

	t.wg.Add(1)
	go t.loop(watcher)

	t.logger.Info("Started file tailer",
		t.logger.Args("path", t.path, "position", t.reader.Position(), "watching", watcher != nil))
	return nil
}

// restore loads the saved position for this file, if any.
func (t *FileTailer) restore() bool {
	if t.positions == nil {
		return false
	}
	src, err := t.positions.FindByName(t.trackName)
	if err != nil {
		t.logger.WithCaller().Warn("Failed to load saved log position", t.logger.Args("source", t.trackName, "error", err))
		return false
	}
	if src == nil || src.Path != t.path {
		return false
	}
	t.reader.Restore(src.LastPosition, src.LastInode)
	t.saved = src.LastPosition
	t.logger.Debug("Resuming log file from saved position",
		t.logger.Args("path", t.path, "position", src.LastPosition))
	return true
}

func (t *FileTailer) savePosition() {
	if t.positions == nil || t.reader.Position() == t.saved {
		return
	}
	if err := t.positions.UpdateTracking(t.trackName, t.path, t.reader.Position(), t.reader.Inode()); err != nil {
		t.logger.Warn("Failed to save log position", t.logger.Args("source", t.trackName, "error", err))
		return
	}
	t.saved = t.reader.Position()
}

func (t *FileTailer) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.wg.Wait()
	t.savePosition()
	t.logger.Info("Stopped file tailer", t.logger.Args("path", t.path))
}

func (t *FileTailer) loop(watcher *fsnotify.Watcher) {
	defer t.wg.Done()

	var events chan fsnotify.Event
	var errs chan error
	if watcher != nil {
		defer watcher.Close()
		events, errs = watcher.Events, watcher.Errors
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.Drain()
	for {
		select {
		case <-t.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(t.path) && ev.Has(fsnotify.Write|fsnotify.Create) {
				t.Drain()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.logger.Warn("File watcher error", t.logger.Args("path", t.path, "error", err))
		case <-ticker.C:
			t.Drain()
		}
	}
}

// Drain reads and ingests batches until the file has no complete new lines.
// It reports read failures to the sink as source status.
func (t *FileTailer) Drain() int {
	total := 0
	for {
		lines, err := t.reader.ReadBatch(t.batch)
		if err != nil {
			t.logger.WithCaller().Warn("Failed to read log file", t.logger.Args("path", t.path, "error", err))
			t.sink.SetSourceStatus(err)
			return total
		}
		t.sink.SetSourceStatus(nil)
		total += t.process(lines)
		if len(lines) < t.batch {
			t.savePosition()
			return total
		}
	}
}
