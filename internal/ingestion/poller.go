package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"traefiklens/internal/agent"
	"traefiklens/internal/parser/traefik"

	"github.com/pterm/pterm"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultFetchLines   = 1000
)

// Fetcher reads access log lines from an agent. *agent.Client satisfies it.
type Fetcher interface {
	FetchAccessLogs(ctx context.Context, position int64, lines int) (*agent.LogResult, error)
}

// PollerOptions configure an AgentPoller. Zero values select defaults.
type PollerOptions struct {
	Interval time.Duration
	Lines    int
	Recorder Recorder
}

// AgentPoller fetches new access log lines from the selected agent on a
// fixed interval and feeds them to the sink.
type AgentPoller struct {
	processor
	interval time.Duration
	lines    int

	mu       sync.Mutex
	fetcher  Fetcher
	position int64
	epoch    uint64 // bumped whenever the fetcher changes

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAgentPoller creates a poller. fetcher may be nil until an agent is
// selected.
func NewAgentPoller(fetcher Fetcher, parser *traefik.Parser, sink Sink, opts PollerOptions, logger *pterm.Logger) *AgentPoller {
	if opts.Interval <= 0 {
		opts.Interval = defaultPollInterval
	}
	if opts.Lines <= 0 {
		opts.Lines = defaultFetchLines
	}
	return &AgentPoller{
		processor: processor{
			source:   "agent",
			parser:   parser,
			sink:     sink,
			recorder: opts.Recorder,
			logger:   logger,
		},
		interval: opts.Interval,
		lines:    opts.Lines,
		fetcher:  fetcher,
		position: agent.PositionTail,
	}
}

func (p *AgentPoller) Name() string { return p.source }

// Start polls immediately and then on every interval until Stop.
func (p *AgentPoller) Start() error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	go p.loop()
	p.logger.Info("Started agent poller", p.logger.Args("interval", p.interval.String(), "lines", p.lines))
	return nil
}

func (p *AgentPoller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("Stopped agent poller")
}

// SetFetcher switches to another agent. Reading restarts from the tail and
// a fetch already in flight for the previous agent is discarded.
func (p *AgentPoller) SetFetcher(fetcher Fetcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetcher = fetcher
	p.position = agent.PositionTail
	p.epoch++
}

func (p *AgentPoller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(p.ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Debug("Agent poll failed", p.logger.Args("error", err))
		}
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll runs one fetch cycle. Failures are reported to the sink as source
// status; the previous snapshot stays in place.
func (p *AgentPoller) Poll(ctx context.Context) error {
	p.mu.Lock()
	fetcher, position, epoch := p.fetcher, p.position, p.epoch
	p.mu.Unlock()

	if fetcher == nil {
		return nil
	}

	result, err := fetcher.FetchAccessLogs(ctx, position, p.lines)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	// Held while ingesting so SetFetcher cannot interleave with a stale batch.
	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch != p.epoch {
		p.logger.Debug("Discarding fetch result from a previous agent")
		return nil
	}

	if err != nil {
		p.record("error")
		p.sink.SetSourceStatus(err)
		if errors.Is(err, agent.ErrUnauthorized) {
			p.logger.WithCaller().Warn("Agent rejected the configured token")
		}
		return err
	}

	p.position = result.NextPosition(position)

	p.record("success")
	p.sink.SetSourceStatus(nil)
	p.process(result.Logs)
	return nil
}

func (p *AgentPoller) record(result string) {
	if p.recorder != nil {
		p.recorder.AgentFetch(result)
	}
}
