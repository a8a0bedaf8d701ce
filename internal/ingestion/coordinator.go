package ingestion

import (
	"fmt"
	"sync"

	"github.com/pterm/pterm"
)

// Coordinator starts and stops the configured log sources together.
type Coordinator struct {
	sources   map[string]Source
	order     []string
	logger    *pterm.Logger
	mu        sync.RWMutex
	isRunning bool
}

// NewCoordinator creates a coordinator for sources. Sources are keyed by
// Name; a later source with the same name replaces an earlier one.
func NewCoordinator(logger *pterm.Logger, sources ...Source) *Coordinator {
	c := &Coordinator{
		sources: make(map[string]Source),
		logger:  logger,
	}
	for _, s := range sources {
		if s == nil {
			continue
		}
		if _, exists := c.sources[s.Name()]; !exists {
			c.order = append(c.order, s.Name())
		}
		c.sources[s.Name()] = s
	}
	return c
}

// Start starts every source. A source that fails to start is logged and
// skipped; Start only fails when none could be started.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isRunning {
		c.logger.Warn("Coordinator already running, skipping start")
		return nil
	}

	if len(c.sources) == 0 {
		c.logger.Warn("No log sources configured. Set AGENT_API_URL or TRAEFIK_LOG_PATH, or add an agent through the API.")
		c.isRunning = true
		return nil
	}

	started := 0
	var lastErr error
	for _, name := range c.order {
		if err := c.sources[name].Start(); err != nil {
			c.logger.WithCaller().Warn("Failed to start log source",
				c.logger.Args("source", name, "error", err))
			lastErr = err
			continue
		}
		started++
	}

	if started == 0 {
		return fmt.Errorf("no log source could be started: %w", lastErr)
	}

	c.isRunning = true
	c.logger.Info("Ingestion coordinator started",
		c.logger.Args("active_sources", started, "total_sources", len(c.sources)))
	return nil
}

// Stop stops all sources concurrently and waits for them.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		c.logger.Debug("Coordinator not running, skipping stop")
		return
	}

	c.logger.Info("Stopping ingestion coordinator...", c.logger.Args("sources", len(c.sources)))

	var wg sync.WaitGroup
	for name, source := range c.sources {
		wg.Add(1)
		go func(name string, s Source) {
			defer wg.Done()
			c.logger.Debug("Stopping source", c.logger.Args("source", name))
			s.Stop()
		}(name, source)
	}
	wg.Wait()

	c.isRunning = false
	c.logger.Info("Ingestion coordinator stopped successfully")
}

// GetStatus returns a summary for the health endpoint.
func (c *Coordinator) GetStatus() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"is_running": c.isRunning,
		"sources":    append([]string(nil), c.order...),
	}
}

func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}
