package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

const defaultStreamInterval = 2 * time.Second

// RealtimeHandler handles real-time streaming endpoints
type RealtimeHandler struct {
	source   DashboardSource
	interval time.Duration
	logger   *pterm.Logger
}

// NewRealtimeHandler creates a new realtime handler
func NewRealtimeHandler(source DashboardSource, interval time.Duration, logger *pterm.Logger) *RealtimeHandler {
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	return &RealtimeHandler{
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// StreamDashboard streams the dashboard via Server-Sent Events. The first
// event is sent immediately, then one per interval.
func (h *RealtimeHandler) StreamDashboard(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Debug("Client connected to dashboard stream", h.logger.Args("client_ip", c.ClientIP()))

	if !h.send(c) {
		return
	}
	for {
		select {
		case <-c.Request.Context().Done():
			h.logger.Debug("Client disconnected from dashboard stream",
				h.logger.Args("client_ip", c.ClientIP()))
			return

		case <-ticker.C:
			if !h.send(c) {
				return
			}
		}
	}
}

// send writes one event; false means the client is gone.
func (h *RealtimeHandler) send(c *gin.Context) bool {
	data, err := json.Marshal(currentDashboard(h.source))
	if err != nil {
		h.logger.Error("Failed to marshal dashboard", h.logger.Args("error", err))
		return true
	}

	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		h.logger.Debug("Failed to write SSE data", h.logger.Args("error", err))
		return false
	}
	c.Writer.Flush()
	return true
}
