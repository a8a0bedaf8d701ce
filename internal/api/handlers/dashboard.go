package handlers

import (
	"net/http"

	"traefiklens/internal/metrics"
	"traefiklens/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// DashboardSource is the read side of the live session.
type DashboardSource interface {
	Snapshot() *metrics.Snapshot
	Progress() realtime.Progress
	SourceStatus() realtime.SourceStatus
}

// DashboardResponse is the payload of the dashboard endpoint and of every
// stream event.
type DashboardResponse struct {
	Metrics     *metrics.Snapshot     `json:"metrics"`
	Source      realtime.SourceStatus `json:"source"`
	GeoProgress realtime.Progress     `json:"geoProgress"`
}

// DashboardHandler serves the current snapshot
type DashboardHandler struct {
	source DashboardSource
	logger *pterm.Logger
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(source DashboardSource, logger *pterm.Logger) *DashboardHandler {
	return &DashboardHandler{
		source: source,
		logger: logger,
	}
}

func currentDashboard(source DashboardSource) DashboardResponse {
	return DashboardResponse{
		Metrics:     source.Snapshot(),
		Source:      source.SourceStatus(),
		GeoProgress: source.Progress(),
	}
}

// GetDashboard returns the latest snapshot with source health
func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	c.JSON(http.StatusOK, currentDashboard(h.source))
}

// GetGeoProgress reports the geo run in flight
func (h *DashboardHandler) GetGeoProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.source.Progress())
}
