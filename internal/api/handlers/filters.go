package handlers

import (
	"net/http"

	"traefiklens/internal/database/repositories"
	"traefiklens/internal/filter"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// SettingsTarget receives the filter settings in effect.
type SettingsTarget interface {
	Settings() filter.Settings
	SetSettings(settings filter.Settings)
}

// FilterHandler reads and updates the filter settings
type FilterHandler struct {
	target SettingsTarget
	repo   repositories.SettingsRepository
	logger *pterm.Logger
}

func NewFilterHandler(target SettingsTarget, repo repositories.SettingsRepository, logger *pterm.Logger) *FilterHandler {
	return &FilterHandler{
		target: target,
		repo:   repo,
		logger: logger,
	}
}

func (h *FilterHandler) GetFilters(c *gin.Context) {
	c.JSON(http.StatusOK, h.target.Settings())
}

// UpdateFilters replaces the settings wholesale. Keys absent from the body
// take their default values.
func (h *FilterHandler) UpdateFilters(c *gin.Context) {
	settings := filter.DefaultSettings()
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter settings: " + err.Error()})
		return
	}
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.apply(c, settings)
}

// ResetFilters restores the default settings
func (h *FilterHandler) ResetFilters(c *gin.Context) {
	h.apply(c, filter.DefaultSettings())
}

func (h *FilterHandler) GetSummary(c *gin.Context) {
	summary := h.target.Settings().Summary()
	c.JSON(http.StatusOK, gin.H{
		"summary": summary,
		"active":  len(summary) > 0,
	})
}

func (h *FilterHandler) apply(c *gin.Context, settings filter.Settings) {
	if err := h.repo.Save(settings); err != nil {
		h.logger.WithCaller().Error("Failed to save filter settings", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save filter settings"})
		return
	}
	h.target.SetSettings(settings)

	h.logger.Info("Filter settings updated", h.logger.Args("active", settings.Summary()))
	c.JSON(http.StatusOK, settings)
}
