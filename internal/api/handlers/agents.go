package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"traefiklens/internal/agent"
	"traefiklens/internal/database/models"
	"traefiklens/internal/database/repositories"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"
)

// checkAllConcurrency bounds parallel status checks.
const checkAllConcurrency = 4

// StatusChecker queries one agent's health. *agent.Client satisfies it.
type StatusChecker interface {
	CheckStatus(ctx context.Context) agent.Status
}

// CheckerFactory builds a StatusChecker for a registered agent.
type CheckerFactory func(a *models.Agent) StatusChecker

// AgentSelector switches the log source to another agent. A nil agent
// means no agent is available.
type AgentSelector interface {
	SelectAgent(a *models.Agent)
}

// AgentHandler manages the agent registry
type AgentHandler struct {
	repo     repositories.AgentRepository
	checkers CheckerFactory
	selector AgentSelector
	logger   *pterm.Logger
	now      func() time.Time
}

func NewAgentHandler(repo repositories.AgentRepository, checkers CheckerFactory, selector AgentSelector, logger *pterm.Logger) *AgentHandler {
	return &AgentHandler{
		repo:     repo,
		checkers: checkers,
		selector: selector,
		logger:   logger,
		now:      time.Now,
	}
}

type createAgentRequest struct {
	Name        string   `json:"name" binding:"required"`
	URL         string   `json:"url" binding:"required,url"`
	Token       string   `json:"token"`
	Location    string   `json:"location" binding:"omitempty,oneof=on-site off-site"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type selectAgentRequest struct {
	AgentID string `json:"agentId" binding:"required"`
}

// checkResult is one entry of a status check response
type checkResult struct {
	ID string `json:"id"`
	agent.Status
}

func redactAll(agents []*models.Agent) []models.Agent {
	out := make([]models.Agent, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Redacted())
	}
	return out
}

// respondRepoError maps repository errors to HTTP statuses.
func (h *AgentHandler) respondRepoError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, repositories.ErrAgentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
	case errors.Is(err, repositories.ErrEnvAgent):
		c.JSON(http.StatusForbidden, gin.H{"error": "Cannot delete environment-sourced agents"})
	default:
		h.logger.WithCaller().Error("Failed to "+action, h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action})
	}
}

func (h *AgentHandler) ListAgents(c *gin.Context) {
	agents, err := h.repo.FindAll()
	if err != nil {
		h.respondRepoError(c, err, "list agents")
		return
	}
	c.JSON(http.StatusOK, redactAll(agents))
}

func (h *AgentHandler) GetAgent(c *gin.Context) {
	a, err := h.repo.FindByID(c.Param("id"))
	if err != nil {
		h.respondRepoError(c, err, "get agent")
		return
	}
	c.JSON(http.StatusOK, a.Redacted())
}

func (h *AgentHandler) CreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid agent: " + err.Error()})
		return
	}

	a := &models.Agent{
		Name:        req.Name,
		URL:         req.URL,
		Token:       req.Token,
		Location:    req.Location,
		Description: req.Description,
		Tags:        req.Tags,
	}
	_, selErr := h.repo.Selected()
	if err := h.repo.Create(a); err != nil {
		h.respondRepoError(c, err, "create agent")
		return
	}
	// The first agent becomes the polled one
	if errors.Is(selErr, repositories.ErrAgentNotFound) {
		if selected, err := h.repo.Selected(); err == nil {
			h.selector.SelectAgent(selected)
		}
	}

	h.logger.Info("Agent registered", h.logger.Args("id", a.ID, "url", a.URL))
	c.JSON(http.StatusCreated, a.Redacted())
}

// UpdateAgent applies a partial update. When the selected agent's address
// or token changes, polling switches over to the new values.
func (h *AgentHandler) UpdateAgent(c *gin.Context) {
	var update repositories.AgentUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid agent update: " + err.Error()})
		return
	}
	if update.Location != nil && *update.Location != models.AgentLocationOnSite && *update.Location != models.AgentLocationOffSite {
		c.JSON(http.StatusBadRequest, gin.H{"error": "location must be on-site or off-site"})
		return
	}

	id := c.Param("id")
	updated, err := h.repo.Update(id, update)
	if err != nil {
		h.respondRepoError(c, err, "update agent")
		return
	}

	if update.URL != nil || update.Token != nil {
		if selected, err := h.repo.Selected(); err == nil && selected.ID == id {
			h.selector.SelectAgent(updated)
		}
	}

	c.JSON(http.StatusOK, updated.Redacted())
}

func (h *AgentHandler) DeleteAgent(c *gin.Context) {
	id := c.Param("id")
	previous, _ := h.repo.Selected()

	if err := h.repo.Delete(id); err != nil {
		h.respondRepoError(c, err, "delete agent")
		return
	}

	if previous != nil && previous.ID == id {
		next, err := h.repo.Selected()
		if err != nil {
			next = nil
		}
		h.selector.SelectAgent(next)
	}

	h.logger.Info("Agent deleted", h.logger.Args("id", id))
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// CheckAgent queries one agent's status and records the outcome.
func (h *AgentHandler) CheckAgent(c *gin.Context) {
	a, err := h.repo.FindByID(c.Param("id"))
	if err != nil {
		h.respondRepoError(c, err, "check agent")
		return
	}
	c.JSON(http.StatusOK, h.check(c.Request.Context(), a))
}

// CheckAll queries every agent concurrently.
func (h *AgentHandler) CheckAll(c *gin.Context) {
	agents, err := h.repo.FindAll()
	if err != nil {
		h.respondRepoError(c, err, "list agents")
		return
	}

	results := make([]checkResult, len(agents))
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.SetLimit(checkAllConcurrency)
	for i, a := range agents {
		g.Go(func() error {
			// Agents not reached before the request went away are left alone
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = h.check(ctx, a)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.logger.Warn("Agent status check interrupted", h.logger.Args("total", len(agents), "error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Status check interrupted"})
		return
	}

	online := 0
	for _, r := range results {
		if r.Online {
			online++
		}
	}
	h.logger.Debug("Checked all agents", h.logger.Args("total", len(results), "online", online))

	c.JSON(http.StatusOK, results)
}

func (h *AgentHandler) check(ctx context.Context, a *models.Agent) checkResult {
	status := h.checkers(a).CheckStatus(ctx)

	state := models.AgentStatusOffline
	if status.Online {
		state = models.AgentStatusOnline
	}
	if err := h.repo.UpdateStatus(a.ID, state, h.now()); err != nil {
		h.logger.Warn("Failed to record agent status", h.logger.Args("id", a.ID, "error", err))
	}
	return checkResult{ID: a.ID, Status: status}
}

func (h *AgentHandler) GetSelected(c *gin.Context) {
	a, err := h.repo.Selected()
	if err != nil {
		h.respondRepoError(c, err, "get selected agent")
		return
	}
	c.JSON(http.StatusOK, a.Redacted())
}

// SetSelected switches the dashboard to another agent. The session starts
// over from that agent's tail.
func (h *AgentHandler) SetSelected(c *gin.Context) {
	var req selectAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agentId is required"})
		return
	}

	if err := h.repo.SetSelected(req.AgentID); err != nil {
		h.respondRepoError(c, err, "select agent")
		return
	}
	a, err := h.repo.FindByID(req.AgentID)
	if err != nil {
		h.respondRepoError(c, err, "select agent")
		return
	}

	h.selector.SelectAgent(a)
	h.logger.Info("Agent selected", h.logger.Args("id", a.ID, "url", a.URL))
	c.JSON(http.StatusOK, a.Redacted())
}
