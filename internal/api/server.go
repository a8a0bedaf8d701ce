package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"traefiklens/internal/api/handlers"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	server *http.Server
	logger *pterm.Logger
	port   int
}

// Config holds server configuration
type Config struct {
	Host        string
	Port        int
	Production  bool
	CORSOrigins []string // empty allows any origin
}

// Handlers groups everything the router dispatches to.
type Handlers struct {
	Dashboard *handlers.DashboardHandler
	Realtime  *handlers.RealtimeHandler
	Filters   *handlers.FilterHandler
	Agents    *handlers.AgentHandler
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Health adds fields to the /health response when set.
	Health func() gin.H
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config, h Handlers, logger *pterm.Logger) *Server {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.CORSOrigins))

	router.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		}
		if h.Health != nil {
			for k, v := range h.Health() {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})

	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "TraefikLens API Server",
			"api":     "/api/v1",
			"health":  "/health",
		})
	})

	// API routes
	api := router.Group("/api/v1")
	{
		api.GET("/dashboard", h.Dashboard.GetDashboard)
		api.GET("/dashboard/stream", h.Realtime.StreamDashboard)
		api.GET("/geo/progress", h.Dashboard.GetGeoProgress)

		api.GET("/filters", h.Filters.GetFilters)
		api.PUT("/filters", h.Filters.UpdateFilters)
		api.GET("/filters/summary", h.Filters.GetSummary)
		api.POST("/filters/reset", h.Filters.ResetFilters)

		api.GET("/agents", h.Agents.ListAgents)
		api.POST("/agents", h.Agents.CreateAgent)
		api.POST("/agents/check", h.Agents.CheckAll)
		api.GET("/agents/selected", h.Agents.GetSelected)
		api.PUT("/agents/selected", h.Agents.SetSelected)
		api.GET("/agents/:id", h.Agents.GetAgent)
		api.PUT("/agents/:id", h.Agents.UpdateAgent)
		api.DELETE("/agents/:id", h.Agents.DeleteAgent)
		api.POST("/agents/:id/check", h.Agents.CheckAgent)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		router: router,
		server: &http.Server{
			Addr:           addr,
			Handler:        router,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   0, // SSE streams stay open
			MaxHeaderBytes: 1 << 20,
		},
		logger: logger,
		port:   cfg.Port,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server
func (s *Server) Run() error {
	s.logger.Info("Starting web server", s.logger.Args("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.WithCaller().Error("Web server failed", s.logger.Args("error", err))
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down web server...")
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers. With no configured origins every origin
// is allowed.
func corsMiddleware(origins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case len(origins) == 0:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(origins, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
