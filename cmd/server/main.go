package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"traefiklens/internal/agent"
	"traefiklens/internal/api"
	"traefiklens/internal/api/handlers"
	"traefiklens/internal/banner"
	"traefiklens/internal/clock"
	"traefiklens/internal/config"
	"traefiklens/internal/database"
	"traefiklens/internal/database/models"
	"traefiklens/internal/database/repositories"
	"traefiklens/internal/discovery"
	"traefiklens/internal/filter"
	"traefiklens/internal/geo"
	"traefiklens/internal/ingestion"
	"traefiklens/internal/parser/traefik"
	"traefiklens/internal/realtime"
	"traefiklens/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
	"github.com/spf13/pflag"
	"gorm.io/gorm"
)

func main() {
	var envFile string
	var port int
	var logLevel string

	flagSet := pflag.NewFlagSet("traefiklens", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "path to a .env file to load before reading the environment")
	flagSet.IntVar(&port, "port", 0, "HTTP port (overrides SERVER_PORT)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides LOG_LEVEL)")
	showVersion := flagSet.Bool("version", false, "print the version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if *showVersion {
		fmt.Println("traefiklens " + banner.Version)
		return
	}

	// Start at INFO and reconfigure once LOG_LEVEL is known
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelInfo)

	banner.Print()

	logger.Info("Initializing TraefikLens...")

	cfg, err := config.Load(envFile)
	if err != nil {
		logger.WithCaller().Fatal("Failed to load configuration", logger.Args("error", err))
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	lvl := strings.ToLower(cfg.LogLevel)
	logger = pterm.DefaultLogger.WithLevel(parseLogLevel(lvl))
	logger.Debug("Log level set", logger.Args("level", lvl))

	logger.Debug("Configuration loaded",
		logger.Args(
			"db_path", cfg.Database.Path,
			"server_port", cfg.Server.Port,
			"geo_provider", cfg.Geo.Provider,
			"agent_url", cfg.Agent.URL,
		))

	db, err := database.NewConnection(&database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLife:  cfg.Database.ConnMaxLife,
	}, logger)
	if err != nil {
		logger.WithCaller().Fatal("Failed to connect to database", logger.Args("error", err))
	}

	metrics := telemetry.New(nil)
	if sqlDB, err := db.DB(); err == nil {
		if err := metrics.WatchDB(sqlDB); err != nil {
			logger.Warn("Failed to register database metrics", logger.Args("error", err))
		}
	}

	logger.Debug("Initializing repositories...")
	agentRepo := repositories.NewAgentRepository(db)
	settingsRepo := repositories.NewSettingsRepository(db)
	sourceRepo := repositories.NewLogSourceRepository(db)

	if envAgent, err := agentRepo.SyncEnvAgent(cfg.Agent.URL, cfg.Agent.Token, cfg.Agent.Name); err != nil {
		logger.WithCaller().Warn("Failed to sync environment agent", logger.Args("error", err))
	} else if envAgent != nil {
		logger.Info("Environment agent synced", logger.Args("id", envAgent.ID, "url", envAgent.URL))
	}

	settings := loadSettings(settingsRepo, cfg.Filters.SettingsFile, logger)

	var geoAgg realtime.GeoAggregator
	var mmdb *geo.MMDBProvider
	switch cfg.Geo.Provider {
	case "none":
		logger.Info("Geo lookups disabled by configuration")
	case "mmdb":
		mmdb, err = geo.OpenMMDB(cfg.Geo.CityDBPath)
		if err != nil {
			logger.Warn("GeoIP database unavailable, continuing without geo lookups",
				logger.Args("path", cfg.Geo.CityDBPath, "error", err))
			break
		}
		geoAgg = geo.NewAggregator(mmdb, geoOptions(cfg.Geo, false, metrics.GeoBatch), logger)
		logger.Info("Geo lookups enabled", logger.Args("provider", "mmdb", "path", cfg.Geo.CityDBPath))
	default:
		if cfg.Geo.Provider != "ip-api" {
			logger.Warn("Unknown geo provider, falling back to ip-api", logger.Args("provider", cfg.Geo.Provider))
		}
		provider := geo.NewIPAPIProvider(cfg.Geo.APIURL, cfg.Geo.Timeout, logger)
		geoAgg = geo.NewAggregator(provider, geoOptions(cfg.Geo, true, metrics.GeoBatch), logger)
		logger.Info("Geo lookups enabled", logger.Args("provider", "ip-api", "url", cfg.Geo.APIURL))
	}

	session := realtime.NewSession(settings, geoAgg, realtime.Options{
		Debounce:    cfg.Geo.Debounce,
		OnRecompute: metrics.Recompute,
	}, logger)

	parser := traefik.NewParser(logger)

	poller := ingestion.NewAgentPoller(nil, parser, session, ingestion.PollerOptions{
		Interval: cfg.Agent.PollInterval,
		Lines:    cfg.Agent.FetchLines,
		Recorder: metrics,
	}, logger)

	switcher := &agentSwitcher{
		poller:        poller,
		session:       session,
		statusTimeout: cfg.Agent.StatusTimeout,
		logger:        logger,
	}
	if selected, err := agentRepo.Selected(); err == nil {
		switcher.SelectAgent(selected)
	} else if !errors.Is(err, repositories.ErrAgentNotFound) {
		logger.WithCaller().Warn("Failed to load selected agent", logger.Args("error", err))
	} else {
		logger.Info("No agent registered yet, waiting for one to be added")
	}

	sources := []ingestion.Source{poller}
	detector := discovery.NewTraefikDetector(cfg.LogSources.TraefikLogPath, cfg.LogSources.AutoDiscover, parser, logger)
	if path, ok := detector.Detect(); ok {
		sources = append(sources, ingestion.NewFileTailer(path, parser, session, ingestion.TailerOptions{
			FromStart: cfg.LogSources.FromStart,
			Recorder:  metrics,
			Positions: sourceRepo,
		}, logger))
	}

	coordinator := ingestion.NewCoordinator(logger, sources...)
	logger.Info("Starting ingestion engine...")
	if err := coordinator.Start(); err != nil {
		logger.WithCaller().Fatal("Failed to start ingestion coordinator", logger.Args("error", err))
	}

	logger.Info("Initializing web server...")
	webServer := api.NewServer(&api.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		Production:  cfg.Server.Production,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, api.Handlers{
		Dashboard: handlers.NewDashboardHandler(session, logger),
		Realtime:  handlers.NewRealtimeHandler(session, cfg.Server.StreamInterval, logger),
		Filters:   handlers.NewFilterHandler(session, settingsRepo, logger),
		Agents: handlers.NewAgentHandler(agentRepo, func(a *models.Agent) handlers.StatusChecker {
			return agent.NewClient(a.URL, a.Token, cfg.Agent.StatusTimeout, logger)
		}, switcher, logger),
		Metrics: metrics.Handler(),
		Health: func() gin.H {
			return gin.H{
				"ingestion": coordinator.GetStatus(),
				"source":    session.SourceStatus(),
			}
		},
	}, logger)

	go func() {
		if err := webServer.Run(); err != nil {
			logger.WithCaller().Error("Web server error", logger.Args("error", err))
		}
	}()

	logger.Info("TraefikLens is running",
		logger.Args("url", pterm.Sprintf("http://localhost:%d", cfg.Server.Port)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping services...")

	// Stop ingestion first so no records arrive during teardown
	logger.Debug("Stopping ingestion coordinator...")
	coordinator.Stop()
	session.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Debug("Stopping web server...")
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		logger.WithCaller().Error("Web server shutdown error", logger.Args("error", err))
	} else {
		logger.Info("Web server stopped successfully")
	}

	if mmdb != nil {
		if err := mmdb.Close(); err != nil {
			logger.Warn("Failed to close GeoIP database", logger.Args("error", err))
		}
	}
	closeDatabase(db, logger)

	logger.Info("TraefikLens stopped gracefully")
}

// agentSwitcher points the poller at the selected agent and starts the
// dashboard over.
type agentSwitcher struct {
	poller        *ingestion.AgentPoller
	session       *realtime.Session
	statusTimeout time.Duration
	logger        *pterm.Logger
}

func (s *agentSwitcher) SelectAgent(a *models.Agent) {
	if a == nil {
		s.poller.SetFetcher(nil)
		s.session.Reset()
		s.logger.Info("No agent selected, polling paused")
		return
	}
	s.poller.SetFetcher(agent.NewClient(a.URL, a.Token, s.statusTimeout, s.logger))
	s.session.Reset()
	s.logger.Info("Polling agent", s.logger.Args("id", a.ID, "url", a.URL))
}

// geoOptions builds the aggregator options. Only a remote provider with a
// request quota gets the rate limiter; local databases run unthrottled.
func geoOptions(cfg config.GeoConfig, rateLimited bool, onBatch func(error)) geo.Options {
	opts := geo.Options{
		BatchSize: cfg.BatchSize,
		Cache:     geo.NewCache(cfg.CacheTTL, clock.Real()),
		OnBatch:   onBatch,
	}
	if rateLimited {
		opts.Limiter = geo.NewLimiter(cfg.RateLimit, cfg.RateWindow, clock.Real())
	}
	return opts
}

// loadSettings prefers the stored settings, then the YAML seed file, then
// the defaults. Whatever is chosen is stored back.
func loadSettings(repo repositories.SettingsRepository, seedFile string, logger *pterm.Logger) filter.Settings {
	settings, err := repo.Get()
	if err == nil {
		logger.Debug("Filter settings restored", logger.Args("active", settings.Summary()))
		return settings
	}
	if !errors.Is(err, repositories.ErrNoSettings) {
		logger.WithCaller().Warn("Failed to read stored filter settings", logger.Args("error", err))
	}

	settings = filter.DefaultSettings()
	if seedFile != "" {
		seeded, err := filter.LoadSettingsFile(seedFile)
		if err != nil {
			logger.WithCaller().Warn("Ignoring filter settings file", logger.Args("path", seedFile, "error", err))
		} else {
			settings = seeded
			logger.Info("Filter settings seeded from file", logger.Args("path", seedFile))
		}
	}

	if err := repo.Save(settings); err != nil {
		logger.WithCaller().Warn("Failed to store filter settings", logger.Args("error", err))
	}
	return settings
}

func closeDatabase(db *gorm.DB, logger *pterm.Logger) {
	if err := database.Close(db); err != nil {
		logger.Warn("Failed to close database", logger.Args("error", err))
	}
}

// parseLogLevel maps LOG_LEVEL to a pterm level, defaulting to info.
func parseLogLevel(level string) pterm.LogLevel {
	switch level {
	case "trace":
		return pterm.LogLevelTrace
	case "debug":
		return pterm.LogLevelDebug
	case "info":
		return pterm.LogLevelInfo
	case "warn", "warning":
		return pterm.LogLevelWarn
	case "error":
		return pterm.LogLevelError
	case "fatal":
		return pterm.LogLevelFatal
	default:
		return pterm.LogLevelInfo
	}
}
