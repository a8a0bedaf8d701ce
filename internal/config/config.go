package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Database Configuration
	Database DatabaseConfig

	// Agent Configuration
	Agent AgentConfig

	// Local log file source
	LogSources LogSourcesConfig

	// Geo lookups
	Geo GeoConfig

	// Filter settings seed
	Filters FiltersConfig

	// Server Configuration
	Server ServerConfig

	// Log configuration
	LogLevel string
}

// DatabaseConfig contains database-related settings
type DatabaseConfig struct {
	Path         string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

// AgentConfig describes the agent synced from the environment and how
// agents are polled.
type AgentConfig struct {
	URL           string
	Token         string
	Name          string
	PollInterval  time.Duration
	FetchLines    int
	StatusTimeout time.Duration
}

// LogSourcesConfig contains the local log file settings
type LogSourcesConfig struct {
	TraefikLogPath string
	AutoDiscover   bool
	FromStart      bool
}

// GeoConfig selects the lookup provider and its limits
type GeoConfig struct {
	Provider   string // ip-api, mmdb or none
	APIURL     string
	RateLimit  int
	RateWindow time.Duration
	BatchSize  int
	CacheTTL   time.Duration
	Debounce   time.Duration
	Timeout    time.Duration
	CityDBPath string
}

// FiltersConfig points at an optional YAML seed for the filter settings
type FiltersConfig struct {
	SettingsFile string
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Host           string
	Port           int
	Production     bool
	StreamInterval time.Duration
	CORSOrigins    []string
}

// Load reads configuration from the given .env files (default ".env") and
// environment variables. Missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Path:         getEnv("DB_PATH", "data/traefiklens.db"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 4),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLife:  getEnvAsDuration("DB_CONN_MAX_LIFE", time.Hour),
		},
		Agent: AgentConfig{
			URL:           strings.TrimRight(getEnv("AGENT_API_URL", ""), "/"),
			Token:         getEnv("AGENT_API_TOKEN", ""),
			Name:          getEnv("AGENT_NAME", "Environment Agent"),
			PollInterval:  getEnvAsDuration("AGENT_POLL_INTERVAL", 5*time.Second),
			FetchLines:    getEnvAsInt("AGENT_FETCH_LINES", 1000),
			StatusTimeout: getEnvAsDuration("AGENT_STATUS_TIMEOUT", 5*time.Second),
		},
		LogSources: LogSourcesConfig{
			TraefikLogPath: getEnv("TRAEFIK_LOG_PATH", ""),
			AutoDiscover:   getEnvAsBool("LOG_AUTO_DISCOVER", false),
			FromStart:      getEnvAsBool("TRAEFIK_LOG_FROM_START", false),
		},
		Geo: GeoConfig{
			Provider:   strings.ToLower(getEnv("GEO_PROVIDER", "ip-api")),
			APIURL:     getEnv("GEO_API_URL", "http://ip-api.com"),
			RateLimit:  getEnvAsInt("GEO_RATE_LIMIT", 45),
			RateWindow: getEnvAsDuration("GEO_RATE_WINDOW", time.Minute),
			BatchSize:  getEnvAsInt("GEO_BATCH_SIZE", 100),
			CacheTTL:   getEnvAsDuration("GEO_CACHE_TTL", 24*time.Hour),
			Debounce:   getEnvAsDuration("GEO_DEBOUNCE", 2*time.Second),
			Timeout:    getEnvAsDuration("GEO_TIMEOUT", 10*time.Second),
			CityDBPath: getEnv("GEOIP_CITY_DB", "geoip/GeoLite2-City.mmdb"),
		},
		Filters: FiltersConfig{
			SettingsFile: getEnv("FILTER_SETTINGS_FILE", ""),
		},
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Production:     getEnvAsBool("SERVER_PRODUCTION", false),
			StreamInterval: getEnvAsDuration("STREAM_INTERVAL", 2*time.Second),
			CORSOrigins:    getEnvAsList("CORS_ORIGINS", nil),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Helper functions to read environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
