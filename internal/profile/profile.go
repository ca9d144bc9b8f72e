package profile

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo".
	Mode string
	// Addr is the binding address for the HTTP server.
	Addr string
	// Port is the binding port for the HTTP server.
	Port int
	// Driver is the backing store driver, inferred from DatabaseURL by
	// Validate. Either "sqlite" or "postgres".
	Driver string
	// DSN is the driver-specific data source name.
	DSN string
	// DatabaseURL is the raw connection string as configured.
	DatabaseURL string
	// MaxConcurrentTasks bounds the worker pool size.
	MaxConcurrentTasks int
	// SchedulerPollInterval is the scheduler tick period.
	SchedulerPollInterval time.Duration
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// Version is the current server version.
	Version string
}

const (
	defaultDatabaseURL        = "./tasks.db"
	defaultMaxConcurrentTasks = 3
	defaultPollIntervalMS     = 500
)

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value, "default", defaultValue)
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	if p.DatabaseURL == "" {
		p.DatabaseURL = getEnvOrDefault("DATABASE_URL", defaultDatabaseURL)
	}
	p.MaxConcurrentTasks = getEnvOrDefaultInt("MAX_CONCURRENT_TASKS", defaultMaxConcurrentTasks)
	p.SchedulerPollInterval = time.Duration(getEnvOrDefaultInt("SCHEDULER_POLL_INTERVAL_MS", defaultPollIntervalMS)) * time.Millisecond
	p.LogLevel = strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))
}

// SlogLevel maps the configured LogLevel onto a slog.Level.
// Unknown labels fall back to info.
func (p *Profile) SlogLevel() slog.Level {
	switch p.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate normalizes the profile and resolves the store driver and DSN
// from DatabaseURL. A postgres:// (or postgresql://) URL selects the
// postgres driver; anything else is treated as a SQLite file path. A
// sqlite:// prefix is stripped for compatibility with URL-style
// configuration.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.MaxConcurrentTasks <= 0 {
		return errors.Errorf("MAX_CONCURRENT_TASKS must be positive, got %d", p.MaxConcurrentTasks)
	}
	if p.SchedulerPollInterval <= 0 {
		return errors.Errorf("SCHEDULER_POLL_INTERVAL_MS must be positive, got %s", p.SchedulerPollInterval)
	}

	if p.DatabaseURL == "" {
		p.DatabaseURL = defaultDatabaseURL
	}

	switch {
	case strings.HasPrefix(p.DatabaseURL, "postgres://") || strings.HasPrefix(p.DatabaseURL, "postgresql://"):
		p.Driver = "postgres"
		p.DSN = p.DatabaseURL
	case strings.HasPrefix(p.DatabaseURL, "sqlite://"):
		p.Driver = "sqlite"
		p.DSN = strings.TrimPrefix(p.DatabaseURL, "sqlite://")
	default:
		p.Driver = "sqlite"
		p.DSN = p.DatabaseURL
	}

	if p.DSN == "" {
		return errors.New("dsn required")
	}
	return nil
}
