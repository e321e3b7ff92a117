package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Insights      InsightsConfig
	Orchestrator  OrchestratorConfig
	Scheduler     SchedulerConfig
	Notifications NotificationsConfig
	Session       SessionConfig
	Observability ObservabilityConfig
	Security      SecurityConfig
	RateLimit     RateLimitConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// InsightsConfig holds the remote insight service configuration
type InsightsConfig struct {
	BaseURL        string
	APIToken       string
	RequestTimeout time.Duration
}

// OrchestratorConfig holds fan-out configuration
type OrchestratorConfig struct {
	Concurrency    int
	TenantTimeout  time.Duration
	RunDeadline    time.Duration
	TenantPageSize int
}

// SchedulerConfig holds cron trigger configuration
type SchedulerConfig struct {
	Enabled  bool
	File     string
	Cron     string
	Timezone string
}

// NotificationsConfig holds notification defaults
type NotificationsConfig struct {
	DefaultDuration time.Duration
	RetryTimeout    time.Duration
}

// SessionConfig holds dashboard session configuration
type SessionConfig struct {
	CookieName      string
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRate   float64
}

// SecurityConfig holds operator API credentials
type SecurityConfig struct {
	APIToken string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout:    parseDuration("SERVER_WRITE_TIMEOUT", "15m"),
			IdleTimeout:     parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			ShutdownTimeout: parseDuration("SERVER_SHUTDOWN_TIMEOUT", "30s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "insightd"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "insightd"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Insights: InsightsConfig{
			BaseURL:        getEnv("INSIGHTS_BASE_URL", ""),
			APIToken:       getEnv("INSIGHTS_API_TOKEN", ""),
			RequestTimeout: parseDuration("INSIGHTS_REQUEST_TIMEOUT", "60s"),
		},
		Orchestrator: OrchestratorConfig{
			Concurrency:    parseInt("ORCHESTRATOR_CONCURRENCY", 1),
			TenantTimeout:  parseDuration("ORCHESTRATOR_TENANT_TIMEOUT", "60s"),
			RunDeadline:    parseDuration("ORCHESTRATOR_RUN_DEADLINE", "0s"),
			TenantPageSize: parseInt("TENANT_PAGE_SIZE", 500),
		},
		Scheduler: SchedulerConfig{
			Enabled:  parseBool("SCHEDULE_ENABLED", true),
			File:     getEnv("SCHEDULE_FILE", ""),
			Cron:     getEnv("SCHEDULE_CRON", "0 2 * * *"),
			Timezone: getEnv("SCHEDULE_TIMEZONE", "UTC"),
		},
		Notifications: NotificationsConfig{
			DefaultDuration: parseDuration("NOTIFY_DEFAULT_DURATION", "10s"),
			RetryTimeout:    parseDuration("NOTIFY_RETRY_TIMEOUT", "5m"),
		},
		Session: SessionConfig{
			CookieName:      getEnv("SESSION_COOKIE_NAME", "insightd_session"),
			IdleTimeout:     parseDuration("SESSION_IDLE_TIMEOUT", "30m"),
			CleanupInterval: parseDuration("SESSION_CLEANUP_INTERVAL", "1m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "insightd"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
			Environment:    getEnv("DEPLOYMENT_ENVIRONMENT", "development"),
			SamplingRate:   parseFloat("OTEL_SAMPLING_RATE", 1.0),
		},
		Security: SecurityConfig{
			APIToken: getEnv("API_TOKEN", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloat("RATELIMIT_RPS", 10),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Password == "" {
		errs = append(errs, fmt.Errorf("DB_PASSWORD is required"))
	}
	if c.Insights.BaseURL == "" {
		errs = append(errs, fmt.Errorf("INSIGHTS_BASE_URL is required"))
	} else if u, err := url.Parse(c.Insights.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("INSIGHTS_BASE_URL must be an absolute URL"))
	}
	if c.Security.APIToken == "" {
		errs = append(errs, fmt.Errorf("API_TOKEN is required"))
	}
	if c.Orchestrator.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("ORCHESTRATOR_CONCURRENCY must be at least 1"))
	}
	if c.Orchestrator.TenantTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ORCHESTRATOR_TENANT_TIMEOUT must be positive"))
	}
	if c.Orchestrator.RunDeadline < 0 {
		errs = append(errs, fmt.Errorf("ORCHESTRATOR_RUN_DEADLINE must not be negative"))
	}
	if c.Orchestrator.TenantPageSize < 1 {
		errs = append(errs, fmt.Errorf("TENANT_PAGE_SIZE must be at least 1"))
	}
	if c.Session.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_CLEANUP_INTERVAL must be positive"))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULE_TIMEZONE: %w", err))
	}
	if c.Observability.SamplingRate < 0 || c.Observability.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLING_RATE must be between 0 and 1"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

// Location returns the scheduler time zone
func (s SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
