package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"crop-rotation/pkg/logging"
)

// Dataset source kinds.
const (
	SourceCSV      = "csv"
	SourcePostgres = "postgres"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Dataset   DatasetConfig   `koanf:"dataset"`
	Rotation  RotationConfig  `koanf:"rotation"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL settings. The database is optional unless
// the dataset source is postgres.
type DatabaseConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	User            string        `koanf:"user"`
	Password        string        `koanf:"password"`
	Database        string        `koanf:"database"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// DSN returns a lib/pq keyword/value connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// URL returns a postgres:// URL, the form golang-migrate expects.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Database,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}

// DatasetConfig selects where observations come from and how often the
// aggregates are rebuilt.
type DatasetConfig struct {
	Source          string        `koanf:"source"`
	Path            string        `koanf:"path"`
	Watch           bool          `koanf:"watch"`
	WatchDebounce   time.Duration `koanf:"watch_debounce"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	BatchSize       int           `koanf:"batch_size"`
}

// RotationConfig bounds recommendation queries.
type RotationConfig struct {
	DefaultTopK   int `koanf:"default_top_k"`
	MaxTopK       int `koanf:"max_top_k"`
	MaxCandidates int `koanf:"max_candidates"`
}

// RateLimitConfig configures the token bucket in front of the API.
type RateLimitConfig struct {
	Enabled           bool    `koanf:"enabled"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level   string `koanf:"level"`
	Service string `koanf:"service"`
	Version string `koanf:"version"`
}

// LogLevel parses Level.
func (l LoggingConfig) LogLevel() logging.LogLevel {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return logging.InfoLevel
	}
	return level
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Dataset.Source {
	case SourceCSV:
		if strings.TrimSpace(c.Dataset.Path) == "" {
			return fmt.Errorf("dataset.path is required when dataset.source=%s", SourceCSV)
		}
	case SourcePostgres:
		if !c.Database.Enabled {
			return fmt.Errorf("database.enabled must be true when dataset.source=%s", SourcePostgres)
		}
	default:
		return fmt.Errorf("dataset.source must be %q or %q, got %q", SourceCSV, SourcePostgres, c.Dataset.Source)
	}

	if c.Dataset.RefreshInterval < 0 {
		return fmt.Errorf("dataset.refresh_interval must not be negative")
	}
	if c.Dataset.BatchSize <= 0 {
		return fmt.Errorf("dataset.batch_size must be positive, got %d", c.Dataset.BatchSize)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("database.host and database.database are required when database.enabled=true")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be positive, got %d", c.Database.MaxOpenConns)
		}
	}

	if c.Rotation.MaxTopK <= 0 {
		return fmt.Errorf("rotation.max_top_k must be positive, got %d", c.Rotation.MaxTopK)
	}
	if c.Rotation.DefaultTopK < 0 || c.Rotation.DefaultTopK > c.Rotation.MaxTopK {
		return fmt.Errorf("rotation.default_top_k must be between 0 and rotation.max_top_k (%d), got %d",
			c.Rotation.MaxTopK, c.Rotation.DefaultTopK)
	}
	if c.Rotation.MaxCandidates <= 0 {
		return fmt.Errorf("rotation.max_candidates must be positive, got %d", c.Rotation.MaxCandidates)
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit.requests_per_second and rate_limit.burst must be positive when enabled")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}
