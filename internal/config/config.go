// Package config loads pipelinectl settings from a YAML file and PIPELINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/velmie/pipeline-outbox/internal/logging"
)

// EnvPrefix prefixes environment overrides, e.g. PIPELINE_DATABASE_DSN.
const EnvPrefix = "PIPELINE"

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

var (
	// ErrUnknownDriver is returned for a database driver outside the supported set.
	ErrUnknownDriver = errors.New("config: unknown database driver")
	// ErrDSNRequired is returned when no database DSN is configured.
	ErrDSNRequired = errors.New("config: database dsn is required")
)

// Config holds all pipelinectl settings.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Backoff   BackoffConfig   `mapstructure:"backoff"`
	Reclaimer ReclaimerConfig `mapstructure:"reclaimer"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Learner   LearnerConfig   `mapstructure:"learner"`
	Patterns  PatternsConfig  `mapstructure:"patterns"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Log       logging.Config  `mapstructure:"log"`
}

// DatabaseConfig selects the outbox backend.
type DatabaseConfig struct {
	Driver string       `mapstructure:"driver"`
	DSN    string       `mapstructure:"dsn"`
	Tables TablesConfig `mapstructure:"tables"`
}

// TablesConfig overrides table names. Empty names keep the defaults.
type TablesConfig struct {
	Events       string `mapstructure:"events"`
	Observations string `mapstructure:"observations"`
	Patterns     string `mapstructure:"patterns"`
}

// WorkerConfig tunes the claim-and-process worker.
type WorkerConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Workers        int           `mapstructure:"workers"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	StatsInterval  time.Duration `mapstructure:"stats_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

// BackoffConfig is the static retry backoff.
type BackoffConfig struct {
	Base   time.Duration `mapstructure:"base"`
	Cap    time.Duration `mapstructure:"cap"`
	Jitter float64       `mapstructure:"jitter"`
}

// ReclaimerConfig tunes the stuck-event sweep.
type ReclaimerConfig struct {
	StuckAfter time.Duration `mapstructure:"stuck_after"`
	CheckEvery time.Duration `mapstructure:"check_every"`
}

// CleanupConfig tunes housekeeping.
type CleanupConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	CheckEvery    time.Duration `mapstructure:"check_every"`
	Limit         int           `mapstructure:"limit"`
	IncludeFailed bool          `mapstructure:"include_failed"`
}

// LearnerConfig tunes the adaptive cooldown learner.
type LearnerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Window   time.Duration `mapstructure:"window"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// PatternsConfig tunes the source timing analyzer.
type PatternsConfig struct {
	FallbackDelay time.Duration `mapstructure:"fallback_delay"`
	Location      string        `mapstructure:"location"`
	MinSamples    int           `mapstructure:"min_samples"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
}

// RedisConfig enables the shared learner snapshot cache.
type RedisConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Key     string        `mapstructure:"key"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// NATSConfig enables forwarding events to NATS.
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// MetricsConfig enables the Prometheus endpoint of the worker.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// HealthConfig points at the counting queries of the health gates.
type HealthConfig struct {
	QueriesFile string `mapstructure:"queries_file"`
}

// Load reads configuration from the optional file and the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return ErrDSNRequired
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "pipeline-outbox.db")
	v.SetDefault("database.tables.events", "")
	v.SetDefault("database.tables.observations", "")
	v.SetDefault("database.tables.patterns", "")

	v.SetDefault("worker.batch_size", 100)
	v.SetDefault("worker.poll_interval", "1s")
	v.SetDefault("worker.workers", 1)
	v.SetDefault("worker.handler_timeout", "0s")
	v.SetDefault("worker.stats_interval", "30s")
	v.SetDefault("worker.max_attempts", 5)

	v.SetDefault("backoff.base", "10s")
	v.SetDefault("backoff.cap", "300s")
	v.SetDefault("backoff.jitter", 0.1)

	v.SetDefault("reclaimer.stuck_after", "30m")
	v.SetDefault("reclaimer.check_every", "5m")

	v.SetDefault("cleanup.retention", "168h")
	v.SetDefault("cleanup.check_every", "1h")
	v.SetDefault("cleanup.limit", 10000)
	v.SetDefault("cleanup.include_failed", false)

	v.SetDefault("learner.enabled", true)
	v.SetDefault("learner.window", "2160h")
	v.SetDefault("learner.cache_ttl", "5m")

	v.SetDefault("patterns.fallback_delay", "60m")
	v.SetDefault("patterns.location", "UTC")
	v.SetDefault("patterns.min_samples", 3)
	v.SetDefault("patterns.stale_after", "720h")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.key", "pipeline:retrylearn:snapshot")
	v.SetDefault("redis.ttl", "10m")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "pipeline")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("health.queries_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
