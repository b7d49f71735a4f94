package config

import (
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application
type Config struct {
	// Remote ledger source configuration
	Source SourceConfig

	// Local record store configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Sync engine configuration
	Sync SyncConfig

	// Logging configuration
	Log LogConfig
}

// SourceConfig holds remote data-source settings
type SourceConfig struct {
	// Endpoints to rotate over (comma-separated base URLs)
	Endpoints      []string      `envconfig:"SOURCE_ENDPOINTS" default:"http://localhost:8899"`
	RequestTimeout time.Duration `envconfig:"SOURCE_REQUEST_TIMEOUT" default:"15s"`
	MaxRetries     int           `envconfig:"SOURCE_MAX_RETRIES" default:"3"`
	BackoffBase    time.Duration `envconfig:"SOURCE_BACKOFF_BASE" default:"300ms"`
}

// DatabaseConfig holds record store connection settings.
// Driver is "sqlite3" for the embedded default or "postgres" for a
// server-backed deployment; DSN is a file path for sqlite3 and a
// connection string for postgres.
type DatabaseConfig struct {
	Driver          string        `envconfig:"DB_DRIVER" default:"sqlite3"`
	DSN             string        `envconfig:"DB_DSN" default:"data/ledgertrail.db"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int           `envconfig:"REDIS_PORT" default:"6379"`
	Password string        `envconfig:"REDIS_PASSWORD" default:""`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL time.Duration `envconfig:"REDIS_CACHE_TTL" default:"2m"`
}

// SyncConfig holds sync engine settings
type SyncConfig struct {
	MetricsPort      int           `envconfig:"SYNC_METRICS_PORT" default:"8080"`
	PageSize         int           `envconfig:"SYNC_PAGE_SIZE" default:"1000"`
	TargetCount      int           `envconfig:"SYNC_TARGET_COUNT" default:"1000"`
	BodyBatchSize    int           `envconfig:"SYNC_BODY_BATCH_SIZE" default:"5"`
	BodyConcurrency  int           `envconfig:"SYNC_BODY_CONCURRENCY" default:"3"`
	BatchPause       time.Duration `envconfig:"SYNC_BATCH_PAUSE" default:"500ms"`
	PollInterval     time.Duration `envconfig:"SYNC_POLL_INTERVAL" default:"60s"`
	SchedulerWorkers int           `envconfig:"SYNC_SCHEDULER_WORKERS" default:"4"`

	// Accounts to sync in daemon mode (comma-separated)
	Accounts []string `envconfig:"SYNC_ACCOUNTS" default:""`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Addr returns the Redis address in host:port form
func (c *RedisConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
