// api/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend selection values for STORAGE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config is the full environment surface, parsed once at startup. Call sites
// receive values from here rather than reading os.Getenv themselves.
type Config struct {
	Port           string `env:"PORT" envDefault:"8080"`
	FrontendOrigin string `env:"FE_ORIGIN"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`

	DatabaseURL        string        `env:"DATABASE_URL"`
	DBMaxOpenConns     int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime  time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	DBStatementTimeout time.Duration `env:"DB_STATEMENT_TIMEOUT" envDefault:"10s"`

	// Bound on each in-memory collection; oldest entries are evicted first.
	MaxStorageSize int `env:"MAX_STORAGE_SIZE" envDefault:"10000"`

	BatchEnabled       bool          `env:"BATCH_ENABLED" envDefault:"true"`
	BatchMaxSize       int           `env:"BATCH_MAX_SIZE" envDefault:"50"`
	BatchFlushInterval time.Duration `env:"BATCH_FLUSH_INTERVAL" envDefault:"10s"`

	CacheEnabled bool          `env:"CACHE_ENABLED" envDefault:"true"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"60s"`

	RetentionDays     int           `env:"RETENTION_DAYS" envDefault:"30"`
	ArchiveEnabled    bool          `env:"ARCHIVE_ENABLED" envDefault:"true"`
	RetentionInterval time.Duration `env:"RETENTION_INTERVAL" envDefault:"24h"`

	CaptureRateLimit int `env:"CAPTURE_RATE_LIMIT" envDefault:"60"`

	JWTSecretKey string `env:"JWT_SECRET_KEY"`
	APIKey       string `env:"AUTH_DEFAULT"`
}

// Load parses the process environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment config: %w", err)
	}
	if cfg.StorageBackend != BackendMemory && cfg.StorageBackend != BackendPostgres {
		return nil, fmt.Errorf("invalid STORAGE_BACKEND %q (want %q or %q)", cfg.StorageBackend, BackendMemory, BackendPostgres)
	}
	if cfg.StorageBackend == BackendPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("STORAGE_BACKEND=postgres requires DATABASE_URL")
	}
	return cfg, nil
}
