package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for stratum-engine.
// Values come from config.yaml and environment variables; environment always
// wins. Secrets (store password, credentials key) come only from environment.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8087"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Store is the engine's own PostgreSQL metadata store.
	Store StoreConfig `yaml:"store"`

	// Pool tunes connection pooling toward user datasources.
	Pool PoolConfig `yaml:"pool"`

	// Audit controls the audit trail retention window.
	Audit AuditConfig `yaml:"audit"`

	// MigrationsPath is the directory holding SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`

	// CredentialsKey encrypts datasource credentials at rest.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// StoreConfig holds the engine metadata store connection settings.
type StoreConfig struct {
	Host     string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User     string `yaml:"user" env:"PGUSER" env-default:"stratum"`
	Password string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"PGDATABASE" env-default:"stratum"`
	SSLMode  string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConns int32  `yaml:"max_conns" env:"PG_MAX_CONNS" env-default:"25"`
}

// URL renders the store connection string.
func (c StoreConfig) URL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// PoolConfig tunes pooling for user datasource connections.
type PoolConfig struct {
	MaxConns              int32 `yaml:"max_conns" env:"DS_POOL_MAX_CONNS" env-default:"10"`
	MinConns              int32 `yaml:"min_conns" env:"DS_POOL_MIN_CONNS" env-default:"1"`
	IdleTimeoutMinutes    int   `yaml:"idle_timeout_minutes" env:"DS_POOL_IDLE_MINUTES" env-default:"5"`
	MaxLifetimeMinutes    int   `yaml:"max_lifetime_minutes" env:"DS_POOL_LIFETIME_MINUTES" env-default:"60"`
	AcquireTimeoutSeconds int   `yaml:"acquire_timeout_seconds" env:"DS_POOL_ACQUIRE_SECONDS" env-default:"10"`
	MaxPoolsPerUser       int   `yaml:"max_pools_per_user" env:"DS_POOL_MAX_PER_USER" env-default:"10"`
}

// AuditConfig controls audit trail retention.
type AuditConfig struct {
	RetentionDays int `yaml:"retention_days" env:"AUDIT_RETENTION_DAYS" env-default:"90"`
}

// Load reads configuration from config.yaml (if present) and the environment.
func Load(version string) (*Config, error) {
	cfg := &Config{}

	const path = "config.yaml"
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("read config from environment: %w", err)
		}
	}

	cfg.Version = version

	if cfg.CredentialsKey == "" {
		return nil, fmt.Errorf("CREDENTIALS_KEY must be set (32-byte key, base64 encoded)")
	}

	return cfg, nil
}
