// Package config loads the service's deployable configuration: a YAML
// base file overridden by environment variables, the same two-layer shape
// the teacher used for its login/game server configs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// PackBackend selects the Location Store's object-store transport (§6).
type PackBackend string

const (
	PackBackendHTTP PackBackend = "http"
	PackBackendFile PackBackend = "file"
)

// DatabaseConfig holds PostgreSQL connection parameters. A non-empty DSN
// overrides the discrete fields wholesale.
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	DBName   string `yaml:"dbname" env:"DB_NAME"`
	SSLMode  string `yaml:"sslmode" env:"DB_SSLMODE"`
	DSN      string `yaml:"dsn" env:"DATABASE_DSN"`
}

// ConnString returns the PostgreSQL connection string.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// Config is the full set of knobs a deployed instance reads at startup
// (§6 "Environment variables recognized").
type Config struct {
	BindAddress string `yaml:"bind_address" env:"BIND_ADDRESS"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`

	Database DatabaseConfig `yaml:"database"`

	SessionBackend string `yaml:"session_backend" env:"SESSION_BACKEND"` // "memory" | "redis"
	RedisAddr      string `yaml:"redis_addr" env:"REDIS_ADDR"`

	JWTSigningSecret string `yaml:"jwt_signing_secret" env:"JWT_SIGNING_SECRET"`

	PackBackend  PackBackend `yaml:"pack_backend" env:"PACK_BACKEND"`
	PackBaseURL  string      `yaml:"pack_base_url" env:"PACK_BASE_URL"`
	PackVersion  string      `yaml:"pack_version" env:"PACK_VERSION"`
	PackLocalDir string      `yaml:"pack_local_dir" env:"PACK_LOCAL_DIR"`

	DisabledSetCap    int `yaml:"disabled_set_cap" env:"DISABLED_SET_CAP"`
	InterRoundDelayMs int `yaml:"inter_round_delay_ms" env:"INTER_ROUND_DELAY_MS"`
	AbandonmentMs     int `yaml:"abandonment_ms" env:"ABANDONMENT_MS"`
}

// Default returns a Config with sensible defaults for a single-box
// deployment (in-memory session cache, local pack mirror).
func Default() Config {
	return Config{
		BindAddress:       "0.0.0.0:8080",
		LogLevel:          "info",
		SessionBackend:    "memory",
		RedisAddr:         "127.0.0.1:6379",
		PackBackend:       PackBackendFile,
		PackVersion:       "v1",
		PackLocalDir:      "data/packs",
		DisabledSetCap:    200_000,
		InterRoundDelayMs: 5_000,
		AbandonmentMs:     60_000,
		Database: DatabaseConfig{
			Host:    "127.0.0.1",
			Port:    5432,
			User:    "opengeoguess",
			Password: "opengeoguess",
			DBName:  "opengeoguess",
			SSLMode: "disable",
		},
	}
}

// Load reads a YAML base configuration from path (defaults are used if the
// file is absent), then applies any recognized environment variable
// overrides on top via caarlos0/env.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("applying environment overrides: %w", err)
	}
	cfg.SessionBackend = strings.ToLower(cfg.SessionBackend)
	cfg.PackBackend = PackBackend(strings.ToLower(string(cfg.PackBackend)))
	return cfg, nil
}

// InterRoundDelay is InterRoundDelayMs as a time.Duration.
func (c Config) InterRoundDelay() time.Duration {
	return time.Duration(c.InterRoundDelayMs) * time.Millisecond
}

// AbandonmentTimeout is AbandonmentMs as a time.Duration.
func (c Config) AbandonmentTimeout() time.Duration {
	return time.Duration(c.AbandonmentMs) * time.Millisecond
}
