/*
Package config loads server configuration.

PURPOSE:
  One place for every tunable: bind address, storage driver, lock timeout,
  catalog file. Values come from a config file (bursar.yaml), environment
  variables (BURSAR_*), or defaults, in that order of increasing priority
  for the environment.

SOURCES:
  1. Defaults (below)
  2. ./bursar.yaml or /etc/bursar/bursar.yaml, when present
  3. Environment: BURSAR_HTTP_ADDR, BURSAR_STORAGE_DRIVER, ...
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// CONFIG
// =============================================================================

type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Storage StorageConfig `mapstructure:"storage"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Locks   LockConfig    `mapstructure:"locks"`
	Log     LogConfig     `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`

	// AllowedOrigins feeds the CORS middleware.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StorageConfig struct {
	// Driver is "memory", "sqlite", or "postgres".
	Driver string `mapstructure:"driver"`

	// Path is the sqlite database file.
	Path string `mapstructure:"path"`

	// DSN is the postgres connection string.
	DSN string `mapstructure:"dsn"`
}

type CatalogConfig struct {
	// Path to the JSON catalog. Empty means built-in defaults.
	Path string `mapstructure:"path"`
}

type LockConfig struct {
	// Timeout bounds the wait for an account's write slot.
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Development switches to zap's human-readable console encoder.
	Development bool `mapstructure:"development"`
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from file and environment. A missing config
// file is fine; a malformed one is not.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "bursar.db")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("catalog.path", "")
	v.SetDefault("locks.timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetConfigName("bursar")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/bursar")

	v.SetEnvPrefix("BURSAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q (want memory, sqlite, or postgres)", c.Storage.Driver)
	}
	if c.Locks.Timeout <= 0 {
		return fmt.Errorf("locks.timeout must be positive")
	}
	return nil
}
