// Package config loads ledgerd settings: defaults, then an optional YAML
// file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything ledgerd needs at startup.
type Config struct {
	DBPath     string     `yaml:"db_path"`
	ListenAddr string     `yaml:"listen_addr"`
	LogLevel   string     `yaml:"log_level"`
	Auth       AuthConfig `yaml:"auth"`
	Sync       SyncConfig `yaml:"sync"`
}

// AuthConfig configures token verification for the auth provider.
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// SyncConfig configures the upload loop. An empty URL disables it.
type SyncConfig struct {
	URL        string        `yaml:"url"`
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	BackoffMin time.Duration `yaml:"backoff_min"`
	BackoffMax time.Duration `yaml:"backoff_max"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DBPath:     "./data/ledger.db",
		ListenAddr: ":8080",
		LogLevel:   "info",
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Sync: SyncConfig{
			Interval:   5 * time.Second,
			BatchSize:  200,
			BackoffMin: time.Second,
			BackoffMax: time.Minute,
		},
	}
}

// Load builds the configuration. path may be empty; a missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Auth.Secret = getEnv("AUTH_SECRET", c.Auth.Secret)
	c.Auth.Issuer = getEnv("AUTH_ISSUER", c.Auth.Issuer)
	c.Sync.URL = getEnv("SYNC_URL", c.Sync.URL)

	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("failed to parse SYNC_INTERVAL: %w", err)
		}
		c.Sync.Interval = d
	}
	if v := os.Getenv("SYNC_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("failed to parse SYNC_BATCH_SIZE: %w", err)
		}
		c.Sync.BatchSize = n
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	if c.Sync.URL != "" {
		if c.Sync.Interval <= 0 {
			return errors.New("sync.interval must be positive")
		}
		if c.Sync.BatchSize <= 0 {
			return errors.New("sync.batch_size must be positive")
		}
		if c.Sync.BackoffMax < c.Sync.BackoffMin {
			return errors.New("sync.backoff_max is below sync.backoff_min")
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
