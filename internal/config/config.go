// Package config loads zentabd configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/p-blackswan/zentab/internal/retry"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Host bridge (browser extension connection)
	HostListenAddr   string        `envconfig:"HOST_LISTEN_ADDR" default:"127.0.0.1:8765"`
	HostToken        string        `envconfig:"HOST_TOKEN"`
	HostCallTimeout  time.Duration `envconfig:"HOST_CALL_TIMEOUT" default:"10s"`
	HostPingInterval time.Duration `envconfig:"HOST_PING_INTERVAL" default:"30s"`

	// Management API
	MgmtListenAddr     string `envconfig:"MGMT_LISTEN_ADDR" default:"127.0.0.1:8766"`
	MgmtAuthMode       string `envconfig:"MGMT_AUTH_MODE" default:"api-key"` // none, api-key, jwt
	MgmtAPIKey         string `envconfig:"MGMT_API_KEY"`
	MgmtJWTSecret      string `envconfig:"MGMT_JWT_SECRET"`
	MgmtRateLimitRPS   int    `envconfig:"MGMT_RATE_LIMIT_RPS" default:"20"`
	MgmtRateLimitBurst int    `envconfig:"MGMT_RATE_LIMIT_BURST" default:"40"`
	MgmtCORSOrigins    string `envconfig:"MGMT_CORS_ORIGINS"`

	// Storage
	LocalDBPath           string        `envconfig:"LOCAL_DB_PATH" default:"zentab.db"`
	SyncDSN               string        `envconfig:"SYNC_DSN"` // Postgres; empty keeps synced settings in memory
	SyncAccount           string        `envconfig:"SYNC_ACCOUNT" default:"default"`
	SyncQuotaBytesPerItem int           `envconfig:"SYNC_QUOTA_BYTES_PER_ITEM" default:"8192"`
	SyncRetryAttempts     int           `envconfig:"SYNC_RETRY_ATTEMPTS" default:"3"`
	SyncRetryBaseDelay    time.Duration `envconfig:"SYNC_RETRY_BASE_DELAY" default:"200ms"`
	SyncRetryMaxDelay     time.Duration `envconfig:"SYNC_RETRY_MAX_DELAY" default:"2s"`

	// Archiving and settings
	ArchiveCheckInterval time.Duration `envconfig:"ARCHIVE_CHECK_INTERVAL" default:"60m"`
	SettingsSeedFile     string        `envconfig:"SETTINGS_SEED_FILE"`
	EventBufferSize      int           `envconfig:"EVENT_BUFFER_SIZE" default:"256"`
}

// SyncRemote returns true if a Postgres DSN is configured for the synced tier.
func (c *Config) SyncRemote() bool {
	return c.SyncDSN != ""
}

// SyncRetry returns the backoff applied to synced-tier writes.
func (c *Config) SyncRetry() retry.Config {
	cfg := retry.DefaultConfig()
	if c.SyncRetryAttempts > 0 {
		cfg.MaxAttempts = c.SyncRetryAttempts
	}
	if c.SyncRetryBaseDelay > 0 {
		cfg.BaseDelay = c.SyncRetryBaseDelay
	}
	if c.SyncRetryMaxDelay > 0 {
		cfg.MaxDelay = c.SyncRetryMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return cfg
}

// CORSOriginList returns the parsed list of allowed CORS origins.
func (c *Config) CORSOriginList() []string {
	if c.MgmtCORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.MgmtCORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Validate checks settings that envconfig cannot.
func (c *Config) Validate() error {
	switch c.MgmtAuthMode {
	case "none":
	case "api-key":
		if c.MgmtAPIKey == "" {
			return fmt.Errorf("MGMT_API_KEY is required when MGMT_AUTH_MODE=api-key")
		}
	case "jwt":
		if c.MgmtJWTSecret == "" {
			return fmt.Errorf("MGMT_JWT_SECRET is required when MGMT_AUTH_MODE=jwt")
		}
	default:
		return fmt.Errorf("unknown MGMT_AUTH_MODE %q", c.MgmtAuthMode)
	}
	if c.ArchiveCheckInterval <= 0 {
		return fmt.Errorf("ARCHIVE_CHECK_INTERVAL must be positive")
	}
	if c.SyncQuotaBytesPerItem < 0 {
		return fmt.Errorf("SYNC_QUOTA_BYTES_PER_ITEM must not be negative")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
