// Package daemon holds the server configuration and its TOML loader.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full server configuration, loaded from a TOML file with
// sensible defaults for every field.
type Config struct {
	API        APIConfig        `toml:"api"`
	Storage    StorageConfig    `toml:"storage"`
	Auth       AuthConfig       `toml:"auth"`
	Redemption RedemptionConfig `toml:"redemption"`
	Expiry     ExpiryConfig     `toml:"expiry"`
}

type APIConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	MetricsEnabled bool   `toml:"metrics_enabled"`
}

type StorageConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret     string `toml:"jwt_secret"`
	TokenTTLHours int    `toml:"token_ttl_hours"`
	InviteBaseURL string `toml:"invite_base_url"`
}

type RedemptionConfig struct {
	OTPTTLMinutes             int `toml:"otp_ttl_minutes"`
	MaxOTPAttempts            int `toml:"max_otp_attempts"`
	ProcessingTimeoutMinutes  int `toml:"processing_timeout_minutes"`
	MaxConcurrentFulfillments int `toml:"max_concurrent_fulfillments"`
}

type ExpiryConfig struct {
	Enabled       bool `toml:"enabled"`
	InactiveDays  int  `toml:"inactive_days"`
	IntervalHours int  `toml:"interval_hours"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			MetricsEnabled: true,
		},
		Storage: StorageConfig{
			Path: defaultDataPath(),
		},
		Auth: AuthConfig{
			TokenTTLHours: 24,
			InviteBaseURL: "http://localhost:8080",
		},
		Redemption: RedemptionConfig{
			OTPTTLMinutes:             10,
			MaxOTPAttempts:            3,
			ProcessingTimeoutMinutes:  15,
			MaxConcurrentFulfillments: 4,
		},
		Expiry: ExpiryConfig{
			Enabled:       false,
			InactiveDays:  365,
			IntervalHours: 24,
		},
	}
}

func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "laurel.db"
	}
	return filepath.Join(home, ".laurel", "laurel.db")
}

// Load reads the config file at path, falling back to defaults for any
// missing fields. A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.applyEnv()
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()

	if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
		return nil, fmt.Errorf("invalid api port %d", cfg.API.Port)
	}
	return cfg, nil
}

// applyEnv lets the secret come from the environment so it never has to live
// in the config file.
func (c *Config) applyEnv() {
	if secret := os.Getenv("LAUREL_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if base := os.Getenv("LAUREL_INVITE_BASE_URL"); base != "" {
		c.Auth.InviteBaseURL = base
	}
}

// Addr returns the host:port the API server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

func (c *Config) OTPTTL() time.Duration {
	return time.Duration(c.Redemption.OTPTTLMinutes) * time.Minute
}

func (c *Config) ProcessingTimeout() time.Duration {
	return time.Duration(c.Redemption.ProcessingTimeoutMinutes) * time.Minute
}

func (c *Config) ExpiryInterval() time.Duration {
	return time.Duration(c.Expiry.IntervalHours) * time.Hour
}

func (c *Config) InactiveCutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(c.Expiry.InactiveDays) * 24 * time.Hour)
}
