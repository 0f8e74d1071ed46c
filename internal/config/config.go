package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the daemon configuration. The environment provides the base
// values; CLI flags may override individual fields afterwards.
type Config struct {
	Port           uint16        `env:"INVSYNC_PORT" envDefault:"8000"`
	BackendURL     string        `env:"INVSYNC_BACKEND_URL"`
	DisplayName    string        `env:"INVSYNC_NAME"`
	Interval       time.Duration `env:"INVSYNC_INTERVAL" envDefault:"30s"`
	RequestTimeout time.Duration `env:"INVSYNC_REQUEST_TIMEOUT" envDefault:"10s"`
	BrowseWindow   time.Duration `env:"INVSYNC_BROWSE_WINDOW" envDefault:"15s"`
	SweepEvery     time.Duration `env:"INVSYNC_SWEEP_EVERY" envDefault:"30s"`
	StaleAfter     time.Duration `env:"INVSYNC_STALE_AFTER" envDefault:"60s"`
	StatusAddr     string        `env:"INVSYNC_STATUS_ADDR" envDefault:"127.0.0.1:8787"`
	DataDir        string        `env:"INVSYNC_DATA_DIR"`
	Embedded       bool          `env:"INVSYNC_EMBEDDED" envDefault:"false"`
	Verbose        bool          `env:"INVSYNC_VERBOSE" envDefault:"false"`
}

// Load parses the environment and fills derived defaults.
func Load() (*Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv parses the environment without filling derived defaults, so
// callers can layer flag overrides on top before ApplyDefaults.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills the values derived from the host or from other
// fields: display name from the hostname, backend URL from the port, data
// dir under the home directory. Explicit values are kept.
func (c *Config) ApplyDefaults() error {
	if c.DisplayName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		c.DisplayName = fmt.Sprintf("inventory-sync-%s", hostname)
	}
	if c.BackendURL == "" {
		c.BackendURL = fmt.Sprintf("http://127.0.0.1:%d", c.Port)
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".inventory-sync")
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Port == 0 {
		return fmt.Errorf("port must be non-zero")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.BrowseWindow <= 0 || c.SweepEvery <= 0 || c.StaleAfter <= 0 {
		return fmt.Errorf("discovery durations must be positive")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend url %q", c.BackendURL)
	}
	if c.StatusAddr == "" {
		return fmt.Errorf("status address must not be empty")
	}
	return nil
}
