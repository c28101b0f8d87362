// Package config provides configuration management for the wheel tracker.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultCacheTTL is used when pricing.cache_ttl is unset
	defaultCacheTTL = "60s"
	// defaultRefreshInterval is used when refresh.interval is unset
	defaultRefreshInterval = "5m"
	// defaultListenAddr is used when server.listen_addr is unset
	defaultListenAddr = ":8080"
	// defaultStoragePath is used when storage.path is unset
	defaultStoragePath = "data/wheels.json"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Pricing     PricingConfig     `yaml:"pricing"`
	Detection   DetectionConfig   `yaml:"detection"`
	Refresh     RefreshConfig     `yaml:"refresh"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// ServerConfig defines the HTTP API settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	AuthToken  string `yaml:"auth_token"` // empty disables auth, local use only
}

// StorageConfig defines storage settings for wheel data.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// PricingConfig defines market data provider settings.
type PricingConfig struct {
	APIKey      string `yaml:"api_key"`
	APIEndpoint string `yaml:"api_endpoint"`
	AccountID   string `yaml:"account_id"`
	Timeout     string `yaml:"timeout"`
	CacheTTL    string `yaml:"cache_ttl"`
}

// DetectionConfig defines strategy detection defaults.
type DetectionConfig struct {
	RiskTolerance string   `yaml:"risk_tolerance"` // conservative | moderate | aggressive
	Tickers       []string `yaml:"tickers"`        // default universe when a request names none
	CashBalance   *float64 `yaml:"cash_balance"`   // default balance for cash validation
	MinConfidence int      `yaml:"min_confidence"` // drop results scoring below this, 0 disables
}

// RefreshConfig controls the background lot metrics refresher.
type RefreshConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Validate config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	c.normalize()

	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	switch c.Environment.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be debug, info, warn, or error")
	}

	// Pricing validation. The API key is only required when an endpoint is
	// configured; a tracker without market data still works, it just has no
	// unrealized P&L or live detection.
	if c.Pricing.APIEndpoint != "" {
		if c.Pricing.APIKey == "" {
			return fmt.Errorf("pricing.api_key is required when pricing.api_endpoint is set")
		}
		if c.Pricing.AccountID == "" {
			return fmt.Errorf("pricing.account_id is required when pricing.api_endpoint is set")
		}
	}
	if _, err := time.ParseDuration(c.Pricing.Timeout); err != nil {
		return fmt.Errorf("pricing.timeout invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Pricing.CacheTTL); err != nil {
		return fmt.Errorf("pricing.cache_ttl invalid: %w", err)
	}

	// Detection validation
	switch c.Detection.RiskTolerance {
	case "conservative", "moderate", "aggressive":
	default:
		return fmt.Errorf("detection.risk_tolerance must be conservative, moderate, or aggressive")
	}
	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 100 {
		return fmt.Errorf("detection.min_confidence must be between 0 and 100")
	}
	if c.Detection.CashBalance != nil && *c.Detection.CashBalance < 0 {
		return fmt.Errorf("detection.cash_balance must not be negative")
	}

	// Refresh validation
	if c.Refresh.Enabled {
		d, err := time.ParseDuration(c.Refresh.Interval)
		if err != nil {
			return fmt.Errorf("refresh.interval invalid: %w", err)
		}
		if d < time.Minute {
			return fmt.Errorf("refresh.interval must be at least 1m")
		}
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	return nil
}

// normalize fills defaulted fields before validation.
func (c *Config) normalize() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaultListenAddr
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Pricing.Timeout == "" {
		c.Pricing.Timeout = "10s"
	}
	if c.Pricing.CacheTTL == "" {
		c.Pricing.CacheTTL = defaultCacheTTL
	}
	if c.Detection.RiskTolerance == "" {
		c.Detection.RiskTolerance = "moderate"
	}
	if c.Refresh.Interval == "" {
		c.Refresh.Interval = defaultRefreshInterval
	}
}

// IsPaperTrading returns true if the tracker is configured for paper data.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// PricingTimeout returns the configured market data timeout duration.
func (c *Config) PricingTimeout() time.Duration {
	d, err := time.ParseDuration(c.Pricing.Timeout)
	if err != nil {
		return 10 * time.Second // default
	}
	return d
}

// CacheTTL returns the configured price cache TTL duration.
func (c *Config) CacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Pricing.CacheTTL)
	if err != nil {
		return time.Minute // default
	}
	return d
}

// RefreshInterval returns the configured metrics refresh interval.
func (c *Config) RefreshInterval() time.Duration {
	d, err := time.ParseDuration(c.Refresh.Interval)
	if err != nil {
		return 5 * time.Minute // default
	}
	return d
}
