package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validYAML = `
environment:
  mode: paper
  log_level: info
server:
  listen_addr: ":8080"
storage:
  path: data/wheels.json
pricing:
  api_key: test-key
  api_endpoint: https://sandbox.example.com
  account_id: acct-1
  timeout: 10s
  cache_ttl: 60s
detection:
  risk_tolerance: moderate
  tickers: [HIMS, SOFI]
refresh:
  enabled: true
  interval: 5m
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Expected config to load successfully, got error: %v", err)
	}
	if !cfg.IsPaperTrading() {
		t.Error("Expected paper trading mode")
	}
	if cfg.CacheTTL() != 60*time.Second {
		t.Errorf("Expected 60s cache TTL, got %v", cfg.CacheTTL())
	}
	if cfg.RefreshInterval() != 5*time.Minute {
		t.Errorf("Expected 5m refresh interval, got %v", cfg.RefreshInterval())
	}
	if len(cfg.Detection.Tickers) != 2 {
		t.Errorf("Expected 2 default tickers, got %d", len(cfg.Detection.Tickers))
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

func TestLoad_UnknownField(t *testing.T) {
	yaml := validYAML + "\nbogus_section:\n  key: value\n"
	_, err := Load(writeConfig(t, yaml))
	if err == nil {
		t.Error("Expected error for unknown config field, got nil")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("WHEEL_API_KEY", "from-env")
	yaml := strings.Replace(validYAML, "api_key: test-key", "api_key: ${WHEEL_API_KEY}", 1)
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Expected config to load, got error: %v", err)
	}
	if cfg.Pricing.APIKey != "from-env" {
		t.Errorf("Expected api_key expanded from environment, got %q", cfg.Pricing.APIKey)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment: EnvironmentConfig{Mode: "paper", LogLevel: "info"},
			Server:      ServerConfig{ListenAddr: ":8080"},
			Storage:     StorageConfig{Path: "data/wheels.json"},
			Pricing: PricingConfig{
				APIKey:      "test-key",
				APIEndpoint: "https://sandbox.example.com",
				AccountID:   "acct-1",
				Timeout:     "10s",
				CacheTTL:    "60s",
			},
			Detection: DetectionConfig{RiskTolerance: "moderate"},
			Refresh:   RefreshConfig{Enabled: true, Interval: "5m"},
		}
	}

	t.Run("valid config", func(t *testing.T) {
		if err := base().Validate(); err != nil {
			t.Errorf("Expected valid config, got error: %v", err)
		}
	})

	t.Run("bad mode", func(t *testing.T) {
		cfg := base()
		cfg.Environment.Mode = "production"
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for invalid mode")
		}
	})

	t.Run("endpoint without api key", func(t *testing.T) {
		cfg := base()
		cfg.Pricing.APIKey = ""
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "pricing.api_key") {
			t.Errorf("Expected pricing.api_key error, got: %v", err)
		}
	})

	t.Run("no pricing endpoint is allowed", func(t *testing.T) {
		cfg := base()
		cfg.Pricing = PricingConfig{}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Expected pricing-less config to validate, got: %v", err)
		}
	})

	t.Run("bad risk tolerance", func(t *testing.T) {
		cfg := base()
		cfg.Detection.RiskTolerance = "yolo"
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for invalid risk tolerance")
		}
	})

	t.Run("min confidence out of range", func(t *testing.T) {
		cfg := base()
		cfg.Detection.MinConfidence = 150
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "detection.min_confidence") {
			t.Errorf("Expected detection.min_confidence error, got: %v", err)
		}
	})

	t.Run("negative cash balance", func(t *testing.T) {
		cfg := base()
		negative := -100.0
		cfg.Detection.CashBalance = &negative
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "detection.cash_balance") {
			t.Errorf("Expected detection.cash_balance error, got: %v", err)
		}
	})

	t.Run("refresh interval too short", func(t *testing.T) {
		cfg := base()
		cfg.Refresh.Interval = "10s"
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "refresh.interval") {
			t.Errorf("Expected refresh.interval error, got: %v", err)
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		cfg := &Config{
			Environment: EnvironmentConfig{Mode: "live"},
		}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Expected minimal config to validate via defaults, got: %v", err)
		}
		if cfg.Server.ListenAddr != ":8080" {
			t.Errorf("Expected default listen addr, got %q", cfg.Server.ListenAddr)
		}
		if cfg.Storage.Path == "" {
			t.Error("Expected default storage path")
		}
		if cfg.Detection.RiskTolerance != "moderate" {
			t.Errorf("Expected default risk tolerance, got %q", cfg.Detection.RiskTolerance)
		}
	})
}
