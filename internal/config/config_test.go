package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coinbridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-bridge
upstream:
  base_url: https://api-sandbox.coinbase.com
  timeout: 5s
credentials:
  state_dir: /var/lib/coinbridge/state
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-bridge" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-bridge")
	}
	if cfg.Upstream.BaseURL != "https://api-sandbox.coinbase.com" {
		t.Errorf("Upstream.BaseURL = %q, want sandbox URL", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.Timeout != 5*time.Second {
		t.Errorf("Upstream.Timeout = %v, want 5s", cfg.Upstream.Timeout)
	}
	if cfg.Credentials.StateDir != "/var/lib/coinbridge/state" {
		t.Errorf("Credentials.StateDir = %q", cfg.Credentials.StateDir)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-bridge
store:
  enabled: true
  postgres:
    host: localhost
    name: coinbridge
    user: bridge
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Postgres.Password != "secret123" {
		t.Errorf("Store.Postgres.Password = %q, want %q", cfg.Store.Postgres.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-bridge
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Upstream.BaseURL != DefaultBaseURL {
		t.Errorf("Upstream.BaseURL = %q, want default %q", cfg.Upstream.BaseURL, DefaultBaseURL)
	}
	if cfg.Upstream.Timeout != DefaultRequestTimeout {
		t.Errorf("Upstream.Timeout = %v, want default %v", cfg.Upstream.Timeout, DefaultRequestTimeout)
	}
	if len(cfg.Upstream.AllowedHosts) != 1 || cfg.Upstream.AllowedHosts[0] != "api.coinbase.com" {
		t.Errorf("Upstream.AllowedHosts = %v, want [api.coinbase.com]", cfg.Upstream.AllowedHosts)
	}
	if cfg.Cache.MarketTTL != DefaultMarketTTL {
		t.Errorf("Cache.MarketTTL = %v, want default %v", cfg.Cache.MarketTTL, DefaultMarketTTL)
	}
	if cfg.RateLimit.MaxConcurrentPerUser != DefaultMaxConcurrent {
		t.Errorf("RateLimit.MaxConcurrentPerUser = %d, want default %d",
			cfg.RateLimit.MaxConcurrentPerUser, DefaultMaxConcurrent)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{Instance: InstanceConfig{ID: "x"}}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"missing instance id", func(c *Config) { c.Instance.ID = "" }, true},
		{"zero lane concurrency", func(c *Config) { c.RateLimit.MaxConcurrentPerUser = 0 }, true},
		{"zero queue limit", func(c *Config) { c.RateLimit.QueueLimitPerUser = 0 }, true},
		{"backoff max below base", func(c *Config) { c.Upstream.BackoffMax = time.Millisecond }, true},
		{"zero backoff base", func(c *Config) { c.Upstream.BackoffBase = 0 }, true},
		{"zero breaker threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }, true},
		{"store enabled without host", func(c *Config) { c.Store.Enabled = true }, true},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
