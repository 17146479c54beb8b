package config

import "time"

// Config is the root configuration for a coinbridge instance.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Cache       CacheConfig       `yaml:"cache"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Store       StoreConfig       `yaml:"store"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// InstanceConfig identifies this bridge instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// UpstreamConfig holds Coinbase API transport settings.
type UpstreamConfig struct {
	BaseURL      string        `yaml:"base_url"`
	AllowedHosts []string      `yaml:"allowed_hosts"` // SSRF guard; requests and redirects outside this list are refused
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	BackoffMax   time.Duration `yaml:"backoff_max"`
}

// CredentialsConfig tells the resolver where per-user key material lives.
type CredentialsConfig struct {
	StateDir   string        `yaml:"state_dir"`   // per-user state configs: <state_dir>/<user>/integrations.json
	LegacyDir  string        `yaml:"legacy_dir"`  // per-user legacy configs: <legacy_dir>/<user>.json
	GlobalPath string        `yaml:"global_path"` // shared fallback config
	CacheTTL   time.Duration `yaml:"cache_ttl"`   // secondary guard on top of mtime invalidation
	UnwrapKey  string        `yaml:"unwrap_key"`  // hex AES-256 key for enc:v1: wrapped secrets
}

// CacheConfig holds in-memory cache TTLs per data volatility.
type CacheConfig struct {
	MarketTTL       time.Duration `yaml:"market_ttl"`
	PortfolioTTL    time.Duration `yaml:"portfolio_ttl"`
	TransactionsTTL time.Duration `yaml:"transactions_ttl"`
	MaxEntries      int           `yaml:"max_entries"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// RateLimitConfig holds per-user lane settings.
type RateLimitConfig struct {
	MaxConcurrentPerUser int           `yaml:"max_concurrent_per_user"`
	QueueLimitPerUser    int           `yaml:"queue_limit_per_user"`
	MinInterval          time.Duration `yaml:"min_interval"`
	BackoffBase          time.Duration `yaml:"backoff_base"`
	BackoffMax           time.Duration `yaml:"backoff_max"`
}

// BreakerConfig holds per-endpoint circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	CooldownMax      time.Duration `yaml:"cooldown_max"`
}

// AlertsConfig holds sliding-window alert thresholds.
type AlertsConfig struct {
	Window                   time.Duration `yaml:"window"`
	AuthFailureThreshold     int           `yaml:"auth_failure_threshold"`
	ProviderFailureThreshold int           `yaml:"provider_failure_threshold"`
	LatencyP95Threshold      time.Duration `yaml:"latency_p95_threshold"`
	Cooldown                 time.Duration `yaml:"cooldown"`
}

// StoreConfig holds the audit/snapshot store connection and batching.
type StoreConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Postgres      DBConfig      `yaml:"postgres"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
