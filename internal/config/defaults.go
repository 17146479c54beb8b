package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL         = "https://api.coinbase.com"
	DefaultRequestTimeout  = 10 * time.Second
	DefaultMaxRetries      = 3
	DefaultBackoffBase     = 250 * time.Millisecond
	DefaultBackoffMax      = 8 * time.Second
	DefaultCredCacheTTL    = 5 * time.Minute
	DefaultMarketTTL       = 15 * time.Second
	DefaultPortfolioTTL    = 60 * time.Second
	DefaultTransactionsTTL = 5 * time.Minute
	DefaultCacheMaxEntries = 4096
	DefaultSweepInterval   = time.Minute
	DefaultMaxConcurrent   = 2
	DefaultQueueLimit      = 16
	DefaultMinInterval     = 250 * time.Millisecond
	DefaultLaneBackoffBase = time.Second
	DefaultLaneBackoffMax  = 2 * time.Minute
	DefaultFailThreshold   = 5
	DefaultCooldown        = 30 * time.Second
	DefaultCooldownMax     = 5 * time.Minute
	DefaultAlertWindow     = 5 * time.Minute
	DefaultAuthBurst       = 5
	DefaultProviderBurst   = 10
	DefaultP95Threshold    = 3 * time.Second
	DefaultAlertCooldown   = 10 * time.Minute
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 10
	DefaultMinConns        = 2
	DefaultBatchSize       = 500
	DefaultFlushInterval   = time.Second
	DefaultBufferSize      = 10000
	DefaultMetricsPort     = 9090
	DefaultMetricsPath     = "/metrics"
)

// ApplyDefaults fills zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	// Upstream defaults
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultBaseURL
	}
	if len(c.Upstream.AllowedHosts) == 0 {
		c.Upstream.AllowedHosts = []string{"api.coinbase.com"}
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = DefaultRequestTimeout
	}
	if c.Upstream.MaxRetries == 0 {
		c.Upstream.MaxRetries = DefaultMaxRetries
	}
	if c.Upstream.BackoffBase == 0 {
		c.Upstream.BackoffBase = DefaultBackoffBase
	}
	if c.Upstream.BackoffMax == 0 {
		c.Upstream.BackoffMax = DefaultBackoffMax
	}

	// Credentials defaults
	if c.Credentials.CacheTTL == 0 {
		c.Credentials.CacheTTL = DefaultCredCacheTTL
	}

	// Cache defaults
	if c.Cache.MarketTTL == 0 {
		c.Cache.MarketTTL = DefaultMarketTTL
	}
	if c.Cache.PortfolioTTL == 0 {
		c.Cache.PortfolioTTL = DefaultPortfolioTTL
	}
	if c.Cache.TransactionsTTL == 0 {
		c.Cache.TransactionsTTL = DefaultTransactionsTTL
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = DefaultSweepInterval
	}

	// Rate limit defaults
	if c.RateLimit.MaxConcurrentPerUser == 0 {
		c.RateLimit.MaxConcurrentPerUser = DefaultMaxConcurrent
	}
	if c.RateLimit.QueueLimitPerUser == 0 {
		c.RateLimit.QueueLimitPerUser = DefaultQueueLimit
	}
	if c.RateLimit.MinInterval == 0 {
		c.RateLimit.MinInterval = DefaultMinInterval
	}
	if c.RateLimit.BackoffBase == 0 {
		c.RateLimit.BackoffBase = DefaultLaneBackoffBase
	}
	if c.RateLimit.BackoffMax == 0 {
		c.RateLimit.BackoffMax = DefaultLaneBackoffMax
	}

	// Breaker defaults
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = DefaultFailThreshold
	}
	if c.Breaker.Cooldown == 0 {
		c.Breaker.Cooldown = DefaultCooldown
	}
	if c.Breaker.CooldownMax == 0 {
		c.Breaker.CooldownMax = DefaultCooldownMax
	}

	// Alert defaults
	if c.Alerts.Window == 0 {
		c.Alerts.Window = DefaultAlertWindow
	}
	if c.Alerts.AuthFailureThreshold == 0 {
		c.Alerts.AuthFailureThreshold = DefaultAuthBurst
	}
	if c.Alerts.ProviderFailureThreshold == 0 {
		c.Alerts.ProviderFailureThreshold = DefaultProviderBurst
	}
	if c.Alerts.LatencyP95Threshold == 0 {
		c.Alerts.LatencyP95Threshold = DefaultP95Threshold
	}
	if c.Alerts.Cooldown == 0 {
		c.Alerts.Cooldown = DefaultAlertCooldown
	}

	// Store defaults
	applyDBDefaults(&c.Store.Postgres)
	if c.Store.BatchSize == 0 {
		c.Store.BatchSize = DefaultBatchSize
	}
	if c.Store.FlushInterval == 0 {
		c.Store.FlushInterval = DefaultFlushInterval
	}
	if c.Store.BufferSize == 0 {
		c.Store.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
