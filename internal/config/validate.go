package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Upstream.MaxRetries < 0 {
		return errors.New("upstream.max_retries must be >= 0")
	}
	if c.Upstream.BackoffBase <= 0 {
		return errors.New("upstream.backoff_base must be > 0")
	}
	if c.Upstream.BackoffMax < c.Upstream.BackoffBase {
		return fmt.Errorf("upstream.backoff_max (%v) cannot be below backoff_base (%v)",
			c.Upstream.BackoffMax, c.Upstream.BackoffBase)
	}

	if c.RateLimit.MaxConcurrentPerUser < 1 {
		return errors.New("ratelimit.max_concurrent_per_user must be >= 1")
	}
	if c.RateLimit.QueueLimitPerUser < 1 {
		return errors.New("ratelimit.queue_limit_per_user must be >= 1")
	}
	if c.RateLimit.BackoffMax < c.RateLimit.BackoffBase {
		return fmt.Errorf("ratelimit.backoff_max (%v) cannot be below backoff_base (%v)",
			c.RateLimit.BackoffMax, c.RateLimit.BackoffBase)
	}

	if c.Breaker.FailureThreshold < 1 {
		return errors.New("breaker.failure_threshold must be >= 1")
	}

	if c.Cache.MaxEntries < 1 {
		return errors.New("cache.max_entries must be >= 1")
	}

	if c.Store.Enabled {
		if err := c.Store.Postgres.validate("store.postgres"); err != nil {
			return err
		}
		if c.Store.BatchSize < 1 {
			return errors.New("store.batch_size must be >= 1")
		}
		if c.Store.BufferSize < 1 {
			return errors.New("store.buffer_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
