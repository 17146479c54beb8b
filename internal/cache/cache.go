// Package cache provides a goroutine-safe in-memory TTL cache with bounded
// size. Eviction on overflow is FIFO by insertion order, not LRU: reads never
// reorder entries, so a hot entry still ages out once the cache is full.
package cache

import (
	"strings"
	"sync"
	"time"
)

// entry is a single cache record.
type entry[T any] struct {
	value     T
	insertSeq uint64
	expiresAt time.Time
}

// Cache is a TTL cache holding values of type T.
type Cache[T any] struct {
	mu         sync.Mutex
	items      map[string]entry[T]
	maxEntries int
	seq        uint64

	janitorStop chan struct{}
	janitorOnce sync.Once

	now func() time.Time // injectable for tests
}

// Option configures a Cache.
type Option[T any] func(*Cache[T])

// WithClock overrides the time source.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) {
		c.now = now
	}
}

// New creates a cache bounded to maxEntries. A maxEntries <= 0 means unbounded.
func New[T any](maxEntries int, opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		items:      make(map[string]entry[T]),
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartJanitor launches a background sweep loop. Safe to call once; stop it
// with Close.
func (c *Cache[T]) StartJanitor(interval time.Duration) {
	c.janitorOnce.Do(func() {
		c.janitorStop = make(chan struct{})
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					c.SweepExpired()
				case <-c.janitorStop:
					return
				}
			}
		}()
	})
}

// Close stops the janitor if one was started.
func (c *Cache[T]) Close() {
	if c.janitorStop != nil {
		close(c.janitorStop)
	}
}

// Get returns the value for key if present and unexpired. Expired entries are
// deleted on read.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero T
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl. Inserting past the size bound evicts
// the oldest-inserted entries until the cache fits.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.items[key] = entry[T]{
		value:     value,
		insertSeq: c.seq,
		expiresAt: c.now().Add(ttl),
	}

	if c.maxEntries > 0 && len(c.items) > c.maxEntries {
		c.evictOldestLocked(len(c.items) - c.maxEntries)
	}
}

// Invalidate removes a single key.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// InvalidatePrefix removes every key with the given prefix and returns the
// number removed. Keys are scoped per user, so a user's entries share a
// prefix and can be dropped together without touching other tenants.
func (c *Cache[T]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// SweepExpired removes all expired entries and returns the count removed.
func (c *Cache[T]) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// evictOldestLocked removes n entries in insertion order. Must be called with
// the lock held.
func (c *Cache[T]) evictOldestLocked(n int) {
	for ; n > 0; n-- {
		oldestKey := ""
		oldestSeq := uint64(0)
		first := true
		for key, e := range c.items {
			if first || e.insertSeq < oldestSeq {
				oldestKey = key
				oldestSeq = e.insertSeq
				first = false
			}
		}
		if first {
			return
		}
		delete(c.items, oldestKey)
	}
}

// Key joins components into a composite cache key with ':' separators.
func Key(components ...string) string {
	return strings.Join(components, ":")
}
