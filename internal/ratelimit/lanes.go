package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/lunaris-ai/coinbridge/internal/api"
	"github.com/lunaris-ai/coinbridge/internal/config"
)

// ErrQueueFull is returned when a user's lane already holds its maximum
// number of waiters. Callers surface it as a rate-limit condition.
var ErrQueueFull = errors.New("ratelimit: lane queue is full")

// Lanes is the per-user lane registry. Lanes are created lazily on first
// use and live for the process lifetime.
type Lanes struct {
	cfg    config.RateLimitConfig
	logger zerolog.Logger

	mu    sync.RWMutex
	lanes map[string]*Lane

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLanes creates the registry.
func NewLanes(cfg config.RateLimitConfig, logger zerolog.Logger) *Lanes {
	return &Lanes{
		cfg:    cfg,
		logger: logger.With().Str("component", "ratelimit").Logger(),
		lanes:  make(map[string]*Lane),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes job inside the user's lane: queue admission, concurrency cap,
// penalty wait, and minimum spacing, in that order. A job result of
// RATE_LIMITED grows the lane's penalty window; success resets it.
func (l *Lanes) Run(ctx context.Context, userContextID string, job func(context.Context) error) error {
	lane := l.lane(userContextID)
	return lane.run(ctx, job)
}

// Depth reports a user's current waiters plus in-flight jobs, for gauges.
func (l *Lanes) Depth(userContextID string) int {
	l.mu.RLock()
	lane, ok := l.lanes[userContextID]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	lane.mu.Lock()
	defer lane.mu.Unlock()
	return lane.waiting + lane.inFlight
}

// Reset clears a user's penalty state. Called alongside cache invalidation
// when the user re-links their account.
func (l *Lanes) Reset(userContextID string) {
	l.mu.RLock()
	lane, ok := l.lanes[userContextID]
	l.mu.RUnlock()
	if !ok {
		return
	}
	lane.mu.Lock()
	lane.consecutive429 = 0
	lane.nextAllowedAt = time.Time{}
	lane.mu.Unlock()
}

// lane returns the user's lane, creating it on first use. Double-checked
// so the common path takes only the read lock.
func (l *Lanes) lane(userContextID string) *Lane {
	l.mu.RLock()
	lane, ok := l.lanes[userContextID]
	l.mu.RUnlock()
	if ok {
		return lane
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lane, ok = l.lanes[userContextID]; ok {
		return lane
	}

	lane = newLane(l.cfg, l.logger.With().Str("user", userContextID).Logger(), l.now, l.sleep)
	l.lanes[userContextID] = lane
	return lane
}

// Lane is one user's admission state.
type Lane struct {
	cfg     config.RateLimitConfig
	logger  zerolog.Logger
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu             sync.Mutex
	waiting        int
	inFlight       int
	consecutive429 int
	nextAllowedAt  time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newLane(cfg config.RateLimitConfig, logger zerolog.Logger, now func() time.Time, sleep func(context.Context, time.Duration) error) *Lane {
	return &Lane{
		cfg:     cfg,
		logger:  logger,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentPerUser)),
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		now:     now,
		sleep:   sleep,
	}
}

func (ln *Lane) run(ctx context.Context, job func(context.Context) error) error {
	// Queue admission: fail fast instead of growing an unbounded backlog.
	ln.mu.Lock()
	if ln.waiting >= ln.cfg.QueueLimitPerUser {
		ln.mu.Unlock()
		return ErrQueueFull
	}
	ln.waiting++
	ln.mu.Unlock()

	err := ln.sem.Acquire(ctx, 1)

	ln.mu.Lock()
	ln.waiting--
	if err == nil {
		ln.inFlight++
	}
	ln.mu.Unlock()

	if err != nil {
		return err
	}
	defer func() {
		ln.sem.Release(1)
		ln.mu.Lock()
		ln.inFlight--
		ln.mu.Unlock()
	}()

	if err := ln.waitPenalty(ctx); err != nil {
		return err
	}
	if err := ln.limiter.Wait(ctx); err != nil {
		return err
	}

	jobErr := job(ctx)
	ln.recordOutcome(jobErr)
	return jobErr
}

// waitPenalty blocks until the lane's penalty window has passed.
func (ln *Lane) waitPenalty(ctx context.Context) error {
	ln.mu.Lock()
	wait := ln.nextAllowedAt.Sub(ln.now())
	ln.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return ln.sleep(ctx, wait)
}

// recordOutcome updates the penalty window. Only upstream rate limiting
// counts; other failures neither grow nor reset the window.
func (ln *Lane) recordOutcome(err error) {
	ln.mu.Lock()
	defer ln.mu.Unlock()

	switch {
	case err == nil:
		ln.consecutive429 = 0
		ln.nextAllowedAt = time.Time{}

	case api.KindOf(err) == api.KindRateLimited:
		ln.consecutive429++
		backoff := ln.penaltyBackoff(ln.consecutive429)
		if hint := api.RetryAfterHint(err); hint > backoff {
			backoff = hint
		}
		ln.nextAllowedAt = ln.now().Add(backoff)
		ln.logger.Warn().
			Int("consecutive_429", ln.consecutive429).
			Dur("backoff", backoff).
			Msg("upstream rate limited; lane shifted")
	}
}

// penaltyBackoff is min(max, base<<(n-1)).
func (ln *Lane) penaltyBackoff(n int) time.Duration {
	backoff := ln.cfg.BackoffBase << (n - 1)
	if backoff > ln.cfg.BackoffMax || backoff <= 0 {
		backoff = ln.cfg.BackoffMax
	}
	return backoff
}
