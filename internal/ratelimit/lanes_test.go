package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunaris-ai/coinbridge/internal/api"
	"github.com/lunaris-ai/coinbridge/internal/config"
)

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		MaxConcurrentPerUser: 1,
		QueueLimitPerUser:    2,
		MinInterval:          0, // no spacing in tests
		BackoffBase:          time.Second,
		BackoffMax:           30 * time.Second,
	}
}

// newTestLanes returns lanes with a fake clock and a sleep recorder.
func newTestLanes(cfg config.RateLimitConfig) (*Lanes, *fakeTime) {
	ft := &fakeTime{now: time.Unix(1_700_000_000, 0)}
	l := NewLanes(cfg, zerolog.Nop())
	l.now = ft.Now
	l.sleep = ft.Sleep
	return l, ft
}

type fakeTime struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Sleep records the request and advances the clock instead of blocking.
func (f *fakeTime) Sleep(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slept = append(f.slept, d)
	f.now = f.now.Add(d)
	return nil
}

func (f *fakeTime) Slept() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.slept...)
}

func rateLimitedErr(retryAfter time.Duration) error {
	return &api.Error{
		Kind:       api.KindRateLimited,
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

func TestRun_QueueOverflowFailsFast(t *testing.T) {
	l, _ := newTestLanes(testConfig())

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup

	// Occupy the single concurrency slot.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = l.Run(context.Background(), "u", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// Fill the queue with two blocked waiters.
	waiterErrs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			waiterErrs <- l.Run(context.Background(), "u", func(context.Context) error { return nil })
		}()
	}

	// Lane now holds one running job and a full queue.
	require.Eventually(t, func() bool { return l.Depth("u") == 3 },
		time.Second, time.Millisecond)

	err := l.Run(context.Background(), "u", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	wg.Wait()
	assert.NoError(t, <-waiterErrs)
	assert.NoError(t, <-waiterErrs)
}

func TestRun_PenaltyGrowsOnConsecutive429(t *testing.T) {
	l, ft := newTestLanes(testConfig())
	ctx := context.Background()

	// First 429: penalty base<<0 = 1s.
	_ = l.Run(ctx, "u", func(context.Context) error { return rateLimitedErr(0) })
	// Second call sleeps through the 1s window, then hits another 429.
	_ = l.Run(ctx, "u", func(context.Context) error { return rateLimitedErr(0) })
	// Third call sleeps through the doubled 2s window.
	_ = l.Run(ctx, "u", func(context.Context) error { return nil })

	slept := ft.Slept()
	require.Len(t, slept, 2)
	assert.Equal(t, time.Second, slept[0])
	assert.Equal(t, 2*time.Second, slept[1])
}

func TestRun_ServerHintOverridesWhenLarger(t *testing.T) {
	l, ft := newTestLanes(testConfig())
	ctx := context.Background()

	_ = l.Run(ctx, "u", func(context.Context) error { return rateLimitedErr(10 * time.Second) })
	_ = l.Run(ctx, "u", func(context.Context) error { return nil })

	slept := ft.Slept()
	require.Len(t, slept, 1)
	assert.Equal(t, 10*time.Second, slept[0], "Retry-After of 10s beats the 1s computed backoff")
}

func TestRun_SuccessResetsPenalty(t *testing.T) {
	l, ft := newTestLanes(testConfig())
	ctx := context.Background()

	_ = l.Run(ctx, "u", func(context.Context) error { return rateLimitedErr(0) })
	_ = l.Run(ctx, "u", func(context.Context) error { return nil })
	require.Len(t, ft.Slept(), 1)

	// Penalty cleared; the next call must not sleep.
	_ = l.Run(ctx, "u", func(context.Context) error { return nil })
	assert.Len(t, ft.Slept(), 1)
}

func TestRun_OtherErrorsLeavePenaltyAlone(t *testing.T) {
	l, ft := newTestLanes(testConfig())
	ctx := context.Background()

	_ = l.Run(ctx, "u", func(context.Context) error { return rateLimitedErr(0) })
	// This call sleeps through the 1s window; its non-429 failure neither
	// restarts the window nor touches the consecutive count.
	_ = l.Run(ctx, "u", func(context.Context) error {
		return &api.Error{Kind: api.KindUpstreamUnavailable, Retryable: true}
	})
	// The window is spent, so this call runs immediately. Its 429 grows the
	// count from 1 to 2: a 2s window, not another 1s one.
	_ = l.Run(ctx, "u", func(context.Context) error { return rateLimitedErr(0) })
	_ = l.Run(ctx, "u", func(context.Context) error { return nil })

	slept := ft.Slept()
	require.Len(t, slept, 2)
	assert.Equal(t, time.Second, slept[0])
	assert.Equal(t, 2*time.Second, slept[1])
}

func TestRun_LanesAreIndependent(t *testing.T) {
	l, ft := newTestLanes(testConfig())
	ctx := context.Background()

	_ = l.Run(ctx, "penalized", func(context.Context) error { return rateLimitedErr(time.Minute) })
	_ = l.Run(ctx, "other", func(context.Context) error { return nil })

	assert.Empty(t, ft.Slept(), "another user's penalty must not delay this one")
}

func TestReset_ClearsPenalty(t *testing.T) {
	l, ft := newTestLanes(testConfig())
	ctx := context.Background()

	_ = l.Run(ctx, "u", func(context.Context) error { return rateLimitedErr(time.Hour) })
	l.Reset("u")
	_ = l.Run(ctx, "u", func(context.Context) error { return nil })

	assert.Empty(t, ft.Slept())
}

func TestPenaltyBackoffCaps(t *testing.T) {
	cfg := testConfig()
	ln := newLane(cfg, zerolog.Nop(), time.Now, sleepCtx)

	assert.Equal(t, time.Second, ln.penaltyBackoff(1))
	assert.Equal(t, 16*time.Second, ln.penaltyBackoff(5))
	assert.Equal(t, 30*time.Second, ln.penaltyBackoff(6), "capped at BackoffMax")
	assert.Equal(t, 30*time.Second, ln.penaltyBackoff(64), "shift overflow falls back to the cap")
}
