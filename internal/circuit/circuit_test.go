package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const spotEndpoint = "/v2/prices/:symbol/spot"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestBreaker(clock *fakeClock) *Breaker {
	return New(Config{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		CooldownMax:      5 * time.Minute,
	}, WithClock(clock.Now))
}

func TestClosedUntilThreshold(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 2; i++ {
		b.OnFailure(spotEndpoint)
		ok, _ := b.CanRequest(spotEndpoint)
		assert.True(t, ok, "below threshold the circuit stays closed")
	}

	b.OnFailure(spotEndpoint)
	ok, retryAfter := b.CanRequest(spotEndpoint)
	assert.False(t, ok, "threshold reached, circuit must open")
	assert.Equal(t, 30*time.Second, retryAfter)
}

func TestHalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.OnFailure(spotEndpoint)
	}
	clock.Advance(30 * time.Second)

	ok, _ := b.CanRequest(spotEndpoint)
	require.True(t, ok, "probe slot must be admitted at nextProbeAt")
	assert.Equal(t, StateHalfOpen, b.StateOf(spotEndpoint))

	ok, retryAfter := b.CanRequest(spotEndpoint)
	assert.False(t, ok, "only one half-open probe may pass")
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.OnFailure(spotEndpoint)
	}
	clock.Advance(30 * time.Second)

	ok, _ := b.CanRequest(spotEndpoint)
	require.True(t, ok)
	b.OnSuccess(spotEndpoint)

	assert.Equal(t, StateClosed, b.StateOf(spotEndpoint))
	ok, _ = b.CanRequest(spotEndpoint)
	assert.True(t, ok)
}

func TestProbeFailureReopensWithGrowingCooldown(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.OnFailure(spotEndpoint)
	}
	clock.Advance(30 * time.Second)

	ok, _ := b.CanRequest(spotEndpoint)
	require.True(t, ok)
	b.OnFailure(spotEndpoint)

	ok, retryAfter := b.CanRequest(spotEndpoint)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter, "cooldown doubles after a failed probe")

	// Cooldown growth is capped.
	for i := 0; i < 10; i++ {
		clock.Advance(10 * time.Minute)
		ok, _ := b.CanRequest(spotEndpoint)
		require.True(t, ok)
		b.OnFailure(spotEndpoint)
	}
	_, retryAfter = b.CanRequest(spotEndpoint)
	assert.LessOrEqual(t, retryAfter, 5*time.Minute)
}

func TestEndpointsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.OnFailure(spotEndpoint)
	}

	ok, _ := b.CanRequest("/api/v3/brokerage/accounts")
	assert.True(t, ok, "an open spot circuit must not affect the accounts endpoint")
}

func TestSuccessResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	b.OnFailure(spotEndpoint)
	b.OnFailure(spotEndpoint)
	b.OnSuccess(spotEndpoint)
	b.OnFailure(spotEndpoint)
	b.OnFailure(spotEndpoint)

	ok, _ := b.CanRequest(spotEndpoint)
	assert.True(t, ok, "success must reset the consecutive failure counter")
}
