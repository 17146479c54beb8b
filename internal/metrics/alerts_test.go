package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunaris-ai/coinbridge/internal/config"
)

func testAlertsConfig() config.AlertsConfig {
	return config.AlertsConfig{
		Window:                   time.Minute,
		AuthFailureThreshold:     3,
		ProviderFailureThreshold: 5,
		LatencyP95Threshold:      2 * time.Second,
		Cooldown:                 10 * time.Minute,
	}
}

func newTestAlerts(t *testing.T) (*Alerts, *Metrics, *fakeClock) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := New(reg)
	a := NewAlerts(testAlertsConfig(), zerolog.Nop(), m)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	a.now = clock.Now
	return a, m, clock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func firedCount(t *testing.T, m *Metrics, rule string) float64 {
	t.Helper()
	return testutil.ToFloat64(m.AlertsFired.WithLabelValues(rule))
}

func TestAuthFailureBurstFiresOnce(t *testing.T) {
	a, m, _ := newTestAlerts(t)

	for i := 0; i < 3; i++ {
		a.ObserveOutcome("AUTH_FAILED", 100*time.Millisecond)
	}
	assert.Equal(t, 1.0, firedCount(t, m, RuleAuthFailureBurst))

	// Still inside the cooldown: more failures do not re-fire.
	for i := 0; i < 3; i++ {
		a.ObserveOutcome("AUTH_FAILED", 100*time.Millisecond)
	}
	assert.Equal(t, 1.0, firedCount(t, m, RuleAuthFailureBurst))
}

func TestAuthFailureBurstRefiresAfterCooldown(t *testing.T) {
	a, m, clock := newTestAlerts(t)

	for i := 0; i < 3; i++ {
		a.ObserveOutcome("AUTH_FAILED", 0)
	}
	require.Equal(t, 1.0, firedCount(t, m, RuleAuthFailureBurst))

	clock.Advance(11 * time.Minute)
	for i := 0; i < 3; i++ {
		a.ObserveOutcome("AUTH_FAILED", 0)
	}
	assert.Equal(t, 2.0, firedCount(t, m, RuleAuthFailureBurst))
}

func TestFireHookRunsOncePerFiring(t *testing.T) {
	a, _, clock := newTestAlerts(t)

	var fired []string
	a.SetFireHook(func(rule string) { fired = append(fired, rule) })

	for i := 0; i < 6; i++ {
		a.ObserveOutcome("AUTH_FAILED", 0)
	}
	assert.Equal(t, []string{RuleAuthFailureBurst}, fired, "cooldown suppresses repeats")

	clock.Advance(11 * time.Minute)
	for i := 0; i < 3; i++ {
		a.ObserveOutcome("AUTH_FAILED", 0)
	}
	assert.Equal(t, []string{RuleAuthFailureBurst, RuleAuthFailureBurst}, fired)
}

func TestWindowExpiryClearsFailures(t *testing.T) {
	a, m, clock := newTestAlerts(t)

	a.ObserveOutcome("AUTH_FAILED", 0)
	a.ObserveOutcome("AUTH_FAILED", 0)

	// The first two slide out of the window; two fresh ones never reach the
	// threshold of three.
	clock.Advance(2 * time.Minute)
	a.ObserveOutcome("AUTH_FAILED", 0)
	a.ObserveOutcome("AUTH_FAILED", 0)

	assert.Equal(t, 0.0, firedCount(t, m, RuleAuthFailureBurst))
}

func TestProviderFailureBurst(t *testing.T) {
	a, m, _ := newTestAlerts(t)

	for _, kind := range []string{"UPSTREAM_UNAVAILABLE", "TIMEOUT", "NETWORK", "INVALID_RESPONSE", "TIMEOUT"} {
		a.ObserveOutcome(kind, 0)
	}
	assert.Equal(t, 1.0, firedCount(t, m, RuleProviderFailureBurst))
}

func TestNonProviderKindsDoNotCount(t *testing.T) {
	a, m, _ := newTestAlerts(t)

	for i := 0; i < 10; i++ {
		a.ObserveOutcome("BAD_INPUT", 0)
		a.ObserveOutcome("NOT_FOUND", 0)
		a.ObserveOutcome("RATE_LIMITED", 0)
	}
	assert.Equal(t, 0.0, firedCount(t, m, RuleProviderFailureBurst))
	assert.Equal(t, 0.0, firedCount(t, m, RuleAuthFailureBurst))
}

func TestLatencyP95Breach(t *testing.T) {
	a, m, _ := newTestAlerts(t)

	// 19 fast samples: below the minimum sample floor, no alert possible.
	for i := 0; i < 19; i++ {
		a.ObserveOutcome("", 10*time.Second)
	}
	assert.Equal(t, 0.0, firedCount(t, m, RuleLatencyP95))

	// 20th sample crosses the floor with p95 far above 2s.
	a.ObserveOutcome("", 10*time.Second)
	assert.Equal(t, 1.0, firedCount(t, m, RuleLatencyP95))
}

func TestLatencyP95IgnoresFastTraffic(t *testing.T) {
	a, m, _ := newTestAlerts(t)

	// One slow outlier among fast requests keeps p95 under the threshold.
	a.ObserveOutcome("", 30*time.Second)
	for i := 0; i < 99; i++ {
		a.ObserveOutcome("", 50*time.Millisecond)
	}
	assert.Equal(t, 0.0, firedCount(t, m, RuleLatencyP95))
}

func TestBreakerStateGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetBreakerState("/v2/prices/:pair/spot", "open")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("/v2/prices/:pair/spot")))

	m.SetBreakerState("/v2/prices/:pair/spot", "half_open")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("/v2/prices/:pair/spot")))

	m.SetBreakerState("/v2/prices/:pair/spot", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("/v2/prices/:pair/spot")))
}
