package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunaris-ai/coinbridge/internal/config"
)

// Alert rule names, also the Prometheus label values.
const (
	RuleAuthFailureBurst     = "auth_failure_burst"
	RuleProviderFailureBurst = "provider_failure_burst"
	RuleLatencyP95           = "latency_p95"
)

// latencyMinSamples is the floor below which the p95 rule stays silent; a
// percentile over a handful of requests is noise.
const latencyMinSamples = 20

type latencySample struct {
	at time.Time
	d  time.Duration
}

// Alerts is the sliding-window alert engine. Observations arrive from the
// service layer; rules are evaluated on every observation and fire at most
// once per cooldown.
type Alerts struct {
	cfg     config.AlertsConfig
	logger  zerolog.Logger
	metrics *Metrics

	mu               sync.Mutex
	authFailures     []time.Time
	providerFailures []time.Time
	latencies        []latencySample
	lastFired        map[string]time.Time

	onFire func(rule string)
	now    func() time.Time
}

// SetFireHook registers a callback invoked once per fired alert, after the
// log line and counter. The service uses it to append an audit record.
func (a *Alerts) SetFireHook(fn func(rule string)) {
	a.mu.Lock()
	a.onFire = fn
	a.mu.Unlock()
}

// NewAlerts creates the engine. metrics may be nil in tests.
func NewAlerts(cfg config.AlertsConfig, logger zerolog.Logger, m *Metrics) *Alerts {
	return &Alerts{
		cfg:       cfg,
		logger:    logger.With().Str("component", "alerts").Logger(),
		metrics:   m,
		lastFired: make(map[string]time.Time),
		now:       time.Now,
	}
}

// ObserveOutcome records one completed operation and evaluates all rules.
// kind is "" for success or the error kind.
func (a *Alerts) ObserveOutcome(kind string, latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.latencies = append(a.latencies, latencySample{at: now, d: latency})

	switch kind {
	case "AUTH_FAILED":
		a.authFailures = append(a.authFailures, now)
	case "UPSTREAM_UNAVAILABLE", "TIMEOUT", "NETWORK", "INVALID_RESPONSE":
		a.providerFailures = append(a.providerFailures, now)
	}

	a.prune(now)
	a.evaluate(now)
}

func (a *Alerts) prune(now time.Time) {
	cutoff := now.Add(-a.cfg.Window)

	a.authFailures = pruneTimes(a.authFailures, cutoff)
	a.providerFailures = pruneTimes(a.providerFailures, cutoff)

	kept := a.latencies[:0]
	for _, s := range a.latencies {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	a.latencies = kept
}

func pruneTimes(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (a *Alerts) evaluate(now time.Time) {
	if n := len(a.authFailures); n >= a.cfg.AuthFailureThreshold {
		a.fire(RuleAuthFailureBurst, now, func(e *zerolog.Event) {
			e.Int("auth_failures", n).Dur("window", a.cfg.Window)
		})
	}

	if n := len(a.providerFailures); n >= a.cfg.ProviderFailureThreshold {
		a.fire(RuleProviderFailureBurst, now, func(e *zerolog.Event) {
			e.Int("provider_failures", n).Dur("window", a.cfg.Window)
		})
	}

	if p95, ok := a.latencyP95(); ok && p95 > a.cfg.LatencyP95Threshold {
		a.fire(RuleLatencyP95, now, func(e *zerolog.Event) {
			e.Dur("p95", p95).Dur("threshold", a.cfg.LatencyP95Threshold)
		})
	}
}

// latencyP95 computes the 95th percentile over the window.
func (a *Alerts) latencyP95() (time.Duration, bool) {
	n := len(a.latencies)
	if n < latencyMinSamples {
		return 0, false
	}

	sorted := make([]time.Duration, n)
	for i, s := range a.latencies {
		sorted[i] = s.d
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (n*95+99)/100 - 1
	return sorted[idx], true
}

// fire emits the alert unless the rule is still cooling down.
func (a *Alerts) fire(rule string, now time.Time, annotate func(*zerolog.Event)) {
	if last, ok := a.lastFired[rule]; ok && now.Sub(last) < a.cfg.Cooldown {
		return
	}
	a.lastFired[rule] = now

	event := a.logger.Warn().Str("alert", rule)
	annotate(event)
	event.Msg("alert fired")

	if a.metrics != nil {
		a.metrics.AlertsFired.WithLabelValues(rule).Inc()
	}
	if a.onFire != nil {
		a.onFire(rule)
	}
}
