package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for one bridge instance.
type Metrics struct {
	Requests     *prometheus.CounterVec
	Latency      *prometheus.HistogramVec
	CacheLookups *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec
	LaneDepth    *prometheus.GaugeVec
	StoreDropped prometheus.Counter
	AlertsFired  *prometheus.CounterVec
}

// New registers all collectors on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinbridge",
			Name:      "requests_total",
			Help:      "Operations by result kind.",
		}, []string{"operation", "result"}),

		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coinbridge",
			Name:      "request_duration_seconds",
			Help:      "Operation latency, cache hits included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinbridge",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by outcome (hit, miss, or bypass).",
		}, []string{"operation", "outcome"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coinbridge",
			Name:      "breaker_state",
			Help:      "Circuit state per endpoint: 0 closed, 1 half_open, 2 open.",
		}, []string{"endpoint"}),

		LaneDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coinbridge",
			Name:      "lane_depth",
			Help:      "Queued plus in-flight jobs per user lane.",
		}, []string{"user"}),

		StoreDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coinbridge",
			Name:      "store_dropped_total",
			Help:      "Persistence records dropped on buffer overflow.",
		}),

		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinbridge",
			Name:      "alerts_fired_total",
			Help:      "Sliding-window alerts fired by rule.",
		}, []string{"rule"}),
	}

	reg.MustRegister(
		m.Requests,
		m.Latency,
		m.CacheLookups,
		m.BreakerState,
		m.LaneDepth,
		m.StoreDropped,
		m.AlertsFired,
	)
	return m
}

// breakerStateValue maps a state name onto the gauge scale.
func breakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half_open":
		return 1
	default:
		return 0
	}
}

// SetBreakerState updates the per-endpoint breaker gauge.
func (m *Metrics) SetBreakerState(endpoint, state string) {
	m.BreakerState.WithLabelValues(endpoint).Set(breakerStateValue(state))
}
