// Package circuit provides a per-endpoint circuit breaker. State is keyed by
// logical endpoint and shared across all users: the breaker protects the
// upstream service, not a single tenant.
package circuit

import (
	"sync"
	"time"
)

// State is the breaker state for one endpoint.
type State int

const (
	StateClosed   State = iota // Requests pass
	StateOpen                  // Requests rejected until the next probe time
	StateHalfOpen              // A single probe is in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds breaker tuning.
type Config struct {
	FailureThreshold int           // Consecutive failures that open the circuit
	Cooldown         time.Duration // Initial wait before a half-open probe
	CooldownMax      time.Duration // Cap on cooldown growth across re-opens
}

// endpointState tracks one endpoint.
type endpointState struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
	nextProbeAt         time.Time
	cooldown            time.Duration
	probeInFlight       bool
}

// Breaker tracks failure state per endpoint.
type Breaker struct {
	mu        sync.Mutex
	cfg       Config
	endpoints map[string]*endpointState

	now func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// New creates a Breaker.
func New(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		cfg:       cfg,
		endpoints: make(map[string]*endpointState),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CanRequest reports whether a request to endpoint may proceed. When the
// circuit is open it returns false and the wait until the next probe slot.
// At the probe time exactly one caller is admitted (half-open); concurrent
// callers keep being rejected until that probe resolves.
func (b *Breaker) CanRequest(endpoint string) (ok bool, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	es := b.endpointLocked(endpoint)
	switch es.state {
	case StateClosed:
		return true, 0
	case StateHalfOpen:
		return false, es.cooldown
	case StateOpen:
		now := b.now()
		if now.Before(es.nextProbeAt) {
			return false, es.nextProbeAt.Sub(now)
		}
		es.state = StateHalfOpen
		es.probeInFlight = true
		return true, 0
	}
	return false, es.cooldown
}

// OnSuccess records a successful call and closes the endpoint's circuit.
func (b *Breaker) OnSuccess(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	es := b.endpointLocked(endpoint)
	es.state = StateClosed
	es.consecutiveFailures = 0
	es.cooldown = b.cfg.Cooldown
	es.probeInFlight = false
}

// OnFailure records a failed call. A half-open probe failure re-opens the
// circuit with a doubled cooldown, capped at CooldownMax.
func (b *Breaker) OnFailure(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	es := b.endpointLocked(endpoint)
	es.consecutiveFailures++

	switch es.state {
	case StateHalfOpen:
		es.cooldown = minDuration(es.cooldown*2, b.cfg.CooldownMax)
		b.openLocked(es)
	case StateClosed:
		if es.consecutiveFailures >= b.cfg.FailureThreshold {
			b.openLocked(es)
		}
	}
}

// Snapshot describes one endpoint's current breaker state.
type Snapshot struct {
	Endpoint            string    `json:"endpoint"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
	NextProbeAt         time.Time `json:"next_probe_at,omitzero"`
}

// Snapshots returns the state of every tracked endpoint.
func (b *Breaker) Snapshots() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Snapshot, 0, len(b.endpoints))
	for name, es := range b.endpoints {
		out = append(out, Snapshot{
			Endpoint:            name,
			State:               es.state.String(),
			ConsecutiveFailures: es.consecutiveFailures,
			OpenedAt:            es.openedAt,
			NextProbeAt:         es.nextProbeAt,
		})
	}
	return out
}

// StateOf returns the current state for one endpoint.
func (b *Breaker) StateOf(endpoint string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.endpointLocked(endpoint).state
}

func (b *Breaker) endpointLocked(endpoint string) *endpointState {
	es, ok := b.endpoints[endpoint]
	if !ok {
		es = &endpointState{state: StateClosed, cooldown: b.cfg.Cooldown}
		b.endpoints[endpoint] = es
	}
	return es
}

func (b *Breaker) openLocked(es *endpointState) {
	now := b.now()
	es.state = StateOpen
	es.openedAt = now
	es.nextProbeAt = now.Add(es.cooldown)
	es.probeInFlight = false
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
