package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/lunaris-ai/coinbridge/internal/api"
	"github.com/lunaris-ai/coinbridge/internal/auth"
	"github.com/lunaris-ai/coinbridge/internal/cache"
	"github.com/lunaris-ai/coinbridge/internal/circuit"
	"github.com/lunaris-ai/coinbridge/internal/config"
	"github.com/lunaris-ai/coinbridge/internal/creds"
	"github.com/lunaris-ai/coinbridge/internal/metrics"
	"github.com/lunaris-ai/coinbridge/internal/model"
	"github.com/lunaris-ai/coinbridge/internal/ratelimit"
	"github.com/lunaris-ai/coinbridge/internal/store"
)

// upstream is the slice of the API client the service consumes.
type upstream interface {
	GetSpotPrice(ctx context.Context, pair string) (model.MarketPrice, error)
	GetPortfolioSnapshot(ctx context.Context) (model.PortfolioSnapshot, error)
	GetRecentTransactions(ctx context.Context, limit int) ([]model.TransactionEvent, error)
}

// Service wires the bridge together. One instance serves all users; all
// per-user state lives in the caches, lanes, and credential provider.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger

	creds   *creds.Provider
	lanes   *ratelimit.Lanes
	breaker *circuit.Breaker
	store   *store.Store
	metrics *metrics.Metrics
	alerts  *metrics.Alerts

	prices       *cache.Cache[model.MarketPrice]
	portfolios   *cache.Cache[model.PortfolioSnapshot]
	transactions *cache.Cache[[]model.TransactionEvent]

	// dial builds a short-lived upstream client from resolved credentials;
	// dialPublic builds an unauthenticated one for public endpoints. Both
	// are swapped in tests.
	dial       func(c *creds.Credentials, userContextID string) (upstream, error)
	dialPublic func(userContextID string) (upstream, error)

	now func() time.Time
}

// New builds the service. st may be nil when persistence is disabled.
func New(cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer, st *store.Store) *Service {
	m := metrics.New(reg)

	s := &Service{
		cfg:     cfg,
		logger:  logger.With().Str("component", "service").Logger(),
		creds:   creds.NewProvider(cfg.Credentials, logger),
		lanes:   ratelimit.NewLanes(cfg.RateLimit, logger),
		breaker: circuit.New(circuit.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
			CooldownMax:      cfg.Breaker.CooldownMax,
		}),
		store:   st,
		metrics: m,
		alerts:  metrics.NewAlerts(cfg.Alerts, logger, m),

		prices:       cache.New[model.MarketPrice](cfg.Cache.MaxEntries),
		portfolios:   cache.New[model.PortfolioSnapshot](cfg.Cache.MaxEntries),
		transactions: cache.New[[]model.TransactionEvent](cfg.Cache.MaxEntries),

		now: time.Now,
	}
	s.dial = s.dialUpstream
	s.dialPublic = s.dialPublicUpstream

	s.store.SetDropHook(func(n int64) { m.StoreDropped.Add(float64(n)) })
	s.alerts.SetFireHook(func(rule string) {
		s.store.AppendAudit(store.AuditEvent{
			Operation: "alert",
			Endpoint:  rule,
			Outcome:   "fired",
		})
	})

	if cfg.Cache.SweepInterval > 0 {
		s.prices.StartJanitor(cfg.Cache.SweepInterval)
		s.portfolios.StartJanitor(cfg.Cache.SweepInterval)
		s.transactions.StartJanitor(cfg.Cache.SweepInterval)
	}

	return s
}

// Close stops the cache janitors.
func (s *Service) Close() {
	s.prices.Close()
	s.portfolios.Close()
	s.transactions.Close()
}

// BreakerSnapshots exposes circuit state for health surfaces.
func (s *Service) BreakerSnapshots() []circuit.Snapshot {
	return s.breaker.Snapshots()
}

// dialUpstream resolves the base URL and auth strategy, then builds the real
// API client.
func (s *Service) dialUpstream(c *creds.Credentials, userContextID string) (upstream, error) {
	baseURL := s.cfg.Upstream.BaseURL
	if c.BaseURLOverride != "" {
		baseURL = c.BaseURLOverride
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, api.NewError(api.KindBadInput, "", userContextID, fmt.Errorf("invalid base URL: %w", err))
	}

	strategy, err := auth.Select(c.APIKey, c.APISecret, parsed.Hostname())
	if err != nil {
		return nil, api.NewError(api.KindAuthUnsupported, "", userContextID, err)
	}

	return api.NewClient(baseURL, s.cfg.Upstream.AllowedHosts, strategy, userContextID,
		api.WithTimeout(s.cfg.Upstream.Timeout),
		api.WithRetries(s.cfg.Upstream.MaxRetries, s.cfg.Upstream.BackoffBase, s.cfg.Upstream.BackoffMax),
		api.WithLogger(s.logger),
	)
}

// dialPublicUpstream builds a client without a signing strategy. Public
// endpoints serve users whose credentials are absent or unusable.
func (s *Service) dialPublicUpstream(userContextID string) (upstream, error) {
	return api.NewClient(s.cfg.Upstream.BaseURL, s.cfg.Upstream.AllowedHosts, nil, userContextID,
		api.WithTimeout(s.cfg.Upstream.Timeout),
		api.WithRetries(s.cfg.Upstream.MaxRetries, s.cfg.Upstream.BackoffBase, s.cfg.Upstream.BackoffMax),
		api.WithLogger(s.logger),
	)
}

// clientFor resolves credentials and builds a client, mapping absence and
// unusable key material onto the taxonomy before any network work happens.
func (s *Service) clientFor(rc model.RequestContext, endpoint string) (upstream, error) {
	c, err := s.creds.Resolve(rc.UserContextID)
	if err != nil {
		return nil, api.NewError(api.KindUnknown, endpoint, rc.UserContextID, err)
	}
	if c == nil {
		return nil, api.NewError(api.KindDisconnected, endpoint, rc.UserContextID,
			fmt.Errorf("no credentials configured"))
	}
	if !c.Connected || c.APIKey == "" {
		return nil, api.NewError(api.KindDisconnected, endpoint, rc.UserContextID,
			fmt.Errorf("integration present but not connected"))
	}

	client, err := s.dial(c, rc.UserContextID)
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			apiErr.Endpoint = endpoint
			return nil, apiErr
		}
		return nil, api.NewError(api.KindUnknown, endpoint, rc.UserContextID, err)
	}
	return client, nil
}

// fetch runs call inside the user's lane with the endpoint's circuit gate.
// When public is set, a user whose credentials are missing or unusable gets
// an unauthenticated client instead of an error; spot prices need no signing.
func (s *Service) fetch(ctx context.Context, rc model.RequestContext, endpoint string, public bool, call func(context.Context, upstream) error) error {
	client, err := s.clientFor(rc, endpoint)
	if err != nil {
		kind := api.KindOf(err)
		if !public || (kind != api.KindDisconnected && kind != api.KindAuthUnsupported) {
			return err
		}
		client, err = s.dialPublic(rc.UserContextID)
		if err != nil {
			return api.NewError(api.KindUnknown, endpoint, rc.UserContextID, err)
		}
	}

	err = s.lanes.Run(ctx, rc.UserContextID, func(ctx context.Context) error {
		ok, retryAfter := s.breaker.CanRequest(endpoint)
		if !ok {
			cbErr := api.NewError(api.KindUpstreamUnavailable, endpoint, rc.UserContextID,
				fmt.Errorf("circuit open"))
			cbErr.RetryAfter = retryAfter
			return cbErr
		}

		callErr := call(ctx, client)
		s.recordBreakerOutcome(endpoint, callErr)
		return callErr
	})

	if errors.Is(err, ratelimit.ErrQueueFull) {
		return api.NewError(api.KindRateLimited, endpoint, rc.UserContextID, err)
	}
	return err
}

// recordBreakerOutcome feeds the circuit. Only failures that say the
// upstream itself is unhealthy count; a 404 or 429 proves the service is
// alive and closes a half-open probe.
func (s *Service) recordBreakerOutcome(endpoint string, err error) {
	switch api.KindOf(err) {
	case api.KindUpstreamUnavailable, api.KindTimeout, api.KindNetwork:
		s.breaker.OnFailure(endpoint)
	default:
		s.breaker.OnSuccess(endpoint)
	}
	s.metrics.SetBreakerState(endpoint, s.breaker.StateOf(endpoint).String())
}

// finish records metrics, alerting, and the audit trail for one operation.
// Persistence is best-effort and never surfaces to the caller.
func (s *Service) finish(op, endpoint string, rc model.RequestContext, start time.Time, cacheHit bool, err error) {
	latency := s.now().Sub(start)

	outcome := "ok"
	kind := ""
	switch {
	case err != nil:
		kind = string(api.KindOf(err))
		outcome = kind
	case cacheHit:
		outcome = "cache_hit"
	}

	s.metrics.Requests.WithLabelValues(op, outcome).Inc()
	s.metrics.Latency.WithLabelValues(op).Observe(latency.Seconds())
	s.metrics.LaneDepth.WithLabelValues(rc.UserContextID).Set(float64(s.lanes.Depth(rc.UserContextID)))
	s.alerts.ObserveOutcome(kind, latency)
	s.store.RecordMetric(op+"_latency_ms", float64(latency.Milliseconds()), rc.UserContextID)

	s.store.AppendAudit(store.AuditEvent{
		UserContextID:  rc.UserContextID,
		ConversationID: rc.ConversationID,
		MissionRunID:   rc.MissionRunID,
		Operation:      op,
		Endpoint:       endpoint,
		Outcome:        outcome,
		CacheHit:       cacheHit,
		LatencyMS:      latency.Milliseconds(),
	})

	event := s.logger.Info()
	if err != nil {
		event = s.logger.Warn().Str("error_kind", kind)
	}
	event.
		Str("operation", op).
		Str("user", rc.UserContextID).
		Bool("cache_hit", cacheHit).
		Dur("latency", latency).
		Msg("operation finished")
}
