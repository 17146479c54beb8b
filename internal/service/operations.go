package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lunaris-ai/coinbridge/internal/api"
	"github.com/lunaris-ai/coinbridge/internal/cache"
	"github.com/lunaris-ai/coinbridge/internal/circuit"
	"github.com/lunaris-ai/coinbridge/internal/model"
	"github.com/lunaris-ai/coinbridge/internal/store"
)

// symbolPattern accepts normalized pairs like "BTC-USD". Validation happens
// before any lane, breaker, or network work.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}-[A-Z0-9]{2,10}$`)

const (
	defaultTransactionLimit = 20
	maxTransactionLimit     = 100
	defaultQuoteCurrency    = "USD"

	// probePair is the liquid pair used for health probes.
	probePair = "BTC-USD"
)

// ReadOption adjusts a single read operation.
type ReadOption func(*readOptions)

type readOptions struct {
	bypassCache bool
	quote       string
}

// BypassCache forces a live fetch even when a fresh cached value exists.
// The result still refreshes the cache.
func BypassCache() ReadOption {
	return func(o *readOptions) { o.bypassCache = true }
}

// WithQuoteCurrency sets the quote side joined to a bare base symbol like
// "BTC". Ignored when the caller already passes a full pair.
func WithQuoteCurrency(quote string) ReadOption {
	return func(o *readOptions) { o.quote = quote }
}

func applyReadOptions(opts []ReadOption) readOptions {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// normalizeSymbol uppercases and validates a trading pair. A bare base
// symbol is joined with the quote currency, defaulting to USD.
func normalizeSymbol(symbol, quote string) (string, error) {
	pair := strings.ToUpper(strings.TrimSpace(symbol))
	if pair != "" && !strings.Contains(pair, "-") {
		if quote == "" {
			quote = defaultQuoteCurrency
		}
		pair += "-" + strings.ToUpper(strings.TrimSpace(quote))
	}
	if !symbolPattern.MatchString(pair) {
		return "", fmt.Errorf("invalid symbol %q, expected a pair like BTC-USD", symbol)
	}
	return pair, nil
}

// cacheProbe consults the cache unless the caller opted out, and records the
// lookup outcome either way.
func cacheProbe[T any](s *Service, c *cache.Cache[T], op, key string, bypass bool) (T, bool) {
	if bypass {
		s.metrics.CacheLookups.WithLabelValues(op, "bypass").Inc()
		var zero T
		return zero, false
	}
	v, ok := c.Get(key)
	if ok {
		s.metrics.CacheLookups.WithLabelValues(op, "hit").Inc()
	} else {
		s.metrics.CacheLookups.WithLabelValues(op, "miss").Inc()
	}
	return v, ok
}

// GetSpotPrice returns the spot price for a pair, from cache when fresh.
// Spot prices are public: users without usable credentials are served
// through an unauthenticated client.
func (s *Service) GetSpotPrice(ctx context.Context, rc model.RequestContext, symbol string, opts ...ReadOption) (model.MarketPrice, error) {
	const op = "getSpotPrice"
	start := s.now()
	o := applyReadOptions(opts)

	if err := rc.Validate(); err != nil {
		return model.MarketPrice{}, api.NewError(api.KindBadInput, api.EndpointSpotPrice, rc.UserContextID, err)
	}
	pair, err := normalizeSymbol(symbol, o.quote)
	if err != nil {
		badErr := api.NewError(api.KindBadInput, api.EndpointSpotPrice, rc.UserContextID, err)
		s.finish(op, api.EndpointSpotPrice, rc, start, false, badErr)
		return model.MarketPrice{}, badErr
	}

	key := cache.Key("coinbase", "spot", rc.UserContextID, pair)
	if cached, ok := cacheProbe(s, s.prices, op, key, o.bypassCache); ok {
		s.finish(op, api.EndpointSpotPrice, rc, start, true, nil)
		return cached, nil
	}

	var price model.MarketPrice
	err = s.fetch(ctx, rc, api.EndpointSpotPrice, true, func(ctx context.Context, client upstream) error {
		var fetchErr error
		price, fetchErr = client.GetSpotPrice(ctx, pair)
		return fetchErr
	})
	if err != nil {
		s.finish(op, api.EndpointSpotPrice, rc, start, false, err)
		return model.MarketPrice{}, err
	}

	s.prices.Set(key, price, s.cfg.Cache.MarketTTL)
	s.store.SaveSnapshot(rc.UserContextID, op, price, time.UnixMilli(price.FetchedAtMS))
	s.finish(op, api.EndpointSpotPrice, rc, start, false, nil)
	return price, nil
}

// GetPortfolioSnapshot returns the user's balances, from cache when fresh.
func (s *Service) GetPortfolioSnapshot(ctx context.Context, rc model.RequestContext, opts ...ReadOption) (model.PortfolioSnapshot, error) {
	const op = "getPortfolioSnapshot"
	start := s.now()
	o := applyReadOptions(opts)

	if err := rc.Validate(); err != nil {
		return model.PortfolioSnapshot{}, api.NewError(api.KindBadInput, api.EndpointAccounts, rc.UserContextID, err)
	}

	key := cache.Key("coinbase", "portfolio", rc.UserContextID)
	if cached, ok := cacheProbe(s, s.portfolios, op, key, o.bypassCache); ok {
		s.finish(op, api.EndpointAccounts, rc, start, true, nil)
		return cached, nil
	}

	var snapshot model.PortfolioSnapshot
	err := s.fetch(ctx, rc, api.EndpointAccounts, false, func(ctx context.Context, client upstream) error {
		var fetchErr error
		snapshot, fetchErr = client.GetPortfolioSnapshot(ctx)
		return fetchErr
	})
	if err != nil {
		s.finish(op, api.EndpointAccounts, rc, start, false, err)
		return model.PortfolioSnapshot{}, err
	}

	s.portfolios.Set(key, snapshot, s.cfg.Cache.PortfolioTTL)
	s.store.SaveSnapshot(rc.UserContextID, op, snapshot, time.UnixMilli(snapshot.FetchedAtMS))
	s.finish(op, api.EndpointAccounts, rc, start, false, nil)
	return snapshot, nil
}

// GetRecentTransactions returns the user's latest fills, newest first.
// limit 0 means the default; out-of-range limits are rejected.
func (s *Service) GetRecentTransactions(ctx context.Context, rc model.RequestContext, limit int, opts ...ReadOption) ([]model.TransactionEvent, error) {
	const op = "getRecentTransactions"
	start := s.now()
	o := applyReadOptions(opts)

	if err := rc.Validate(); err != nil {
		return nil, api.NewError(api.KindBadInput, api.EndpointFills, rc.UserContextID, err)
	}
	if limit == 0 {
		limit = defaultTransactionLimit
	}
	if limit < 0 || limit > maxTransactionLimit {
		badErr := api.NewError(api.KindBadInput, api.EndpointFills, rc.UserContextID,
			fmt.Errorf("limit %d out of range [1, %d]", limit, maxTransactionLimit))
		s.finish(op, api.EndpointFills, rc, start, false, badErr)
		return nil, badErr
	}

	key := cache.Key("coinbase", "transactions", rc.UserContextID, strconv.Itoa(limit))
	if cached, ok := cacheProbe(s, s.transactions, op, key, o.bypassCache); ok {
		s.finish(op, api.EndpointFills, rc, start, true, nil)
		return cached, nil
	}

	var events []model.TransactionEvent
	err := s.fetch(ctx, rc, api.EndpointFills, false, func(ctx context.Context, client upstream) error {
		var fetchErr error
		events, fetchErr = client.GetRecentTransactions(ctx, limit)
		return fetchErr
	})
	if err != nil {
		s.finish(op, api.EndpointFills, rc, start, false, err)
		return nil, err
	}

	s.transactions.Set(key, events, s.cfg.Cache.TransactionsTTL)
	s.store.SaveSnapshot(rc.UserContextID, op, events, s.now())
	s.finish(op, api.EndpointFills, rc, start, false, nil)
	return events, nil
}

// GetCapabilities reports what is safe to attempt for this user. Credential
// files are consulted; the upstream is not.
func (s *Service) GetCapabilities(ctx context.Context, rc model.RequestContext) (model.Capabilities, error) {
	const op = "getCapabilities"
	start := s.now()

	if err := rc.Validate(); err != nil {
		badErr := api.NewError(api.KindBadInput, "", rc.UserContextID, err)
		s.finish(op, "", rc, start, false, badErr)
		return model.Capabilities{}, badErr
	}

	caps := s.capabilities(rc)
	s.finish(op, "", rc, start, false, nil)
	return caps, nil
}

func (s *Service) capabilities(rc model.RequestContext) model.Capabilities {
	// Spot prices are public, so market data only depends on the breaker.
	marketUp := s.breaker.StateOf(api.EndpointSpotPrice) != circuit.StateOpen

	c, err := s.creds.Resolve(rc.UserContextID)
	if err != nil {
		return model.Capabilities{
			Status:     model.StatusDegraded,
			MarketData: marketUp,
			Reason:     "credential storage is unreadable",
		}
	}
	if c == nil || !c.Connected || c.APIKey == "" {
		return model.Capabilities{
			Status:     model.StatusDisconnected,
			MarketData: marketUp,
			Reason:     "no Coinbase account connected; spot prices remain available",
		}
	}

	caps := model.Capabilities{
		Status:       model.StatusOK,
		MarketData:   marketUp,
		Portfolio:    s.breaker.StateOf(api.EndpointAccounts) != circuit.StateOpen,
		Transactions: s.breaker.StateOf(api.EndpointFills) != circuit.StateOpen,
	}
	if !caps.MarketData || !caps.Portfolio || !caps.Transactions {
		caps.Status = model.StatusDegraded
		caps.Reason = "one or more endpoints are cooling down after repeated failures"
	}
	return caps
}

// ProbeHealth runs the capability check and a live, cache-bypassing spot
// probe in parallel. It always returns a report, never an error.
func (s *Service) ProbeHealth(ctx context.Context, rc model.RequestContext) model.HealthReport {
	report := model.HealthReport{Status: model.StatusDisconnected}
	if err := rc.Validate(); err != nil {
		report.Detail = "missing user context"
		return report
	}

	var (
		caps     model.Capabilities
		probeErr error
		latency  time.Duration
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		caps, err = s.GetCapabilities(gctx, rc)
		return err
	})
	g.Go(func() error {
		probeStart := s.now()
		probeErr = s.fetch(gctx, rc, api.EndpointSpotPrice, true, func(ctx context.Context, client upstream) error {
			_, err := client.GetSpotPrice(ctx, probePair)
			return err
		})
		latency = s.now().Sub(probeStart)
		return nil
	})
	if err := g.Wait(); err != nil {
		report.Detail = (&api.Error{Kind: api.KindOf(err)}).SafeMessage()
		return report
	}

	report.Status = caps.Status
	report.MarketData = caps.MarketData
	report.Portfolio = caps.Portfolio
	report.Transactions = caps.Transactions
	report.ProbeLatency = latency
	report.Detail = caps.Reason

	if probeErr != nil {
		var apiErr *api.Error
		if errors.As(probeErr, &apiErr) {
			report.Detail = apiErr.SafeMessage()
			if apiErr.Kind == api.KindDisconnected {
				report.Status = model.StatusDisconnected
			} else if report.Status == model.StatusOK {
				report.Status = model.StatusDegraded
			}
		} else if report.Status == model.StatusOK {
			report.Status = model.StatusDegraded
			report.Detail = "live probe failed"
		}
		report.MarketData = false
	}
	return report
}

// InvalidateUserCache drops every cached value, credential entry, and lane
// penalty for one user, returning the number of cache entries removed.
// Called when the user re-links or unlinks their account.
func (s *Service) InvalidateUserCache(rc model.RequestContext) (int, error) {
	if err := rc.Validate(); err != nil {
		return 0, api.NewError(api.KindBadInput, "", rc.UserContextID, err)
	}

	// Per-user prefixes carry a trailing separator so "user-1" never
	// matches "user-10".
	removed := 0
	removed += s.prices.InvalidatePrefix(cache.Key("coinbase", "spot", rc.UserContextID) + ":")
	removed += s.transactions.InvalidatePrefix(cache.Key("coinbase", "transactions", rc.UserContextID) + ":")

	portfolioKey := cache.Key("coinbase", "portfolio", rc.UserContextID)
	if _, ok := s.portfolios.Get(portfolioKey); ok {
		removed++
	}
	s.portfolios.Invalidate(portfolioKey)

	s.creds.Invalidate(rc.UserContextID)
	s.lanes.Reset(rc.UserContextID)

	s.store.AppendAudit(store.AuditEvent{
		UserContextID:  rc.UserContextID,
		ConversationID: rc.ConversationID,
		MissionRunID:   rc.MissionRunID,
		Operation:      "invalidateUserCache",
		Outcome:        "ok",
	})
	s.logger.Info().Str("user", rc.UserContextID).Int("removed", removed).Msg("user cache invalidated")
	return removed, nil
}
