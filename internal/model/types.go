package model

import (
	"fmt"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Market Data
// -----------------------------------------------------------------------------

// MarketPrice is a spot price for a trading pair at a point in time.
type MarketPrice struct {
	SymbolPair  string  `json:"symbol_pair"`  // e.g., "BTC-USD"
	BaseAsset   string  `json:"base_asset"`   // e.g., "BTC"
	QuoteAsset  string  `json:"quote_asset"`  // e.g., "USD"
	Price       float64 `json:"price"`        // Parsed amount
	PriceText   string  `json:"price_text"`   // Upstream decimal string, verbatim
	FetchedAtMS int64   `json:"fetched_at_ms"`
	Source      string  `json:"source"` // e.g., "coinbase"
}

// FreshnessMS returns elapsed milliseconds since the price was fetched.
func (p MarketPrice) FreshnessMS(now time.Time) int64 {
	return now.UnixMilli() - p.FetchedAtMS
}

// -----------------------------------------------------------------------------
// Portfolio
// -----------------------------------------------------------------------------

// Balance is a single account balance within a portfolio snapshot.
// Total is always Available + Hold; use NewBalance to construct.
type Balance struct {
	AccountID   string  `json:"account_id"`
	AccountName string  `json:"account_name"`
	AccountType string  `json:"account_type"`
	AssetSymbol string  `json:"asset_symbol"`
	Available   float64 `json:"available"`
	Hold        float64 `json:"hold"`
	Total       float64 `json:"total"`
}

// NewBalance builds a Balance with the Total invariant enforced.
func NewBalance(accountID, accountName, accountType, assetSymbol string, available, hold float64) Balance {
	return Balance{
		AccountID:   accountID,
		AccountName: accountName,
		AccountType: accountType,
		AssetSymbol: assetSymbol,
		Available:   available,
		Hold:        hold,
		Total:       available + hold,
	}
}

// PortfolioSnapshot is a user's account balances at a point in time.
type PortfolioSnapshot struct {
	Balances    []Balance `json:"balances"`
	FetchedAtMS int64     `json:"fetched_at_ms"`
	Source      string    `json:"source"`
}

// FreshnessMS returns elapsed milliseconds since the snapshot was fetched.
func (s PortfolioSnapshot) FreshnessMS(now time.Time) int64 {
	return now.UnixMilli() - s.FetchedAtMS
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

// TradeSide classifies a transaction.
type TradeSide string

const (
	SideBuy   TradeSide = "buy"
	SideSell  TradeSide = "sell"
	SideOther TradeSide = "other"
)

// ParseTradeSide normalizes an upstream side string.
func ParseTradeSide(s string) TradeSide {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "bid":
		return SideBuy
	case "sell", "ask":
		return SideSell
	default:
		return SideOther
	}
}

// TransactionEvent is a single historical fill.
type TransactionEvent struct {
	ID           string    `json:"id"`
	Side         TradeSide `json:"side"`
	AssetSymbol  string    `json:"asset_symbol"`
	Quantity     float64   `json:"quantity"`
	Price        float64   `json:"price,omitempty"`
	Fee          float64   `json:"fee,omitempty"`
	OccurredAtMS int64     `json:"occurred_at_ms"`
	Status       string    `json:"status"`
}

// -----------------------------------------------------------------------------
// Capabilities & Health
// -----------------------------------------------------------------------------

// CapabilityStatus is the coarse classification of what is safe to attempt.
type CapabilityStatus string

const (
	StatusOK           CapabilityStatus = "ok"
	StatusDegraded     CapabilityStatus = "degraded"
	StatusDisconnected CapabilityStatus = "disconnected"
)

// Capabilities reports which operations are currently available for a user.
type Capabilities struct {
	Status       CapabilityStatus `json:"status"`
	MarketData   bool             `json:"market_data"`
	Portfolio    bool             `json:"portfolio"`
	Transactions bool             `json:"transactions"`
	Reason       string           `json:"reason,omitempty"`
}

// HealthReport is the result of a live probe against the upstream.
type HealthReport struct {
	Status       CapabilityStatus `json:"status"`
	MarketData   bool             `json:"market_data"`
	Portfolio    bool             `json:"portfolio"`
	Transactions bool             `json:"transactions"`
	ProbeLatency time.Duration    `json:"probe_latency"`
	Detail       string           `json:"detail,omitempty"`
}

// RequestContext identifies the caller for correlation and tenancy.
type RequestContext struct {
	UserContextID  string `json:"user_context_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	MissionRunID   string `json:"mission_run_id,omitempty"`
}

// Validate checks that the context can scope per-user state.
func (rc RequestContext) Validate() error {
	if strings.TrimSpace(rc.UserContextID) == "" {
		return fmt.Errorf("user_context_id is required")
	}
	return nil
}
