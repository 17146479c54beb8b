package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewBalance_TotalInvariant(t *testing.T) {
	tests := []struct {
		name      string
		available float64
		hold      float64
		wantTotal float64
	}{
		{"both positive", 1.5, 0.25, 1.75},
		{"zero hold", 2.0, 0, 2.0},
		{"zero both", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBalance("acct-1", "Main", "wallet", "BTC", tt.available, tt.hold)
			assert.Equal(t, tt.wantTotal, b.Total)
		})
	}
}

func TestMarketPrice_Freshness(t *testing.T) {
	fetched := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := MarketPrice{FetchedAtMS: fetched.UnixMilli()}

	now := fetched.Add(1500 * time.Millisecond)
	assert.Equal(t, int64(1500), p.FreshnessMS(now))

	// Freshness is recomputed, not stored: a later read sees a larger value.
	later := fetched.Add(5 * time.Second)
	assert.Equal(t, int64(5000), p.FreshnessMS(later))
}

func TestParseTradeSide(t *testing.T) {
	tests := []struct {
		in   string
		want TradeSide
	}{
		{"BUY", SideBuy},
		{"buy", SideBuy},
		{" bid ", SideBuy},
		{"SELL", SideSell},
		{"ask", SideSell},
		{"conversion", SideOther},
		{"", SideOther},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseTradeSide(tt.in), "input %q", tt.in)
	}
}

func TestRequestContext_Validate(t *testing.T) {
	assert.Error(t, RequestContext{}.Validate())
	assert.Error(t, RequestContext{UserContextID: "  "}.Validate())
	assert.NoError(t, RequestContext{UserContextID: "user-1"}.Validate())
}
