package api

import (
	"context"
	"net/url"
	"strconv"

	"github.com/lunaris-ai/coinbridge/internal/model"
)

// Endpoint labels used in errors, breaker state, and metrics. Stable path
// templates, never concrete paths.
const (
	EndpointSpotPrice = "/v2/prices/:pair/spot"
	EndpointAccounts  = "/api/v3/brokerage/accounts"
	EndpointFills     = "/api/v3/brokerage/orders/historical/fills"
)

// accountsPageLimit is the upstream maximum page size.
const accountsPageLimit = 250

// maxAccountPages bounds pagination so a misbehaving cursor cannot loop
// forever.
const maxAccountPages = 20

// GetSpotPrice fetches the public spot price for a pair like "BTC-USD".
// No authentication is attached even when a strategy is configured.
func (c *Client) GetSpotPrice(ctx context.Context, pair string) (model.MarketPrice, error) {
	var resp spotPriceResponse
	path := "/v2/prices/" + pair + "/spot"
	if err := c.getJSONPublic(ctx, EndpointSpotPrice, path, nil, &resp); err != nil {
		return model.MarketPrice{}, err
	}

	price, err := toMarketPrice(resp.Data, pair, c.now())
	if err != nil {
		return model.MarketPrice{}, newError(KindInvalidResponse, EndpointSpotPrice, c.userContextID, err)
	}
	return price, nil
}

// GetPortfolioSnapshot fetches all brokerage accounts, following cursors,
// and aggregates them into a snapshot.
func (c *Client) GetPortfolioSnapshot(ctx context.Context) (model.PortfolioSnapshot, error) {
	var accounts []wireAccount
	cursor := ""

	for page := 0; page < maxAccountPages; page++ {
		query := url.Values{"limit": {strconv.Itoa(accountsPageLimit)}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var resp accountsResponse
		if err := c.getJSON(ctx, EndpointAccounts, EndpointAccounts, query, &resp); err != nil {
			return model.PortfolioSnapshot{}, err
		}
		accounts = append(accounts, resp.Accounts...)

		if !resp.HasNext || resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	snapshot, err := toPortfolioSnapshot(accounts, c.now())
	if err != nil {
		return model.PortfolioSnapshot{}, newError(KindInvalidResponse, EndpointAccounts, c.userContextID, err)
	}
	return snapshot, nil
}

// GetRecentTransactions fetches up to limit historical fills, newest first.
func (c *Client) GetRecentTransactions(ctx context.Context, limit int) ([]model.TransactionEvent, error) {
	query := url.Values{"limit": {strconv.Itoa(limit)}}

	var resp fillsResponse
	if err := c.getJSON(ctx, EndpointFills, EndpointFills, query, &resp); err != nil {
		return nil, err
	}

	events, err := toTransactionEvents(resp.Fills)
	if err != nil {
		return nil, newError(KindInvalidResponse, EndpointFills, c.userContextID, err)
	}
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}
