package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/lunaris-ai/coinbridge/internal/model"
)

const sourceName = "coinbase"

// toMarketPrice converts a spot price envelope. The upstream decimal string
// is kept verbatim alongside the parsed value.
func toMarketPrice(data spotPriceData, pair string, fetchedAt time.Time) (model.MarketPrice, error) {
	price, err := strconv.ParseFloat(data.Amount, 64)
	if err != nil {
		return model.MarketPrice{}, fmt.Errorf("parse amount %q: %w", data.Amount, err)
	}

	return model.MarketPrice{
		SymbolPair:  pair,
		BaseAsset:   data.Base,
		QuoteAsset:  data.Currency,
		Price:       price,
		PriceText:   data.Amount,
		FetchedAtMS: fetchedAt.UnixMilli(),
		Source:      sourceName,
	}, nil
}

// toPortfolioSnapshot converts brokerage accounts, skipping inactive ones.
// An unparseable balance on one account fails the whole conversion rather
// than silently reporting a wrong total.
func toPortfolioSnapshot(accounts []wireAccount, fetchedAt time.Time) (model.PortfolioSnapshot, error) {
	balances := make([]model.Balance, 0, len(accounts))
	for _, acct := range accounts {
		if !acct.Active {
			continue
		}

		available, err := parseAmount(acct.AvailableBalance.Value)
		if err != nil {
			return model.PortfolioSnapshot{}, fmt.Errorf("account %s available: %w", acct.UUID, err)
		}
		hold, err := parseAmount(acct.Hold.Value)
		if err != nil {
			return model.PortfolioSnapshot{}, fmt.Errorf("account %s hold: %w", acct.UUID, err)
		}

		balances = append(balances,
			model.NewBalance(acct.UUID, acct.Name, acct.Type, acct.Currency, available, hold))
	}

	return model.PortfolioSnapshot{
		Balances:    balances,
		FetchedAtMS: fetchedAt.UnixMilli(),
		Source:      sourceName,
	}, nil
}

// toTransactionEvents converts historical fills, newest first as the
// upstream returns them.
func toTransactionEvents(fills []wireFill) ([]model.TransactionEvent, error) {
	events := make([]model.TransactionEvent, 0, len(fills))
	for _, fill := range fills {
		quantity, err := parseAmount(fill.Size)
		if err != nil {
			return nil, fmt.Errorf("fill %s size: %w", fill.EntryID, err)
		}
		price, err := parseAmount(fill.Price)
		if err != nil {
			return nil, fmt.Errorf("fill %s price: %w", fill.EntryID, err)
		}
		fee, err := parseAmount(fill.Commission)
		if err != nil {
			return nil, fmt.Errorf("fill %s commission: %w", fill.EntryID, err)
		}

		occurredAt, err := time.Parse(time.RFC3339, fill.TradeTime)
		if err != nil {
			return nil, fmt.Errorf("fill %s trade_time %q: %w", fill.EntryID, fill.TradeTime, err)
		}

		events = append(events, model.TransactionEvent{
			ID:           fill.EntryID,
			Side:         model.ParseTradeSide(fill.Side),
			AssetSymbol:  fill.ProductID,
			Quantity:     quantity,
			Price:        price,
			Fee:          fee,
			OccurredAtMS: occurredAt.UnixMilli(),
			Status:       fill.TradeType,
		})
	}
	return events, nil
}

// parseAmount treats an empty upstream string as zero; Coinbase omits zero
// balances in some payloads.
func parseAmount(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
