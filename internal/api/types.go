package api

// Wire types mirror the upstream JSON exactly. Decimal amounts stay strings
// until conversion; parsing happens once, in convert.go.

// spotPriceResponse is the /v2/prices/{pair}/spot envelope.
type spotPriceResponse struct {
	Data spotPriceData `json:"data"`
}

type spotPriceData struct {
	Amount   string `json:"amount"`
	Base     string `json:"base"`
	Currency string `json:"currency"`
}

// accountsResponse is the /api/v3/brokerage/accounts page.
type accountsResponse struct {
	Accounts []wireAccount `json:"accounts"`
	HasNext  bool          `json:"has_next"`
	Cursor   string        `json:"cursor"`
}

type wireAccount struct {
	UUID             string      `json:"uuid"`
	Name             string      `json:"name"`
	Currency         string      `json:"currency"`
	Type             string      `json:"type"`
	Active           bool        `json:"active"`
	AvailableBalance wireBalance `json:"available_balance"`
	Hold             wireBalance `json:"hold"`
}

type wireBalance struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// fillsResponse is the /api/v3/brokerage/orders/historical/fills page.
type fillsResponse struct {
	Fills  []wireFill `json:"fills"`
	Cursor string     `json:"cursor"`
}

type wireFill struct {
	EntryID    string `json:"entry_id"`
	TradeID    string `json:"trade_id"`
	OrderID    string `json:"order_id"`
	TradeTime  string `json:"trade_time"` // RFC 3339
	TradeType  string `json:"trade_type"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	Commission string `json:"commission"`
	ProductID  string `json:"product_id"`
	Side       string `json:"side"`
}
