package contracts

import "time"

// OrderState is the exhaustive, typed view of a broker order status
type OrderState int

const (
	OrderCreated OrderState = iota
	OrderPartiallyFilled
	OrderFilled
	OrderCanceled
)

func (s OrderState) String() string {
	switch s {
	case OrderCreated:
		return "created"
	case OrderPartiallyFilled:
		return "partially_filled"
	case OrderFilled:
		return "filled"
	case OrderCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ParseOrderState folds a raw broker status into an OrderState
// Every terminal non-filled status (expired, rejected, done_for_day) is Canceled.
func ParseOrderState(status string) OrderState {
	switch status {
	case "filled":
		return OrderFilled
	case "partially_filled":
		return OrderPartiallyFilled
	case "canceled", "cancelled", "expired", "rejected", "done_for_day", "stopped", "suspended":
		return OrderCanceled
	default:
		// new, accepted, pending_new, accepted_for_bidding, calculated,
		// pending_cancel, pending_replace, replaced, held
		return OrderCreated
	}
}

// Order is a read-only broker order snapshot
type Order struct {
	ID             string      `json:"id"`
	ClientOrderID  string      `json:"client_order_id"`
	Symbol         string      `json:"symbol"`
	Side           Side        `json:"side"`
	Type           OrderType   `json:"type"`
	TIF            TimeInForce `json:"time_in_force"`
	OrderClass     string      `json:"order_class"`
	Qty            int         `json:"qty"`
	FilledQty      int         `json:"filled_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	LimitPrice     *float64    `json:"limit_price,omitempty"`
	StopPrice      *float64    `json:"stop_price,omitempty"`
	Status         string      `json:"status"`
	State          OrderState  `json:"state"`
	CreatedAt      time.Time   `json:"created_at"`
	SubmittedAt    time.Time   `json:"submitted_at"`
	FilledAt       *time.Time  `json:"filled_at,omitempty"`
	Legs           []Order     `json:"legs,omitempty"`
}

// IsOpeningAuction reports whether the order is restricted to the opening auction
func (o *Order) IsOpeningAuction() bool {
	return o.TIF == TIFOPG
}

// Account is the broker account snapshot
type Account struct {
	ID               string  `json:"id"`
	Status           string  `json:"status"`
	Currency         string  `json:"currency"`
	Equity           float64 `json:"equity"`
	LastEquity       float64 `json:"last_equity"`
	Cash             float64 `json:"cash"`
	BuyingPower      float64 `json:"buying_power"`
	PortfolioValue   float64 `json:"portfolio_value"`
	LongMarketValue  float64 `json:"long_market_value"`
	PatternDayTrader bool    `json:"pattern_day_trader"`
	TradingBlocked   bool    `json:"trading_blocked"`
}

// Position is a broker-owned open position
type Position struct {
	Symbol               string  `json:"symbol"`
	Qty                  int     `json:"qty"`
	Side                 string  `json:"side"`
	AvgEntryPrice        float64 `json:"avg_entry_price"`
	CurrentPrice         float64 `json:"current_price"`
	LastdayPrice         float64 `json:"lastday_price"`
	MarketValue          float64 `json:"market_value"`
	CostBasis            float64 `json:"cost_basis"`
	UnrealizedPL         float64 `json:"unrealized_pl"`
	UnrealizedPLPC       float64 `json:"unrealized_plpc"`
	UnrealizedIntradayPL float64 `json:"unrealized_intraday_pl"`
}

// Activity is a broker FILL activity
type Activity struct {
	ID              string    `json:"id"`
	ActivityType    string    `json:"activity_type"`
	Symbol          string    `json:"symbol"`
	Side            Side      `json:"side"`
	Qty             int       `json:"qty"`
	Price           float64   `json:"price"`
	OrderID         string    `json:"order_id"`
	TransactionTime time.Time `json:"transaction_time"`
}

// Notional returns qty × price
func (a Activity) Notional() float64 {
	return float64(a.Qty) * a.Price
}

// BracketRequest is an entry with attached stop and target legs
type BracketRequest struct {
	Symbol        string
	Qty           int
	Side          Side
	Entry         EntrySpec
	StopPrice     float64
	TargetPrice   float64
	ClientOrderID string
}

// EntryRequest is a single-leg order
type EntryRequest struct {
	Symbol        string
	Qty           int
	Side          Side
	Type          OrderType
	TIF           TimeInForce
	LimitPrice    *float64
	ClientOrderID string
}

// OCORequest is a protective stop/target pair for an existing position
type OCORequest struct {
	Symbol         string
	Qty            int
	TargetPrice    float64
	StopPrice      float64
	StopLimitPrice float64
	ClientOrderID  string
}
