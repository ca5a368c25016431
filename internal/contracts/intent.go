package contracts

import "fmt"

// Side is the order side
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType is the order type
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// TimeInForce is the order time-in-force
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFOPG TimeInForce = "opg" // opening auction only
	TIFGTC TimeInForce = "gtc"
)

// EntrySpec describes the entry leg of an intent
type EntrySpec struct {
	Type       OrderType   `json:"type"`
	TIF        TimeInForce `json:"time_in_force"`
	LimitPrice *float64    `json:"limit_price,omitempty"`
	OpenOnly   bool        `json:"open_only"`
}

// Bracket holds the protective exit levels
type Bracket struct {
	StopPrice   float64 `json:"stop_price"`
	TargetPrice float64 `json:"target_price"`
}

// IntentMeta records the sizing inputs
type IntentMeta struct {
	Score  float64 `json:"score"`
	ATR    float64 `json:"atr"`
	RSI    float64 `json:"rsi"`
	Close  float64 `json:"close"`
	Reason string  `json:"reason"`
}

// OrderIntent is an immutable, sized order ready for dispatch
// ⭐ SSOT: produced by the intent builder, consumed exactly once by the executor
type OrderIntent struct {
	RunID         string     `json:"run_id"`
	Date          string     `json:"date"`
	Symbol        string     `json:"symbol"`
	Side          Side       `json:"side"`
	Qty           int        `json:"qty"`
	Entry         EntrySpec  `json:"entry"`
	Bracket       Bracket    `json:"bracket"`
	Meta          IntentMeta `json:"meta"`
	ClientOrderID string     `json:"client_order_id"`
}

// EntryPrice returns the limit price for limit entries, otherwise the last close
func (i *OrderIntent) EntryPrice() float64 {
	if i.Entry.LimitPrice != nil {
		return *i.Entry.LimitPrice
	}
	return i.Meta.Close
}

// Notional returns qty × entry price
func (i *OrderIntent) Notional() float64 {
	return float64(i.Qty) * i.EntryPrice()
}

// RunIDFor returns the scan run id for a session date
func RunIDFor(date string) string {
	return date + "_scan"
}

// ClientOrderID derives the deterministic client order id for an intent
func ClientOrderID(runID, symbol, date string) string {
	return fmt.Sprintf("%s:%s:%s", runID, symbol, date)
}

// OCOClientOrderID derives the protective-pair client id from its parent order
func OCOClientOrderID(parentOrderID string) string {
	return parentOrderID + "_oco"
}

// BuildSummary tallies one intent-builder run
type BuildSummary struct {
	RunID         string         `json:"run_id"`
	AsOf          string         `json:"as_of"`
	Equity        float64        `json:"equity"`
	Candidates    int            `json:"candidates"`
	Filtered      map[string]int `json:"filtered"`
	Skipped       map[string]int `json:"skipped"`
	Selected      int            `json:"selected"`
	TotalNotional float64        `json:"total_notional"`
	ConfigHash    string         `json:"config_hash,omitempty"`
}
