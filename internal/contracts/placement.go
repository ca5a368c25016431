package contracts

import "time"

// Strategy is the order-construction strategy chosen for a batch
type Strategy string

const (
	StrategyOPGBracket Strategy = "opg_bracket"  // opening-auction entry with attached legs
	StrategyOPGThenOCO Strategy = "opg_then_oco" // entry now, protective pair after the fill
	StrategyDayBracket Strategy = "day_bracket"  // regular-hours bracket
)

// Placement skip reasons
const (
	SkipDuplicate    = "duplicate"
	SkipLookupFailed = "lookup_failed"
)

// PlacementRecord is one dispatched intent
// ⭐ SSOT: read back by reconciliation
type PlacementRecord struct {
	RunID         string    `json:"run_id"`
	Symbol        string    `json:"symbol"`
	ClientOrderID string    `json:"client_order_id"`
	BrokerOrderID string    `json:"broker_order_id"`
	Strategy      Strategy  `json:"strategy"`
	Qty           int       `json:"qty"`
	Success       bool      `json:"success"`
	PendingOCO    bool      `json:"pending_oco"`
	OCOOrderID    string    `json:"oco_order_id,omitempty"`
	DryRun        bool      `json:"dry_run,omitempty"`
	PlacedAt      time.Time `json:"placed_at"`
}

// Skip records an intent that was not dispatched
type Skip struct {
	Symbol        string `json:"symbol"`
	ClientOrderID string `json:"client_order_id"`
	Reason        string `json:"reason"`
	Detail        string `json:"detail,omitempty"`
}

// SymbolError records a per-symbol failure that did not abort the batch
type SymbolError struct {
	Symbol        string `json:"symbol"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	Kind          string `json:"kind"`
	Error         string `json:"error"`
}

// PlacementSummary is the result of one executor run
type PlacementSummary struct {
	RunID    string            `json:"run_id"`
	Strategy Strategy          `json:"strategy"`
	DryRun   bool              `json:"dry_run"`
	Placed   []PlacementRecord `json:"placed"`
	Skipped  []Skip            `json:"skipped"`
	Errors   []SymbolError     `json:"errors"`
}

// OCOPlacement records a protective pair submitted by reconciliation
type OCOPlacement struct {
	Symbol        string  `json:"symbol"`
	ParentOrderID string  `json:"parent_order_id"`
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Qty           int     `json:"qty"`
	StopPrice     float64 `json:"stop_price"`
	TargetPrice   float64 `json:"target_price"`
	Existing      bool    `json:"existing,omitempty"`
}

// PartialFill records a bracket whose legs disagree with the filled quantity
type PartialFill struct {
	Symbol    string `json:"symbol"`
	OrderID   string `json:"order_id"`
	Qty       int    `json:"qty"`
	FilledQty int    `json:"filled_qty"`
	LegQty    []int  `json:"leg_qty,omitempty"`
}

// ReconciliationSummary is the result of one reconciliation pass
type ReconciliationSummary struct {
	RunID          string         `json:"run_id"`
	AsOf           time.Time      `json:"as_of"`
	Cancelled      []string       `json:"cancelled"`
	OCOPlaced      []OCOPlacement `json:"oco_placed"`
	PartialHandled []PartialFill  `json:"partial_handled"`
	StillPending   int            `json:"still_pending"`
	Errors         []SymbolError  `json:"errors"`
}

// AuditSummary classifies every placement of a run
type AuditSummary struct {
	RunID     string `json:"run_id"`
	Checked   int    `json:"checked"`
	Filled    int    `json:"filled"`
	Partial   int    `json:"partial"`
	Pending   int    `json:"pending"`
	Cancelled int    `json:"cancelled"`
	OCONeeded int    `json:"oco_needed"`
	OCOPlaced int    `json:"oco_placed"`
}

// Order log actions
const (
	ActionPlaced     = "placed"
	ActionDryRun     = "dry_run"
	ActionSkipped    = "skipped"
	ActionError      = "error"
	ActionCancelled  = "cancelled"
	ActionOCOPlaced  = "oco_placed"
	ActionClosed     = "closed"
	ActionTradeEvent = "trade_update"
)

// OrderLogEntry is one append-only audit line
type OrderLogEntry struct {
	EventID       string                 `json:"event_id"`
	LoggedAt      time.Time              `json:"logged_at"`
	RunID         string                 `json:"run_id"`
	Action        string                 `json:"action"`
	Symbol        string                 `json:"symbol,omitempty"`
	ClientOrderID string                 `json:"client_order_id,omitempty"`
	BrokerOrderID string                 `json:"broker_order_id,omitempty"`
	Strategy      Strategy               `json:"strategy,omitempty"`
	Qty           int                    `json:"qty,omitempty"`
	Detail        map[string]interface{} `json:"detail,omitempty"`
}

// EquitySnapshot is the end-of-day account state used for next-day P/L
type EquitySnapshot struct {
	Date         string    `json:"date"`
	EndingEquity float64   `json:"ending_equity"`
	Cash         float64   `json:"cash"`
	BuyingPower  float64   `json:"buying_power"`
	Timestamp    time.Time `json:"timestamp"`
}
