package execution

import (
	"time"

	"github.com/google/uuid"

	"github.com/crajarshi/SwingTrading/internal/contracts"
)

// NewLogEntry creates an order log entry with a fresh event id
func NewLogEntry(runID, action, symbol string, now time.Time) contracts.OrderLogEntry {
	return contracts.OrderLogEntry{
		EventID:  uuid.NewString(),
		LoggedAt: now.UTC(),
		RunID:    runID,
		Action:   action,
		Symbol:   symbol,
	}
}

func placementEntry(rec contracts.PlacementRecord, in contracts.OrderIntent, now time.Time) contracts.OrderLogEntry {
	action := contracts.ActionPlaced
	if rec.DryRun {
		action = contracts.ActionDryRun
	}
	e := NewLogEntry(rec.RunID, action, rec.Symbol, now)
	e.ClientOrderID = rec.ClientOrderID
	e.BrokerOrderID = rec.BrokerOrderID
	e.Strategy = rec.Strategy
	e.Qty = rec.Qty
	e.Detail = map[string]interface{}{
		"entry_type":   string(in.Entry.Type),
		"tif":          string(in.Entry.TIF),
		"stop_price":   in.Bracket.StopPrice,
		"target_price": in.Bracket.TargetPrice,
		"pending_oco":  rec.PendingOCO,
	}
	if in.Entry.LimitPrice != nil {
		e.Detail["limit_price"] = *in.Entry.LimitPrice
	}
	return e
}

func skipEntry(runID string, s contracts.Skip, strategy contracts.Strategy, now time.Time) contracts.OrderLogEntry {
	e := NewLogEntry(runID, contracts.ActionSkipped, s.Symbol, now)
	e.ClientOrderID = s.ClientOrderID
	e.Strategy = strategy
	e.Detail = map[string]interface{}{"reason": s.Reason}
	if s.Detail != "" {
		e.Detail["detail"] = s.Detail
	}
	return e
}

func errorEntry(runID string, se contracts.SymbolError, strategy contracts.Strategy, now time.Time) contracts.OrderLogEntry {
	e := NewLogEntry(runID, contracts.ActionError, se.Symbol, now)
	e.ClientOrderID = se.ClientOrderID
	e.Strategy = strategy
	e.Detail = map[string]interface{}{"kind": se.Kind, "error": se.Error}
	return e
}
