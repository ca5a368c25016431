// Package reconcile repairs broker state at the start of a session: stale
// opening-auction orders, deferred protective stops and partial fills.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crajarshi/SwingTrading/internal/broker"
	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/execution"
	"github.com/crajarshi/SwingTrading/internal/intent"
	"github.com/crajarshi/SwingTrading/internal/metrics"
	"github.com/crajarshi/SwingTrading/internal/state"
	"github.com/crajarshi/SwingTrading/internal/strategyconfig"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// Metric actions
const (
	actionCancelled = "cancelled"
	actionOCOPlaced = "oco_placed"
	actionPartial   = "partial_fill"
	actionNoFill    = "no_fill"
)

// Engine reconciles persisted placements against observed broker state
// ⭐ SSOT: protective stops for opening-auction entries are written here only
type Engine struct {
	broker  broker.Broker
	store   state.Store
	cfg     strategyconfig.Reconcile
	metrics *metrics.Registry
	logger  *logger.Logger
}

// New creates a reconciliation engine
func New(b broker.Broker, store state.Store, cfg strategyconfig.Reconcile, m *metrics.Registry, log *logger.Logger) *Engine {
	return &Engine{
		broker:  b,
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  log.WithField("module", "reconcile"),
	}
}

// Reconcile runs the session-start pass for one run
// It only acts on observed broker state and the run's persisted intents, so it is safe to re-run.
func (e *Engine) Reconcile(ctx context.Context, runID string, asOf time.Time) (*contracts.ReconciliationSummary, error) {
	summary := &contracts.ReconciliationSummary{
		RunID:          runID,
		AsOf:           asOf,
		Cancelled:      []string{},
		OCOPlaced:      []contracts.OCOPlacement{},
		PartialHandled: []contracts.PartialFill{},
		Errors:         []contracts.SymbolError{},
	}
	log := e.logger.WithField("run_id", runID)

	if err := e.cancelStale(ctx, asOf, summary); err != nil {
		return summary, err
	}

	placements, err := state.LoadOrEmpty(e.store.LoadPlacements(ctx, runID))
	if err != nil {
		return summary, err
	}
	if len(placements) == 0 {
		log.Info("No placements to reconcile")
		return summary, nil
	}
	intents, err := state.LoadOrEmpty(e.store.LoadIntents(ctx, runID))
	if err != nil {
		return summary, err
	}
	byClientID := make(map[string]contracts.OrderIntent, len(intents))
	for _, in := range intents {
		byClientID[in.ClientOrderID] = in
	}

	for _, rec := range placements {
		if err := ctx.Err(); err != nil {
			return summary, apperr.FromTransport("reconcile", err)
		}
		if rec.DryRun || !rec.Success || rec.BrokerOrderID == "" {
			continue
		}
		var err error
		if rec.PendingOCO {
			err = e.protect(ctx, rec, byClientID, summary)
		} else if rec.Strategy != contracts.StrategyOPGThenOCO {
			err = e.checkBracket(ctx, rec, summary)
		}
		if err != nil {
			return summary, err
		}
	}

	e.metrics.Reconcile(actionCancelled, len(summary.Cancelled))
	e.metrics.Reconcile(actionOCOPlaced, len(summary.OCOPlaced))
	e.metrics.Reconcile(actionPartial, len(summary.PartialHandled))

	log.WithFields(map[string]interface{}{
		"cancelled":     len(summary.Cancelled),
		"oco_placed":    len(summary.OCOPlaced),
		"partial":       len(summary.PartialHandled),
		"still_pending": summary.StillPending,
		"errors":        len(summary.Errors),
	}).Info("Reconciliation finished")
	return summary, nil
}

// cancelStale cancels opening-auction orders left over from an earlier session
// Failing to list orders is run-level; a failed cancel is per-order.
func (e *Engine) cancelStale(ctx context.Context, asOf time.Time, summary *contracts.ReconciliationSummary) error {
	orders, err := e.broker.ListOrders(ctx, broker.StatusOpen)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}
	staleAfter := e.cfg.OPGStaleAfter()
	for _, o := range orders {
		if !o.IsOpeningAuction() || asOf.Sub(o.CreatedAt) <= staleAfter {
			continue
		}
		log := e.logger.WithFields(map[string]interface{}{
			"symbol":   o.Symbol,
			"order_id": o.ID,
			"age":      asOf.Sub(o.CreatedAt).Round(time.Minute).String(),
		})
		if err := e.broker.CancelOrder(ctx, o.ID); err != nil {
			log.WithError(err).Warn("Failed to cancel stale opening-auction order")
			summary.Errors = append(summary.Errors, symbolError(o.Symbol, o.ClientOrderID, err))
			continue
		}
		log.Info("Cancelled stale opening-auction order")
		summary.Cancelled = append(summary.Cancelled, o.ID)

		entry := execution.NewLogEntry(summary.RunID, contracts.ActionCancelled, o.Symbol, asOf)
		entry.ClientOrderID = o.ClientOrderID
		entry.BrokerOrderID = o.ID
		entry.Detail = map[string]interface{}{"reason": "stale_opg"}
		if err := e.store.AppendOrderLog(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// protect submits the deferred stop/target pair for a filled opening-auction entry
func (e *Engine) protect(ctx context.Context, rec contracts.PlacementRecord, intents map[string]contracts.OrderIntent, summary *contracts.ReconciliationSummary) error {
	log := e.logger.WithFields(map[string]interface{}{
		"symbol":   rec.Symbol,
		"order_id": rec.BrokerOrderID,
	})

	order, err := e.broker.GetOrder(ctx, rec.BrokerOrderID)
	if err != nil {
		summary.Errors = append(summary.Errors, symbolError(rec.Symbol, rec.ClientOrderID, err))
		return nil
	}

	qty, ready := protectQty(order)
	if !ready {
		summary.StillPending++
		return nil
	}
	if qty == 0 {
		log.WithField("status", order.Status).Info("Entry ended without a fill; nothing to protect")
		e.metrics.Reconcile(actionNoFill, 1)
		rec.PendingOCO = false
		return e.store.SavePlacements(ctx, summary.RunID, []contracts.PlacementRecord{rec})
	}

	in, ok := intents[rec.ClientOrderID]
	if !ok {
		summary.Errors = append(summary.Errors, symbolError(rec.Symbol, rec.ClientOrderID,
			apperr.Dataf("reconcile", "no persisted intent for %s", rec.ClientOrderID)))
		return nil
	}

	ocoID := contracts.OCOClientOrderID(order.ID)
	placement := contracts.OCOPlacement{
		Symbol:        rec.Symbol,
		ParentOrderID: order.ID,
		ClientOrderID: ocoID,
		Qty:           qty,
		StopPrice:     in.Bracket.StopPrice,
		TargetPrice:   in.Bracket.TargetPrice,
	}

	existing, err := e.broker.GetOrderByClientID(ctx, ocoID)
	if err != nil {
		summary.Errors = append(summary.Errors, symbolError(rec.Symbol, ocoID, err))
		return nil
	}
	if existing != nil {
		placement.OrderID = existing.ID
		placement.Existing = true
		log.WithField("oco_order_id", existing.ID).Info("Protective pair already exists")
	} else {
		if !e.broker.Capabilities().OCO {
			summary.Errors = append(summary.Errors, symbolError(rec.Symbol, ocoID,
				apperr.Configf("reconcile", "broker does not accept OCO orders")))
			return nil
		}
		oco, err := e.broker.SubmitOCOStops(ctx, contracts.OCORequest{
			Symbol:         rec.Symbol,
			Qty:            qty,
			TargetPrice:    in.Bracket.TargetPrice,
			StopPrice:      in.Bracket.StopPrice,
			StopLimitPrice: intent.StopLimitFor(in.Bracket.StopPrice),
			ClientOrderID:  ocoID,
		})
		if err != nil {
			log.WithError(err).Error("Failed to submit protective pair")
			summary.Errors = append(summary.Errors, symbolError(rec.Symbol, ocoID, err))
			return nil
		}
		placement.OrderID = oco.ID
		log.WithFields(map[string]interface{}{
			"oco_order_id": oco.ID,
			"qty":          qty,
			"stop":         in.Bracket.StopPrice,
			"target":       in.Bracket.TargetPrice,
		}).Info("Protective pair placed")
	}
	summary.OCOPlaced = append(summary.OCOPlaced, placement)

	rec.PendingOCO = false
	rec.OCOOrderID = placement.OrderID
	if err := e.store.SavePlacements(ctx, summary.RunID, []contracts.PlacementRecord{rec}); err != nil {
		return err
	}

	entry := execution.NewLogEntry(summary.RunID, contracts.ActionOCOPlaced, rec.Symbol, summary.AsOf)
	entry.ClientOrderID = ocoID
	entry.BrokerOrderID = placement.OrderID
	entry.Strategy = rec.Strategy
	entry.Qty = qty
	entry.Detail = map[string]interface{}{
		"parent_order_id": order.ID,
		"stop_price":      placement.StopPrice,
		"target_price":    placement.TargetPrice,
		"existing":        placement.Existing,
	}
	return e.store.AppendOrderLog(ctx, entry)
}

// protectQty returns the quantity to protect and whether the entry has settled
// A partially filled entry stays pending until the auction order completes.
func protectQty(o *contracts.Order) (int, bool) {
	switch o.State {
	case contracts.OrderFilled, contracts.OrderCanceled:
		return o.FilledQty, true
	default:
		return 0, false
	}
}

// checkBracket compares leg quantities against the filled quantity of a partially filled bracket
func (e *Engine) checkBracket(ctx context.Context, rec contracts.PlacementRecord, summary *contracts.ReconciliationSummary) error {
	order, err := e.broker.GetOrder(ctx, rec.BrokerOrderID)
	if err != nil {
		summary.Errors = append(summary.Errors, symbolError(rec.Symbol, rec.ClientOrderID, err))
		return nil
	}
	if order.FilledQty == 0 || order.FilledQty >= order.Qty {
		return nil
	}

	pf := contracts.PartialFill{
		Symbol:    rec.Symbol,
		OrderID:   order.ID,
		Qty:       order.Qty,
		FilledQty: order.FilledQty,
	}
	mismatch := false
	for _, leg := range order.Legs {
		pf.LegQty = append(pf.LegQty, leg.Qty)
		if leg.Qty != order.FilledQty {
			mismatch = true
		}
	}
	summary.PartialHandled = append(summary.PartialHandled, pf)

	log := e.logger.WithFields(map[string]interface{}{
		"symbol":     rec.Symbol,
		"order_id":   order.ID,
		"qty":        order.Qty,
		"filled_qty": order.FilledQty,
		"leg_qty":    pf.LegQty,
	})
	if mismatch {
		log.Warn("Bracket legs do not match filled quantity")
	} else {
		log.Info("Partial bracket fill; legs match")
	}
	return nil
}

// CleanStaleIntents archives and removes runs older than the configured number of days
func (e *Engine) CleanStaleIntents(ctx context.Context, asOf time.Time) ([]string, error) {
	cutoff := asOf.AddDate(0, 0, -e.cfg.CleanIntentsDays).Format(contracts.DateLayout)
	purged, err := e.store.PurgeRuns(ctx, cutoff)
	if err != nil {
		return purged, fmt.Errorf("clean stale intents: %w", err)
	}
	if len(purged) > 0 {
		e.logger.WithFields(map[string]interface{}{
			"cutoff": cutoff,
			"runs":   purged,
		}).Info("Archived stale runs")
	}
	return purged, nil
}

// Audit classifies every placement of a run by its broker state
func (e *Engine) Audit(ctx context.Context, runID string) (*contracts.AuditSummary, error) {
	placements, err := state.LoadOrEmpty(e.store.LoadPlacements(ctx, runID))
	if err != nil {
		return nil, err
	}
	audit := &contracts.AuditSummary{RunID: runID}
	var errs []error
	for _, rec := range placements {
		if rec.DryRun || rec.BrokerOrderID == "" {
			continue
		}
		order, err := e.broker.GetOrder(ctx, rec.BrokerOrderID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rec.Symbol, err))
			continue
		}
		audit.Checked++
		switch order.State {
		case contracts.OrderFilled:
			audit.Filled++
		case contracts.OrderPartiallyFilled:
			audit.Partial++
		case contracts.OrderCanceled:
			audit.Cancelled++
		default:
			audit.Pending++
		}
		if rec.PendingOCO && order.FilledQty > 0 {
			audit.OCONeeded++
		}
		if rec.OCOOrderID != "" {
			audit.OCOPlaced++
		}
	}
	return audit, errors.Join(errs...)
}

func symbolError(symbol, clientID string, err error) contracts.SymbolError {
	return contracts.SymbolError{
		Symbol:        symbol,
		ClientOrderID: clientID,
		Kind:          string(apperr.KindOf(err)),
		Error:         err.Error(),
	}
}
