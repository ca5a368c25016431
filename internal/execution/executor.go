// Package execution dispatches order intents to the broker exactly once.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/crajarshi/SwingTrading/internal/broker"
	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/metrics"
	"github.com/crajarshi/SwingTrading/internal/state"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/logger"
	"github.com/crajarshi/SwingTrading/pkg/redis"
)

// placeLeaseTTL bounds how long one process may hold a run's placement lease
const placeLeaseTTL = 10 * time.Minute

// Placement results used as metric labels
const (
	resultPlaced    = "placed"
	resultDryRun    = "dry_run"
	resultError     = "error"
	resultRecovered = "recovered"
)

// Options controls one placement batch
type Options struct {
	DryRun bool
}

// Executor places a run's intents through the broker
// ⭐ SSOT: every entry order is written here, after a client-id lookup
type Executor struct {
	broker  broker.Broker
	store   state.Store
	lock    *redis.Lock
	metrics *metrics.Registry
	logger  *logger.Logger
	now     func() time.Time
}

// NewExecutor creates an executor
// lock may be nil; when set it keeps two processes from placing the same run at once.
func NewExecutor(b broker.Broker, store state.Store, lock *redis.Lock, m *metrics.Registry, log *logger.Logger) *Executor {
	return &Executor{
		broker:  b,
		store:   store,
		lock:    lock,
		metrics: m,
		logger:  log.WithField("module", "executor"),
		now:     time.Now,
	}
}

// SelectStrategy picks the order-construction strategy for a batch
// Any intent that needs immediate execution forces day brackets for the whole batch.
func SelectStrategy(intents []contracts.OrderIntent, caps broker.Capabilities) contracts.Strategy {
	for _, in := range intents {
		if !in.Entry.OpenOnly {
			return contracts.StrategyDayBracket
		}
	}
	if caps.OpeningAuctionBracket {
		return contracts.StrategyOPGBracket
	}
	return contracts.StrategyOPGThenOCO
}

// Place dispatches intents and persists a placement record for every order written
// Per-symbol failures are collected in the summary; the returned error is run-level.
func (e *Executor) Place(ctx context.Context, runID string, intents []contracts.OrderIntent, opts Options) (*contracts.PlacementSummary, error) {
	strategy := SelectStrategy(intents, e.broker.Capabilities())
	summary := &contracts.PlacementSummary{
		RunID:    runID,
		Strategy: strategy,
		DryRun:   opts.DryRun,
		Placed:   []contracts.PlacementRecord{},
		Skipped:  []contracts.Skip{},
		Errors:   []contracts.SymbolError{},
	}
	log := e.logger.WithFields(map[string]interface{}{
		"run_id":   runID,
		"strategy": string(strategy),
		"dry_run":  opts.DryRun,
		"intents":  len(intents),
	})
	log.Info("Placement started")

	if !opts.DryRun && e.lock.Enabled() {
		token := fmt.Sprintf("%s@%d", runID, e.now().UnixNano())
		if err := e.lock.Acquire(ctx, "place:"+runID, token, placeLeaseTTL); err != nil {
			return summary, apperr.New(apperr.KindGeneral, "execution.Place", fmt.Errorf("placement for %s already in progress: %w", runID, err))
		}
		defer func() {
			if err := e.lock.Release(context.WithoutCancel(ctx), "place:"+runID, token); err != nil {
				log.WithError(err).Warn("Failed to release placement lease")
			}
		}()
	}

	for _, in := range intents {
		if err := ctx.Err(); err != nil {
			return summary, apperr.FromTransport("execution.Place", err)
		}
		if err := e.placeOne(ctx, summary, in, opts); err != nil {
			return summary, err
		}
	}

	log.WithFields(map[string]interface{}{
		"placed":  len(summary.Placed),
		"skipped": len(summary.Skipped),
		"errors":  len(summary.Errors),
	}).Info("Placement finished")
	return summary, nil
}

// placeOne handles one intent; only state-store failures are returned
func (e *Executor) placeOne(ctx context.Context, summary *contracts.PlacementSummary, in contracts.OrderIntent, opts Options) error {
	strategy := summary.Strategy
	log := e.logger.WithFields(map[string]interface{}{
		"symbol":          in.Symbol,
		"client_order_id": in.ClientOrderID,
	})

	if in.Qty <= 0 {
		return e.recordError(ctx, summary, in, apperr.Configf("execution.Place", "intent %s has qty %d", in.Symbol, in.Qty))
	}

	if opts.DryRun {
		rec := e.record(summary.RunID, in, strategy, "")
		rec.DryRun = true
		summary.Placed = append(summary.Placed, rec)
		e.metrics.Placement(string(strategy), resultDryRun)
		log.Info("Dry run: would place order")
		return e.store.AppendOrderLog(ctx, placementEntry(rec, in, e.now()))
	}

	existing, err := e.broker.GetOrderByClientID(ctx, in.ClientOrderID)
	if err != nil {
		log.WithError(err).Warn("Client id lookup failed; skipping to avoid a duplicate")
		return e.recordSkip(ctx, summary, contracts.Skip{
			Symbol:        in.Symbol,
			ClientOrderID: in.ClientOrderID,
			Reason:        contracts.SkipLookupFailed,
			Detail:        err.Error(),
		})
	}
	if existing != nil {
		log.WithField("broker_order_id", existing.ID).Info("Order already exists; skipping")
		return e.recordSkip(ctx, summary, contracts.Skip{
			Symbol:        in.Symbol,
			ClientOrderID: in.ClientOrderID,
			Reason:        contracts.SkipDuplicate,
			Detail:        existing.ID,
		})
	}

	order, err := e.submit(ctx, strategy, in)
	result := resultPlaced
	if err != nil {
		// the write may have landed before the failure was observed
		recovered, lerr := e.broker.GetOrderByClientID(ctx, in.ClientOrderID)
		if lerr != nil || recovered == nil {
			return e.recordError(ctx, summary, in, err)
		}
		log.WithError(err).Warn("Submit reported failure but the order exists; recording it")
		order, result = recovered, resultRecovered
	}

	rec := e.record(summary.RunID, in, strategy, order.ID)
	summary.Placed = append(summary.Placed, rec)
	e.metrics.Placement(string(strategy), result)
	log.WithFields(map[string]interface{}{
		"broker_order_id": order.ID,
		"qty":             in.Qty,
		"pending_oco":     rec.PendingOCO,
	}).Info("Order placed")

	if err := e.store.SavePlacements(ctx, summary.RunID, []contracts.PlacementRecord{rec}); err != nil {
		return fmt.Errorf("persist placement %s: %w", in.Symbol, err)
	}
	return e.store.AppendOrderLog(ctx, placementEntry(rec, in, e.now()))
}

// submit writes the order shape the strategy calls for
func (e *Executor) submit(ctx context.Context, strategy contracts.Strategy, in contracts.OrderIntent) (*contracts.Order, error) {
	switch strategy {
	case contracts.StrategyOPGBracket:
		return e.broker.SubmitBracketOrder(ctx, bracketRequest(in, in.Entry))
	case contracts.StrategyOPGThenOCO:
		return e.broker.SubmitOpeningAuctionEntry(ctx, contracts.EntryRequest{
			Symbol:        in.Symbol,
			Qty:           in.Qty,
			Side:          in.Side,
			Type:          contracts.OrderTypeLimit,
			TIF:           contracts.TIFOPG,
			LimitPrice:    in.Entry.LimitPrice,
			ClientOrderID: in.ClientOrderID,
		})
	default:
		return e.broker.SubmitBracketOrder(ctx, bracketRequest(in, DayEntry(in.Entry)))
	}
}

// DayEntry converts an entry to its regular-hours form
// Opening-auction limits keep their price as day limits.
func DayEntry(entry contracts.EntrySpec) contracts.EntrySpec {
	if entry.TIF == contracts.TIFOPG {
		entry.TIF = contracts.TIFDay
	}
	entry.OpenOnly = false
	return entry
}

func bracketRequest(in contracts.OrderIntent, entry contracts.EntrySpec) contracts.BracketRequest {
	return contracts.BracketRequest{
		Symbol:        in.Symbol,
		Qty:           in.Qty,
		Side:          in.Side,
		Entry:         entry,
		StopPrice:     in.Bracket.StopPrice,
		TargetPrice:   in.Bracket.TargetPrice,
		ClientOrderID: in.ClientOrderID,
	}
}

func (e *Executor) record(runID string, in contracts.OrderIntent, strategy contracts.Strategy, orderID string) contracts.PlacementRecord {
	return contracts.PlacementRecord{
		RunID:         runID,
		Symbol:        in.Symbol,
		ClientOrderID: in.ClientOrderID,
		BrokerOrderID: orderID,
		Strategy:      strategy,
		Qty:           in.Qty,
		Success:       true,
		PendingOCO:    strategy == contracts.StrategyOPGThenOCO,
		PlacedAt:      e.now().UTC(),
	}
}

func (e *Executor) recordSkip(ctx context.Context, summary *contracts.PlacementSummary, s contracts.Skip) error {
	summary.Skipped = append(summary.Skipped, s)
	e.metrics.Placement(string(summary.Strategy), s.Reason)
	return e.store.AppendOrderLog(ctx, skipEntry(summary.RunID, s, summary.Strategy, e.now()))
}

func (e *Executor) recordError(ctx context.Context, summary *contracts.PlacementSummary, in contracts.OrderIntent, err error) error {
	se := contracts.SymbolError{
		Symbol:        in.Symbol,
		ClientOrderID: in.ClientOrderID,
		Kind:          string(apperr.KindOf(err)),
		Error:         err.Error(),
	}
	summary.Errors = append(summary.Errors, se)
	e.metrics.Placement(string(summary.Strategy), resultError)
	e.logger.WithError(err).WithFields(map[string]interface{}{
		"symbol": in.Symbol,
		"kind":   se.Kind,
	}).Error("Order placement failed")
	return e.store.AppendOrderLog(ctx, errorEntry(summary.RunID, se, summary.Strategy, e.now()))
}
