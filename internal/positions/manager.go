// Package positions closes open positions by holding age, ahead of earnings,
// or all at once.
package positions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crajarshi/SwingTrading/internal/broker"
	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/execution"
	"github.com/crajarshi/SwingTrading/internal/intent"
	"github.com/crajarshi/SwingTrading/internal/state"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// Exit kinds
const (
	KindTime      = "time_exit"
	KindEarnings  = "earnings_exit"
	KindEmergency = "emergency"
)

// Skip reasons
const (
	SkipNoEntry          = "no_entry_found"
	SkipNoEarnings       = "no_earnings_data"
	SkipAlreadySubmitted = "already_submitted"
)

// Closed is one submitted exit order
type Closed struct {
	Symbol        string `json:"symbol"`
	Qty           int    `json:"qty"`
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	AgeDays       int    `json:"age_days,omitempty"`
	EarningsDate  string `json:"earnings_date,omitempty"`
	DaysUntil     int    `json:"days_until,omitempty"`
}

// Skipped is a position left open
type Skipped struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// Summary is the result of one exit pass
type Summary struct {
	Kind            string                  `json:"kind"`
	AsOf            string                  `json:"as_of"`
	Reason          string                  `json:"reason,omitempty"`
	OrdersCancelled int                     `json:"orders_cancelled"`
	Closed          []Closed                `json:"closed"`
	Skipped         []Skipped               `json:"skipped"`
	Errors          []contracts.SymbolError `json:"errors"`
}

func newSummary(kind string, asOf time.Time) *Summary {
	return &Summary{
		Kind:    kind,
		AsOf:    asOf.Format(contracts.DateLayout),
		Closed:  []Closed{},
		Skipped: []Skipped{},
		Errors:  []contracts.SymbolError{},
	}
}

// Manager submits market exits for open positions
type Manager struct {
	broker broker.Broker
	store  state.Store
	logger *logger.Logger
}

// NewManager creates a position manager
func NewManager(b broker.Broker, store state.Store, log *logger.Logger) *Manager {
	return &Manager{broker: b, store: store, logger: log.WithField("module", "positions")}
}

// ExitClientOrderID returns the deterministic client id for a dated exit
func ExitClientOrderID(kind, symbol string, asOf time.Time) string {
	return fmt.Sprintf("%s_%s_%s", kind, symbol, asOf.Format(contracts.DateLayout))
}

// EntryDates returns the latest filled buy time per symbol
func EntryDates(orders []contracts.Order) map[string]time.Time {
	out := make(map[string]time.Time)
	for _, o := range orders {
		if o.Side != contracts.SideBuy || o.FilledAt == nil || o.FilledQty == 0 {
			continue
		}
		if prev, ok := out[o.Symbol]; !ok || o.FilledAt.After(prev) {
			out[o.Symbol] = *o.FilledAt
		}
	}
	return out
}

// HoldingDays returns whole calendar days between entry and asOf
func HoldingDays(entry, asOf time.Time) int {
	return int(asOf.Sub(entry).Hours() / 24)
}

// CloseByAge exits every position held for at least maxDays
func (m *Manager) CloseByAge(ctx context.Context, maxDays int, asOf time.Time) (*Summary, error) {
	summary := newSummary(KindTime, asOf)
	positions, err := m.broker.GetPositions(ctx)
	if err != nil {
		return summary, fmt.Errorf("get positions: %w", err)
	}
	if len(positions) == 0 {
		return summary, nil
	}
	orders, err := m.broker.ListOrders(ctx, broker.StatusAll)
	if err != nil {
		return summary, fmt.Errorf("list orders: %w", err)
	}
	entries := EntryDates(orders)

	for _, p := range positions {
		entry, ok := entries[p.Symbol]
		if !ok {
			m.logger.WithField("symbol", p.Symbol).Warn("Could not find entry order")
			summary.Skipped = append(summary.Skipped, Skipped{Symbol: p.Symbol, Reason: SkipNoEntry})
			continue
		}
		age := HoldingDays(entry, asOf)
		if age < maxDays {
			continue
		}
		m.logger.WithFields(map[string]interface{}{
			"symbol":   p.Symbol,
			"age_days": age,
			"max_days": maxDays,
		}).Info("Closing aged position")

		closed, err := m.exit(ctx, summary, p, ExitClientOrderID(KindTime, p.Symbol, asOf))
		if err != nil {
			return summary, err
		}
		if closed != nil {
			closed.AgeDays = age
			summary.Closed = append(summary.Closed, *closed)
		}
	}
	m.logDone(summary)
	return summary, nil
}

// CloseBeforeEarnings exits positions whose earnings fall within preDays of asOf
func (m *Manager) CloseBeforeEarnings(ctx context.Context, calendar *intent.Earnings, preDays int, asOf time.Time) (*Summary, error) {
	summary := newSummary(KindEarnings, asOf)
	if calendar.Len() == 0 {
		m.logger.Info("No earnings data available")
		return summary, nil
	}
	positions, err := m.broker.GetPositions(ctx)
	if err != nil {
		return summary, fmt.Errorf("get positions: %w", err)
	}

	for _, p := range positions {
		days, ok := calendar.DaysUntil(p.Symbol, asOf)
		if !ok {
			summary.Skipped = append(summary.Skipped, Skipped{Symbol: p.Symbol, Reason: SkipNoEarnings})
			continue
		}
		if days < 0 || days > preDays {
			continue
		}
		date, _ := calendar.Date(p.Symbol)
		m.logger.WithFields(map[string]interface{}{
			"symbol":     p.Symbol,
			"days_until": days,
		}).Info("Closing position ahead of earnings")

		closed, err := m.exit(ctx, summary, p, ExitClientOrderID(KindEarnings, p.Symbol, asOf))
		if err != nil {
			return summary, err
		}
		if closed != nil {
			closed.EarningsDate = date.Format(contracts.DateLayout)
			closed.DaysUntil = days
			summary.Closed = append(summary.Closed, *closed)
		}
	}
	m.logDone(summary)
	return summary, nil
}

// CloseAll cancels every open order and then market-closes every position
func (m *Manager) CloseAll(ctx context.Context, reason string, now time.Time) (*Summary, error) {
	summary := newSummary(KindEmergency, now)
	summary.Reason = reason
	m.logger.WithField("reason", reason).Warn("Emergency close of all positions")

	cancelled, err := broker.CancelOpenOrders(ctx, m.broker, "")
	summary.OrdersCancelled = cancelled
	if err != nil {
		m.logger.WithError(err).Warn("Some open orders could not be cancelled")
	}

	positions, err := m.broker.GetPositions(ctx)
	if err != nil {
		return summary, fmt.Errorf("get positions: %w", err)
	}
	for _, p := range positions {
		clientID := fmt.Sprintf("%s_%s_%d", KindEmergency, p.Symbol, now.Unix())
		closed, err := m.exit(ctx, summary, p, clientID)
		if err != nil {
			return summary, err
		}
		if closed != nil {
			summary.Closed = append(summary.Closed, *closed)
		}
	}
	m.logDone(summary)
	return summary, nil
}

// exit cancels the symbol's working orders and submits a market close
// Broker failures are recorded per symbol; only state-store failures are returned.
func (m *Manager) exit(ctx context.Context, summary *Summary, p contracts.Position, clientID string) (*Closed, error) {
	log := m.logger.WithFields(map[string]interface{}{
		"symbol":          p.Symbol,
		"client_order_id": clientID,
	})

	existing, err := m.broker.GetOrderByClientID(ctx, clientID)
	if err != nil {
		summary.Errors = append(summary.Errors, symbolError(p.Symbol, clientID, err))
		return nil, nil
	}
	if existing != nil {
		log.WithField("order_id", existing.ID).Info("Exit already submitted")
		summary.Skipped = append(summary.Skipped, Skipped{Symbol: p.Symbol, Reason: SkipAlreadySubmitted})
		return nil, nil
	}

	// protective legs hold the shares; they must go before the close
	if summary.Kind != KindEmergency {
		if _, err := broker.CancelOpenOrders(ctx, m.broker, p.Symbol); err != nil {
			log.WithError(err).Warn("Failed to cancel working orders before exit")
		}
	}

	qty, side := closingOrder(p)
	if qty == 0 {
		return nil, nil
	}
	order, err := m.broker.SubmitOrder(ctx, contracts.EntryRequest{
		Symbol:        p.Symbol,
		Qty:           qty,
		Side:          side,
		Type:          contracts.OrderTypeMarket,
		TIF:           contracts.TIFDay,
		ClientOrderID: clientID,
	})
	if err != nil {
		log.WithError(err).Error("Failed to close position")
		summary.Errors = append(summary.Errors, symbolError(p.Symbol, clientID, err))
		return nil, nil
	}
	log.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"qty":      qty,
	}).Info("Exit submitted")

	entry := execution.NewLogEntry(summary.AsOf+"_"+summary.Kind, contracts.ActionClosed, p.Symbol, time.Now())
	entry.ClientOrderID = clientID
	entry.BrokerOrderID = order.ID
	entry.Qty = qty
	entry.Detail = map[string]interface{}{"kind": summary.Kind, "side": string(side)}
	if summary.Reason != "" {
		entry.Detail["reason"] = summary.Reason
	}
	if err := m.store.AppendOrderLog(ctx, entry); err != nil {
		return nil, err
	}

	return &Closed{Symbol: p.Symbol, Qty: qty, OrderID: order.ID, ClientOrderID: clientID}, nil
}

// closingOrder returns the absolute quantity and side that flattens p
func closingOrder(p contracts.Position) (int, contracts.Side) {
	qty := p.Qty
	if qty < 0 {
		qty = -qty
	}
	if p.Side == "short" || p.Qty < 0 {
		return qty, contracts.SideBuy
	}
	return qty, contracts.SideSell
}

func (m *Manager) logDone(s *Summary) {
	m.logger.WithFields(map[string]interface{}{
		"kind":    s.Kind,
		"closed":  len(s.Closed),
		"skipped": len(s.Skipped),
		"errors":  len(s.Errors),
	}).Info("Exit pass finished")
}

func symbolError(symbol, clientID string, err error) contracts.SymbolError {
	return contracts.SymbolError{
		Symbol:        symbol,
		ClientOrderID: clientID,
		Kind:          string(apperr.KindOf(err)),
		Error:         err.Error(),
	}
}

// Err returns the pass's per-symbol failures as one error, or nil
func (s *Summary) Err() error {
	errs := make([]error, 0, len(s.Errors))
	for _, e := range s.Errors {
		errs = append(errs, fmt.Errorf("%s: %s", e.Symbol, e.Error))
	}
	return errors.Join(errs...)
}
