package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
)

// MockBroker is an in-memory broker for tests and dry runs
// It counts order writes so idempotency can be asserted.
type MockBroker struct {
	mu        sync.Mutex
	caps      Capabilities
	account   contracts.Account
	positions map[string]contracts.Position
	orders    map[string]*contracts.Order
	byClient  map[string]string
	activity  []contracts.Activity
	seq       int
	writes    int
	now       func() time.Time

	// LookupErr, when set, fails every GetOrderByClientID call
	LookupErr error
	// SubmitErr, when set, fails every order write for the listed symbols
	SubmitErr map[string]error
}

// NewMockBroker creates a mock broker with the given equity
func NewMockBroker(equity float64) *MockBroker {
	return &MockBroker{
		caps: Capabilities{OpeningAuction: true, OCO: true},
		account: contracts.Account{
			ID:             "mock",
			Status:         "ACTIVE",
			Currency:       "USD",
			Equity:         equity,
			LastEquity:     equity,
			Cash:           equity,
			BuyingPower:    equity * 2,
			PortfolioValue: equity,
		},
		positions: make(map[string]contracts.Position),
		orders:    make(map[string]*contracts.Order),
		byClient:  make(map[string]string),
		SubmitErr: make(map[string]error),
		now:       time.Now,
	}
}

// SetCapabilities overrides the declared capabilities
func (b *MockBroker) SetCapabilities(c Capabilities) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.caps = c
}

// SetNow overrides the clock used for order timestamps
func (b *MockBroker) SetNow(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// SetAccount replaces the account snapshot
func (b *MockBroker) SetAccount(a contracts.Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.account = a
}

// SetPosition adds or replaces a position
func (b *MockBroker) SetPosition(p contracts.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[p.Symbol] = p
}

// AddActivity records a FILL activity
func (b *MockBroker) AddActivity(a contracts.Activity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activity = append(b.activity, a)
}

// Fill marks an order filled (or partially filled) at price
func (b *MockBroker) Fill(orderID string, qty int, price float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	now := b.now()
	o.FilledQty = qty
	o.FilledAvgPrice = price
	o.FilledAt = &now
	o.Status = "filled"
	if qty < o.Qty {
		o.Status = "partially_filled"
	}
	o.State = contracts.ParseOrderState(o.Status)
	return nil
}

// SetStatus forces an order status
func (b *MockBroker) SetStatus(orderID, status string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	o.Status = status
	o.State = contracts.ParseOrderState(status)
	return nil
}

// SetCreatedAt backdates an order
func (b *MockBroker) SetCreatedAt(orderID string, t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.orders[orderID]; ok {
		o.CreatedAt = t
		o.SubmittedAt = t
	}
}

// Writes returns the number of order-write calls that reached the broker
func (b *MockBroker) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// Orders returns every order, oldest first
func (b *MockBroker) Orders() []contracts.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]contracts.Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Capabilities implements Broker
func (b *MockBroker) Capabilities() Capabilities {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.caps
}

// GetAccount implements Broker
func (b *MockBroker) GetAccount(ctx context.Context) (*contracts.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.account
	return &a, nil
}

// GetPositions implements Broker
func (b *MockBroker) GetPositions(ctx context.Context) ([]contracts.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]contracts.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetPosition implements Broker
func (b *MockBroker) GetPosition(ctx context.Context, symbol string) (*contracts.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[symbol]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return &p, nil
}

// ListOrders implements Broker
func (b *MockBroker) ListOrders(ctx context.Context, status string) ([]contracts.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]contracts.Order, 0)
	for _, o := range b.orders {
		open := o.State == contracts.OrderCreated || o.State == contracts.OrderPartiallyFilled
		switch {
		case status == StatusOpen && !open, status == StatusClosed && open:
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetOrder implements Broker
func (b *MockBroker) GetOrder(ctx context.Context, orderID string) (*contracts.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return nil, apperr.Dataf("get order", "order %s not found", orderID)
	}
	cp := *o
	return &cp, nil
}

// GetOrderByClientID implements Broker
func (b *MockBroker) GetOrderByClientID(ctx context.Context, clientOrderID string) (*contracts.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.LookupErr != nil {
		return nil, b.LookupErr
	}
	id, ok := b.byClient[clientOrderID]
	if !ok {
		return nil, nil
	}
	cp := *b.orders[id]
	return &cp, nil
}

// CancelOrder implements Broker
func (b *MockBroker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return apperr.Dataf("cancel order", "order %s not found", orderID)
	}
	o.Status = "canceled"
	o.State = contracts.OrderCanceled
	return nil
}

// SubmitBracketOrder implements Broker
func (b *MockBroker) SubmitBracketOrder(ctx context.Context, req contracts.BracketRequest) (*contracts.Order, error) {
	stop, target := req.StopPrice, req.TargetPrice
	o := &contracts.Order{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Entry.Type,
		TIF:           req.Entry.TIF,
		OrderClass:    "bracket",
		Qty:           req.Qty,
		LimitPrice:    req.Entry.LimitPrice,
		Legs: []contracts.Order{
			{Symbol: req.Symbol, Side: contracts.SideSell, Type: contracts.OrderTypeLimit, Qty: req.Qty, LimitPrice: &target, Status: "held"},
			{Symbol: req.Symbol, Side: contracts.SideSell, Type: contracts.OrderTypeStop, Qty: req.Qty, StopPrice: &stop, Status: "held"},
		},
	}
	return b.submit(o)
}

// SubmitOpeningAuctionEntry implements Broker
func (b *MockBroker) SubmitOpeningAuctionEntry(ctx context.Context, req contracts.EntryRequest) (*contracts.Order, error) {
	return b.submit(&contracts.Order{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          contracts.OrderTypeLimit,
		TIF:           contracts.TIFOPG,
		OrderClass:    "simple",
		Qty:           req.Qty,
		LimitPrice:    req.LimitPrice,
	})
}

// SubmitOCOStops implements Broker
func (b *MockBroker) SubmitOCOStops(ctx context.Context, req contracts.OCORequest) (*contracts.Order, error) {
	target, stop := req.TargetPrice, req.StopPrice
	return b.submit(&contracts.Order{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          contracts.SideSell,
		Type:          contracts.OrderTypeLimit,
		TIF:           contracts.TIFGTC,
		OrderClass:    "oco",
		Qty:           req.Qty,
		LimitPrice:    &target,
		StopPrice:     &stop,
	})
}

// SubmitOrder implements Broker
func (b *MockBroker) SubmitOrder(ctx context.Context, req contracts.EntryRequest) (*contracts.Order, error) {
	return b.submit(&contracts.Order{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TIF:           req.TIF,
		OrderClass:    "simple",
		Qty:           req.Qty,
		LimitPrice:    req.LimitPrice,
	})
}

// GetActivities implements Broker
func (b *MockBroker) GetActivities(ctx context.Context, date string) ([]contracts.Activity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]contracts.Activity, 0)
	for _, a := range b.activity {
		if a.TransactionTime.Format(contracts.DateLayout) == date {
			out = append(out, a)
		}
	}
	return out, nil
}

// submit stores o, rejecting a reused client order id the way a real broker does
func (b *MockBroker) submit(o *contracts.Order) (*contracts.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	if err := b.SubmitErr[o.Symbol]; err != nil {
		return nil, err
	}
	if o.ClientOrderID != "" {
		if _, dup := b.byClient[o.ClientOrderID]; dup {
			return nil, apperr.FromStatus("submit order", 422, "client_order_id must be unique")
		}
	}
	if o.Qty <= 0 {
		return nil, apperr.FromStatus("submit order", 422, "qty must be > 0")
	}

	b.seq++
	now := b.now()
	o.ID = fmt.Sprintf("mock-%04d", b.seq)
	o.Status = "accepted"
	o.State = contracts.OrderCreated
	o.CreatedAt = now
	o.SubmittedAt = now
	b.orders[o.ID] = o
	if o.ClientOrderID != "" {
		b.byClient[o.ClientOrderID] = o.ID
	}
	cp := *o
	return &cp, nil
}

var _ Broker = (*MockBroker)(nil)
