package broker

import (
	"context"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
)

// Offline stands in for a brokerage that has no credentials
// It reports caps so strategy selection still works; every call fails.
type Offline struct {
	caps Capabilities
}

// NewOffline creates an offline broker advertising caps
func NewOffline(caps Capabilities) *Offline {
	return &Offline{caps: caps}
}

func offline(op string) error {
	return apperr.Configf(op, "broker is offline: no credentials configured")
}

// Capabilities implements Broker
func (b *Offline) Capabilities() Capabilities { return b.caps }

// GetAccount implements Broker
func (b *Offline) GetAccount(ctx context.Context) (*contracts.Account, error) {
	return nil, offline("get account")
}

// GetPositions implements Broker
func (b *Offline) GetPositions(ctx context.Context) ([]contracts.Position, error) {
	return nil, offline("get positions")
}

// GetPosition implements Broker
func (b *Offline) GetPosition(ctx context.Context, symbol string) (*contracts.Position, error) {
	return nil, offline("get position")
}

// ListOrders implements Broker
func (b *Offline) ListOrders(ctx context.Context, status string) ([]contracts.Order, error) {
	return nil, offline("list orders")
}

// GetOrder implements Broker
func (b *Offline) GetOrder(ctx context.Context, orderID string) (*contracts.Order, error) {
	return nil, offline("get order")
}

// GetOrderByClientID implements Broker
func (b *Offline) GetOrderByClientID(ctx context.Context, clientOrderID string) (*contracts.Order, error) {
	return nil, offline("lookup client order")
}

// CancelOrder implements Broker
func (b *Offline) CancelOrder(ctx context.Context, orderID string) error {
	return offline("cancel order")
}

// SubmitBracketOrder implements Broker
func (b *Offline) SubmitBracketOrder(ctx context.Context, req contracts.BracketRequest) (*contracts.Order, error) {
	return nil, offline("submit bracket")
}

// SubmitOpeningAuctionEntry implements Broker
func (b *Offline) SubmitOpeningAuctionEntry(ctx context.Context, req contracts.EntryRequest) (*contracts.Order, error) {
	return nil, offline("submit opg entry")
}

// SubmitOCOStops implements Broker
func (b *Offline) SubmitOCOStops(ctx context.Context, req contracts.OCORequest) (*contracts.Order, error) {
	return nil, offline("submit oco")
}

// SubmitOrder implements Broker
func (b *Offline) SubmitOrder(ctx context.Context, req contracts.EntryRequest) (*contracts.Order, error) {
	return nil, offline("submit order")
}

// GetActivities implements Broker
func (b *Offline) GetActivities(ctx context.Context, date string) ([]contracts.Activity, error) {
	return nil, offline("get activities")
}
