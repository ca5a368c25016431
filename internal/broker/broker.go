// Package broker defines the order-routing boundary and an in-memory broker.
package broker

import (
	"context"
	"errors"

	"github.com/crajarshi/SwingTrading/internal/contracts"
)

// ErrPositionNotFound is returned by GetPosition when the account is flat in a symbol
var ErrPositionNotFound = errors.New("position not found")

// Order list filters
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
	StatusAll    = "all"
)

// Capabilities are the order types a broker accepts
type Capabilities struct {
	OpeningAuctionBracket bool `json:"opening_auction_bracket"` // opg entry with attached legs
	OpeningAuction        bool `json:"opening_auction"`         // opg entry without legs
	OCO                   bool `json:"oco"`                     // standalone stop/target pair
}

// Broker is the brokerage the pipeline routes orders to
// ⭐ SSOT: the only boundary between the pipeline and the brokerage
type Broker interface {
	// Capabilities reports the order types the broker accepts
	Capabilities() Capabilities

	GetAccount(ctx context.Context) (*contracts.Account, error)
	GetPositions(ctx context.Context) ([]contracts.Position, error)
	// GetPosition returns ErrPositionNotFound when there is no position
	GetPosition(ctx context.Context, symbol string) (*contracts.Position, error)

	ListOrders(ctx context.Context, status string) ([]contracts.Order, error)
	GetOrder(ctx context.Context, orderID string) (*contracts.Order, error)
	// GetOrderByClientID returns (nil, nil) when no order carries the id
	GetOrderByClientID(ctx context.Context, clientOrderID string) (*contracts.Order, error)
	CancelOrder(ctx context.Context, orderID string) error

	SubmitBracketOrder(ctx context.Context, req contracts.BracketRequest) (*contracts.Order, error)
	SubmitOpeningAuctionEntry(ctx context.Context, req contracts.EntryRequest) (*contracts.Order, error)
	SubmitOCOStops(ctx context.Context, req contracts.OCORequest) (*contracts.Order, error)
	SubmitOrder(ctx context.Context, req contracts.EntryRequest) (*contracts.Order, error)

	// GetActivities returns FILL activities for a session date (YYYY-MM-DD)
	GetActivities(ctx context.Context, date string) ([]contracts.Activity, error)
}

// SupportsOpeningAuctionBracket reports whether b accepts opg entries with attached legs
func SupportsOpeningAuctionBracket(b Broker) bool {
	return b.Capabilities().OpeningAuctionBracket
}

// CancelOpenOrders cancels every open order, optionally only for symbol
// Per-order failures are collected; the count covers successful cancels.
func CancelOpenOrders(ctx context.Context, b Broker, symbol string) (int, error) {
	orders, err := b.ListOrders(ctx, StatusOpen)
	if err != nil {
		return 0, err
	}
	var errs []error
	cancelled := 0
	for _, o := range orders {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		if err := b.CancelOrder(ctx, o.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		cancelled++
	}
	return cancelled, errors.Join(errs...)
}
