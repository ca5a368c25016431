package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
)

func TestOfflineBroker(t *testing.T) {
	caps := Capabilities{OpeningAuction: true, OCO: true}
	b := NewOffline(caps)
	ctx := context.Background()

	assert.Equal(t, caps, b.Capabilities())
	assert.False(t, SupportsOpeningAuctionBracket(b))

	_, err := b.GetAccount(ctx)
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
	_, err = b.GetOrderByClientID(ctx, "id")
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
	_, err = b.SubmitOrder(ctx, contracts.EntryRequest{Symbol: "AAPL", Qty: 1})
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
	_, err = CancelOpenOrders(ctx, b, "")
	assert.Error(t, err)
}
