package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crajarshi/SwingTrading/internal/broker"
	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/metrics"
	"github.com/crajarshi/SwingTrading/internal/state"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

const testRun = "2025-03-14_scan"

func opgIntent(symbol string, qty int, limit float64) contracts.OrderIntent {
	return contracts.OrderIntent{
		RunID:         testRun,
		Date:          "2025-03-14",
		Symbol:        symbol,
		Side:          contracts.SideBuy,
		Qty:           qty,
		Entry:         contracts.EntrySpec{Type: contracts.OrderTypeLimit, TIF: contracts.TIFOPG, LimitPrice: &limit, OpenOnly: true},
		Bracket:       contracts.Bracket{StopPrice: limit - 3, TargetPrice: limit + 6},
		Meta:          contracts.IntentMeta{Close: limit},
		ClientOrderID: contracts.ClientOrderID(testRun, symbol, "2025-03-14"),
	}
}

func marketIntent(symbol string, qty int, price float64) contracts.OrderIntent {
	in := opgIntent(symbol, qty, price)
	in.Entry = contracts.EntrySpec{Type: contracts.OrderTypeMarket, TIF: contracts.TIFDay}
	return in
}

type fixture struct {
	broker   *broker.MockBroker
	store    *state.FileStore
	metrics  *metrics.Registry
	executor *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := state.NewFileStore(t.TempDir(), logger.Nop())
	require.NoError(t, err)
	b := broker.NewMockBroker(100_000)
	m := metrics.New()
	return &fixture{broker: b, store: store, metrics: m, executor: NewExecutor(b, store, nil, m, logger.Nop())}
}

func TestSelectStrategy(t *testing.T) {
	opg := []contracts.OrderIntent{opgIntent("A", 1, 10), opgIntent("B", 1, 10)}
	mixed := append([]contracts.OrderIntent{marketIntent("C", 1, 10)}, opg...)

	tests := []struct {
		name    string
		intents []contracts.OrderIntent
		caps    broker.Capabilities
		want    contracts.Strategy
	}{
		{"opg without bracket support", opg, broker.Capabilities{OpeningAuction: true, OCO: true}, contracts.StrategyOPGThenOCO},
		{"opg with bracket support", opg, broker.Capabilities{OpeningAuctionBracket: true}, contracts.StrategyOPGBracket},
		{"any immediate intent", mixed, broker.Capabilities{OpeningAuctionBracket: true}, contracts.StrategyDayBracket},
		{"empty batch", nil, broker.Capabilities{}, contracts.StrategyOPGThenOCO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectStrategy(tt.intents, tt.caps))
		})
	}
}

func TestPlaceOPGThenOCO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intents := []contracts.OrderIntent{opgIntent("MSFT", 83, 100.10), opgIntent("AAPL", 40, 180)}

	summary, err := f.executor.Place(ctx, testRun, intents, Options{})
	require.NoError(t, err)
	assert.Equal(t, contracts.StrategyOPGThenOCO, summary.Strategy)
	require.Len(t, summary.Placed, 2)
	assert.Empty(t, summary.Skipped)
	assert.Empty(t, summary.Errors)

	for _, rec := range summary.Placed {
		assert.True(t, rec.PendingOCO)
		assert.True(t, rec.Success)
		assert.NotEmpty(t, rec.BrokerOrderID)
	}

	orders := f.broker.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, contracts.TIFOPG, orders[0].TIF)
	assert.Equal(t, "simple", orders[0].OrderClass)
	assert.Equal(t, 100.10, *orders[0].LimitPrice)

	saved, err := f.store.LoadPlacements(ctx, testRun)
	require.NoError(t, err)
	assert.Len(t, saved, 2)

	log, err := f.store.ReadOrderLog(ctx, testRun)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, contracts.ActionPlaced, log[0].Action)
	assert.Equal(t, true, log[0].Detail["pending_oco"])
	assert.NotEqual(t, log[0].EventID, log[1].EventID)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Placements.WithLabelValues(string(contracts.StrategyOPGThenOCO), "placed")))
}

func TestPlaceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intents := []contracts.OrderIntent{opgIntent("MSFT", 83, 100.10), opgIntent("AAPL", 40, 180), opgIntent("IBM", 10, 250)}

	_, err := f.executor.Place(ctx, testRun, intents, Options{})
	require.NoError(t, err)
	writes := f.broker.Writes()
	require.Equal(t, 3, writes)

	again, err := f.executor.Place(ctx, testRun, intents, Options{})
	require.NoError(t, err)
	assert.Empty(t, again.Placed)
	require.Len(t, again.Skipped, 3)
	for _, s := range again.Skipped {
		assert.Equal(t, contracts.SkipDuplicate, s.Reason)
	}
	assert.Equal(t, writes, f.broker.Writes(), "second run must not reach the order-write endpoint")
	assert.Len(t, f.broker.Orders(), 3)

	saved, err := f.store.LoadPlacements(ctx, testRun)
	require.NoError(t, err)
	assert.Len(t, saved, 3)
}

func TestPlaceDayBracketForImmediateIntent(t *testing.T) {
	f := newFixture(t)
	intents := []contracts.OrderIntent{marketIntent("MSFT", 10, 100), opgIntent("AAPL", 5, 180)}

	summary, err := f.executor.Place(context.Background(), testRun, intents, Options{})
	require.NoError(t, err)
	assert.Equal(t, contracts.StrategyDayBracket, summary.Strategy)
	require.Len(t, summary.Placed, 2)
	assert.False(t, summary.Placed[0].PendingOCO)

	for _, o := range f.broker.Orders() {
		assert.Equal(t, "bracket", o.OrderClass)
		assert.Equal(t, contracts.TIFDay, o.TIF, "opening-auction entries become day orders in a day batch")
		assert.Len(t, o.Legs, 2)
	}
}

func TestPlaceOPGBracket(t *testing.T) {
	f := newFixture(t)
	f.broker.SetCapabilities(broker.Capabilities{OpeningAuctionBracket: true})

	summary, err := f.executor.Place(context.Background(), testRun, []contracts.OrderIntent{opgIntent("MSFT", 83, 100.10)}, Options{})
	require.NoError(t, err)
	assert.Equal(t, contracts.StrategyOPGBracket, summary.Strategy)
	require.Len(t, summary.Placed, 1)
	assert.False(t, summary.Placed[0].PendingOCO)

	o := f.broker.Orders()[0]
	assert.Equal(t, contracts.TIFOPG, o.TIF)
	assert.Equal(t, "bracket", o.OrderClass)
}

func TestPlaceLookupFailureSkips(t *testing.T) {
	f := newFixture(t)
	f.broker.LookupErr = apperr.FromStatus("lookup", 503, "unavailable")

	summary, err := f.executor.Place(context.Background(), testRun, []contracts.OrderIntent{opgIntent("MSFT", 83, 100.10)}, Options{})
	require.NoError(t, err)
	assert.Empty(t, summary.Placed)
	require.Len(t, summary.Skipped, 1)
	assert.Equal(t, contracts.SkipLookupFailed, summary.Skipped[0].Reason)
	assert.Zero(t, f.broker.Writes())
}

func TestPlaceIsolatesSymbolErrors(t *testing.T) {
	f := newFixture(t)
	f.broker.SubmitErr["AAPL"] = apperr.FromStatus("submit", 403, "forbidden")
	intents := []contracts.OrderIntent{opgIntent("MSFT", 83, 100.10), opgIntent("AAPL", 40, 180), opgIntent("IBM", 0, 250)}

	summary, err := f.executor.Place(context.Background(), testRun, intents, Options{})
	require.NoError(t, err)
	require.Len(t, summary.Placed, 1)
	assert.Equal(t, "MSFT", summary.Placed[0].Symbol)
	require.Len(t, summary.Errors, 2)
	assert.Equal(t, "AAPL", summary.Errors[0].Symbol)
	assert.Equal(t, string(apperr.KindAuthorization), summary.Errors[0].Kind)
	assert.Equal(t, "IBM", summary.Errors[1].Symbol)
	assert.Equal(t, string(apperr.KindConfiguration), summary.Errors[1].Kind)

	log, err := f.store.ReadOrderLog(context.Background(), testRun)
	require.NoError(t, err)
	actions := []string{}
	for _, e := range log {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{contracts.ActionPlaced, contracts.ActionError, contracts.ActionError}, actions)
}

func TestPlaceDryRunMakesNoBrokerCalls(t *testing.T) {
	f := newFixture(t)
	f.broker.LookupErr = errors.New("must not be called")

	summary, err := f.executor.Place(context.Background(), testRun, []contracts.OrderIntent{opgIntent("MSFT", 83, 100.10)}, Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	require.Len(t, summary.Placed, 1)
	assert.True(t, summary.Placed[0].DryRun)
	assert.Empty(t, summary.Placed[0].BrokerOrderID)
	assert.Zero(t, f.broker.Writes())

	_, err = f.store.LoadPlacements(context.Background(), testRun)
	assert.ErrorIs(t, err, state.ErrNotFound, "dry runs leave no placement records")

	log, err := f.store.ReadOrderLog(context.Background(), testRun)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, contracts.ActionDryRun, log[0].Action)
}

func TestPlaceDryRunOnOfflineBroker(t *testing.T) {
	store, err := state.NewFileStore(t.TempDir(), logger.Nop())
	require.NoError(t, err)
	caps := broker.Capabilities{OpeningAuction: true, OCO: true}
	e := NewExecutor(broker.NewOffline(caps), store, nil, nil, logger.Nop())

	summary, err := e.Place(context.Background(), testRun, []contracts.OrderIntent{opgIntent("MSFT", 83, 100.10)}, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, contracts.StrategyOPGThenOCO, summary.Strategy)
	require.Len(t, summary.Placed, 1)
	assert.Empty(t, summary.Errors)

	// a real placement cannot confirm the client id, so nothing is written
	live, err := e.Place(context.Background(), testRun, []contracts.OrderIntent{opgIntent("MSFT", 83, 100.10)}, Options{})
	require.NoError(t, err)
	assert.Empty(t, live.Placed)
	require.Len(t, live.Skipped, 1)
	assert.Equal(t, contracts.SkipLookupFailed, live.Skipped[0].Reason)
}

func TestPlaceStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.executor.Place(ctx, testRun, []contracts.OrderIntent{opgIntent("MSFT", 83, 100.10)}, Options{})
	require.Error(t, err)
	assert.Empty(t, summary.Placed)
	assert.Zero(t, f.broker.Writes())
}

func TestDayEntry(t *testing.T) {
	limit := 10.0
	got := DayEntry(contracts.EntrySpec{Type: contracts.OrderTypeLimit, TIF: contracts.TIFOPG, LimitPrice: &limit, OpenOnly: true})
	assert.Equal(t, contracts.TIFDay, got.TIF)
	assert.False(t, got.OpenOnly)
	assert.Equal(t, 10.0, *got.LimitPrice)

	market := contracts.EntrySpec{Type: contracts.OrderTypeMarket, TIF: contracts.TIFDay}
	assert.Equal(t, market, DayEntry(market))
}

func TestNewLogEntry(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 28, 0, 0, time.FixedZone("ET", -4*3600))
	e := NewLogEntry(testRun, contracts.ActionCancelled, "MSFT", now)
	assert.Len(t, e.EventID, 36)
	assert.Equal(t, time.UTC, e.LoggedAt.Location())
	assert.True(t, now.Equal(e.LoggedAt))
}
