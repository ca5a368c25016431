package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/strategyconfig"
)

func TestRiskShares(t *testing.T) {
	// floor((50000 × 0.005) / (2 × 1.5)) = floor(83.33)
	assert.Equal(t, 83, RiskShares(50_000, 0.5, 2, 1.5))
	assert.Equal(t, 0, RiskShares(50_000, 0.5, 0, 1.5))
	assert.Equal(t, 0, RiskShares(0, 0.5, 2, 1.5))
}

func TestPositionSize(t *testing.T) {
	sizing := strategyconfig.Sizing{RiskPct: 0.5, MinNotional: 200, MaxPosPct: 100}

	tests := []struct {
		name   string
		equity float64
		price  float64
		atr    float64
		sizing strategyconfig.Sizing
		want   int
	}{
		{"unclamped", 50_000, 100, 2, sizing, 83},
		{"clamped to max position", 50_000, 100, 2, strategyconfig.Sizing{RiskPct: 0.5, MinNotional: 200, MaxPosPct: 10}, 50},
		{"below one share", 1_000, 100, 50, sizing, 0},
		{"below min notional", 50_000, 1.5, 5, strategyconfig.Sizing{RiskPct: 0.5, MinNotional: 200, MaxPosPct: 100}, 0},
		{"clamp drops under min notional", 10_000, 300, 1, strategyconfig.Sizing{RiskPct: 1, MinNotional: 500, MaxPosPct: 2}, 0},
		{"sub-five share cap", 1_000_000, 4, 0.01, sizing, 5000},
		{"sub-dollar share cap", 1_000_000, 0.5, 0.001, sizing, 2000},
		{"zero price", 50_000, 0, 2, sizing, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PositionSize(tt.equity, tt.price, tt.atr, tt.sizing, 1.5))
		})
	}
}

func TestPositionSizeMonotonicInEquity(t *testing.T) {
	sizing := strategyconfig.Sizing{RiskPct: 0.5, MinNotional: 200, MaxPosPct: 10}
	prev := 0
	for equity := 10_000.0; equity <= 500_000; equity += 7_500 {
		got := PositionSize(equity, 42.17, 1.3, sizing, 1.5)
		assert.GreaterOrEqual(t, got, prev, "equity %.0f", equity)
		assert.LessOrEqual(t, float64(got)*42.17, equity*0.10+1e-9)
		prev = got
	}
}

func TestEntryFor(t *testing.T) {
	open := EntryFor(strategyconfig.Order{Style: strategyconfig.StyleOpen, LimitBufferBps: 10}, 100)
	assert.Equal(t, contracts.OrderTypeLimit, open.Type)
	assert.Equal(t, contracts.TIFOPG, open.TIF)
	assert.True(t, open.OpenOnly)
	require.NotNil(t, open.LimitPrice)
	assert.Equal(t, 100.10, *open.LimitPrice)

	// 43.215 × 1.001 = 43.258215
	odd := EntryFor(strategyconfig.Order{Style: strategyconfig.StyleOpen, LimitBufferBps: 10}, 43.215)
	assert.Equal(t, 43.26, *odd.LimitPrice)

	market := EntryFor(strategyconfig.Order{Style: strategyconfig.StyleMarket, LimitBufferBps: 10}, 100)
	assert.Equal(t, contracts.OrderTypeMarket, market.Type)
	assert.Equal(t, contracts.TIFDay, market.TIF)
	assert.False(t, market.OpenOnly)
	assert.Nil(t, market.LimitPrice)
}

func TestBracketFor(t *testing.T) {
	risk := strategyconfig.Risk{StopATRMult: 1.5, TargetATRMult: 3}

	b := BracketFor(100.10, 2, risk)
	assert.Equal(t, 97.10, b.StopPrice)
	assert.Equal(t, 106.10, b.TargetPrice)

	floored := BracketFor(1.00, 2, risk)
	assert.Equal(t, 0.01, floored.StopPrice)
	assert.Equal(t, 7.00, floored.TargetPrice)
}

func TestRoundCentsAndStopLimit(t *testing.T) {
	assert.Equal(t, 1.01, RoundCents(1.005))
	assert.Equal(t, 2.35, RoundCents(2.345))
	assert.Equal(t, 96.61, StopLimitFor(97.10))
}
