package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crajarshi/SwingTrading/internal/contracts"
)

func TestSMA(t *testing.T) {
	assert.Equal(t, 0.0, SMA(nil, 5))
	assert.Equal(t, 2.0, SMA([]float64{1, 2, 3}, 5))
	assert.Equal(t, 4.5, SMA([]float64{1, 2, 3, 4, 5}, 2))
}

func TestWilderRSI(t *testing.T) {
	rising := make([]float64, 30)
	flat := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(i + 1)
		flat[i] = 10
	}

	assert.Equal(t, 50.0, WilderRSI(rising[:15], 14), "too short")
	assert.Equal(t, 100.0, WilderRSI(rising, 14))
	assert.Equal(t, 50.0, WilderRSI(flat, 14))

	falling := make([]float64, 30)
	for i := range falling {
		falling[i] = float64(100 - i)
	}
	assert.Equal(t, 0.0, WilderRSI(falling, 14))
}

func TestWilderATR(t *testing.T) {
	bars := make([]contracts.Bar, 20)
	for i := range bars {
		bars[i] = contracts.Bar{High: 11, Low: 9, Close: 10}
	}
	assert.InDelta(t, 2.0, WilderATR(bars, 14), 1e-12)
	assert.Equal(t, 0.0, WilderATR(bars[:10], 14))
}

func TestEMA(t *testing.T) {
	assert.Equal(t, []float64{2, 2, 2, 3}, EMA([]float64{1, 2, 3, 4}, 3))
	assert.Equal(t, []float64{1, 2}, EMA([]float64{1, 2}, 3))
}

func TestTrendQuality(t *testing.T) {
	line := make([]float64, 20)
	for i := range line {
		line[i] = 100 + float64(i)
	}
	slope, r2 := TrendQuality(line, 20)
	assert.InDelta(t, 1.0/109.5*100, slope, 1e-9)
	assert.InDelta(t, 1.0, r2, 1e-12)

	flat := make([]float64, 20)
	slope, r2 = TrendQuality(flat, 20)
	assert.Equal(t, 0.0, slope)
	assert.Equal(t, 0.0, r2)

	slope, r2 = TrendQuality(line[:5], 20)
	assert.Equal(t, 0.0, slope+r2)
}

func TestComputeFeaturesClamped(t *testing.T) {
	bars := oscillatingBars(120)
	f, ind := ComputeFeatures(bars)

	assert.GreaterOrEqual(t, f.Pullback, 0.0)
	assert.LessOrEqual(t, f.Pullback, 100.0)
	assert.GreaterOrEqual(t, f.Trend, -50.0)
	assert.LessOrEqual(t, f.Trend, 100.0)
	assert.Equal(t, ind.RSI14, f.RSI)
	assert.InDelta(t, ind.ATR14/ind.Close, f.ATRRatio, 1e-12)
}
