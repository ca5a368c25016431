package scoring

import (
	"math"

	"github.com/crajarshi/SwingTrading/internal/contracts"
)

// Indicator periods
const (
	smaPeriod    = 50
	highPeriod   = 20
	volumePeriod = 10
	rsiPeriod    = 14
	atrPeriod    = 14
	trendWindow  = 20
)

// ComputeIndicators derives every denominator and smoothing state from bars
// strictly before the last one; only Close and DollarVolume read session T.
func ComputeIndicators(bars []contracts.Bar) contracts.Indicators {
	n := len(bars)
	if n < 2 {
		return contracts.Indicators{}
	}
	closes := contracts.Closes(bars)
	last := bars[n-1]

	ind := contracts.Indicators{
		Close:        last.Close,
		SMA50:        SMA(closes[:n-1], smaPeriod),
		High20:       high20(bars),
		VolumeAvg10:  volumeAvg10(bars),
		RSI14:        WilderRSI(closes, rsiPeriod),
		ATR14:        WilderATR(bars, atrPeriod),
		DollarVolume: last.DollarVolume(),
	}

	start := n - 1 - volumePeriod
	if start < 0 {
		start = 0
	}
	var sum float64
	count := 0
	for i := start; i < n-1; i++ {
		sum += bars[i].DollarVolume()
		count++
	}
	if count > 0 {
		ind.DollarVolumeAvg = sum / float64(count)
	} else {
		ind.DollarVolumeAvg = ind.DollarVolume
	}
	return ind
}

// high20 is the max high over the 20 sessions before T
func high20(bars []contracts.Bar) float64 {
	n := len(bars)
	if n <= highPeriod {
		return bars[n-2].High
	}
	m := bars[n-1-highPeriod].High
	for i := n - highPeriod; i < n-1; i++ {
		if bars[i].High > m {
			m = bars[i].High
		}
	}
	return m
}

// volumeAvg10 is the mean share volume over the 10 sessions before T
func volumeAvg10(bars []contracts.Bar) float64 {
	n := len(bars)
	if n < volumePeriod+1 {
		return bars[n-2].Volume
	}
	var sum float64
	for i := n - 1 - volumePeriod; i < n-1; i++ {
		sum += bars[i].Volume
	}
	return sum / volumePeriod
}

// SMA is the mean of the last period values, or of all values when fewer
func SMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) < period {
		period = len(values)
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// WilderRSI computes RSI on prices[:-1] with Wilder smoothing
// Returns 50 when history is too short or flat.
func WilderRSI(prices []float64, period int) float64 {
	if len(prices) < period+2 {
		return 50.0
	}
	working := prices[:len(prices)-1]

	gains := make([]float64, len(working)-1)
	losses := make([]float64, len(working)-1)
	for i := 1; i < len(working); i++ {
		d := working[i] - working[i-1]
		if d > 0 {
			gains[i-1] = d
		} else if d < 0 {
			losses[i-1] = -d
		}
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain > 0 {
			return 100.0
		}
		return 50.0
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// WilderATR computes ATR on bars[:-1] with Wilder smoothing, 0 when too short
func WilderATR(bars []contracts.Bar, period int) float64 {
	if len(bars) < period+2 {
		return 0
	}
	working := bars[:len(bars)-1]

	trs := make([]float64, 0, len(working)-1)
	for i := 1; i < len(working); i++ {
		h, l, pc := working[i].High, working[i].Low, working[i-1].Close
		trs = append(trs, math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc))))
	}

	var atr float64
	for i := 0; i < period; i++ {
		atr += trs[i]
	}
	atr /= float64(period)
	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	return atr
}

// EMA returns the exponential moving average series seeded with the mean of
// the first period values. Shorter input is returned unchanged.
func EMA(values []float64, period int) []float64 {
	if len(values) < period {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	alpha := 2.0 / float64(period+1)

	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)

	out := make([]float64, 0, len(values))
	for i := 0; i < period; i++ {
		out = append(out, seed)
	}
	cur := seed
	for _, v := range values[period:] {
		cur = v*alpha + cur*(1-alpha)
		out = append(out, cur)
	}
	return out
}

// TrendQuality fits a line through the last period values
// slope is percent of the mean per session; r2 is the fit quality.
func TrendQuality(values []float64, period int) (slope, r2 float64) {
	if len(values) < period || period < 2 {
		return 0, 0
	}
	y := values[len(values)-period:]
	n := float64(period)

	var meanX, meanY float64
	for i, v := range y {
		meanX += float64(i)
		meanY += v
	}
	meanX /= n
	meanY /= n

	var sxx, syy, sxy float64
	for i, v := range y {
		dx := float64(i) - meanX
		dy := v - meanY
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}
	if syy == 0 || sxx == 0 {
		return 0, 0
	}

	b := sxy / sxx
	if meanY > 0 {
		slope = b / meanY * 100
	}
	r := sxy / math.Sqrt(sxx*syy)
	return slope, r * r
}

// ComputeFeatures derives the clamped raw features for the last bar
func ComputeFeatures(bars []contracts.Bar) (contracts.RawFeatures, contracts.Indicators) {
	ind := ComputeIndicators(bars)
	var f contracts.RawFeatures

	if ind.High20 > 0 {
		f.Pullback = clamp((1-ind.Close/ind.High20)*100, 0, 100)
	}

	f.Trend = trendComposite(bars, ind)
	f.RSI = ind.RSI14

	if ind.DollarVolume > 0 && ind.DollarVolumeAvg > 0 {
		f.VolumeUplift = math.Log(ind.DollarVolume / ind.DollarVolumeAvg)
	}
	if ind.Close > 0 {
		f.ATRRatio = ind.ATR14 / ind.Close
	}
	return f, ind
}

// trendComposite blends price-vs-SMA50 (60%), SMA50 slope (30%) and fit (10%)
func trendComposite(bars []contracts.Bar, ind contracts.Indicators) float64 {
	n := len(bars)
	closes := contracts.Closes(bars)

	start := n - trendWindow
	if start < smaPeriod {
		start = smaPeriod
	}
	history := make([]float64, 0, trendWindow)
	for i := start; i < n; i++ {
		history = append(history, SMA(closes[:i], smaPeriod))
	}
	slope, r2 := TrendQuality(history, trendWindow)

	var position float64
	if ind.SMA50 > 0 {
		position = (ind.Close/ind.SMA50 - 1) * 100
	}
	return clamp(position*0.6+slope*20*0.3+r2*100*0.1, -50, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
