package scoring

import (
	"math"

	"github.com/crajarshi/SwingTrading/internal/contracts"
)

// TrendRegime classifies the reference index trend
type TrendRegime string

const (
	TrendBull    TrendRegime = "bull"
	TrendBear    TrendRegime = "bear"
	TrendNeutral TrendRegime = "neutral"
)

// VolatilityRegime classifies the reference index realized volatility
type VolatilityRegime string

const (
	VolLow     VolatilityRegime = "low"
	VolMedium  VolatilityRegime = "medium"
	VolHigh    VolatilityRegime = "high"
	VolExtreme VolatilityRegime = "extreme"
)

// Regime is the market state used to re-weight components
type Regime struct {
	Trend       TrendRegime      `json:"trend"`
	Volatility  VolatilityRegime `json:"volatility"`
	Strength    float64          `json:"strength"`     // (price - SMA200) / SMA200
	RealizedVol float64          `json:"realized_vol"` // annualized, percent
}

// NeutralRegime is used when the reference history is too short
func NeutralRegime() Regime {
	return Regime{Trend: TrendNeutral, Volatility: VolMedium}
}

// DetectRegime classifies the reference index from its daily bars
func DetectRegime(bars []contracts.Bar) Regime {
	r := NeutralRegime()
	closes := contracts.Closes(bars)

	if len(closes) >= 50 {
		price := closes[len(closes)-1]
		sma50 := SMA(closes, 50)
		sma200 := sma50
		if len(closes) >= 200 {
			sma200 = SMA(closes, 200)
		}
		if sma200 > 0 {
			r.Strength = (price - sma200) / sma200
		}
		switch {
		case price > sma50 && sma50 > sma200 && r.Strength > 0.05:
			r.Trend = TrendBull
		case price < sma50 && sma50 < sma200 && r.Strength < -0.05:
			r.Trend = TrendBear
		}
	}

	if len(closes) >= 21 {
		r.RealizedVol = realizedVol(closes[len(closes)-21:])
		switch {
		case r.RealizedVol < 15:
			r.Volatility = VolLow
		case r.RealizedVol < 25:
			r.Volatility = VolMedium
		case r.RealizedVol < 35:
			r.Volatility = VolHigh
		default:
			r.Volatility = VolExtreme
		}
	}
	return r
}

// realizedVol is the annualized sample stdev of log returns, in percent
func realizedVol(closes []float64) float64 {
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		rets = append(rets, math.Log(closes[i]/closes[i-1]))
	}
	if len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, v := range rets {
		mean += v
	}
	mean /= float64(len(rets))
	var ss float64
	for _, v := range rets {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss/float64(len(rets)-1)) * math.Sqrt(252) * 100
}

// AdjustWeights re-weights components for the regime and renormalizes to 1
// Bear trend takes precedence over high volatility.
func AdjustWeights(base contracts.Weights, r Regime) contracts.Weights {
	w := base
	switch {
	case r.Trend == TrendBear:
		w.Trend = math.Min(0.35, base.Trend*1.5)
		w.Volume = math.Min(0.40, base.Volume*1.2)
		w.Pullback = math.Max(0.15, base.Pullback*0.8)
		w.RSI = math.Max(0.10, base.RSI*0.8)
	case r.Volatility == VolHigh || r.Volatility == VolExtreme:
		w.Pullback = math.Min(0.45, base.Pullback*1.3)
		w.RSI = math.Min(0.25, base.RSI*1.5)
		w.Trend = math.Max(0.15, base.Trend*0.8)
		w.Volume = math.Max(0.15, base.Volume*0.8)
	}

	if total := w.Sum(); total > 0 {
		w.Pullback /= total
		w.Volume /= total
		w.Trend /= total
		w.RSI /= total
	}
	return w
}

// ShouldTrade reports whether new entries are allowed in the regime
func ShouldTrade(r Regime) (bool, string) {
	if r.Volatility == VolExtreme {
		return false, "extreme_volatility"
	}
	if r.Trend == TrendBear && r.Volatility == VolHigh {
		return false, "bear_high_vol"
	}
	if r.Trend == TrendBear {
		return true, "bear_selective"
	}
	return true, "normal_trading"
}
