// Package scoring turns a daily bar history into a deterministic 0-100
// composite score with no lookahead.
package scoring

import (
	"math"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/strategyconfig"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// historyStart is the first bar index replayed into feature history
const historyStart = 60

// DefaultWeights favors the empirically stronger pullback and volume components
func DefaultWeights() contracts.Weights {
	return contracts.Weights{Pullback: 0.35, Volume: 0.30, Trend: 0.20, RSI: 0.15}
}

// EqualWeights weighs every component 25%
func EqualWeights() contracts.Weights {
	return contracts.Weights{Pullback: 0.25, Volume: 0.25, Trend: 0.25, RSI: 0.25}
}

// Engine scores bar histories
// ⭐ SSOT: the composite score is computed here only
type Engine struct {
	cfg     strategyconfig.Scoring
	weights contracts.Weights
	logger  *logger.Logger
}

// NewEngine creates an engine for the configured weight scheme
func NewEngine(cfg strategyconfig.Scoring, log *logger.Logger) *Engine {
	w := DefaultWeights()
	if cfg.WeightScheme == strategyconfig.WeightsEqual {
		w = EqualWeights()
	}
	return &Engine{
		cfg:     cfg,
		weights: w,
		logger:  log.WithField("module", "scoring"),
	}
}

// WithRegime returns an engine whose weights are adjusted for r
func (e *Engine) WithRegime(r Regime) *Engine {
	clone := *e
	clone.weights = AdjustWeights(e.weights, r)
	return &clone
}

// Weights returns the active component weights
func (e *Engine) Weights() contracts.Weights {
	return e.weights
}

// featureHistory holds one raw-feature series per component
type featureHistory struct {
	pullback []float64
	trend    []float64
	rsi      []float64
	volume   []float64
}

// buildHistory replays feature computation over every prefix ending at
// index historyStart..n-1; the last entry is the current session.
func buildHistory(bars []contracts.Bar) featureHistory {
	size := len(bars) - historyStart
	if size < 0 {
		size = 0
	}
	h := featureHistory{
		pullback: make([]float64, 0, size),
		trend:    make([]float64, 0, size),
		rsi:      make([]float64, 0, size),
		volume:   make([]float64, 0, size),
	}
	for i := historyStart; i < len(bars); i++ {
		f, _ := ComputeFeatures(bars[:i+1])
		h.pullback = append(h.pullback, f.Pullback)
		h.trend = append(h.trend, f.Trend)
		h.rsi = append(h.rsi, f.RSI)
		h.volume = append(h.volume, f.VolumeUplift)
	}
	return h
}

// Score computes the score for the last bar of bars
// Rejections are returned as a nil Score with a Reason, never as errors.
func (e *Engine) Score(symbol string, bars []contracts.Bar) *contracts.ScoreResult {
	res := &contracts.ScoreResult{
		Symbol:  symbol,
		Date:    contracts.LastDate(bars),
		Weights: e.weights,
	}

	if len(bars) < e.cfg.MinBars {
		res.Reason = contracts.ReasonInsufficientHistory
		return res
	}

	raw, ind := ComputeFeatures(bars)
	res.Raw = raw
	res.Indicators = ind

	if reason := EvaluateGates(e.cfg.Gates, raw, ind); reason != contracts.ReasonNone {
		res.Reason = reason
		return res
	}

	h := buildHistory(bars)
	res.Components = contracts.Components{
		Pullback: smoothedPercentile(h.pullback, raw.Pullback),
		Volume:   smoothedPercentile(h.volume, raw.VolumeUplift),
		Trend:    smoothedPercentile(h.trend, raw.Trend),
		RSI:      smoothedPercentile(h.rsi, raw.RSI),
	}

	score := round2(res.Components.Pullback*e.weights.Pullback +
		res.Components.Volume*e.weights.Volume +
		res.Components.Trend*e.weights.Trend +
		res.Components.RSI*e.weights.RSI)

	if ind.DollarVolume < e.cfg.LiquidityFloor {
		res.Reason = contracts.ReasonInsufficientLiquidity
		return res
	}
	if !e.cfg.ScoreBand.Contains(score) {
		res.Reason = contracts.ReasonScoreOutOfBand
		e.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"score":  score,
		}).Debug("Score outside calibrated band")
		return res
	}

	res.Score = &score
	return res
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
