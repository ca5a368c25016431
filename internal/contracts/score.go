package contracts

// Reason is a typed rejection outcome of the scoring engine
// Rejections are expected results, not errors.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonInsufficientHistory   Reason = "insufficient_history"
	ReasonGateATRRatio          Reason = "gate_atr_ratio"
	ReasonGateTrendFilter       Reason = "gate_trend_filter"
	ReasonGatePullbackBand      Reason = "gate_pullback_band"
	ReasonInsufficientLiquidity Reason = "insufficient_liquidity"
	ReasonScoreOutOfBand        Reason = "score_out_of_band"
	ReasonRegimeNoTrade         Reason = "regime_no_trade"
)

// Scan-level rejection reasons (not produced by the scoring engine)
const (
	ReasonNoData     Reason = "no_data"
	ReasonFetchError Reason = "fetch_error"
	ReasonTimeout    Reason = "timeout"
	ReasonCancelled  Reason = "cancelled"
)

// RawFeatures are the clamped per-session feature values
type RawFeatures struct {
	Pullback     float64 `json:"pullback"`      // % below the 20-session high, [0,100]
	Trend        float64 `json:"trend"`         // composite, [-50,100]
	RSI          float64 `json:"rsi"`           // Wilder RSI-14, [0,100]
	VolumeUplift float64 `json:"volume_uplift"` // ln(dollar volume / trailing avg)
	ATRRatio     float64 `json:"atr_ratio"`     // ATR-14 / close
}

// Indicators are the T-1 derived values plus today's numerators
type Indicators struct {
	Close           float64 `json:"close"`
	SMA50           float64 `json:"sma50"`
	High20          float64 `json:"high20"`
	VolumeAvg10     float64 `json:"volume_avg10"`
	RSI14           float64 `json:"rsi14"`
	ATR14           float64 `json:"atr14"`
	DollarVolume    float64 `json:"dollar_volume"`
	DollarVolumeAvg float64 `json:"dollar_volume_avg"`
}

// VolumeRatio returns today's dollar volume over its trailing average
func (i Indicators) VolumeRatio() float64 {
	if i.DollarVolumeAvg <= 0 {
		return 0
	}
	return i.DollarVolume / i.DollarVolumeAvg
}

// Weights are the component weights, summing to 1
type Weights struct {
	Pullback float64 `json:"pullback"`
	Volume   float64 `json:"volume"`
	Trend    float64 `json:"trend"`
	RSI      float64 `json:"rsi"`
}

// Sum returns the total weight
func (w Weights) Sum() float64 {
	return w.Pullback + w.Volume + w.Trend + w.RSI
}

// Components are the EMA-smoothed percentiles (0-100) per feature
type Components struct {
	Pullback float64 `json:"pullback"`
	Volume   float64 `json:"volume"`
	Trend    float64 `json:"trend"`
	RSI      float64 `json:"rsi"`
}

// ScoreResult is the outcome of scoring one symbol for one session
// Score is nil whenever Reason is set.
type ScoreResult struct {
	Symbol     string      `json:"symbol"`
	Date       string      `json:"date"`
	Score      *float64    `json:"score"`
	Reason     Reason      `json:"reason,omitempty"`
	Raw        RawFeatures `json:"raw"`
	Components Components  `json:"components"`
	Weights    Weights     `json:"weights"`
	Indicators Indicators  `json:"indicators"`
}

// Passed reports whether a score was produced
func (r *ScoreResult) Passed() bool {
	return r.Score != nil
}

// Value returns the score or 0
func (r *ScoreResult) Value() float64 {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// Candidate is a scored symbol handed to the intent builder
type Candidate struct {
	Symbol      string  `json:"symbol"`
	Date        string  `json:"date"`
	Score       float64 `json:"score"`
	Close       float64 `json:"close"`
	ATR         float64 `json:"atr"`
	RSI         float64 `json:"rsi"`
	SMA50       float64 `json:"sma50"`
	VolumeRatio float64 `json:"volume_ratio"`
}

// CandidateFromResult converts a passing score result
func CandidateFromResult(r *ScoreResult) Candidate {
	return Candidate{
		Symbol:      r.Symbol,
		Date:        r.Date,
		Score:       r.Value(),
		Close:       r.Indicators.Close,
		ATR:         r.Indicators.ATR14,
		RSI:         r.Indicators.RSI14,
		SMA50:       r.Indicators.SMA50,
		VolumeRatio: r.Indicators.VolumeRatio(),
	}
}
