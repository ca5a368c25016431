package scoring

import (
	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/strategyconfig"
)

// EvaluateGates checks the closed-interval gates in fixed order
// First failure wins: ATR ratio, trend filter, pullback band.
func EvaluateGates(g strategyconfig.Gates, f contracts.RawFeatures, ind contracts.Indicators) contracts.Reason {
	if !g.ATRRatio.Contains(f.ATRRatio) {
		return contracts.ReasonGateATRRatio
	}
	if ind.Close < ind.SMA50 {
		return contracts.ReasonGateTrendFilter
	}
	if !g.Pullback.Contains(f.Pullback / 100.0) {
		return contracts.ReasonGatePullbackBand
	}
	return contracts.ReasonNone
}
