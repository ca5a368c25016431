package intent

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/strategyconfig"
)

// Low-price share caps
const (
	subDollarMaxShares = 2000 // price < $1
	subFiveMaxShares   = 5000 // price < $5
	minStopPrice       = 0.01
)

// RoundCents rounds a price to cents, half away from zero
func RoundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// RiskShares returns floor(equity × riskPct% / (atr × stopMult))
func RiskShares(equity, riskPct, atr, stopMult float64) int {
	riskPerShare := atr * stopMult
	if riskPerShare <= 0 || equity <= 0 || riskPct <= 0 {
		return 0
	}
	return int(math.Floor(equity * (riskPct / 100) / riskPerShare))
}

// PositionSize sizes a position by volatility-adjusted risk
// Returns 0 when the position cannot meet the minimum notional, either before
// or after clamping to the per-position maximum.
func PositionSize(equity, price, atr float64, s strategyconfig.Sizing, stopMult float64) int {
	if price <= 0 {
		return 0
	}
	shares := RiskShares(equity, s.RiskPct, atr, stopMult)
	if shares < 1 {
		return 0
	}
	if float64(shares)*price < s.MinNotional {
		return 0
	}

	maxValue := equity * (s.MaxPosPct / 100)
	if float64(shares)*price > maxValue {
		shares = int(math.Floor(maxValue / price))
		if shares < 1 || float64(shares)*price < s.MinNotional {
			return 0
		}
	}

	switch {
	case price < 1 && shares > subDollarMaxShares:
		shares = subDollarMaxShares
	case price < 5 && shares > subFiveMaxShares:
		shares = subFiveMaxShares
	}
	return shares
}

// EntryFor builds the entry leg for an order style
func EntryFor(o strategyconfig.Order, close float64) contracts.EntrySpec {
	if o.Style != strategyconfig.StyleOpen {
		return contracts.EntrySpec{Type: contracts.OrderTypeMarket, TIF: contracts.TIFDay}
	}
	buffer := decimal.NewFromInt(1).Add(decimal.NewFromFloat(o.LimitBufferBps).Div(decimal.NewFromInt(10_000)))
	limit := decimal.NewFromFloat(close).Mul(buffer).Round(2).InexactFloat64()
	return contracts.EntrySpec{
		Type:       contracts.OrderTypeLimit,
		TIF:        contracts.TIFOPG,
		LimitPrice: &limit,
		OpenOnly:   true,
	}
}

// BracketFor returns the stop and target levels around entry
func BracketFor(entry, atr float64, r strategyconfig.Risk) contracts.Bracket {
	e := decimal.NewFromFloat(entry)
	a := decimal.NewFromFloat(atr)
	stop := e.Sub(a.Mul(decimal.NewFromFloat(r.StopATRMult))).Round(2).InexactFloat64()
	target := e.Add(a.Mul(decimal.NewFromFloat(r.TargetATRMult))).Round(2).InexactFloat64()
	return contracts.Bracket{
		StopPrice:   math.Max(minStopPrice, stop),
		TargetPrice: target,
	}
}

// StopLimitFor returns the stop-limit price of a protective stop, a 0.5% buffer below it
func StopLimitFor(stop float64) float64 {
	return decimal.NewFromFloat(stop).Mul(decimal.RequireFromString("0.995")).Round(2).InexactFloat64()
}
