// Package intent turns scored candidates into sized, capped order intents.
package intent

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/metrics"
	"github.com/crajarshi/SwingTrading/internal/strategyconfig"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// Filter reasons
const (
	FilterMinScore  = "min_score"
	FilterLeveraged = "leveraged"
	FilterEarnings  = "earnings_window"
	FilterMinPrice  = "min_price"
)

// Skip reasons
const (
	SkipDuplicate        = contracts.SkipDuplicate
	SkipInsufficientData = "insufficient_data"
	SkipSizingFailed     = "sizing_failed"
	SkipCapSymbols       = "cap_symbols"
	SkipCapExposure      = "cap_exposure"
)

const rsiCeiling = 70.0

// Builder converts candidates into order intents
// ⭐ SSOT: sizing, exclusions and portfolio caps live here only
type Builder struct {
	cfg      strategyconfig.PaperTrading
	earnings *Earnings
	metrics  *metrics.Registry
	logger   *logger.Logger
}

// NewBuilder creates an intent builder; earnings may be nil
func NewBuilder(cfg strategyconfig.PaperTrading, earnings *Earnings, m *metrics.Registry, log *logger.Logger) *Builder {
	return &Builder{
		cfg:      cfg,
		earnings: earnings,
		metrics:  m,
		logger:   log.WithField("module", "intent_builder"),
	}
}

// Build filters, sizes and caps candidates for asOf (YYYY-MM-DD)
// The returned intents are a strict prefix of the score-ranked sized list.
func (b *Builder) Build(candidates []contracts.Candidate, equity float64, positions []contracts.Position, asOf string) ([]contracts.OrderIntent, *contracts.BuildSummary) {
	runID := contracts.RunIDFor(asOf)
	summary := &contracts.BuildSummary{
		RunID:      runID,
		AsOf:       asOf,
		Equity:     equity,
		Candidates: len(candidates),
		Filtered:   make(map[string]int),
		Skipped:    make(map[string]int),
	}

	asOfTime, err := time.Parse(contracts.DateLayout, asOf)
	if err != nil {
		b.logger.WithError(err).Warn("Unparseable as-of date; earnings exclusion disabled")
	}

	// 1-3. filter
	filtered := b.filter(candidates, asOfTime, err == nil, summary.Filtered)

	// 4. rank
	b.rank(filtered)

	// 5-7. size and construct
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[strings.ToUpper(p.Symbol)] = true
	}

	sized := make([]contracts.OrderIntent, 0, len(filtered))
	for _, c := range filtered {
		if held[strings.ToUpper(c.Symbol)] {
			summary.Skipped[SkipDuplicate]++
			continue
		}
		if c.Close <= 0 || c.ATR <= 0 {
			summary.Skipped[SkipInsufficientData]++
			continue
		}

		qty := PositionSize(equity, c.Close, c.ATR, b.cfg.Sizing, b.cfg.Risk.StopATRMult)
		if qty == 0 {
			summary.Skipped[SkipSizingFailed]++
			b.logger.WithFields(map[string]interface{}{
				"symbol": c.Symbol,
				"close":  c.Close,
				"atr":    c.ATR,
			}).Debug("Sizing produced zero shares")
			continue
		}

		sized = append(sized, b.construct(runID, asOf, c, qty))
	}

	// 8. caps
	intents := b.enforceCaps(sized, equity, summary.Skipped)

	summary.Selected = len(intents)
	for i := range intents {
		summary.TotalNotional += intents[i].Notional()
	}

	reasons := make(map[string]int, len(summary.Filtered)+len(summary.Skipped))
	for k, v := range summary.Filtered {
		reasons[k] += v
	}
	for k, v := range summary.Skipped {
		reasons[k] += v
	}
	b.metrics.IntentSummary(summary.Selected, reasons)

	b.logger.WithFields(map[string]interface{}{
		"run_id":         runID,
		"candidates":     summary.Candidates,
		"selected":       summary.Selected,
		"total_notional": summary.TotalNotional,
		"filtered":       summary.Filtered,
		"skipped":        summary.Skipped,
	}).Info("Order intents built")
	return intents, summary
}

func (b *Builder) filter(candidates []contracts.Candidate, asOf time.Time, haveDate bool, counts map[string]int) []contracts.Candidate {
	ex := b.cfg.Exclusions
	out := make([]contracts.Candidate, 0, len(candidates))
	for _, c := range candidates {
		switch {
		case c.Score < b.cfg.Entry.MinScore:
			counts[FilterMinScore]++
		case isLeveraged(c.Symbol, ex.LeveragedPatterns):
			counts[FilterLeveraged]++
		case haveDate && ex.EarningsWindowDays > 0 && b.earnings.Within(c.Symbol, asOf, ex.EarningsWindowDays):
			counts[FilterEarnings]++
		case !ex.AllowPennies && c.Close < ex.MinPrice:
			counts[FilterMinPrice]++
		default:
			out = append(out, c)
		}
	}
	return out
}

func isLeveraged(symbol string, patterns []string) bool {
	symbol = strings.ToUpper(symbol)
	for _, p := range patterns {
		if ok, _ := path.Match(strings.ToUpper(p), symbol); ok {
			return true
		}
	}
	return false
}

// rank orders candidates descending by the configured key, ties by symbol
// rsi_room only decides the sizing order; enforceCaps re-ranks by score.
func (b *Builder) rank(cs []contracts.Candidate) {
	key := func(c contracts.Candidate) float64 { return c.Score }
	if b.cfg.Entry.SortBy == strategyconfig.SortByRSIRoom {
		key = func(c contracts.Candidate) float64 { return rsiCeiling - c.RSI }
	}
	sort.SliceStable(cs, func(i, j int) bool {
		ki, kj := key(cs[i]), key(cs[j])
		if ki != kj {
			return ki > kj
		}
		return cs[i].Symbol < cs[j].Symbol
	})
}

func (b *Builder) construct(runID, asOf string, c contracts.Candidate, qty int) contracts.OrderIntent {
	entry := EntryFor(b.cfg.Order, c.Close)
	entryPrice := c.Close
	if entry.LimitPrice != nil {
		entryPrice = *entry.LimitPrice
	}

	return contracts.OrderIntent{
		RunID:   runID,
		Date:    asOf,
		Symbol:  c.Symbol,
		Side:    contracts.SideBuy,
		Qty:     qty,
		Entry:   entry,
		Bracket: BracketFor(entryPrice, c.ATR, b.cfg.Risk),
		Meta: contracts.IntentMeta{
			Score:  c.Score,
			ATR:    c.ATR,
			RSI:    c.RSI,
			Close:  c.Close,
			Reason: Reason(c),
		},
		ClientOrderID: contracts.ClientOrderID(runID, c.Symbol, asOf),
	}
}

// enforceCaps keeps the longest score-ranked prefix within the symbol and exposure caps
func (b *Builder) enforceCaps(intents []contracts.OrderIntent, equity float64, skipped map[string]int) []contracts.OrderIntent {
	sort.SliceStable(intents, func(i, j int) bool {
		if intents[i].Meta.Score != intents[j].Meta.Score {
			return intents[i].Meta.Score > intents[j].Meta.Score
		}
		return intents[i].Symbol < intents[j].Symbol
	})

	maxExposure := equity * (b.cfg.Caps.MaxGrossExposurePct / 100)
	var exposure float64
	for i := range intents {
		if i >= b.cfg.Caps.MaxSymbols {
			skipped[SkipCapSymbols] += len(intents) - i
			return intents[:i]
		}
		notional := intents[i].Notional()
		if exposure+notional > maxExposure {
			skipped[SkipCapExposure] += len(intents) - i
			return intents[:i]
		}
		exposure += notional
	}
	return intents
}

// Reason describes why a candidate was selected
func Reason(c contracts.Candidate) string {
	var parts []string
	switch {
	case c.Score >= 80:
		parts = append(parts, "high-score")
	case c.Score >= 65:
		parts = append(parts, "qualified-score")
	}
	switch {
	case c.RSI < 30:
		parts = append(parts, "oversold")
	case c.RSI < 50:
		parts = append(parts, "pullback")
	}
	if c.SMA50 > 0 && c.Close > c.SMA50 {
		parts = append(parts, "above-trend")
	}
	if c.VolumeRatio > 1.5 {
		parts = append(parts, "high-volume")
	}
	if len(parts) == 0 {
		return "score-qualified"
	}
	return strings.Join(parts, " ")
}
