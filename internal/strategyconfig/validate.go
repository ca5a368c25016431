package strategyconfig

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ValidationError is a fatal configuration problem
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning is a non-fatal recommendation
type Warning struct {
	Code    string
	Message string
}

// Weight schemes
const (
	WeightsDefault = "default"
	WeightsEqual   = "equal"
)

// Validate checks all required constraints
func Validate(cfg *Config) error {
	// === Meta ===
	if cfg.Meta.StrategyID == "" {
		return ValidationError{"meta.strategy_id", "required"}
	}
	if _, err := time.LoadLocation(cfg.Meta.Timezone); err != nil {
		return ValidationError{"meta.timezone", err.Error()}
	}

	// === Scanner ===
	s := cfg.Scanner
	if len(s.Tickers) == 0 && s.UniverseFile == "" {
		return ValidationError{"scanner", "tickers or universe_file is required"}
	}
	if s.MaxWorkers < 1 {
		return ValidationError{"scanner.max_workers", "must be >= 1"}
	}
	if s.TaskTimeoutSec < 1 {
		return ValidationError{"scanner.task_timeout_sec", "must be >= 1"}
	}
	if s.RateLimitPerMinute < 1 || s.RateLimitPerMinute > 200 {
		return ValidationError{"scanner.rate_limit_per_minute", "must be in [1, 200]"}
	}
	if s.Regime.Enabled && s.Regime.ReferenceSymbol == "" {
		return ValidationError{"scanner.regime.reference_symbol", "required when regime is enabled"}
	}

	// === Scoring ===
	sc := cfg.Scoring
	if sc.MinBars < 250 {
		return ValidationError{"scoring.min_bars", "must be >= 250"}
	}
	if s.LookbackDays*5/7 < sc.MinBars {
		return ValidationError{"scanner.lookback_days", fmt.Sprintf("too short to yield %d sessions", sc.MinBars)}
	}
	if sc.LiquidityFloor < 0 {
		return ValidationError{"scoring.liquidity_floor", "must be >= 0"}
	}
	if err := validateBand(sc.ScoreBand, 0, 100, "scoring.score_band"); err != nil {
		return err
	}
	if err := validateBand(sc.Gates.ATRRatio, 0, 1, "scoring.gates.atr_ratio"); err != nil {
		return err
	}
	if err := validateBand(sc.Gates.Pullback, 0, 1, "scoring.gates.pullback"); err != nil {
		return err
	}
	if sc.WeightScheme != WeightsDefault && sc.WeightScheme != WeightsEqual {
		return ValidationError{"scoring.weight_scheme", "must be default or equal"}
	}

	// === Paper trading ===
	pt := cfg.PaperTrading
	if pt.Entry.MinScore < 0 || pt.Entry.MinScore > 100 {
		return ValidationError{"paper_trading.entry.min_score", "must be in [0, 100]"}
	}
	if pt.Entry.SortBy != SortByScore && pt.Entry.SortBy != SortByRSIRoom {
		return ValidationError{"paper_trading.entry.sort_by", "must be score or rsi_room"}
	}
	if pt.Sizing.RiskPct <= 0 || pt.Sizing.RiskPct > 5 {
		return ValidationError{"paper_trading.sizing.risk_pct", "must be in (0, 5]"}
	}
	if pt.Sizing.MinNotional < 0 {
		return ValidationError{"paper_trading.sizing.min_notional", "must be >= 0"}
	}
	if pt.Sizing.MaxPosPct <= 0 || pt.Sizing.MaxPosPct > 100 {
		return ValidationError{"paper_trading.sizing.max_pos_pct", "must be in (0, 100]"}
	}
	if pt.Risk.StopATRMult <= 0 {
		return ValidationError{"paper_trading.risk.stop_atr_mult", "must be > 0"}
	}
	if pt.Risk.TargetATRMult <= 0 {
		return ValidationError{"paper_trading.risk.target_atr_mult", "must be > 0"}
	}
	if pt.Order.Style != StyleOpen && pt.Order.Style != StyleMarket {
		return ValidationError{"paper_trading.order.style", "must be open or market"}
	}
	if pt.Order.LimitBufferBps < 0 || pt.Order.LimitBufferBps > 500 {
		return ValidationError{"paper_trading.order.limit_buffer_bps", "must be in [0, 500]"}
	}
	if pt.Exclusions.EarningsWindowDays < 0 {
		return ValidationError{"paper_trading.exclusions.earnings_window_days", "must be >= 0"}
	}
	if pt.Exclusions.MinPrice < 0 {
		return ValidationError{"paper_trading.exclusions.min_price", "must be >= 0"}
	}
	if pt.Caps.MaxSymbols < 1 {
		return ValidationError{"paper_trading.caps.max_symbols", "must be >= 1"}
	}
	if pt.Caps.MaxGrossExposurePct <= 0 || pt.Caps.MaxGrossExposurePct > 100 {
		return ValidationError{"paper_trading.caps.max_gross_exposure_pct", "must be in (0, 100]"}
	}
	if pt.Caps.MaxGrossExposurePct < pt.Sizing.MaxPosPct {
		return ValidationError{"paper_trading.caps", "max_gross_exposure_pct must be >= sizing.max_pos_pct"}
	}
	if pt.Exits.MaxHoldDays < 1 {
		return ValidationError{"paper_trading.exits.max_hold_days", "must be >= 1"}
	}
	if pt.Reconcile.OPGStaleHours <= 0 {
		return ValidationError{"paper_trading.reconcile.opg_stale_hours", "must be > 0"}
	}
	if pt.Reconcile.CleanIntentsDays < 1 {
		return ValidationError{"paper_trading.reconcile.clean_intents_days", "must be >= 1"}
	}
	if pt.Reporting.SnapshotLookbackDays < 1 {
		return ValidationError{"paper_trading.reporting.snapshot_lookback_days", "must be >= 1"}
	}

	// === Schedule ===
	times := []struct{ field, value string }{
		{"schedule.scan", cfg.Schedule.Scan},
		{"schedule.reconcile", cfg.Schedule.Reconcile},
		{"schedule.place", cfg.Schedule.Place},
		{"schedule.exits", cfg.Schedule.Exits},
		{"schedule.report", cfg.Schedule.Report},
	}
	for _, t := range times {
		if err := validateHHMM(t.value); err != nil {
			return ValidationError{t.field, err.Error()}
		}
	}
	reconcileAt, _ := time.Parse("15:04", cfg.Schedule.Reconcile)
	placeAt, _ := time.Parse("15:04", cfg.Schedule.Place)
	if !reconcileAt.Before(placeAt) {
		return ValidationError{"schedule", "reconcile must run before place"}
	}

	return nil
}

// Warn checks recommended constraints (non-fatal)
func Warn(cfg *Config) []Warning {
	var warnings []Warning

	if cfg.Scoring.LiquidityFloor < 5_000_000 {
		warnings = append(warnings, Warning{
			Code:    "LOW_LIQUIDITY_FLOOR",
			Message: "liquidity floor < $5M: fills at the open may slip",
		})
	}
	if cfg.PaperTrading.Sizing.RiskPct > 1 {
		warnings = append(warnings, Warning{
			Code:    "HIGH_RISK_PCT",
			Message: "risk_pct > 1% per trade",
		})
	}
	if cfg.PaperTrading.Exclusions.AllowPennies {
		warnings = append(warnings, Warning{
			Code:    "PENNIES_ALLOWED",
			Message: "sub-$2 symbols are eligible",
		})
	}
	if cfg.PaperTrading.Exclusions.EarningsWindowDays > 0 && cfg.PaperTrading.Exclusions.EarningsFile == "" {
		warnings = append(warnings, Warning{
			Code:    "NO_EARNINGS_CALENDAR",
			Message: "earnings window set but no earnings_file: the exclusion is inactive",
		})
	}

	return warnings
}

var hhmm = regexp.MustCompile(`^\d{2}:\d{2}$`)

func validateHHMM(s string) error {
	if !hhmm.MatchString(s) {
		return errors.New("must be HH:MM format")
	}
	_, err := time.Parse("15:04", s)
	return err
}

func validateBand(b Band, lo, hi float64, field string) error {
	if b.Min < lo || b.Max > hi {
		return ValidationError{field, fmt.Sprintf("must lie within [%g, %g]", lo, hi)}
	}
	if b.Min > b.Max {
		return ValidationError{field, "min must be <= max"}
	}
	return nil
}
