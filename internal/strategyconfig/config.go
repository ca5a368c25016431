package strategyconfig

import "time"

// Config is the complete swing-trading strategy configuration
type Config struct {
	Meta         Meta         `yaml:"meta" json:"meta"`
	Scanner      Scanner      `yaml:"scanner" json:"scanner"`
	Scoring      Scoring      `yaml:"scoring" json:"scoring"`
	PaperTrading PaperTrading `yaml:"paper_trading" json:"paper_trading"`
	Schedule     Schedule     `yaml:"schedule" json:"schedule"`
}

// Meta identifies the strategy
type Meta struct {
	StrategyID string `yaml:"strategy_id" json:"strategy_id"`
	Version    string `yaml:"version" json:"version"`
	Timezone   string `yaml:"timezone" json:"timezone"`
}

// Scanner controls universe loading and the scan worker pool
type Scanner struct {
	UniverseFile       string   `yaml:"universe_file" json:"universe_file"`
	Tickers            []string `yaml:"tickers" json:"tickers"`
	LookbackDays       int      `yaml:"lookback_days" json:"lookback_days"` // calendar days of bars to request
	MaxWorkers         int      `yaml:"max_workers" json:"max_workers"`
	TaskTimeoutSec     int      `yaml:"task_timeout_sec" json:"task_timeout_sec"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	RateLimitStartFull bool     `yaml:"rate_limit_start_full" json:"rate_limit_start_full"`
	Regime             Regime   `yaml:"regime" json:"regime"`
}

// TaskTimeout returns the per-symbol timeout
func (s Scanner) TaskTimeout() time.Duration {
	return time.Duration(s.TaskTimeoutSec) * time.Second
}

// Regime controls market-regime weight adjustment
type Regime struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	ReferenceSymbol string `yaml:"reference_symbol" json:"reference_symbol"`
	BlockTrading    bool   `yaml:"block_trading" json:"block_trading"` // honor ShouldTrade=false
}

// Scoring holds the scoring engine parameters
type Scoring struct {
	MinBars        int     `yaml:"min_bars" json:"min_bars"`
	LiquidityFloor float64 `yaml:"liquidity_floor" json:"liquidity_floor"` // dollar volume on session T
	ScoreBand      Band    `yaml:"score_band" json:"score_band"`
	WeightScheme   string  `yaml:"weight_scheme" json:"weight_scheme"` // default | equal
	Gates          Gates   `yaml:"gates" json:"gates"`
}

// Band is a closed interval
type Band struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies in [Min, Max]
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Gates are the closed-interval admissibility checks
type Gates struct {
	ATRRatio Band `yaml:"atr_ratio" json:"atr_ratio"` // ATR/close
	Pullback Band `yaml:"pullback" json:"pullback"`   // fraction below the 20-session high
}

// PaperTrading holds the order-lifecycle settings
type PaperTrading struct {
	Enabled    bool       `yaml:"enabled" json:"enabled"`
	Entry      Entry      `yaml:"entry" json:"entry"`
	Sizing     Sizing     `yaml:"sizing" json:"sizing"`
	Risk       Risk       `yaml:"risk" json:"risk"`
	Order      Order      `yaml:"order" json:"order"`
	Exclusions Exclusions `yaml:"exclusions" json:"exclusions"`
	Caps       Caps       `yaml:"caps" json:"caps"`
	Exits      Exits      `yaml:"exits" json:"exits"`
	Reconcile  Reconcile  `yaml:"reconcile" json:"reconcile"`
	Reporting  Reporting  `yaml:"reporting" json:"reporting"`
}

// Sort keys
const (
	SortByScore   = "score"
	SortByRSIRoom = "rsi_room"
)

// Entry controls candidate selection
type Entry struct {
	MinScore float64 `yaml:"min_score" json:"min_score"`
	SortBy   string  `yaml:"sort_by" json:"sort_by"`
}

// Sizing controls risk-based share counts
type Sizing struct {
	RiskPct     float64 `yaml:"risk_pct" json:"risk_pct"`         // percent of equity risked per trade
	MinNotional float64 `yaml:"min_notional" json:"min_notional"` // dollars
	MaxPosPct   float64 `yaml:"max_pos_pct" json:"max_pos_pct"`   // percent of equity per position
}

// Risk controls bracket distances in ATR units
type Risk struct {
	StopATRMult   float64 `yaml:"stop_atr_mult" json:"stop_atr_mult"`
	TargetATRMult float64 `yaml:"target_atr_mult" json:"target_atr_mult"`
}

// Order styles
const (
	StyleOpen   = "open"
	StyleMarket = "market"
)

// Order controls entry-leg construction
type Order struct {
	Style          string  `yaml:"style" json:"style"`
	LimitBufferBps float64 `yaml:"limit_buffer_bps" json:"limit_buffer_bps"`
}

// Exclusions drop candidates before sizing
type Exclusions struct {
	LeveragedPatterns  []string `yaml:"leveraged_patterns" json:"leveraged_patterns"`
	EarningsWindowDays int      `yaml:"earnings_window_days" json:"earnings_window_days"`
	EarningsFile       string   `yaml:"earnings_file" json:"earnings_file"`
	MinPrice           float64  `yaml:"min_price" json:"min_price"`
	AllowPennies       bool     `yaml:"allow_pennies" json:"allow_pennies"`
}

// Caps bound the whole batch
type Caps struct {
	MaxSymbols          int     `yaml:"max_symbols" json:"max_symbols"`
	MaxGrossExposurePct float64 `yaml:"max_gross_exposure_pct" json:"max_gross_exposure_pct"`
}

// Exits controls the position manager
type Exits struct {
	MaxHoldDays         int `yaml:"max_hold_days" json:"max_hold_days"`
	EarningsPreExitDays int `yaml:"earnings_pre_exit_days" json:"earnings_pre_exit_days"`
}

// Reconcile controls the session-start repair pass
type Reconcile struct {
	OPGStaleHours    float64 `yaml:"opg_stale_hours" json:"opg_stale_hours"`
	CleanIntentsDays int     `yaml:"clean_intents_days" json:"clean_intents_days"`
}

// OPGStaleAfter returns the staleness threshold for opening-auction orders
func (r Reconcile) OPGStaleAfter() time.Duration {
	return time.Duration(r.OPGStaleHours * float64(time.Hour))
}

// Reporting controls end-of-day output
type Reporting struct {
	OutputDir            string `yaml:"output_dir" json:"output_dir"`
	SnapshotLookbackDays int    `yaml:"snapshot_lookback_days" json:"snapshot_lookback_days"`
	TopContributors      int    `yaml:"top_contributors" json:"top_contributors"`
}

// Schedule holds exchange-local HH:MM job times
type Schedule struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Scan      string `yaml:"scan" json:"scan"`
	Reconcile string `yaml:"reconcile" json:"reconcile"`
	Place     string `yaml:"place" json:"place"`
	Exits     string `yaml:"exits" json:"exits"`
	Report    string `yaml:"report" json:"report"`
}

// Default returns the built-in strategy configuration
func Default() *Config {
	return &Config{
		Meta: Meta{
			StrategyID: "swing_pullback_v2",
			Version:    "2",
			Timezone:   "America/New_York",
		},
		Scanner: Scanner{
			UniverseFile:       "config/universe.txt",
			LookbackDays:       550,
			MaxWorkers:         8,
			TaskTimeoutSec:     30,
			RateLimitPerMinute: 180,
			Regime: Regime{
				ReferenceSymbol: "SPY",
			},
		},
		Scoring: Scoring{
			MinBars:        250,
			LiquidityFloor: 20_000_000,
			ScoreBand:      Band{Min: 30, Max: 75},
			WeightScheme:   "default",
			Gates: Gates{
				ATRRatio: Band{Min: 0.005, Max: 0.08},
				Pullback: Band{Min: 0.05, Max: 0.20},
			},
		},
		PaperTrading: PaperTrading{
			Enabled: true,
			Entry: Entry{
				MinScore: 45,
				SortBy:   SortByScore,
			},
			Sizing: Sizing{
				RiskPct:     0.5,
				MinNotional: 200,
				MaxPosPct:   10,
			},
			Risk: Risk{
				StopATRMult:   1.5,
				TargetATRMult: 3.0,
			},
			Order: Order{
				Style:          StyleOpen,
				LimitBufferBps: 10,
			},
			Exclusions: Exclusions{
				LeveragedPatterns: []string{
					"TQQQ", "SQQQ", "SPXL", "SPXS", "UPRO", "SPXU", "SOXL", "SOXS",
					"UVXY", "SVXY", "LABU", "LABD", "TNA", "TZA", "FAS", "FAZ",
				},
				EarningsWindowDays: 5,
				MinPrice:           2.0,
			},
			Caps: Caps{
				MaxSymbols:          5,
				MaxGrossExposurePct: 50,
			},
			Exits: Exits{
				MaxHoldDays:         10,
				EarningsPreExitDays: 1,
			},
			Reconcile: Reconcile{
				OPGStaleHours:    18,
				CleanIntentsDays: 3,
			},
			Reporting: Reporting{
				OutputDir:            "reports",
				SnapshotLookbackDays: 4,
				TopContributors:      5,
			},
		},
		Schedule: Schedule{
			Enabled:   true,
			Scan:      "16:10",
			Reconcile: "09:25",
			Place:     "09:28",
			Exits:     "15:45",
			Report:    "16:20",
		},
	}
}

// DecisionSnapshot records the exact configuration a run used
type DecisionSnapshot struct {
	ConfigHash string    `json:"config_hash"`
	ConfigYAML string    `json:"config_yaml"`
	StrategyID string    `json:"strategy_id"`
	RunID      string    `json:"run_id"`
	CreatedAt  time.Time `json:"created_at"`
}
