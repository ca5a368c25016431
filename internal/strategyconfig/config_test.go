package strategyconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crajarshi/SwingTrading/pkg/apperr"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRepoConfig(t *testing.T) {
	path := "../../config/swing.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skip("config file not found")
	}

	cfg, data, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, "swing_pullback_v2", cfg.Meta.StrategyID)
	assert.Equal(t, 45.0, cfg.PaperTrading.Entry.MinScore)
	assert.Equal(t, 20_000_000.0, cfg.Scoring.LiquidityFloor)

	hash, err := Hash(cfg)
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	hash2, _ := Hash(cfg)
	assert.Equal(t, hash, hash2, "hash not deterministic")
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeFile(t, "swing.yaml", `
scanner:
  tickers: [aapl, msft, AAPL]
paper_trading:
  entry:
    min_score: 55
`)

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 55.0, cfg.PaperTrading.Entry.MinScore)
	assert.Equal(t, 1.5, cfg.PaperTrading.Risk.StopATRMult)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Scanner.Tickers)
}

func TestLoadUnknownFieldFails(t *testing.T) {
	path := writeFile(t, "swing.yaml", `
paper_trading:
  entry:
    min_scor: 55
`)

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, _, err := Load(writeFile(t, "swing.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default().PaperTrading, cfg.PaperTrading)
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, data, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"), "paper_trading.caps.max_symbols=3")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, 3, cfg.PaperTrading.Caps.MaxSymbols)
}

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name      string
		overrides []string
		check     func(t *testing.T, cfg *Config)
		wantErr   bool
	}{
		{
			name:      "number",
			overrides: []string{"paper_trading.entry.min_score=60"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 60.0, cfg.PaperTrading.Entry.MinScore)
			},
		},
		{
			name:      "string and bool",
			overrides: []string{"paper_trading.order.style=market", "scanner.regime.enabled=true"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, StyleMarket, cfg.PaperTrading.Order.Style)
				assert.True(t, cfg.Scanner.Regime.Enabled)
			},
		},
		{
			name:      "list",
			overrides: []string{"scanner.tickers=[SPY, QQQ]"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"SPY", "QQQ"}, cfg.Scanner.Tickers)
			},
		},
		{name: "unknown key", overrides: []string{"paper_trading.entry.nope=1"}, wantErr: true},
		{name: "unknown section", overrides: []string{"nope.entry=1"}, wantErr: true},
		{name: "missing equals", overrides: []string{"paper_trading.entry.min_score"}, wantErr: true},
		{name: "wrong type", overrides: []string{"paper_trading.caps.max_symbols=abc"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ApplyOverrides(Default(), tt.overrides)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"missing strategy id", func(c *Config) { c.Meta.StrategyID = "" }, "meta.strategy_id"},
		{"workers", func(c *Config) { c.Scanner.MaxWorkers = 0 }, "scanner.max_workers"},
		{"rate limit", func(c *Config) { c.Scanner.RateLimitPerMinute = 500 }, "scanner.rate_limit_per_minute"},
		{"min bars", func(c *Config) { c.Scoring.MinBars = 100 }, "scoring.min_bars"},
		{"score band inverted", func(c *Config) { c.Scoring.ScoreBand = Band{Min: 80, Max: 20} }, "scoring.score_band"},
		{"weight scheme", func(c *Config) { c.Scoring.WeightScheme = "magic" }, "scoring.weight_scheme"},
		{"sort by", func(c *Config) { c.PaperTrading.Entry.SortBy = "volume" }, "paper_trading.entry.sort_by"},
		{"risk pct", func(c *Config) { c.PaperTrading.Sizing.RiskPct = 0 }, "paper_trading.sizing.risk_pct"},
		{"style", func(c *Config) { c.PaperTrading.Order.Style = "close" }, "paper_trading.order.style"},
		{"gross below position", func(c *Config) { c.PaperTrading.Caps.MaxGrossExposurePct = 5 }, "paper_trading.caps"},
		{"bad time", func(c *Config) { c.Schedule.Scan = "4pm" }, "schedule.scan"},
		{"place before reconcile", func(c *Config) { c.Schedule.Place = "09:00" }, "schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestSymbolsFromFile(t *testing.T) {
	path := writeFile(t, "universe.txt", "# comment\naapl\n\nMSFT\nAAPL\n")
	s := Scanner{UniverseFile: path}

	symbols, err := s.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)

	_, err = Scanner{UniverseFile: filepath.Join(t.TempDir(), "none.txt")}.Symbols()
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
}

func TestWarn(t *testing.T) {
	cfg := Default()
	cfg.PaperTrading.Exclusions.AllowPennies = true
	cfg.PaperTrading.Sizing.RiskPct = 2

	codes := map[string]bool{}
	for _, w := range Warn(cfg) {
		codes[w.Code] = true
	}
	assert.True(t, codes["PENNIES_ALLOWED"])
	assert.True(t, codes["HIGH_RISK_PCT"])
	assert.True(t, codes["NO_EARNINGS_CALENDAR"])
}
