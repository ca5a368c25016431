package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crajarshi/SwingTrading/internal/broker"
	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/state"
	"github.com/crajarshi/SwingTrading/internal/strategyconfig"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

const date = "2025-03-17"

var (
	ny      = time.FixedZone("EDT", -4*3600)
	session = time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	broker    *broker.MockBroker
	store     *state.FileStore
	generator *Generator
	outDir    string
}

// newFixture builds a session with one realized exit (MSFT +$100) and one open entry (AAPL +$100 unrealized)
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := state.NewFileStore(t.TempDir(), logger.Nop())
	require.NoError(t, err)

	b := broker.NewMockBroker(100_000)
	b.SetNow(func() time.Time { return session.AddDate(0, 0, -7) })
	entry, err := b.SubmitOrder(context.Background(), contracts.EntryRequest{
		Symbol: "MSFT", Qty: 10, Side: contracts.SideBuy, Type: contracts.OrderTypeMarket, TIF: contracts.TIFDay,
		ClientOrderID: "entry-MSFT",
	})
	require.NoError(t, err)
	require.NoError(t, b.Fill(entry.ID, 10, 400))
	b.SetNow(func() time.Time { return session.Add(21 * time.Hour) })

	b.SetAccount(contracts.Account{ID: "mock", Status: "ACTIVE", Equity: 100_000, Cash: 95_900, BuyingPower: 191_800})
	b.SetPosition(contracts.Position{
		Symbol: "AAPL", Qty: 20, Side: "long", AvgEntryPrice: 200, CurrentPrice: 205, MarketValue: 4_100, UnrealizedPL: 100,
	})
	b.AddActivity(contracts.Activity{
		ID: "a1", ActivityType: "FILL", Symbol: "AAPL", Side: contracts.SideBuy, Qty: 20, Price: 200,
		OrderID: "o-aapl", TransactionTime: session.Add(13*time.Hour + 30*time.Minute),
	})
	b.AddActivity(contracts.Activity{
		ID: "a2", ActivityType: "FILL", Symbol: "MSFT", Side: contracts.SideSell, Qty: 10, Price: 410,
		OrderID: "o-msft", TransactionTime: session.Add(15 * time.Hour),
	})

	outDir := t.TempDir()
	cfg := strategyconfig.Default().PaperTrading.Reporting
	cfg.OutputDir = outDir
	g := NewGenerator(b, store, cfg, ny, logger.Nop())
	g.now = func() time.Time { return session.Add(20*time.Hour + 20*time.Minute) }

	return &fixture{broker: b, store: store, generator: g, outDir: outDir}
}

func TestGenerateFromSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveSnapshot(ctx, contracts.EquitySnapshot{Date: "2025-03-14", EndingEquity: 99_000}))

	rep, err := f.generator.Generate(ctx, date)
	require.NoError(t, err)

	m := rep.Metrics
	assert.Equal(t, SourceSnapshot, m.StartingSource)
	assert.Equal(t, 99_000.0, m.StartingEquity)
	assert.Equal(t, 1_000.0, m.DailyPL)
	assert.InDelta(t, 1.0101, m.DailyPLPct, 0.0001)
	assert.Equal(t, 100.0, m.RealizedPL)
	assert.Equal(t, 100.0, m.UnrealizedPL)
	assert.Equal(t, 900.0, m.UnrealizedChange)
	assert.Equal(t, 1, m.Entries)
	assert.Equal(t, 1, m.Exits)
	assert.Equal(t, 1, m.PositionCount)
	assert.InDelta(t, 4.1, m.ExposurePct, 1e-9)
	assert.InDelta(t, 0.081, m.Turnover, 1e-9)

	require.Len(t, rep.Contributors, 2)
	assert.Equal(t, Contributor{Symbol: "AAPL", PL: 100, Type: "unrealized"}, rep.Contributors[0])
	assert.Equal(t, Contributor{Symbol: "MSFT", PL: 100, Type: "realized"}, rep.Contributors[1])

	for _, p := range []string{rep.Paths.Markdown, rep.Paths.Trades, rep.Paths.Summary} {
		assert.FileExists(t, p)
	}

	snap, err := f.store.LatestSnapshot(ctx, "2025-03-18", 4)
	require.NoError(t, err)
	assert.Equal(t, date, snap.Date)
	assert.Equal(t, 100_000.0, snap.EndingEquity)
	assert.Equal(t, 95_900.0, snap.Cash)
}

func TestGenerateDerivesStartingEquity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// outside the lookback window
	require.NoError(t, f.store.SaveSnapshot(ctx, contracts.EquitySnapshot{Date: "2025-03-10", EndingEquity: 50_000}))

	rep, err := f.generator.Generate(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, SourceDerived, rep.Metrics.StartingSource)
	assert.Equal(t, 99_800.0, rep.Metrics.StartingEquity)
	assert.Equal(t, 200.0, rep.Metrics.DailyPL)
	assert.Equal(t, 100.0, rep.Metrics.UnrealizedChange)
}

func TestGenerateWritesFiles(t *testing.T) {
	f := newFixture(t)
	rep, err := f.generator.Generate(context.Background(), date)
	require.NoError(t, err)

	md, err := os.ReadFile(rep.Paths.Markdown)
	require.NoError(t, err)
	body := string(md)
	assert.Contains(t, body, "**Date:** 2025-03-17")
	assert.Contains(t, body, "- **Realized P/L:** +$100.00")
	assert.Contains(t, body, "| AAPL | 20 |")
	assert.Contains(t, body, "| 11:00:00 | MSFT | SELL | 10 |")
	assert.Contains(t, body, "## Top 2 Contributors")
	assert.Contains(t, body, "2025-03-17 16:20:00 EDT")

	file, err := os.Open(rep.Paths.Trades)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "date", rows[0][0])
	assert.Equal(t, []string{date, "AAPL", "buy", "20", "200.00", "0.00", "0.00", "o-aapl", "2025-03-17T13:30:00Z"}, rows[1])
	assert.Equal(t, "MSFT", rows[2][1])
	assert.Equal(t, "400.00", rows[2][5])
	assert.Equal(t, "100.00", rows[2][6])

	data, err := os.ReadFile(rep.Paths.Summary)
	require.NoError(t, err)
	var summary struct {
		Metrics      Metrics       `json:"metrics"`
		Contributors []Contributor `json:"top_contributors"`
	}
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, rep.Metrics, summary.Metrics)
	assert.Len(t, summary.Contributors, 2)
}

func TestGenerateBrokerFailure(t *testing.T) {
	f := newFixture(t)
	f.generator.broker = failingBroker{f.broker}

	_, err := f.generator.Generate(context.Background(), date)
	require.Error(t, err)
	_, err = f.store.LatestSnapshot(context.Background(), "2025-03-18", 4)
	assert.ErrorIs(t, err, state.ErrNotFound, "no snapshot persisted on failure")
}

type failingBroker struct{ *broker.MockBroker }

func (failingBroker) GetPositions(ctx context.Context) ([]contracts.Position, error) {
	return nil, assert.AnError
}

func TestRealizeFills(t *testing.T) {
	t0 := time.Date(2025, 3, 17, 15, 0, 0, 0, time.UTC)
	filledAt := func(d time.Duration) *time.Time { ts := t0.Add(d); return &ts }

	orders := []contracts.Order{
		{Symbol: "MSFT", Side: contracts.SideBuy, FilledQty: 10, FilledAvgPrice: 380, FilledAt: filledAt(-72 * time.Hour)},
		{Symbol: "MSFT", Side: contracts.SideBuy, FilledQty: 10, FilledAvgPrice: 400, FilledAt: filledAt(-24 * time.Hour)},
		{Symbol: "MSFT", Side: contracts.SideBuy, FilledQty: 10, FilledAvgPrice: 999, FilledAt: filledAt(time.Hour)},
		{Symbol: "MSFT", Side: contracts.SideSell, FilledQty: 10, FilledAvgPrice: 1, FilledAt: filledAt(-time.Hour)},
	}
	activities := []contracts.Activity{
		{ActivityType: "FILL", Symbol: "MSFT", Side: contracts.SideSell, Qty: 10, Price: 410, TransactionTime: t0},
		{ActivityType: "FILL", Symbol: "TSLA", Side: contracts.SideSell, Qty: 5, Price: 190, TransactionTime: t0.Add(-time.Minute)},
		{ActivityType: "FILL", Symbol: "IBM", Side: contracts.SideSell, Qty: 5, Price: 190, TransactionTime: t0.Add(time.Minute)},
		{ActivityType: "DIV", Symbol: "MSFT", Qty: 1, Price: 1, TransactionTime: t0},
	}
	positions := []contracts.Position{{Symbol: "TSLA", Qty: 5, AvgEntryPrice: 200}}

	fills := RealizeFills(activities, orders, positions)
	require.Len(t, fills, 3)

	// sorted by transaction time
	assert.Equal(t, "TSLA", fills[0].Symbol)
	assert.Equal(t, 200.0, fills[0].EntryPrice, "falls back to position cost")
	assert.Equal(t, -50.0, fills[0].RealizedPL)

	assert.Equal(t, "MSFT", fills[1].Symbol)
	assert.Equal(t, 400.0, fills[1].EntryPrice, "latest buy before the sell")
	assert.Equal(t, 100.0, fills[1].RealizedPL)

	assert.Equal(t, "IBM", fills[2].Symbol)
	assert.Zero(t, fills[2].EntryPrice, "unknown entry")
	assert.Zero(t, fills[2].RealizedPL)
}

func TestTopContributors(t *testing.T) {
	day := &Day{
		Fills: []Fill{
			{Activity: contracts.Activity{Symbol: "MSFT", Side: contracts.SideSell}, RealizedPL: 60},
			{Activity: contracts.Activity{Symbol: "MSFT", Side: contracts.SideSell}, RealizedPL: 40},
			{Activity: contracts.Activity{Symbol: "NVDA", Side: contracts.SideSell}, RealizedPL: -300},
			{Activity: contracts.Activity{Symbol: "AAPL", Side: contracts.SideBuy}},
		},
		Positions: []contracts.Position{
			{Symbol: "AAPL", UnrealizedPL: 250},
			{Symbol: "AMD", UnrealizedPL: -5},
			{Symbol: "IBM"},
		},
	}

	tests := []struct {
		n    int
		want []string
	}{
		{n: 5, want: []string{"NVDA", "AAPL", "MSFT", "AMD"}},
		{n: 2, want: []string{"NVDA", "AAPL"}},
		{n: 0, want: []string{}},
	}
	for _, tt := range tests {
		got := []string{}
		for _, c := range TopContributors(day, tt.n) {
			got = append(got, c.Symbol)
		}
		assert.Equal(t, tt.want, got, "n=%d", tt.n)
	}

	top := TopContributors(day, 5)
	assert.Equal(t, 100.0, top[2].PL, "realized summed per symbol")
}

func TestComputeMetricsEmptyAccount(t *testing.T) {
	m := ComputeMetrics(&Day{Date: date})
	assert.Zero(t, m.DailyPLPct)
	assert.Zero(t, m.ExposurePct)
	assert.Zero(t, m.Turnover)
}

func TestMoneyFormatting(t *testing.T) {
	assert.Equal(t, "$1,234,567.89", money(1_234_567.891))
	assert.Equal(t, "+$250.00", signedMoney(250))
	assert.Equal(t, "-$1,000.50", signedMoney(-1_000.5))
}

func TestRenderMarkdownWithoutActivity(t *testing.T) {
	var buf bytes.Buffer
	rep := &Report{Day: Day{Date: date}, Metrics: Metrics{Date: date, StartingSource: SourceDerived}}
	require.NoError(t, RenderMarkdown(&buf, rep, time.UTC, session))
	assert.NotContains(t, buf.String(), "## Open Positions")
	assert.NotContains(t, buf.String(), "## Today's Trades")
	assert.Contains(t, buf.String(), "*Paper trading account*")
}
