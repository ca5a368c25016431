package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crajarshi/SwingTrading/internal/broker"
	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/scan"
	"github.com/crajarshi/SwingTrading/internal/session"
	"github.com/crajarshi/SwingTrading/internal/state"
	"github.com/crajarshi/SwingTrading/internal/strategyconfig"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

const asOf = "2025-03-14"

type fakeSource struct {
	mu   sync.Mutex
	bars map[string][]contracts.Bar
}

func (f *fakeSource) Bars(ctx context.Context, symbol, session string) ([]contracts.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bars, ok := f.bars[symbol]
	if !ok {
		return nil, apperr.Dataf("bars", "no bars for %s", symbol)
	}
	return bars, nil
}

// sawtooth returns n oscillating daily bars ending on asOf
func sawtooth(n, offset int) []contracts.Bar {
	end, _ := time.Parse(contracts.DateLayout, asOf)
	bars := make([]contracts.Bar, n)
	for i := 0; i < n; i++ {
		price := 100 + float64((i+offset)%20-10)/2.0
		bars[i] = contracts.Bar{
			Date:   end.AddDate(0, 0, i-n+1).Format(contracts.DateLayout),
			Open:   price * 0.99,
			High:   price * 1.02,
			Low:    price * 0.98,
			Close:  price,
			Volume: 1_000_000 + float64(i)*1000,
		}
	}
	return bars
}

func testConfig() *strategyconfig.Config {
	cfg := strategyconfig.Default()
	cfg.Scanner.Tickers = []string{"AAA", "BBB", "SHORT", "MISSING"}
	cfg.Scanner.UniverseFile = ""
	cfg.Scanner.MaxWorkers = 2
	cfg.Scoring = strategyconfig.Scoring{
		MinBars:      250,
		ScoreBand:    strategyconfig.Band{Min: 0, Max: 100},
		WeightScheme: strategyconfig.WeightsDefault,
		Gates: strategyconfig.Gates{
			ATRRatio: strategyconfig.Band{Min: 0, Max: 1},
			Pullback: strategyconfig.Band{Min: 0, Max: 1},
		},
	}
	cfg.PaperTrading.Entry.MinScore = 0
	return cfg
}

type fixture struct {
	broker *broker.MockBroker
	store  *state.FileStore
	orch   *Orchestrator
	now    time.Time
}

func newFixture(t *testing.T, cfg *strategyconfig.Config) *fixture {
	t.Helper()
	cal, err := session.NYSE()
	require.NoError(t, err)
	store, err := state.NewFileStore(t.TempDir(), logger.Nop())
	require.NoError(t, err)
	cfg.PaperTrading.Reporting.OutputDir = t.TempDir()

	b := broker.NewMockBroker(100_000)
	src := &fakeSource{bars: map[string][]contracts.Bar{
		"AAA":   sawtooth(400, 0),
		"BBB":   sawtooth(400, 7),
		"SHORT": sawtooth(120, 0),
		"SPY":   sawtooth(400, 3),
	}}

	orch, err := New(Deps{
		Config:     cfg,
		ConfigYAML: []byte("meta: {}\n"),
		Clock:      cal,
		Source:     src,
		Broker:     b,
		Store:      store,
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)

	// Friday 2025-03-14 after the close
	now := time.Date(2025, 3, 14, 16, 30, 0, 0, cal.Location())
	orch.now = func() time.Time { return now }
	b.SetNow(func() time.Time { return now })
	return &fixture{broker: b, store: store, orch: orch, now: now}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
}

func TestScanPersistsIntentsAndManifest(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	res, err := f.orch.Scan(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, asOf, res.AsOf)
	assert.Equal(t, "2025-03-14_scan", res.RunID)
	assert.Equal(t, 4, res.Scan.Scanned)
	require.NotEmpty(t, res.Intents)
	assert.Equal(t, len(res.Intents), res.Build.Selected)
	assert.Len(t, res.Build.ConfigHash, 64)

	intents, err := f.store.LoadIntents(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Intents, intents)

	m, err := f.store.LoadManifest(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Rejections[string(contracts.ReasonInsufficientHistory)])
	assert.Equal(t, 1, m.Rejections[string(contracts.ReasonNoData)])
	assert.Equal(t, 2, m.Candidates)
	assert.Equal(t, "swing_pullback_v2", m.Decision.StrategyID)
	assert.Equal(t, "meta: {}\n", m.Decision.ConfigYAML)

	_, active := f.orch.Registry().Active()
	assert.False(t, active)
	last, ok := f.orch.Registry().Last()
	require.True(t, ok)
	assert.Equal(t, "completed", string(last.State))
}

func TestScanRejectsNonTradingDay(t *testing.T) {
	f := newFixture(t, testConfig())
	_, err := f.orch.Scan(context.Background(), "2025-03-15")
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))

	_, err = f.orch.Scan(context.Background(), "14/03/2025")
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
}

func TestScanBlockedByRegime(t *testing.T) {
	cfg := testConfig()
	cfg.Scanner.Regime = strategyconfig.Regime{Enabled: true, ReferenceSymbol: "NOPE", BlockTrading: true}
	f := newFixture(t, cfg)

	// an unavailable reference falls back to the neutral regime, which trades
	res, err := f.orch.Scan(context.Background(), asOf)
	require.NoError(t, err)
	require.NotNil(t, res.Regime)
	assert.Empty(t, res.Blocked)
	assert.NotEmpty(t, res.Intents)
}

func TestScanBrokerFailureIsRunLevel(t *testing.T) {
	f := newFixture(t, testConfig())
	f.orch.broker = accountDown{f.broker}

	_, err := f.orch.Scan(context.Background(), asOf)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNetwork, apperr.KindOf(err))

	last, ok := f.orch.Registry().Last()
	require.True(t, ok)
	assert.Equal(t, "failed", string(last.State))

	_, err = f.store.LoadIntents(context.Background(), "2025-03-14_scan")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

type accountDown struct{ *broker.MockBroker }

func (accountDown) GetAccount(ctx context.Context) (*contracts.Account, error) {
	return nil, apperr.FromStatus("GET /v2/account", 503, "unavailable")
}

// supersedingBroker starts a newer run for the same session while the old run sizes positions
type supersedingBroker struct {
	*broker.MockBroker
	registry *scan.Registry
	newer    *scan.Run
}

func (b *supersedingBroker) GetPositions(ctx context.Context) ([]contracts.Position, error) {
	run, err := b.registry.Begin(ctx, contracts.RunIDFor(asOf))
	if err != nil {
		return nil, err
	}
	b.newer = run
	return b.MockBroker.GetPositions(ctx)
}

func TestScanSupersededDuringSizingPersistsNothing(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	sb := &supersedingBroker{MockBroker: f.broker, registry: f.orch.Registry()}
	f.orch.broker = sb

	res, err := f.orch.Scan(ctx, asOf)
	require.Error(t, err)
	assert.Equal(t, apperr.KindGeneral, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "superseded")
	require.NotNil(t, res)

	_, err = f.store.LoadIntents(ctx, "2025-03-14_scan")
	assert.ErrorIs(t, err, state.ErrNotFound)
	_, err = f.store.LoadManifest(ctx, "2025-03-14_scan")
	assert.ErrorIs(t, err, state.ErrNotFound)

	// the newer run still owns the registry
	require.NotNil(t, sb.newer)
	active, ok := f.orch.Registry().Active()
	require.True(t, ok)
	assert.Equal(t, sb.newer.Info().Token, active.Token)
	f.orch.Registry().Finish(sb.newer, nil)
}

func TestPlaceThenReconcile(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	res, err := f.orch.Scan(ctx, asOf)
	require.NoError(t, err)

	dry, err := f.orch.Place(ctx, "", true)
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Zero(t, f.broker.Writes())

	placed, err := f.orch.Place(ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, contracts.StrategyOPGThenOCO, placed.Strategy)
	require.Len(t, placed.Placed, len(res.Intents))
	writes := f.broker.Writes()

	again, err := f.orch.Place(ctx, res.RunID, false)
	require.NoError(t, err)
	assert.Empty(t, again.Placed)
	assert.Len(t, again.Skipped, len(res.Intents))
	assert.Equal(t, writes, f.broker.Writes(), "rerun writes nothing")

	for _, p := range placed.Placed {
		require.NoError(t, f.broker.Fill(p.BrokerOrderID, p.Qty, 100))
	}

	rec, err := f.orch.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, rec.Runs, 1)
	assert.Len(t, rec.Runs[0].OCOPlaced, len(res.Intents))
	assert.Empty(t, rec.Errors())
	assert.Empty(t, rec.Purged)

	audit, err := f.orch.Audit(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, len(res.Intents), audit.Filled)
	assert.Equal(t, len(res.Intents), audit.OCOPlaced)
}

func TestPlaceErrors(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	_, err := f.orch.Place(ctx, "", false)
	assert.Equal(t, apperr.KindData, apperr.KindOf(err), "no runs yet")

	_, err = f.orch.Place(ctx, "2025-03-13_scan", false)
	assert.Equal(t, apperr.KindData, apperr.KindOf(err))

	cfg := testConfig()
	cfg.PaperTrading.Enabled = false
	disabled := newFixture(t, cfg)
	_, err = disabled.orch.Place(ctx, "", false)
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
}

func TestReportDefaultsToLastSession(t *testing.T) {
	f := newFixture(t, testConfig())
	rep, err := f.orch.Report(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, asOf, rep.Metrics.Date)
	assert.FileExists(t, rep.Paths.Markdown)
}

func TestExitsAndCloseAll(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	f.broker.SetPosition(contracts.Position{Symbol: "MSFT", Qty: 10, Side: "long", AvgEntryPrice: 400})

	exits, err := f.orch.Exits(ctx)
	require.NoError(t, err)
	require.NoError(t, exits.Err())
	assert.Empty(t, exits.Age.Closed, "no entry order on record")

	sum, err := f.orch.CloseAll(ctx, "test")
	require.NoError(t, err)
	require.Len(t, sum.Closed, 1)
	assert.Equal(t, "MSFT", sum.Closed[0].Symbol)
}
