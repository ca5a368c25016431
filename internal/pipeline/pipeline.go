// Package pipeline wires the scan, build, place, reconcile and report stages
// for the CLI, the API and the scheduler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crajarshi/SwingTrading/internal/broker"
	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/execution"
	"github.com/crajarshi/SwingTrading/internal/intent"
	"github.com/crajarshi/SwingTrading/internal/marketdata"
	"github.com/crajarshi/SwingTrading/internal/metrics"
	"github.com/crajarshi/SwingTrading/internal/positions"
	"github.com/crajarshi/SwingTrading/internal/reconcile"
	"github.com/crajarshi/SwingTrading/internal/report"
	"github.com/crajarshi/SwingTrading/internal/scan"
	"github.com/crajarshi/SwingTrading/internal/scoring"
	"github.com/crajarshi/SwingTrading/internal/session"
	"github.com/crajarshi/SwingTrading/internal/state"
	"github.com/crajarshi/SwingTrading/internal/strategyconfig"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/logger"
	"github.com/crajarshi/SwingTrading/pkg/redis"
)

// SessionSource resolves the data-confirmed last complete session
type SessionSource interface {
	LastCompleteSession(ctx context.Context, now time.Time) string
}

// Deps are the collaborators an Orchestrator is built from
type Deps struct {
	Config     *strategyconfig.Config
	ConfigYAML []byte
	Clock      session.Clock
	Sessions   SessionSource // optional; falls back to Clock
	Source     marketdata.Source
	Broker     broker.Broker
	Store      state.Store
	Lock       *redis.Lock       // optional
	Earnings   *intent.Earnings  // optional
	Metrics    *metrics.Registry // optional
	Logger     *logger.Logger
}

// Orchestrator runs pipeline stages end to end
// ⭐ SSOT: stage wiring lives here only; commands, jobs and handlers call into it
type Orchestrator struct {
	cfg      *strategyconfig.Config
	cfgYAML  []byte
	clock    session.Clock
	sessions SessionSource
	source   marketdata.Source
	broker   broker.Broker
	store    state.Store
	earnings *intent.Earnings
	metrics  *metrics.Registry
	logger   *logger.Logger
	now      func() time.Time

	engine     *scoring.Engine
	scanner    *scan.Scanner
	registry   *scan.Registry
	builder    *intent.Builder
	executor   *execution.Executor
	reconciler *reconcile.Engine
	positions  *positions.Manager
	reporter   *report.Generator
}

// New builds an orchestrator and its stage components
func New(d Deps) (*Orchestrator, error) {
	switch {
	case d.Config == nil:
		return nil, apperr.Configf("pipeline.New", "strategy config is required")
	case d.Clock == nil:
		return nil, apperr.Configf("pipeline.New", "session clock is required")
	case d.Broker == nil:
		return nil, apperr.Configf("pipeline.New", "broker is required")
	case d.Store == nil:
		return nil, apperr.Configf("pipeline.New", "state store is required")
	}
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}
	cfg := d.Config
	pt := cfg.PaperTrading

	engine := scoring.NewEngine(cfg.Scoring, log)
	return &Orchestrator{
		cfg:      cfg,
		cfgYAML:  d.ConfigYAML,
		clock:    d.Clock,
		sessions: d.Sessions,
		source:   d.Source,
		broker:   d.Broker,
		store:    d.Store,
		earnings: d.Earnings,
		metrics:  d.Metrics,
		logger:   log.WithField("module", "pipeline"),
		now:      time.Now,

		engine: engine,
		scanner: scan.NewScanner(d.Source, engine, scan.Config{
			Workers:     cfg.Scanner.MaxWorkers,
			TaskTimeout: cfg.Scanner.TaskTimeout(),
		}, d.Metrics, log),
		registry:   scan.NewRegistry(d.Lock, d.Metrics, log),
		builder:    intent.NewBuilder(pt, d.Earnings, d.Metrics, log),
		executor:   execution.NewExecutor(d.Broker, d.Store, d.Lock, d.Metrics, log),
		reconciler: reconcile.New(d.Broker, d.Store, pt.Reconcile, d.Metrics, log),
		positions:  positions.NewManager(d.Broker, d.Store, log),
		reporter:   report.NewGenerator(d.Broker, d.Store, pt.Reporting, d.Clock.Location(), log),
	}, nil
}

// Config returns the strategy configuration
func (o *Orchestrator) Config() *strategyconfig.Config { return o.cfg }

// Registry returns the run registry
func (o *Orchestrator) Registry() *scan.Registry { return o.registry }

// Store returns the state store
func (o *Orchestrator) Store() state.Store { return o.store }

// Broker returns the broker
func (o *Orchestrator) Broker() broker.Broker { return o.broker }

// Clock returns the session clock
func (o *Orchestrator) Clock() session.Clock { return o.clock }

// Session returns the last complete session as of now
func (o *Orchestrator) Session(ctx context.Context) string {
	now := o.now()
	if o.sessions != nil {
		return o.sessions.LastCompleteSession(ctx, now)
	}
	return o.clock.LastCompleteSession(now)
}

// ScanResult is the outcome of one scan-and-build run
type ScanResult struct {
	RunID    string                  `json:"run_id"`
	AsOf     string                  `json:"as_of"`
	Scan     *scan.Result            `json:"scan"`
	Regime   *scoring.Regime         `json:"regime,omitempty"`
	Blocked  string                  `json:"blocked,omitempty"`
	Intents  []contracts.OrderIntent `json:"intents"`
	Build    *contracts.BuildSummary `json:"build"`
	Manifest *state.Manifest         `json:"manifest"`
}

// Scan scores the universe for asOf, builds intents and persists them with the run manifest
// An empty asOf means the last complete session. A newer scan supersedes this one.
func (o *Orchestrator) Scan(ctx context.Context, asOf string) (res *ScanResult, err error) {
	if asOf == "" {
		asOf = o.Session(ctx)
	}
	if _, perr := time.Parse(contracts.DateLayout, asOf); perr != nil {
		return nil, apperr.Configf("pipeline.Scan", "invalid session date %q", asOf)
	}
	if !o.clock.IsTradingDay(asOf) {
		return nil, apperr.Configf("pipeline.Scan", "%s is not a trading day", asOf)
	}
	if o.source == nil {
		return nil, apperr.Configf("pipeline.Scan", "market data source is not configured")
	}

	symbols, err := o.cfg.Scanner.Symbols()
	if err != nil {
		return nil, err
	}

	runID := contracts.RunIDFor(asOf)
	run, err := o.registry.Begin(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	defer func() { o.registry.Finish(run, err) }()

	// supersession cancels the run context; the caller's ctx still bounds it
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(run.Context(), cancel)
	defer stop()

	res = &ScanResult{RunID: runID, AsOf: asOf}
	engine := o.engine
	if o.cfg.Scanner.Regime.Enabled {
		regime := o.detectRegime(runCtx, asOf)
		res.Regime = &regime
		engine = engine.WithRegime(regime)
		if ok, why := scoring.ShouldTrade(regime); !ok && o.cfg.Scanner.Regime.BlockTrading {
			res.Blocked = why
		}
	}

	res.Scan = o.scanner.WithEngine(engine).Scan(runCtx, run, symbols, asOf)
	if run.Cancelled() {
		return res, superseded(runID)
	}
	if err := ctx.Err(); err != nil {
		return res, apperr.FromTransport("pipeline.Scan", err)
	}

	candidates := res.Scan.Candidates
	rejections := make(map[string]int, len(res.Scan.Rejections)+1)
	for reason, n := range res.Scan.Rejections {
		rejections[string(reason)] += n
	}
	if res.Blocked != "" {
		rejections[string(contracts.ReasonRegimeNoTrade)] += len(candidates)
		o.logger.WithFields(map[string]interface{}{
			"run_id": runID,
			"reason": res.Blocked,
		}).Warn("Regime blocks new entries")
		candidates = nil
	}

	account, err := o.broker.GetAccount(runCtx)
	if err != nil {
		if run.Cancelled() {
			return res, superseded(runID)
		}
		return res, fmt.Errorf("get account: %w", err)
	}
	held, err := o.broker.GetPositions(runCtx)
	if err != nil {
		if run.Cancelled() {
			return res, superseded(runID)
		}
		return res, fmt.Errorf("get positions: %w", err)
	}

	res.Intents, res.Build = o.builder.Build(candidates, account.Equity, held, asOf)

	decision, err := o.decision(runID)
	if err != nil {
		return res, err
	}
	res.Build.ConfigHash = decision.ConfigHash

	manifest := state.Manifest{
		RunID:      runID,
		AsOf:       asOf,
		CreatedAt:  o.now().UTC(),
		Scanned:    res.Scan.Scanned,
		Candidates: len(res.Scan.Candidates),
		Rejections: rejections,
		Build:      res.Build,
		Decision:   decision,
	}
	if res.Regime != nil {
		manifest.Regime = fmt.Sprintf("%s/%s", res.Regime.Trend, res.Regime.Volatility)
	}
	res.Manifest = &manifest

	// a newer run owns the run id once this one is superseded
	if run.Cancelled() {
		return res, superseded(runID)
	}
	if err := o.store.SaveIntents(runCtx, runID, res.Intents); err != nil {
		return res, fmt.Errorf("save intents: %w", err)
	}
	if err := o.store.SaveManifest(runCtx, manifest); err != nil {
		return res, fmt.Errorf("save manifest: %w", err)
	}

	o.logger.WithFields(map[string]interface{}{
		"run_id":     runID,
		"scanned":    res.Scan.Scanned,
		"candidates": len(res.Scan.Candidates),
		"intents":    len(res.Intents),
	}).Info("Scan run persisted")
	return res, nil
}

func superseded(runID string) error {
	return apperr.New(apperr.KindGeneral, "pipeline.Scan", fmt.Errorf("run %s was superseded", runID))
}

// detectRegime classifies the reference index; failures fall back to neutral
func (o *Orchestrator) detectRegime(ctx context.Context, asOf string) scoring.Regime {
	ref := o.cfg.Scanner.Regime.ReferenceSymbol
	bars, err := o.source.Bars(ctx, ref, asOf)
	if err != nil {
		o.logger.WithError(err).WithField("symbol", ref).Warn("Regime reference unavailable; using neutral weights")
		return scoring.NeutralRegime()
	}
	regime := scoring.DetectRegime(bars)
	o.logger.WithFields(map[string]interface{}{
		"trend":        regime.Trend,
		"volatility":   regime.Volatility,
		"realized_vol": regime.RealizedVol,
	}).Info("Market regime detected")
	return regime
}

func (o *Orchestrator) decision(runID string) (strategyconfig.DecisionSnapshot, error) {
	hash, err := strategyconfig.Hash(o.cfg)
	if err != nil {
		return strategyconfig.DecisionSnapshot{}, apperr.New(apperr.KindConfiguration, "pipeline.decision", err)
	}
	return strategyconfig.DecisionSnapshot{
		ConfigHash: hash,
		ConfigYAML: string(o.cfgYAML),
		StrategyID: o.cfg.Meta.StrategyID,
		RunID:      runID,
		CreatedAt:  o.now().UTC(),
	}, nil
}

// LatestRun returns the newest persisted run id
func (o *Orchestrator) LatestRun(ctx context.Context) (string, error) {
	runs, err := o.store.ListRuns(ctx)
	if err != nil {
		return "", fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return "", apperr.Dataf("pipeline.LatestRun", "no scan runs found")
	}
	return runs[len(runs)-1], nil
}

// Place submits a run's persisted intents; an empty runID means the latest run
func (o *Orchestrator) Place(ctx context.Context, runID string, dryRun bool) (*contracts.PlacementSummary, error) {
	if !dryRun && !o.cfg.PaperTrading.Enabled {
		return nil, apperr.Configf("pipeline.Place", "paper_trading.enabled is false")
	}
	if runID == "" {
		latest, err := o.LatestRun(ctx)
		if err != nil {
			return nil, err
		}
		runID = latest
	}

	intents, err := o.store.LoadIntents(ctx, runID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, apperr.Dataf("pipeline.Place", "no intents for run %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load intents: %w", err)
	}
	return o.executor.Place(ctx, runID, intents, execution.Options{DryRun: dryRun})
}

// ReconcileResult collects one reconciliation pass over every persisted run
type ReconcileResult struct {
	AsOf   time.Time                          `json:"as_of"`
	Runs   []*contracts.ReconciliationSummary `json:"runs"`
	Purged []string                           `json:"purged"`
}

// Errors returns every per-order error across runs
func (r *ReconcileResult) Errors() []contracts.SymbolError {
	var out []contracts.SymbolError
	for _, s := range r.Runs {
		out = append(out, s.Errors...)
	}
	return out
}

// Reconcile repairs broker state for every persisted run, then archives stale runs
func (o *Orchestrator) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	asOf := o.now()
	result := &ReconcileResult{AsOf: asOf, Runs: []*contracts.ReconciliationSummary{}}

	runs, err := o.store.ListRuns(ctx)
	if err != nil {
		return result, fmt.Errorf("list runs: %w", err)
	}
	for _, runID := range runs {
		summary, err := o.reconciler.Reconcile(ctx, runID, asOf)
		if summary != nil {
			result.Runs = append(result.Runs, summary)
		}
		if err != nil {
			return result, fmt.Errorf("reconcile %s: %w", runID, err)
		}
	}

	purged, err := o.reconciler.CleanStaleIntents(ctx, asOf)
	result.Purged = purged
	if err != nil {
		return result, err
	}
	return result, nil
}

// Audit classifies a run's placements; an empty runID means the latest run
func (o *Orchestrator) Audit(ctx context.Context, runID string) (*contracts.AuditSummary, error) {
	if runID == "" {
		latest, err := o.LatestRun(ctx)
		if err != nil {
			return nil, err
		}
		runID = latest
	}
	return o.reconciler.Audit(ctx, runID)
}

// Report writes the end-of-day report; an empty date means the last complete session
func (o *Orchestrator) Report(ctx context.Context, date string) (*report.Report, error) {
	if date == "" {
		date = o.clock.LastCompleteSession(o.now())
	}
	return o.reporter.Generate(ctx, date)
}

// ExitResult collects the scheduled exit passes
type ExitResult struct {
	Age      *positions.Summary `json:"age"`
	Earnings *positions.Summary `json:"earnings"`
}

// Err joins the per-symbol errors of both passes
func (r *ExitResult) Err() error {
	var errs []error
	for _, s := range []*positions.Summary{r.Age, r.Earnings} {
		if s != nil {
			errs = append(errs, s.Err())
		}
	}
	return errors.Join(errs...)
}

// Exits closes positions held too long and positions with earnings imminent
func (o *Orchestrator) Exits(ctx context.Context) (*ExitResult, error) {
	asOf := o.now()
	ex := o.cfg.PaperTrading.Exits
	result := &ExitResult{}

	age, err := o.positions.CloseByAge(ctx, ex.MaxHoldDays, asOf)
	result.Age = age
	if err != nil {
		return result, err
	}
	earnings, err := o.positions.CloseBeforeEarnings(ctx, o.earnings, ex.EarningsPreExitDays, asOf)
	result.Earnings = earnings
	return result, err
}

// CloseAll cancels every open order and flattens every position
func (o *Orchestrator) CloseAll(ctx context.Context, reason string) (*positions.Summary, error) {
	return o.positions.CloseAll(ctx, reason, o.now())
}

// Positions returns the broker's open positions
func (o *Orchestrator) Positions(ctx context.Context) ([]contracts.Position, error) {
	return o.broker.GetPositions(ctx)
}
