package scan

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/marketdata"
	"github.com/crajarshi/SwingTrading/internal/metrics"
	"github.com/crajarshi/SwingTrading/internal/scoring"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// Config holds scanner configuration
type Config struct {
	Workers     int           // concurrent symbols
	TaskTimeout time.Duration // per-symbol fetch + score bound
}

// SymbolError is a per-symbol failure that is not a scoring outcome
type SymbolError struct {
	Symbol string           `json:"symbol"`
	Reason contracts.Reason `json:"reason"`
	Kind   apperr.Kind      `json:"kind"`
	Error  string           `json:"error"`
}

// Result is the outcome of scanning a universe
type Result struct {
	RunID      string                   `json:"run_id"`
	Session    string                   `json:"session"`
	Scanned    int                      `json:"scanned"`
	Candidates []contracts.Candidate    `json:"candidates"`
	Results    []*contracts.ScoreResult `json:"results"`
	Rejections map[contracts.Reason]int `json:"rejections"`
	Errors     []SymbolError            `json:"errors"`
	Duration   time.Duration            `json:"duration"`
}

// Scanner scores a universe with a bounded worker pool
// ⭐ SSOT: universe fan-out happens here only
type Scanner struct {
	source  marketdata.Source
	engine  *scoring.Engine
	cfg     Config
	metrics *metrics.Registry
	logger  *logger.Logger
}

// NewScanner creates a scanner
func NewScanner(source marketdata.Source, engine *scoring.Engine, cfg Config, m *metrics.Registry, log *logger.Logger) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	return &Scanner{
		source:  source,
		engine:  engine,
		cfg:     cfg,
		metrics: m,
		logger:  log.WithField("module", "scanner"),
	}
}

// WithEngine returns a scanner that scores with engine
func (s *Scanner) WithEngine(engine *scoring.Engine) *Scanner {
	clone := *s
	clone.engine = engine
	return &clone
}

type symbolOutcome struct {
	result *contracts.ScoreResult
	err    *SymbolError
}

// Scan fetches and scores every symbol for session
// Workers check the run's cancellation between symbols; the ranked list is
// built only after every worker has returned.
func (s *Scanner) Scan(ctx context.Context, run *Run, symbols []string, session string) *Result {
	start := time.Now()
	s.logger.WithFields(map[string]interface{}{
		"run_id":  run.ID(),
		"symbols": len(symbols),
		"workers": s.cfg.Workers,
		"session": session,
	}).Info("Starting scan")

	symbolCh := make(chan string, len(symbols))
	outCh := make(chan symbolOutcome, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, run, workerID, session, symbolCh, outCh)
		}(i)
	}

	for _, sym := range symbols {
		symbolCh <- sym
	}
	close(symbolCh)

	go func() {
		wg.Wait()
		close(outCh)
	}()

	res := &Result{
		RunID:      run.ID(),
		Session:    session,
		Rejections: make(map[contracts.Reason]int),
	}
	for out := range outCh {
		res.Scanned++
		if out.err != nil {
			res.Rejections[out.err.Reason]++
			res.Errors = append(res.Errors, *out.err)
			s.metrics.SymbolOutcome(string(out.err.Reason))
			continue
		}
		res.Results = append(res.Results, out.result)
		if out.result.Passed() {
			res.Candidates = append(res.Candidates, contracts.CandidateFromResult(out.result))
			s.metrics.SymbolOutcome("scored")
		} else {
			res.Rejections[out.result.Reason]++
			s.metrics.SymbolOutcome(string(out.result.Reason))
		}
	}

	// worker completion order is not deterministic; the output is
	sort.Slice(res.Candidates, func(i, j int) bool {
		if res.Candidates[i].Score != res.Candidates[j].Score {
			return res.Candidates[i].Score > res.Candidates[j].Score
		}
		return res.Candidates[i].Symbol < res.Candidates[j].Symbol
	})
	sort.Slice(res.Results, func(i, j int) bool { return res.Results[i].Symbol < res.Results[j].Symbol })
	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].Symbol < res.Errors[j].Symbol })
	res.Duration = time.Since(start)

	s.logger.WithFields(map[string]interface{}{
		"run_id":     run.ID(),
		"scanned":    res.Scanned,
		"candidates": len(res.Candidates),
		"errors":     len(res.Errors),
		"duration":   res.Duration,
	}).Info("Scan completed")
	return res
}

func (s *Scanner) worker(ctx context.Context, run *Run, workerID int, session string, symbolCh <-chan string, outCh chan<- symbolOutcome) {
	for sym := range symbolCh {
		if run.Cancelled() || ctx.Err() != nil {
			outCh <- symbolOutcome{err: &SymbolError{
				Symbol: sym,
				Reason: contracts.ReasonCancelled,
				Kind:   apperr.KindGeneral,
				Error:  "run cancelled",
			}}
			continue
		}

		out := s.scoreSymbol(ctx, run, sym, session)
		if out.err != nil {
			s.logger.WithFields(map[string]interface{}{
				"worker": workerID,
				"symbol": sym,
				"reason": out.err.Reason,
				"error":  out.err.Error,
			}).Debug("Symbol dropped")
		}
		outCh <- out
	}
}

// scoreSymbol bounds fetch and scoring by the task timeout
func (s *Scanner) scoreSymbol(ctx context.Context, run *Run, sym, session string) symbolOutcome {
	taskCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()
	stop := context.AfterFunc(run.Context(), cancel)
	defer stop()

	done := make(chan symbolOutcome, 1)
	go func() {
		bars, err := s.source.Bars(taskCtx, sym, session)
		if err != nil {
			done <- symbolOutcome{err: classify(sym, err, taskCtx)}
			return
		}
		done <- symbolOutcome{result: s.engine.Score(sym, bars)}
	}()

	select {
	case out := <-done:
		return out
	case <-taskCtx.Done():
		return symbolOutcome{err: classify(sym, taskCtx.Err(), taskCtx)}
	}
}

func classify(sym string, err error, taskCtx context.Context) *SymbolError {
	e := &SymbolError{Symbol: sym, Kind: apperr.KindOf(err), Error: err.Error()}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		e.Reason = contracts.ReasonTimeout
		e.Kind = apperr.KindNetwork
	case errors.Is(err, context.Canceled):
		e.Reason = contracts.ReasonCancelled
		e.Kind = apperr.KindGeneral
	case apperr.Is(err, apperr.KindData):
		e.Reason = contracts.ReasonNoData
	default:
		e.Reason = contracts.ReasonFetchError
	}
	return e
}
