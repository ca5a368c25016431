// Package scan runs the universe scan: a run registry that keeps one active
// run at a time and a bounded worker pool that fetches and scores symbols.
package scan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/crajarshi/SwingTrading/internal/metrics"
	"github.com/crajarshi/SwingTrading/pkg/logger"
	"github.com/crajarshi/SwingTrading/pkg/redis"
)

// RunState is the lifecycle state of a run
type RunState string

const (
	StateRunning    RunState = "running"
	StateCompleted  RunState = "completed"
	StateFailed     RunState = "failed"
	StateSuperseded RunState = "superseded"
	StateCancelled  RunState = "cancelled"
)

// lockName is the cross-process lease name for the active run
const lockName = "active_run"

// RunInfo is a read-only snapshot of a run
type RunInfo struct {
	ID         string     `json:"run_id"`
	Token      string     `json:"token"`
	State      RunState   `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Run is one in-flight pipeline run holding its cancellation token
type Run struct {
	id        string
	token     string
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool

	mu         sync.Mutex
	state      RunState
	finishedAt *time.Time
	err        string
}

// ID returns the run id
func (r *Run) ID() string {
	return r.id
}

// Context is cancelled when the run is superseded or cancelled
func (r *Run) Context() context.Context {
	return r.ctx
}

// Cancelled reports whether workers should stop picking up symbols
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

// Cancel stops the run cooperatively
func (r *Run) Cancel() {
	r.markEnded(StateCancelled, "")
}

func (r *Run) markEnded(state RunState, errMsg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return false
	}
	now := time.Now()
	r.state = state
	r.finishedAt = &now
	r.err = errMsg
	if state != StateCompleted && state != StateFailed {
		r.cancelled.Store(true)
	}
	r.cancel()
	return true
}

// Info returns a snapshot of the run
func (r *Run) Info() RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunInfo{
		ID:         r.id,
		Token:      r.token,
		State:      r.state,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		Error:      r.err,
	}
}

// Registry tracks the single active run
// ⭐ SSOT: the only owner of "which run is active"
type Registry struct {
	lock    *redis.Lock
	ttl     time.Duration
	metrics *metrics.Registry
	logger  *logger.Logger

	mu     sync.Mutex
	active *Run
	last   *Run
}

// NewRegistry creates a registry; lock may be nil for a single process
func NewRegistry(lock *redis.Lock, m *metrics.Registry, log *logger.Logger) *Registry {
	return &Registry{
		lock:    lock,
		ttl:     redis.TTLRun,
		metrics: m,
		logger:  log.WithField("module", "run_registry"),
	}
}

// Begin starts runID, superseding any run still in flight
// With redis enabled the lease is taken over from whichever process held it,
// and that process notices on its next lease refresh.
func (g *Registry) Begin(ctx context.Context, runID string) (*Run, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	run := &Run{
		id:        runID,
		token:     uuid.NewString(),
		startedAt: time.Now(),
		ctx:       runCtx,
		cancel:    cancel,
		state:     StateRunning,
	}

	if g.lock.Enabled() {
		prev, err := g.lock.Steal(ctx, lockName, run.token, g.ttl)
		if err != nil {
			cancel()
			return nil, err
		}
		if prev != "" {
			g.logger.WithFields(map[string]interface{}{
				"run_id":     runID,
				"prev_token": prev,
			}).Warn("Took over run lease from another process")
		}
		go g.refresh(run)
	}

	g.mu.Lock()
	prev := g.active
	g.active = run
	g.mu.Unlock()

	if prev != nil && prev.markEnded(StateSuperseded, "superseded by "+runID) {
		g.metrics.RunSuperseded()
		g.logger.WithFields(map[string]interface{}{
			"run_id":     runID,
			"superseded": prev.id,
		}).Warn("Superseding active run")
	}

	g.metrics.RunStarted()
	g.logger.WithFields(map[string]interface{}{
		"run_id": runID,
		"token":  run.token,
	}).Info("Run started")
	return run, nil
}

// refresh extends the lease until the run ends; losing it supersedes the run
func (g *Registry) refresh(run *Run) {
	ticker := time.NewTicker(g.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-run.ctx.Done():
			return
		case <-ticker.C:
			err := g.lock.Acquire(run.ctx, lockName, run.token, g.ttl)
			if errors.Is(err, redis.ErrLockHeld) {
				if run.markEnded(StateSuperseded, "lease taken by another process") {
					g.metrics.RunSuperseded()
				}
				return
			}
			if err != nil && run.ctx.Err() == nil {
				g.logger.WithError(err).WithField("run_id", run.id).Warn("Run lease refresh failed")
			}
		}
	}
}

// Finish records the outcome of run and clears it if still active
func (g *Registry) Finish(run *Run, runErr error) {
	state := StateCompleted
	msg := ""
	if runErr != nil {
		state = StateFailed
		msg = runErr.Error()
	}
	run.markEnded(state, msg)
	info := run.Info()

	g.mu.Lock()
	if g.active == run {
		g.active = nil
	}
	g.last = run
	g.mu.Unlock()

	if g.lock.Enabled() {
		if err := g.lock.Release(context.Background(), lockName, run.token); err != nil {
			g.logger.WithError(err).WithField("run_id", run.id).Warn("Run lease release failed")
		}
	}

	g.metrics.RunFinished(string(info.State), time.Since(info.StartedAt))
	g.logger.WithFields(map[string]interface{}{
		"run_id": run.id,
		"state":  info.State,
	}).Info("Run finished")
}

// Active returns the in-flight run, if any
func (g *Registry) Active() (RunInfo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return RunInfo{}, false
	}
	return g.active.Info(), true
}

// Last returns the most recently finished run, if any
func (g *Registry) Last() (RunInfo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		return RunInfo{}, false
	}
	return g.last.Info(), true
}

// CancelActive cancels the in-flight run, if any
func (g *Registry) CancelActive() bool {
	g.mu.Lock()
	run := g.active
	g.mu.Unlock()
	if run == nil {
		return false
	}
	run.Cancel()
	return true
}
