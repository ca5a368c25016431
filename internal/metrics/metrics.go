// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every pipeline metric
// ⭐ SSOT: metric names are declared here only
// A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	ScansTotal      *prometheus.CounterVec
	ScanDuration    prometheus.Histogram
	SymbolOutcomes  *prometheus.CounterVec
	ActiveRuns      prometheus.Gauge
	RunsSuperseded  prometheus.Counter
	IntentsBuilt    prometheus.Counter
	IntentsFiltered *prometheus.CounterVec
	Placements      *prometheus.CounterVec
	ReconcileEvents *prometheus.CounterVec
	JobRuns         *prometheus.CounterVec
}

// New creates a registry with Go runtime and process collectors attached
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swing_scans_total",
			Help: "Scans finished by final run state",
		}, []string{"state"}),

		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "swing_scan_duration_seconds",
			Help:    "Wall time of a universe scan",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		SymbolOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swing_symbol_outcomes_total",
			Help: "Per-symbol scan outcomes; scored or the rejection reason",
		}, []string{"outcome"}),

		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swing_active_runs",
			Help: "Runs currently in flight in this process",
		}),

		RunsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swing_runs_superseded_total",
			Help: "Runs cancelled because a newer run started",
		}),

		IntentsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swing_intents_built_total",
			Help: "Order intents produced by the builder",
		}),

		IntentsFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swing_intents_filtered_total",
			Help: "Candidates dropped before becoming intents, by reason",
		}, []string{"reason"}),

		Placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swing_placements_total",
			Help: "Executor outcomes by strategy and result",
		}, []string{"strategy", "result"}),

		ReconcileEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swing_reconcile_events_total",
			Help: "Reconciliation actions by kind",
		}, []string{"action"}),

		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swing_job_runs_total",
			Help: "Scheduled job executions by job and status",
		}, []string{"job", "status"}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ScansTotal, r.ScanDuration, r.SymbolOutcomes, r.ActiveRuns, r.RunsSuperseded,
		r.IntentsBuilt, r.IntentsFiltered, r.Placements, r.ReconcileEvents, r.JobRuns,
	)
	return r
}

// Handler serves the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// SymbolOutcome counts one per-symbol scan outcome
func (r *Registry) SymbolOutcome(outcome string) {
	if r == nil {
		return
	}
	r.SymbolOutcomes.WithLabelValues(outcome).Inc()
}

// RunStarted marks a run in flight
func (r *Registry) RunStarted() {
	if r == nil {
		return
	}
	r.ActiveRuns.Inc()
}

// RunFinished records the run's final state and duration
func (r *Registry) RunFinished(state string, d time.Duration) {
	if r == nil {
		return
	}
	r.ActiveRuns.Dec()
	r.ScansTotal.WithLabelValues(state).Inc()
	r.ScanDuration.Observe(d.Seconds())
}

// RunSuperseded counts a superseded run
func (r *Registry) RunSuperseded() {
	if r == nil {
		return
	}
	r.RunsSuperseded.Inc()
}

// IntentSummary records builder output
func (r *Registry) IntentSummary(selected int, filtered map[string]int) {
	if r == nil {
		return
	}
	r.IntentsBuilt.Add(float64(selected))
	for reason, n := range filtered {
		r.IntentsFiltered.WithLabelValues(reason).Add(float64(n))
	}
}

// Placement counts one executor outcome
func (r *Registry) Placement(strategy, result string) {
	if r == nil {
		return
	}
	r.Placements.WithLabelValues(strategy, result).Inc()
}

// Reconcile counts reconciliation actions
func (r *Registry) Reconcile(action string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.ReconcileEvents.WithLabelValues(action).Add(float64(n))
}

// JobRun counts a scheduled job execution
func (r *Registry) JobRun(job, status string) {
	if r == nil {
		return
	}
	r.JobRuns.WithLabelValues(job, status).Inc()
}
