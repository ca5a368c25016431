// Package jobs adapts pipeline stages to scheduler jobs.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/pipeline"
	"github.com/crajarshi/SwingTrading/internal/report"
	"github.com/crajarshi/SwingTrading/internal/strategyconfig"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// Pipeline is the set of stages the scheduled jobs drive
type Pipeline interface {
	Scan(ctx context.Context, asOf string) (*pipeline.ScanResult, error)
	Place(ctx context.Context, runID string, dryRun bool) (*contracts.PlacementSummary, error)
	Reconcile(ctx context.Context) (*pipeline.ReconcileResult, error)
	Exits(ctx context.Context) (*pipeline.ExitResult, error)
	Report(ctx context.Context, date string) (*report.Report, error)
}

// Job names
const (
	NameScan      = "scan"
	NameReconcile = "reconcile"
	NamePlace     = "place"
	NameExits     = "exits"
	NameReport    = "report"
)

// CronAt converts an exchange-local HH:MM into a weekday cron spec with seconds
func CronAt(hhmm string) (string, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return "", apperr.Configf("jobs.CronAt", "invalid time %q", hhmm)
	}
	return fmt.Sprintf("0 %d %d * * MON-FRI", t.Minute(), t.Hour()), nil
}

// StageJob runs one pipeline stage on trading days
// ⭐ SSOT: stage schedules come from the strategy config's schedule section
type StageJob struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
}

// Name returns the job name
func (j *StageJob) Name() string { return j.name }

// Schedule returns the cron schedule
func (j *StageJob) Schedule() string { return j.schedule }

// TradingDaysOnly marks the job as session-bound
func (j *StageJob) TradingDaysOnly() bool { return true }

// Run executes the stage
func (j *StageJob) Run(ctx context.Context) error { return j.run(ctx) }

// StageJobs builds the scan, reconcile, place, exits and report jobs
func StageJobs(p Pipeline, sched strategyconfig.Schedule, log *logger.Logger) ([]*StageJob, error) {
	log = log.WithField("module", "jobs")
	specs := []struct {
		name string
		at   string
		run  func(ctx context.Context) error
	}{
		{NameScan, sched.Scan, func(ctx context.Context) error { return runScan(ctx, p, log) }},
		{NameReconcile, sched.Reconcile, func(ctx context.Context) error { return runReconcile(ctx, p, log) }},
		{NamePlace, sched.Place, func(ctx context.Context) error { return runPlace(ctx, p, log) }},
		{NameExits, sched.Exits, func(ctx context.Context) error { return runExits(ctx, p, log) }},
		{NameReport, sched.Report, func(ctx context.Context) error { return runReport(ctx, p, log) }},
	}

	out := make([]*StageJob, 0, len(specs))
	for _, s := range specs {
		spec, err := CronAt(s.at)
		if err != nil {
			return nil, fmt.Errorf("schedule.%s: %w", s.name, err)
		}
		out = append(out, &StageJob{name: s.name, schedule: spec, run: s.run})
	}
	return out, nil
}

func runScan(ctx context.Context, p Pipeline, log *logger.Logger) error {
	res, err := p.Scan(ctx, "")
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	log.WithFields(map[string]interface{}{
		"run_id":     res.RunID,
		"candidates": len(res.Scan.Candidates),
		"intents":    len(res.Intents),
	}).Info("Scheduled scan done")
	return nil
}

func runReconcile(ctx context.Context, p Pipeline, log *logger.Logger) error {
	res, err := p.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if errs := res.Errors(); len(errs) > 0 {
		log.WithField("errors", len(errs)).Warn("Reconciliation finished with order errors")
	}
	return nil
}

func runPlace(ctx context.Context, p Pipeline, log *logger.Logger) error {
	summary, err := p.Place(ctx, "", false)
	if err != nil {
		return fmt.Errorf("place: %w", err)
	}
	fields := map[string]interface{}{
		"run_id":   summary.RunID,
		"strategy": summary.Strategy,
		"placed":   len(summary.Placed),
		"skipped":  len(summary.Skipped),
		"errors":   len(summary.Errors),
	}
	if len(summary.Errors) > 0 {
		log.WithFields(fields).Warn("Scheduled placement finished with order errors")
		return nil
	}
	log.WithFields(fields).Info("Scheduled placement done")
	return nil
}

func runExits(ctx context.Context, p Pipeline, log *logger.Logger) error {
	res, err := p.Exits(ctx)
	if err != nil {
		return fmt.Errorf("exits: %w", err)
	}
	if err := res.Err(); err != nil {
		log.WithError(err).Warn("Exit pass finished with symbol errors")
	}
	return nil
}

func runReport(ctx context.Context, p Pipeline, log *logger.Logger) error {
	rep, err := p.Report(ctx, "")
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	log.WithFields(map[string]interface{}{
		"date":     rep.Metrics.Date,
		"daily_pl": rep.Metrics.DailyPL,
		"path":     rep.Paths.Markdown,
	}).Info("Scheduled report written")
	return nil
}
