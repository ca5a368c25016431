// Package scheduler runs pipeline jobs on exchange-local cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/metrics"
	"github.com/crajarshi/SwingTrading/internal/session"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// Scheduler manages scheduled jobs
// ⭐ SSOT: job scheduling happens in this scheduler only
type Scheduler struct {
	cron    *cron.Cron
	clock   session.Clock
	metrics *metrics.Registry
	logger  *logger.Logger
	jobs    map[string]Job
	entries map[string]cron.EntryID
	history map[string]*JobHistory
	mu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time

	// Retry configuration; only network-class failures are retried
	maxRetries int
	retryDelay time.Duration
}

// New creates a scheduler whose cron expressions are read in the clock's time zone
func New(clock session.Clock, m *metrics.Registry, log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds(), cron.WithLocation(clock.Location())),
		clock:      clock,
		metrics:    m,
		logger:     log.WithField("module", "scheduler"),
		jobs:       make(map[string]Job),
		entries:    make(map[string]cron.EntryID),
		history:    make(map[string]*JobHistory),
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
		maxRetries: 3,
		retryDelay: time.Minute,
	}
}

// WithRetry overrides the retry configuration
func (s *Scheduler) WithRetry(maxRetries int, delay time.Duration) *Scheduler {
	s.maxRetries = maxRetries
	s.retryDelay = delay
	return s
}

// AddJob adds a job to the scheduler
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobName := job.Name()
	if _, exists := s.jobs[jobName]; exists {
		return fmt.Errorf("job %s already exists", jobName)
	}

	id, err := s.cron.AddFunc(job.Schedule(), func() {
		s.wg.Add(1)
		defer s.wg.Done()
		s.runJob(job)
	})
	if err != nil {
		return apperr.New(apperr.KindConfiguration, "scheduler.AddJob", fmt.Errorf("failed to schedule job %s: %w", jobName, err))
	}

	s.jobs[jobName] = job
	s.entries[jobName] = id
	s.history[jobName] = &JobHistory{}

	s.logger.WithFields(map[string]interface{}{
		"job":      jobName,
		"schedule": job.Schedule(),
	}).Info("Job added to scheduler")
	return nil
}

// RemoveJob removes a job from the scheduler
func (s *Scheduler) RemoveJob(jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobName]; !exists {
		return fmt.Errorf("job %s not found", jobName)
	}
	s.cron.Remove(s.entries[jobName])
	delete(s.jobs, jobName)
	delete(s.entries, jobName)
	s.logger.WithField("job", jobName).Info("Job removed from scheduler")
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop stops the scheduler, cancels running jobs and waits for them
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	ctx := s.cron.Stop()
	s.cancel()
	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// RunJob runs a specific job immediately (outside of schedule)
func (s *Scheduler) RunJob(jobName string) error {
	s.mu.RLock()
	job, exists := s.jobs[jobName]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %s not found", jobName)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJob(job)
	}()
	return nil
}

// runJob executes a job, retrying network-class failures
func (s *Scheduler) runJob(job Job) JobResult {
	jobName := job.Name()
	result := JobResult{JobName: jobName, StartTime: s.now()}
	log := s.logger.WithField("job", jobName)

	if sj, ok := job.(SessionJob); ok && sj.TradingDaysOnly() {
		today := result.StartTime.In(s.clock.Location()).Format(contracts.DateLayout)
		if !s.clock.IsTradingDay(today) {
			result.Status = StatusSkipped
			result.EndTime = result.StartTime
			s.record(result)
			log.WithField("date", today).Info("Not a trading day; job skipped")
			return result
		}
	}

	log.Info("Job started")

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		result.Attempts = attempt + 1
		lastErr = job.Run(s.ctx)
		if lastErr == nil || !apperr.Retryable(lastErr) || s.ctx.Err() != nil {
			break
		}

		log.WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		}).Warn("Job execution failed, retrying")

		if attempt < s.maxRetries {
			select {
			case <-time.After(s.retryDelay):
			case <-s.ctx.Done():
			}
		}
	}

	result.EndTime = s.now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Status = StatusSuccess
	if lastErr != nil {
		result.Status = StatusFailed
		result.Error = lastErr.Error()
	}
	s.record(result)

	if lastErr == nil {
		log.WithFields(map[string]interface{}{
			"duration": result.Duration,
		}).Info("Job completed successfully")
	} else {
		log.WithFields(map[string]interface{}{
			"duration": result.Duration,
			"attempts": result.Attempts,
			"kind":     apperr.KindOf(lastErr),
			"error":    lastErr.Error(),
		}).Error("Job failed")
	}
	return result
}

func (s *Scheduler) record(result JobResult) {
	s.mu.Lock()
	if history, exists := s.history[result.JobName]; exists {
		history.AddResult(result)
	}
	s.mu.Unlock()
	s.metrics.JobRun(result.JobName, result.Status)
}

// GetJobHistory returns the history for a specific job
func (s *Scheduler) GetJobHistory(jobName string) (*JobHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, exists := s.history[jobName]
	if !exists {
		return nil, fmt.Errorf("job %s not found", jobName)
	}
	cp := &JobHistory{Results: append([]JobResult(nil), history.Results...)}
	return cp, nil
}

// GetAllJobs returns all registered job names, sorted
func (s *Scheduler) GetAllJobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]string, 0, len(s.jobs))
	for jobName := range s.jobs {
		jobs = append(jobs, jobName)
	}
	sort.Strings(jobs)
	return jobs
}

// NextRun returns the next scheduled time of a job
func (s *Scheduler) NextRun(jobName string) (time.Time, bool) {
	s.mu.RLock()
	id, ok := s.entries[jobName]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	next := s.cron.Entry(id).Next
	return next, !next.IsZero()
}

// GetJobStats returns statistics for all jobs
func (s *Scheduler) GetJobStats() map[string]JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]JobStats)
	for jobName, history := range s.history {
		job, ok := s.jobs[jobName]
		if !ok {
			continue
		}
		latestResults := history.GetLatestResults(10)
		failedResults := history.GetFailedResults()

		var lastRun, lastSuccess, lastFailure *time.Time
		if len(latestResults) > 0 {
			lastResult := latestResults[len(latestResults)-1]
			lastRun = &lastResult.StartTime
			switch lastResult.Status {
			case StatusSuccess:
				lastSuccess = &lastResult.StartTime
			case StatusFailed:
				lastFailure = &lastResult.StartTime
			}
		}

		skipped := 0
		for _, r := range history.Results {
			if r.Status == StatusSkipped {
				skipped++
			}
		}

		stats[jobName] = JobStats{
			JobName:      jobName,
			Schedule:     job.Schedule(),
			TotalRuns:    len(history.Results),
			SuccessCount: len(history.Results) - len(failedResults) - skipped,
			FailureCount: len(failedResults),
			SkippedCount: skipped,
			SuccessRate:  history.GetSuccessRate(),
			LastRun:      lastRun,
			LastSuccess:  lastSuccess,
			LastFailure:  lastFailure,
		}
	}
	return stats
}

// JobStats represents statistics for a job
type JobStats struct {
	JobName      string     `json:"job_name"`
	Schedule     string     `json:"schedule"`
	TotalRuns    int        `json:"total_runs"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	SkippedCount int        `json:"skipped_count"`
	SuccessRate  float64    `json:"success_rate"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
}
