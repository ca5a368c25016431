package scheduler

import (
	"context"
	"time"
)

// Job represents a scheduled job
// ⭐ SSOT: the scheduled job contract is defined here only
type Job interface {
	// Name returns the job name
	Name() string

	// Run executes the job
	Run(ctx context.Context) error

	// Schedule returns the cron schedule expression (with seconds)
	// Examples: "0 10 16 * * MON-FRI", "@weekly"
	Schedule() string
}

// SessionJob is a job that only runs on exchange trading days
type SessionJob interface {
	Job
	TradingDaysOnly() bool
}

// Job statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// JobResult represents the result of a job execution
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"`
	Attempts  int           `json:"attempts"`
	Error     string        `json:"error,omitempty"`
}

// Success reports whether the job ran and succeeded
func (r JobResult) Success() bool {
	return r.Status == StatusSuccess
}

// historyLimit bounds the results kept per job
const historyLimit = 100

// JobHistory stores job execution history
type JobHistory struct {
	Results []JobResult
}

// AddResult adds a job result to history
func (h *JobHistory) AddResult(result JobResult) {
	h.Results = append(h.Results, result)
	if len(h.Results) > historyLimit {
		h.Results = h.Results[len(h.Results)-historyLimit:]
	}
}

// GetLatestResults returns the latest N results
func (h *JobHistory) GetLatestResults(n int) []JobResult {
	if n > len(h.Results) {
		n = len(h.Results)
	}
	if n <= 0 {
		return []JobResult{}
	}
	return h.Results[len(h.Results)-n:]
}

// GetFailedResults returns all failed results
func (h *JobHistory) GetFailedResults() []JobResult {
	failed := make([]JobResult, 0)
	for _, result := range h.Results {
		if result.Status == StatusFailed {
			failed = append(failed, result)
		}
	}
	return failed
}

// GetSuccessRate returns the success rate (0.0 - 1.0) over runs that were not skipped
func (h *JobHistory) GetSuccessRate() float64 {
	ran, ok := 0, 0
	for _, result := range h.Results {
		switch result.Status {
		case StatusSuccess:
			ran++
			ok++
		case StatusFailed:
			ran++
		}
	}
	if ran == 0 {
		return 0.0
	}
	return float64(ok) / float64(ran)
}
