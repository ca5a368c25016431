package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crajarshi/SwingTrading/internal/metrics"
	"github.com/crajarshi/SwingTrading/internal/session"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

type stubJob struct {
	name        string
	sessionOnly bool
	errs        []error
	calls       int32
}

func (j *stubJob) Name() string          { return j.name }
func (j *stubJob) Schedule() string      { return "0 10 16 * * MON-FRI" }
func (j *stubJob) TradingDaysOnly() bool { return j.sessionOnly }

func (j *stubJob) Run(ctx context.Context) error {
	n := int(atomic.AddInt32(&j.calls, 1)) - 1
	if n < len(j.errs) {
		return j.errs[n]
	}
	return nil
}

func newScheduler(t *testing.T, now time.Time) (*Scheduler, *metrics.Registry) {
	t.Helper()
	cal, err := session.NYSE()
	require.NoError(t, err)
	m := metrics.New()
	s := New(cal, m, logger.Nop()).WithRetry(2, time.Millisecond)
	s.now = func() time.Time { return now }
	return s, m
}

var friday = time.Date(2025, 3, 14, 20, 10, 0, 0, time.UTC)

func TestRunJobRetriesNetworkErrors(t *testing.T) {
	s, m := newScheduler(t, friday)
	job := &stubJob{name: "scan", errs: []error{
		apperr.FromStatus("GET bars", 503, ""),
		apperr.FromStatus("GET bars", 429, ""),
	}}
	require.NoError(t, s.AddJob(job))

	res := s.runJob(job)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("scan", StatusSuccess)))
}

func TestRunJobDoesNotRetryOtherKinds(t *testing.T) {
	s, m := newScheduler(t, friday)
	job := &stubJob{name: "place", errs: []error{apperr.Dataf("place", "no scan runs found")}}
	require.NoError(t, s.AddJob(job))

	res := s.runJob(job)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, res.Error, "no scan runs")
	assert.Equal(t, int32(1), atomic.LoadInt32(&job.calls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("place", StatusFailed)))
}

func TestRunJobGivesUpAfterRetries(t *testing.T) {
	s, _ := newScheduler(t, friday)
	netErr := apperr.Network("op", errors.New("reset"))
	job := &stubJob{name: "report", errs: []error{netErr, netErr, netErr, netErr}}
	require.NoError(t, s.AddJob(job))

	res := s.runJob(job)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, res.Attempts)
}

func TestRunJobSkipsNonTradingDays(t *testing.T) {
	saturday := time.Date(2025, 3, 15, 20, 10, 0, 0, time.UTC)
	s, m := newScheduler(t, saturday)

	bound := &stubJob{name: "scan", sessionOnly: true}
	free := &stubJob{name: "cache_refresh"}
	require.NoError(t, s.AddJob(bound))
	require.NoError(t, s.AddJob(free))

	assert.Equal(t, StatusSkipped, s.runJob(bound).Status)
	assert.Zero(t, atomic.LoadInt32(&bound.calls))
	assert.Equal(t, StatusSuccess, s.runJob(free).Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("scan", StatusSkipped)))

	stats := s.GetJobStats()["scan"]
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.SkippedCount)
	assert.Zero(t, stats.SuccessCount)
	assert.Zero(t, stats.SuccessRate)
}

func TestAddAndRemoveJobs(t *testing.T) {
	s, _ := newScheduler(t, friday)
	require.NoError(t, s.AddJob(&stubJob{name: "b"}))
	require.NoError(t, s.AddJob(&stubJob{name: "a"}))
	assert.Error(t, s.AddJob(&stubJob{name: "a"}), "duplicate")

	assert.Equal(t, []string{"a", "b"}, s.GetAllJobs())
	_, ok := s.NextRun("a")
	assert.False(t, ok, "not started")

	require.NoError(t, s.RemoveJob("a"))
	assert.Equal(t, []string{"b"}, s.GetAllJobs())
	assert.Error(t, s.RemoveJob("a"))
	assert.Error(t, s.RunJob("a"))
}

type badSchedule struct{ stubJob }

func (badSchedule) Schedule() string { return "every tuesday" }

func TestAddJobInvalidSchedule(t *testing.T) {
	s, _ := newScheduler(t, friday)
	err := s.AddJob(&badSchedule{stubJob{name: "bad"}})
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
}

func TestStartStopNextRun(t *testing.T) {
	s, _ := newScheduler(t, friday)
	require.NoError(t, s.AddJob(&stubJob{name: "scan"}))
	s.Start()
	next, ok := s.NextRun("scan")
	s.Stop()

	require.True(t, ok)
	local := next.In(s.clock.Location())
	assert.Equal(t, 16, local.Hour(), "read in exchange time")
	assert.Equal(t, 10, local.Minute())
}

func TestJobHistory(t *testing.T) {
	h := &JobHistory{}
	for i := 0; i < historyLimit+5; i++ {
		status := StatusSuccess
		if i%4 == 0 {
			status = StatusFailed
		}
		h.AddResult(JobResult{JobName: "scan", Status: status, Attempts: i})
	}
	assert.Len(t, h.Results, historyLimit)
	assert.Equal(t, 5, h.Results[0].Attempts, "oldest results dropped")
	assert.Len(t, h.GetLatestResults(3), 3)
	assert.Empty(t, h.GetLatestResults(0))
	assert.Len(t, h.GetFailedResults(), 25)
	assert.InDelta(t, 0.75, h.GetSuccessRate(), 1e-9)
	assert.Zero(t, (&JobHistory{}).GetSuccessRate())
}
