package jobs

import (
	"context"
	"fmt"

	"github.com/crajarshi/SwingTrading/internal/marketdata"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// CacheRefreshJob drops every cached bar file once a week
// Split and dividend adjustments rewrite history, so cached series are refetched in full.
type CacheRefreshJob struct {
	cache  *marketdata.BarCache
	logger *logger.Logger
}

// NewCacheRefreshJob creates a new cache refresh job
func NewCacheRefreshJob(cache *marketdata.BarCache, log *logger.Logger) *CacheRefreshJob {
	return &CacheRefreshJob{
		cache:  cache,
		logger: log.WithField("module", "jobs"),
	}
}

// Name returns the job name
func (j *CacheRefreshJob) Name() string {
	return "cache_refresh"
}

// Schedule returns the cron schedule (Sunday 06:00 exchange time)
func (j *CacheRefreshJob) Schedule() string {
	return "0 0 6 * * SUN"
}

// Run executes the cache refresh
func (j *CacheRefreshJob) Run(ctx context.Context) error {
	stats, err := j.cache.Stats()
	if err != nil {
		return fmt.Errorf("cache stats: %w", err)
	}
	removed, err := j.cache.Clear("")
	if err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	j.logger.WithFields(map[string]interface{}{
		"removed": removed,
		"bars":    stats.Bars,
		"bytes":   stats.SizeBytes,
	}).Info("Bar cache refreshed")
	return nil
}
