package commands

import (
	"context"
	"errors"
	"time"

	"github.com/crajarshi/SwingTrading/internal/broker"
	"github.com/crajarshi/SwingTrading/internal/broker/alpaca"
	"github.com/crajarshi/SwingTrading/internal/intent"
	"github.com/crajarshi/SwingTrading/internal/marketdata"
	"github.com/crajarshi/SwingTrading/internal/metrics"
	"github.com/crajarshi/SwingTrading/internal/pipeline"
	"github.com/crajarshi/SwingTrading/internal/session"
	"github.com/crajarshi/SwingTrading/internal/state"
	"github.com/crajarshi/SwingTrading/internal/strategyconfig"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/config"
	"github.com/crajarshi/SwingTrading/pkg/httputil"
	"github.com/crajarshi/SwingTrading/pkg/logger"
	"github.com/crajarshi/SwingTrading/pkg/redis"
)

// Order-write budget shared by every process on the account
const (
	orderWriteLimit  = 150
	orderWriteWindow = time.Minute
	redisPrefix      = "swing"
)

// deps holds the process-wide collaborators a command needs
// ⭐ SSOT: commands build their dependencies through loadDeps only
type deps struct {
	cfg      *config.Config
	strategy *strategyconfig.Config
	yaml     []byte
	log      *logger.Logger
	metrics  *metrics.Registry
	redis    *redis.Client
	calendar *session.Calendar
	store    state.Store
}

// loadDeps loads both config layers and opens shared infrastructure
func loadDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, apperr.Configuration("load environment", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	log := logger.New(cfg)

	strategy, data, err := strategyconfig.LoadOrDefault(configFile, overrides...)
	if err != nil {
		return nil, err
	}
	for _, w := range strategyconfig.Warn(strategy) {
		log.WithField("code", w.Code).Warn(w.Message)
	}

	calendar, err := session.NYSE()
	if err != nil {
		return nil, apperr.Configuration("session calendar", err)
	}

	rc, err := redis.New(cfg)
	if err != nil {
		return nil, apperr.Network("redis", err)
	}

	store, err := state.Open(ctx, cfg, log)
	if err != nil {
		rc.Close()
		return nil, err
	}

	return &deps{
		cfg:      cfg,
		strategy: strategy,
		yaml:     data,
		log:      log,
		metrics:  metrics.New(),
		redis:    rc,
		calendar: calendar,
		store:    store,
	}, nil
}

// Close releases the store and the redis connection
func (d *deps) Close() error {
	return errors.Join(d.store.Close(), d.redis.Close())
}

// barCache opens the on-disk bar cache
func (d *deps) barCache() (*marketdata.BarCache, error) {
	cache, err := marketdata.NewBarCache(d.cfg.Storage.CacheDir, d.log)
	if err != nil {
		return nil, apperr.Configuration("bar cache", err)
	}
	return cache, nil
}

// broker creates the paper-trading client
// Order writes share a redis sliding-window budget across processes.
func (d *deps) broker() (*alpaca.Client, error) {
	if err := d.cfg.RequireBroker(); err != nil {
		return nil, apperr.Configuration("broker", err)
	}
	reads := httputil.New(d.cfg, d.log).WithCircuitBreaker("alpaca-trading")
	writes := httputil.New(d.cfg, d.log).
		WithCircuitBreaker("alpaca-orders").
		WithRateLimiter(redis.NewRateLimiter(d.redis, redisPrefix), redis.RateLimitConfig{
			Key:    "alpaca:orders",
			Limit:  orderWriteLimit,
			Window: orderWriteWindow,
		})
	return alpaca.NewClient(d.cfg.Alpaca, d.calendar.Location(), reads, writes, d.log)
}

// orderBroker returns the broker the orchestrator routes to
// A dry run without credentials gets an offline broker; it never calls out.
func (d *deps) orderBroker(dryRun bool) (broker.Broker, error) {
	if dryRun && d.cfg.RequireBroker() != nil {
		d.log.Warn("No Alpaca credentials; dry run uses an offline broker")
		return broker.NewOffline(alpaca.PaperCapabilities), nil
	}
	c, err := d.broker()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// provider creates the market-data provider over the bar cache
func (d *deps) provider(cache *marketdata.BarCache) *marketdata.Provider {
	client := alpaca.Authorize(httputil.New(d.cfg, d.log).WithCircuitBreaker("alpaca-data"), d.cfg.Alpaca)
	sc := d.strategy.Scanner
	return marketdata.NewProvider(
		client,
		cache,
		marketdata.NewLimiter(sc.RateLimitPerMinute, sc.RateLimitStartFull),
		d.calendar,
		redis.NewCache(d.redis, redisPrefix),
		marketdata.ProviderConfig{
			DataURL:         d.cfg.Alpaca.DataURL,
			Feed:            d.cfg.Alpaca.Feed,
			LookbackDays:    sc.LookbackDays,
			ReferenceSymbol: sc.Regime.ReferenceSymbol,
		},
		d.log,
	)
}

// pipeline wires the orchestrator against the live broker and data API
func (d *deps) pipeline(dryRun bool) (*pipeline.Orchestrator, error) {
	b, err := d.orderBroker(dryRun)
	if err != nil {
		return nil, err
	}
	cache, err := d.barCache()
	if err != nil {
		return nil, err
	}

	var earnings *intent.Earnings
	if path := d.strategy.PaperTrading.Exclusions.EarningsFile; path != "" {
		earnings, err = intent.LoadEarnings(path)
		if err != nil {
			return nil, err
		}
	}

	provider := d.provider(cache)
	return pipeline.New(pipeline.Deps{
		Config:     d.strategy,
		ConfigYAML: d.yaml,
		Clock:      d.calendar,
		Sessions:   provider,
		Source:     provider,
		Broker:     b,
		Store:      d.store,
		Lock:       redis.NewLock(d.redis, redisPrefix),
		Earnings:   earnings,
		Metrics:    d.metrics,
		Logger:     d.log,
	})
}

// withPipeline runs fn against a freshly wired orchestrator
func withPipeline(ctx context.Context, fn func(ctx context.Context, d *deps, o *pipeline.Orchestrator) error) error {
	return runPipeline(ctx, false, fn)
}

// runPipeline is withPipeline where a dry run tolerates missing credentials
func runPipeline(ctx context.Context, dryRun bool, fn func(ctx context.Context, d *deps, o *pipeline.Orchestrator) error) error {
	d, err := loadDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	o, err := d.pipeline(dryRun)
	if err != nil {
		return err
	}
	return fn(ctx, d, o)
}
