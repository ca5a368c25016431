package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/session"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/httputil"
	"github.com/crajarshi/SwingTrading/pkg/logger"
	"github.com/crajarshi/SwingTrading/pkg/redis"
)

// Source supplies ordered daily bars through the last complete session
type Source interface {
	Bars(ctx context.Context, symbol, session string) ([]contracts.Bar, error)
}

// ProviderConfig configures the bar endpoint
type ProviderConfig struct {
	DataURL         string // e.g. https://data.alpaca.markets
	Feed            string // iex | sip
	LookbackDays    int    // calendar days requested on a cold cache
	ReferenceSymbol string // probe symbol for the data-confirmed session
}

// Provider fetches bars from the data API through the bar cache
// ⭐ SSOT: market data HTTP calls are made here only
type Provider struct {
	client *httputil.Client
	cache  *BarCache
	probe  *redis.Cache
	clock  session.Clock
	cfg    ProviderConfig
	logger *logger.Logger

	mu        sync.Mutex
	confirmed map[string]string // calendar session -> data-confirmed session
}

// NewProvider creates a provider and installs limiter as the client's admission gate
func NewProvider(client *httputil.Client, cache *BarCache, limiter *Limiter, clock session.Clock, probe *redis.Cache, cfg ProviderConfig, log *logger.Logger) *Provider {
	if limiter != nil {
		client.WithLimiter(limiter)
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 550
	}
	return &Provider{
		client:    client,
		cache:     cache,
		probe:     probe,
		clock:     clock,
		cfg:       cfg,
		logger:    log.WithField("module", "marketdata"),
		confirmed: make(map[string]string),
	}
}

// Cache returns the underlying bar cache
func (p *Provider) Cache() *BarCache {
	return p.cache
}

// Bars returns bars for symbol through session, oldest first
// A cache whose last bar equals session is returned without a network call.
func (p *Provider) Bars(ctx context.Context, symbol, sessionDate string) ([]contracts.Bar, error) {
	op := "marketdata.Bars " + symbol
	end, err := time.Parse(contracts.DateLayout, sessionDate)
	if err != nil {
		return nil, apperr.Configf(op, "invalid session date %q", sessionDate)
	}
	windowStart := end.AddDate(0, 0, -p.cfg.LookbackDays).Format(contracts.DateLayout)

	cached := p.cache.Read(symbol)
	if contracts.LastDate(cached) == sessionDate {
		p.logger.WithField("symbol", symbol).Debug("Bar cache hit")
		return trimFrom(cached, windowStart), nil
	}

	// incremental refresh when the cache already covers the window start
	start := windowStart
	if len(cached) > 0 && cached[0].Date <= windowStart {
		start = contracts.LastDate(cached)
	}

	fresh, err := p.fetch(ctx, symbol, start, end.AddDate(0, 0, 1).Format(contracts.DateLayout))
	if err != nil {
		return nil, err
	}
	if len(fresh) == 0 && len(cached) == 0 {
		return nil, apperr.Dataf(op, "no data")
	}

	merged, err := p.cache.Merge(symbol, fresh, sessionDate)
	if err != nil {
		p.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to write bar cache")
	}
	if len(merged) == 0 {
		return nil, apperr.Dataf(op, "no data through %s", sessionDate)
	}

	p.logger.WithFields(map[string]interface{}{
		"symbol":  symbol,
		"fetched": len(fresh),
		"total":   len(merged),
	}).Debug("Bars refreshed")

	return trimFrom(merged, windowStart), nil
}

// barsResponse is the data API page shape
type barsResponse struct {
	Bars          []apiBar `json:"bars"`
	Symbol        string   `json:"symbol"`
	NextPageToken *string  `json:"next_page_token"`
}

type apiBar struct {
	T time.Time `json:"t"`
	O float64   `json:"o"`
	H float64   `json:"h"`
	L float64   `json:"l"`
	C float64   `json:"c"`
	V float64   `json:"v"`
}

// fetch pulls every page of daily bars in [start, end)
func (p *Provider) fetch(ctx context.Context, symbol, start, end string) ([]contracts.Bar, error) {
	loc := p.clock.Location()
	var out []contracts.Bar
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("timeframe", "1Day")
		params.Set("start", start)
		params.Set("end", end)
		params.Set("adjustment", "all")
		params.Set("limit", "10000")
		if p.cfg.Feed != "" {
			params.Set("feed", p.cfg.Feed)
		}
		if pageToken != "" {
			params.Set("page_token", pageToken)
		}
		fullURL := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", p.cfg.DataURL, url.PathEscape(symbol), params.Encode())

		var page barsResponse
		if err := p.client.GetJSON(ctx, fullURL, &page); err != nil {
			return nil, fmt.Errorf("fetch bars for %s: %w", symbol, err)
		}
		for _, b := range page.Bars {
			out = append(out, contracts.Bar{
				Date:   b.T.In(loc).Format(contracts.DateLayout),
				Open:   b.O,
				High:   b.H,
				Low:    b.L,
				Close:  b.C,
				Volume: b.V,
			})
		}

		if page.NextPageToken == nil || *page.NextPageToken == "" {
			break
		}
		pageToken = *page.NextPageToken
	}
	return out, nil
}

// LastCompleteSession returns the calendar's last complete session confirmed by
// the reference symbol's newest bar. The probe result is cached in redis for a day.
func (p *Provider) LastCompleteSession(ctx context.Context, now time.Time) string {
	calendarSession := p.clock.LastCompleteSession(now)
	if p.cfg.ReferenceSymbol == "" {
		return calendarSession
	}

	p.mu.Lock()
	if s, ok := p.confirmed[calendarSession]; ok {
		p.mu.Unlock()
		return s
	}
	p.mu.Unlock()

	key := redis.SessionKey(p.clock.Location().String()) + ":" + calendarSession
	var confirmed string
	var err error
	if p.probe != nil {
		err = p.probe.GetOrSet(ctx, key, &confirmed, redis.TTLDaily, func() (interface{}, error) {
			return p.probeSession(ctx, calendarSession)
		})
	} else {
		confirmed, err = p.probeSession(ctx, calendarSession)
	}
	if err != nil || confirmed == "" {
		p.logger.WithError(err).WithField("session", calendarSession).Warn("Session probe failed, using calendar")
		return calendarSession
	}

	p.mu.Lock()
	p.confirmed[calendarSession] = confirmed
	p.mu.Unlock()
	return confirmed
}

func (p *Provider) probeSession(ctx context.Context, calendarSession string) (string, error) {
	end, err := time.Parse(contracts.DateLayout, calendarSession)
	if err != nil {
		return "", err
	}
	bars, err := p.fetch(ctx, p.cfg.ReferenceSymbol,
		end.AddDate(0, 0, -15).Format(contracts.DateLayout),
		end.AddDate(0, 0, 1).Format(contracts.DateLayout))
	if err != nil {
		return "", err
	}
	last := ""
	for _, b := range bars {
		if b.Date <= calendarSession && b.Date > last {
			last = b.Date
		}
	}
	if last == "" {
		return "", apperr.Dataf("marketdata.probe", "no reference bars before %s", calendarSession)
	}
	return last, nil
}

func trimFrom(bars []contracts.Bar, start string) []contracts.Bar {
	for i, b := range bars {
		if b.Date >= start {
			return bars[i:]
		}
	}
	return nil
}
