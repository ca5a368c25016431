// Package report produces the end-of-day account report and equity snapshot.
package report

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"time"

	"github.com/crajarshi/SwingTrading/internal/broker"
	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/state"
	"github.com/crajarshi/SwingTrading/internal/strategyconfig"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// Starting equity sources
const (
	SourceSnapshot = "snapshot"
	SourceDerived  = "derived"
)

// Output file names under <output_dir>/<date>/
const (
	FileMarkdown = "eod_report.md"
	FileTrades   = "eod_trades.csv"
	FileSummary  = "eod_summary.json"
)

// Fill is one FILL activity with its realized P/L when it closed shares
type Fill struct {
	contracts.Activity
	EntryPrice float64 `json:"entry_price,omitempty"`
	RealizedPL float64 `json:"realized_pl"`
}

// Day is everything collected for one session
type Day struct {
	Date           string                    `json:"date"`
	Account        contracts.Account         `json:"account"`
	Positions      []contracts.Position      `json:"positions"`
	Fills          []Fill                    `json:"fills"`
	StartingEquity float64                   `json:"starting_equity"`
	StartingSource string                    `json:"starting_source"`
	Snapshot       *contracts.EquitySnapshot `json:"previous_snapshot,omitempty"`
}

// Metrics are the end-of-day performance figures
type Metrics struct {
	Date             string  `json:"date"`
	StartingEquity   float64 `json:"starting_equity"`
	StartingSource   string  `json:"starting_source"`
	EndingEquity     float64 `json:"ending_equity"`
	Cash             float64 `json:"cash"`
	DailyPL          float64 `json:"daily_pl"`
	DailyPLPct       float64 `json:"daily_pl_pct"`
	RealizedPL       float64 `json:"realized_pl"`
	UnrealizedPL     float64 `json:"unrealized_pl"`
	UnrealizedChange float64 `json:"unrealized_change"`
	Entries          int     `json:"new_entries"`
	Exits            int     `json:"exits"`
	ExposurePct      float64 `json:"exposure_pct"`
	PositionCount    int     `json:"position_count"`
	Turnover         float64 `json:"turnover"`
}

// Contributor is one symbol's P/L contribution
type Contributor struct {
	Symbol string  `json:"symbol"`
	PL     float64 `json:"pl"`
	Type   string  `json:"type"` // realized | unrealized
}

// Report is a generated end-of-day report
type Report struct {
	Day          Day           `json:"day"`
	Metrics      Metrics       `json:"metrics"`
	Contributors []Contributor `json:"top_contributors"`
	Paths        Paths         `json:"paths"`
}

// Paths are the written files
type Paths struct {
	Dir      string `json:"dir"`
	Markdown string `json:"markdown"`
	Trades   string `json:"trades"`
	Summary  string `json:"summary"`
}

// Generator builds and writes end-of-day reports
type Generator struct {
	broker broker.Broker
	store  state.Store
	cfg    strategyconfig.Reporting
	loc    *time.Location
	logger *logger.Logger
	now    func() time.Time
}

// NewGenerator creates a report generator
func NewGenerator(b broker.Broker, store state.Store, cfg strategyconfig.Reporting, loc *time.Location, log *logger.Logger) *Generator {
	return &Generator{
		broker: b,
		store:  store,
		cfg:    cfg,
		loc:    loc,
		logger: log.WithField("module", "report"),
		now:    time.Now,
	}
}

// Generate collects the session, writes the report files and persists today's equity snapshot
func (g *Generator) Generate(ctx context.Context, date string) (*Report, error) {
	day, err := g.Collect(ctx, date)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Day:          *day,
		Metrics:      ComputeMetrics(day),
		Contributors: TopContributors(day, g.cfg.TopContributors),
	}

	dir := filepath.Join(g.cfg.OutputDir, date)
	rep.Paths = Paths{
		Dir:      dir,
		Markdown: filepath.Join(dir, FileMarkdown),
		Trades:   filepath.Join(dir, FileTrades),
		Summary:  filepath.Join(dir, FileSummary),
	}
	if err := writeFiles(rep, g.loc, g.now()); err != nil {
		return nil, err
	}

	snap := contracts.EquitySnapshot{
		Date:         date,
		EndingEquity: day.Account.Equity,
		Cash:         day.Account.Cash,
		BuyingPower:  day.Account.BuyingPower,
		Timestamp:    g.now().UTC(),
	}
	if err := g.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("save equity snapshot: %w", err)
	}

	g.logger.WithFields(map[string]interface{}{
		"date":          date,
		"ending_equity": rep.Metrics.EndingEquity,
		"daily_pl":      rep.Metrics.DailyPL,
		"dir":           dir,
	}).Info("End-of-day report written")
	return rep, nil
}

// Collect gathers the account, positions, fills and starting equity for date
func (g *Generator) Collect(ctx context.Context, date string) (*Day, error) {
	account, err := g.broker.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	positions, err := g.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	activities, err := g.broker.GetActivities(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("get activities: %w", err)
	}

	var orders []contracts.Order
	if hasSells(activities) {
		if orders, err = g.broker.ListOrders(ctx, broker.StatusClosed); err != nil {
			return nil, fmt.Errorf("list orders: %w", err)
		}
	}

	day := &Day{
		Date:      date,
		Account:   *account,
		Positions: positions,
		Fills:     RealizeFills(activities, orders, positions),
	}

	snap, err := g.store.LatestSnapshot(ctx, date, g.cfg.SnapshotLookbackDays)
	switch {
	case err == nil:
		day.Snapshot = snap
		day.StartingEquity = snap.EndingEquity
		day.StartingSource = SourceSnapshot
	case errors.Is(err, state.ErrNotFound):
		g.logger.WithField("date", date).Warn("No previous equity snapshot; deriving starting equity")
		day.StartingEquity = account.Equity - realized(day.Fills) - unrealized(positions)
		day.StartingSource = SourceDerived
	default:
		return nil, fmt.Errorf("load equity snapshot: %w", err)
	}
	return day, nil
}

func hasSells(activities []contracts.Activity) bool {
	for _, a := range activities {
		if a.Side == contracts.SideSell {
			return true
		}
	}
	return false
}

// RealizeFills keeps FILL activities, oldest first, pricing each sell against its entry
// The entry is the latest filled buy order before the sell, else the position's average cost.
func RealizeFills(activities []contracts.Activity, orders []contracts.Order, positions []contracts.Position) []Fill {
	avgCost := make(map[string]float64, len(positions))
	for _, p := range positions {
		avgCost[p.Symbol] = p.AvgEntryPrice
	}

	fills := make([]Fill, 0, len(activities))
	for _, a := range activities {
		if a.ActivityType != "" && a.ActivityType != "FILL" {
			continue
		}
		f := Fill{Activity: a}
		if a.Side == contracts.SideSell {
			entry, ok := entryBefore(orders, a.Symbol, a.TransactionTime)
			if !ok {
				entry, ok = avgCost[a.Symbol]
			}
			if ok && entry > 0 {
				f.EntryPrice = entry
				f.RealizedPL = round2((a.Price - entry) * float64(a.Qty))
			}
		}
		fills = append(fills, f)
	}
	sort.SliceStable(fills, func(i, j int) bool {
		return fills[i].TransactionTime.Before(fills[j].TransactionTime)
	})
	return fills
}

func entryBefore(orders []contracts.Order, symbol string, at time.Time) (float64, bool) {
	var best *contracts.Order
	for i := range orders {
		o := &orders[i]
		if o.Symbol != symbol || o.Side != contracts.SideBuy || o.FilledAt == nil || o.FilledQty == 0 {
			continue
		}
		if o.FilledAt.After(at) {
			continue
		}
		if best == nil || o.FilledAt.After(*best.FilledAt) {
			best = o
		}
	}
	if best == nil {
		return 0, false
	}
	return best.FilledAvgPrice, true
}

// ComputeMetrics derives the day's performance figures
func ComputeMetrics(day *Day) Metrics {
	m := Metrics{
		Date:           day.Date,
		StartingEquity: day.StartingEquity,
		StartingSource: day.StartingSource,
		EndingEquity:   day.Account.Equity,
		Cash:           day.Account.Cash,
		RealizedPL:     realized(day.Fills),
		UnrealizedPL:   unrealized(day.Positions),
		PositionCount:  len(day.Positions),
	}
	m.DailyPL = round2(m.EndingEquity - m.StartingEquity)
	if m.StartingEquity > 0 {
		m.DailyPLPct = m.DailyPL / m.StartingEquity * 100
	}
	m.UnrealizedChange = round2(m.DailyPL - m.RealizedPL)

	volume := 0.0
	for _, f := range day.Fills {
		switch f.Side {
		case contracts.SideBuy:
			m.Entries++
		case contracts.SideSell:
			m.Exits++
		}
		volume += f.Notional()
	}

	exposure := 0.0
	for _, p := range day.Positions {
		exposure += math.Abs(p.MarketValue)
	}
	if m.EndingEquity > 0 {
		m.ExposurePct = exposure / m.EndingEquity * 100
		m.Turnover = volume / m.EndingEquity
	}
	return m
}

// TopContributors returns the n largest P/L contributions by magnitude
// Realized contributions are summed per symbol; open positions contribute their unrealized P/L.
func TopContributors(day *Day, n int) []Contributor {
	realizedBy := make(map[string]float64)
	for _, f := range day.Fills {
		if f.Side == contracts.SideSell && f.RealizedPL != 0 {
			realizedBy[f.Symbol] += f.RealizedPL
		}
	}

	out := make([]Contributor, 0, len(realizedBy)+len(day.Positions))
	for sym, pl := range realizedBy {
		out = append(out, Contributor{Symbol: sym, PL: round2(pl), Type: "realized"})
	}
	for _, p := range day.Positions {
		if p.UnrealizedPL != 0 {
			out = append(out, Contributor{Symbol: p.Symbol, PL: p.UnrealizedPL, Type: "unrealized"})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].PL), math.Abs(out[j].PL)
		if ai != aj {
			return ai > aj
		}
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Type < out[j].Type
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func realized(fills []Fill) float64 {
	total := 0.0
	for _, f := range fills {
		total += f.RealizedPL
	}
	return round2(total)
}

func unrealized(positions []contracts.Position) float64 {
	total := 0.0
	for _, p := range positions {
		total += p.UnrealizedPL
	}
	return round2(total)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
