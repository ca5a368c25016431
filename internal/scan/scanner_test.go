package scan

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/scoring"
	"github.com/crajarshi/SwingTrading/internal/strategyconfig"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// fakeSource serves fixed bars or errors per symbol
type fakeSource struct {
	mu    sync.Mutex
	bars  map[string][]contracts.Bar
	errs  map[string]error
	slow  map[string]bool
	calls int32
}

func (f *fakeSource) Bars(ctx context.Context, symbol, session string) ([]contracts.Bar, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	bars, err, slow := f.bars[symbol], f.errs[symbol], f.slow[symbol]
	f.mu.Unlock()

	if slow {
		<-ctx.Done()
		return nil, apperr.FromTransport("GET bars", ctx.Err())
	}
	if err != nil {
		return nil, err
	}
	return bars, nil
}

// sawtooth returns n daily bars; offset shifts the phase so symbols score differently
func sawtooth(n, offset int) []contracts.Bar {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]contracts.Bar, n)
	for i := 0; i < n; i++ {
		price := 100 + float64((i+offset)%20-10)/2.0
		bars[i] = contracts.Bar{
			Date:   start.AddDate(0, 0, i).Format(contracts.DateLayout),
			Open:   price * 0.99,
			High:   price * 1.02,
			Low:    price * 0.98,
			Close:  price,
			Volume: 1_000_000 + float64(i)*1000,
		}
	}
	return bars
}

func permissiveEngine() *scoring.Engine {
	return scoring.NewEngine(strategyconfig.Scoring{
		MinBars:      250,
		ScoreBand:    strategyconfig.Band{Min: 0, Max: 100},
		WeightScheme: strategyconfig.WeightsDefault,
		Gates: strategyconfig.Gates{
			ATRRatio: strategyconfig.Band{Min: 0, Max: 1},
			Pullback: strategyconfig.Band{Min: 0, Max: 1},
		},
	}, logger.Nop())
}

func beginRun(t *testing.T, reg *Registry, id string) *Run {
	t.Helper()
	run, err := reg.Begin(context.Background(), id)
	require.NoError(t, err)
	return run
}

func TestScanClassifiesOutcomes(t *testing.T) {
	src := &fakeSource{
		bars: map[string][]contracts.Bar{
			"AAA":   sawtooth(400, 0),
			"BBB":   sawtooth(400, 7),
			"SHORT": sawtooth(120, 0),
		},
		errs: map[string]error{
			"EMPTY": apperr.Dataf("bars", "no bars for EMPTY"),
			"BAD":   apperr.FromStatus("GET bars", 500, "boom"),
		},
	}
	reg := NewRegistry(nil, nil, logger.Nop())
	run := beginRun(t, reg, "2025-03-03_scan")
	s := NewScanner(src, permissiveEngine(), Config{Workers: 3, TaskTimeout: time.Second}, nil, logger.Nop())

	res := s.Scan(context.Background(), run, []string{"SHORT", "BBB", "EMPTY", "AAA", "BAD"}, "2025-03-03")
	reg.Finish(run, nil)

	assert.Equal(t, 5, res.Scanned)
	assert.Equal(t, "2025-03-03_scan", res.RunID)
	require.Len(t, res.Candidates, 2)
	assert.GreaterOrEqual(t, res.Candidates[0].Score, res.Candidates[1].Score)

	require.Len(t, res.Results, 3)
	assert.Equal(t, "AAA", res.Results[0].Symbol)
	assert.Equal(t, "BBB", res.Results[1].Symbol)
	assert.Equal(t, "SHORT", res.Results[2].Symbol)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, "BAD", res.Errors[0].Symbol)
	assert.Equal(t, contracts.ReasonFetchError, res.Errors[0].Reason)
	assert.Equal(t, apperr.KindNetwork, res.Errors[0].Kind)
	assert.Equal(t, "EMPTY", res.Errors[1].Symbol)
	assert.Equal(t, contracts.ReasonNoData, res.Errors[1].Reason)

	assert.Equal(t, 1, res.Rejections[contracts.ReasonInsufficientHistory])
	assert.Equal(t, 1, res.Rejections[contracts.ReasonNoData])
	assert.Equal(t, 1, res.Rejections[contracts.ReasonFetchError])
}

func TestScanDeterministicAcrossWorkerCounts(t *testing.T) {
	src := &fakeSource{bars: map[string][]contracts.Bar{}}
	var symbols []string
	for i := 0; i < 12; i++ {
		sym := fmt.Sprintf("S%02d", i)
		src.bars[sym] = sawtooth(300, i)
		symbols = append(symbols, sym)
	}

	var baseline []contracts.Candidate
	for _, workers := range []int{1, 4, 12} {
		reg := NewRegistry(nil, nil, logger.Nop())
		run := beginRun(t, reg, "det")
		res := NewScanner(src, permissiveEngine(), Config{Workers: workers}, nil, logger.Nop()).
			Scan(context.Background(), run, symbols, "2023-10-29")
		reg.Finish(run, nil)

		if baseline == nil {
			baseline = res.Candidates
			continue
		}
		assert.Equal(t, baseline, res.Candidates, "workers=%d", workers)
	}
}

func TestScanTaskTimeout(t *testing.T) {
	src := &fakeSource{
		bars: map[string][]contracts.Bar{"FAST": sawtooth(300, 0)},
		slow: map[string]bool{"SLOW": true},
	}
	reg := NewRegistry(nil, nil, logger.Nop())
	run := beginRun(t, reg, "timeout")
	s := NewScanner(src, permissiveEngine(), Config{Workers: 2, TaskTimeout: 50 * time.Millisecond}, nil, logger.Nop())

	res := s.Scan(context.Background(), run, []string{"FAST", "SLOW"}, "2023-10-27")
	reg.Finish(run, nil)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "SLOW", res.Errors[0].Symbol)
	assert.Equal(t, contracts.ReasonTimeout, res.Errors[0].Reason)
	assert.Equal(t, apperr.KindNetwork, res.Errors[0].Kind)
	assert.Len(t, res.Candidates, 1)
}

func TestScanCancelledRunSkipsRemainingSymbols(t *testing.T) {
	src := &fakeSource{bars: map[string][]contracts.Bar{}}
	symbols := make([]string, 20)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("C%02d", i)
		src.bars[symbols[i]] = sawtooth(300, i)
	}
	reg := NewRegistry(nil, nil, logger.Nop())
	run := beginRun(t, reg, "cancel")
	run.Cancel()

	res := NewScanner(src, permissiveEngine(), Config{Workers: 4}, nil, logger.Nop()).
		Scan(context.Background(), run, symbols, "2023-10-27")

	assert.Equal(t, 20, res.Scanned)
	assert.Empty(t, res.Candidates)
	assert.Equal(t, 20, res.Rejections[contracts.ReasonCancelled])
	assert.Equal(t, int32(0), atomic.LoadInt32(&src.calls))
	assert.Equal(t, StateCancelled, run.Info().State)
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	expired, cancel := context.WithTimeout(ctx, -time.Second)
	defer cancel()

	tests := []struct {
		name   string
		err    error
		ctx    context.Context
		reason contracts.Reason
		kind   apperr.Kind
	}{
		{"data", apperr.Dataf("bars", "empty"), ctx, contracts.ReasonNoData, apperr.KindData},
		{"auth", apperr.FromStatus("bars", 403, ""), ctx, contracts.ReasonFetchError, apperr.KindAuthorization},
		{"deadline", context.DeadlineExceeded, expired, contracts.ReasonTimeout, apperr.KindNetwork},
		{"wrapped deadline", apperr.FromTransport("bars", context.DeadlineExceeded), ctx, contracts.ReasonTimeout, apperr.KindNetwork},
		{"cancelled", context.Canceled, ctx, contracts.ReasonCancelled, apperr.KindGeneral},
		{"plain", errors.New("boom"), ctx, contracts.ReasonFetchError, apperr.KindGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := classify("SYM", tt.err, tt.ctx)
			assert.Equal(t, tt.reason, e.Reason)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, "SYM", e.Symbol)
		})
	}
}

func TestWriteCSV(t *testing.T) {
	src := &fakeSource{
		bars: map[string][]contracts.Bar{"AAA": sawtooth(300, 0)},
		errs: map[string]error{"ZZZ": apperr.Dataf("bars", "empty")},
	}
	reg := NewRegistry(nil, nil, logger.Nop())
	run := beginRun(t, reg, "csv")
	res := NewScanner(src, permissiveEngine(), Config{Workers: 1}, nil, logger.Nop()).
		Scan(context.Background(), run, []string{"AAA", "ZZZ"}, "2023-10-27")
	reg.Finish(run, nil)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, res))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "AAA", rows[1][0])
	assert.NotEmpty(t, rows[1][2])
	assert.Equal(t, []string{"ZZZ", "2023-10-27", "", "no_data"}, rows[2][:4])

	path := filepath.Join(t.TempDir(), "out", "scan_results.csv")
	require.NoError(t, SaveCSV(path, res))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "symbol,date,score,reason")
}
