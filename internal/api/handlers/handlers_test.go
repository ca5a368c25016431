package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crajarshi/SwingTrading/internal/broker"
	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/pipeline"
	"github.com/crajarshi/SwingTrading/internal/scan"
	"github.com/crajarshi/SwingTrading/internal/state"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

type fakePipeline struct {
	registry *scan.Registry
	store    state.Store
	broker   *broker.MockBroker
	session  string
	scans    chan string
}

func (f *fakePipeline) Registry() *scan.Registry           { return f.registry }
func (f *fakePipeline) Store() state.Store                 { return f.store }
func (f *fakePipeline) Broker() broker.Broker              { return f.broker }
func (f *fakePipeline) Session(ctx context.Context) string { return f.session }

func (f *fakePipeline) Scan(ctx context.Context, asOf string) (*pipeline.ScanResult, error) {
	f.scans <- asOf
	return &pipeline.ScanResult{RunID: contracts.RunIDFor(asOf), AsOf: asOf}, nil
}

func newFake(t *testing.T) *fakePipeline {
	t.Helper()
	store, err := state.NewFileStore(t.TempDir(), logger.Nop())
	require.NoError(t, err)
	return &fakePipeline{
		registry: scan.NewRegistry(nil, nil, logger.Nop()),
		store:    store,
		broker:   broker.NewMockBroker(100_000),
		session:  "2025-03-14",
		scans:    make(chan string, 1),
	}
}

func routes(f *fakePipeline) *mux.Router {
	runs := NewRunHandler(f, logger.Nop())
	trading := NewTradingHandler(f, logger.Nop())
	r := mux.NewRouter()
	r.HandleFunc("/runs", runs.ListRuns).Methods("GET")
	r.HandleFunc("/runs/active", runs.GetActive).Methods("GET")
	r.HandleFunc("/runs/active", runs.CancelActive).Methods("DELETE")
	r.HandleFunc("/runs/{runID}", runs.GetManifest).Methods("GET")
	r.HandleFunc("/intents/{runID}", runs.GetIntents).Methods("GET")
	r.HandleFunc("/placements/{runID}", runs.GetPlacements).Methods("GET")
	r.HandleFunc("/orderlog/{runID}", runs.GetOrderLog).Methods("GET")
	r.HandleFunc("/scan", runs.StartScan).Methods("POST")
	r.HandleFunc("/positions", trading.GetPositions).Methods("GET")
	r.HandleFunc("/account", trading.GetAccount).Methods("GET")
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestGetIntents(t *testing.T) {
	f := newFake(t)
	runID := contracts.RunIDFor("2025-03-14")
	require.NoError(t, f.store.SaveIntents(context.Background(), runID, []contracts.OrderIntent{
		{RunID: runID, Date: "2025-03-14", Symbol: "AAPL", Side: contracts.SideBuy, Qty: 10, ClientOrderID: "c1"},
	}))

	rec, out := do(t, routes(f), "GET", "/intents/"+runID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, runID, out["run_id"])
	assert.EqualValues(t, 1, out["count"])

	rec, _ = do(t, routes(f), "GET", "/intents/2020-01-01_scan", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPlacementsAndOrderLog(t *testing.T) {
	f := newFake(t)
	runID := contracts.RunIDFor("2025-03-14")
	require.NoError(t, f.store.SavePlacements(context.Background(), runID, []contracts.PlacementRecord{
		{RunID: runID, Symbol: "AAPL", ClientOrderID: "c1", BrokerOrderID: "o1", Strategy: contracts.StrategyOPGThenOCO, Qty: 10, Success: true, PendingOCO: true},
	}))

	rec, out := do(t, routes(f), "GET", "/placements/"+runID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["count"])

	rec, out = do(t, routes(f), "GET", "/orderlog/"+runID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, out["entries"])
}

func TestActiveRun(t *testing.T) {
	f := newFake(t)
	h := routes(f)

	rec, out := do(t, h, "GET", "/runs/active", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, out["active"])

	run, err := f.registry.Begin(context.Background(), "2025-03-14_scan")
	require.NoError(t, err)

	_, out = do(t, h, "GET", "/runs/active", "")
	active := out["active"].(map[string]interface{})
	assert.Equal(t, "2025-03-14_scan", active["run_id"])

	rec, _ = do(t, h, "DELETE", "/runs/active", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, run.Cancelled())
	f.registry.Finish(run, run.Context().Err())

	rec, _ = do(t, h, "DELETE", "/runs/active", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, out = do(t, h, "GET", "/runs/active", "")
	assert.Nil(t, out["active"])
	assert.NotNil(t, out["last"])
}

func TestStartScan(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantAsOf string
	}{
		{"defaults to last session", "", "2025-03-14"},
		{"explicit date", `{"as_of":"2025-03-13"}`, "2025-03-13"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFake(t)
			rec, out := do(t, routes(f), "POST", "/scan", tt.body)
			assert.Equal(t, http.StatusAccepted, rec.Code)
			assert.Equal(t, contracts.RunIDFor(tt.wantAsOf), out["run_id"])

			select {
			case got := <-f.scans:
				assert.Equal(t, tt.wantAsOf, got)
			case <-time.After(2 * time.Second):
				t.Fatal("scan not started")
			}
		})
	}
}

func TestStartScanReportsSuperseded(t *testing.T) {
	f := newFake(t)
	_, err := f.registry.Begin(context.Background(), "2025-03-13_scan")
	require.NoError(t, err)

	rec, out := do(t, routes(f), "POST", "/scan", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "2025-03-13_scan", out["supersedes"])
	<-f.scans
}

func TestStartScanBadBody(t *testing.T) {
	f := newFake(t)
	rec, _ := do(t, routes(f), "POST", "/scan", `{nope`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPositions(t *testing.T) {
	f := newFake(t)
	f.broker.SetPosition(contracts.Position{Symbol: "AAPL", Qty: 10, MarketValue: 2000, UnrealizedPL: 50})
	f.broker.SetPosition(contracts.Position{Symbol: "MSFT", Qty: 5, MarketValue: 2050, UnrealizedPL: -10})

	rec, out := do(t, routes(f), "GET", "/positions", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, out["count"])
	assert.InDelta(t, 4050.0, out["market_value"], 1e-9)
	assert.InDelta(t, 40.0, out["unrealized_pl"], 1e-9)

	rec, out = do(t, routes(f), "GET", "/account", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 100_000.0, out["equity"], 1e-9)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", state.ErrNotFound, http.StatusNotFound},
		{"configuration", apperr.Configf("op", "bad"), http.StatusBadRequest},
		{"data", apperr.Dataf("op", "bad"), http.StatusNotFound},
		{"network", apperr.FromStatus("op", 503, ""), http.StatusBadGateway},
		{"authorization", apperr.FromStatus("op", 401, ""), http.StatusBadGateway},
		{"general", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestJobHandlerWithoutScheduler(t *testing.T) {
	h := NewJobHandler(nil, logger.Nop())

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest("GET", "/jobs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enabled":false`)

	rec = httptest.NewRecorder()
	h.RunJob(rec, httptest.NewRequest("POST", "/jobs/scan/run", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
