package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	}
	return 0
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.SymbolOutcome("scored")
		r.RunStarted()
		r.RunFinished("completed", time.Second)
		r.RunSuperseded()
		r.IntentSummary(1, map[string]int{"duplicate": 1})
		r.Placement("day_bracket", "placed")
		r.Reconcile("cancelled", 2)
		r.JobRun("scan", "ok")
	})
	assert.NotNil(t, r.Handler())
}

func TestCounters(t *testing.T) {
	r := New()

	r.SymbolOutcome("scored")
	r.SymbolOutcome("scored")
	r.SymbolOutcome("gate_atr_ratio")
	assert.Equal(t, 2.0, value(t, r.SymbolOutcomes.WithLabelValues("scored")))

	r.RunStarted()
	assert.Equal(t, 1.0, value(t, r.ActiveRuns))
	r.RunFinished("completed", 3*time.Second)
	assert.Equal(t, 0.0, value(t, r.ActiveRuns))
	assert.Equal(t, 1.0, value(t, r.ScansTotal.WithLabelValues("completed")))

	r.IntentSummary(3, map[string]int{"below_min_score": 4})
	assert.Equal(t, 3.0, value(t, r.IntentsBuilt))
	assert.Equal(t, 4.0, value(t, r.IntentsFiltered.WithLabelValues("below_min_score")))

	r.Reconcile("oco_placed", 0)
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	for _, f := range families {
		assert.NotEqual(t, "swing_reconcile_events_total", f.GetName(), "zero counts are not recorded")
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	r := New()
	r.Placement("opg_then_oco", "placed")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `swing_placements_total{result="placed",strategy="opg_then_oco"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
