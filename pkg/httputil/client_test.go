package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/config"
	"github.com/crajarshi/SwingTrading/pkg/logger"
	"github.com/crajarshi/SwingTrading/pkg/retry"
)

func newTestClient() *Client {
	cfg := &config.Config{Env: "development", LogLevel: "error", LogFormat: "json"}
	return New(cfg, logger.Nop()).WithRetry(&retry.Policy{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	})
}

type countingWaiter struct{ n int32 }

func (w *countingWaiter) Wait(ctx context.Context) error {
	atomic.AddInt32(&w.n, 1)
	return ctx.Err()
}

func TestNewWithTimeout(t *testing.T) {
	cfg := &config.Config{Env: "development"}
	client := NewWithTimeout(cfg, logger.Nop(), 5*time.Second)
	assert.Equal(t, 5*time.Second, client.httpClient.Timeout)
	assert.Equal(t, "none", client.BreakerState())
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ACTIVE"})
	}))
	defer server.Close()

	var out struct {
		Status string `json:"status"`
	}
	err := newTestClient().WithHeader("APCA-API-KEY-ID", "key").GetJSON(context.Background(), server.URL, &out)
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", out.Status)
}

func TestPostJSONSendsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["symbol"]})
	}))
	defer server.Close()

	var out map[string]string
	err := newTestClient().PostJSON(context.Background(), server.URL, map[string]string{"symbol": "MSFT"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "MSFT", out["echo"])
}

func TestRetryOnServerError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	waiter := &countingWaiter{}
	err := newTestClient().WithLimiter(waiter).GetJSON(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, int32(3), atomic.LoadInt32(&waiter.n), "limiter consulted on every attempt")
}

func TestNoRetryOnAuthorization(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	err := newTestClient().GetJSON(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestMalformedResponseIsDataError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	var out map[string]interface{}
	err := newTestClient().GetJSON(context.Background(), server.URL, &out)
	assert.Equal(t, apperr.KindData, apperr.KindOf(err))
}

func TestCircuitBreakerOpens(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient().DisableRetry().WithCircuitBreaker("test")
	for i := 0; i < 5; i++ {
		_ = client.GetJSON(context.Background(), server.URL, nil)
	}
	assert.Equal(t, "open", client.BreakerState())

	err := client.GetJSON(context.Background(), server.URL, nil)
	assert.Equal(t, apperr.KindNetwork, apperr.KindOf(err))
	assert.Equal(t, int32(5), atomic.LoadInt32(&attempts), "open breaker short-circuits")
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		statusCode int
		want       bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{404, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
		{504, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.statusCode), "status %d", tt.statusCode)
	}
}
