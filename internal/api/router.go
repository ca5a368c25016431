package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/crajarshi/SwingTrading/internal/api/handlers"
	"github.com/crajarshi/SwingTrading/internal/metrics"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// Handlers groups the endpoint handlers mounted by the router
type Handlers struct {
	Runs    *handlers.RunHandler
	Trading *handlers.TradingHandler
	Jobs    *handlers.JobHandler
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: routes are declared in this function only
func NewRouter(h Handlers, m *metrics.Registry, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")
	r.Handle("/metrics", m.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Runs
	api.HandleFunc("/runs", h.Runs.ListRuns).Methods("GET")
	api.HandleFunc("/runs/active", h.Runs.GetActive).Methods("GET")
	api.HandleFunc("/runs/active", h.Runs.CancelActive).Methods("DELETE")
	api.HandleFunc("/runs/{runID}", h.Runs.GetManifest).Methods("GET")
	api.HandleFunc("/intents/{runID}", h.Runs.GetIntents).Methods("GET")
	api.HandleFunc("/placements/{runID}", h.Runs.GetPlacements).Methods("GET")
	api.HandleFunc("/orderlog/{runID}", h.Runs.GetOrderLog).Methods("GET")
	api.HandleFunc("/scan", h.Runs.StartScan).Methods("POST")

	// Broker
	api.HandleFunc("/positions", h.Trading.GetPositions).Methods("GET")
	api.HandleFunc("/account", h.Trading.GetAccount).Methods("GET")

	// Scheduler
	if h.Jobs != nil {
		api.HandleFunc("/jobs", h.Jobs.GetStats).Methods("GET")
		api.HandleFunc("/jobs/{name}/run", h.Jobs.RunJob).Methods("POST")
	}

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "swing-api",
	})
}

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
