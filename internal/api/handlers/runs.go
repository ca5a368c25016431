package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crajarshi/SwingTrading/internal/broker"
	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/pipeline"
	"github.com/crajarshi/SwingTrading/internal/scan"
	"github.com/crajarshi/SwingTrading/internal/state"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// Pipeline is the orchestrator surface the handlers read and drive
type Pipeline interface {
	Registry() *scan.Registry
	Store() state.Store
	Broker() broker.Broker
	Session(ctx context.Context) string
	Scan(ctx context.Context, asOf string) (*pipeline.ScanResult, error)
}

// RunHandler handles run, intent and placement endpoints
// ⭐ SSOT: run-state API handlers live in this struct only
type RunHandler struct {
	pipeline Pipeline
	logger   *logger.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(p Pipeline, log *logger.Logger) *RunHandler {
	return &RunHandler{
		pipeline: p,
		logger:   log.WithField("module", "api"),
	}
}

// ActiveResponse reports the in-flight and most recent runs
type ActiveResponse struct {
	Active *scan.RunInfo `json:"active"`
	Last   *scan.RunInfo `json:"last"`
}

// GetActive returns the active run, if any
// GET /api/runs/active
func (h *RunHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	var resp ActiveResponse
	if info, ok := h.pipeline.Registry().Active(); ok {
		resp.Active = &info
	}
	if info, ok := h.pipeline.Registry().Last(); ok {
		resp.Last = &info
	}
	respondJSON(w, http.StatusOK, resp)
}

// CancelActive cancels the active run
// DELETE /api/runs/active
func (h *RunHandler) CancelActive(w http.ResponseWriter, r *http.Request) {
	if !h.pipeline.Registry().CancelActive() {
		respondError(w, http.StatusNotFound, "no active run")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// ListRuns returns every persisted run id
// GET /api/runs
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.pipeline.Store().ListRuns(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// GetManifest returns a run's manifest
// GET /api/runs/{runID}
func (h *RunHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	m, err := h.pipeline.Store().LoadManifest(r.Context(), mux.Vars(r)["runID"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// GetIntents returns a run's order intents
// GET /api/intents/{runID}
func (h *RunHandler) GetIntents(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runID"]
	intents, err := h.pipeline.Store().LoadIntents(r.Context(), runID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  runID,
		"count":   len(intents),
		"intents": intents,
	})
}

// GetPlacements returns a run's placement records
// GET /api/placements/{runID}
func (h *RunHandler) GetPlacements(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runID"]
	recs, err := h.pipeline.Store().LoadPlacements(r.Context(), runID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":     runID,
		"count":      len(recs),
		"placements": recs,
	})
}

// GetOrderLog returns a run's order-log entries
// GET /api/orderlog/{runID}
func (h *RunHandler) GetOrderLog(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runID"]
	entries, err := h.pipeline.Store().ReadOrderLog(r.Context(), runID)
	if err != nil {
		respondErr(w, err)
		return
	}
	if entries == nil {
		entries = []contracts.OrderLogEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  runID,
		"entries": entries,
	})
}

// ScanRequest is the optional body of POST /api/scan
type ScanRequest struct {
	AsOf string `json:"as_of"`
}

// StartScan starts a scan in the background, superseding any active run
// POST /api/scan
func (h *RunHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.AsOf == "" {
		req.AsOf = h.pipeline.Session(r.Context())
	}

	superseding, _ := h.pipeline.Registry().Active()
	runID := contracts.RunIDFor(req.AsOf)

	go func(asOf string) {
		if _, err := h.pipeline.Scan(context.Background(), asOf); err != nil {
			h.logger.WithError(err).WithFields(map[string]interface{}{
				"run_id": runID,
				"kind":   apperr.KindOf(err),
			}).Error("Background scan failed")
		}
	}(req.AsOf)

	resp := map[string]interface{}{
		"run_id": runID,
		"as_of":  req.AsOf,
		"status": "started",
	}
	if superseding.ID != "" {
		resp["supersedes"] = superseding.ID
	}
	respondJSON(w, http.StatusAccepted, resp)
}
