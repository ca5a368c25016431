package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crajarshi/SwingTrading/internal/scheduler"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// JobHandler exposes scheduler state
type JobHandler struct {
	scheduler *scheduler.Scheduler
	logger    *logger.Logger
}

// NewJobHandler creates a job handler; sched may be nil when scheduling is disabled
func NewJobHandler(sched *scheduler.Scheduler, log *logger.Logger) *JobHandler {
	return &JobHandler{
		scheduler: sched,
		logger:    log.WithField("module", "api"),
	}
}

// GetStats returns per-job statistics
// GET /api/jobs
func (h *JobHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"enabled": false, "jobs": map[string]interface{}{}})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"enabled": true, "jobs": h.scheduler.GetJobStats()})
}

// RunJob triggers a job immediately
// POST /api/jobs/{name}/run
func (h *JobHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "scheduler disabled")
		return
	}
	name := mux.Vars(r)["name"]
	if err := h.scheduler.RunJob(name); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.WithField("job", name).Info("Job triggered via API")
	respondJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "started"})
}
