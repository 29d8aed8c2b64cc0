package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"sleuth/internal/cron"
)

// JobScheduler is the housekeeping scheduler as seen by the API.
type JobScheduler interface {
	Jobs() []cron.JobInfo
	RunNow(ctx context.Context, name string) error
	History(name string) []cron.Run
}

// JobHandler serves /api/jobs.
type JobHandler struct {
	scheduler JobScheduler
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(scheduler JobScheduler) *JobHandler {
	return &JobHandler{scheduler: scheduler}
}

// RegisterRoutes registers job routes on the router.
func (h *JobHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/jobs", h.List).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{name}/run", h.Run).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/{name}/history", h.History).Methods(http.MethodGet)
}

// List returns every registered job.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	SendJSON(w, http.StatusOK, map[string]any{"jobs": h.scheduler.Jobs()})
}

// Run executes a job now and waits for it. A job that runs but fails still
// answers 200 with status "failed".
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	err := h.scheduler.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, cron.ErrJobNotFound):
		SendError(w, http.StatusNotFound, ErrCodeNotFound, "job not found: "+name)
	case errors.Is(err, cron.ErrJobRunning):
		SendError(w, http.StatusConflict, ErrCodeConflict, "job is already running: "+name)
	case err != nil:
		SendJSON(w, http.StatusOK, map[string]any{
			"job":    name,
			"status": cron.RunStatusFailed,
			"error":  err.Error(),
		})
	default:
		SendJSON(w, http.StatusOK, map[string]any{"job": name, "status": cron.RunStatusSuccess})
	}
}

// History returns the recorded runs of a job, newest first.
func (h *JobHandler) History(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !h.known(name) {
		SendError(w, http.StatusNotFound, ErrCodeNotFound, "job not found: "+name)
		return
	}
	runs := h.scheduler.History(name)
	if runs == nil {
		runs = []cron.Run{}
	}
	SendJSON(w, http.StatusOK, map[string]any{"job": name, "runs": runs})
}

func (h *JobHandler) known(name string) bool {
	for _, j := range h.scheduler.Jobs() {
		if j.Name == name {
			return true
		}
	}
	return false
}
