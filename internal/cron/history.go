package cron

import (
	"sync"
	"time"
)

// Run statuses.
const (
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// Run is one recorded execution of a job.
type Run struct {
	JobName    string        `json:"job_name"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	RetryCount int           `json:"retry_count"`
}

// History keeps the latest runs of each job in memory.
type History struct {
	mu    sync.RWMutex
	limit int
	runs  map[string][]Run
}

// NewHistory keeps up to limit runs per job.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 20
	}
	return &History{limit: limit, runs: make(map[string][]Run)}
}

// Add records a run, dropping the oldest beyond the limit.
func (h *History) Add(r Run) {
	h.mu.Lock()
	defer h.mu.Unlock()
	runs := append(h.runs[r.JobName], r)
	if len(runs) > h.limit {
		runs = append([]Run(nil), runs[len(runs)-h.limit:]...)
	}
	h.runs[r.JobName] = runs
}

// List returns the runs of a job, newest first.
func (h *History) List(jobName string) []Run {
	h.mu.RLock()
	defer h.mu.RUnlock()
	runs := h.runs[jobName]
	out := make([]Run, len(runs))
	for i, r := range runs {
		out[len(runs)-1-i] = r
	}
	return out
}

// Last returns the newest run of a job.
func (h *History) Last(jobName string) (Run, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	runs := h.runs[jobName]
	if len(runs) == 0 {
		return Run{}, false
	}
	return runs[len(runs)-1], true
}
