package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

var (
	startTime time.Time
	startOnce sync.Once
)

// checkTimeout bounds each dependency probe run by HealthHandler.
const checkTimeout = 2 * time.Second

// InitStartTime initializes the server start time.
// Should be called when the server starts.
func InitStartTime() {
	startOnce.Do(func() {
		startTime = time.Now()
	})
}

func uptime() int64 {
	if startTime.IsZero() {
		return 0
	}
	return int64(time.Since(startTime).Seconds())
}

// Check probes one dependency; nil means up.
type Check func(ctx context.Context) error

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Uptime   int64             `json:"uptime"`
	Services map[string]string `json:"services,omitempty"`
}

// HealthHandler returns a health check handler. Each named check reports
// "up" or "down: <reason>"; any down check marks the whole status degraded.
// The endpoint itself always answers 200 while the process serves.
func HealthHandler(version string, checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "healthy",
			Version: version,
			Uptime:  uptime(),
		}
		if len(names) > 0 {
			resp.Services = make(map[string]string, len(names))
		}
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := checks[name](ctx)
			cancel()
			if err != nil {
				resp.Services[name] = "down: " + err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Services[name] = "up"
		}
		SendJSON(w, http.StatusOK, resp)
	}
}

// SessionCounter reports the number of sessions with queued or running turns.
type SessionCounter interface {
	ActiveSessions() int
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	Uptime         int64  `json:"uptime"`
	Version        string `json:"version"`
}

// StatusHandler reports process liveness and load.
func StatusHandler(version string, sessions SessionCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SendJSON(w, http.StatusOK, StatusResponse{
			Status:         "running",
			ActiveSessions: sessions.ActiveSessions(),
			Uptime:         uptime(),
			Version:        version,
		})
	}
}
