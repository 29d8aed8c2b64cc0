package cron

import (
	"context"
	"time"
)

// Job is a named housekeeping task.
type Job struct {
	// Name is the unique identifier for the job.
	Name string
	// Schedule is a cron expression or descriptor such as "@every 5m".
	Schedule string
	// Run does the work. It must honor ctx.
	Run func(ctx context.Context) error
	// Timeout bounds one execution, retries included. Default is 5 minutes.
	Timeout time.Duration
	// Retry is applied to failed executions.
	Retry RetryPolicy
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	LastRun  *Run       `json:"last_run,omitempty"`
	Running  bool       `json:"running"`
}

const defaultJobTimeout = 5 * time.Minute
