package cron

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound = errors.New("cron: job not found")
	ErrJobExists   = errors.New("cron: job already registered")
	// ErrJobRunning rejects a manual run while the scheduled one is active.
	ErrJobRunning = errors.New("cron: job already running")
)

// InvalidScheduleError rejects a job whose spec robfig/cron cannot parse, or
// a job missing its name or run function.
type InvalidScheduleError struct {
	Schedule string
	Message  string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("cron: schedule %q: %s", e.Schedule, e.Message)
}

func (e *InvalidScheduleError) Is(target error) bool {
	_, ok := target.(*InvalidScheduleError)
	return ok
}

// ErrInvalidSchedule matches any InvalidScheduleError with errors.Is.
var ErrInvalidSchedule = &InvalidScheduleError{}

// ExecutionFailedError is the final error of a run, after its retries.
type ExecutionFailedError struct {
	JobName    string
	RetryCount int
	Cause      error
}

func (e *ExecutionFailedError) Error() string {
	msg := fmt.Sprintf("cron: %s failed", e.JobName)
	if e.RetryCount > 0 {
		msg += fmt.Sprintf(" (%d retries)", e.RetryCount)
	}
	return msg + ": " + e.Cause.Error()
}

func (e *ExecutionFailedError) Unwrap() error { return e.Cause }

func (e *ExecutionFailedError) Is(target error) bool {
	_, ok := target.(*ExecutionFailedError)
	return ok
}

// ErrExecutionFailed matches any ExecutionFailedError with errors.Is.
var ErrExecutionFailed = &ExecutionFailedError{}
