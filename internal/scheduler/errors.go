// Package scheduler serializes turns per session while letting different
// sessions run in parallel.
package scheduler

import "errors"

// Sentinel errors for the scheduler package.
var (
	// ErrSessionClosed is returned when operating on a closed session queue.
	ErrSessionClosed = errors.New("session closed")

	// ErrQueueFull is returned when a session already has too many turns waiting.
	ErrQueueFull = errors.New("run queue full")

	// ErrShutdown is returned once the queue is shutting down.
	ErrShutdown = errors.New("run queue shut down")

	// ErrRunPanicked is returned when a task panicked.
	ErrRunPanicked = errors.New("run panicked")
)
