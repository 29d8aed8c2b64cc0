package cron

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryableError is an error that can be retried.
type RetryableError interface {
	error
	Retryable() bool
}

// RetryPolicy defines the retry behavior for failed jobs.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of retry attempts (0 = no retries).
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
}

// DefaultRetryPolicy retries twice, starting after one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  2,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// ShouldRetry determines if a failed run should be retried. Cancellation and
// errors marked NonRetryable never are.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if err == nil || p.MaxAttempts <= 0 || attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return true
}

// NextDelay calculates the delay before retry number attempt (0-indexed).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.InitialDelay
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// nonRetryableError wraps an error to mark it as non-retryable.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string   { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error   { return e.err }
func (e *nonRetryableError) Retryable() bool { return false }

// NonRetryable wraps an error to mark it as non-retryable.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}
