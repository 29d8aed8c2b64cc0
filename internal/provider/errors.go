package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode classifies provider failures.
type ErrorCode string

const (
	ErrCodeAuthFailed            ErrorCode = "AUTH_FAILED"
	ErrCodeRateLimited           ErrorCode = "RATE_LIMITED"
	ErrCodeServiceUnavailable    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeModelNotFound         ErrorCode = "MODEL_NOT_FOUND"
	ErrCodeNetworkError          ErrorCode = "NETWORK_ERROR"
	ErrCodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrCodeInvalidResponse       ErrorCode = "INVALID_RESPONSE"
	ErrCodeTimeout               ErrorCode = "TIMEOUT"
	ErrCodeContextWindowExceeded ErrorCode = "CONTEXT_WINDOW_EXCEEDED"
	ErrCodeUnknown               ErrorCode = "UNKNOWN"
)

// ProviderError is a structured provider failure.
type ProviderError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Provider  string    `json:"provider"`
	Retryable bool      `json:"retryable"`
	Err       error     `json:"-"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a ProviderError.
func NewProviderError(code ErrorCode, message, provider string, retryable bool) *ProviderError {
	return &ProviderError{Code: code, Message: message, Provider: provider, Retryable: retryable}
}

// FromStatus maps an HTTP error status to a ProviderError.
func FromStatus(provider string, status int, message string) *ProviderError {
	if message == "" {
		message = http.StatusText(status)
	}
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "context length") ||
		strings.Contains(lower, "maximum context") ||
		strings.Contains(lower, "too many tokens"):
		return NewProviderError(ErrCodeContextWindowExceeded, message, provider, false)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewProviderError(ErrCodeAuthFailed, message, provider, false)
	case status == http.StatusTooManyRequests:
		return NewProviderError(ErrCodeRateLimited, message, provider, false)
	case status == http.StatusNotFound:
		return NewProviderError(ErrCodeModelNotFound, message, provider, false)
	case status == http.StatusBadRequest:
		return NewProviderError(ErrCodeInvalidRequest, message, provider, false)
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway || status == http.StatusGatewayTimeout:
		return NewProviderError(ErrCodeServiceUnavailable, message, provider, true)
	}
	return NewProviderError(ErrCodeUnknown, fmt.Sprintf("status %d: %s", status, message), provider, status >= 500)
}

// IsContextWindowExceeded reports whether err says the prompt was too long.
// Untyped errors are matched on their message.
func IsContextWindowExceeded(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeContextWindowExceeded
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context window") ||
		strings.Contains(msg, "context length exceeded") ||
		strings.Contains(msg, "maximum context length") ||
		strings.Contains(msg, "token limit exceeded") ||
		strings.Contains(msg, "too many tokens")
}

// IsRetryable reports whether err is a transient ProviderError.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
