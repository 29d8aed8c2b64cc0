// Package toolservice defines the contract of the remote tool backend and its
// REST client, catalog cache and parameter coercion.
package toolservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for the toolservice package.
var (
	// ErrUnavailable is returned when the backend cannot be reached or answers
	// with a non-success HTTP status.
	ErrUnavailable = errors.New("tool service unavailable")

	// ErrIncompatible is returned when the backend version fails the
	// configured constraint.
	ErrIncompatible = errors.New("tool service version incompatible")
)

// Tool is one catalog entry.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Result is the outcome of Execute. A reachable backend that reports a
// failure yields Success=false with Error set and a nil error return.
type Result struct {
	Success bool   `json:"success"`
	Payload any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Service is the tool backend.
type Service interface {
	ListTools(ctx context.Context) ([]Tool, error)
	Execute(ctx context.Context, name string, params map[string]any) (*Result, error)
}

// Health is the backend's self-reported status.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// HealthChecker is implemented by backends that expose a health probe.
type HealthChecker interface {
	Health(ctx context.Context) (*Health, error)
}

// StatusError carries a non-2xx response from the backend.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is allows errors.Is to match against ErrUnavailable.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnavailable
}

// Names returns the tool names in catalog order.
func Names(tools []Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}
