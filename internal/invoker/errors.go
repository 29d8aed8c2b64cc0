package invoker

import (
	"errors"
	"fmt"
)

// Sentinel errors for the invoker package.
var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("tool parameter validation failed")

	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("tool call failed")
)

// ValidationError is a missing or malformed required parameter. The call
// never reaches the tool service.
type ValidationError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: parameter %s %s", e.Tool, e.Param, e.Reason)
}

// Is allows errors.Is to match against ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransportError is the last failure after all attempts were used.
type TransportError struct {
	Tool     string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Tool, e.Attempts, e.Err)
}

// Is allows errors.Is to match against ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// remoteFailure is a reachable backend reporting Success=false.
type remoteFailure struct {
	msg string
}

func (e *remoteFailure) Error() string { return e.msg }
