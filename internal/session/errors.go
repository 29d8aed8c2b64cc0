package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFollowupWithoutIdentifiers is returned when a follow-up plan is set on a
// state that holds no extracted identifiers.
var ErrFollowupWithoutIdentifiers = errors.New("follow-up plan requires extracted identifiers")

// StateValidationError lists every reason a request was rejected.
type StateValidationError struct {
	Violations []string
}

func (e *StateValidationError) Error() string {
	return "Request validation failed: " + strings.Join(e.Violations, ", ")
}

// TransitionError is returned for a status change the lifecycle forbids.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
