package oracle

import (
	"errors"
	"fmt"
)

var (
	// ErrOracle is matched by every *OracleError.
	ErrOracle = errors.New("oracle failure")

	// ErrNarrativeUnavailable means the oracle cannot write narratives.
	ErrNarrativeUnavailable = errors.New("narrative generation unavailable")

	// ErrMalformedOutput means the model answered with something unparseable.
	ErrMalformedOutput = errors.New("malformed oracle output")
)

// OracleError is a failed classify, plan or generate call. Recovered is set
// when a fallback already produced a usable result alongside the error.
type OracleError struct {
	Op        string
	Err       error
	Recovered bool
}

func (e *OracleError) Error() string {
	if e.Recovered {
		return fmt.Sprintf("oracle %s failed (fallback used): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("oracle %s failed: %v", e.Op, e.Err)
}

// Is allows errors.Is to match against ErrOracle.
func (e *OracleError) Is(target error) bool {
	return target == ErrOracle
}

func (e *OracleError) Unwrap() error {
	return e.Err
}

// IsRecovered reports whether err carries a usable fallback result.
func IsRecovered(err error) bool {
	var oe *OracleError
	return errors.As(err, &oe) && oe.Recovered
}
