package toolservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckCompatibility probes the backend and validates its reported version
// against constraint (e.g. ">= 1.2.0, < 2"). An empty constraint only checks
// reachability.
func CheckCompatibility(ctx context.Context, hc HealthChecker, constraint string) (*Health, error) {
	h, err := hc.Health(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(constraint) == "" {
		return h, nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return h, fmt.Errorf("parse version constraint %q: %w", constraint, err)
	}
	if h.Version == "" {
		return h, fmt.Errorf("%w: backend did not report a version", ErrIncompatible)
	}
	v, err := semver.NewVersion(h.Version)
	if err != nil {
		return h, fmt.Errorf("%w: invalid version %q: %v", ErrIncompatible, h.Version, err)
	}
	if ok, errs := c.Validate(v); !ok {
		reasons := make([]string, 0, len(errs))
		for _, e := range errs {
			reasons = append(reasons, e.Error())
		}
		return h, fmt.Errorf("%w: %s", ErrIncompatible, strings.Join(reasons, "; "))
	}
	return h, nil
}
