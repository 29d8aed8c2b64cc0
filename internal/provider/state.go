package provider

import "context"

// Status is the reachability of a provider.
type Status string

const (
	StatusConnected   Status = "connected"
	StatusUnavailable Status = "unavailable"
	StatusUnknown     Status = "unknown"
)

// Pinger is implemented by providers that support a cheap health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe reports the status of p. Providers without Ping are unknown.
func Probe(ctx context.Context, p Provider) (Status, error) {
	pinger, ok := p.(Pinger)
	if !ok {
		return StatusUnknown, nil
	}
	if err := pinger.Ping(ctx); err != nil {
		return StatusUnavailable, err
	}
	return StatusConnected, nil
}
