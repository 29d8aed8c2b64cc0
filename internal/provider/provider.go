// Package provider defines the LLM backend contract used by the oracle.
package provider

import "context"

// Provider is a chat-completion backend.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Models returns the models the backend reports, or the configured one.
	Models() []string

	// Chat sends a request and waits for the whole response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Stream sends a request and returns a channel of events. The channel is
	// closed after a done or error event.
	Stream(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error)
}

// Collect drains a stream into a response, calling onDelta for every
// content token when it is not nil.
func Collect(events <-chan ChatEvent, onDelta func(string)) (*ChatResponse, error) {
	resp := &ChatResponse{FinishReason: FinishReasonStop}
	var content []byte
	for ev := range events {
		switch ev.Type {
		case EventTypeContent:
			content = append(content, ev.Delta...)
			if onDelta != nil {
				onDelta(ev.Delta)
			}
		case EventTypeDone:
			if ev.Usage != nil {
				resp.Usage = ev.Usage
			}
			if ev.FinishReason != "" {
				resp.FinishReason = ev.FinishReason
			}
		case EventTypeError:
			// Drain so the producer goroutine can exit.
			for range events {
			}
			return nil, ev.Error
		}
	}
	resp.Content = string(content)
	return resp, nil
}
