package workflow

import (
	"context"

	"sleuth/internal/session"
)

// Tool batch phases.
const (
	PhasePrimary  = "primary"
	PhaseFollowup = "followup"
)

// ToolBatch announces tool calls about to run.
type ToolBatch struct {
	Names []string `json:"tools"`
	Count int      `json:"count"`
	Phase string   `json:"type,omitempty"`
}

// Completion closes a turn's event stream.
type Completion struct {
	ForwardLinks  []string       `json:"forward_links"`
	ExecutedTools []string       `json:"tools_used"`
	Status        session.Status `json:"status"`
}

// Sink receives progress of a turn: zero or more ToolsStarting events, then
// tokens, then exactly one Completed. Calls come from the turn's goroutine.
type Sink interface {
	ToolsStarting(ToolBatch)
	Token(string)
	Completed(Completion)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) ToolsStarting(ToolBatch) {}
func (NopSink) Token(string)            {}
func (NopSink) Completed(Completion)    {}

// FuncSink adapts functions to Sink. Nil fields are skipped.
type FuncSink struct {
	OnTools     func(ToolBatch)
	OnToken     func(string)
	OnCompleted func(Completion)
}

func (f FuncSink) ToolsStarting(b ToolBatch) {
	if f.OnTools != nil {
		f.OnTools(b)
	}
}

func (f FuncSink) Token(tok string) {
	if f.OnToken != nil {
		f.OnToken(tok)
	}
}

func (f FuncSink) Completed(c Completion) {
	if f.OnCompleted != nil {
		f.OnCompleted(c)
	}
}

// EventType represents the type of event emitted during a turn.
type EventType int

const (
	// EventTypeTools indicates a batch of tool calls is starting.
	EventTypeTools EventType = iota
	// EventTypeToken indicates answer text being streamed.
	EventTypeToken
	// EventTypeDone indicates the turn finished.
	EventTypeDone
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventTypeTools:
		return "tools"
	case EventTypeToken:
		return "token"
	case EventTypeDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one sink call delivered over a channel.
type Event struct {
	Type       EventType   `json:"type"`
	Tools      *ToolBatch  `json:"tools,omitempty"`
	Token      string      `json:"token,omitempty"`
	Completion *Completion `json:"completion,omitempty"`
}

// ChannelSink forwards events to a channel. Sends give up once ctx is done,
// so a reader that went away never blocks the turn.
type ChannelSink struct {
	ctx context.Context
	ch  chan<- Event
}

// NewChannelSink returns a sink writing to ch until ctx ends.
func NewChannelSink(ctx context.Context, ch chan<- Event) *ChannelSink {
	return &ChannelSink{ctx: ctx, ch: ch}
}

func (s *ChannelSink) send(ev Event) {
	select {
	case s.ch <- ev:
	case <-s.ctx.Done():
	}
}

func (s *ChannelSink) ToolsStarting(b ToolBatch) {
	s.send(Event{Type: EventTypeTools, Tools: &b})
}

func (s *ChannelSink) Token(tok string) {
	s.send(Event{Type: EventTypeToken, Token: tok})
}

func (s *ChannelSink) Completed(c Completion) {
	s.send(Event{Type: EventTypeDone, Completion: &c})
}
