// Package session holds the per-turn record threaded through the pipeline.
//
// State is a value: every method that changes it returns a new State and
// leaves the receiver untouched. Slices and maps are copied on the way in and
// on the way out, so no stage can alias another stage's data.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	// DefaultMaxQueryLength bounds the query in runes.
	DefaultMaxQueryLength = 1000
	// MinQueryLength is the shortest accepted query in runes.
	MinQueryLength = 3
	// DefaultHistoryLimit is the conversation window (5 exchanges).
	DefaultHistoryLimit = 10
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request is the input of a turn.
type Request struct {
	Query     string         `validate:"required,min=3"`
	SessionID string         `validate:"omitempty,max=128"`
	RequestID string         `validate:"omitempty,max=128"`
	History   []HistoryEntry `validate:"-"`
}

// Option configures New.
type Option func(*options)

type options struct {
	maxQueryLength int
	historyLimit   int
	now            func() time.Time
}

// WithMaxQueryLength overrides DefaultMaxQueryLength.
func WithMaxQueryLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxQueryLength = n
		}
	}
}

// WithHistoryLimit narrows the history window. DefaultHistoryLimit is also
// the ceiling; larger values are clamped.
func WithHistoryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.historyLimit = min(n, DefaultHistoryLimit)
		}
	}
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// State is the immutable record of one turn.
type State struct {
	query     string
	sessionID string
	requestID string

	classification Classification
	catalog        Catalog
	plan           []ToolCall
	followupPlan   []ToolCall
	pending        bool
	results        []ToolResult
	executed       []string
	identifiers    Identifiers

	answer     string
	enrichment Enrichment

	errorCount int
	errors     []string
	status     Status
	stage      Stage

	history      []HistoryEntry
	historyLimit int
	now          func() time.Time
	startedAt    time.Time
	completedAt  time.Time
}

// New builds the initial State for req. Missing session and request ids are
// generated. When req is invalid the returned State is still populated, in
// status initialized, and err is a *StateValidationError so the caller can
// record the failure on it.
func New(req Request, opts ...Option) (State, error) {
	o := options{
		maxQueryLength: DefaultMaxQueryLength,
		historyLimit:   DefaultHistoryLimit,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	s := State{
		query:        req.Query,
		sessionID:    req.SessionID,
		requestID:    req.RequestID,
		status:       StatusInitialized,
		stage:        StageStart,
		historyLimit: o.historyLimit,
		now:          o.now,
		startedAt:    o.now(),
		classification: Classification{
			QueryType:   QueryGeneral,
			Intent:      "unknown",
			Specificity: "medium",
		},
	}
	s.history = TrimHistory(req.History, o.historyLimit)

	if violations := validateRequest(req, o.maxQueryLength); len(violations) > 0 {
		return s, &StateValidationError{Violations: violations}
	}
	return s, nil
}

func validateRequest(req Request, maxLen int) []string {
	var violations []string
	if err := validate.Struct(req); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return []string{err.Error()}
		}
		for _, fe := range verrs {
			violations = append(violations, describe(fe))
		}
	}
	if err := validate.Var(req.Query, fmt.Sprintf("max=%d", maxLen)); err != nil {
		violations = append(violations, fmt.Sprintf("Query too long (maximum %d characters)", maxLen))
	}
	return violations
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return "Missing required field: " + strings.ToLower(field)
	case "min":
		return fmt.Sprintf("%s too short (minimum %s characters)", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s too long (maximum %s characters)", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s check", field, fe.Tag())
	}
}

// TrimHistory keeps the newest limit entries, never more than
// DefaultHistoryLimit.
func TrimHistory(entries []HistoryEntry, limit int) []HistoryEntry {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]HistoryEntry(nil), entries...)
}

func (s State) Query() string                  { return s.query }
func (s State) SessionID() string              { return s.sessionID }
func (s State) RequestID() string              { return s.requestID }
func (s State) Classification() Classification { return s.classification.clone() }
func (s State) Catalog() Catalog               { return append(Catalog(nil), s.catalog...) }
func (s State) Plan() []ToolCall               { return clonePlan(s.plan) }
func (s State) FollowupPlan() []ToolCall       { return clonePlan(s.followupPlan) }
func (s State) FollowupPending() bool          { return s.pending }
func (s State) Results() []ToolResult          { return append([]ToolResult(nil), s.results...) }
func (s State) ExecutedTools() []string        { return append([]string(nil), s.executed...) }
func (s State) Identifiers() Identifiers       { return s.identifiers.clone() }
func (s State) Answer() string                 { return s.answer }
func (s State) Enrichment() Enrichment         { return s.enrichment.clone() }
func (s State) ErrorCount() int                { return s.errorCount }
func (s State) Errors() []string               { return append([]string(nil), s.errors...) }
func (s State) Status() Status                 { return s.status }
func (s State) Stage() Stage                   { return s.stage }
func (s State) History() []HistoryEntry        { return append([]HistoryEntry(nil), s.history...) }
func (s State) StartedAt() time.Time           { return s.startedAt }
func (s State) CompletedAt() time.Time         { return s.completedAt }

// HasExecuted reports whether name already ran this turn.
func (s State) HasExecuted(name string) bool {
	for _, n := range s.executed {
		if n == name {
			return true
		}
	}
	return false
}

// SuccessCount returns the number of successful results.
func (s State) SuccessCount() int {
	n := 0
	for _, r := range s.results {
		if r.Success {
			n++
		}
	}
	return n
}

// WithHistory replaces the restored history, trimmed to the window.
func (s State) WithHistory(entries []HistoryEntry) State {
	s.history = TrimHistory(entries, s.historyLimit)
	return s
}

// WithCatalog records the tool catalog snapshot.
func (s State) WithCatalog(tools Catalog) State {
	s.catalog = append(Catalog(nil), tools...)
	return s
}

func (s State) WithClassification(c Classification) State {
	s.classification = c.clone()
	return s
}

// WithPlan records the initial tool plan.
func (s State) WithPlan(plan []ToolCall) State {
	s.plan = clonePlan(plan)
	return s
}

// AppendResults adds results in order and extends the executed-tool
// projection with names not seen before.
func (s State) AppendResults(results ...ToolResult) State {
	if len(results) == 0 {
		return s
	}
	merged := make([]ToolResult, 0, len(s.results)+len(results))
	merged = append(merged, s.results...)
	executed := append([]string(nil), s.executed...)
	for _, r := range results {
		r.Params = cloneParams(r.Params)
		merged = append(merged, r)
		if !contains(executed, r.ToolName) {
			executed = append(executed, r.ToolName)
		}
	}
	s.results = merged
	s.executed = executed
	return s
}

func (s State) WithIdentifiers(ids Identifiers) State {
	s.identifiers = ids.clone()
	return s
}

// WithFollowup records a pending follow-up plan. A non-empty plan needs at
// least one extracted identifier; an empty plan clears the pending flag.
func (s State) WithFollowup(plan []ToolCall) (State, error) {
	if len(plan) > 0 && s.identifiers.Empty() {
		return s, ErrFollowupWithoutIdentifiers
	}
	s.followupPlan = clonePlan(plan)
	s.pending = len(plan) > 0
	return s, nil
}

// MergeFollowup appends the follow-up plan to the recorded plan and clears
// the pending flag.
func (s State) MergeFollowup() State {
	if len(s.followupPlan) > 0 {
		merged := make([]ToolCall, 0, len(s.plan)+len(s.followupPlan))
		merged = append(merged, clonePlan(s.plan)...)
		merged = append(merged, clonePlan(s.followupPlan)...)
		s.plan = merged
	}
	s.pending = false
	return s
}

func (s State) WithAnswer(text string) State {
	s.answer = text
	return s
}

func (s State) WithEnrichment(e Enrichment) State {
	s.enrichment = e.clone()
	return s
}

// IncrementErrors bumps the error count and records msg when non-empty.
func (s State) IncrementErrors(msg string) State {
	s.errorCount++
	if msg != "" {
		s.errors = append(append([]string(nil), s.errors...), msg)
	}
	return s
}

// WithErrorCount sets the count directly; used when validation fails with
// several violations at once.
func (s State) WithErrorCount(n int, msgs ...string) State {
	s.errorCount = n
	s.errors = append(append([]string(nil), s.errors...), msgs...)
	return s
}

var transitions = map[Status][]Status{
	StatusInitialized: {StatusRunning, StatusFailed},
	StatusRunning:     {StatusDegraded, StatusCompleted, StatusFailed},
	StatusDegraded:    {StatusDegraded, StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// WithStatus moves the status forward, rejecting forbidden transitions.
func (s State) WithStatus(to Status) (State, error) {
	if !CanTransition(s.status, to) {
		return s, &TransitionError{From: s.status, To: to}
	}
	s.status = to
	return s, nil
}

func (s State) WithStage(st Stage) State {
	s.stage = st
	return s
}

// Finish folds the exchange into the history window, stamps completion and
// completes the turn. A degraded turn completes too; its error count records
// the degradation. Failed turns stay failed.
func (s State) Finish() State {
	now := s.clock()
	history := append([]HistoryEntry(nil), s.history...)
	history = append(history,
		HistoryEntry{Role: "user", Content: s.query, Timestamp: now},
		HistoryEntry{Role: "assistant", Content: s.answer, Timestamp: now},
	)
	s.history = TrimHistory(history, s.historyLimit)
	s.completedAt = now
	s.stage = StageFinish
	if s.status == StatusRunning || s.status == StatusDegraded {
		s.status = StatusCompleted
	}
	return s
}

func (s State) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
