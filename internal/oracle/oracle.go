// Package oracle is the decision boundary of a turn: it classifies the
// query, plans tool calls and narrates the results. Heuristic works offline;
// LLM delegates to a chat provider; Fallback chains the two.
package oracle

import (
	"context"

	"sleuth/internal/session"
)

// Oracle makes the non-deterministic decisions of a turn.
type Oracle interface {
	Classify(ctx context.Context, in ClassifyInput) (session.Classification, error)
	Plan(ctx context.Context, in PlanInput) ([]session.ToolCall, error)
	Generate(ctx context.Context, in AnswerInput, sink TokenSink) (*Answer, error)
}

// TokenSink receives narrative tokens as they are produced. It may be nil.
type TokenSink func(token string)

// ClassifyInput is what Classify sees.
type ClassifyInput struct {
	Query   string
	Catalog session.Catalog
	History []session.HistoryEntry
}

// PlanInput is what Plan sees.
type PlanInput struct {
	Query          string
	Classification session.Classification
	Catalog        session.Catalog
	History        []session.HistoryEntry
}

// AnswerInput is what Generate sees.
type AnswerInput struct {
	Query          string
	Classification session.Classification
	Results        []session.ToolResult
	History        []session.HistoryEntry
}

// Answer is a generated narrative plus its suggestions.
type Answer struct {
	Text            string         `json:"final_response"`
	ForwardLinks    []string       `json:"forward_links"`
	Recommendations []string       `json:"recommendations"`
	Insights        map[string]any `json:"insights,omitempty"`
}

// Operation names used in OracleError and metrics.
const (
	OpClassify = "classify"
	OpPlan     = "plan"
	OpGenerate = "generate"
)
