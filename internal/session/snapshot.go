package session

import "time"

// Snapshot is the exported view of a State used by the API and CLI.
type Snapshot struct {
	SessionID      string         `json:"session_id"`
	RequestID      string         `json:"request_id"`
	Query          string         `json:"query"`
	Status         Status         `json:"status"`
	Stage          Stage          `json:"stage"`
	Classification Classification `json:"classification"`
	Plan           []ToolCall     `json:"tool_plan"`
	FollowupPlan   []ToolCall     `json:"followup_tool_plan,omitempty"`
	Results        []ToolResult   `json:"results"`
	ExecutedTools  []string       `json:"executed_tools"`
	Identifiers    Identifiers    `json:"extracted_ids"`
	Answer         string         `json:"final_response"`
	Enrichment     Enrichment     `json:"enrichment"`
	ErrorCount     int            `json:"error_count"`
	Errors         []string       `json:"errors,omitempty"`
	History        []HistoryEntry `json:"conversation_history"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// Snapshot returns a deep copy of s in exported form.
func (s State) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:      s.sessionID,
		RequestID:      s.requestID,
		Query:          s.query,
		Status:         s.status,
		Stage:          s.stage,
		Classification: s.Classification(),
		Plan:           s.Plan(),
		FollowupPlan:   s.FollowupPlan(),
		Results:        s.Results(),
		ExecutedTools:  s.ExecutedTools(),
		Identifiers:    s.Identifiers(),
		Answer:         s.answer,
		Enrichment:     s.Enrichment(),
		ErrorCount:     s.errorCount,
		Errors:         s.Errors(),
		History:        s.History(),
		StartedAt:      s.startedAt,
	}
	if !s.completedAt.IsZero() {
		t := s.completedAt
		snap.CompletedAt = &t
	}
	return snap
}
