package storage

import (
	"context"
	"errors"
	"time"

	"sleuth/internal/session"
)

// ErrNotFound 表示记录不存在
var ErrNotFound = errors.New("not found")

// HistoryLimit caps the history kept in a checkpoint.
const HistoryLimit = session.DefaultHistoryLimit

// Checkpoint is the persisted conversation of one session.
type Checkpoint struct {
	SessionID  string                 `json:"session_id"`
	History    []session.HistoryEntry `json:"history"`
	TurnCount  int                    `json:"turn_count"`
	LastStatus string                 `json:"last_status"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Turn is the audit record of one finished turn.
type Turn struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	RequestID  string    `json:"request_id,omitempty"`
	Query      string    `json:"query"`
	Status     string    `json:"status"`
	Tools      []string  `json:"tools"`
	ErrorCount int       `json:"error_count"`
	Quality    float64   `json:"quality"`
	CreatedAt  time.Time `json:"created_at"`
}

// TurnRecord is what the workflow saves when a turn finishes.
type TurnRecord struct {
	SessionID  string
	RequestID  string
	Query      string
	Status     session.Status
	History    []session.HistoryEntry
	Tools      []string
	ErrorCount int
	Quality    float64
}

// RecordFromState builds the record of a finished turn.
func RecordFromState(s session.State) TurnRecord {
	return TurnRecord{
		SessionID:  s.SessionID(),
		RequestID:  s.RequestID(),
		Query:      s.Query(),
		Status:     s.Status(),
		History:    s.History(),
		Tools:      s.ExecutedTools(),
		ErrorCount: s.ErrorCount(),
		Quality:    s.Enrichment().Quality,
	}
}

// Checkpointer stores session checkpoints.
type Checkpointer interface {
	// LoadHistory returns the stored history, or nil for an unknown session.
	LoadHistory(ctx context.Context, sessionID string) ([]session.HistoryEntry, error)
	// SaveTurn upserts the checkpoint and appends the turn record.
	SaveTurn(ctx context.Context, rec TurnRecord) error
	GetCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, limit, offset int) ([]*Checkpoint, error)
	// ListTurns returns the newest turns of a session first.
	ListTurns(ctx context.Context, sessionID string, limit int) ([]*Turn, error)
	DeleteCheckpoint(ctx context.Context, sessionID string) error
	// PruneBefore deletes checkpoints not updated since t.
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
	Close() error
}
