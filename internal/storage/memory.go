package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sleuth/internal/session"
)

var _ Checkpointer = (*MemoryStore)(nil)

// MemoryStore is an in-process Checkpointer. It forgets everything on exit.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
	turns       map[string][]*Turn
	now         func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]*Checkpoint),
		turns:       make(map[string][]*Turn),
		now:         time.Now,
	}
}

func (m *MemoryStore) LoadHistory(_ context.Context, sessionID string) ([]session.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[sessionID]
	if !ok {
		return nil, nil
	}
	return append([]session.HistoryEntry(nil), cp.History...), nil
}

func (m *MemoryStore) SaveTurn(_ context.Context, rec TurnRecord) error {
	now := m.now().UTC()
	history := append([]session.HistoryEntry(nil), session.TrimHistory(rec.History, HistoryLimit)...)

	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.checkpoints[rec.SessionID]
	if !ok {
		cp = &Checkpoint{SessionID: rec.SessionID, CreatedAt: now}
		m.checkpoints[rec.SessionID] = cp
	}
	cp.History = history
	cp.TurnCount++
	cp.LastStatus = string(rec.Status)
	cp.UpdatedAt = now

	m.turns[rec.SessionID] = append(m.turns[rec.SessionID], &Turn{
		ID:         uuid.New().String(),
		SessionID:  rec.SessionID,
		RequestID:  rec.RequestID,
		Query:      rec.Query,
		Status:     string(rec.Status),
		Tools:      append([]string{}, rec.Tools...),
		ErrorCount: rec.ErrorCount,
		Quality:    rec.Quality,
		CreatedAt:  now,
	})
	return nil
}

func (m *MemoryStore) GetCheckpoint(_ context.Context, sessionID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCheckpoint(cp), nil
}

func (m *MemoryStore) ListCheckpoints(_ context.Context, limit, offset int) ([]*Checkpoint, error) {
	m.mu.RLock()
	out := make([]*Checkpoint, 0, len(m.checkpoints))
	for _, cp := range m.checkpoints {
		out = append(out, copyCheckpoint(cp))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit <= 0 {
		return out, nil
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListTurns(_ context.Context, sessionID string, limit int) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turns := m.turns[sessionID]
	out := make([]*Turn, 0, len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		t := *turns[i]
		out = append(out, &t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteCheckpoint(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checkpoints[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.checkpoints, sessionID)
	delete(m.turns, sessionID)
	return nil
}

func (m *MemoryStore) PruneBefore(_ context.Context, t time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pruned int64
	for id, cp := range m.checkpoints {
		if cp.UpdatedAt.Before(t) {
			delete(m.checkpoints, id)
			delete(m.turns, id)
			pruned++
		}
	}
	return pruned, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func copyCheckpoint(cp *Checkpoint) *Checkpoint {
	c := *cp
	c.History = append([]session.HistoryEntry(nil), cp.History...)
	return &c
}
