package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sleuth/internal/session"
)

var _ Checkpointer = (*DB)(nil)

// LoadHistory 读取会话的历史记录，未知会话返回 nil
func (db *DB) LoadHistory(ctx context.Context, sessionID string) ([]session.HistoryEntry, error) {
	var raw string
	err := db.QueryRowContext(ctx, "SELECT history FROM checkpoints WHERE session_id = ?", sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeHistory(raw)
}

// SaveTurn 在一个事务中更新检查点并追加回合记录
func (db *DB) SaveTurn(ctx context.Context, rec TurnRecord) error {
	if rec.SessionID == "" {
		return errors.New("save turn: empty session id")
	}
	history, err := json.Marshal(session.TrimHistory(rec.History, HistoryLimit))
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	tools, err := json.Marshal(nonNil(rec.Tools))
	if err != nil {
		return fmt.Errorf("encode tools: %w", err)
	}
	now := time.Now().UTC()

	return db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (session_id, history, turn_count, last_status, created_at, updated_at)
			VALUES (?, ?, 1, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				history = excluded.history,
				turn_count = checkpoints.turn_count + 1,
				last_status = excluded.last_status,
				updated_at = excluded.updated_at`,
			rec.SessionID, string(history), string(rec.Status), now, now,
		)
		if err != nil {
			return fmt.Errorf("upsert checkpoint: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO turns (id, session_id, request_id, query, status, tools, error_count, quality, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), rec.SessionID, rec.RequestID, rec.Query, string(rec.Status),
			string(tools), rec.ErrorCount, rec.Quality, now,
		)
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		return nil
	})
}

// GetCheckpoint 获取检查点
func (db *DB) GetCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	row := db.QueryRowContext(ctx, `
		SELECT session_id, history, turn_count, last_status, created_at, updated_at
		FROM checkpoints WHERE session_id = ?`, sessionID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cp, err
}

// ListCheckpoints 按更新时间倒序列出检查点
func (db *DB) ListCheckpoints(ctx context.Context, limit, offset int) ([]*Checkpoint, error) {
	query := `SELECT session_id, history, turn_count, last_status, created_at, updated_at
		FROM checkpoints ORDER BY updated_at DESC`
	args := []any{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// DeleteCheckpoint 删除检查点及其回合记录
func (db *DB) DeleteCheckpoint(ctx context.Context, sessionID string) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM checkpoints WHERE session_id = ?", sessionID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM turns WHERE session_id = ?", sessionID)
		return err
	})
}

// PruneBefore 删除早于 t 未更新的检查点
func (db *DB) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	cutoff := t.UTC()
	var pruned int64
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM turns WHERE session_id IN (
				SELECT session_id FROM checkpoints WHERE updated_at < ?
			)`, cutoff)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM checkpoints WHERE updated_at < ?", cutoff)
		if err != nil {
			return err
		}
		pruned, err = result.RowsAffected()
		return err
	})
	return pruned, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*Checkpoint, error) {
	var (
		cp      Checkpoint
		history string
	)
	if err := row.Scan(&cp.SessionID, &history, &cp.TurnCount, &cp.LastStatus, &cp.CreatedAt, &cp.UpdatedAt); err != nil {
		return nil, err
	}
	entries, err := decodeHistory(history)
	if err != nil {
		return nil, err
	}
	cp.History = entries
	return &cp, nil
}

func decodeHistory(raw string) ([]session.HistoryEntry, error) {
	var entries []session.HistoryEntry
	if raw == "" {
		return entries, nil
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return entries, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
