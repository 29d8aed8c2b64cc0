package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// ListTurns 按时间倒序列出会话的回合记录
func (db *DB) ListTurns(ctx context.Context, sessionID string, limit int) ([]*Turn, error) {
	query := `SELECT id, session_id, request_id, query, status, tools, error_count, quality, created_at
		FROM turns WHERE session_id = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var (
			t     Turn
			tools string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.RequestID, &t.Query, &t.Status, &tools, &t.ErrorCount, &t.Quality, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tools), &t.Tools); err != nil {
			return nil, fmt.Errorf("decode tools: %w", err)
		}
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}
