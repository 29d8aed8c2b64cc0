package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleuth/internal/session"
)

func stores(t *testing.T) map[string]Checkpointer {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return map[string]Checkpointer{"sqlite": db, "memory": NewMemoryStore()}
}

func history(n int) []session.HistoryEntry {
	out := make([]session.HistoryEntry, n)
	for i := range out {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		out[i] = session.HistoryEntry{Role: role, Content: fmt.Sprintf("msg %d", i), Timestamp: time.Unix(int64(i), 0).UTC()}
	}
	return out
}

func TestCheckpointer_SaveAndLoad(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := store.LoadHistory(ctx, "unknown")
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, store.SaveTurn(ctx, TurnRecord{
				SessionID: "s1", RequestID: "r1", Query: "status of vector-0",
				Status: session.StatusCompleted, History: history(2),
				Tools: []string{"search_resources"}, Quality: 0.7,
			}))
			require.NoError(t, store.SaveTurn(ctx, TurnRecord{
				SessionID: "s1", RequestID: "r2", Query: "and its incidents",
				Status: session.StatusDegraded, History: history(14), ErrorCount: 1,
			}))

			got, err = store.LoadHistory(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, got, HistoryLimit)
			assert.Equal(t, "msg 4", got[0].Content, "oldest entries are dropped")

			cp, err := store.GetCheckpoint(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 2, cp.TurnCount)
			assert.Equal(t, string(session.StatusDegraded), cp.LastStatus)
			assert.False(t, cp.UpdatedAt.Before(cp.CreatedAt))

			turns, err := store.ListTurns(ctx, "s1", 0)
			require.NoError(t, err)
			require.Len(t, turns, 2)
			assert.Equal(t, "r2", turns[0].RequestID)
			assert.Equal(t, []string{}, turns[0].Tools)
			assert.Equal(t, []string{"search_resources"}, turns[1].Tools)
			assert.Equal(t, 0.7, turns[1].Quality)

			turns, err = store.ListTurns(ctx, "s1", 1)
			require.NoError(t, err)
			assert.Len(t, turns, 1)
		})
	}
}

func TestCheckpointer_GetMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetCheckpoint(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.DeleteCheckpoint(context.Background(), "nope"), ErrNotFound)
		})
	}
}

func TestCheckpointer_ListAndDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, store.SaveTurn(ctx, TurnRecord{SessionID: id, Query: "q " + id, Status: session.StatusCompleted}))
				time.Sleep(2 * time.Millisecond)
			}

			all, err := store.ListCheckpoints(ctx, 0, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "c", all[0].SessionID)

			page, err := store.ListCheckpoints(ctx, 1, 1)
			require.NoError(t, err)
			require.Len(t, page, 1)
			assert.Equal(t, "b", page[0].SessionID)

			require.NoError(t, store.DeleteCheckpoint(ctx, "b"))
			_, err = store.GetCheckpoint(ctx, "b")
			assert.ErrorIs(t, err, ErrNotFound)
			turns, err := store.ListTurns(ctx, "b", 0)
			require.NoError(t, err)
			assert.Empty(t, turns)
		})
	}
}

func TestCheckpointer_PruneBefore(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.SaveTurn(ctx, TurnRecord{SessionID: "old", Query: "q", Status: session.StatusCompleted}))

			n, err := store.PruneBefore(ctx, time.Now().Add(-time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(0), n)

			n, err = store.PruneBefore(ctx, time.Now().Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			_, err = store.GetCheckpoint(ctx, "old")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSaveTurn_RequiresSessionID(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()
	assert.Error(t, db.SaveTurn(context.Background(), TurnRecord{Query: "q"}))
}

func TestRecordFromState(t *testing.T) {
	s, err := session.New(session.Request{Query: "status of vector-0", SessionID: "s9"})
	require.NoError(t, err)
	s = s.AppendResults(session.ToolResult{ToolName: "search_resources", Success: true})

	rec := RecordFromState(s)
	assert.Equal(t, "s9", rec.SessionID)
	assert.Equal(t, "status of vector-0", rec.Query)
	assert.Equal(t, []string{"search_resources"}, rec.Tools)
}
