package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"sleuth/internal/session"
	"sleuth/internal/storage"
)

// defaultTurnLimit is how many audit turns GET /api/sessions/{id} returns.
const defaultTurnLimit = 10

// SessionStore reads and deletes persisted sessions.
type SessionStore interface {
	Session(ctx context.Context, sessionID string) (*storage.Checkpoint, error)
	Turns(ctx context.Context, sessionID string, limit int) ([]*storage.Turn, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// SessionResponse is the body of GET /api/sessions/{id}.
type SessionResponse struct {
	*storage.Checkpoint
	Turns []*storage.Turn `json:"turns"`
}

// SessionHandler serves /api/sessions.
type SessionHandler struct {
	store SessionStore
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(store SessionStore) *SessionHandler {
	return &SessionHandler{store: store}
}

// RegisterRoutes registers session routes on the router.
func (h *SessionHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/sessions/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", h.Delete).Methods(http.MethodDelete)
}

// Get returns a session's checkpoint and its most recent turns. The turn
// count can be set with ?turns=N.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	limit := defaultTurnLimit
	if v := r.URL.Query().Get("turns"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "turns must be a non-negative integer")
			return
		}
		limit = n
	}

	cp, err := h.store.Session(r.Context(), id)
	if err != nil {
		sendStoreError(w, id, err)
		return
	}
	if cp.History == nil {
		cp.History = []session.HistoryEntry{}
	}

	turns := []*storage.Turn{}
	if limit > 0 {
		turns, err = h.store.Turns(r.Context(), id, limit)
		if err != nil {
			sendStoreError(w, id, err)
			return
		}
		if turns == nil {
			turns = []*storage.Turn{}
		}
	}
	SendJSON(w, http.StatusOK, SessionResponse{Checkpoint: cp, Turns: turns})
}

// Delete removes a session's checkpoint and turns.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.DeleteSession(r.Context(), id); err != nil {
		sendStoreError(w, id, err)
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{"session_id": id, "deleted": true})
}

func sendStoreError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		SendError(w, http.StatusNotFound, ErrCodeNotFound, "session not found: "+id)
		return
	}
	SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
}
