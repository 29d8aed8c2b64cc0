package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"sleuth/internal/scheduler"
	"sleuth/internal/session"
	"sleuth/internal/workflow"
	"sleuth/pkg/logger"
)

// Runner executes conversation turns.
type Runner interface {
	Run(ctx context.Context, req session.Request, sink workflow.Sink) (session.State, error)
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string                 `json:"message"`
	SessionID string                 `json:"session_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	History   []session.HistoryEntry `json:"history,omitempty"`
	// Context is caller metadata. It is logged with the turn and not
	// interpreted.
	Context map[string]any `json:"context,omitempty"`
}

// ChatMetadata summarizes how a turn was answered.
type ChatMetadata struct {
	ToolsUsed  []string `json:"tools_used"`
	QueryType  string   `json:"query_type"`
	Status     string   `json:"status"`
	ErrorCount int      `json:"error_count"`
	Quality    float64  `json:"quality"`
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	Response     string       `json:"response"`
	SessionID    string       `json:"session_id"`
	Timestamp    time.Time    `json:"timestamp"`
	Metadata     ChatMetadata `json:"metadata"`
	ForwardLinks []string     `json:"forward_links"`
}

// NewChatResponse renders a finished turn.
func NewChatResponse(s session.State) ChatResponse {
	tools := s.ExecutedTools()
	if tools == nil {
		tools = []string{}
	}
	enrichment := s.Enrichment()
	links := enrichment.ForwardLinks
	if links == nil {
		links = []string{}
	}
	ts := s.CompletedAt()
	if ts.IsZero() {
		ts = time.Now()
	}
	return ChatResponse{
		Response:  s.Answer(),
		SessionID: s.SessionID(),
		Timestamp: ts.UTC(),
		Metadata: ChatMetadata{
			ToolsUsed:  tools,
			QueryType:  s.Classification().QueryType,
			Status:     string(s.Status()),
			ErrorCount: s.ErrorCount(),
			Quality:    enrichment.Quality,
		},
		ForwardLinks: links,
	}
}

// ChatHandler serves POST /api/chat.
type ChatHandler struct {
	runner Runner
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(runner Runner) *ChatHandler {
	return &ChatHandler{runner: runner}
}

// ServeHTTP runs one turn synchronously and returns its answer. A request
// rejected by validation inside the workflow still answers 200 with status
// "failed" and the reason as the response text.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "message is required")
		return
	}

	if len(req.Context) > 0 {
		log := logger.Component("chat")
		log.Debug().
			Str("session_id", req.SessionID).
			Interface("context", req.Context).
			Msg("chat request context")
	}

	state, err := h.runner.Run(r.Context(), session.Request{
		Query:     req.Message,
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		History:   req.History,
	}, nil)
	if err != nil {
		status, code := runErrorStatus(err)
		SendError(w, status, code, err.Error())
		return
	}

	SendJSON(w, http.StatusOK, NewChatResponse(state))
}

// runErrorStatus maps an error from Runner.Run to an HTTP status and code.
func runErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, workflow.ErrBusy):
		return http.StatusTooManyRequests, ErrCodeSessionBusy
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeGatewayTimeout
	case errors.Is(err, scheduler.ErrShutdown), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrCodeServiceUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}
