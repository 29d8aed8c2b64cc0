// Package websocket streams conversation turns to browser clients.
package websocket

import (
	"encoding/json"

	"sleuth/internal/workflow"
)

// ClientMessage is what a client sends. UUID names the conversation.
type ClientMessage struct {
	UUID    string `json:"uuid"`
	Init    bool   `json:"init,omitempty"`
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
}

// ConnectedMessage acknowledges an init request.
type ConnectedMessage struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// ToolCallMessage announces a batch of tool calls.
type ToolCallMessage struct {
	OnToolCall workflow.ToolBatch `json:"on_tool_call"`
}

// StreamMessage carries one answer token.
type StreamMessage struct {
	OnChatModelStream string `json:"on_chat_model_stream"`
}

// EndMetadata accompanies the end of a turn.
type EndMetadata struct {
	ForwardLinks []string `json:"forward_links"`
	ToolsUsed    []string `json:"tools_used"`
}

// EndMessage closes a turn's stream.
type EndMessage struct {
	OnChatModelEnd bool        `json:"on_chat_model_end"`
	Metadata       EndMetadata `json:"metadata"`
}

// ErrorMessage reports a failure to the client.
type ErrorMessage struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PongMessage answers a ping.
type PongMessage struct {
	Type string `json:"type"`
}

// BroadcastMessage wraps a message with its target session.
type BroadcastMessage struct {
	Session string
	Data    []byte
	// Final marks the end or error frame of a turn. It waits for buffer
	// room instead of being dropped.
	Final bool
}

// Message types carried in ClientMessage.Type.
const (
	TypePing = "ping"
	TypePong = "pong"
)

// Error codes carried in ErrorMessage.Error.
const (
	ErrInvalidMessage   = "INVALID_MESSAGE"
	ErrInvalidRequest   = "INVALID_REQUEST"
	ErrValidationFailed = "VALIDATION_FAILED"
	ErrSessionBusy      = "SESSION_BUSY"
	ErrChat             = "CHAT_ERROR"
)

func encode(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func endMessage(c workflow.Completion) EndMessage {
	links := c.ForwardLinks
	if links == nil {
		links = []string{}
	}
	tools := c.ExecutedTools
	if tools == nil {
		tools = []string{}
	}
	return EndMessage{
		OnChatModelEnd: true,
		Metadata:       EndMetadata{ForwardLinks: links, ToolsUsed: tools},
	}
}
