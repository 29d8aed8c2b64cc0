// Package mcp implements a Model Context Protocol client over plain HTTP
// JSON-RPC that satisfies the toolservice.Service contract.
package mcp

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC version constant.
const JSONRPCVersion = "2.0"

// MCP protocol version.
const ProtocolVersion = "2024-11-05"

// MCP method constants.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPing        = "ping"
)

// Request represents a JSON-RPC 2.0 request message. A nil ID makes it a
// notification.
type Request struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response message.
type Response struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface for RPCError.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request; params may be nil.
func NewRequest(id any, method string, params any) (*Request, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		raw = data
	}
	return &Request{Jsonrpc: JSONRPCVersion, ID: id, Method: method, Params: raw}, nil
}

// ParseResponse decodes a response and checks its envelope.
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if resp.Jsonrpc != JSONRPCVersion {
		return nil, fmt.Errorf("invalid jsonrpc version: %s", resp.Jsonrpc)
	}
	return &resp, nil
}

// responseID extracts the numeric id of a response. Returns 0 if the ID is
// not a number.
func responseID(id any) int64 {
	switch v := id.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

// InitializeParams represents the parameters for the initialize request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      PeerInfo       `json:"clientInfo"`
}

// InitializeResult represents the result of the initialize request.
type InitializeResult struct {
	ProtocolVersion string   `json:"protocolVersion"`
	ServerInfo      PeerInfo `json:"serverInfo"`
}

// PeerInfo names a client or server.
type PeerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult represents the result of tools/list request.
type ListToolsResult struct {
	Tools      []Tool  `json:"tools"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

// ListToolsParams represents parameters for tools/list request.
type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// CallToolParams represents parameters for tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallToolResult represents the result of tools/call request.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents a content item in tool results.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ContentTypeText marks a text content item.
const ContentTypeText = "text"
