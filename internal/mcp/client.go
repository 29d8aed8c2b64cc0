package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sleuth/internal/toolservice"
)

const sessionHeader = "Mcp-Session-Id"

// Config holds configuration for an MCP client.
type Config struct {
	// URL is the JSON-RPC endpoint.
	URL string
	// Headers are added to every request (e.g., Authorization).
	Headers map[string]string
	// Timeout bounds each HTTP exchange.
	Timeout time.Duration
	// ClientName and ClientVersion are sent during initialize.
	ClientName    string
	ClientVersion string
}

// Client speaks MCP over request/response HTTP. The handshake runs lazily on
// first use and again after the server drops the session.
type Client struct {
	config     Config
	httpClient *http.Client
	nextID     int64

	mu          sync.Mutex
	initialized bool
	serverInfo  PeerInfo

	sidMu     sync.Mutex
	sessionID string
}

var _ toolservice.Service = (*Client)(nil)
var _ toolservice.HealthChecker = (*Client)(nil)

// NewClient creates a new MCP client.
func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ClientName == "" {
		config.ClientName = "sleuth"
	}
	if config.ClientVersion == "" {
		config.ClientVersion = "1.0.0"
	}
	config.URL = strings.TrimSuffix(config.URL, "/")
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// ServerInfo returns the server info from the initialize response.
func (c *Client) ServerInfo() PeerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Connect performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      PeerInfo{Name: c.config.ClientName, Version: c.config.ClientVersion},
	}
	var result InitializeResult
	if err := c.roundTrip(ctx, MethodInitialize, params, &result); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	c.serverInfo = result.ServerInfo

	if err := c.send(ctx, &Request{Jsonrpc: JSONRPCVersion, Method: MethodInitialized}, nil); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	c.initialized = true
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	return c.connectLocked(ctx)
}

// ListTools retrieves the full tool list, following pagination cursors.
func (c *Client) ListTools(ctx context.Context) ([]toolservice.Tool, error) {
	var tools []toolservice.Tool
	cursor := ""
	for {
		var params any
		if cursor != "" {
			params = ListToolsParams{Cursor: cursor}
		}
		var result ListToolsResult
		if err := c.call(ctx, MethodToolsList, params, &result); err != nil {
			return nil, err
		}
		for _, t := range result.Tools {
			tools = append(tools, toolservice.Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
		}
		if result.NextCursor == nil || *result.NextCursor == "" {
			return tools, nil
		}
		cursor = *result.NextCursor
	}
}

// Execute calls a tool. Text content that holds JSON is decoded into the
// payload; other text is passed through as a string.
func (c *Client) Execute(ctx context.Context, name string, params map[string]any) (*toolservice.Result, error) {
	var result CallToolResult
	err := c.call(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: params}, &result)
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return &toolservice.Result{Success: false, Error: rpcErr.Message}, nil
	}
	if err != nil {
		return nil, err
	}

	text := collectText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported failure"
		}
		return &toolservice.Result{Success: false, Error: text}, nil
	}
	return &toolservice.Result{Success: true, Payload: decodePayload(text)}, nil
}

// Health pings the server and reports the version announced at initialize.
func (c *Client) Health(ctx context.Context) (*toolservice.Health, error) {
	if err := c.call(ctx, MethodPing, nil, nil); err != nil {
		return nil, err
	}
	info := c.ServerInfo()
	return &toolservice.Health{Status: "healthy", Version: info.Version}, nil
}

// Close ends the session. The server is not notified; HTTP sessions expire
// on their own.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = false
	c.setSessionID("")
	return nil
}

// call sends a request after the handshake, redoing the handshake once if
// the server forgot the session.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	err := c.roundTrip(ctx, method, params, out)
	var serr *toolservice.StatusError
	if errors.As(err, &serr) && serr.StatusCode == http.StatusNotFound {
		c.mu.Lock()
		c.initialized = false
		c.setSessionID("")
		reconnectErr := c.connectLocked(ctx)
		c.mu.Unlock()
		if reconnectErr != nil {
			return reconnectErr
		}
		return c.roundTrip(ctx, method, params, out)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method string, params, out any) error {
	id := atomic.AddInt64(&c.nextID, 1)
	req, err := NewRequest(id, method, params)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	var resp Response
	if err := c.send(ctx, req, &resp); err != nil {
		return err
	}
	if got := responseID(resp.ID); got != id {
		return fmt.Errorf("response id mismatch: sent %d, got %v", id, resp.ID)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// send posts one message. resp is nil for notifications.
func (c *Client) send(ctx context.Context, msg *Request, resp *Response) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	if sid := c.getSessionID(); sid != "" {
		httpReq.Header.Set(sessionHeader, sid)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", toolservice.ErrUnavailable, msg.Method, err)
	}
	defer httpResp.Body.Close()

	if sid := httpResp.Header.Get(sessionHeader); sid != "" {
		c.setSessionID(sid)
	}

	// Accept 200 OK and 202 Accepted (notifications)
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4<<10))
		return &toolservice.StatusError{Op: msg.Method, StatusCode: httpResp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if resp == nil {
		return nil
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	parsed, err := ParseResponse(body)
	if err != nil {
		return err
	}
	*resp = *parsed
	return nil
}

func (c *Client) getSessionID() string {
	c.sidMu.Lock()
	defer c.sidMu.Unlock()
	return c.sessionID
}

func (c *Client) setSessionID(id string) {
	c.sidMu.Lock()
	c.sessionID = id
	c.sidMu.Unlock()
}

func collectText(content []Content) string {
	var parts []string
	for _, item := range content {
		if item.Type == ContentTypeText && item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func decodePayload(text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v
	}
	return text
}
