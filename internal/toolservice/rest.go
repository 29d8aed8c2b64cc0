package toolservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	toolsPath   = "/api/mcp/tools"
	executePath = "/api/mcp/execute"
	healthPath  = "/health"

	maxErrorBody = 4 << 10
)

// RESTConfig configures RESTClient.
type RESTConfig struct {
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
}

// RESTClient talks to the tool backend over its HTTP API. It makes exactly
// one request per call; retries belong to the invoker.
type RESTClient struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

// NewRESTClient creates a REST tool service client.
func NewRESTClient(cfg RESTConfig) *RESTClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &RESTClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		headers:    cfg.Headers,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type listToolsResponse struct {
	Tools []Tool `json:"tools"`
}

type executeRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

type executeResponse struct {
	Success *bool  `json:"success"`
	Result  any    `json:"result"`
	Error   string `json:"error"`
}

// ListTools fetches the catalog.
func (c *RESTClient) ListTools(ctx context.Context) ([]Tool, error) {
	var resp listToolsResponse
	if err := c.do(ctx, http.MethodGet, toolsPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// Execute runs one tool.
func (c *RESTClient) Execute(ctx context.Context, name string, params map[string]any) (*Result, error) {
	if params == nil {
		params = map[string]any{}
	}
	var resp executeResponse
	if err := c.do(ctx, http.MethodPost, executePath, executeRequest{ToolName: name, Parameters: params}, &resp); err != nil {
		return nil, err
	}

	// A missing success flag on a 200 counts as success.
	success := resp.Success == nil || *resp.Success
	res := &Result{Success: success, Payload: resp.Result, Error: resp.Error}
	if !success && res.Error == "" {
		res.Error = "tool reported failure"
	}
	return res, nil
}

// Health reads the backend's health endpoint.
func (c *RESTClient) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, healthPath, nil, &h); err != nil {
		return nil, err
	}
	if h.Status == "" {
		h.Status = "healthy"
	}
	return &h, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: method + " " + path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
