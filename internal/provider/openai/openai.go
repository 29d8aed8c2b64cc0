package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"sleuth/internal/provider"
	"sleuth/pkg/logger"
)

const name = "openai"

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Pinger   = (*Provider)(nil)
)

// Provider calls /chat/completions on an OpenAI-compatible server.
type Provider struct {
	apiKey       string
	endpoint     string
	model        string
	maxTokens    int
	httpClient   *http.Client // overall timeout
	streamClient *http.Client // header timeout only; bodies may stream for long
}

// New creates a provider. The endpoint is the API root including /v1.
func New(cfg Config) *Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Provider{
		apiKey:     cfg.APIKey,
		endpoint:   strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return name
}

// Models returns the configured model.
func (p *Provider) Models() []string {
	return []string{p.model}
}

// Chat sends a non-streaming request.
func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	body := p.buildRequest(req, false)
	logger.Debug().Str("model", body.Model).Msg("OpenAI Chat request")

	resp, err := p.post(ctx, p.httpClient, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &provider.ProviderError{Code: provider.ErrCodeNetworkError, Message: "read response", Provider: name, Retryable: true, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorResponse(resp.StatusCode, data)
	}
	if len(data) == 0 {
		return nil, provider.NewProviderError(provider.ErrCodeServiceUnavailable, "empty response body", name, true)
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &provider.ProviderError{Code: provider.ErrCodeInvalidResponse, Message: "malformed chat response", Provider: name, Err: err}
	}
	if out.Error != nil {
		return nil, provider.NewProviderError(provider.ErrCodeUnknown, out.Error.Message, name, false)
	}

	result := &provider.ChatResponse{FinishReason: provider.FinishReasonStop, Usage: convertUsage(out.Usage)}
	if len(out.Choices) > 0 {
		choice := out.Choices[0]
		if choice.Message.Content != nil {
			result.Content = *choice.Message.Content
		}
		if choice.FinishReason == provider.FinishReasonLength {
			result.FinishReason = provider.FinishReasonLength
		}
	}
	return result, nil
}

// Stream sends a streaming request.
func (p *Provider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	body := p.buildRequest(req, true)
	logger.Debug().Str("model", body.Model).Int("message_count", len(body.Messages)).Msg("OpenAI Stream request")

	resp, err := p.post(ctx, p.streamClient, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errorResponse(resp.StatusCode, data)
	}
	return ProcessStream(resp.Body), nil
}

// Ping checks that GET /models answers.
func (p *Provider) Ping(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, p.endpoint+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.FromStatus(name, resp.StatusCode, "")
	}
	var models modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return &provider.ProviderError{Code: provider.ErrCodeInvalidResponse, Message: "malformed models response", Provider: name, Err: err}
	}
	return nil
}

func (p *Provider) buildRequest(req provider.ChatRequest, stream bool) *chatRequest {
	model := strings.TrimPrefix(req.Model, "openai:")
	if model == "" {
		model = p.model
	}

	out := &chatRequest{
		Model:     model,
		Messages:  make([]chatMessage, 0, len(req.Messages)),
		Stream:    stream,
		MaxTokens: p.maxTokens,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		out.Temperature = &temp
	}
	if stream {
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	if req.JSON {
		out.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	for _, m := range req.Messages {
		content := m.Content
		out.Messages = append(out.Messages, chatMessage{Role: m.Role, Content: &content})
	}
	return out
}

func (p *Provider) post(ctx context.Context, client *http.Client, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b, ok := body.(*chatRequest); ok && b.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	p.authorize(req)

	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	return resp, nil
}

func (p *Provider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

func errorResponse(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var e chatResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != nil {
		msg = e.Error.Message
	}
	logger.Error().Int("status", status).Str("body", msg).Msg("OpenAI error response")
	return provider.FromStatus(name, status, msg)
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &provider.ProviderError{Code: provider.ErrCodeTimeout, Message: "request timeout", Provider: name, Retryable: true, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &provider.ProviderError{Code: provider.ErrCodeServiceUnavailable, Message: "cannot reach chat completions endpoint", Provider: name, Retryable: true, Err: err}
}
