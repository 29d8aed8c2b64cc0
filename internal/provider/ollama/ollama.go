package ollama

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
	"time"

	"sleuth/internal/provider"
	"sleuth/pkg/logger"
)

const name = "ollama"

var (
	_ provider.Provider = (*OllamaProvider)(nil)
	_ provider.Pinger   = (*OllamaProvider)(nil)
)

// OllamaProvider talks to an Ollama server over /api/chat.
type OllamaProvider struct {
	endpoint   string
	model      string
	keepAlive  string
	httpClient *http.Client

	modelsCache []string
	modelsMu    sync.RWMutex
	modelsTime  time.Time
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(cfg Config) *OllamaProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.KeepAlive == "" {
		cfg.KeepAlive = DefaultKeepAlive
	}

	return &OllamaProvider{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		keepAlive:  cfg.KeepAlive,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string {
	return name
}

// Models returns the locally pulled models, cached for five minutes.
func (p *OllamaProvider) Models() []string {
	p.modelsMu.RLock()
	if time.Since(p.modelsTime) < 5*time.Minute && len(p.modelsCache) > 0 {
		models := p.modelsCache
		p.modelsMu.RUnlock()
		return models
	}
	p.modelsMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	models, err := p.fetchModels(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to fetch Ollama models, returning configured model")
		return []string{p.model}
	}

	p.modelsMu.Lock()
	p.modelsCache = models
	p.modelsTime = time.Now()
	p.modelsMu.Unlock()
	return models
}

// Chat sends a non-streaming chat request.
func (p *OllamaProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	body := p.buildRequest(req, false)
	logger.Debug().Str("model", body.Model).Msg("Ollama Chat request")

	resp, err := p.post(ctx, "/api/chat", body)
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

	var out ollamaResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &provider.ProviderError{Code: provider.ErrCodeInvalidResponse, Message: "malformed chat response", Provider: name, Err: err}
	}
	return &provider.ChatResponse{
		Content:      out.Message.Content,
		Usage:        usageOf(&out),
		FinishReason: finishReason(out.DoneReason),
	}, nil
}

// Stream sends a streaming chat request.
func (p *OllamaProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	resp, err := p.post(ctx, "/api/chat", p.buildRequest(req, true))
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

// Ping checks that the server answers /api/tags.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := p.fetchModels(checkCtx)
	return err
}

func (p *OllamaProvider) buildRequest(req provider.ChatRequest, stream bool) *ollamaRequest {
	model := strings.TrimPrefix(req.Model, "ollama:")
	if model == "" {
		model = p.model
	}

	out := &ollamaRequest{
		Model:     model,
		Messages:  make([]ollamaMessage, 0, len(req.Messages)),
		Stream:    stream,
		KeepAlive: p.keepAlive,
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}
	if req.JSON {
		out.Format = "json"
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		out.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}
	return out
}

func (p *OllamaProvider) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	return resp, nil
}

func (p *OllamaProvider) fetchModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.FromStatus(name, resp.StatusCode, "")
	}

	var tags ollamaModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}
	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

func errorResponse(status int, body []byte) error {
	var e ollamaErrorResponse
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		msg = e.Error
	}
	logger.Error().Int("status", status).Str("body", msg).Msg("Ollama error response")
	return provider.FromStatus(name, status, msg)
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &provider.ProviderError{Code: provider.ErrCodeTimeout, Message: "request timeout", Provider: name, Retryable: true, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &provider.ProviderError{Code: provider.ErrCodeServiceUnavailable, Message: "cannot reach Ollama server", Provider: name, Retryable: true, Err: err}
}
