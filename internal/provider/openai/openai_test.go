package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleuth/internal/provider"
)

func TestProvider_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		assert.Equal(t, 512, req.MaxTokens)

		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":2,"completion_tokens":3,"total_tokens":5}}`))
	}))
	defer server.Close()

	p := New(Config{APIKey: "sk-test", Endpoint: server.URL + "/v1/", Model: "gpt-test", MaxTokens: 512})
	resp, err := p.Chat(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		JSON:     true,
	})

	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestProvider_ChatErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   provider.ErrorCode
	}{
		{"auth", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key","type":"invalid_request_error"}}`, provider.ErrCodeAuthFailed},
		{"context", http.StatusBadRequest, `{"error":{"message":"This model's maximum context length is 128000 tokens","type":"invalid_request_error"}}`, provider.ErrCodeContextWindowExceeded},
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`, provider.ErrCodeRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := New(Config{Endpoint: server.URL}).Chat(context.Background(), provider.ChatRequest{
				Messages: []provider.Message{{Role: "user", Content: "hi"}},
			})
			var pe *provider.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.code, pe.Code)
		})
	}
}

func TestProvider_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"Resource"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":" 77"},"finish_reason":"stop"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	events, err := New(Config{Endpoint: server.URL}).Stream(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	var tokens []string
	resp, err := provider.Collect(events, func(d string) { tokens = append(tokens, d) })
	require.NoError(t, err)
	assert.Equal(t, []string{"Resource", " 77"}, tokens)
	assert.Equal(t, "Resource 77", resp.Content)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 3, resp.Usage.TotalTokens)
}

func TestProcessStream_ErrorChunk(t *testing.T) {
	body := "data: {\"error\":{\"message\":\"overloaded\",\"type\":\"server_error\"}}\n\n"
	var got []provider.ChatEvent
	for ev := range ProcessStream(io.NopCloser(strings.NewReader(body))) {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, provider.EventTypeError, got[0].Type)
	assert.Contains(t, got[0].Error.Error(), "overloaded")
}

func TestProcessStream_NoDoneMarker(t *testing.T) {
	body := ": keep-alive\n\ndata: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"},\"finish_reason\":\"length\"}]}\n\n"
	var got []provider.ChatEvent
	for ev := range ProcessStream(io.NopCloser(strings.NewReader(body))) {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, provider.EventTypeDone, got[1].Type)
	assert.Equal(t, provider.FinishReasonLength, got[1].FinishReason)
}

func TestProvider_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":"gpt-test"}]}`))
	}))
	defer server.Close()

	assert.NoError(t, New(Config{Endpoint: server.URL + "/v1"}).Ping(context.Background()))
}
