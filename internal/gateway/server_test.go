package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleuth/internal/config"
	"sleuth/internal/gateway/handlers"
	"sleuth/internal/gateway/middleware"
	"sleuth/internal/invoker"
	"sleuth/internal/oracle"
	"sleuth/internal/storage"
	"sleuth/internal/toolservice"
	"sleuth/internal/workflow"
)

// stubTools serves the fallback catalog and one search payload.
type stubTools struct{}

func (stubTools) ListTools(context.Context) ([]toolservice.Tool, error) {
	return toolservice.FallbackCatalog(), nil
}

func (stubTools) Execute(_ context.Context, name string, _ map[string]any) (*toolservice.Result, error) {
	if name == "search_resources" {
		return &toolservice.Result{Success: true, Payload: map[string]any{
			"resources": []any{map[string]any{"id": float64(77), "resourceName": "vector-0", "status": "healthy"}},
		}}, nil
	}
	return &toolservice.Result{Success: true, Payload: map[string]any{"items": []any{}}}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{Host: "127.0.0.1", CORSOrigins: []string{"*"}},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	h := oracle.NewHeuristic()
	engine, err := workflow.New(workflow.Deps{
		Oracle:   h,
		Catalog:  stubTools{},
		Executor: invoker.New(stubTools{}, invoker.Config{MaxAttempts: 1}),
		Store:    storage.NewMemoryStore(),
	}, workflow.DefaultConfig().WithTurnTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Shutdown(context.Background()) })

	s, err := NewServer(cfg, Deps{
		Engine:  engine,
		Tools:   stubTools{},
		Checks:  map[string]handlers.Check{"tool_service": func(context.Context) error { return nil }},
		Version: "v1.2.3",
	})
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(testConfig(), Deps{})
	assert.Error(t, err)
}

func TestServerHealthEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "v1.2.3", w.Header().Get(middleware.VersionHeader))

	var resp handlers.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "up", resp.Services["tool_service"])
}

func TestServerChatAndSession(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, http.MethodPost, "/api/chat", `{"message":"status of vector-0","session_id":"gw-1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var chat handlers.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chat))
	assert.Equal(t, "gw-1", chat.SessionID)
	assert.NotEmpty(t, chat.Response)
	assert.Contains(t, chat.Metadata.ToolsUsed, "search_resources")
	assert.NotEmpty(t, chat.ForwardLinks)

	w = do(s, http.MethodGet, "/api/sessions/gw-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sess map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, float64(1), sess["turn_count"])
	assert.Len(t, sess["history"], 2)

	w = do(s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"running"`)

	w = do(s, http.MethodDelete, "/api/sessions/gw-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = do(s, http.MethodGet, "/api/sessions/gw-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServerChatBadBody(t *testing.T) {
	s := newTestServer(t, testConfig())
	w := do(s, http.MethodPost, "/api/chat", `{"session_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServerRoutes(t *testing.T) {
	s := newTestServer(t, testConfig())

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/capabilities", "").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/jobs", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/nope", "").Code)

	w := do(s, http.MethodOptions, "/api/chat", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
}

func TestServerMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	s := newTestServer(t, cfg)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/metrics", "").Code)
}

func TestServerRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	s := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/status", "").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/status", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(s, http.MethodGet, "/api/status", "").Code)
}

func TestServerServeAndShutdown(t *testing.T) {
	s := newTestServer(t, testConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
