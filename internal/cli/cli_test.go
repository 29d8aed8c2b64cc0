package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleuth/internal/config"
	"sleuth/internal/gateway/handlers"
	"sleuth/internal/storage"
	"sleuth/internal/toolservice"
)

func newToolServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "version": "1.2.0"})
	})
	mux.HandleFunc("/api/mcp/tools", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"tools": []toolservice.Tool{
			{Name: "search_resources", Description: "Find resources by name"},
			{Name: "get_resource_by_id", Description: "Fetch one resource", InputSchema: json.RawMessage(`{"type":"object"}`)},
		}})
	})
	mux.HandleFunc("/api/mcp/execute", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ToolName string `json:"tool_name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ToolName == "broken_tool" {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "boom"})
			return
		}
		result := map[string]any{"items": []any{}}
		if req.ToolName == "search_resources" {
			result = map[string]any{"resources": []any{map[string]any{"id": 77, "resourceName": "vector-0"}}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "result": result})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

// writeConfig writes a config file pointing at toolURL with a sqlite store
// in dir.
func writeConfig(t *testing.T, dir, toolURL string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := strings.Join([]string{
		"gateway:",
		"  port: 9090",
		"tool_service:",
		"  base_url: " + toolURL,
		"  transport: rest",
		"oracle:",
		"  backend: heuristic",
		"invoker:",
		"  max_attempts: 1",
		"log:",
		"  level: error",
		"storage:",
		"  driver: sqlite",
		"  path: " + filepath.Join(dir, "data.db"),
		"openai:",
		"  api_key: sk-secret-value",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Cleanup(config.Reset)

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersion_JSON(t *testing.T) {
	out, _, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, CurrentBuild().Version, info.Version)
	assert.Contains(t, info.Platform, "/")
	assert.NotEmpty(t, info.GoVersion)
}

func TestAsk_JSONThenSessionCommands(t *testing.T) {
	ts := newToolServer(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, ts.URL)

	out, stderr, err := execute(t, "--config", cfgPath, "ask", "--json", "--session", "cli-1", "status of vector-0")
	require.NoError(t, err)
	assert.Contains(t, stderr, "session: cli-1")
	assert.Contains(t, stderr, "search_resources")

	var resp handlers.ChatResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "cli-1", resp.SessionID)
	assert.NotEmpty(t, resp.Response)
	assert.Contains(t, resp.Metadata.ToolsUsed, "search_resources")

	out, _, err = execute(t, "--config", cfgPath, "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "cli-1")

	out, _, err = execute(t, "--config", cfgPath, "session", "show", "cli-1", "--json")
	require.NoError(t, err)
	var detail struct {
		storage.Checkpoint
		Turns []storage.Turn `json:"turns"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	assert.Equal(t, 1, detail.TurnCount)
	assert.Len(t, detail.History, 2)
	require.Len(t, detail.Turns, 1)
	assert.Equal(t, "status of vector-0", detail.Turns[0].Query)

	out, _, err = execute(t, "--config", cfgPath, "session", "delete", "cli-1")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	_, _, err = execute(t, "--config", cfgPath, "session", "show", "cli-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestAsk_StreamsText(t *testing.T) {
	ts := newToolServer(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, ts.URL)

	out, _, err := execute(t, "--config", cfgPath, "ask", "--ephemeral", "status", "of", "vector-0")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
	assert.NotContains(t, out, "\033[")

	_, err = os.Stat(filepath.Join(dir, "data.db"))
	assert.True(t, os.IsNotExist(err), "ephemeral ask must not open the sqlite store")
}

func TestAsk_RequiresQuery(t *testing.T) {
	ts := newToolServer(t)
	cfgPath := writeConfig(t, t.TempDir(), ts.URL)

	_, _, err := execute(t, "--config", cfgPath, "ask", "--ephemeral")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query is required")
}

func TestReadQuery(t *testing.T) {
	var prompt bytes.Buffer

	q, err := readQuery(strings.NewReader("ignored"), &prompt, []string{" open", "incidents "})
	require.NoError(t, err)
	assert.Equal(t, "open incidents", q)

	q, err = readQuery(strings.NewReader("  tickets for vector-0\n"), &prompt, nil)
	require.NoError(t, err)
	assert.Equal(t, "tickets for vector-0", q)
	assert.Empty(t, prompt.String())
}

func TestTool_ListInfoRun(t *testing.T) {
	ts := newToolServer(t)
	cfgPath := writeConfig(t, t.TempDir(), ts.URL)

	out, _, err := execute(t, "--config", cfgPath, "tools", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "search_resources")
	assert.Contains(t, out, "Total: 2 tools")

	out, _, err = execute(t, "--config", cfgPath, "tools", "info", "get_resource_by_id")
	require.NoError(t, err)
	assert.Contains(t, out, "Fetch one resource")
	assert.Contains(t, out, `"type": "object"`)

	_, _, err = execute(t, "--config", cfgPath, "tools", "info", "nope")
	assert.Error(t, err)

	out, _, err = execute(t, "--config", cfgPath, "tool", "run", "search_resources", "--args", `{"query":"vector-0"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "vector-0")

	_, _, err = execute(t, "--config", cfgPath, "tool", "run", "broken_tool")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, _, err = execute(t, "--config", cfgPath, "tool", "run", "search_resources", "--args", "{")
	assert.Error(t, err)
}

func TestTool_ListFallsBack(t *testing.T) {
	ts := newToolServer(t)
	cfgPath := writeConfig(t, t.TempDir(), ts.URL)
	ts.Close()

	out, _, err := execute(t, "--config", cfgPath, "tools", "--json")
	require.NoError(t, err)

	var listing struct {
		Source string             `json:"source"`
		Tools  []toolservice.Tool `json:"tools"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listing))
	assert.Equal(t, "fallback", listing.Source)
	assert.Len(t, listing.Tools, len(toolservice.FallbackCatalog()))
}

func TestConfig_GetSetListPath(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "http://127.0.0.1:1")

	out, _, err := execute(t, "--config", cfgPath, "config", "get", "gateway.port")
	require.NoError(t, err)
	assert.Equal(t, "9090\n", out)

	_, _, err = execute(t, "--config", cfgPath, "config", "get", "no.such.key")
	assert.Error(t, err)

	out, _, err = execute(t, "--config", cfgPath, "config", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "openai.api_key = sk***********ue")
	assert.NotContains(t, out, "sk-secret-value")

	_, _, err = execute(t, "--config", cfgPath, "config", "set", "oracle.backend", "ollama")
	require.NoError(t, err)
	out, _, err = execute(t, "--config", cfgPath, "config", "get", "oracle.backend")
	require.NoError(t, err)
	assert.Equal(t, "ollama\n", out)

	out, _, err = execute(t, "--config", cfgPath, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, cfgPath+"\n", out)
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sleuth", "config.yaml")

	out, _, err := execute(t, "--config", cfgPath, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized sleuth")
	assert.FileExists(t, cfgPath)
	assert.FileExists(t, filepath.Join(dir, "sleuth", "data.db"))

	_, _, err = execute(t, "--config", cfgPath, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	_, _, err = execute(t, "--config", cfgPath, "init", "--force")
	require.NoError(t, err)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "heuristic", cfg.Oracle.Backend)
	assert.Equal(t, filepath.Join(dir, "sleuth", "data.db"), cfg.Storage.Path)
}

func TestResolveLogFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv(config.HomeEnv, home)

	got, err := resolveLogFile("")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = resolveLogFile("/var/log/sleuth.log")
	require.NoError(t, err)
	assert.Equal(t, "/var/log/sleuth.log", got)

	got, err = resolveLogFile("sleuth.log")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs", "sleuth.log"), got)
	assert.DirExists(t, filepath.Join(home, "logs"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
}
