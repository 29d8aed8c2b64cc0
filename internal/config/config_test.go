package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestLoad_Defaults(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// 验证默认值
	if cfg.Gateway.Port != 8080 {
		t.Errorf("gateway.port = %d, want 8080", cfg.Gateway.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log.level = %q, want info", cfg.Log.Level)
	}
	if cfg.Invoker.MaxAttempts != 2 {
		t.Errorf("invoker.max_attempts = %d, want 2", cfg.Invoker.MaxAttempts)
	}
	if cfg.Invoker.CallTimeout != 60*time.Second {
		t.Errorf("invoker.call_timeout = %v, want 60s", cfg.Invoker.CallTimeout)
	}
	if cfg.Invoker.Backoff.InitialDelay != 0 {
		t.Errorf("invoker.backoff.initial_delay = %v, want 0", cfg.Invoker.Backoff.InitialDelay)
	}
	if cfg.Workflow.MaxQueryLength != 1000 {
		t.Errorf("workflow.max_query_length = %d, want 1000", cfg.Workflow.MaxQueryLength)
	}
	if cfg.Workflow.HistoryLimit != 10 {
		t.Errorf("workflow.history_limit = %d, want 10", cfg.Workflow.HistoryLimit)
	}
	if cfg.ToolService.CatalogTTL != 5*time.Minute {
		t.Errorf("tool_service.catalog_ttl = %v, want 5m", cfg.ToolService.CatalogTTL)
	}
	if cfg.Oracle.Backend != "heuristic" {
		t.Errorf("oracle.backend = %q, want heuristic", cfg.Oracle.Backend)
	}
	if cfg.Cron.Prune != "@hourly" {
		t.Errorf("cron.prune = %q, want @hourly", cfg.Cron.Prune)
	}
}

func TestLoad_FromFile(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `
gateway:
  port: 9000
tool_service:
  base_url: "http://tools.internal:3001"
  transport: mcp
invoker:
  max_attempts: 4
  backoff:
    initial_delay: 250ms
`
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Gateway.Port != 9000 {
		t.Errorf("gateway.port = %d, want 9000", cfg.Gateway.Port)
	}
	if cfg.ToolService.BaseURL != "http://tools.internal:3001" {
		t.Errorf("tool_service.base_url = %q", cfg.ToolService.BaseURL)
	}
	if cfg.ToolService.Transport != "mcp" {
		t.Errorf("tool_service.transport = %q, want mcp", cfg.ToolService.Transport)
	}
	if cfg.Invoker.MaxAttempts != 4 {
		t.Errorf("invoker.max_attempts = %d, want 4", cfg.Invoker.MaxAttempts)
	}
	if cfg.Invoker.Backoff.InitialDelay != 250*time.Millisecond {
		t.Errorf("invoker.backoff.initial_delay = %v, want 250ms", cfg.Invoker.Backoff.InitialDelay)
	}

	// 未在文件中指定的值使用默认值
	if cfg.Invoker.CallTimeout != 60*time.Second {
		t.Errorf("invoker.call_timeout should keep default, got %v", cfg.Invoker.CallTimeout)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	Reset()
	defer Reset()

	t.Setenv("SLEUTH_GATEWAY_PORT", "7777")
	t.Setenv("SLEUTH_ORACLE_BACKEND", "ollama")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Gateway.Port != 7777 {
		t.Errorf("gateway.port = %d, want 7777", cfg.Gateway.Port)
	}
	if cfg.Oracle.Backend != "ollama" {
		t.Errorf("oracle.backend = %q, want ollama", cfg.Oracle.Backend)
	}
}

func TestLoad_Priority(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("gateway:\n  port: 9000\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// 环境变量优先级高于配置文件
	t.Setenv("SLEUTH_GATEWAY_PORT", "7777")

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Gateway.Port != 7777 {
		t.Errorf("ENV should override file: gateway.port = %d, want 7777", cfg.Gateway.Port)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	Reset()
	defer Reset()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SLEUTH_LOG_LEVEL=debug\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)
	t.Cleanup(func() { _ = os.Unsetenv("SLEUTH_LOG_LEVEL") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug from .env", cfg.Log.Level)
	}
}

func TestSetAndSave(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := Load(configFile); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := Set("invoker.max_attempts", 5); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if GetConfig().Invoker.MaxAttempts != 5 {
		t.Errorf("in-memory invoker.max_attempts = %d, want 5", GetConfig().Invoker.MaxAttempts)
	}

	// 验证文件已写入
	Reset()
	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if cfg.Invoker.MaxAttempts != 5 {
		t.Errorf("persisted invoker.max_attempts = %d, want 5", cfg.Invoker.MaxAttempts)
	}
}

func TestGetConfig(t *testing.T) {
	Reset()
	defer Reset()

	if GetConfig() != nil {
		t.Error("GetConfig should return nil before Load")
	}

	if _, err := Load(""); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if GetConfig() == nil {
		t.Fatal("GetConfig returned nil after Load")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("gateway:\n  port: [invalid\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configFile); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load should not fail for nonexistent file: %v", err)
	}
	if cfg.Gateway.Port != 8080 {
		t.Errorf("gateway.port = %d, want default 8080", cfg.Gateway.Port)
	}
}

func TestSave_WithoutPath(t *testing.T) {
	Reset()
	defer Reset()

	if _, err := Load(""); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := Save(); err == nil {
		t.Error("Save should fail without config path")
	}
}

func TestWatch_WithoutPath(t *testing.T) {
	Reset()
	defer Reset()

	if _, err := Load(""); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if Watch(func(*Config, fsnotify.Event) {}) {
		t.Error("Watch should not start without a config file")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(configFile); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changed := make(chan string, 4)
	if !Watch(func(cfg *Config, _ fsnotify.Event) { changed <- cfg.Log.Level }) {
		t.Fatal("Watch did not start")
	}

	if err := os.WriteFile(configFile, []byte("log:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case level := <-changed:
			if level == "debug" {
				return
			}
		case <-timeout:
			t.Fatal("config change not observed")
		}
	}
}
