package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestInitWithFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "sleuth.log")
	defer func() { _ = Close() }()

	if err := Init(LogConfig{Level: "debug", Format: "json", File: logPath}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	Info().Str("session_id", "s-1").Msg("turn finished")

	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "turn finished") {
		t.Errorf("log file missing message, got: %s", content)
	}
}

func TestInitWithInvalidFile(t *testing.T) {
	defer func() { _ = Close() }()

	err := Init(LogConfig{Level: "info", Format: "json", File: "/nonexistent/directory/test.log"})
	if err == nil {
		t.Error("expected error for invalid file path")
	}
}

func TestComponentTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "debug")

	log := Component("invoker")
	log.Info().Msg("attempt failed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	if entry["component"] != "invoker" {
		t.Errorf("component = %v, want invoker", entry["component"])
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "info")
	defer SetLevel("info")

	SetLevel("error")
	Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("info entry written at error level: %s", buf.String())
	}

	SetLevel("debug")
	Debug().Msg("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("debug entry missing after lowering level")
	}
}

func TestGetWithoutInit(t *testing.T) {
	mu.Lock()
	initialized = false
	mu.Unlock()

	if Get() == nil {
		t.Fatal("Get() should return a default logger when not initialized")
	}
}
