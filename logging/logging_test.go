package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFormats(t *testing.T) {
	var text bytes.Buffer
	New(Config{Writer: &text}).Info("hello", "port", 8080)
	if !strings.Contains(text.String(), "msg=hello") || !strings.Contains(text.String(), "port=8080") {
		t.Fatalf("expected text output, got %q", text.String())
	}

	var js bytes.Buffer
	New(Config{Writer: &js, Format: " JSON "}).Info("hello")
	var payload map[string]any
	if err := json.Unmarshal(js.Bytes(), &payload); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", js.String(), err)
	}
	if payload["msg"] != "hello" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
		{" DeBuG ", slog.LevelDebug},
	}

	for _, tc := range testCases {
		if got := parseLevel(tc.input); got != tc.expected {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Level: "warn"})

	logger.Info("dropped")
	logger.Warn("kept")

	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent(logger, "engine").Info("component set")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to unmarshal log output: %v", err)
	}
	if payload["component"] != "engine" {
		t.Fatalf("expected component \"engine\", got %v", payload["component"])
	}

	if WithComponent(nil, "x") == nil {
		t.Fatal("expected a logger for nil input")
	}
}

func TestInitSetsDefaultLogger(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	logger := Init(Config{Writer: &buf, Level: "debug"})
	if logger != slog.Default() {
		t.Fatalf("expected Init to replace the default logger")
	}

	slog.Debug("hello world")
	if !strings.Contains(buf.String(), "hello world") {
		t.Fatalf("expected output to include message, got %q", buf.String())
	}
}

func TestValidFormat(t *testing.T) {
	for _, f := range []string{"text", "json", "JSON", ""} {
		if !ValidFormat(f) {
			t.Errorf("expected %q to be valid", f)
		}
	}
	if ValidFormat("xml") {
		t.Error("expected xml to be invalid")
	}
}
