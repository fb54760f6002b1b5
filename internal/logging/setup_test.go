package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"invalid", slog.LevelInfo},
		{"  debug  ", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSetupWithConfigJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("info", "json", &buf)

	slog.Info("control plane listening", "addr", "127.0.0.1:4732")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v (output: %s)", err, buf.String())
	}
	if msg, ok := entry["msg"].(string); !ok || msg != "control plane listening" {
		t.Errorf("msg = %v, want %q", entry["msg"], "control plane listening")
	}
	if addr, ok := entry["addr"].(string); !ok || addr != "127.0.0.1:4732" {
		t.Errorf("addr = %v, want %q", entry["addr"], "127.0.0.1:4732")
	}
}

func TestSetupWithConfigTextFormat(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("info", "text", &buf)

	slog.Info("agent process exited", "workspace_id", "ws-1")

	output := buf.String()
	if !strings.Contains(output, "agent process exited") {
		t.Errorf("text output should contain message, got: %s", output)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err == nil {
		t.Errorf("text format should not parse as JSON")
	}
}

func TestSetupWithConfigLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("warn", "json", &buf)

	slog.Info("filtered below warn")
	if buf.Len() > 0 {
		t.Errorf("INFO should be filtered at WARN level, got: %s", buf.String())
	}

	slog.Warn("respawn failed during worktree_setup_script propagation")
	if buf.Len() == 0 {
		t.Error("WARN should not be filtered at WARN level")
	}
}

func TestLevelVarRuntimeChange(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("error", "json", &buf)

	slog.Info("before change")
	if buf.Len() > 0 {
		t.Errorf("INFO should be filtered at ERROR level")
	}

	// The control plane's --log-level flag is read once at startup, but
	// Level stays mutable so a future admin endpoint could adjust it live.
	Level.Set(slog.LevelDebug)

	slog.Debug("after change")
	if buf.Len() == 0 {
		t.Error("DEBUG should pass after level change to DEBUG")
	}
}

func TestSlogWriterBridgesStdlib(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("info", "json", &buf)

	// A dependency that still calls the stdlib logger (e.g. a vendored
	// git helper) must show up as structured output, not raw text.
	stdLogger := slog.Default()
	w := newSlogWriter(stdLogger)
	_, _ = w.Write([]byte("exec: git worktree add failed\n"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse bridged log: %v", err)
	}
	if msg, ok := entry["msg"].(string); !ok || msg != "exec: git worktree add failed" {
		t.Errorf("msg = %v, want %q", entry["msg"], "exec: git worktree add failed")
	}
	if src, ok := entry["source"].(string); !ok || src != "stdlib" {
		t.Errorf("source = %v, want %q", entry["source"], "stdlib")
	}
}

// TestComponentTagsLogger exercises the per-subsystem tagging convention
// that internal/workspace, internal/worktree, and internal/controlplane all
// use to label their loggers (§4.14).
func TestComponentTagsLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	Component(base, "workspace_registry").Info("workspace registered")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v (output: %s)", err, buf.String())
	}
	if got, ok := entry["component"].(string); !ok || got != "workspace_registry" {
		t.Errorf("component = %v, want %q", entry["component"], "workspace_registry")
	}
}
