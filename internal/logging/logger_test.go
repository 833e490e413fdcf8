package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "relay.log")

	l, err := New(path, "debug")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.WithTask("task-1").Info("created", "subtasks", 3)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if entry["msg"] != "created" || entry["task_id"] != "task-1" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["subtasks"] != float64(3) {
		t.Errorf("subtasks = %v, want 3", entry["subtasks"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "WARN")

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("expected warn entry, got %q", out)
	}
}

func TestNopLogger(t *testing.T) {
	l := Nop()
	// None of these may panic.
	l.Info("x")
	l.With("k", "v").Error("y")
	if err := l.Close(); err != nil {
		t.Errorf("Close on nop logger = %v", err)
	}
}
