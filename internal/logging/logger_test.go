package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLogger(t *testing.T) {
	t.Run("creates log file in directory", func(t *testing.T) {
		dir := t.TempDir()
		logger, err := NewLogger(Options{Dir: dir, Level: "debug"})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer logger.Close()

		if _, err := os.Stat(filepath.Join(dir, LogFileName)); err != nil {
			t.Errorf("log file was not created: %v", err)
		}
	})

	t.Run("stderr when dir is empty", func(t *testing.T) {
		logger, err := NewLogger(Options{Level: "info"})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if logger.writer != nil {
			t.Error("expected no file writer when dir is empty")
		}
		if err := logger.Close(); err != nil {
			t.Errorf("Close on stderr logger: %v", err)
		}
	})
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn")

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0]["msg"] != "w" || entries[1]["msg"] != "e" {
		t.Errorf("unexpected messages: %v", entries)
	}
}

func TestChildLoggers(t *testing.T) {
	var buf bytes.Buffer
	root := NewWithWriter(&buf, "debug")

	child := root.WithSession("session-0002").
		WithProposal("prop_20260101_agent-a_001").
		WithAgent("agent-a").
		WithStep("classify")
	child.Info("resolved", "classification", "behavioral")
	root.Info("root only")

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	want := map[string]string{
		"session_id":     "session-0002",
		"proposal_id":    "prop_20260101_agent-a_001",
		"agent_id":       "agent-a",
		"step":           "classify",
		"classification": "behavioral",
	}
	for k, v := range want {
		if entries[0][k] != v {
			t.Errorf("%s = %v, want %q", k, entries[0][k], v)
		}
	}
	if _, ok := entries[1]["session_id"]; ok {
		t.Error("parent logger must not inherit child attributes")
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info").With("rfc_id", "RFC-003", 42, "skipped", "count", 2)
	logger.Info("opened")

	entries := decodeLines(t, buf.Bytes())
	if entries[0]["rfc_id"] != "RFC-003" {
		t.Errorf("rfc_id = %v", entries[0]["rfc_id"])
	}
	if _, ok := entries[0]["42"]; ok {
		t.Error("non-string key should be skipped")
	}

	same := NewWithWriter(&buf, "info")
	if same.With() != same {
		t.Error("With() without args should return the receiver")
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Info("discarded")
	logger.WithProposal("p").Error("discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	var nilLogger *Logger
	nilLogger.Info("no panic")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"debug", LevelDebug},
		{"WARN", LevelWarn},
		{"Error", LevelError},
		{"info", LevelInfo},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if len(ValidLevels()) != 4 {
		t.Errorf("ValidLevels() = %v", ValidLevels())
	}
}

func TestConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(Options{Dir: dir})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l := logger.With("worker", n)
			for j := 0; j < 25; j++ {
				l.Info("tick", "j", j)
			}
		}(i)
	}
	wg.Wait()
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(decodeLines(t, data)); got != 200 {
		t.Errorf("got %d lines, want 200", got)
	}
}
