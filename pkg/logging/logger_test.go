package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WARN, false)
	logger.SetOutput(&buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("INFO entry should be filtered at WARN level, got %q", out)
	}
	if !strings.Contains(out, "WARN: shown") {
		t.Errorf("expected WARN entry, got %q", out)
	}
}

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DEBUG, true)
	logger.SetOutput(&buf)

	logger.WithField("job_id", "abc").Info("snapshot applied", map[string]interface{}{"jobs": 2})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON entry: %v (%q)", err, buf.String())
	}
	if entry.Level != "INFO" || entry.Message != "snapshot applied" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Fields["job_id"] != "abc" {
		t.Errorf("expected job_id field, got %v", entry.Fields)
	}
	if entry.Fields["jobs"] != float64(2) {
		t.Errorf("expected jobs field, got %v", entry.Fields)
	}
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(DEBUG, true)
	parent.SetOutput(&buf)

	_ = parent.WithField("feed", "jobs")
	parent.Info("parent")

	if strings.Contains(buf.String(), "feed") {
		t.Errorf("parent logger picked up child field: %q", buf.String())
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("nothing")
	logger.WithField("a", 1).Error("still nothing")
	if err := logger.Close(); err != nil {
		t.Errorf("Close on nil logger returned %v", err)
	}
}

func TestNewFileLogger(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(dir, "watch", INFO, false)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	logger.Info("written to file")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "watch.log"))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing entry: %q", string(data))
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"error":   ERROR,
		"bogus":   INFO,
	}
	for input, want := range tests {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
