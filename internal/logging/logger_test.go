package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/meccsim/internal/agent"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"info", "info", slog.LevelInfo},
		{"debug", "debug", slog.LevelDebug},
		{"trace", "trace", LevelTrace},
		{"uppercase INFO", "INFO", slog.LevelInfo},
		{"uppercase DEBUG", "DEBUG", slog.LevelDebug},
		{"uppercase TRACE", "TRACE", LevelTrace},
		{"mixed case Debug", "Debug", slog.LevelDebug},
		{"unknown defaults to info", "unknown", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name  string
		level string
	}{
		{"info level", "info"},
		{"debug level", "debug"},
		{"trace level", "trace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)
			if logger == nil {
				t.Fatal("NewLogger returned nil")
			}
		})
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		logAtDebug bool
		logAtInfo  bool
	}{
		{"info filters debug", "info", false, true},
		{"debug passes debug", "debug", true, true},
		{"trace passes debug", "trace", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)

			logger.Debug("debug message")
			hasDebug := strings.Contains(buf.String(), "debug message")
			if hasDebug != tt.logAtDebug {
				t.Errorf("debug message visible = %v, want %v (buf: %q)", hasDebug, tt.logAtDebug, buf.String())
			}

			buf.Reset()
			logger.Info("info message")
			hasInfo := strings.Contains(buf.String(), "info message")
			if hasInfo != tt.logAtInfo {
				t.Errorf("info message visible = %v, want %v (buf: %q)", hasInfo, tt.logAtInfo, buf.String())
			}
		})
	}
}

func TestLevelTrace(t *testing.T) {
	// Trace should be below debug (more verbose)
	if LevelTrace >= slog.LevelDebug {
		t.Errorf("LevelTrace (%d) should be less than LevelDebug (%d)", LevelTrace, slog.LevelDebug)
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"info", "DEBUG", "Trace"} {
		if !ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = false", s)
		}
	}
	for _, s := range []string{"", "warn", "verbose"} {
		if ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = true", s)
		}
	}
}

func TestNewLogger_TraceLabel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("trace", &buf)
	logger.Log(context.Background(), LevelTrace, "step complete", "step", 3)
	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("trace record not labelled: %q", buf.String())
	}
}

func TestNewEventLogger_InfoLevel(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "info")

	if el != nil {
		t.Error("expected nil EventLogger at info level")
	}

	// Nil logger should still be safe to use
	el.Log(map[string]any{"event": "test"})

	if _, err := os.Stat(filepath.Join(dir, EventsFile)); err == nil {
		t.Error("events.jsonl should not exist at info level")
	}
}

func readEvents(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse JSONL entry %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestEventLogger_DebugLevel(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "debug")
	if el == nil {
		t.Fatal("expected EventLogger at debug level")
	}
	defer el.Close()

	p := agent.NewPerson(7, 0, []float64{0.1}, []float64{0}, 1, nil)
	s := &agent.Service{ID: 2, Category: "GP", Trained: true}

	el.Contact(1, p, s, false)
	el.Contact(1, p, s, true)
	el.Transition(1, p, 0, 1, agent.Forward)

	events := readEvents(t, filepath.Join(dir, EventsFile))
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (plain contacts are trace only): %v", len(events), events)
	}
	if events[0]["event"] != "intervention" || events[0]["category"] != "GP" || events[0]["person"] != float64(7) {
		t.Errorf("intervention event = %v", events[0])
	}
	if events[1]["event"] != "transition" || events[1]["kind"] != "forward" || events[1]["to"] != float64(1) {
		t.Errorf("transition event = %v", events[1])
	}
	if _, ok := events[0]["time"]; !ok {
		t.Error("expected 'time' field in event")
	}
}

func TestEventLogger_TraceLevelIncludesContacts(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "trace")
	defer el.Close()

	p := agent.NewPerson(1, 0, []float64{0.1}, []float64{0}, 1, nil)
	el.Contact(0, p, &agent.Service{}, false)

	events := readEvents(t, filepath.Join(dir, EventsFile))
	if len(events) != 1 || events[0]["event"] != "contact" {
		t.Errorf("events = %v, want one contact", events)
	}
}

func TestEventLogger_ForRun(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventWriter(&buf, false)
	el.ForRun("run-a").Log(map[string]any{"event": "x"})
	el.Log(map[string]any{"event": "y"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	var first, second map[string]any
	json.Unmarshal([]byte(lines[0]), &first)
	json.Unmarshal([]byte(lines[1]), &second)
	if first["run"] != "run-a" {
		t.Errorf("run = %v, want run-a", first["run"])
	}
	if _, ok := second["run"]; ok {
		t.Error("parent logger should not carry a run label")
	}
}

func TestEventLogger_NilSafety(t *testing.T) {
	var el *EventLogger
	p := agent.NewPerson(0, 0, []float64{0.1}, nil, 1, nil)
	el.Log(map[string]any{"event": "should_not_panic"})
	el.Contact(0, p, &agent.Service{}, true)
	el.Transition(0, p, 0, 1, agent.Forward)
	if el.ForRun("x") != nil {
		t.Error("ForRun on nil should return nil")
	}
	el.Close()
}

func TestEventLogger_DoesNotMutateCallerMap(t *testing.T) {
	el := NewEventWriter(&bytes.Buffer{}, false)
	event := map[string]any{"event": "test"}
	el.Log(event)

	if _, hasTime := event["time"]; hasTime {
		t.Error("Log() should not mutate caller's map, but 'time' was injected")
	}
}

func TestEventLogger_LogAfterClose(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "debug")

	el.Log(map[string]any{"event": "before_close"})
	el.Close()

	// Should be a no-op, not panic or error
	el.Log(map[string]any{"event": "after_close"})
	el.ForRun("r").Log(map[string]any{"event": "after_close"})
}

func TestNewEventLogger_CreatesDirWithPermissions(t *testing.T) {
	base := t.TempDir()
	nestedDir := filepath.Join(base, "sub", "dir")

	el := NewEventLogger(nestedDir, "debug")
	if el == nil {
		t.Fatal("expected non-nil EventLogger when dir needs creation")
	}
	defer el.Close()

	el.Log(map[string]any{"event": "perm_test"})

	info, err := os.Stat(filepath.Join(nestedDir, EventsFile))
	if err != nil {
		t.Fatalf("events.jsonl should exist after dir creation: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}
