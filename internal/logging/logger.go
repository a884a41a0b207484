// Package logging provides leveled logging and event tracing for meccsim.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - An EventLogger for per-agent JSONL event traces (<data>/events.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/meccsim/internal/agent"
)

// LevelTrace is a custom slog level below Debug. At this level every
// contact is traced, including those that delivered no intervention.
const LevelTrace = slog.LevelDebug - 4

// EventsFile is the name of the event trace inside the data directory.
const EventsFile = "events.jsonl"

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s names a supported level.
func ValidLevel(s string) bool {
	switch strings.ToLower(s) {
	case "info", "debug", "trace":
		return true
	}
	return false
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// EventLogger writes agent events to a JSONL file. It is safe for
// concurrent use. A nil EventLogger is safe to use; all methods are no-ops
// on a nil receiver.
type EventLogger struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	contacts bool
	run      string
}

// NewEventLogger creates an event logger appending to dir/events.jsonl.
// At "info" level it returns nil and no file is created. At "debug" level
// interventions and transitions are written; "trace" adds every contact.
// Returns nil if the file cannot be opened.
func NewEventLogger(dir string, level string) *EventLogger {
	lvl := ParseLevel(level)
	if lvl == slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	path := filepath.Join(dir, EventsFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &EventLogger{w: f, closer: f, contacts: lvl <= LevelTrace}
}

// NewEventWriter creates an event logger writing to w. It never closes w.
func NewEventWriter(w io.Writer, traceContacts bool) *EventLogger {
	return &EventLogger{w: w, contacts: traceContacts}
}

// ForRun returns a logger sharing the same output whose events carry the
// given run label.
func (el *EventLogger) ForRun(run string) *EventLogger {
	if el == nil {
		return nil
	}
	return &EventLogger{w: &lockedWriter{el: el}, contacts: el.contacts, run: run}
}

// lockedWriter serializes writes from derived loggers through the parent.
type lockedWriter struct {
	el *EventLogger
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.el.mu.Lock()
	defer l.el.mu.Unlock()
	if l.el.w == nil {
		return len(p), nil
	}
	return l.el.w.Write(p)
}

// Log writes an event as a single JSONL line. A "time" field (and "run",
// when set) is added automatically. The caller's map is not mutated.
func (el *EventLogger) Log(event map[string]any) {
	if el == nil {
		return
	}

	entry := make(map[string]any, len(event)+2)
	for k, v := range event {
		entry[k] = v
	}
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)
	if el.run != "" {
		entry["run"] = el.run
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	el.mu.Lock()
	defer el.mu.Unlock()
	if el.w == nil {
		return
	}
	_, _ = el.w.Write(data)
}

// Contact records a service contact. Contacts without an intervention are
// only written at trace level.
func (el *EventLogger) Contact(step int, p *agent.Person, s *agent.Service, intervened bool) {
	if el == nil {
		return
	}
	event := "intervention"
	if !intervened {
		if !el.contacts {
			return
		}
		event = "contact"
	}
	el.Log(map[string]any{
		"event":    event,
		"step":     step,
		"person":   p.ID,
		"stage":    p.Stage,
		"service":  s.ID,
		"category": s.Category,
		"trained":  s.Trained,
	})
}

// Transition records a stage change.
func (el *EventLogger) Transition(step int, p *agent.Person, from, to int, kind agent.TransitionKind) {
	if el == nil {
		return
	}
	el.Log(map[string]any{
		"event":  "transition",
		"kind":   string(kind),
		"step":   step,
		"person": p.ID,
		"from":   from,
		"to":     to,
	})
}

// Close closes the underlying file. Safe to call on nil receiver.
func (el *EventLogger) Close() {
	if el == nil {
		return
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	if el.closer != nil {
		el.closer.Close()
	}
	el.closer = nil
	el.w = nil
}

var _ agent.Observer = (*EventLogger)(nil)
