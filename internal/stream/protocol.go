package stream

import (
	"fmt"

	"github.com/nvandessel/meccsim/internal/metrics"
	"github.com/nvandessel/meccsim/internal/scenario"
)

// Version is the stream protocol version.
const Version = 1

// Message types.
const (
	TypeStart = "START"
	TypeStop  = "STOP"
	TypeMeta  = "META"
	TypeRow   = "ROW"
	TypeDone  = "DONE"
	TypeError = "ERROR"
)

// StartMsg opens a run. Scenario wins over Preset; Seed and Trained
// override the chosen scenario.
type StartMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion int              `json:"protocol_version"`
	Preset          string           `json:"preset,omitempty"`
	Scenario        *scenario.Config `json:"scenario,omitempty"`
	Steps           int              `json:"steps,omitempty"`
	Seed            *uint64          `json:"seed,omitempty"`
	Trained         *bool            `json:"trained,omitempty"`
	IntervalMS      int              `json:"interval_ms,omitempty"`
}

// MetaMsg describes the table the following rows belong to.
type MetaMsg struct {
	Type       string   `json:"type"`
	RunID      string   `json:"run_id"`
	Name       string   `json:"name,omitempty"`
	Seed       uint64   `json:"seed"`
	Trained    bool     `json:"trained"`
	Steps      int      `json:"steps"`
	Stages     []string `json:"stages"`
	Categories []string `json:"categories,omitempty"`
	Columns    []string `json:"columns"`
}

// RowMsg carries one snapshot row.
type RowMsg struct {
	Type string      `json:"type"`
	Row  metrics.Row `json:"row"`
}

// DoneMsg closes a run. Stopped is set when the client ended it early.
type DoneMsg struct {
	Type    string `json:"type"`
	Steps   int    `json:"steps"`
	Stopped bool   `json:"stopped,omitempty"`
}

// ErrorMsg reports a rejected request.
type ErrorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// SimulateRequest is the body of POST /api/simulate.
type SimulateRequest struct {
	Preset   string           `json:"preset,omitempty"`
	Scenario *scenario.Config `json:"scenario,omitempty"`
	Steps    int              `json:"steps,omitempty"`
	Seed     *uint64          `json:"seed,omitempty"`
	Trained  *bool            `json:"trained,omitempty"`
}

// Resolve picks the scenario and step count for a request. Steps of zero
// uses the scenario's own length; the result is capped at maxSteps, and the
// population at maxPopulation when it is positive.
func (r SimulateRequest) Resolve(maxSteps, maxPopulation int) (scenario.Config, int, error) {
	var cfg scenario.Config
	switch {
	case r.Scenario != nil:
		cfg = r.Scenario.Clone()
	case r.Preset != "":
		p, err := scenario.Preset(r.Preset)
		if err != nil {
			return scenario.Config{}, 0, err
		}
		cfg = p
	default:
		return scenario.Config{}, 0, fmt.Errorf("a preset or scenario is required")
	}
	if r.Seed != nil {
		cfg.Seed = *r.Seed
	}
	if r.Trained != nil {
		cfg.Trained = *r.Trained
	}
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return scenario.Config{}, 0, err
	}
	if maxPopulation > 0 && cfg.Population > maxPopulation {
		return scenario.Config{}, 0, fmt.Errorf("population %d exceeds the server limit of %d", cfg.Population, maxPopulation)
	}

	steps := r.Steps
	if steps == 0 {
		steps = cfg.Steps
	}
	if steps < 0 {
		return scenario.Config{}, 0, fmt.Errorf("steps must be non-negative, got %d", steps)
	}
	if maxSteps > 0 && steps > maxSteps {
		return scenario.Config{}, 0, fmt.Errorf("steps %d exceeds the server limit of %d", steps, maxSteps)
	}
	return cfg, steps, nil
}

func (m StartMsg) request() SimulateRequest {
	return SimulateRequest{
		Preset:   m.Preset,
		Scenario: m.Scenario,
		Steps:    m.Steps,
		Seed:     m.Seed,
		Trained:  m.Trained,
	}
}
