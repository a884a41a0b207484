package mcp

import (
	"time"

	"github.com/nvandessel/meccsim/internal/batch"
	"github.com/nvandessel/meccsim/internal/metrics"
)

// SimulateInput defines the input for the meccsim_simulate tool.
type SimulateInput struct {
	Preset       string  `json:"preset,omitempty" jsonschema:"Built-in scenario name: smoking or alcohol (default: smoking)"`
	ScenarioYAML string  `json:"scenario_yaml,omitempty" jsonschema:"Full scenario document in YAML; overrides preset"`
	Steps        int     `json:"steps,omitempty" jsonschema:"Number of steps to run (default: the scenario's own length)"`
	Seed         *uint64 `json:"seed,omitempty" jsonschema:"RNG seed overriding the scenario's seed"`
	Trained      *bool   `json:"trained,omitempty" jsonschema:"Use trained intervention probabilities for every service"`
	Save         bool    `json:"save,omitempty" jsonschema:"Persist the run so it can be listed and exported later"`
	IncludeRows  bool    `json:"include_rows,omitempty" jsonschema:"Return every per-step row instead of only the final row"`
}

// SimulateOutput defines the output for the meccsim_simulate tool.
type SimulateOutput struct {
	RunID   string             `json:"run_id,omitempty" jsonschema:"ID of the saved run (when save was requested)"`
	Name    string             `json:"name" jsonschema:"Scenario name"`
	Seed    uint64             `json:"seed" jsonschema:"RNG seed used"`
	Trained bool               `json:"trained" jsonschema:"Whether services used trained probabilities"`
	Steps   int                `json:"steps" jsonschema:"Number of steps run"`
	Final   map[string]float64 `json:"final" jsonschema:"Final row keyed by column name"`
	Table   *metrics.Table     `json:"table,omitempty" jsonschema:"Every recorded row (when include_rows was requested)"`
	Message string             `json:"message" jsonschema:"Human-readable summary"`
}

// CompareInput defines the input for the meccsim_compare tool.
type CompareInput struct {
	Preset       string  `json:"preset,omitempty" jsonschema:"Built-in scenario name: smoking or alcohol (default: smoking)"`
	ScenarioYAML string  `json:"scenario_yaml,omitempty" jsonschema:"Full scenario document in YAML; overrides preset"`
	Steps        int     `json:"steps,omitempty" jsonschema:"Number of steps to run (default: the scenario's own length)"`
	Seed         *uint64 `json:"seed,omitempty" jsonschema:"RNG seed overriding the scenario's seed"`
}

// CompareOutput defines the output for the meccsim_compare tool.
type CompareOutput struct {
	Name       string             `json:"name" jsonschema:"Scenario name"`
	Seed       uint64             `json:"seed" jsonschema:"RNG seed shared by both arms"`
	Steps      int                `json:"steps" jsonschema:"Number of steps run"`
	FinalStage string             `json:"final_stage" jsonschema:"Name of the most improved stage"`
	Untrained  map[string]float64 `json:"untrained" jsonschema:"Final row of the untrained arm keyed by column name"`
	Trained    map[string]float64 `json:"trained" jsonschema:"Final row of the trained arm keyed by column name"`
	Difference int                `json:"difference" jsonschema:"Trained minus untrained count in the most improved stage"`
	Message    string             `json:"message" jsonschema:"Human-readable summary"`
}

// BatchInput defines the input for the meccsim_batch tool.
type BatchInput struct {
	Preset       string  `json:"preset,omitempty" jsonschema:"Built-in scenario name: smoking or alcohol (default: smoking)"`
	ScenarioYAML string  `json:"scenario_yaml,omitempty" jsonschema:"Full scenario document in YAML; overrides preset"`
	Steps        int     `json:"steps,omitempty" jsonschema:"Number of steps to run (default: the scenario's own length)"`
	Seed         *uint64 `json:"seed,omitempty" jsonschema:"First seed; iterations use seed..seed+iterations-1 (default: 0)"`
	Iterations   int     `json:"iterations,omitempty" jsonschema:"Number of seeds per arm (default: 20)"`
}

// BatchOutput defines the output for the meccsim_batch tool.
type BatchOutput struct {
	Name                 string                `json:"name" jsonschema:"Scenario name"`
	Iterations           int                   `json:"iterations" jsonschema:"Seeds run per arm"`
	BaseSeed             uint64                `json:"base_seed" jsonschema:"First seed"`
	FinalStage           string                `json:"final_stage" jsonschema:"Name of the most improved stage"`
	Untrained            map[string]batch.Stat `json:"untrained" jsonschema:"Per-column summary of untrained final rows"`
	Trained              map[string]batch.Stat `json:"trained" jsonschema:"Per-column summary of trained final rows"`
	FinalStageDifference batch.Stat            `json:"final_stage_difference" jsonschema:"Summary of the per-seed trained minus untrained final-stage difference"`
	Message              string                `json:"message" jsonschema:"Human-readable summary"`
}

// PresetsInput defines the input for the meccsim_presets tool.
type PresetsInput struct {
	Name string `json:"name,omitempty" jsonschema:"Return only this preset"`
}

// PresetsOutput defines the output for the meccsim_presets tool.
type PresetsOutput struct {
	Presets []PresetInfo `json:"presets" jsonschema:"Available presets"`
	Count   int          `json:"count" jsonschema:"Number of presets"`
}

// PresetInfo summarizes a preset and carries its YAML form.
type PresetInfo struct {
	Name       string   `json:"name"`
	Stages     []string `json:"stages"`
	Categories []string `json:"categories,omitempty"`
	Population int      `json:"population"`
	Steps      int      `json:"steps"`
	YAML       string   `json:"yaml"`
}

// RunsInput defines the input for the meccsim_runs tool.
type RunsInput struct {
	ID    string `json:"id,omitempty" jsonschema:"Show one run by ID or unique prefix instead of listing"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum runs to list (default: 20)"`
}

// RunsOutput defines the output for the meccsim_runs tool.
type RunsOutput struct {
	Runs  []RunListItem      `json:"runs,omitempty" jsonschema:"Stored runs, newest first"`
	Final map[string]float64 `json:"final,omitempty" jsonschema:"Final row of the requested run"`
	Count int                `json:"count" jsonschema:"Number of runs returned"`
}

// RunListItem provides a list view of a stored run.
type RunListItem struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Seed       uint64    `json:"seed"`
	Trained    bool      `json:"trained"`
	Population int       `json:"population"`
	Steps      int       `json:"steps"`
	CreatedAt  time.Time `json:"created_at"`
}
