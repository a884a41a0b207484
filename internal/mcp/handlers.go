package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/meccsim/internal/batch"
	"github.com/nvandessel/meccsim/internal/engine"
	"github.com/nvandessel/meccsim/internal/metrics"
	"github.com/nvandessel/meccsim/internal/ratelimit"
	"github.com/nvandessel/meccsim/internal/scenario"
	"github.com/nvandessel/meccsim/internal/store"
)

const (
	defaultBatchIterations = 20
	maxBatchIterations     = 500
	defaultRunsLimit       = 20
)

// registerTools registers all meccsim MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "meccsim_simulate",
		Description: "Run one simulation of a preset or YAML scenario and return its final metrics",
	}, s.handleSimulate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "meccsim_compare",
		Description: "Run a scenario twice with the same seed, once with trained and once with untrained services, and compare the final metrics",
	}, s.handleCompare)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "meccsim_batch",
		Description: "Run trained and untrained arms over consecutive seeds and summarize the final metrics (mean, min, max, 5th/95th percentile)",
	}, s.handleBatch)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "meccsim_presets",
		Description: "List the built-in scenarios with their YAML definitions",
	}, s.handlePresets)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "meccsim_runs",
		Description: "List saved runs, or show the final metrics of one run",
	}, s.handleRuns)
}

// registerResources exposes each preset's YAML as a resource.
func (s *Server) registerResources() {
	s.server.AddResourceTemplate(&sdk.ResourceTemplate{
		URITemplate: "meccsim://presets/{name}",
		Name:        "meccsim-preset",
		Description: "YAML definition of a built-in scenario, usable as scenario_yaml after editing.",
		MIMEType:    "application/yaml",
	}, s.handlePresetResource)
}

func (s *Server) handlePresetResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	uri := req.Params.URI
	name := strings.TrimPrefix(uri, "meccsim://presets/")
	cfg, err := scenario.Preset(name)
	if err != nil {
		return nil, sdk.ResourceNotFoundError(uri)
	}
	var buf bytes.Buffer
	if err := scenario.Encode(&buf, cfg); err != nil {
		return nil, fmt.Errorf("encoding preset %s: %w", name, err)
	}
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{{
			URI:      uri,
			MIMEType: "application/yaml",
			Text:     buf.String(),
		}},
	}, nil
}

// resolveScenario loads the requested scenario and step count.
func (s *Server) resolveScenario(preset, yamlDoc string, steps int, seed *uint64) (scenario.Config, int, error) {
	var cfg scenario.Config
	switch {
	case yamlDoc != "":
		parsed, err := scenario.Parse([]byte(yamlDoc))
		if err != nil {
			return scenario.Config{}, 0, err
		}
		cfg = parsed
	default:
		if preset == "" {
			preset = scenario.PresetSmoking
		}
		p, err := scenario.Preset(preset)
		if err != nil {
			return scenario.Config{}, 0, err
		}
		cfg = p
	}
	if seed != nil {
		cfg.Seed = *seed
	}
	if steps == 0 {
		steps = cfg.Steps
	}
	if steps < 0 {
		return scenario.Config{}, 0, fmt.Errorf("steps must be non-negative, got %d", steps)
	}
	if steps > s.maxSteps {
		return scenario.Config{}, 0, fmt.Errorf("steps %d exceeds the limit of %d", steps, s.maxSteps)
	}
	if cfg.Population > s.maxPopulation {
		return scenario.Config{}, 0, fmt.Errorf("population %d exceeds the limit of %d", cfg.Population, s.maxPopulation)
	}
	return cfg, steps, nil
}

// rowMap keys a row's values by column name.
func rowMap(t *metrics.Table, r metrics.Row) map[string]float64 {
	cols := t.Columns()
	out := make(map[string]float64, len(cols))
	for _, c := range cols {
		out[c.Name] = c.Value(r)
	}
	return out
}

func finalStageCount(r metrics.Row) int {
	if len(r.StageCounts) == 0 {
		return 0
	}
	return r.StageCounts[len(r.StageCounts)-1]
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// handleSimulate implements the meccsim_simulate tool.
func (s *Server) handleSimulate(ctx context.Context, req *sdk.CallToolRequest, args SimulateInput) (_ *sdk.CallToolResult, _ SimulateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("meccsim_simulate", start, retErr, sanitizeToolParams(map[string]any{
			"preset": args.Preset, "scenario_yaml": args.ScenarioYAML, "steps": args.Steps,
			"seed": deref(args.Seed), "trained": deref(args.Trained), "save": args.Save,
			"include_rows": args.IncludeRows,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "meccsim_simulate"); err != nil {
		return nil, SimulateOutput{}, err
	}

	cfg, steps, err := s.resolveScenario(args.Preset, args.ScenarioYAML, args.Steps, args.Seed)
	if err != nil {
		return nil, SimulateOutput{}, err
	}
	if args.Trained != nil {
		cfg.Trained = *args.Trained
	}

	table, err := engine.Simulate(ctx, cfg, steps, s.logger, nil)
	if err != nil {
		return nil, SimulateOutput{}, fmt.Errorf("simulation failed: %w", err)
	}
	final, _ := table.Last()

	out := SimulateOutput{
		Name:    cfg.Name,
		Seed:    cfg.Seed,
		Trained: cfg.Trained,
		Steps:   steps,
		Final:   rowMap(table, final),
	}
	if args.IncludeRows {
		out.Table = table
	}
	if args.Save {
		id, err := s.runs.SaveRun(ctx, store.NewRun(cfg.Name, cfg, table))
		if err != nil {
			return nil, SimulateOutput{}, fmt.Errorf("saving run: %w", err)
		}
		out.RunID = id
	}

	last := len(table.Stages) - 1
	out.Message = fmt.Sprintf("%d steps of %s (seed %d, trained=%v): %d of %d in %s",
		steps, cfg.Name, cfg.Seed, cfg.Trained, finalStageCount(final), final.Population(), table.Stages[last])
	return nil, out, nil
}

// handleCompare implements the meccsim_compare tool.
func (s *Server) handleCompare(ctx context.Context, req *sdk.CallToolRequest, args CompareInput) (_ *sdk.CallToolResult, _ CompareOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("meccsim_compare", start, retErr, sanitizeToolParams(map[string]any{
			"preset": args.Preset, "scenario_yaml": args.ScenarioYAML, "steps": args.Steps,
			"seed": deref(args.Seed),
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "meccsim_compare"); err != nil {
		return nil, CompareOutput{}, err
	}

	cfg, steps, err := s.resolveScenario(args.Preset, args.ScenarioYAML, args.Steps, args.Seed)
	if err != nil {
		return nil, CompareOutput{}, err
	}

	untrained, err := engine.Simulate(ctx, cfg.WithTrained(false), steps, s.logger, nil)
	if err != nil {
		return nil, CompareOutput{}, fmt.Errorf("untrained simulation failed: %w", err)
	}
	trained, err := engine.Simulate(ctx, cfg.WithTrained(true), steps, s.logger, nil)
	if err != nil {
		return nil, CompareOutput{}, fmt.Errorf("trained simulation failed: %w", err)
	}

	uFinal, _ := untrained.Last()
	tFinal, _ := trained.Last()
	stage := trained.Stages[len(trained.Stages)-1]
	diff := finalStageCount(tFinal) - finalStageCount(uFinal)

	return nil, CompareOutput{
		Name:       cfg.Name,
		Seed:       cfg.Seed,
		Steps:      steps,
		FinalStage: stage,
		Untrained:  rowMap(untrained, uFinal),
		Trained:    rowMap(trained, tFinal),
		Difference: diff,
		Message: fmt.Sprintf("%s after %d steps: trained %d, untrained %d (difference %+d)",
			stage, steps, finalStageCount(tFinal), finalStageCount(uFinal), diff),
	}, nil
}

// handleBatch implements the meccsim_batch tool.
func (s *Server) handleBatch(ctx context.Context, req *sdk.CallToolRequest, args BatchInput) (_ *sdk.CallToolResult, _ BatchOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("meccsim_batch", start, retErr, sanitizeToolParams(map[string]any{
			"preset": args.Preset, "scenario_yaml": args.ScenarioYAML, "steps": args.Steps,
			"base_seed": deref(args.Seed), "iterations": args.Iterations,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "meccsim_batch"); err != nil {
		return nil, BatchOutput{}, err
	}

	// Seed here is the batch base seed, not a scenario override.
	cfg, steps, err := s.resolveScenario(args.Preset, args.ScenarioYAML, args.Steps, nil)
	if err != nil {
		return nil, BatchOutput{}, err
	}
	iterations := args.Iterations
	if iterations == 0 {
		iterations = defaultBatchIterations
	}
	if iterations < 0 || iterations > maxBatchIterations {
		return nil, BatchOutput{}, fmt.Errorf("iterations must be between 1 and %d, got %d", maxBatchIterations, iterations)
	}
	var base uint64
	if args.Seed != nil {
		base = *args.Seed
	}

	res, err := batch.Run(ctx, cfg, batch.Options{
		Iterations: iterations,
		BaseSeed:   base,
		Workers:    s.batchWorkers,
		Steps:      steps,
	}, s.logger)
	if err != nil {
		return nil, BatchOutput{}, fmt.Errorf("batch failed: %w", err)
	}

	stage := res.Stages[len(res.Stages)-1]
	return nil, BatchOutput{
		Name:                 res.Name,
		Iterations:           iterations,
		BaseSeed:             base,
		FinalStage:           stage,
		Untrained:            res.Untrained.Summary,
		Trained:              res.Trained.Summary,
		FinalStageDifference: res.FinalStageDifference,
		Message: fmt.Sprintf("%d seeds: trained minus untrained in %s averages %.2f (5th %.2f, 95th %.2f)",
			iterations, stage, res.FinalStageDifference.Mean, res.FinalStageDifference.P5, res.FinalStageDifference.P95),
	}, nil
}

// handlePresets implements the meccsim_presets tool.
func (s *Server) handlePresets(ctx context.Context, req *sdk.CallToolRequest, args PresetsInput) (_ *sdk.CallToolResult, _ PresetsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("meccsim_presets", start, retErr, sanitizeToolParams(map[string]any{
			"name": args.Name,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "meccsim_presets"); err != nil {
		return nil, PresetsOutput{}, err
	}

	names := scenario.PresetNames()
	if args.Name != "" {
		if _, err := scenario.Preset(args.Name); err != nil {
			return nil, PresetsOutput{}, err
		}
		names = []string{args.Name}
	}

	out := PresetsOutput{Presets: make([]PresetInfo, 0, len(names))}
	for _, name := range names {
		cfg, _ := scenario.Preset(name)
		var buf bytes.Buffer
		if err := scenario.Encode(&buf, cfg); err != nil {
			return nil, PresetsOutput{}, fmt.Errorf("encoding preset %s: %w", name, err)
		}
		out.Presets = append(out.Presets, PresetInfo{
			Name:       name,
			Stages:     cfg.Stages,
			Categories: cfg.Categories(),
			Population: cfg.Population,
			Steps:      cfg.Steps,
			YAML:       buf.String(),
		})
	}
	out.Count = len(out.Presets)
	return nil, out, nil
}

// handleRuns implements the meccsim_runs tool.
func (s *Server) handleRuns(ctx context.Context, req *sdk.CallToolRequest, args RunsInput) (_ *sdk.CallToolResult, _ RunsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("meccsim_runs", start, retErr, sanitizeToolParams(map[string]any{
			"id": args.ID, "limit": args.Limit,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "meccsim_runs"); err != nil {
		return nil, RunsOutput{}, err
	}

	if args.ID != "" {
		run, err := s.runs.GetRun(ctx, args.ID)
		if err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				return nil, RunsOutput{}, fmt.Errorf("no run matches %q", args.ID)
			}
			return nil, RunsOutput{}, err
		}
		final, _ := run.Table.Last()
		return nil, RunsOutput{
			Runs:  []RunListItem{listItem(*run)},
			Final: rowMap(run.Table, final),
			Count: 1,
		}, nil
	}

	runs, err := s.runs.ListRuns(ctx)
	if err != nil {
		return nil, RunsOutput{}, fmt.Errorf("listing runs: %w", err)
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	out := RunsOutput{Runs: make([]RunListItem, 0, len(runs))}
	for _, r := range runs {
		out.Runs = append(out.Runs, listItem(r))
	}
	out.Count = len(out.Runs)
	return nil, out, nil
}

func listItem(r store.Run) RunListItem {
	return RunListItem{
		ID:         r.ID,
		Name:       r.Name,
		Seed:       r.Seed,
		Trained:    r.Trained,
		Population: r.Population,
		Steps:      r.Steps,
		CreatedAt:  r.CreatedAt,
	}
}
