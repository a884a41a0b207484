// Package batch reruns a scenario over consecutive seeds, once with trained
// and once with untrained services, and summarizes the final rows.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/meccsim/internal/engine"
	"github.com/nvandessel/meccsim/internal/metrics"
	"github.com/nvandessel/meccsim/internal/scenario"
)

// Options control a batch.
type Options struct {
	// Iterations is the number of seeds, BaseSeed..BaseSeed+Iterations-1.
	Iterations int
	BaseSeed   uint64

	// Workers bounds concurrent simulations (minimum 1).
	Workers int

	// Steps per run; below zero uses the scenario's own length.
	Steps int
}

// Iteration is the outcome of one seed for one arm.
type Iteration struct {
	Seed  uint64      `json:"seed"`
	Final metrics.Row `json:"final"`
}

// Stat summarizes one metric across iterations.
type Stat struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	P5   float64 `json:"p5"`
	P95  float64 `json:"p95"`
}

// Arm is every iteration of one trained setting plus per-column summaries.
type Arm struct {
	Trained    bool            `json:"trained"`
	Iterations []Iteration     `json:"iterations"`
	Summary    map[string]Stat `json:"summary"`
}

// Result holds both arms and the per-seed difference in final-stage counts.
type Result struct {
	Name       string   `json:"name,omitempty"`
	Stages     []string `json:"stages"`
	Categories []string `json:"categories,omitempty"`
	Columns    []string `json:"columns"`

	Untrained Arm `json:"untrained"`
	Trained   Arm `json:"trained"`

	// FinalStageDifference is trained minus untrained count in the most
	// improved stage, seed by seed.
	FinalStageDifference Stat `json:"final_stage_difference"`
}

// Run executes the batch. The first failing simulation cancels the rest.
func Run(ctx context.Context, cfg scenario.Config, opts Options, logger *slog.Logger) (*Result, error) {
	if opts.Iterations <= 0 {
		return nil, fmt.Errorf("iterations must be positive, got %d", opts.Iterations)
	}
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("constructing model: %w", err)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	untrained := make([]Iteration, opts.Iterations)
	trained := make([]Iteration, opts.Iterations)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < opts.Iterations; i++ {
		seed := opts.BaseSeed + uint64(i)
		for _, arm := range []bool{false, true} {
			g.Go(func() error {
				c := cfg.WithTrained(arm)
				c.Seed = seed
				table, err := engine.Simulate(gctx, c, opts.Steps, nil, nil)
				if err != nil {
					return fmt.Errorf("seed %d (trained=%v): %w", seed, arm, err)
				}
				last, _ := table.Last()
				it := Iteration{Seed: seed, Final: last}
				if arm {
					trained[i] = it
				} else {
					untrained[i] = it
				}
				logger.Log(gctx, slog.LevelDebug, "batch iteration complete", "seed", seed, "trained", arm)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	table := metrics.NewTable(cfg.Stages, cfg.Categories())
	res := &Result{
		Name:       cfg.Name,
		Stages:     table.Stages,
		Categories: table.Categories,
		Untrained:  Arm{Trained: false, Iterations: untrained},
		Trained:    Arm{Trained: true, Iterations: trained},
	}
	cols := table.Columns()
	for _, c := range cols {
		res.Columns = append(res.Columns, c.Name)
	}
	res.Untrained.Summary = summarizeArm(cols, untrained)
	res.Trained.Summary = summarizeArm(cols, trained)

	last := len(cfg.Stages) - 1
	diff := make([]float64, opts.Iterations)
	for i := range diff {
		diff[i] = float64(trained[i].Final.StageCounts[last] - untrained[i].Final.StageCounts[last])
	}
	res.FinalStageDifference = Summarize(diff)

	logger.Info("batch complete",
		"name", cfg.Name,
		"iterations", opts.Iterations,
		"workers", workers,
		"mean_final_stage_difference", res.FinalStageDifference.Mean)
	return res, nil
}

func summarizeArm(cols []metrics.Column, its []Iteration) map[string]Stat {
	out := make(map[string]Stat, len(cols))
	values := make([]float64, len(its))
	for _, c := range cols {
		if c.Name == metrics.ColStep {
			continue
		}
		for i, it := range its {
			values[i] = c.Value(it.Final)
		}
		out[c.Name] = Summarize(values)
	}
	return out
}

// Summarize returns mean, extremes, and 5th/95th percentiles of values.
// Percentiles interpolate linearly between closest ranks. An empty input
// yields the zero Stat.
func Summarize(values []float64) Stat {
	if len(values) == 0 {
		return Stat{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return Stat{
		Mean: sum / float64(len(sorted)),
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		P5:   Percentile(sorted, 5),
		P95:  Percentile(sorted, 95),
	}
}

// Percentile returns the q-th percentile (0..100) of sorted values.
func Percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (pos-float64(lo))*(sorted[hi]-sorted[lo])
}
