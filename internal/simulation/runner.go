package simulation

import (
	"context"
	"fmt"
	"testing"

	"github.com/nvandessel/meccsim/internal/engine"
	"github.com/nvandessel/meccsim/internal/store"
)

// Runner orchestrates multi-step simulation experiments against a real
// model and run store.
type Runner struct {
	t     *testing.T
	store *store.SQLiteRunStore
}

// NewRunner creates a simulation runner with an isolated SQLite store
// and sandboxed HOME directory.
func NewRunner(t *testing.T) *Runner {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	s, err := store.NewSQLiteRunStore(tmpDir)
	if err != nil {
		t.Fatalf("NewRunner: failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return &Runner{t: t, store: s}
}

// Store returns the runner's isolated run store.
func (r *Runner) Store() *store.SQLiteRunStore {
	return r.store
}

// Run executes the scenario and returns the collected results.
func (r *Runner) Run(sc Scenario) SimulationResult {
	r.t.Helper()
	ctx := context.Background()

	m, err := engine.New(sc.Config)
	if err != nil {
		r.t.Fatalf("Run(%s): engine.New: %v", sc.Name, err)
	}

	steps := make([]StepResult, 0, sc.Steps+1)
	steps = append(steps, r.capture(0, m))
	for i := range sc.Steps {
		if sc.BeforeStep != nil {
			sc.BeforeStep(i, m)
		}
		if err := m.Step(); err != nil {
			r.t.Fatalf("Run(%s): step %d: %v", sc.Name, i, err)
		}
		steps = append(steps, r.capture(i+1, m))
	}
	if err := m.Finish(); err != nil {
		r.t.Fatalf("Run(%s): Finish: %v", sc.Name, err)
	}

	result := SimulationResult{
		Steps: steps,
		Table: m.Table(),
		Model: m,
	}

	if sc.Persist {
		run := store.NewRun(sc.Name, m.Config(), result.Table)
		id, err := r.store.SaveRun(ctx, run)
		if err != nil {
			r.t.Fatalf("Run(%s): SaveRun: %v", sc.Name, err)
		}
		loaded, err := r.store.GetRun(ctx, id)
		if err != nil {
			r.t.Fatalf("Run(%s): GetRun(%s): %v", sc.Name, id, err)
		}
		result.RunID = id
		result.Stored = loaded.Table
	}

	return result
}

func (r *Runner) capture(index int, m *engine.Model) StepResult {
	row := m.Current()
	row.Step = index
	return StepResult{
		Index:    index,
		People:   snapshotPeople(m.People()),
		Services: snapshotServices(m.Services()),
		Row:      row,
	}
}

// FormatStepDebug returns a debug string for a step result.
func FormatStepDebug(sr StepResult) string {
	s := fmt.Sprintf("Step %d: stages=%v contacts=%d interventions=%d attempts=%d successes=%d\n",
		sr.Index, sr.Row.StageCounts, sr.Row.Contacts, sr.Row.Interventions,
		sr.Row.TransitionAttempts, sr.Row.SuccessfulTransitions)
	for _, p := range sr.People {
		s += fmt.Sprintf("  person %d: stage=%d time=%d forward=%v\n", p.ID, p.Stage, p.StageTime, p.Forward)
	}
	return s
}
