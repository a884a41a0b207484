// Package engine owns a simulated population: it builds people and services
// from a scenario, activates them in a random order each step, and records
// one metrics row per step.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nvandessel/meccsim/internal/agent"
	"github.com/nvandessel/meccsim/internal/logging"
	"github.com/nvandessel/meccsim/internal/metrics"
	"github.com/nvandessel/meccsim/internal/rng"
	"github.com/nvandessel/meccsim/internal/scenario"
)

// ErrFinished is returned by Step and Finish once the run has been finished.
var ErrFinished = errors.New("run finished")

// State is the lifecycle position of a model.
type State int

const (
	Constructed State = iota
	Stepping
	Finished
)

func (s State) String() string {
	switch s {
	case Constructed:
		return "constructed"
	case Stepping:
		return "stepping"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventSink receives contact and transition events as agents are activated.
type EventSink = agent.Observer

// directory indexes services by category.
type directory map[string][]*agent.Service

func (d directory) ServicesIn(category string) []*agent.Service { return d[category] }

// Model is one run of the simulation. It is not safe for concurrent use.
type Model struct {
	cfg        scenario.Config
	ladder     agent.Ladder
	categories []string

	rng      *rng.Source
	people   []*agent.Person
	services []*agent.Service
	agents   []agent.Agent
	env      *agent.Env

	table *metrics.Table
	steps int
	state State

	logger *slog.Logger
}

// New validates cfg and builds the population. Initial stages are drawn in
// person order from the model's source; nothing is built when cfg is invalid.
func New(cfg scenario.Config) (*Model, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("constructing model: %w", err)
	}

	m := &Model{
		cfg:        cfg,
		ladder:     cfg.Ladder(),
		categories: cfg.Categories(),
		rng:        rng.New(cfg.Seed),
		state:      Constructed,
	}

	visits := make([]agent.Visit, 0, len(cfg.Services))
	for _, g := range cfg.Services {
		visits = append(visits, agent.Visit{Category: g.Category, Prob: g.VisitProb})
	}
	decay := cfg.EffectiveLapseDecay()

	m.people = make([]*agent.Person, cfg.Population)
	for i := range m.people {
		stage := drawStage(cfg.InitialStage, m.rng.Float64())
		m.people[i] = agent.NewPerson(i, stage, cfg.Forward, cfg.Lapse, decay, visits)
	}

	dir := make(directory, len(cfg.Services))
	for _, g := range cfg.Services {
		trained := g.IsTrained(cfg.Trained)
		for range g.Count {
			s := &agent.Service{
				ID:            len(m.services),
				Category:      g.Category,
				Trained:       trained,
				ProbTrained:   g.InterventionProbTrained,
				ProbUntrained: g.InterventionProbUntrained,
				Effect:        g.Effect.Build(),
			}
			m.services = append(m.services, s)
			dir[g.Category] = append(dir[g.Category], s)
		}
	}

	m.agents = make([]agent.Agent, 0, len(m.people)+len(m.services))
	for _, p := range m.people {
		m.agents = append(m.agents, p)
	}
	for _, s := range m.services {
		m.agents = append(m.agents, s)
	}

	m.env = &agent.Env{RNG: m.rng, Services: dir}
	m.table = metrics.NewTable(cfg.Stages, m.categories)
	return m, nil
}

// drawStage maps a uniform sample onto the cumulative stage distribution.
func drawStage(probs []float64, u float64) int {
	acc := 0.0
	for i, p := range probs {
		acc += p
		if u < acc {
			return i
		}
	}
	// Rounding left u above the running sum; take the last stage with mass.
	for i := len(probs) - 1; i >= 0; i-- {
		if probs[i] > 0 {
			return i
		}
	}
	return 0
}

// SetLogger sets the structured logger and the sink for agent events.
// Either may be nil.
func (m *Model) SetLogger(logger *slog.Logger, events EventSink) {
	m.logger = logger
	m.env.Observer = events
	if m.logger != nil {
		m.logger.Debug("model constructed",
			"name", m.cfg.Name,
			"seed", m.cfg.Seed,
			"population", len(m.people),
			"services", len(m.services),
			"stages", len(m.ladder),
			"trained", m.cfg.Trained)
	}
}

// Step records the current snapshot and then activates every agent once in
// a fresh random order. The row appended by the n-th call describes the
// state left by the previous call (or the initial population).
func (m *Model) Step() error {
	if m.state == Finished {
		return ErrFinished
	}
	m.table.Append(m.snapshot())

	m.env.Step = m.steps
	for _, i := range m.rng.Perm(len(m.agents)) {
		m.agents[i].Step(m.env)
	}

	m.steps++
	m.state = Stepping
	if m.logger != nil {
		m.logger.Log(context.Background(), logging.LevelTrace, "step complete", "step", m.steps)
	}
	return nil
}

// Run performs n steps, checking ctx between steps. On cancellation the
// model is left at a valid step boundary.
func (m *Model) Run(ctx context.Context, n int) error {
	for range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Finish appends a final snapshot of the end state and closes the run.
func (m *Model) Finish() error {
	if m.state == Finished {
		return ErrFinished
	}
	row := m.snapshot()
	row.Final = true
	m.table.Append(row)
	m.state = Finished
	if m.logger != nil {
		m.logger.Debug("run finished",
			"name", m.cfg.Name,
			"steps", m.steps,
			"final_stage_count", row.StageCounts[len(row.StageCounts)-1])
	}
	return nil
}

func (m *Model) snapshot() metrics.Row {
	return metrics.Collect(m.steps, len(m.ladder), m.categories, m.people, m.services)
}

// Current computes the snapshot of the present state without recording it.
func (m *Model) Current() metrics.Row {
	return m.snapshot()
}

// LastRow returns a copy of the most recently recorded row.
func (m *Model) LastRow() (metrics.Row, bool) {
	r, ok := m.table.Last()
	return r.Clone(), ok
}

// Table returns a copy of the snapshot log.
func (m *Model) Table() *metrics.Table {
	return m.table.Copy()
}

// People returns the model's people. Callers must treat them as read-only.
func (m *Model) People() []*agent.Person {
	return append([]*agent.Person(nil), m.people...)
}

// Services returns the model's services. Callers must treat them as read-only.
func (m *Model) Services() []*agent.Service {
	return append([]*agent.Service(nil), m.services...)
}

// Config returns a copy of the normalized scenario the model was built from.
func (m *Model) Config() scenario.Config { return m.cfg.Clone() }

// Ladder returns the stage names.
func (m *Model) Ladder() agent.Ladder { return m.ladder }

// Steps returns the number of completed steps.
func (m *Model) Steps() int { return m.steps }

// State returns the lifecycle state.
func (m *Model) State() State { return m.state }

// Simulate builds a model, runs steps, and finishes it, returning the
// complete table. A steps value below zero uses the scenario's own length.
func Simulate(ctx context.Context, cfg scenario.Config, steps int, logger *slog.Logger, events EventSink) (*metrics.Table, error) {
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	m.SetLogger(logger, events)
	if steps < 0 {
		steps = m.cfg.Steps
	}
	if err := m.Run(ctx, steps); err != nil {
		return nil, fmt.Errorf("running %d steps: %w", steps, err)
	}
	if err := m.Finish(); err != nil {
		return nil, err
	}
	return m.Table(), nil
}
