package simulation

import (
	"github.com/nvandessel/meccsim/internal/agent"
	"github.com/nvandessel/meccsim/internal/engine"
	"github.com/nvandessel/meccsim/internal/metrics"
	"github.com/nvandessel/meccsim/internal/scenario"
)

// Scenario defines a complete simulation experiment.
type Scenario struct {
	Name   string
	Config scenario.Config
	Steps  int

	// Persist saves the finished run to the runner's store and reloads its
	// table into SimulationResult.Stored.
	Persist bool

	// BeforeStep, when non-nil, is called before each step executes. Use
	// this to inspect or perturb the model between steps.
	BeforeStep func(step int, m *engine.Model)
}

// PersonSnapshot is a copy of one person's state after a step.
type PersonSnapshot struct {
	ID                    int
	Stage                 int
	StageTime             int
	NeverChanged          bool
	NeverAdverse          bool
	Forward               []float64
	TransitionAttempts    int
	SuccessfulTransitions int
	InterventionsReceived int
}

// ServiceSnapshot is a copy of one service's counters after a step.
type ServiceSnapshot struct {
	ID                int
	Category          string
	ContactsMade      int
	InterventionsMade int
}

// StepResult captures the population after a single step. Index 0 is the
// initial population.
type StepResult struct {
	Index    int
	People   []PersonSnapshot
	Services []ServiceSnapshot
	Row      metrics.Row
}

// SimulationResult captures every step and the finished model.
type SimulationResult struct {
	Steps  []StepResult
	Table  *metrics.Table
	Model  *engine.Model
	RunID  string
	Stored *metrics.Table
}

func snapshotPeople(people []*agent.Person) []PersonSnapshot {
	out := make([]PersonSnapshot, len(people))
	for i, p := range people {
		out[i] = PersonSnapshot{
			ID:                    p.ID,
			Stage:                 p.Stage,
			StageTime:             p.StageTime,
			NeverChanged:          p.NeverChanged,
			NeverAdverse:          p.NeverAdverse,
			Forward:               append([]float64(nil), p.Forward...),
			TransitionAttempts:    p.TransitionAttempts,
			SuccessfulTransitions: p.SuccessfulTransitions,
			InterventionsReceived: p.InterventionsReceived,
		}
	}
	return out
}

func snapshotServices(services []*agent.Service) []ServiceSnapshot {
	out := make([]ServiceSnapshot, len(services))
	for i, s := range services {
		out[i] = ServiceSnapshot{
			ID:                s.ID,
			Category:          s.Category,
			ContactsMade:      s.ContactsMade,
			InterventionsMade: s.InterventionsMade,
		}
	}
	return out
}
