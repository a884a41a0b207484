// Package scenario defines the configuration record a model is built from,
// its validation rules, the built-in presets, and YAML scenario files.
package scenario

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/nvandessel/meccsim/internal/agent"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid scenario")

// Lapse policies.
const (
	LapseConstant  = "constant"
	LapseGeometric = "geometric"
)

// Config enumerates every option a model is constructed from.
type Config struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Seed uint64 `json:"seed" yaml:"seed"`

	// Steps is the default run length for callers that do not pass one.
	Steps int `json:"steps,omitempty" yaml:"steps,omitempty"`

	Population int      `json:"population" yaml:"population"`
	Stages     []string `json:"stages" yaml:"stages"`

	// InitialStage is a probability vector over Stages. Empty places
	// everybody in the adverse stage.
	InitialStage []float64 `json:"initial_stage,omitempty" yaml:"initial_stage,omitempty"`

	// Forward[i] is the base probability of stage i -> i+1. Lapse[i] is the
	// base probability of stage i+1 -> i.
	Forward []float64 `json:"forward" yaml:"forward"`
	Lapse   []float64 `json:"lapse,omitempty" yaml:"lapse,omitempty"`

	LapsePolicy string  `json:"lapse_policy,omitempty" yaml:"lapse_policy,omitempty"`
	LapseDecay  float64 `json:"lapse_decay,omitempty" yaml:"lapse_decay,omitempty"`

	// Trained selects the trained intervention probability for every
	// service unless a group pins its own value.
	Trained bool `json:"trained" yaml:"trained"`

	Services []ServiceGroup `json:"services,omitempty" yaml:"services,omitempty"`
}

// ServiceGroup describes the services of one category.
type ServiceGroup struct {
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Count    int    `json:"count" yaml:"count"`

	VisitProb                 float64 `json:"visit_prob" yaml:"visit_prob"`
	InterventionProbTrained   float64 `json:"intervention_prob_trained" yaml:"intervention_prob_trained"`
	InterventionProbUntrained float64 `json:"intervention_prob_untrained" yaml:"intervention_prob_untrained"`

	Trained *bool  `json:"trained,omitempty" yaml:"trained,omitempty"`
	Effect  Effect `json:"effect" yaml:"effect"`
}

// Effect selects and parameterizes an intervention effect policy.
type Effect struct {
	Policy     string    `json:"policy,omitempty" yaml:"policy,omitempty"`
	Multiplier *float64  `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	Floors     []float64 `json:"floors,omitempty" yaml:"floors,omitempty"`
}

// Float returns a pointer to v, for filling Effect.Multiplier.
func Float(v float64) *float64 { return &v }

// Factor returns the multiplier, or agent.DefaultFactor when it is unset.
func (e Effect) Factor() float64 {
	if e.Multiplier == nil {
		return agent.DefaultFactor
	}
	return *e.Multiplier
}

// Build returns the agent-level effect for the policy.
func (e Effect) Build() agent.Effect {
	switch e.Policy {
	case agent.PolicyMultiplier:
		return agent.Multiplier{Factor: e.Factor()}
	case agent.PolicyFloor:
		return agent.Floor{Floors: append([]float64(nil), e.Floors...)}
	default:
		return agent.NoEffect{}
	}
}

// IsTrained resolves the group's training state under the model-wide flag.
func (g ServiceGroup) IsTrained(modelTrained bool) bool {
	if g.Trained != nil {
		return *g.Trained
	}
	return modelTrained
}

// Ladder returns the stage ladder.
func (c Config) Ladder() agent.Ladder {
	return agent.Ladder(c.Stages)
}

// Categories returns the named service categories in declaration order.
// The undifferentiated category "" is omitted.
func (c Config) Categories() []string {
	var out []string
	for _, g := range c.Services {
		if g.Category != "" {
			out = append(out, g.Category)
		}
	}
	return out
}

// EffectiveLapseDecay returns the per-step decay applied to lapse
// probabilities: 1 for the constant policy.
func (c Config) EffectiveLapseDecay() float64 {
	if c.LapsePolicy != LapseGeometric {
		return 1
	}
	if c.LapseDecay == 0 {
		return agent.DefaultLapseDecay
	}
	return c.LapseDecay
}

// WithTrained returns a copy with the model-wide trained flag set.
func (c Config) WithTrained(trained bool) Config {
	out := c.Clone()
	out.Trained = trained
	return out
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	out.Stages = append([]string(nil), c.Stages...)
	out.InitialStage = append([]float64(nil), c.InitialStage...)
	out.Forward = append([]float64(nil), c.Forward...)
	out.Lapse = append([]float64(nil), c.Lapse...)
	out.Services = make([]ServiceGroup, len(c.Services))
	for i, g := range c.Services {
		if g.Trained != nil {
			v := *g.Trained
			g.Trained = &v
		}
		if g.Effect.Multiplier != nil {
			g.Effect.Multiplier = Float(*g.Effect.Multiplier)
		}
		g.Effect.Floors = append([]float64(nil), g.Effect.Floors...)
		out.Services[i] = g
	}
	return out
}

// Normalized fills omitted optional fields: everybody starts in the adverse
// stage, lapses are zero and constant, groups without a policy have no
// effect, and a multiplier policy without a factor leaves probabilities
// unchanged. Values that were supplied are never altered.
func (c Config) Normalized() Config {
	out := c.Clone()
	edges := len(out.Stages) - 1
	if len(out.InitialStage) == 0 && len(out.Stages) > 0 {
		out.InitialStage = make([]float64, len(out.Stages))
		out.InitialStage[0] = 1
	}
	if len(out.Lapse) == 0 && edges > 0 {
		out.Lapse = make([]float64, edges)
	}
	if out.LapsePolicy == "" {
		out.LapsePolicy = LapseConstant
	}
	if out.LapsePolicy == LapseGeometric && out.LapseDecay == 0 {
		out.LapseDecay = agent.DefaultLapseDecay
	}
	for i := range out.Services {
		e := &out.Services[i].Effect
		if e.Policy == "" {
			e.Policy = agent.PolicyNone
		}
		if e.Policy == agent.PolicyMultiplier && e.Multiplier == nil {
			e.Multiplier = Float(agent.DefaultFactor)
		}
	}
	return out
}

// Validate reports every problem with the configuration. All errors wrap
// ErrInvalid. Validate does not apply defaults; call Normalized first.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if c.Population < 0 {
		bad("population must be non-negative, got %d", c.Population)
	}
	if c.Steps < 0 {
		bad("steps must be non-negative, got %d", c.Steps)
	}

	if len(c.Stages) < 2 {
		bad("at least 2 stages are required, got %d", len(c.Stages))
	}
	seen := make(map[string]bool, len(c.Stages))
	for i, s := range c.Stages {
		if strings.TrimSpace(s) == "" {
			bad("stage %d has an empty name", i)
		}
		if seen[s] {
			bad("duplicate stage %q", s)
		}
		seen[s] = true
	}
	edges := len(c.Stages) - 1

	if len(c.InitialStage) != len(c.Stages) {
		bad("initial_stage has %d entries, want one per stage (%d)", len(c.InitialStage), len(c.Stages))
	} else {
		sum := 0.0
		for i, p := range c.InitialStage {
			checkProb(bad, fmt.Sprintf("initial_stage[%d]", i), p)
			sum += p
		}
		if len(c.InitialStage) > 0 && math.Abs(sum-1) > 1e-9 {
			bad("initial_stage must sum to 1, got %g", sum)
		}
	}

	if edges > 0 && len(c.Forward) != edges {
		bad("forward has %d entries, want %d", len(c.Forward), edges)
	}
	for i, p := range c.Forward {
		checkProb(bad, fmt.Sprintf("forward[%d]", i), p)
	}
	if edges > 0 && len(c.Lapse) != edges {
		bad("lapse has %d entries, want %d", len(c.Lapse), edges)
	}
	for i, p := range c.Lapse {
		checkProb(bad, fmt.Sprintf("lapse[%d]", i), p)
	}

	switch c.LapsePolicy {
	case LapseConstant:
		if c.LapseDecay != 0 && c.LapseDecay != 1 {
			bad("lapse_decay %g requires lapse_policy %q", c.LapseDecay, LapseGeometric)
		}
	case LapseGeometric:
		if !(c.LapseDecay > 0 && c.LapseDecay < 1) {
			bad("lapse_decay must be in (0, 1), got %g", c.LapseDecay)
		}
	default:
		bad("unknown lapse_policy %q (valid: %s, %s)", c.LapsePolicy, LapseConstant, LapseGeometric)
	}

	categories := make(map[string]bool, len(c.Services))
	for i, g := range c.Services {
		name := g.Category
		if name == "" {
			name = fmt.Sprintf("services[%d]", i)
		}
		if categories[g.Category] {
			bad("duplicate service category %q", g.Category)
		}
		categories[g.Category] = true

		if g.Count < 0 {
			bad("%s: count must be non-negative, got %d", name, g.Count)
		}
		checkProb(bad, name+": visit_prob", g.VisitProb)
		if g.Count <= 0 && g.VisitProb > 0 && c.Population > 0 {
			bad("%s: count must be positive when visit_prob is %g", name, g.VisitProb)
		}
		checkProb(bad, name+": intervention_prob_trained", g.InterventionProbTrained)
		checkProb(bad, name+": intervention_prob_untrained", g.InterventionProbUntrained)

		switch g.Effect.Policy {
		case agent.PolicyNone:
		case agent.PolicyMultiplier:
			if m := g.Effect.Factor(); math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
				bad("%s: effect multiplier must be a finite non-negative number, got %g", name, m)
			}
		case agent.PolicyFloor:
			if len(g.Effect.Floors) != edges {
				bad("%s: effect floors has %d entries, want %d", name, len(g.Effect.Floors), edges)
			}
			for j, f := range g.Effect.Floors {
				checkProb(bad, fmt.Sprintf("%s: effect floors[%d]", name, j), f)
			}
		default:
			bad("%s: unknown effect policy %q (valid: %s, %s, %s)", name, g.Effect.Policy,
				agent.PolicyNone, agent.PolicyMultiplier, agent.PolicyFloor)
		}
	}

	return errors.Join(errs...)
}

func checkProb(bad func(string, ...any), field string, p float64) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		bad("%s must be a probability in [0, 1], got %g", field, p)
	}
}
