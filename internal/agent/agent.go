// Package agent implements the two kinds of simulated agents: people moving
// through an ordered ladder of behavior stages, and the services they contact.
//
// A person's step is visit-then-resolve: contacts made during the visit can
// raise the person's forward probabilities before the same step's transition
// roll. Every random draw comes from the model-owned source carried in Env.
package agent

import "github.com/nvandessel/meccsim/internal/rng"

// Agent is anything the scheduler activates once per step.
type Agent interface {
	Step(env *Env)
}

// Directory resolves the services a person may contact for a category.
type Directory interface {
	ServicesIn(category string) []*Service
}

// TransitionKind distinguishes forward change from lapse.
type TransitionKind string

const (
	Forward TransitionKind = "forward"
	Lapse   TransitionKind = "lapse"
)

// Observer receives agent-level events. Implementations must not draw from
// the model's random source.
type Observer interface {
	Contact(step int, p *Person, s *Service, intervened bool)
	Transition(step int, p *Person, from, to int, kind TransitionKind)
}

// Env is the view of the model an agent sees while it is activated.
type Env struct {
	Step     int
	RNG      *rng.Source
	Services Directory
	Observer Observer // optional
}

func (e *Env) contact(p *Person, s *Service, intervened bool) {
	if e.Observer != nil {
		e.Observer.Contact(e.Step, p, s, intervened)
	}
}

func (e *Env) transition(p *Person, from, to int, kind TransitionKind) {
	if e.Observer != nil {
		e.Observer.Transition(e.Step, p, from, to, kind)
	}
}

// Clamp01 bounds a stored probability to [0, 1] at the point of use.
// Multiplicative interventions may push the stored value above 1.
func Clamp01(p float64) float64 {
	switch {
	case p != p || p < 0: // NaN or negative
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
