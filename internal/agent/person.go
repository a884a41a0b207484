package agent

import "math"

// DefaultLapseDecay is the per-step geometric decay of the binary model's
// relapse probability.
const DefaultLapseDecay = 0.95

// Visit is a person's chance of contacting a service category in one step.
// The empty category addresses an undifferentiated pool of services.
type Visit struct {
	Category string
	Prob     float64
}

// Person is one simulated individual.
type Person struct {
	ID        int
	Stage     int
	StageTime int

	// NeverChanged is true until the person's first forward transition out
	// of the adverse stage.
	NeverChanged bool
	// NeverAdverse marks people created above the adverse stage. They can
	// move forward but never lapse.
	NeverAdverse bool

	// Forward[i] is the probability of edge i -> i+1; Lapse[i] of i+1 -> i.
	Forward    []float64
	Lapse      []float64
	LapseDecay float64

	Visits []Visit

	TransitionAttempts    int
	SuccessfulTransitions int
	InterventionsReceived int

	visitOrder []int
}

// NewPerson creates a person at the given stage. The probability slices are
// copied so interventions on one person never leak into another.
func NewPerson(id, stage int, forward, lapse []float64, lapseDecay float64, visits []Visit) *Person {
	return &Person{
		ID:           id,
		Stage:        stage,
		NeverChanged: stage == 0,
		NeverAdverse: stage > 0,
		Forward:      append([]float64(nil), forward...),
		Lapse:        append([]float64(nil), lapse...),
		LapseDecay:   lapseDecay,
		Visits:       append([]Visit(nil), visits...),
		visitOrder:   make([]int, len(visits)),
	}
}

// Step runs the visit action and then resolves this step's transition.
func (p *Person) Step(env *Env) {
	p.Visit(env)
	p.Resolve(env)
}

// Visit walks the person's service categories in a fresh random order and
// contacts at most one service per category whose visit roll succeeds.
func (p *Person) Visit(env *Env) {
	if len(p.visitOrder) != len(p.Visits) {
		p.visitOrder = make([]int, len(p.Visits))
	}
	for i := range p.visitOrder {
		p.visitOrder[i] = i
	}
	env.RNG.Shuffle(len(p.visitOrder), func(i, j int) {
		p.visitOrder[i], p.visitOrder[j] = p.visitOrder[j], p.visitOrder[i]
	})

	for _, i := range p.visitOrder {
		v := p.Visits[i]
		if env.RNG.Float64() >= v.Prob {
			continue
		}
		if env.Services == nil {
			continue
		}
		services := env.Services.ServicesIn(v.Category)
		if len(services) == 0 {
			continue
		}
		s := services[env.RNG.IntN(len(services))]
		s.HaveContact(env, p)
	}
}

// Resolve evaluates at most one transition: the outward forward edge of the
// current stage, then, if that did not fire, the lapse edge below it.
func (p *Person) Resolve(env *Env) {
	last := len(p.Forward)

	if p.Stage < last {
		edge := p.Stage
		u := env.RNG.Float64()
		if edge == last-1 {
			p.TransitionAttempts++
		}
		if u < Clamp01(p.Forward[edge]) {
			from := p.Stage
			p.Stage++
			p.StageTime = 0
			p.NeverChanged = false
			if p.Stage == last {
				p.SuccessfulTransitions++
			}
			env.transition(p, from, p.Stage, Forward)
			return
		}
	}

	if p.Stage > 0 && !p.NeverAdverse {
		if env.RNG.Float64() < p.LapseProb() {
			from := p.Stage
			p.Stage--
			p.StageTime = 0
			env.transition(p, from, p.Stage, Lapse)
			return
		}
	}

	p.StageTime++
}

// LapseProb returns the clamped probability of lapsing from the current
// stage this step. It is 0 at the adverse stage.
func (p *Person) LapseProb() float64 {
	if p.Stage <= 0 || p.Stage > len(p.Lapse) {
		return 0
	}
	return EffectiveLapseProb(p.Lapse[p.Stage-1], p.LapseDecay, p.StageTime)
}

// EffectiveLapseProb is base * decay^stageTime, clamped to [0, 1]. A decay
// of 1 gives a constant lapse probability.
func EffectiveLapseProb(base, decay float64, stageTime int) float64 {
	if decay == 1 || stageTime <= 0 {
		return Clamp01(base)
	}
	return Clamp01(base * math.Pow(decay, float64(stageTime)))
}
