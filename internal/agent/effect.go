package agent

// Effect mutates a person's forward probabilities when an intervention lands.
type Effect interface {
	Apply(p *Person)
	Policy() string
}

// Policy names.
const (
	PolicyNone       = "none"
	PolicyMultiplier = "multiplier"
	PolicyFloor      = "floor"
)

// DefaultFactor is the multiplier applied when none is configured.
const DefaultFactor = 1.0

// Multiplier scales the final forward edge. Repeated interventions compound
// without a ceiling; draws clamp the stored value.
type Multiplier struct {
	Factor float64
}

func (m Multiplier) Apply(p *Person) {
	if len(p.Forward) == 0 {
		return
	}
	p.Forward[len(p.Forward)-1] *= m.Factor
}

func (m Multiplier) Policy() string { return PolicyMultiplier }

// Floor raises each forward edge to at least its floor. It never lowers a
// probability, so repeated interventions form a ratchet.
type Floor struct {
	Floors []float64
}

func (f Floor) Apply(p *Person) {
	for i := range p.Forward {
		if i < len(f.Floors) && p.Forward[i] < f.Floors[i] {
			p.Forward[i] = f.Floors[i]
		}
	}
}

func (f Floor) Policy() string { return PolicyFloor }

// NoEffect counts the intervention but leaves probabilities alone.
type NoEffect struct{}

func (NoEffect) Apply(*Person)  {}
func (NoEffect) Policy() string { return PolicyNone }
