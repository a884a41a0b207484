package agent

// Service is one contact point. Its work happens synchronously inside
// HaveContact, invoked by the visiting person.
type Service struct {
	ID       int
	Category string
	Trained  bool

	ProbTrained   float64
	ProbUntrained float64
	Effect        Effect

	ContactsMade      int
	InterventionsMade int
}

// InterventionProb returns the probability in effect for the service's
// training state.
func (s *Service) InterventionProb() float64 {
	if s.Trained {
		return s.ProbTrained
	}
	return s.ProbUntrained
}

// HaveContact records a contact from p and, with the service's intervention
// probability, delivers an intervention. It reports whether one was made.
func (s *Service) HaveContact(env *Env, p *Person) bool {
	s.ContactsMade++
	if env.RNG.Float64() >= s.InterventionProb() {
		env.contact(p, s, false)
		return false
	}
	s.InterventionsMade++
	p.InterventionsReceived++
	if s.Effect != nil {
		s.Effect.Apply(p)
	}
	env.contact(p, s, true)
	return true
}

// Step is a no-op; services are still scheduled for parity with people.
func (s *Service) Step(*Env) {}
