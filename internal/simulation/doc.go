// Package simulation provides a multi-step test harness for validating the
// population dynamics of the engine.
//
// The harness exercises the real Model, agents, metrics collector, and
// SQLite run store with no mocks. Scenarios wrap a scenario.Config and run a
// configurable number of steps, capturing per-person and per-service
// snapshots after every step for property-based assertions.
//
// Each test gets an isolated SQLite database via t.TempDir() and a sandboxed
// HOME to prevent touching user data.
//
// Usage:
//
//	func TestPopulationConserved(t *testing.T) {
//	    r := simulation.NewRunner(t)
//	    result := r.Run(simulation.Scenario{
//	        Name:   "smoking",
//	        Config: scenario.Smoking(),
//	        Steps:  50,
//	    })
//	    simulation.AssertPopulationConserved(t, result, 50)
//	}
package simulation
