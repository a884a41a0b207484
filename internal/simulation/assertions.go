package simulation

import (
	"testing"
)

// AssertPopulationConserved asserts that the stage counts of every step sum
// to the configured population.
func AssertPopulationConserved(t *testing.T, result SimulationResult, population int) {
	t.Helper()
	for _, sr := range result.Steps {
		if got := sr.Row.Population(); got != population {
			t.Errorf("AssertPopulationConserved: step %d: stage counts %v sum to %d, want %d", sr.Index, sr.Row.StageCounts, got, population)
		}
	}
	for _, row := range result.Table.Rows {
		if got := row.Population(); got != population {
			t.Errorf("AssertPopulationConserved: table step %d: population %d, want %d", row.Step, got, population)
		}
	}
}

// AssertCountersMonotonic asserts that no per-person or per-service counter
// ever decreases between consecutive steps.
func AssertCountersMonotonic(t *testing.T, result SimulationResult) {
	t.Helper()
	for i := 1; i < len(result.Steps); i++ {
		prev, cur := result.Steps[i-1], result.Steps[i]
		for j, p := range cur.People {
			q := prev.People[j]
			if p.TransitionAttempts < q.TransitionAttempts || p.SuccessfulTransitions < q.SuccessfulTransitions ||
				p.InterventionsReceived < q.InterventionsReceived {
				t.Errorf("AssertCountersMonotonic: step %d: person %d counters decreased: %+v -> %+v", cur.Index, p.ID, q, p)
			}
		}
		for j, s := range cur.Services {
			q := prev.Services[j]
			if s.ContactsMade < q.ContactsMade || s.InterventionsMade < q.InterventionsMade {
				t.Errorf("AssertCountersMonotonic: step %d: service %d counters decreased: %+v -> %+v", cur.Index, s.ID, q, s)
			}
		}
	}
}

// AssertInterventionsWithinContacts asserts interventions_made <=
// contacts_made for every service at every step.
func AssertInterventionsWithinContacts(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, sr := range result.Steps {
		for _, s := range sr.Services {
			if s.InterventionsMade > s.ContactsMade {
				t.Errorf("AssertInterventionsWithinContacts: step %d: service %d made %d interventions in %d contacts", sr.Index, s.ID, s.InterventionsMade, s.ContactsMade)
			}
		}
	}
}

// AssertSuccessesWithinAttempts asserts that cumulative successful
// transitions never exceed cumulative attempts.
func AssertSuccessesWithinAttempts(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, sr := range result.Steps {
		if sr.Row.SuccessfulTransitions > sr.Row.TransitionAttempts {
			t.Errorf("AssertSuccessesWithinAttempts: step %d: %d successes > %d attempts", sr.Index, sr.Row.SuccessfulTransitions, sr.Row.TransitionAttempts)
		}
		for _, p := range sr.People {
			if p.SuccessfulTransitions > p.TransitionAttempts {
				t.Errorf("AssertSuccessesWithinAttempts: step %d: person %d has %d successes > %d attempts", sr.Index, p.ID, p.SuccessfulTransitions, p.TransitionAttempts)
			}
		}
	}
}

// AssertNeverChangedExclusive asserts that nobody flagged never-changed is
// outside the adverse stage.
func AssertNeverChangedExclusive(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, sr := range result.Steps {
		for _, p := range sr.People {
			if p.NeverChanged && p.Stage != 0 {
				t.Errorf("AssertNeverChangedExclusive: step %d: person %d never changed but at stage %d", sr.Index, p.ID, p.Stage)
			}
		}
	}
}

// AssertStageTimeReset asserts that whenever a person's stage changes
// between consecutive steps, their stage time is 0 afterwards, and that it
// grows by exactly one otherwise.
func AssertStageTimeReset(t *testing.T, result SimulationResult) {
	t.Helper()
	for i := 1; i < len(result.Steps); i++ {
		prev, cur := result.Steps[i-1], result.Steps[i]
		for j, p := range cur.People {
			q := prev.People[j]
			switch {
			case p.Stage != q.Stage && p.StageTime != 0:
				t.Errorf("AssertStageTimeReset: step %d: person %d moved %d -> %d but stage time is %d", cur.Index, p.ID, q.Stage, p.Stage, p.StageTime)
			case p.Stage == q.Stage && p.StageTime != q.StageTime+1:
				t.Errorf("AssertStageTimeReset: step %d: person %d stayed at %d but stage time went %d -> %d", cur.Index, p.ID, p.Stage, q.StageTime, p.StageTime)
			}
		}
	}
}

// AssertSingleStageMoves asserts that nobody moves more than one stage in
// a step.
func AssertSingleStageMoves(t *testing.T, result SimulationResult) {
	t.Helper()
	for i := 1; i < len(result.Steps); i++ {
		prev, cur := result.Steps[i-1], result.Steps[i]
		for j, p := range cur.People {
			d := p.Stage - prev.People[j].Stage
			if d > 1 || d < -1 {
				t.Errorf("AssertSingleStageMoves: step %d: person %d jumped %d stages", cur.Index, p.ID, d)
			}
		}
	}
}

// AssertNeverAdverseNoLapse asserts that people created above the adverse
// stage never move backward.
func AssertNeverAdverseNoLapse(t *testing.T, result SimulationResult) {
	t.Helper()
	for i := 1; i < len(result.Steps); i++ {
		prev, cur := result.Steps[i-1], result.Steps[i]
		for j, p := range cur.People {
			if p.NeverAdverse && p.Stage < prev.People[j].Stage {
				t.Errorf("AssertNeverAdverseNoLapse: step %d: person %d lapsed %d -> %d", cur.Index, p.ID, prev.People[j].Stage, p.Stage)
			}
		}
	}
}

// AssertForwardNonDecreasing asserts that no stored forward probability is
// ever lowered.
func AssertForwardNonDecreasing(t *testing.T, result SimulationResult) {
	t.Helper()
	for i := 1; i < len(result.Steps); i++ {
		prev, cur := result.Steps[i-1], result.Steps[i]
		for j, p := range cur.People {
			for e, f := range p.Forward {
				if f < prev.People[j].Forward[e] {
					t.Errorf("AssertForwardNonDecreasing: step %d: person %d edge %d lowered %.4f -> %.4f", cur.Index, p.ID, e, prev.People[j].Forward[e], f)
				}
			}
		}
	}
}

// AssertNoContacts asserts that no contact happened in any step.
func AssertNoContacts(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, row := range result.Table.Rows {
		if row.Contacts != 0 || row.Interventions != 0 {
			t.Errorf("AssertNoContacts: step %d: contacts=%d interventions=%d", row.Step, row.Contacts, row.Interventions)
		}
	}
}

// AssertTableMatchesSteps asserts that the model's snapshot log agrees with
// the runner's captures: row k of the table was recorded before step k ran.
func AssertTableMatchesSteps(t *testing.T, result SimulationResult) {
	t.Helper()
	if got, want := result.Table.Len(), len(result.Steps); got != want {
		t.Fatalf("AssertTableMatchesSteps: table has %d rows, runner captured %d steps", got, want)
	}
	for i, row := range result.Table.Rows {
		sr := result.Steps[i]
		if row.Contacts != sr.Row.Contacts || row.Interventions != sr.Row.Interventions ||
			row.TransitionAttempts != sr.Row.TransitionAttempts {
			t.Errorf("AssertTableMatchesSteps: row %d = %+v, capture = %+v", i, row, sr.Row)
		}
		for s := range row.StageCounts {
			if row.StageCounts[s] != sr.Row.StageCounts[s] {
				t.Errorf("AssertTableMatchesSteps: row %d stage %d = %d, capture = %d", i, s, row.StageCounts[s], sr.Row.StageCounts[s])
			}
		}
	}
}

// AssertStoredTableMatches asserts that the table reloaded from the store
// equals the table the model produced.
func AssertStoredTableMatches(t *testing.T, result SimulationResult) {
	t.Helper()
	if result.Stored == nil {
		t.Fatal("AssertStoredTableMatches: run was not persisted")
	}
	if got, want := result.Stored.Len(), result.Table.Len(); got != want {
		t.Fatalf("AssertStoredTableMatches: stored %d rows, want %d", got, want)
	}
	for i, want := range result.Table.Rows {
		got := result.Stored.Rows[i]
		if got.Step != want.Step || got.Final != want.Final || got.Contacts != want.Contacts ||
			got.Interventions != want.Interventions || got.MeanFinalStageTime != want.MeanFinalStageTime ||
			got.ImprovedThroughChange != want.ImprovedThroughChange {
			t.Errorf("AssertStoredTableMatches: row %d = %+v, want %+v", i, got, want)
		}
	}
}
