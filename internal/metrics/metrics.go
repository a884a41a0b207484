// Package metrics computes the per-step population snapshot and keeps the
// append-only table of snapshots for a run.
package metrics

import (
	"fmt"

	"github.com/nvandessel/meccsim/internal/agent"
)

// Row is one snapshot of aggregate statistics. Counters are cumulative over
// the run; stage counts describe the population at snapshot time.
type Row struct {
	Step  int  `json:"step"`
	Final bool `json:"final,omitempty"`

	StageCounts []int `json:"stage_counts"`

	TransitionAttempts     int `json:"transition_attempts"`
	SuccessfulTransitions  int `json:"successful_transitions"`
	Contacts               int `json:"contacts"`
	Interventions          int `json:"interventions"`
	PeopleWithIntervention int `json:"people_with_intervention"`
	ImprovedThroughChange  int `json:"improved_through_change"`

	// MeanFinalStageTime averages StageTime over people in the last stage;
	// 0 when nobody is there.
	MeanFinalStageTime float64 `json:"mean_final_stage_time"`

	// Per-category totals, ordered as Table.Categories.
	CategoryContacts      []int `json:"category_contacts,omitempty"`
	CategoryInterventions []int `json:"category_interventions,omitempty"`
}

// Population returns the sum of the stage counts.
func (r Row) Population() int {
	n := 0
	for _, c := range r.StageCounts {
		n += c
	}
	return n
}

// Collect scans the population and returns the snapshot for step.
// categories fixes the order of the per-category columns; services whose
// category is not listed only contribute to the overall totals.
func Collect(step, stages int, categories []string, people []*agent.Person, services []*agent.Service) Row {
	row := Row{
		Step:        step,
		StageCounts: make([]int, stages),
	}

	last := stages - 1
	finalTime, finalCount := 0, 0
	for _, p := range people {
		if p.Stage >= 0 && p.Stage < stages {
			row.StageCounts[p.Stage]++
		}
		row.TransitionAttempts += p.TransitionAttempts
		row.SuccessfulTransitions += p.SuccessfulTransitions
		if p.InterventionsReceived > 0 {
			row.PeopleWithIntervention++
		}
		if p.Stage == last {
			finalTime += p.StageTime
			finalCount++
			if p.SuccessfulTransitions > 0 {
				row.ImprovedThroughChange++
			}
		}
	}
	if finalCount > 0 {
		row.MeanFinalStageTime = float64(finalTime) / float64(finalCount)
	}

	var index map[string]int
	if len(categories) > 0 {
		row.CategoryContacts = make([]int, len(categories))
		row.CategoryInterventions = make([]int, len(categories))
		index = make(map[string]int, len(categories))
		for i, c := range categories {
			index[c] = i
		}
	}
	for _, s := range services {
		row.Contacts += s.ContactsMade
		row.Interventions += s.InterventionsMade
		if i, ok := index[s.Category]; ok {
			row.CategoryContacts[i] += s.ContactsMade
			row.CategoryInterventions[i] += s.InterventionsMade
		}
	}

	return row
}

// Table is the ordered log of snapshot rows for one run.
type Table struct {
	Stages     []string `json:"stages"`
	Categories []string `json:"categories,omitempty"`
	Rows       []Row    `json:"rows"`
}

// NewTable creates an empty table for the given stage and category names.
func NewTable(stages, categories []string) *Table {
	return &Table{
		Stages:     append([]string(nil), stages...),
		Categories: append([]string(nil), categories...),
	}
}

// Append adds a row at the end of the log.
func (t *Table) Append(r Row) {
	t.Rows = append(t.Rows, r)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Last returns the most recent row.
func (t *Table) Last() (Row, bool) {
	if len(t.Rows) == 0 {
		return Row{}, false
	}
	return t.Rows[len(t.Rows)-1], true
}

// Copy returns a deep copy that later appends to t do not affect.
func (t *Table) Copy() *Table {
	c := NewTable(t.Stages, t.Categories)
	c.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		c.Rows[i] = r.Clone()
	}
	return c
}

// Clone returns a copy of r that shares no slices with it.
func (r Row) Clone() Row {
	r.StageCounts = append([]int(nil), r.StageCounts...)
	r.CategoryContacts = append([]int(nil), r.CategoryContacts...)
	r.CategoryInterventions = append([]int(nil), r.CategoryInterventions...)
	return r
}

// Column is a named, typed projection of a row.
type Column struct {
	Name    string
	Integer bool
	Value   func(Row) float64
}

// Column names shared by every table.
const (
	ColStep                   = "Step"
	ColTransitionAttempts     = "Total Transition Attempts"
	ColSuccessfulTransitions  = "Total Successful Transitions"
	ColContacts               = "Total Contacts"
	ColInterventions          = "Total Interventions"
	ColPeopleWithIntervention = "People With an Intervention"
	ColImprovedThroughChange  = "Improved Through Change"
	ColMeanFinalStageTime     = "Average Time In Final Stage"
)

// StageColumn names the count column for a stage.
func StageColumn(stage string) string { return "Total " + stage }

// Columns returns the table's columns in export order.
func (t *Table) Columns() []Column {
	cols := []Column{
		{Name: ColStep, Integer: true, Value: func(r Row) float64 { return float64(r.Step) }},
	}
	for i, s := range t.Stages {
		cols = append(cols, Column{Name: StageColumn(s), Integer: true, Value: func(r Row) float64 {
			if i >= len(r.StageCounts) {
				return 0
			}
			return float64(r.StageCounts[i])
		}})
	}
	cols = append(cols,
		Column{Name: ColTransitionAttempts, Integer: true, Value: func(r Row) float64 { return float64(r.TransitionAttempts) }},
		Column{Name: ColSuccessfulTransitions, Integer: true, Value: func(r Row) float64 { return float64(r.SuccessfulTransitions) }},
		Column{Name: ColContacts, Integer: true, Value: func(r Row) float64 { return float64(r.Contacts) }},
		Column{Name: ColInterventions, Integer: true, Value: func(r Row) float64 { return float64(r.Interventions) }},
		Column{Name: ColPeopleWithIntervention, Integer: true, Value: func(r Row) float64 { return float64(r.PeopleWithIntervention) }},
		Column{Name: ColImprovedThroughChange, Integer: true, Value: func(r Row) float64 { return float64(r.ImprovedThroughChange) }},
		Column{Name: ColMeanFinalStageTime, Value: func(r Row) float64 { return r.MeanFinalStageTime }},
	)
	for i, c := range t.Categories {
		cols = append(cols,
			Column{Name: c + " Contacts", Integer: true, Value: func(r Row) float64 {
				if i >= len(r.CategoryContacts) {
					return 0
				}
				return float64(r.CategoryContacts[i])
			}},
			Column{Name: c + " Interventions", Integer: true, Value: func(r Row) float64 {
				if i >= len(r.CategoryInterventions) {
					return 0
				}
				return float64(r.CategoryInterventions[i])
			}},
		)
	}
	return cols
}

// Series returns one column's values across all rows.
func (t *Table) Series(name string) ([]float64, error) {
	for _, c := range t.Columns() {
		if c.Name != name {
			continue
		}
		out := make([]float64, len(t.Rows))
		for i, r := range t.Rows {
			out[i] = c.Value(r)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown column %q", name)
}
