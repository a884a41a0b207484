// Package store defines the RunStore interface for persisting finished
// simulation runs and their metrics tables.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/meccsim/internal/metrics"
	"github.com/nvandessel/meccsim/internal/sanitize"
	"github.com/nvandessel/meccsim/internal/scenario"
)

// ErrRunNotFound is returned when no stored run matches an ID.
var ErrRunNotFound = errors.New("run not found")

// ErrAmbiguousID is returned when an ID prefix matches more than one run.
var ErrAmbiguousID = errors.New("ambiguous run ID")

// MinPrefixLen is the shortest ID prefix accepted for lookups.
const MinPrefixLen = 4

// Run is a stored simulation run. Table is nil in listings.
type Run struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Seed       uint64          `json:"seed"`
	Trained    bool            `json:"trained"`
	Population int             `json:"population"`
	Steps      int             `json:"steps"`
	CreatedAt  time.Time       `json:"created_at"`
	Config     scenario.Config `json:"config"`
	Table      *metrics.Table  `json:"table,omitempty"`
}

// NewRun describes a finished run with a fresh ID. Steps counts the
// non-final rows of the table. The name is sanitized.
func NewRun(name string, cfg scenario.Config, table *metrics.Table) *Run {
	steps := 0
	for _, r := range table.Rows {
		if !r.Final {
			steps++
		}
	}
	if name == "" {
		name = cfg.Name
	}
	name = sanitize.RunName(name)
	return &Run{
		ID:         uuid.New().String(),
		Name:       name,
		Seed:       cfg.Seed,
		Trained:    cfg.Trained,
		Population: cfg.Population,
		Steps:      steps,
		CreatedAt:  time.Now().UTC(),
		Config:     cfg.Clone(),
		Table:      table.Copy(),
	}
}

// RunStore persists runs.
type RunStore interface {
	// SaveRun stores run and its table, assigning an ID when empty.
	SaveRun(ctx context.Context, run *Run) (string, error)

	// GetRun loads a run and its table by full ID or unique prefix.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs newest first, without tables.
	ListRuns(ctx context.Context) ([]Run, error)

	// DeleteRun removes a run and its rows.
	DeleteRun(ctx context.Context, id string) error

	Close() error
}
