package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRunStore implements RunStore for testing and for sessions that
// should not touch disk.
type InMemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewInMemoryRunStore creates an empty in-memory store.
func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{runs: make(map[string]*Run)}
}

// SaveRun stores a deep copy of run.
func (s *InMemoryRunStore) SaveRun(ctx context.Context, run *Run) (string, error) {
	if run == nil || run.Table == nil {
		return "", fmt.Errorf("run and its table are required")
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return "", fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return run.ID, nil
}

func (s *InMemoryRunStore) resolveID(id string) (string, error) {
	if _, ok := s.runs[id]; ok {
		return id, nil
	}
	if len(id) < MinPrefixLen {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	var match string
	for k := range s.runs {
		if strings.HasPrefix(k, id) {
			if match != "" {
				return "", fmt.Errorf("%w: %s", ErrAmbiguousID, id)
			}
			match = k
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return match, nil
}

// GetRun returns a copy of a stored run.
func (s *InMemoryRunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	full, err := s.resolveID(id)
	if err != nil {
		return nil, err
	}
	return cloneRun(s.runs[full]), nil
}

// ListRuns returns runs newest first, without tables.
func (s *InMemoryRunStore) ListRuns(ctx context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		c := *cloneRun(r)
		c.Table = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteRun removes a run.
func (s *InMemoryRunStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	full, err := s.resolveID(id)
	if err != nil {
		return err
	}
	delete(s.runs, full)
	return nil
}

// Close is a no-op.
func (s *InMemoryRunStore) Close() error { return nil }

func cloneRun(r *Run) *Run {
	c := *r
	c.Config = r.Config.Clone()
	if r.Table != nil {
		c.Table = r.Table.Copy()
	}
	return &c
}

var _ RunStore = (*InMemoryRunStore)(nil)
