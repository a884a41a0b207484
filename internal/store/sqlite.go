package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/meccsim/internal/metrics"
	"github.com/nvandessel/meccsim/internal/scenario"
)

// timeFormat is fixed-width so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRunStore implements RunStore using SQLite for persistence.
type SQLiteRunStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteRunStore opens (or creates) the run database at dir/meccsim.db.
func NewSQLiteRunStore(dir string) (*SQLiteRunStore, error) {
	if err := EnsureDataDir(dir); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(dir, DBFile)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRunStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteRunStore) Path() string { return s.dbPath }

// SaveRun stores run and every row of its table in one transaction.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, run *Run) (string, error) {
	if run == nil || run.Table == nil {
		return "", fmt.Errorf("run and its table are required")
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	stages, err := json.Marshal(run.Table.Stages)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stages: %w", err)
	}
	categories, err := json.Marshal(run.Table.Categories)
	if err != nil {
		return "", fmt.Errorf("failed to marshal categories: %w", err)
	}
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, name, seed, trained, population, steps, stages, categories, config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, int64(run.Seed), boolToInt(run.Trained), run.Population, run.Steps,
		string(stages), string(categories), string(cfg), run.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_rows (run_id, seq, step, final, stage_counts, transition_attempts,
			successful_transitions, contacts, interventions, people_with_intervention,
			improved_through_change, mean_final_stage_time, category_contacts, category_interventions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer stmt.Close()

	for seq, r := range run.Table.Rows {
		counts, _ := json.Marshal(r.StageCounts)
		catContacts, _ := json.Marshal(r.CategoryContacts)
		catInterventions, _ := json.Marshal(r.CategoryInterventions)
		if _, err := stmt.ExecContext(ctx,
			run.ID, seq, r.Step, boolToInt(r.Final), string(counts), r.TransitionAttempts,
			r.SuccessfulTransitions, r.Contacts, r.Interventions, r.PeopleWithIntervention,
			r.ImprovedThroughChange, r.MeanFinalStageTime, string(catContacts), string(catInterventions),
		); err != nil {
			return "", fmt.Errorf("failed to insert row %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return run.ID, nil
}

// resolveID maps a full ID or unique prefix to a stored ID.
func (s *SQLiteRunStore) resolveID(ctx context.Context, id string) (string, error) {
	var exact string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs WHERE id = ?`, id).Scan(&exact)
	if err == nil {
		return exact, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up run: %w", err)
	}
	if len(id) < MinPrefixLen {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	pattern := strings.NewReplacer("%", `\%`, "_", `\_`).Replace(id) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs WHERE id LIKE ? ESCAPE '\' LIMIT 2`, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to look up run prefix: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return "", fmt.Errorf("failed to scan run id: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousID, id)
	}
}

// GetRun loads a run and its full table.
func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	full, err := s.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, seed, trained, population, steps, stages, categories, config, created_at
		FROM runs WHERE id = ?`, full)
	run, stages, categories, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	table := metrics.NewTable(stages, categories)
	rows, err := s.db.QueryContext(ctx, `
		SELECT step, final, stage_counts, transition_attempts, successful_transitions, contacts,
			interventions, people_with_intervention, improved_through_change, mean_final_stage_time,
			category_contacts, category_interventions
		FROM run_rows WHERE run_id = ? ORDER BY seq`, full)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r metrics.Row
		var final int
		var counts string
		var catContacts, catInterventions sql.NullString
		if err := rows.Scan(&r.Step, &final, &counts, &r.TransitionAttempts, &r.SuccessfulTransitions,
			&r.Contacts, &r.Interventions, &r.PeopleWithIntervention, &r.ImprovedThroughChange,
			&r.MeanFinalStageTime, &catContacts, &catInterventions); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Final = final != 0
		if err := json.Unmarshal([]byte(counts), &r.StageCounts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage counts: %w", err)
		}
		r.CategoryContacts = unmarshalInts(catContacts)
		r.CategoryInterventions = unmarshalInts(catInterventions)
		table.Append(r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	run.Table = table
	return run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, []string, []string, error) {
	var run Run
	var seed int64
	var trained int
	var stagesJSON, cfgJSON, createdAt string
	var categoriesJSON sql.NullString
	err := row.Scan(&run.ID, &run.Name, &seed, &trained, &run.Population, &run.Steps,
		&stagesJSON, &categoriesJSON, &cfgJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil, ErrRunNotFound
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Seed = uint64(seed)
	run.Trained = trained != 0
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	var stages, categories []string
	if err := json.Unmarshal([]byte(stagesJSON), &stages); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to unmarshal stages: %w", err)
	}
	if categoriesJSON.Valid && categoriesJSON.String != "" {
		_ = json.Unmarshal([]byte(categoriesJSON.String), &categories)
	}
	var cfg scenario.Config
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	run.Config = cfg
	return &run, stages, categories, nil
}

// ListRuns returns every run, newest first, without tables.
func (s *SQLiteRunStore) ListRuns(ctx context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, seed, trained, population, steps, stages, categories, config, created_at
		FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, _, _, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run; its rows cascade.
func (s *SQLiteRunStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	full, err := s.resolveID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, full); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unmarshalInts(s sql.NullString) []int {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	var out []int
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil
	}
	return out
}

var _ RunStore = (*SQLiteRunStore)(nil)
