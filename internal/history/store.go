package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pmt-pipeline/internal/domain"
)

// Store implements domain.RunRepository over the SQLite history database.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Compile-time check.
var _ domain.RunRepository = (*Store)(nil)

// BeginRun inserts a run in the running state and returns it.
func (s *Store) BeginRun(ctx context.Context, jobName string) (*domain.Run, error) {
	run := &domain.Run{
		ID:        uuid.New().String(),
		JobName:   jobName,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, job_name, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.JobName, run.Status, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun marks a run finished with the given status and optional error.
func (s *Store) FinishRun(ctx context.Context, runID string, status domain.RunStatus, errText *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errText, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// RecordUnit inserts one unit outcome for a run.
func (s *Store) RecordUnit(ctx context.Context, result *domain.UnitResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_units (id, run_id, unit, status, rows_in, rows_out, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.RunID, result.Unit, result.Status,
		result.RowsIn, result.RowsOut, result.Error)
	if err != nil {
		return fmt.Errorf("insert unit result: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_name, status, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var runs []domain.Run
	for rows.Next() {
		var r domain.Run
		if err := rows.Scan(&r.ID, &r.JobName, &r.Status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListUnits returns the unit outcomes recorded for a run.
func (s *Store) ListUnits(ctx context.Context, runID string) ([]domain.UnitResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, unit, status, rows_in, rows_out, error
		 FROM run_units WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var units []domain.UnitResult
	for rows.Next() {
		var u domain.UnitResult
		if err := rows.Scan(&u.ID, &u.RunID, &u.Unit, &u.Status, &u.RowsIn, &u.RowsOut, &u.Error); err != nil {
			return nil, fmt.Errorf("scan unit result: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}
