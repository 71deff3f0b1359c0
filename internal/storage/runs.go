package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run is a persisted record of one command execution and its capture
// outcome. DrainComplete records whether the capture channel confirmed
// drainage; consumers must not treat a run with DrainComplete false as a
// full capture.
type Run struct {
	ID            string
	Command       string
	Session       string
	Mode          string
	Status        string
	ExitCode      int
	DrainComplete bool
	OutputPath    string
	OutputBytes   int64
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// RunStore handles persistence of run history.
type RunStore struct {
	db *DB
}

// NewRunStore creates a run store backed by db.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Start inserts a new run record in the running state.
func (s *RunStore) Start(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = "running"
	_, err := s.db.Exec(`
		INSERT INTO runs (id, command, session, mode, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.Command, run.Session, run.Mode, run.Status, run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Finish updates a run record with its final observation fields.
func (s *RunStore) Finish(run *Run) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	_, err := s.db.Exec(`
		UPDATE runs
		SET status = ?, exit_code = ?, drain_complete = ?, output_path = ?,
		    output_bytes = ?, finished_at = ?
		WHERE id = ?
	`, run.Status, run.ExitCode, boolToInt(run.DrainComplete), run.OutputPath,
		run.OutputBytes, run.FinishedAt, run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, command, session, mode, status, exit_code, drain_complete,
		       output_path, output_bytes, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// List retrieves the most recent runs, newest first.
func (s *RunStore) List(limit int) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT id, command, session, mode, status, exit_code, drain_complete,
		       output_path, output_bytes, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListBySession retrieves the most recent runs for a session.
func (s *RunStore) ListBySession(session string, limit int) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT id, command, session, mode, status, exit_code, drain_complete,
		       output_path, output_bytes, started_at, finished_at
		FROM runs WHERE session = ? ORDER BY started_at DESC LIMIT ?
	`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// DeleteOlderThan removes runs that finished before cutoff and returns the
// output paths of the deleted records so callers can remove sink files.
func (s *RunStore) DeleteOlderThan(cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT output_path FROM runs
		WHERE finished_at IS NOT NULL AND finished_at < ? AND output_path != ''
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query expired runs: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = s.db.Exec(`
		DELETE FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete expired runs: %w", err)
	}
	return paths, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var drain int
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.Command, &run.Session, &run.Mode, &run.Status,
		&run.ExitCode, &drain, &run.OutputPath, &run.OutputBytes,
		&run.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.DrainComplete = drain != 0
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
