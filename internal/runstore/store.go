package runstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/volstitch/internal/volume"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrRunNotFound is returned for an unknown run ID.
	ErrRunNotFound = errors.New("runstore: run not found")
	// ErrRunFinished is returned when finishing a run that is no longer running.
	ErrRunFinished = errors.New("runstore: run already finished")
)

// Run is one row of the ledger.
type Run struct {
	RunID        string
	CreatedAt    time.Time
	SourcePath   string
	Adapter      string
	ParamsJSON   json.RawMessage
	Version      string
	Status       Status
	ErrorMessage string
	Batches      int
	Patches      int
	Duration     time.Duration
	CompletedAt  *time.Time
}

// HeadStats summarises one output head of a run.
type HeadStats struct {
	Head       int
	Channels   int
	Shape      volume.Triple
	Mean       float64
	StdDev     float64
	Min        float64
	Max        float64
	MinVisits  uint32
	MaxVisits  uint32
	OutputPath string
}

// Outcome is what a finished run reports back to the ledger.
type Outcome struct {
	Status       Status
	ErrorMessage string
	Batches      int
	Patches      int
	Duration     time.Duration
	CompletedAt  time.Time
}

// Store reads and writes ledger rows.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open, migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertRun records a new run.
func (s *Store) InsertRun(run *Run) error {
	params := run.ParamsJSON
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	_, err := s.db.Exec(`
		INSERT INTO stitch_runs (run_id, created_at, source_path, adapter, params_json, version, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.CreatedAt.UnixNano(), run.SourcePath, run.Adapter, string(params), run.Version, string(run.Status))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	return nil
}

// FinishRun moves a running run to its final status.
func (s *Store) FinishRun(runID string, out Outcome) error {
	if out.Status == StatusRunning {
		return fmt.Errorf("finish run %s: status %q is not final", runID, out.Status)
	}
	res, err := s.db.Exec(`
		UPDATE stitch_runs
		SET status = ?, error_message = ?, batches = ?, patches = ?, duration_ms = ?, completed_at = ?
		WHERE run_id = ? AND status = ?`,
		string(out.Status), out.ErrorMessage, out.Batches, out.Patches, out.Duration.Milliseconds(),
		out.CompletedAt.UnixNano(), runID, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n == 0 {
		if _, err := s.GetRun(runID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrRunFinished, runID)
	}
	return nil
}

// InsertHeadStats stores the per-head summaries of a run in one transaction.
func (s *Store) InsertHeadStats(runID string, stats []HeadStats) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO stitch_run_heads (run_id, head, channels, size_z, size_y, size_x,
			mean, stddev, min_value, max_value, min_visits, max_visits, output_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, h := range stats {
		if _, err := stmt.Exec(runID, h.Head, h.Channels, h.Shape[0], h.Shape[1], h.Shape[2],
			h.Mean, h.StdDev, h.Min, h.Max, h.MinVisits, h.MaxVisits, h.OutputPath); err != nil {
			return fmt.Errorf("insert stats for run %s head %d: %w", runID, h.Head, err)
		}
	}
	return tx.Commit()
}

const runColumns = `run_id, created_at, source_path, adapter, params_json, version, status,
	error_message, batches, patches, duration_ms, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r           Run
		createdAt   int64
		params      string
		status      string
		durationMs  int64
		completedAt sql.NullInt64
	)
	if err := row.Scan(&r.RunID, &createdAt, &r.SourcePath, &r.Adapter, &params, &r.Version, &status,
		&r.ErrorMessage, &r.Batches, &r.Patches, &durationMs, &completedAt); err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	r.ParamsJSON = json.RawMessage(params)
	r.Status = Status(status)
	r.Duration = time.Duration(durationMs) * time.Millisecond
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		r.CompletedAt = &t
	}
	return &r, nil
}

// GetRun returns the run with the given ID.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM stitch_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM stitch_runs ORDER BY created_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetHeadStats returns the per-head summaries of a run ordered by head.
func (s *Store) GetHeadStats(runID string) ([]HeadStats, error) {
	rows, err := s.db.Query(`
		SELECT head, channels, size_z, size_y, size_x, mean, stddev, min_value, max_value,
			min_visits, max_visits, output_path
		FROM stitch_run_heads WHERE run_id = ? ORDER BY head`, runID)
	if err != nil {
		return nil, fmt.Errorf("get head stats %s: %w", runID, err)
	}
	defer rows.Close()

	var out []HeadStats
	for rows.Next() {
		var h HeadStats
		if err := rows.Scan(&h.Head, &h.Channels, &h.Shape[0], &h.Shape[1], &h.Shape[2],
			&h.Mean, &h.StdDev, &h.Min, &h.Max, &h.MinVisits, &h.MaxVisits, &h.OutputPath); err != nil {
			return nil, fmt.Errorf("get head stats %s: %w", runID, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
