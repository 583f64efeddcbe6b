package runstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/volstitch/internal/stitch"
	"github.com/banshee-data/volstitch/internal/timeutil"
	"github.com/banshee-data/volstitch/internal/version"
)

// Manager coordinates the ledger entry of the run in progress. It is safe for
// concurrent use; at most one run is active at a time.
type Manager struct {
	mu      sync.Mutex
	store   *Store
	clock   timeutil.Clock
	current *Run
	started time.Time
}

// NewManager creates a manager over db. A nil clock uses wall time.
func NewManager(db *sql.DB, clock timeutil.Clock) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{store: NewStore(db), clock: clock}
}

// Store returns the underlying store for queries.
func (m *Manager) Store() *Store { return m.store }

// StartRun records a new running run and returns its ID. params is stored as
// JSON.
func (m *Manager) StartRun(sourcePath, adapter string, params any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return "", fmt.Errorf("runstore: run %s still active", m.current.RunID)
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("runstore: encode params: %w", err)
	}

	now := m.clock.Now()
	run := &Run{
		RunID:      uuid.New().String(),
		CreatedAt:  now,
		SourcePath: sourcePath,
		Adapter:    adapter,
		ParamsJSON: paramsJSON,
		Version:    version.String(),
		Status:     StatusRunning,
	}
	if err := m.store.InsertRun(run); err != nil {
		return "", err
	}
	m.current = run
	m.started = now

	opsf("started run %s for %s (%s)", run.RunID, sourcePath, adapter)
	return run.RunID, nil
}

// Finish closes the active run according to how the engine returned: a
// cancellation is recorded as cancelled, any other error as failed, and a
// complete result as completed with per-head statistics. res may be nil.
func (m *Manager) Finish(res *stitch.Result, runErr error, outputs []string) error {
	switch {
	case errors.Is(runErr, stitch.ErrCancelled):
		return m.CancelRun(res)
	case runErr != nil:
		return m.FailRun(runErr, res)
	default:
		return m.CompleteRun(res, outputs)
	}
}

// CompleteRun finalises the active run with its statistics.
func (m *Manager) CompleteRun(res *stitch.Result, outputs []string) error {
	if res == nil || !res.Complete {
		return fmt.Errorf("runstore: cannot complete run with an incomplete result")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	if err := m.store.InsertHeadStats(m.current.RunID, SummariseHeads(res, outputs)); err != nil {
		return err
	}
	out := m.outcomeLocked(StatusCompleted, "", res)
	if err := m.store.FinishRun(m.current.RunID, out); err != nil {
		return err
	}
	opsf("completed run %s: %d batches, %d patches, %d head(s) in %.2fs",
		m.current.RunID, out.Batches, out.Patches, len(res.Heads), out.Duration.Seconds())
	m.current = nil
	return nil
}

// FailRun marks the active run as failed with runErr's message.
func (m *Manager) FailRun(runErr error, res *stitch.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	msg := "unknown error"
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := m.store.FinishRun(m.current.RunID, m.outcomeLocked(StatusFailed, msg, res)); err != nil {
		return err
	}
	opsf("failed run %s: %s", m.current.RunID, msg)
	m.current = nil
	return nil
}

// CancelRun marks the active run as cancelled.
func (m *Manager) CancelRun(res *stitch.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	out := m.outcomeLocked(StatusCancelled, "cancelled", res)
	if err := m.store.FinishRun(m.current.RunID, out); err != nil {
		return err
	}
	opsf("cancelled run %s after %d batches", m.current.RunID, out.Batches)
	m.current = nil
	return nil
}

func (m *Manager) outcomeLocked(status Status, msg string, res *stitch.Result) Outcome {
	now := m.clock.Now()
	out := Outcome{
		Status:       status,
		ErrorMessage: msg,
		Duration:     now.Sub(m.started),
		CompletedAt:  now,
	}
	if res != nil {
		out.Batches = res.Stats.Batches
		out.Patches = res.Stats.Patches
	}
	return out
}

// IsRunActive returns true if there's an active run.
func (m *Manager) IsRunActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// CurrentRunID returns the active run ID, or empty string if none.
func (m *Manager) CurrentRunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.RunID
}
