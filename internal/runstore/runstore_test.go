package runstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/volstitch/internal/infer"
	"github.com/banshee-data/volstitch/internal/stitch"
	"github.com/banshee-data/volstitch/internal/testutil"
	"github.com/banshee-data/volstitch/internal/tiling"
	"github.com/banshee-data/volstitch/internal/timeutil"
	"github.com/banshee-data/volstitch/internal/volume"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var epoch = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// stitchResult runs a small identity pass and returns its result and error.
func stitchResult(t *testing.T, ctx context.Context, adapter infer.Adapter) (*stitch.Result, error) {
	t.Helper()
	plan := tiling.Plan{Patch: volume.Triple{2, 4, 4}, Stride: volume.Triple{2, 2, 2}}
	vol := testutil.PatternVolume(1, volume.Triple{2, 6, 6}, 5)
	src, err := tiling.NewArraySource(vol, plan)
	require.NoError(t, err)
	defer src.Close()
	eng, err := stitch.New(stitch.Config{Plan: plan, Halo: volume.Triple{0, 1, 1}}, adapter)
	require.NoError(t, err)
	return eng.Run(ctx, src)
}

func TestOpen_MigratesToLatest(t *testing.T) {
	db := openTestDB(t)
	v, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)

	// Reopening an up-to-date ledger is a no-op.
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	v, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, v)
	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'stitch_runs'`).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_RunLifecycle(t *testing.T) {
	store := NewStore(openTestDB(t).DB)
	run := &Run{
		RunID:      uuid.New().String(),
		CreatedAt:  epoch,
		SourcePath: "/data/vol.npy",
		Adapter:    "identity",
		ParamsJSON: []byte(`{"halo":[0,1,1]}`),
		Version:    "test",
		Status:     StatusRunning,
	}
	require.NoError(t, store.InsertRun(run))

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.True(t, got.CreatedAt.Equal(epoch))
	assert.JSONEq(t, `{"halo":[0,1,1]}`, string(got.ParamsJSON))
	assert.Nil(t, got.CompletedAt)

	out := Outcome{Status: StatusCompleted, Batches: 3, Patches: 9, Duration: 1500 * time.Millisecond, CompletedAt: epoch.Add(2 * time.Second)}
	require.NoError(t, store.FinishRun(run.RunID, out))

	got, err = store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 9, got.Patches)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(out.CompletedAt))

	err = store.FinishRun(run.RunID, Outcome{Status: StatusFailed, CompletedAt: epoch})
	assert.ErrorIs(t, err, ErrRunFinished)
	err = store.FinishRun("no-such-run", Outcome{Status: StatusFailed, CompletedAt: epoch})
	assert.ErrorIs(t, err, ErrRunNotFound)
	err = store.FinishRun(run.RunID, Outcome{Status: StatusRunning})
	assert.Error(t, err)
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	store := NewStore(openTestDB(t).DB)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertRun(&Run{
			RunID:      uuid.New().String(),
			CreatedAt:  epoch.Add(time.Duration(i) * time.Minute),
			SourcePath: "vol.npy",
			Adapter:    "identity",
			Status:     StatusRunning,
		}))
	}
	runs, err := store.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].CreatedAt.After(runs[1].CreatedAt))

	all, err := store.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_RejectsUnknownStatus(t *testing.T) {
	store := NewStore(openTestDB(t).DB)
	err := store.InsertRun(&Run{RunID: "x", CreatedAt: epoch, Status: Status("paused")})
	assert.Error(t, err)
}

func TestSummariseHeads(t *testing.T) {
	res, err := stitchResult(t, context.Background(), infer.Identity{Channels: 1})
	require.NoError(t, err)

	stats := SummariseHeads(res, []string{"out_0.npy"})
	require.Len(t, stats, 1)
	s := stats[0]
	assert.Equal(t, volume.Triple{2, 6, 6}, s.Shape)
	assert.Equal(t, 0.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.Greater(t, s.StdDev, 0.0)
	assert.Equal(t, uint32(1), s.MinVisits)
	assert.GreaterOrEqual(t, s.MaxVisits, s.MinVisits)
	assert.Equal(t, "out_0.npy", s.OutputPath)

	assert.Nil(t, SummariseHeads(&stitch.Result{}, nil))
}

func TestManager_CompleteRun(t *testing.T) {
	db := openTestDB(t)
	clock := timeutil.NewMockClock(epoch)
	m := NewManager(db.DB, clock)

	runID, err := m.StartRun("vol.npy", "identity", map[string]any{"workers": 1})
	require.NoError(t, err)
	assert.True(t, m.IsRunActive())
	assert.Equal(t, runID, m.CurrentRunID())

	_, err = m.StartRun("other.npy", "identity", nil)
	assert.Error(t, err, "second concurrent run must be rejected")

	res, runErr := stitchResult(t, context.Background(), infer.Identity{Channels: 1})
	clock.Advance(3 * time.Second)
	require.NoError(t, m.Finish(res, runErr, []string{"out_0.npy"}))
	assert.False(t, m.IsRunActive())
	assert.Empty(t, m.CurrentRunID())

	run, err := m.Store().GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, 3*time.Second, run.Duration)
	assert.Equal(t, res.Stats.Patches, run.Patches)
	assert.NotEmpty(t, run.Version)

	heads, err := m.Store().GetHeadStats(runID)
	require.NoError(t, err)
	require.Len(t, heads, 1)
	assert.Equal(t, "out_0.npy", heads[0].OutputPath)
}

func TestManager_FailAndCancel(t *testing.T) {
	db := openTestDB(t)
	m := NewManager(db.DB, timeutil.NewMockClock(epoch))

	boom := errors.New("adapter exploded")
	failing := infer.Func{NumHeads: 1, Channels: 1, Fn: func(*volume.Volume) ([]*volume.Volume, error) { return nil, boom }}
	failedID, err := m.StartRun("vol.npy", "func", nil)
	require.NoError(t, err)
	res, runErr := stitchResult(t, context.Background(), failing)
	require.NoError(t, m.Finish(res, runErr, nil))

	run, err := m.Store().GetRun(failedID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, "adapter exploded", run.ErrorMessage)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cancelledID, err := m.StartRun("vol.npy", "identity", nil)
	require.NoError(t, err)
	res, runErr = stitchResult(t, ctx, infer.Identity{Channels: 1})
	require.ErrorIs(t, runErr, stitch.ErrCancelled)
	require.NoError(t, m.Finish(res, runErr, nil))

	run, err = m.Store().GetRun(cancelledID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, run.Status)
	assert.Zero(t, run.Batches)

	heads, err := m.Store().GetHeadStats(cancelledID)
	require.NoError(t, err)
	assert.Empty(t, heads)
}

func TestManager_CompleteRejectsIncompleteResult(t *testing.T) {
	m := NewManager(openTestDB(t).DB, nil)
	_, err := m.StartRun("vol.npy", "identity", nil)
	require.NoError(t, err)
	assert.Error(t, m.CompleteRun(&stitch.Result{}, nil))
	assert.True(t, m.IsRunActive())
}
