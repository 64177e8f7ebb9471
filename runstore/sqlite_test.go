package runstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/sciflow/types"
	"github.com/BaSui01/sciflow/workflow"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "runs.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	return store
}

func sampleState(runID string, createdAt time.Time) *workflow.PipelineState {
	state := workflow.NewPipelineState(runID, "query for "+runID, workflow.ModeAutomated, createdAt)
	state.Hypothesis = "stored hypothesis"
	state.Rejections[workflow.StageOntology] = 1
	return state
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	state := sampleState("run-1", now)
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, "stored hypothesis", loaded.Hypothesis)
	assert.Equal(t, 1, loaded.Rejections[workflow.StageOntology])
	assert.Equal(t, workflow.StageInit, loaded.Stage)
}

func TestSQLiteStore_SaveUpserts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	state := sampleState("run-1", now)
	require.NoError(t, store.Save(ctx, state))

	state.Stage = workflow.StageSynthesis
	state.Status = workflow.StatusSuspended
	state.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StageSynthesis, loaded.Stage)
	assert.Equal(t, workflow.StatusSuspended, loaded.Status)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestSQLiteStore_LoadUnknownRun(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Load(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrRunNotFound))
}

func TestSQLiteStore_ListNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, sampleState("run-old", base)))
	require.NoError(t, store.Save(ctx, sampleState("run-mid", base.Add(time.Hour))))
	require.NoError(t, store.Save(ctx, sampleState("run-new", base.Add(2*time.Hour))))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-new", "run-mid", "run-old"}, ids)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState("run-1", time.Now())))
	require.NoError(t, store.Delete(ctx, "run-1"))

	_, err := store.Load(ctx, "run-1")
	assert.True(t, types.HasCode(err, types.ErrRunNotFound))

	// Deleting an unknown run is a no-op.
	require.NoError(t, store.Delete(ctx, "run-1"))
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	store, err := OpenSQLite(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, sampleState("run-1", time.Now())))

	reopened, err := OpenSQLite(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	loaded, err := reopened.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "stored hypothesis", loaded.Hypothesis)
}
