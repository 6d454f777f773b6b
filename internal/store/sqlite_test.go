package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sedationlab/dexatlas/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Runs ---

func TestSQLite_BeginRun_And_GetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.BeginRun(ctx, "extract")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "extract", run.Stage)
	assert.Equal(t, model.RunStateRunning, run.Status)
	assert.Nil(t, run.FinishedAt)

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, fetched.ID)
	assert.Equal(t, "extract", fetched.Stage)
	assert.Equal(t, model.RunStateRunning, fetched.Status)
	assert.Empty(t, fetched.Error)
	assert.Nil(t, fetched.FinishedAt)
	assert.Empty(t, fetched.Artifacts)
}

func TestSQLite_CompleteRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.BeginRun(ctx, "validate")
	require.NoError(t, err)

	err = st.CompleteRun(ctx, run.ID)
	require.NoError(t, err)

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateComplete, fetched.Status)
	require.NotNil(t, fetched.FinishedAt)
	assert.False(t, fetched.FinishedAt.Before(fetched.StartedAt))
}

func TestSQLite_CompleteRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.CompleteRun(ctx, "nonexistent-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_FailRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.BeginRun(ctx, "bundle")
	require.NoError(t, err)

	err = st.FailRun(ctx, run.ID, eris.New("overall summary missing"))
	require.NoError(t, err)

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateFailed, fetched.Status)
	assert.Contains(t, fetched.Error, "overall summary missing")
	assert.NotNil(t, fetched.FinishedAt)
}

func TestSQLite_FailRun_NilCause(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.BeginRun(ctx, "sync")
	require.NoError(t, err)

	require.NoError(t, st.FailRun(ctx, run.ID, nil))

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateFailed, fetched.Status)
	assert.Empty(t, fetched.Error)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "nonexistent-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

// --- Artifacts ---

func TestSQLite_RecordArtifact_And_GetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.BeginRun(ctx, "extract")
	require.NoError(t, err)

	err = st.RecordArtifact(ctx, run.ID, model.RunArtifact{
		Path: "data/processed/trials_curated.json", SHA256: "abc123", RowCount: 42,
	})
	require.NoError(t, err)
	err = st.RecordArtifact(ctx, run.ID, model.RunArtifact{
		Path: "data/processed/review_queue.csv", SHA256: "def456", RowCount: 7,
	})
	require.NoError(t, err)

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Artifacts, 2)
	// Ordered by path.
	assert.Equal(t, "data/processed/review_queue.csv", fetched.Artifacts[0].Path)
	assert.Equal(t, "data/processed/trials_curated.json", fetched.Artifacts[1].Path)
	assert.Equal(t, 42, fetched.Artifacts[1].RowCount)
}

func TestSQLite_RecordArtifact_Upsert(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.BeginRun(ctx, "bundle")
	require.NoError(t, err)

	art := model.RunArtifact{Path: "data/processed/meta_analysis_bundle.json", SHA256: "old", RowCount: 10}
	require.NoError(t, st.RecordArtifact(ctx, run.ID, art))

	art.SHA256 = "new"
	art.RowCount = 12
	require.NoError(t, st.RecordArtifact(ctx, run.ID, art))

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Artifacts, 1)
	assert.Equal(t, "new", fetched.Artifacts[0].SHA256)
	assert.Equal(t, 12, fetched.Artifacts[0].RowCount)
}

func TestSQLite_RecordArtifacts_Batch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.BeginRun(ctx, "sync")
	require.NoError(t, err)

	artifacts := []model.RunArtifact{
		{Path: "docs/data/trials_curated.json", SHA256: "a1", RowCount: 42},
		{Path: "docs/data/summary_overall.json", SHA256: "b2", RowCount: 1},
		{Path: "docs/data/review_queue.csv", SHA256: "c3", RowCount: 7},
	}
	require.NoError(t, st.RecordArtifacts(ctx, run.ID, artifacts))

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, fetched.Artifacts, 3)
}

func TestSQLite_RecordArtifacts_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.BeginRun(ctx, "sync")
	require.NoError(t, err)

	require.NoError(t, st.RecordArtifacts(ctx, run.ID, nil))
}

// --- ListRuns ---

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.BeginRun(ctx, "extract")
	require.NoError(t, err)
	_, err = st.BeginRun(ctx, "validate")
	require.NoError(t, err)

	runs, err := st.ListRuns(ctx, RunFilter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSQLite_ListRuns_FilterByStage(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.BeginRun(ctx, "extract")
	require.NoError(t, err)
	want, err := st.BeginRun(ctx, "bundle")
	require.NoError(t, err)

	runs, err := st.ListRuns(ctx, RunFilter{Stage: "bundle", Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, want.ID, runs[0].ID)
}

func TestSQLite_ListRuns_FilterByStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.BeginRun(ctx, "extract")
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, run.ID))

	// A second run stays running.
	_, err = st.BeginRun(ctx, "extract")
	require.NoError(t, err)

	runs, err := st.ListRuns(ctx, RunFilter{Status: model.RunStateComplete, Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

// --- Migrate ---

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Migrate was already called in newTestSQLiteStore; calling again should not error.
	err := st.Migrate(ctx)
	require.NoError(t, err)
}
