package history

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStartRunThenFinishRunRoundTrips(t *testing.T) {
	store := setupTestStore(t)

	id, err := store.StartRun("/proj", "pipelined", 10)
	require.NoError(t, err)
	require.NotZero(t, id)

	err = store.FinishRun(id, 8, 1, 1, "/autosave/2026-01-01_00-00-00", "completed")
	require.NoError(t, err)

	runs, err := store.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "completed", runs[0].Status)
	require.Equal(t, 8, runs[0].Completed)
	require.NotNil(t, runs[0].CompletedAt)
}

func TestListRecentOrdersNewestFirst(t *testing.T) {
	store := setupTestStore(t)

	first, err := store.StartRun("/proj", "pipelined", 5)
	require.NoError(t, err)
	require.NoError(t, store.FinishRun(first, 5, 0, 0, "", "completed"))

	second, err := store.StartRun("/proj", "sequential", 5)
	require.NoError(t, err)
	require.NoError(t, store.FinishRun(second, 4, 1, 0, "", "completed"))

	runs, err := store.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, second, runs[0].ID)
	require.Equal(t, first, runs[1].ID)
}

func TestForProjectFiltersByPath(t *testing.T) {
	store := setupTestStore(t)

	idA, err := store.StartRun("/proj-a", "pipelined", 1)
	require.NoError(t, err)
	require.NoError(t, store.FinishRun(idA, 1, 0, 0, "", "completed"))

	idB, err := store.StartRun("/proj-b", "pipelined", 1)
	require.NoError(t, err)
	require.NoError(t, store.FinishRun(idB, 1, 0, 0, "", "completed"))

	runs, err := store.ForProject("/proj-a", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, idA, runs[0].ID)
}

func TestRecordAutosaveUpdatesSnapshotDirWhileRunning(t *testing.T) {
	store := setupTestStore(t)

	id, err := store.StartRun("/proj", "pipelined", 3)
	require.NoError(t, err)

	require.NoError(t, store.RecordAutosave(id, "/autosave/2026-02-02_00-00-00"))

	runs, err := store.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "/autosave/2026-02-02_00-00-00", runs[0].SnapshotDir)
	require.Equal(t, "running", runs[0].Status)
	require.Nil(t, runs[0].CompletedAt)
}
