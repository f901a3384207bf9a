package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) StateStore {
	t.Helper()
	store, err := NewStateStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetRun(t *testing.T) {
	store := newTestStore(t)

	runID, err := store.CreateRun("transfer", "sepolia")
	require.NoError(t, err)
	assert.Contains(t, runID, "transfer-")

	record, err := store.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, "transfer", record.Runbook)
	assert.Equal(t, "sepolia", record.Environment)
	assert.Equal(t, StatusRunning, record.Status)
}

func TestUpdateRunStatus(t *testing.T) {
	store := newTestStore(t)

	runID, err := store.CreateRun("transfer", "")
	require.NoError(t, err)
	require.NoError(t, store.UpdateRunStatus(runID, StatusCompleted))

	record, err := store.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, record.Status)
}

func TestListRecentRuns(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := store.CreateRun("transfer", "")
		require.NoError(t, err)
	}
	runs, err := store.ListRecentRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestEvents(t *testing.T) {
	store := newTestStore(t)

	runID, err := store.CreateRun("transfer", "")
	require.NoError(t, err)
	require.NoError(t, store.LogEvent(runID, "pass", "action.transfer", "pass 1 done"))
	require.NoError(t, store.LogEvent(runID, "pass", "", "pass 2 done"))

	events, err := store.GetEvents(runID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "action.transfer", events[0].Construct)
	assert.Equal(t, "pass 2 done", events[1].Message)
}

func TestSnapshotArchive_Upsert(t *testing.T) {
	store := newTestStore(t)

	missing, err := store.GetSnapshot("transfer", "sepolia")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.SaveSnapshot("transfer", "sepolia", []byte(`{"v":1}`)))
	require.NoError(t, store.SaveSnapshot("transfer", "sepolia", []byte(`{"v":2}`)))

	content, err := store.GetSnapshot("transfer", "sepolia")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(content))

	// environments do not collide
	other, err := store.GetSnapshot("transfer", "mainnet")
	require.NoError(t, err)
	assert.Nil(t, other)
}
