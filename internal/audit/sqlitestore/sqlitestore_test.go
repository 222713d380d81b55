package sqlitestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/conductor/internal/audit"
)

func TestStore_AppendAndFind(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []audit.Entry{
		{Workflow: "deploy", RunID: "run-1", Timestamp: base, EventType: audit.EventWorkflowStart, Message: "started", EntryHash: "h1"},
		{Workflow: "deploy", RunID: "run-1", Timestamp: base.Add(time.Minute), EventType: audit.EventStepComplete, StepName: "build", Message: "done", EntryHash: "h2"},
		{Workflow: "deploy", RunID: "run-2", Timestamp: base.Add(2 * time.Minute), EventType: audit.EventWorkflowStart, Message: "started", EntryHash: "h3"},
	}
	for _, e := range entries {
		require.NoError(t, store.Append(ctx, e))
	}

	byRun, err := store.Find(ctx, Query{RunID: "run-1"})
	require.NoError(t, err)
	assert.Len(t, byRun, 2)
	assert.Equal(t, "h1", byRun[0].EntryHash)
	assert.Equal(t, "h2", byRun[1].EntryHash)

	byEvent, err := store.Find(ctx, Query{EventType: string(audit.EventWorkflowStart)})
	require.NoError(t, err)
	assert.Len(t, byEvent, 2)

	bySince, err := store.Find(ctx, Query{Since: base.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, bySince, 1)
	assert.Equal(t, "h3", bySince[0].EntryHash)
}

func TestLogger_SetMirrorAsyncAppends(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	l, err := audit.NewLogger(dir, "deploy", "run-mirror")
	require.NoError(t, err)
	l.SetMirror(store)

	require.NoError(t, l.LogWorkflowStart(nil))
	require.NoError(t, l.LogWorkflowComplete(nil))
	require.NoError(t, l.Close())

	mirrored, err := store.Find(context.Background(), Query{RunID: "run-mirror"})
	require.NoError(t, err)
	assert.Len(t, mirrored, 2)
}
