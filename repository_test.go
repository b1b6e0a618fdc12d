package iudex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryWorkflowStateRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWorkflowStateRepository()

	_, err := repo.Get(ctx, "job-1")
	require.ErrorIs(t, err, ErrWorkflowStateNotFound)

	record := &WorkflowState{
		JobID:     "job-1",
		RunID:     "run-1",
		Status:    RunStatusCompleted,
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.Save(ctx, record))

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, got.Status)
	require.Equal(t, "run-1", got.RunID)

	// The record is write-once per run
	err = repo.Save(ctx, &WorkflowState{JobID: "job-1", RunID: "run-1"})
	require.Error(t, err)

	// A later run of the same job records its own final state and
	// supersedes the earlier one on reads
	require.NoError(t, repo.Save(ctx, &WorkflowState{
		JobID:     "job-1",
		RunID:     "run-2",
		Status:    RunStatusFailed,
		CreatedAt: time.Now(),
	}))

	got, err = repo.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "run-2", got.RunID)
	require.Equal(t, RunStatusFailed, got.Status)
}
