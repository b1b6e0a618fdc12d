package iudex

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres spins up a disposable Postgres container and returns an open
// connection to it.
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("iudex"),
		tcpostgres.WithUsername("iudex"),
		tcpostgres.WithPassword("iudex"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))
	return db
}

func TestPostgresCheckpointStore(t *testing.T) {
	ctx := context.Background()
	db := startPostgres(t)

	store, err := NewPostgresCheckpointStore(ctx, db)
	require.NoError(t, err)
	runCheckpointStoreTests(t, store)
}

func TestPostgresWorkflowStateRepository(t *testing.T) {
	ctx := context.Background()
	db := startPostgres(t)

	repo, err := NewPostgresWorkflowStateRepository(ctx, db)
	require.NoError(t, err)

	_, err = repo.Get(ctx, "job-1")
	require.ErrorIs(t, err, ErrWorkflowStateNotFound)

	record := &WorkflowState{
		JobID:       "job-1",
		RunID:       "run-1",
		Status:      RunStatusCompleted,
		DocumentURI: "sha256:abc",
		RoutingDecisions: []RoutingDecision{
			{Section: "Dos Fatos", Model: "m1"},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Save(ctx, record))

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, got.Status)
	require.Equal(t, "sha256:abc", got.DocumentURI)
	require.Len(t, got.RoutingDecisions, 1)

	// The (job_id, run_id) primary key enforces write-once per run
	require.Error(t, repo.Save(ctx, &WorkflowState{
		JobID:     "job-1",
		RunID:     "run-1",
		Status:    RunStatusFailed,
		CreatedAt: time.Now().UTC(),
	}))

	// A later run of the same job supersedes the earlier record on reads
	require.NoError(t, repo.Save(ctx, &WorkflowState{
		JobID:     "job-1",
		RunID:     "run-2",
		Status:    RunStatusFailed,
		CreatedAt: time.Now().UTC().Add(time.Second),
	}))

	got, err = repo.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "run-2", got.RunID)
}
