package iudex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresCheckpointStore persists checkpoints to a Postgres table. The state
// snapshot is stored as JSONB so rewinds restore it bit for bit.
type PostgresCheckpointStore struct {
	db *sql.DB
}

const createCheckpointsTableSQL = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	snapshot_type TEXT NOT NULL,
	stage TEXT NOT NULL,
	state JSONB NOT NULL,
	files_snapshot_uri TEXT NOT NULL DEFAULT '',
	is_restorable BOOLEAN NOT NULL DEFAULT TRUE,
	non_restorable_reason TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	turn_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS checkpoints_job_id_idx ON checkpoints (job_id, created_at DESC);`

// NewPostgresCheckpointStore opens a checkpoint store on db, creating the
// table if needed. The caller owns the db handle.
func NewPostgresCheckpointStore(ctx context.Context, db *sql.DB) (*PostgresCheckpointStore, error) {
	if _, err := db.ExecContext(ctx, createCheckpointsTableSQL); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &PostgresCheckpointStore{db: db}, nil
}

func (s *PostgresCheckpointStore) Create(ctx context.Context, checkpoint *Checkpoint) error {
	state, err := json.Marshal(checkpoint.State)
	if err != nil {
		return fmt.Errorf("marshal checkpoint state: %w", err)
	}
	const q = `
		INSERT INTO checkpoints (id, job_id, run_id, snapshot_type, stage, state,
			files_snapshot_uri, is_restorable, non_restorable_reason, created_by, turn_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = s.db.ExecContext(ctx, q,
		checkpoint.ID,
		checkpoint.JobID,
		checkpoint.RunID,
		string(checkpoint.SnapshotType),
		string(checkpoint.Stage),
		state,
		checkpoint.FilesSnapshotURI,
		checkpoint.IsRestorable,
		checkpoint.NonRestorableReason,
		checkpoint.CreatedBy,
		checkpoint.TurnID,
		checkpoint.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

const selectCheckpointSQL = `
	SELECT id, job_id, run_id, snapshot_type, stage, state,
		files_snapshot_uri, is_restorable, non_restorable_reason, created_by, turn_id, created_at
	FROM checkpoints`

func scanCheckpoint(row interface{ Scan(...any) error }) (*Checkpoint, error) {
	var checkpoint Checkpoint
	var snapshotType, stage string
	var state []byte
	err := row.Scan(
		&checkpoint.ID,
		&checkpoint.JobID,
		&checkpoint.RunID,
		&snapshotType,
		&stage,
		&state,
		&checkpoint.FilesSnapshotURI,
		&checkpoint.IsRestorable,
		&checkpoint.NonRestorableReason,
		&checkpoint.CreatedBy,
		&checkpoint.TurnID,
		&checkpoint.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	checkpoint.SnapshotType = SnapshotType(snapshotType)
	checkpoint.Stage = Stage(stage)
	if err := json.Unmarshal(state, &checkpoint.State); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint state: %w", err)
	}
	return &checkpoint, nil
}

func (s *PostgresCheckpointStore) Get(ctx context.Context, id string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, selectCheckpointSQL+" WHERE id = $1", id)
	checkpoint, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	return checkpoint, nil
}

func (s *PostgresCheckpointStore) ListByJob(ctx context.Context, jobID string) ([]*Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, selectCheckpointSQL+" WHERE job_id = $1 ORDER BY created_at DESC", jobID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*Checkpoint
	for rows.Next() {
		checkpoint, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, checkpoint)
	}
	return checkpoints, rows.Err()
}

func (s *PostgresCheckpointStore) MarkNonRestorable(ctx context.Context, id, reason string) error {
	const q = `
		UPDATE checkpoints
		SET is_restorable = FALSE, non_restorable_reason = $2
		WHERE id = $1`
	result, err := s.db.ExecContext(ctx, q, id, reason)
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCheckpointNotFound
	}
	return nil
}

// PostgresWorkflowStateRepository persists final run records to Postgres.
// The primary key on (job_id, run_id) enforces the one-record-per-run rule;
// a rewound job accumulates one record per run and reads see the newest.
type PostgresWorkflowStateRepository struct {
	db *sql.DB
}

const createWorkflowStatesTableSQL = `
CREATE TABLE IF NOT EXISTS workflow_states (
	job_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	status TEXT NOT NULL,
	record JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (job_id, run_id)
);`

func NewPostgresWorkflowStateRepository(ctx context.Context, db *sql.DB) (*PostgresWorkflowStateRepository, error) {
	if _, err := db.ExecContext(ctx, createWorkflowStatesTableSQL); err != nil {
		return nil, fmt.Errorf("create workflow_states table: %w", err)
	}
	return &PostgresWorkflowStateRepository{db: db}, nil
}

func (r *PostgresWorkflowStateRepository) Save(ctx context.Context, state *WorkflowState) error {
	record, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal workflow state: %w", err)
	}
	const q = `
		INSERT INTO workflow_states (job_id, run_id, status, record, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, q, state.JobID, state.RunID, string(state.Status), record, state.CreatedAt); err != nil {
		return fmt.Errorf("insert workflow state: %w", err)
	}
	return nil
}

func (r *PostgresWorkflowStateRepository) Get(ctx context.Context, jobID string) (*WorkflowState, error) {
	const q = `SELECT record FROM workflow_states WHERE job_id = $1 ORDER BY created_at DESC LIMIT 1`
	var record []byte
	if err := r.db.QueryRowContext(ctx, q, jobID).Scan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWorkflowStateNotFound
		}
		return nil, fmt.Errorf("query workflow state: %w", err)
	}
	var state WorkflowState
	if err := json.Unmarshal(record, &state); err != nil {
		return nil, fmt.Errorf("unmarshal workflow state: %w", err)
	}
	return &state, nil
}
