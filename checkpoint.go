package iudex

import (
	"context"
	"time"
)

// SnapshotType distinguishes how a checkpoint came to exist.
type SnapshotType string

const (
	// SnapshotTypeAuto marks checkpoints taken automatically at key stages
	SnapshotTypeAuto SnapshotType = "auto"

	// SnapshotTypeManual marks checkpoints requested explicitly
	SnapshotTypeManual SnapshotType = "manual"

	// SnapshotTypeHIL marks checkpoints taken when a run parks for human review
	SnapshotTypeHIL SnapshotType = "hil"
)

// Checkpoint contains a complete snapshot of pipeline state plus the metadata
// needed to decide whether a rewind to it is still possible.
type Checkpoint struct {
	ID                  string       `json:"id"`
	JobID               string       `json:"job_id"`
	RunID               string       `json:"run_id"`
	SnapshotType        SnapshotType `json:"snapshot_type"`
	Stage               Stage        `json:"stage"`
	State               *Snapshot    `json:"state"`
	FilesSnapshotURI    string       `json:"files_snapshot_uri,omitempty"`
	IsRestorable        bool         `json:"is_restorable"`
	NonRestorableReason string       `json:"non_restorable_reason,omitempty"`
	CreatedBy           string       `json:"created_by,omitempty"`
	TurnID              string       `json:"turn_id,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
}

// CheckpointStore persists checkpoints. Checkpoints are append-only; the only
// permitted mutation after creation is marking one non-restorable.
type CheckpointStore interface {
	// Create persists a new checkpoint
	Create(ctx context.Context, checkpoint *Checkpoint) error

	// Get retrieves a checkpoint by ID. Returns ErrCheckpointNotFound when
	// no checkpoint with that ID exists.
	Get(ctx context.Context, id string) (*Checkpoint, error)

	// ListByJob returns all checkpoints for a job, newest first
	ListByJob(ctx context.Context, jobID string) ([]*Checkpoint, error)

	// MarkNonRestorable flags a checkpoint whose file snapshot is gone
	MarkNonRestorable(ctx context.Context, id, reason string) error
}
