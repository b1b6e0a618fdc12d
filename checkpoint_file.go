package iudex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileCheckpointStore is a file-based implementation that persists checkpoints
// to disk. Each job gets a directory; each checkpoint is one JSON file.
type FileCheckpointStore struct {
	dataDir string
}

// NewFileCheckpointStore creates a new file-based checkpoint store
func NewFileCheckpointStore(dataDir string) (*FileCheckpointStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".iudex", "checkpoints")
	}

	// Ensure the data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	return &FileCheckpointStore{dataDir: dataDir}, nil
}

func (s *FileCheckpointStore) checkpointPath(jobID, id string) string {
	return filepath.Join(s.dataDir, jobID, fmt.Sprintf("checkpoint-%s.json", id))
}

// Create persists a new checkpoint to disk
func (s *FileCheckpointStore) Create(ctx context.Context, checkpoint *Checkpoint) error {
	jobDir := filepath.Join(s.dataDir, checkpoint.JobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	path := s.checkpointPath(checkpoint.JobID, checkpoint.ID)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

// Get retrieves a checkpoint by ID, scanning across jobs
func (s *FileCheckpointStore) Get(ctx context.Context, id string) (*Checkpoint, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoints directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := s.checkpointPath(entry.Name(), id)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return s.readCheckpoint(path)
	}
	return nil, ErrCheckpointNotFound
}

// ListByJob returns all checkpoints for a job, newest first
func (s *FileCheckpointStore) ListByJob(ctx context.Context, jobID string) ([]*Checkpoint, error) {
	jobDir := filepath.Join(s.dataDir, jobID)
	entries, err := os.ReadDir(jobDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read job directory: %w", err)
	}

	var checkpoints []*Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		checkpoint, err := s.readCheckpoint(filepath.Join(jobDir, entry.Name()))
		if err != nil {
			// Skip checkpoints we can't read
			continue
		}
		checkpoints = append(checkpoints, checkpoint)
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].CreatedAt.After(checkpoints[j].CreatedAt)
	})
	return checkpoints, nil
}

// MarkNonRestorable flags a checkpoint whose file snapshot is gone
func (s *FileCheckpointStore) MarkNonRestorable(ctx context.Context, id, reason string) error {
	checkpoint, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	checkpoint.IsRestorable = false
	checkpoint.NonRestorableReason = reason

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	path := s.checkpointPath(checkpoint.JobID, checkpoint.ID)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

func (s *FileCheckpointStore) readCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}
