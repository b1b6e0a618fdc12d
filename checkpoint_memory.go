package iudex

import (
	"context"
	"sort"
	"sync"
)

// MemoryCheckpointStore keeps checkpoints in memory. Useful for tests and
// single-process runs that don't need durability.
type MemoryCheckpointStore struct {
	mutex       sync.RWMutex
	checkpoints map[string]*Checkpoint
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{checkpoints: map[string]*Checkpoint{}}
}

func (s *MemoryCheckpointStore) Create(ctx context.Context, checkpoint *Checkpoint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	copied := *checkpoint
	s.checkpoints[checkpoint.ID] = &copied
	return nil
}

func (s *MemoryCheckpointStore) Get(ctx context.Context, id string) (*Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	checkpoint, ok := s.checkpoints[id]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	copied := *checkpoint
	return &copied, nil
}

func (s *MemoryCheckpointStore) ListByJob(ctx context.Context, jobID string) ([]*Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var checkpoints []*Checkpoint
	for _, checkpoint := range s.checkpoints {
		if checkpoint.JobID != jobID {
			continue
		}
		copied := *checkpoint
		checkpoints = append(checkpoints, &copied)
	}
	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].CreatedAt.After(checkpoints[j].CreatedAt)
	})
	return checkpoints, nil
}

func (s *MemoryCheckpointStore) MarkNonRestorable(ctx context.Context, id, reason string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	checkpoint, ok := s.checkpoints[id]
	if !ok {
		return ErrCheckpointNotFound
	}
	checkpoint.IsRestorable = false
	checkpoint.NonRestorableReason = reason
	return nil
}
