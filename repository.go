package iudex

import (
	"context"
	"errors"
	"sync"
)

// ErrWorkflowStateNotFound is returned when no final record exists for a job.
var ErrWorkflowStateNotFound = errors.New("workflow state not found")

// WorkflowStateRepository stores the immutable final record of each run.
// Save is write-once per run; a second save for the same run is an error. A
// job rewound into a new run records each run's final state, and Get returns
// the most recent one.
type WorkflowStateRepository interface {
	// Save persists the final record for a run
	Save(ctx context.Context, state *WorkflowState) error

	// Get retrieves the most recent final record for a job
	Get(ctx context.Context, jobID string) (*WorkflowState, error)
}

// MemoryWorkflowStateRepository keeps final records in memory.
type MemoryWorkflowStateRepository struct {
	mutex  sync.RWMutex
	states map[string][]*WorkflowState
}

func NewMemoryWorkflowStateRepository() *MemoryWorkflowStateRepository {
	return &MemoryWorkflowStateRepository{states: map[string][]*WorkflowState{}}
}

func (r *MemoryWorkflowStateRepository) Save(ctx context.Context, state *WorkflowState) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, existing := range r.states[state.JobID] {
		if existing.RunID == state.RunID {
			return errors.New("workflow state already recorded for run " + state.RunID)
		}
	}
	copied := *state
	r.states[state.JobID] = append(r.states[state.JobID], &copied)
	return nil
}

func (r *MemoryWorkflowStateRepository) Get(ctx context.Context, jobID string) (*WorkflowState, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	records := r.states[jobID]
	if len(records) == 0 {
		return nil, ErrWorkflowStateNotFound
	}
	copied := *records[len(records)-1]
	return &copied, nil
}
