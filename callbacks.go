package iudex

import (
	"context"
	"time"
)

// RunCallbacks defines the callback interface for pipeline run events
type RunCallbacks interface {
	// Run-level callbacks
	BeforeRun(ctx context.Context, event *RunEvent)
	AfterRun(ctx context.Context, event *RunEvent)

	// Stage-level callbacks
	BeforeStage(ctx context.Context, event *StageEvent)
	AfterStage(ctx context.Context, event *StageEvent)

	// Checkpoint and human-review callbacks
	OnCheckpoint(ctx context.Context, event *CheckpointEvent)
	OnHILPause(ctx context.Context, event *HILEvent)
	OnHILResume(ctx context.Context, event *HILEvent)
}

// RunEvent provides context for run-level events
type RunEvent struct {
	JobID     string
	RunID     string
	Title     string
	Status    RunStatus
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Error     error
}

// StageEvent provides context for stage-level events
type StageEvent struct {
	JobID     string
	RunID     string
	Stage     Stage
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Error     error
}

// CheckpointEvent provides context for checkpoint creation events
type CheckpointEvent struct {
	JobID        string
	RunID        string
	CheckpointID string
	SnapshotType SnapshotType
	Stage        Stage
}

// HILEvent provides context for human-review pause and resume events
type HILEvent struct {
	JobID       string
	RunID       string
	PauseReason string
	Decision    *HumanDecision
	ResumeStage Stage
}

// BaseRunCallbacks provides a default implementation that does nothing
type BaseRunCallbacks struct{}

func (n *BaseRunCallbacks) BeforeRun(ctx context.Context, event *RunEvent) {
	// noop
}

func (n *BaseRunCallbacks) AfterRun(ctx context.Context, event *RunEvent) {
	// noop
}

func (n *BaseRunCallbacks) BeforeStage(ctx context.Context, event *StageEvent) {
	// noop
}

func (n *BaseRunCallbacks) AfterStage(ctx context.Context, event *StageEvent) {
	// noop
}

func (n *BaseRunCallbacks) OnCheckpoint(ctx context.Context, event *CheckpointEvent) {
	// noop
}

func (n *BaseRunCallbacks) OnHILPause(ctx context.Context, event *HILEvent) {
	// noop
}

func (n *BaseRunCallbacks) OnHILResume(ctx context.Context, event *HILEvent) {
	// noop
}

// NewBaseRunCallbacks creates a new no-op callbacks implementation. Embed
// this in your own callbacks to get a default implementation that does
// nothing.
func NewBaseRunCallbacks() RunCallbacks {
	return &BaseRunCallbacks{}
}

// CallbackChain allows chaining multiple callback implementations
type CallbackChain struct {
	callbacks []RunCallbacks
}

// NewCallbackChain creates a new callback chain
func NewCallbackChain(callbacks ...RunCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add adds a callback to the chain
func (c *CallbackChain) Add(callback RunCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeRun(ctx context.Context, event *RunEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeRun(ctx, event)
	}
}

func (c *CallbackChain) AfterRun(ctx context.Context, event *RunEvent) {
	for _, callback := range c.callbacks {
		callback.AfterRun(ctx, event)
	}
}

func (c *CallbackChain) BeforeStage(ctx context.Context, event *StageEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeStage(ctx, event)
	}
}

func (c *CallbackChain) AfterStage(ctx context.Context, event *StageEvent) {
	for _, callback := range c.callbacks {
		callback.AfterStage(ctx, event)
	}
}

func (c *CallbackChain) OnCheckpoint(ctx context.Context, event *CheckpointEvent) {
	for _, callback := range c.callbacks {
		callback.OnCheckpoint(ctx, event)
	}
}

func (c *CallbackChain) OnHILPause(ctx context.Context, event *HILEvent) {
	for _, callback := range c.callbacks {
		callback.OnHILPause(ctx, event)
	}
}

func (c *CallbackChain) OnHILResume(ctx context.Context, event *HILEvent) {
	for _, callback := range c.callbacks {
		callback.OnHILResume(ctx, event)
	}
}
