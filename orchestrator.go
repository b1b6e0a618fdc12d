package iudex

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.jetify.com/typeid"

	"github.com/NicholasJacob1990/iudex/gate"
	"github.com/NicholasJacob1990/iudex/retry"
	"github.com/NicholasJacob1990/iudex/script"
	"github.com/NicholasJacob1990/iudex/structfix"
)

// NewRunID returns a new unique run identifier
func NewRunID() string {
	id, err := typeid.WithPrefix("run")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewJobID returns a new unique job identifier
func NewJobID() string {
	id, err := typeid.WithPrefix("job")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewCheckpointID returns a new unique checkpoint identifier
func NewCheckpointID() string {
	id, err := typeid.WithPrefix("ckpt")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewCallID returns a new unique model call identifier
func NewCallID() string {
	id, err := typeid.WithPrefix("call")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// EngineOptions configures a new engine
type EngineOptions struct {
	Config         Config
	Models         []ModelClient
	Checkpoints    CheckpointStore
	States         WorkflowStateRepository
	Documents      DocumentStore
	ModelCalls     ModelCallLogger
	Logger         *slog.Logger
	Callbacks      RunCallbacks
	ScriptCompiler script.Compiler
}

// Engine drives drafting runs through the pipeline stages. One engine serves
// many jobs; each job runs in its own goroutine with its own state.
type Engine struct {
	config      Config
	models      map[string]ModelClient
	checkpoints CheckpointStore
	states      WorkflowStateRepository
	documents   DocumentStore
	modelCalls  ModelCallLogger
	logger      *slog.Logger
	callbacks   RunCallbacks
	compiler    script.Compiler
	routing     *RoutingTable
	router      *ModelRouter
	gate        *gate.Gate
	fixer       *structfix.Fixer
	prompts     *promptSet

	mutex sync.RWMutex
	runs  map[string]*run
}

// run is the live, in-process side of one job.
type run struct {
	state       *PipelineState
	resumeCh    chan HumanDecision
	cancelCh    chan struct{}
	doneCh      chan struct{}
	cancelOnce  sync.Once
	documentURI string

	mutex  sync.Mutex
	record *WorkflowState
	err    error
}

func (r *run) cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

func (r *run) cancelled() bool {
	select {
	case <-r.cancelCh:
		return true
	default:
		return false
	}
}

func (r *run) finish(record *WorkflowState, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.record = record
	r.err = err
}

func (r *run) result() (*WorkflowState, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.record, r.err
}

// RunHandle is returned by Start and Rewind. It resolves to the final run
// record once the run reaches a terminal stage.
type RunHandle struct {
	JobID string
	RunID string
	run   *run
}

// Wait blocks until the run completes or ctx is done, returning the final
// record. A run parked for human review keeps Wait blocked until it resumes
// and finishes.
func (h *RunHandle) Wait(ctx context.Context) (*WorkflowState, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.run.doneCh:
		return h.run.result()
	}
}

// NewEngine creates an engine configured with the given options
func NewEngine(opts EngineOptions) (*Engine, error) {
	opts.Config.applyDefaults()
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(opts.Models) == 0 {
		return nil, fmt.Errorf("at least one model client is required")
	}
	if opts.ScriptCompiler == nil {
		opts.ScriptCompiler = script.NewRisorScriptingEngine(script.DefaultRisorGlobals())
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.ModelCalls == nil {
		opts.ModelCalls = NewNullModelCallLogger()
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = NewMemoryCheckpointStore()
	}
	if opts.States == nil {
		opts.States = NewMemoryWorkflowStateRepository()
	}
	if opts.Documents == nil {
		opts.Documents = NewMemoryDocumentStore()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseRunCallbacks{}
	}

	models := make(map[string]ModelClient, len(opts.Models))
	for _, model := range opts.Models {
		models[model.Name()] = model
	}
	for _, name := range requiredModelNames(opts.Config) {
		if _, ok := models[name]; !ok {
			return nil, fmt.Errorf("configured model %q has no client", name)
		}
	}

	routing, err := NewRoutingTable(opts.ScriptCompiler, opts.Config.HILRouting, opts.Config.DefaultResume)
	if err != nil {
		return nil, err
	}
	router, err := NewModelRouter(opts.ScriptCompiler, opts.Config.DrafterRules, opts.Config.Models.Drafters)
	if err != nil {
		return nil, err
	}
	prompts, err := newPromptSet(opts.ScriptCompiler)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:      opts.Config,
		models:      models,
		checkpoints: opts.Checkpoints,
		states:      opts.States,
		documents:   opts.Documents,
		modelCalls:  opts.ModelCalls,
		logger:      opts.Logger,
		callbacks:   opts.Callbacks,
		compiler:    opts.ScriptCompiler,
		routing:     routing,
		router:      router,
		gate:        gate.New(opts.Config.GateThresholds()),
		fixer:       structfix.New(),
		prompts:     prompts,
	}, nil
}

// requiredModelNames lists every model name the config references.
func requiredModelNames(config Config) []string {
	seen := map[string]bool{}
	var names []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	add(config.Models.Strategist)
	for _, name := range config.Models.Drafters {
		add(name)
	}
	for _, name := range config.Models.Reviewers {
		add(name)
	}
	add(config.Models.Merger)
	for _, rule := range config.DrafterRules {
		add(rule.Model)
	}
	return names
}

// Start begins a new run for a job. It returns immediately; use the handle's
// Wait to block for completion. Starting a job that already has a live run
// is an error.
func (e *Engine) Start(ctx context.Context, jobID string, request DraftingRequest) (*RunHandle, error) {
	if jobID == "" {
		jobID = NewJobID()
	}
	runID := NewRunID()
	r := &run{
		state:    newPipelineState(jobID, runID, request),
		resumeCh: make(chan HumanDecision),
		cancelCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	e.mutex.Lock()
	if existing, ok := e.runs[jobID]; ok && !existing.state.Stage().Terminal() {
		e.mutex.Unlock()
		return nil, fmt.Errorf("job %s already has a live run", jobID)
	}
	if e.runs == nil {
		e.runs = map[string]*run{}
	}
	e.runs[jobID] = r
	e.mutex.Unlock()

	go e.runLoop(context.WithoutCancel(ctx), r)

	return &RunHandle{JobID: jobID, RunID: runID, run: r}, nil
}

// Resume delivers a human decision to a run parked for review.
func (e *Engine) Resume(ctx context.Context, jobID string, decision HumanDecision) error {
	r, err := e.getRun(jobID)
	if err != nil {
		return err
	}
	if r.state.Stage() != StageHILPaused {
		return fmt.Errorf("job %s is not paused for review (stage %s)", jobID, r.state.Stage())
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.doneCh:
		return fmt.Errorf("job %s already finished", jobID)
	case r.resumeCh <- decision:
		return nil
	}
}

// Cancel stops a run. A paused run is released; a running stage finishes its
// current model calls before the run records cancellation.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	r, err := e.getRun(jobID)
	if err != nil {
		return err
	}
	r.cancel()
	return nil
}

// GetStatus returns the current stage and status of a job's run.
func (e *Engine) GetStatus(ctx context.Context, jobID string) (Stage, RunStatus, error) {
	r, err := e.getRun(jobID)
	if err != nil {
		return "", "", err
	}
	stage := r.state.Stage()
	return stage, statusForStage(stage), nil
}

// ListCheckpoints returns the checkpoints recorded for a job, newest first.
func (e *Engine) ListCheckpoints(ctx context.Context, jobID string) ([]*Checkpoint, error) {
	return e.checkpoints.ListByJob(ctx, jobID)
}

// CheckpointNow records a manual checkpoint of a job's current state.
func (e *Engine) CheckpointNow(ctx context.Context, jobID, createdBy string) (string, error) {
	r, err := e.getRun(jobID)
	if err != nil {
		return "", err
	}
	checkpoint, err := e.createCheckpoint(ctx, r, SnapshotTypeManual, createdBy)
	if err != nil {
		return "", err
	}
	return checkpoint.ID, nil
}

// Rewind starts a fresh run from a stored checkpoint, restoring the state
// snapshot bit for bit under a new run ID. The target must be restorable and
// its file snapshot, if any, must still resolve.
func (e *Engine) Rewind(ctx context.Context, checkpointID string) (*RunHandle, error) {
	checkpoint, err := e.checkpoints.Get(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if !checkpoint.IsRestorable {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotRestorable, checkpoint.NonRestorableReason)
	}
	if checkpoint.FilesSnapshotURI != "" {
		exists, err := e.documents.Exists(ctx, checkpoint.FilesSnapshotURI)
		if err != nil {
			return nil, err
		}
		if !exists {
			reason := "file snapshot no longer exists"
			if markErr := e.checkpoints.MarkNonRestorable(ctx, checkpointID, reason); markErr != nil {
				e.logger.Error("failed to mark checkpoint non-restorable", "checkpoint_id", checkpointID, "error", markErr)
			}
			return nil, fmt.Errorf("%w: %s", ErrCheckpointNotRestorable, reason)
		}
	}

	runID := NewRunID()
	r := &run{
		state:    &PipelineState{},
		resumeCh: make(chan HumanDecision),
		cancelCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	r.state.FromSnapshot(checkpoint.State)
	r.state.SetRunID(runID)

	jobID := checkpoint.JobID
	e.mutex.Lock()
	if existing, ok := e.runs[jobID]; ok && !existing.state.Stage().Terminal() {
		e.mutex.Unlock()
		return nil, fmt.Errorf("job %s already has a live run", jobID)
	}
	if e.runs == nil {
		e.runs = map[string]*run{}
	}
	e.runs[jobID] = r
	e.mutex.Unlock()

	e.logger.Info("rewinding job from checkpoint",
		"job_id", jobID,
		"run_id", runID,
		"checkpoint_id", checkpointID,
		"stage", checkpoint.Stage)

	go e.runLoop(context.WithoutCancel(ctx), r)

	return &RunHandle{JobID: jobID, RunID: runID, run: r}, nil
}

// GetWorkflowState returns the final record for a finished job.
func (e *Engine) GetWorkflowState(ctx context.Context, jobID string) (*WorkflowState, error) {
	return e.states.Get(ctx, jobID)
}

func (e *Engine) getRun(jobID string) (*run, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	r, ok := e.runs[jobID]
	if !ok {
		return nil, fmt.Errorf("no run found for job %s", jobID)
	}
	return r, nil
}

// createCheckpoint snapshots the run state and persists it.
func (e *Engine) createCheckpoint(ctx context.Context, r *run, snapshotType SnapshotType, createdBy string) (*Checkpoint, error) {
	snapshot := r.state.ToSnapshot()

	// Snapshot the current document so a rewind can verify it still exists
	var filesURI string
	if snapshot.Document != "" {
		uri, err := e.documents.Put(ctx, snapshot.Document)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot document: %w", err)
		}
		filesURI = uri
	}

	checkpoint := &Checkpoint{
		ID:               NewCheckpointID(),
		JobID:            snapshot.JobID,
		RunID:            snapshot.RunID,
		SnapshotType:     snapshotType,
		Stage:            snapshot.Stage,
		State:            snapshot,
		FilesSnapshotURI: filesURI,
		IsRestorable:     true,
		CreatedBy:        createdBy,
		TurnID:           fmt.Sprintf("%d", snapshot.TurnCounter),
		CreatedAt:        time.Now(),
	}
	if err := e.checkpoints.Create(ctx, checkpoint); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	e.callbacks.OnCheckpoint(ctx, &CheckpointEvent{
		JobID:        snapshot.JobID,
		RunID:        snapshot.RunID,
		CheckpointID: checkpoint.ID,
		SnapshotType: snapshotType,
		Stage:        snapshot.Stage,
	})
	return checkpoint, nil
}

// callModel runs one model call with retries on transient provider errors,
// recording the call in the model call log.
func (e *Engine) callModel(ctx context.Context, r *run, modelName, role, stage, section string, req GenerateRequest) (*GenerateResponse, error) {
	model, ok := e.models[modelName]
	if !ok {
		return nil, NewPipelineError(ErrTypeFatal, fmt.Errorf("no client for model %q", modelName))
	}

	startTime := time.Now()
	var response *GenerateResponse
	err := retry.Do(ctx, func() error {
		var callErr error
		response, callErr = model.Generate(ctx, req)
		return callErr
	},
		retry.WithMaxRetries(e.config.Retry.MaxRetries),
		retry.WithBaseWait(e.config.Retry.BaseWait),
		retry.WithMaxWait(e.config.Retry.MaxWait),
		retry.WithBackoffRate(e.config.Retry.BackoffRate),
	)
	duration := time.Since(startTime)

	entry := &ModelCallEntry{
		ID:          NewCallID(),
		RunID:       r.state.RunID(),
		Stage:       stage,
		Section:     section,
		Model:       modelName,
		Role:        role,
		PromptChars: len(req.Prompt),
		StartTime:   startTime,
		Duration:    duration.Seconds(),
	}
	if response != nil {
		entry.OutputChars = len(response.Content)
		entry.InputTokens = response.InputTokens
		entry.OutputTokens = response.OutputTokens
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if logErr := e.modelCalls.LogCall(ctx, entry); logErr != nil {
		e.logger.Error("failed to log model call", "error", logErr)
	}

	if err != nil {
		return nil, err
	}
	return response, nil
}
