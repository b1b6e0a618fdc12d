package iudex

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NicholasJacob1990/iudex/audit"
)

// scriptedModel delegates generation to a function, for failure injection.
type scriptedModel struct {
	name     string
	generate func(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

func (m *scriptedModel) Name() string { return m.name }

func (m *scriptedModel) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	return m.generate(ctx, req)
}

// pauseRecorder collects pause events so tests can synchronize with a run
// parking for review.
type pauseRecorder struct {
	BaseRunCallbacks
	paused chan *HILEvent
}

func newPauseRecorder() *pauseRecorder {
	return &pauseRecorder{paused: make(chan *HILEvent, 8)}
}

func (c *pauseRecorder) OnHILPause(ctx context.Context, event *HILEvent) {
	c.paused <- event
}

func testConfig() Config {
	config := DefaultConfig()
	config.Models = ModelsConfig{
		Strategist: "strategist",
		Drafters:   []string{"drafter-a", "drafter-b"},
		Reviewers:  []string{"reviewer"},
		Merger:     "merger",
	}
	config.Retry.BaseWait = time.Millisecond
	config.Retry.MaxWait = 10 * time.Millisecond
	return config
}

func testClients(overrides ...ModelClient) []ModelClient {
	clients := map[string]ModelClient{}
	for _, name := range []string{"strategist", "drafter-a", "drafter-b", "reviewer", "merger"} {
		clients[name] = NewOfflineModelClient(name)
	}
	for _, client := range overrides {
		clients[client.Name()] = client
	}
	var result []ModelClient
	for _, client := range clients {
		result = append(result, client)
	}
	return result
}

func testRequest() DraftingRequest {
	return DraftingRequest{
		Title:        "Contestação - Vício do Produto",
		Instructions: "Sustentar a aplicação do art. 14 do CDC e a inversão do ônus da prova prevista no art. 6º, VIII.",
		Citations: map[string]Citation{
			"1": {Key: "1", Title: "CDC", Reference: "Lei nº 8.078/90, art. 14"},
			"2": {Key: "2", Title: "CDC", Reference: "art. 6º, VIII"},
		},
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEngineCompletesRun(t *testing.T) {
	ctx := waitCtx(t)
	documents := NewMemoryDocumentStore()
	checkpoints := NewMemoryCheckpointStore()
	states := NewMemoryWorkflowStateRepository()

	engine, err := NewEngine(EngineOptions{
		Config:      testConfig(),
		Models:      testClients(),
		Documents:   documents,
		Checkpoints: checkpoints,
		States:      states,
	})
	require.NoError(t, err)

	handle, err := engine.Start(ctx, "job-complete", testRequest())
	require.NoError(t, err)
	require.Equal(t, "job-complete", handle.JobID)
	require.NotEmpty(t, handle.RunID)

	record, err := handle.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, record.Status)
	require.Empty(t, record.Error)

	// The final document is stored and addressable
	require.NotEmpty(t, record.DocumentURI)
	document, err := documents.Get(ctx, record.DocumentURI)
	require.NoError(t, err)
	require.Contains(t, document, "# ")
	require.Contains(t, document, "[1]")

	// Every outline section got a routing decision and a merged draft
	require.Len(t, record.RoutingDecisions, 3)
	require.Len(t, record.ProcessedSections, 3)
	for _, section := range record.ProcessedSections {
		require.Len(t, section.DraftsByModel, 2, "section %s", section.Name)
		require.NotEmpty(t, section.Merged, "section %s", section.Name)
		require.Len(t, section.Reviews, 1, "section %s", section.Name)
	}

	require.NotNil(t, record.QualityDecisions)
	require.NotNil(t, record.StructuralFix)
	require.NotNil(t, record.CitationDecisions)
	require.NotNil(t, record.AuditDecisions)
	require.Equal(t, audit.StatusApproved, record.AuditDecisions.Status)
	require.NotNil(t, record.AlertDecisions)

	// Automatic checkpoints landed at the configured stages
	list, err := engine.ListCheckpoints(ctx, "job-complete")
	require.NoError(t, err)
	require.Len(t, list, 3)
	stages := map[Stage]bool{}
	for _, checkpoint := range list {
		require.Equal(t, SnapshotTypeAuto, checkpoint.SnapshotType)
		require.True(t, checkpoint.IsRestorable)
		stages[checkpoint.Stage] = true
	}
	require.True(t, stages[StageQualityGate])
	require.True(t, stages[StageAudit])
	require.True(t, stages[StageFinalizing])

	// The final record is retrievable and the stage reports done
	saved, err := engine.GetWorkflowState(ctx, "job-complete")
	require.NoError(t, err)
	require.Equal(t, record.RunID, saved.RunID)

	stage, status, err := engine.GetStatus(ctx, "job-complete")
	require.NoError(t, err)
	require.Equal(t, StageDone, stage)
	require.Equal(t, RunStatusCompleted, status)
}

func TestEnginePauseAndResume(t *testing.T) {
	ctx := waitCtx(t)
	recorder := newPauseRecorder()
	documents := NewMemoryDocumentStore()

	config := testConfig()
	config.Thresholds.MinOutputWords = 5000
	config.HILRouting = []HILRule{
		{Field: "document", Resume: StageFinalizing},
	}
	config.DefaultResume = StageFinalizing

	engine, err := NewEngine(EngineOptions{
		Config:    config,
		Models:    testClients(),
		Documents: documents,
		Callbacks: recorder,
	})
	require.NoError(t, err)

	handle, err := engine.Start(ctx, "job-pause", testRequest())
	require.NoError(t, err)

	event := <-recorder.paused
	require.Contains(t, event.PauseReason, "quality gate")

	stage, status, err := engine.GetStatus(ctx, "job-pause")
	require.NoError(t, err)
	require.Equal(t, StageHILPaused, stage)
	require.Equal(t, RunStatusPaused, status)

	// A second start for the same job is rejected while the run is live
	_, err = engine.Start(ctx, "job-pause", testRequest())
	require.Error(t, err)

	edited := "# Contestação\n\nTexto final conferido pelo revisor, citando o art. 14 do CDC. [1]\n"
	require.NoError(t, engine.Resume(ctx, "job-pause", HumanDecision{
		Actor:         "revisor@example.com",
		Action:        HILActionEdit,
		EditedField:   "document",
		EditedContent: edited,
	}))

	record, err := handle.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, record.Status)

	// The edit replaced the document before finalizing
	document, err := documents.Get(ctx, record.DocumentURI)
	require.NoError(t, err)
	require.Equal(t, edited, document)

	require.Len(t, record.HILHistory, 1)
	interaction := record.HILHistory[0]
	require.Equal(t, HILActionEdit, interaction.Action)
	require.Equal(t, "document", interaction.EditedField)
	require.Equal(t, StageFinalizing, interaction.ResumedStage)
	require.NotEmpty(t, interaction.TurnID)
}

func TestEngineReject(t *testing.T) {
	ctx := waitCtx(t)
	recorder := newPauseRecorder()

	config := testConfig()
	config.Thresholds.MinOutputWords = 5000

	engine, err := NewEngine(EngineOptions{
		Config:    config,
		Models:    testClients(),
		Callbacks: recorder,
	})
	require.NoError(t, err)

	handle, err := engine.Start(ctx, "job-reject", testRequest())
	require.NoError(t, err)
	<-recorder.paused

	require.NoError(t, engine.Resume(ctx, "job-reject", HumanDecision{
		Actor:  "revisor@example.com",
		Action: HILActionReject,
		Note:   "fundamentação insuficiente",
	}))

	record, err := handle.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, RunStatusCancelled, record.Status)
	require.Len(t, record.HILHistory, 1)
	require.Equal(t, HILActionReject, record.HILHistory[0].Action)
	require.Empty(t, record.DocumentURI)
}

func TestEngineCancelWhilePaused(t *testing.T) {
	ctx := waitCtx(t)
	recorder := newPauseRecorder()

	config := testConfig()
	config.Thresholds.MinOutputWords = 5000

	engine, err := NewEngine(EngineOptions{
		Config:    config,
		Models:    testClients(),
		Callbacks: recorder,
	})
	require.NoError(t, err)

	handle, err := engine.Start(ctx, "job-cancel", testRequest())
	require.NoError(t, err)
	<-recorder.paused

	require.NoError(t, engine.Cancel(ctx, "job-cancel"))

	record, err := handle.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, RunStatusCancelled, record.Status)

	// Resuming a finished run is an error
	require.Error(t, engine.Resume(ctx, "job-cancel", HumanDecision{Action: HILActionResume}))
}

func TestEngineManualCheckpoint(t *testing.T) {
	ctx := waitCtx(t)
	recorder := newPauseRecorder()
	checkpoints := NewMemoryCheckpointStore()

	config := testConfig()
	config.Thresholds.MinOutputWords = 5000

	engine, err := NewEngine(EngineOptions{
		Config:      config,
		Models:      testClients(),
		Checkpoints: checkpoints,
		Callbacks:   recorder,
	})
	require.NoError(t, err)

	handle, err := engine.Start(ctx, "job-manual", testRequest())
	require.NoError(t, err)
	<-recorder.paused

	id, err := engine.CheckpointNow(ctx, "job-manual", "revisor@example.com")
	require.NoError(t, err)

	checkpoint, err := checkpoints.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, SnapshotTypeManual, checkpoint.SnapshotType)
	require.Equal(t, "revisor@example.com", checkpoint.CreatedBy)
	require.Equal(t, StageHILPaused, checkpoint.Stage)
	require.NotEmpty(t, checkpoint.FilesSnapshotURI)

	require.NoError(t, engine.Cancel(ctx, "job-manual"))
	_, err = handle.Wait(ctx)
	require.NoError(t, err)
}

func TestEngineRetriesTransientErrors(t *testing.T) {
	ctx := waitCtx(t)

	var mutex sync.Mutex
	attempts := 0
	offline := NewOfflineModelClient("strategist")
	flaky := &scriptedModel{
		name: "strategist",
		generate: func(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
			mutex.Lock()
			attempts++
			n := attempts
			mutex.Unlock()
			if n <= 2 {
				return nil, &ProviderError{Provider: "acme", StatusCode: 529, Message: "overloaded", Recoverable: true}
			}
			return offline.Generate(ctx, req)
		},
	}

	engine, err := NewEngine(EngineOptions{
		Config: testConfig(),
		Models: testClients(flaky),
	})
	require.NoError(t, err)

	handle, err := engine.Start(ctx, "job-retry", testRequest())
	require.NoError(t, err)

	record, err := handle.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, record.Status)

	mutex.Lock()
	defer mutex.Unlock()
	require.Equal(t, 3, attempts)
}

func TestEngineFailsOnFatalProviderError(t *testing.T) {
	ctx := waitCtx(t)

	broken := &scriptedModel{
		name: "strategist",
		generate: func(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
			return nil, &ProviderError{Provider: "acme", StatusCode: 401, Message: "invalid key"}
		},
	}

	engine, err := NewEngine(EngineOptions{
		Config: testConfig(),
		Models: testClients(broken),
	})
	require.NoError(t, err)

	handle, err := engine.Start(ctx, "job-fatal", testRequest())
	require.NoError(t, err)

	record, err := handle.Wait(ctx)
	require.Error(t, err)
	require.Equal(t, RunStatusFailed, record.Status)
	require.Equal(t, ErrTypeProviderFatal, ClassifyError(err).Type)
}

func TestEngineFailsOnMalformedOutline(t *testing.T) {
	ctx := waitCtx(t)

	babbling := &scriptedModel{
		name: "strategist",
		generate: func(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
			return &GenerateResponse{Content: "Here is your outline:\n1. Intro"}, nil
		},
	}

	engine, err := NewEngine(EngineOptions{
		Config: testConfig(),
		Models: testClients(babbling),
	})
	require.NoError(t, err)

	handle, err := engine.Start(ctx, "job-parse", testRequest())
	require.NoError(t, err)

	record, err := handle.Wait(ctx)
	require.Error(t, err)
	require.Equal(t, RunStatusFailed, record.Status)
	require.Equal(t, ErrTypeParse, ClassifyError(err).Type)
}

func TestEngineFailsOnPolicyRefusalBeforeReviewStages(t *testing.T) {
	ctx := waitCtx(t)

	refusing := &scriptedModel{
		name: "strategist",
		generate: func(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
			return nil, &ContentPolicyError{Provider: "acme", Message: "request declined"}
		},
	}

	engine, err := NewEngine(EngineOptions{
		Config: testConfig(),
		Models: testClients(refusing),
	})
	require.NoError(t, err)

	handle, err := engine.Start(ctx, "job-policy", testRequest())
	require.NoError(t, err)

	// Planning cannot pause for review, so the refusal fails the run
	record, err := handle.Wait(ctx)
	require.Error(t, err)
	require.Equal(t, RunStatusFailed, record.Status)
	require.Equal(t, ErrTypeContentPolicy, ClassifyError(err).Type)
}

func TestEngineRewind(t *testing.T) {
	ctx := waitCtx(t)
	documents := NewMemoryDocumentStore()
	checkpoints := NewMemoryCheckpointStore()
	states := NewMemoryWorkflowStateRepository()

	engine, err := NewEngine(EngineOptions{
		Config:      testConfig(),
		Models:      testClients(),
		Documents:   documents,
		Checkpoints: checkpoints,
		States:      states,
	})
	require.NoError(t, err)

	handle, err := engine.Start(ctx, "job-rewind", testRequest())
	require.NoError(t, err)
	first, err := handle.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, first.Status)

	list, err := engine.ListCheckpoints(ctx, "job-rewind")
	require.NoError(t, err)
	var target *Checkpoint
	for _, checkpoint := range list {
		if checkpoint.Stage == StageAudit {
			target = checkpoint
		}
	}
	require.NotNil(t, target)

	rewound, err := engine.Rewind(ctx, target.ID)
	require.NoError(t, err)
	require.Equal(t, "job-rewind", rewound.JobID)
	require.NotEqual(t, handle.RunID, rewound.RunID)

	second, err := rewound.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, second.Status)
	require.Equal(t, rewound.RunID, second.RunID)
	require.Equal(t, first.DocumentURI, second.DocumentURI)

	// The rewound run's final record is persisted and supersedes the
	// first run's on reads
	persisted, err := states.Get(ctx, "job-rewind")
	require.NoError(t, err)
	require.Equal(t, rewound.RunID, persisted.RunID)
	require.Equal(t, RunStatusCompleted, persisted.Status)
}

func TestEngineRewindNonRestorable(t *testing.T) {
	ctx := waitCtx(t)
	documents := NewMemoryDocumentStore()
	checkpoints := NewMemoryCheckpointStore()

	engine, err := NewEngine(EngineOptions{
		Config:      testConfig(),
		Models:      testClients(),
		Documents:   documents,
		Checkpoints: checkpoints,
	})
	require.NoError(t, err)

	handle, err := engine.Start(ctx, "job-lost", testRequest())
	require.NoError(t, err)
	_, err = handle.Wait(ctx)
	require.NoError(t, err)

	list, err := engine.ListCheckpoints(ctx, "job-lost")
	require.NoError(t, err)
	require.NotEmpty(t, list)
	target := list[0]
	require.NotEmpty(t, target.FilesSnapshotURI)

	// Pruning the file snapshot invalidates the checkpoint
	require.NoError(t, documents.Delete(ctx, target.FilesSnapshotURI))

	_, err = engine.Rewind(ctx, target.ID)
	require.ErrorIs(t, err, ErrCheckpointNotRestorable)

	marked, err := checkpoints.Get(ctx, target.ID)
	require.NoError(t, err)
	require.False(t, marked.IsRestorable)
	require.NotEmpty(t, marked.NonRestorableReason)

	// The invalidation is permanent
	_, err = engine.Rewind(ctx, target.ID)
	require.ErrorIs(t, err, ErrCheckpointNotRestorable)
}

func TestEngineLogsModelCalls(t *testing.T) {
	ctx := waitCtx(t)
	calls := NewFileModelCallLogger(t.TempDir())

	engine, err := NewEngine(EngineOptions{
		Config:     testConfig(),
		Models:     testClients(),
		ModelCalls: calls,
	})
	require.NoError(t, err)

	handle, err := engine.Start(ctx, "job-calls", testRequest())
	require.NoError(t, err)
	record, err := handle.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, record.Status)

	history, err := calls.GetCallHistory(ctx, record.RunID)
	require.NoError(t, err)
	// 1 plan + 3 sections x 2 drafters + 3 reviews + 3 merges
	require.Len(t, history, 13)
	roles := map[string]int{}
	for _, entry := range history {
		require.Equal(t, record.RunID, entry.RunID)
		require.NotEmpty(t, entry.Model)
		require.Empty(t, entry.Error)
		roles[entry.Role]++
	}
	require.Equal(t, 1, roles["strategist"])
	require.Equal(t, 6, roles["drafter"])
	require.Equal(t, 3, roles["reviewer"])
	require.Equal(t, 3, roles["merger"])
}

func TestEngineRejectsUnknownModel(t *testing.T) {
	config := testConfig()
	config.Models.Merger = "unavailable"

	_, err := NewEngine(EngineOptions{
		Config: config,
		Models: testClients(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unavailable")
}

func TestEngineStatusUnknownJob(t *testing.T) {
	engine, err := NewEngine(EngineOptions{
		Config: testConfig(),
		Models: testClients(),
	})
	require.NoError(t, err)

	_, _, err = engine.GetStatus(context.Background(), "job-none")
	require.Error(t, err)
	require.Contains(t, err.Error(), "job-none")
}
