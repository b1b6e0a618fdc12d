package iudex

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NicholasJacob1990/iudex/audit"
	"github.com/NicholasJacob1990/iudex/citecheck"
	"github.com/NicholasJacob1990/iudex/structfix"
)

func populatedState(t *testing.T) *PipelineState {
	t.Helper()
	state := newPipelineState("job-1", "run-1", DraftingRequest{
		Title:        "Petição Inicial",
		Instructions: "Fundamentar no art. 927 do Código Civil.",
		Citations: map[string]Citation{
			"1": {Key: "1", Title: "Código Civil", Reference: "art. 927"},
		},
	})
	require.NoError(t, state.Advance(StageDrafting))
	state.SetOutline(&Outline{
		Title: "Petição Inicial",
		Sections: []OutlineSection{
			{Name: "Dos Fatos", Complexity: "low"},
			{Name: "Do Direito", Complexity: "high", Tags: []string{"merito"}},
		},
	})
	state.SetSections([]ProcessedSection{
		{Name: "Dos Fatos", DraftsByModel: map[string]string{"m1": "texto"}},
		{Name: "Do Direito"},
	})
	state.SetDocument("merged", "# Petição\n\ntexto [1]\n")
	state.AddRoutingDecision(RoutingDecision{Section: "Dos Fatos", Model: "m1", Rationale: "default"})
	state.SetStructuralFix(&structfix.Result{DuplicatesRemoved: 1})
	state.SetQualityDecisions(&QualityDecisions{Passed: true, CompressionRatio: 0.9, ReferenceCoverage: 1.0})
	state.SetCitationDecisions(&citecheck.Report{UsedKeys: []string{"1"}})
	state.SetAuditDecisions(&audit.Decision{Status: audit.StatusApproved})
	state.SetAlertDecisions(&AlertDecision{RiskScore: 0.1, Level: "low"})
	state.AddHILInteraction(HILInteraction{Actor: "revisor", Action: HILActionResume, ResumedStage: StageFinalizing})
	state.SetPauseReason("aguardando revisão")
	state.NextTurnID()
	state.SetError(errors.New("boom"))
	state.SetTiming(time.Now().Add(-time.Minute), time.Now())
	return state
}

func TestSnapshotRoundTrip(t *testing.T) {
	state := populatedState(t)
	snapshot := state.ToSnapshot()

	restored := &PipelineState{}
	restored.FromSnapshot(snapshot)

	require.Equal(t, snapshot, restored.ToSnapshot())
	require.Equal(t, "job-1", restored.JobID())
	require.Equal(t, "run-1", restored.RunID())
	require.Equal(t, StageDrafting, restored.Stage())
	require.Equal(t, state.Document(), restored.Document())
	require.Equal(t, state.Sections(), restored.Sections())
	require.Equal(t, state.RoutingDecisions(), restored.RoutingDecisions())
	require.Equal(t, state.CitationsMap(), restored.CitationsMap())
	require.Equal(t, "aguardando revisão", restored.PauseReason())
	require.EqualError(t, restored.GetError(), "boom")
}

func TestSnapshotIsolation(t *testing.T) {
	state := populatedState(t)
	snapshot := state.ToSnapshot()

	// Mutating the live state must not leak into the snapshot
	state.UpdateSection("Dos Fatos", func(s *ProcessedSection) {
		s.DraftsByModel["m1"] = "alterado"
	})
	state.AddRoutingDecision(RoutingDecision{Section: "Do Direito", Model: "m2"})

	require.Equal(t, "texto", snapshot.Sections[0].DraftsByModel["m1"])
	require.Len(t, snapshot.RoutingDecisions, 1)
}

func TestAdvanceRejectsInvalidTransition(t *testing.T) {
	state := newPipelineState("job-2", "run-2", DraftingRequest{Title: "t"})
	require.Equal(t, StagePlanning, state.Stage())

	err := state.Advance(StageMerging)
	require.Error(t, err)
	require.Equal(t, ErrTypeFatal, ClassifyError(err).Type)
	require.Equal(t, StagePlanning, state.Stage())

	require.NoError(t, state.Advance(StageDrafting))
	require.NoError(t, state.Advance(StageFailed))
	require.Error(t, state.Advance(StageReviewing))
}

func TestSetDocumentRecordsHistory(t *testing.T) {
	state := newPipelineState("job-3", "run-3", DraftingRequest{Title: "t"})
	state.SetDocument("merged", "primeira versão")
	state.SetDocument("structural_fix", "segunda versão")

	history := state.DraftsHistory()
	require.Len(t, history, 2)
	require.Equal(t, "merged", history[0].Label)
	require.Equal(t, "structural_fix", history[1].Label)
	require.Equal(t, len("segunda versão"), history[1].CharCount)
	require.Equal(t, "segunda versão", state.Document())
}

func TestFinalRecord(t *testing.T) {
	state := populatedState(t)
	require.NoError(t, state.Advance(StageFailed))

	record := state.FinalRecord("sha256:abc")
	require.Equal(t, "job-1", record.JobID)
	require.Equal(t, RunStatusFailed, record.Status)
	require.Equal(t, "sha256:abc", record.DocumentURI)
	require.Equal(t, "boom", record.Error)
	require.Len(t, record.HILHistory, 1)
	require.NotNil(t, record.AuditDecisions)
	require.False(t, record.CreatedAt.IsZero())
}

func TestNextTurnID(t *testing.T) {
	state := newPipelineState("job-4", "run-4", DraftingRequest{Title: "t"})
	require.Equal(t, 1, state.NextTurnID())
	require.Equal(t, 2, state.NextTurnID())
	require.Equal(t, 2, state.ToSnapshot().TurnCounter)
}
