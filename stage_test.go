package iudex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStageTransitions(t *testing.T) {
	require.True(t, IsValidTransition(StagePlanning, StageDrafting))
	require.True(t, IsValidTransition(StageDrafting, StageReviewing))
	require.True(t, IsValidTransition(StageReviewing, StageMerging))
	require.True(t, IsValidTransition(StageMerging, StageStructuralFix))
	require.True(t, IsValidTransition(StageStructuralFix, StageQualityGate))
	require.True(t, IsValidTransition(StageQualityGate, StageAudit))
	require.True(t, IsValidTransition(StageQualityGate, StageHILPaused))
	require.True(t, IsValidTransition(StageAudit, StageFinalizing))
	require.True(t, IsValidTransition(StageAudit, StageHILPaused))
	require.True(t, IsValidTransition(StageFinalizing, StageDone))

	// Skipping stages is not allowed
	require.False(t, IsValidTransition(StagePlanning, StageReviewing))
	require.False(t, IsValidTransition(StageDrafting, StageMerging))
	require.False(t, IsValidTransition(StageMerging, StageQualityGate))
	require.False(t, IsValidTransition(StageQualityGate, StageFinalizing))
}

func TestStageTransitionsPaused(t *testing.T) {
	// A paused run may resume into reviewing, merging or finalizing
	require.True(t, IsValidTransition(StageHILPaused, StageReviewing))
	require.True(t, IsValidTransition(StageHILPaused, StageMerging))
	require.True(t, IsValidTransition(StageHILPaused, StageFinalizing))
	require.False(t, IsValidTransition(StageHILPaused, StageDrafting))
	require.False(t, IsValidTransition(StageHILPaused, StagePlanning))
	require.False(t, IsValidTransition(StageHILPaused, StageDone))
}

func TestStageTransitionsTerminal(t *testing.T) {
	nonTerminal := []Stage{
		StagePlanning, StageDrafting, StageReviewing, StageMerging,
		StageStructuralFix, StageQualityGate, StageAudit, StageHILPaused,
		StageFinalizing,
	}
	// Failure and cancellation are reachable from every non-terminal stage
	for _, stage := range nonTerminal {
		require.False(t, stage.Terminal())
		require.True(t, IsValidTransition(stage, StageFailed), "from %s", stage)
		require.True(t, IsValidTransition(stage, StageCancelled), "from %s", stage)
	}
	// Terminal stages transition nowhere
	for _, terminal := range []Stage{StageDone, StageFailed, StageCancelled} {
		require.True(t, terminal.Terminal())
		for _, to := range append(nonTerminal, StageDone, StageFailed, StageCancelled) {
			require.False(t, IsValidTransition(terminal, to), "from %s to %s", terminal, to)
		}
	}
}

func TestStatusForStage(t *testing.T) {
	require.Equal(t, RunStatusCompleted, statusForStage(StageDone))
	require.Equal(t, RunStatusFailed, statusForStage(StageFailed))
	require.Equal(t, RunStatusCancelled, statusForStage(StageCancelled))
	require.Equal(t, RunStatusPaused, statusForStage(StageHILPaused))
	require.Equal(t, RunStatusRunning, statusForStage(StageDrafting))
}
