package iudex

// Stage identifies a pipeline state. The run loop drives a fixed
// linear-with-branches machine; the legal transitions are declared below and
// enforced on every move.
type Stage string

const (
	StagePlanning      Stage = "planning"
	StageDrafting      Stage = "drafting"
	StageReviewing     Stage = "reviewing"
	StageMerging       Stage = "merging"
	StageStructuralFix Stage = "structural_fix"
	StageQualityGate   Stage = "quality_gate"
	StageAudit         Stage = "audit"
	StageHILPaused     Stage = "hil_paused"
	StageFinalizing    Stage = "finalizing"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
	StageCancelled     Stage = "cancelled"
)

// Terminal reports whether a stage ends the run.
func (s Stage) Terminal() bool {
	switch s {
	case StageDone, StageFailed, StageCancelled:
		return true
	}
	return false
}

// validTransitions defines the legal stage transitions. Every non-terminal
// stage may additionally move to failed (unrecoverable error) or cancelled
// (explicit cancellation); IsValidTransition allows those implicitly.
var validTransitions = map[Stage]map[Stage]bool{
	StagePlanning:      {StageDrafting: true},
	StageDrafting:      {StageReviewing: true},
	StageReviewing:     {StageMerging: true},
	StageMerging:       {StageStructuralFix: true},
	StageStructuralFix: {StageQualityGate: true},
	StageQualityGate:   {StageAudit: true, StageHILPaused: true},
	StageAudit:         {StageFinalizing: true, StageHILPaused: true},
	StageHILPaused:     {StageReviewing: true, StageMerging: true, StageFinalizing: true},
	StageFinalizing:    {StageDone: true},
}

// IsValidTransition checks if a stage transition is legal.
func IsValidTransition(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageFailed || to == StageCancelled {
		return true
	}
	return validTransitions[from][to]
}

// RunStatus is the coarse status recorded on the final workflow state.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// statusForStage maps a terminal stage to the workflow status it records.
func statusForStage(stage Stage) RunStatus {
	switch stage {
	case StageDone:
		return RunStatusCompleted
	case StageFailed:
		return RunStatusFailed
	case StageCancelled:
		return RunStatusCancelled
	case StageHILPaused:
		return RunStatusPaused
	default:
		return RunStatusRunning
	}
}
