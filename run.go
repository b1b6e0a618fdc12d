package iudex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// runLoop drives one run from its current stage to a terminal stage, taking
// automatic checkpoints at the configured stages and parking when the run
// enters human review. It runs in its own goroutine.
func (e *Engine) runLoop(ctx context.Context, r *run) {
	defer close(r.doneCh)

	logger := e.logger.With("job_id", r.state.JobID(), "run_id", r.state.RunID())

	if r.state.StartTime().IsZero() {
		r.state.SetTiming(time.Now(), time.Time{})
	}
	e.callbacks.BeforeRun(ctx, &RunEvent{
		JobID:     r.state.JobID(),
		RunID:     r.state.RunID(),
		Title:     r.state.Request().Title,
		Status:    RunStatusRunning,
		StartTime: r.state.StartTime(),
	})

	for {
		stage := r.state.Stage()
		if stage.Terminal() {
			break
		}
		if r.cancelled() {
			e.moveToTerminal(r, StageCancelled, errors.New("run cancelled"))
			continue
		}

		if stage == StageHILPaused {
			if err := e.parkForReview(ctx, r, logger); err != nil {
				e.moveToTerminal(r, StageFailed, err)
			}
			continue
		}

		stageStart := time.Now()
		e.callbacks.BeforeStage(ctx, &StageEvent{
			JobID:     r.state.JobID(),
			RunID:     r.state.RunID(),
			Stage:     stage,
			StartTime: stageStart,
		})
		logger.Info("stage started", "stage", stage)

		next, err := e.executeStage(ctx, r, stage)

		stageEnd := time.Now()
		e.callbacks.AfterStage(ctx, &StageEvent{
			JobID:     r.state.JobID(),
			RunID:     r.state.RunID(),
			Stage:     stage,
			StartTime: stageStart,
			EndTime:   stageEnd,
			Duration:  stageEnd.Sub(stageStart),
			Error:     err,
		})

		if err != nil {
			classified := ClassifyError(err)
			logger.Error("stage failed", "stage", stage, "error_type", classified.Type, "error", err)

			switch {
			case r.cancelled():
				e.moveToTerminal(r, StageCancelled, err)
			case classified.Type == ErrTypeContentPolicy && IsValidTransition(stage, StageHILPaused):
				// Policy refusals park the run instead of failing it, where
				// the stage machine allows a pause
				e.pauseForReview(ctx, r, fmt.Sprintf("model refused request: %s", classified.Cause))
			default:
				e.moveToTerminal(r, StageFailed, err)
			}
			continue
		}

		if next == StageHILPaused {
			e.pauseForReview(ctx, r, r.state.PauseReason())
			continue
		}
		if advanceErr := r.state.Advance(next); advanceErr != nil {
			logger.Error("stage advance rejected", "from", stage, "to", next, "error", advanceErr)
			e.moveToTerminal(r, StageFailed, advanceErr)
			continue
		}
		logger.Info("stage completed", "stage", stage, "next", next)

		// Automatic checkpoint after completing a key stage
		if e.isCheckpointStage(stage) {
			if _, err := e.createCheckpoint(ctx, r, SnapshotTypeAuto, "engine"); err != nil {
				logger.Error("failed to save automatic checkpoint", "stage", stage, "error", err)
			}
		}
	}

	e.finishRun(ctx, r, logger)
}

// isCheckpointStage reports whether stage is configured for auto checkpoints.
func (e *Engine) isCheckpointStage(stage Stage) bool {
	for _, s := range e.config.CheckpointStages {
		if s == stage {
			return true
		}
	}
	return false
}

// pauseForReview moves the run into the paused stage and checkpoints it.
func (e *Engine) pauseForReview(ctx context.Context, r *run, reason string) {
	if err := r.state.Advance(StageHILPaused); err != nil {
		e.moveToTerminal(r, StageFailed, err)
		return
	}
	r.state.SetPauseReason(reason)

	if _, err := e.createCheckpoint(ctx, r, SnapshotTypeHIL, "engine"); err != nil {
		e.logger.Error("failed to save pause checkpoint", "job_id", r.state.JobID(), "error", err)
	}
	e.callbacks.OnHILPause(ctx, &HILEvent{
		JobID:       r.state.JobID(),
		RunID:       r.state.RunID(),
		PauseReason: reason,
	})
}

// parkForReview blocks a paused run until a human decision arrives, the run
// is cancelled, or ctx ends. Decisions route through the configured table.
func (e *Engine) parkForReview(ctx context.Context, r *run, logger *slog.Logger) error {
	logger.Info("run paused for human review", "reason", r.state.PauseReason())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.cancelCh:
		return r.state.Advance(StageCancelled)
	case decision := <-r.resumeCh:
		return e.applyDecision(ctx, r, decision, logger)
	}
}

// applyDecision records a human decision and routes the run accordingly.
func (e *Engine) applyDecision(ctx context.Context, r *run, decision HumanDecision, logger *slog.Logger) error {
	turnID := fmt.Sprintf("%d", r.state.NextTurnID())
	if decision.TurnID == "" {
		decision.TurnID = turnID
	}

	interaction := HILInteraction{
		At:            time.Now(),
		Actor:         decision.Actor,
		Action:        decision.Action,
		EditedField:   decision.EditedField,
		EditedContent: decision.EditedContent,
		TurnID:        decision.TurnID,
		Note:          decision.Note,
	}

	if decision.Action == HILActionReject {
		r.state.AddHILInteraction(interaction)
		logger.Info("run rejected by reviewer", "actor", decision.Actor)
		return r.state.Advance(StageCancelled)
	}

	// Apply edits before routing so downstream stages see them
	if decision.Action == HILActionEdit && decision.EditedField == "document" {
		r.state.SetDocument("human_edit", decision.EditedContent)
	}

	resumeStage, rationale, err := e.routing.Resolve(ctx, decision)
	if err != nil {
		return err
	}
	interaction.ResumedStage = resumeStage
	r.state.AddHILInteraction(interaction)

	if err := r.state.Advance(resumeStage); err != nil {
		return err
	}
	r.state.SetPauseReason("")

	logger.Info("run resumed",
		"actor", decision.Actor,
		"action", decision.Action,
		"resume_stage", resumeStage,
		"rationale", rationale)
	e.callbacks.OnHILResume(ctx, &HILEvent{
		JobID:       r.state.JobID(),
		RunID:       r.state.RunID(),
		Decision:    &decision,
		ResumeStage: resumeStage,
	})
	return nil
}

// moveToTerminal forces the run into a terminal stage.
func (e *Engine) moveToTerminal(r *run, stage Stage, err error) {
	r.state.SetError(err)
	if advanceErr := r.state.Advance(stage); advanceErr != nil {
		// Terminal stages are reachable from any non-terminal stage, so this
		// only fires when the run already terminated
		e.logger.Error("failed to enter terminal stage", "stage", stage, "error", advanceErr)
	}
}

// finishRun writes the immutable final record exactly once and resolves the
// run's handle.
func (e *Engine) finishRun(ctx context.Context, r *run, logger *slog.Logger) {
	endTime := time.Now()
	r.state.SetTiming(r.state.StartTime(), endTime)

	record := r.state.FinalRecord(r.documentURI)
	if err := e.states.Save(ctx, record); err != nil {
		logger.Error("failed to save final record", "error", err)
	}

	runErr := r.state.GetError()
	r.finish(record, runErr)

	logger.Info("run finished", "status", record.Status, "document_uri", record.DocumentURI)
	e.callbacks.AfterRun(ctx, &RunEvent{
		JobID:     record.JobID,
		RunID:     record.RunID,
		Title:     r.state.Request().Title,
		Status:    record.Status,
		StartTime: record.StartTime,
		EndTime:   record.EndTime,
		Duration:  record.EndTime.Sub(record.StartTime),
		Error:     runErr,
	})
}
