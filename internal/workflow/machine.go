package workflow

import (
	"strings"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/datastore"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/errors"
)

// CompleteStage records the session's stage as completed and advances the
// recognition to the next pipeline stage, or to the completed state when no
// stage remains. Every required completion check must pass first.
func (e *Engine) CompleteStage(sessionID uint) (*datastore.Recognition, error) {
	return e.finishStage(sessionID, datastore.StepCompleted)
}

// SkipStage records the session's stage as skipped and advances. Completion
// checks do not apply: an explicit skip is a reviewer override, refused only
// for non-skippable stages.
func (e *Engine) SkipStage(sessionID uint) (*datastore.Recognition, error) {
	return e.finishStage(sessionID, datastore.StepSkipped)
}

func (e *Engine) finishStage(sessionID uint, outcome datastore.StepStatus) (*datastore.Recognition, error) {
	session, err := e.ds.GetWorkSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != datastore.SessionInProgress {
		return nil, errors.Newf("session %d is %s, stage cannot be finished", sessionID, session.Status).
			Component("workflow").
			Category(errors.CategoryInvalidState).
			Build()
	}
	rec, err := e.ds.GetRecognition(session.RecognitionID)
	if err != nil {
		return nil, err
	}
	stage := e.stageByID(session.StageID)
	if stage == nil {
		return nil, errors.Newf("session %d references unknown stage %s", sessionID, session.StageID).
			Component("workflow").
			Category(errors.CategoryIntegrity).
			Priority(errors.PriorityHigh).
			Build()
	}

	switch outcome {
	case datastore.StepSkipped:
		if stage.NonSkippable {
			return nil, errors.Newf("stage %s cannot be skipped", stage.ID).
				Component("workflow").
				Category(errors.CategoryInvalidState).
				Build()
		}
	case datastore.StepCompleted:
		if err := e.runCompletionChecks(rec, session, stage.Checks); err != nil {
			return nil, err
		}
	}

	if step := session.StepFor(stage.ID); step != nil {
		step.Status = outcome
	} else {
		session.Steps = append(session.Steps, datastore.StepOutcome{StageID: stage.ID, Status: outcome})
	}
	// Finishing the last stage completes the recognition, so every required
	// stage must have a completed outcome on record by now.
	if e.stageIndex(stage.ID) == len(e.Stages())-1 {
		if err := e.requiredStagesCompleted(session.Steps); err != nil {
			return nil, err
		}
	}

	now := e.now()
	err = e.ds.Transaction(func(tx datastore.Interface) error {
		session.Status = datastore.SessionCompleted
		session.CompletedAt = &now
		if err := tx.SaveWorkSession(session); err != nil {
			return err
		}
		e.advance(rec, stage.ID)
		return tx.SaveRecognition(rec)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("stage finished",
		"session_id", sessionID,
		"recognition_id", rec.ID,
		"stage_id", stage.ID,
		"outcome", string(outcome),
		"next_stage", rec.CurrentStageID,
		"workflow_state", string(rec.WorkflowState))
	return rec, nil
}

// requiredStagesCompleted verifies recognition completion is gated on every
// required stage carrying a completed outcome; a skipped or pending required
// stage blocks the pipeline exit.
func (e *Engine) requiredStagesCompleted(steps datastore.StepOutcomes) error {
	var missing []string
	for _, stage := range e.Stages() {
		if !stage.Required {
			continue
		}
		completed := false
		for i := range steps {
			if steps[i].StageID == stage.ID && steps[i].Status == datastore.StepCompleted {
				completed = true
				break
			}
		}
		if !completed {
			missing = append(missing, stage.ID)
		}
	}
	if len(missing) > 0 {
		return errors.Newf("required stages not completed: %s", strings.Join(missing, ", ")).
			Component("workflow").
			Category(errors.CategoryInvalidState).
			Context("required_stages", missing).
			Build()
	}
	return nil
}

// advance moves the recognition past the given stage. The stage index only
// ever increases here; the sole way back is an explicit reset.
func (e *Engine) advance(rec *datastore.Recognition, finishedStageID string) {
	rec.AssignedTo = ""
	rec.StartedAt = nil

	idx := e.stageIndex(finishedStageID)
	stages := e.Stages()
	if idx >= 0 && idx+1 < len(stages) {
		rec.CurrentStageID = stages[idx+1].ID
		rec.WorkflowState = datastore.StatePending
		return
	}
	rec.WorkflowState = datastore.StateCompleted
}

// runCompletionChecks evaluates the stage's required checks against the
// merged view. All failures are reported together as one actionable message.
func (e *Engine) runCompletionChecks(rec *datastore.Recognition, session *datastore.WorkSession, checkNames []string) error {
	if len(checkNames) == 0 {
		return nil
	}
	view, err := e.viewForSession(session)
	if err != nil {
		return err
	}
	ec, err := e.evalContext(rec, view)
	if err != nil {
		return err
	}

	var failures []string
	for _, name := range checkNames {
		check, ok := e.registry.Check(name)
		if !ok {
			return errors.Newf("stage references unregistered completion check %q", name).
				Component("workflow").
				Category(errors.CategoryConfiguration).
				Build()
		}
		if err := check(ec); err != nil {
			failures = append(failures, name+": "+err.Error())
		}
	}
	if len(failures) > 0 {
		return errors.Newf("completion checks failed: %s", strings.Join(failures, "; ")).
			Component("workflow").
			Category(errors.CategoryInvalidState).
			Context("failed_checks", failures).
			Build()
	}
	return nil
}

func (e *Engine) viewForSession(session *datastore.WorkSession) (*SessionView, error) {
	items, err := e.ds.GetWorkItems(session.ID, false)
	if err != nil {
		return nil, err
	}
	annotations, err := e.ds.GetWorkAnnotations(session.ID, false)
	if err != nil {
		return nil, err
	}
	return e.buildView(session, items, annotations)
}

// ResetRecognition deletes every session and work entity of the recognition
// and re-queues it at the first pipeline stage. Initial entities stay
// untouched. Used to re-queue a unit after a disputed validation.
func (e *Engine) ResetRecognition(recognitionID uint) error {
	rec, err := e.ds.GetRecognition(recognitionID)
	if err != nil {
		return err
	}
	stages := e.Stages()
	if len(stages) == 0 {
		return errors.Newf("no stages configured").
			Component("workflow").
			Category(errors.CategoryConfiguration).
			Build()
	}
	err = e.ds.Transaction(func(tx datastore.Interface) error {
		if err := tx.DeleteRecognitionWorkData(recognitionID); err != nil {
			return err
		}
		rec.CurrentStageID = stages[0].ID
		rec.WorkflowState = datastore.StatePending
		rec.AssignedTo = ""
		rec.StartedAt = nil
		return tx.SaveRecognition(rec)
	})
	if err != nil {
		return err
	}
	e.log.Info("recognition reset", "recognition_id", recognitionID, "stage_id", rec.CurrentStageID)
	return nil
}

// FlagForCorrection puts a recognition back into the correction queue, used
// when a later stage or an admin disputes an earlier validation.
func (e *Engine) FlagForCorrection(recognitionID uint) error {
	rec, err := e.ds.GetRecognition(recognitionID)
	if err != nil {
		return err
	}
	rec.WorkflowState = datastore.StateRequiresCorrection
	rec.AssignedTo = ""
	rec.StartedAt = nil
	return e.ds.SaveRecognition(rec)
}
