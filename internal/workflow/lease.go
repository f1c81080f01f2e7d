package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/datastore"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/errors"
)

// Lease is a temporary, timeout-bounded claim on a unit of work.
type Lease struct {
	Holder    string
	ExpiresAt time.Time
}

// Expired reports whether the lease has lapsed at the given instant. Pure so
// it is testable without a clock.
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// LeaseOf derives the lease carried by a recognition's assignment columns.
// Returns false when no lease is held.
func LeaseOf(rec *datastore.Recognition, duration time.Duration) (Lease, bool) {
	if rec.AssignedTo == "" || rec.StartedAt == nil {
		return Lease{}, false
	}
	return Lease{Holder: rec.AssignedTo, ExpiresAt: rec.StartedAt.Add(duration)}, true
}

// TierFilter restricts leasing to a difficulty range; zero values mean the
// full 1..5 range.
type TierFilter struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// LeaseRequest describes one leaseNext call.
type LeaseRequest struct {
	ReviewerID string     `json:"reviewer_id"`
	StageID    string     `json:"stage_id"`
	Tier       TierFilter `json:"tier"`
	// Correction selects the requires_correction queue instead of pending.
	Correction bool `json:"correction"`
	// PreAssigned restricts selection to units already assigned to the reviewer.
	PreAssigned bool `json:"pre_assigned"`
}

// errNoTasks is the normal "empty queue" outcome of leaseNext; callers must
// treat it as nothing-to-do, not as a fault.
func errNoTasks(stageID string) error {
	return errors.Newf("no tasks available for stage %s", stageID).
		Component("workflow").
		Category(errors.CategoryNotFound).
		Priority(errors.PriorityLow).
		Build()
}

// LeaseNext hands the next eligible recognition to a reviewer. Selection
// orders by ascending tier then descending recognition date; reclamation is
// lazy (expired leases become eligible inside the selection predicate, no
// background sweep). After leasing, skip conditions are evaluated in a
// bounded loop: auto-skipped stages are recorded and the next stage
// re-evaluated, never via recursive request handling.
//
// The select-and-stamp runs in one transaction, which serializes competing
// leases on SQLite and narrows the race window elsewhere; a SELECT ... FOR
// UPDATE row lock is the upgrade path on MySQL. A residual double-lease under
// high concurrency is an accepted risk.
func (e *Engine) LeaseNext(req LeaseRequest) (*datastore.Recognition, error) {
	if req.StageID == "" || e.stageByID(req.StageID) == nil {
		return nil, errors.Newf("unknown stage %q requested", req.StageID).
			Component("workflow").
			Category(errors.CategoryValidation).
			Build()
	}

	maxDepth := e.settings.Validation.MaxSkipDepth
	now := e.now()

	states := []datastore.WorkflowState{datastore.StatePending}
	if req.Correction {
		states = []datastore.WorkflowState{datastore.StateRequiresCorrection}
	}

	query := datastore.LeaseQuery{
		StageID:       req.StageID,
		States:        states,
		TierMin:       req.Tier.Min,
		TierMax:       req.Tier.Max,
		ReclaimBefore: now.Add(-e.settings.Validation.LeaseDuration),
	}
	if req.PreAssigned {
		query.AssignedTo = req.ReviewerID
	}

	// Outer loop: a unit fully consumed by auto-skips is terminal and no
	// longer selectable, so move on to the next candidate.
	for attempt := 0; attempt < maxDepth; attempt++ {
		var rec *datastore.Recognition
		err := e.ds.Transaction(func(tx datastore.Interface) error {
			candidate, err := tx.SelectLeasable(query)
			if err != nil {
				return err
			}
			candidate.AssignedTo = req.ReviewerID
			candidate.StartedAt = &now
			if e.settings.Validation.AutoAssign {
				candidate.WorkflowState = datastore.StateInProgress
			}
			rec = candidate
			return tx.SaveRecognition(candidate)
		})
		if err != nil {
			if errors.IsNotFound(err) {
				return nil, errNoTasks(req.StageID)
			}
			return nil, err
		}

		rec, err = e.applySkipConditions(rec, req.ReviewerID, maxDepth)
		if err != nil {
			if errors.IsNotFound(err) {
				continue // unit auto-completed or guard tripped, try the next one
			}
			return nil, err
		}
		return rec, nil
	}
	return nil, errNoTasks(req.StageID)
}

// applySkipConditions advances the leased recognition past every stage whose
// skip condition holds, bounded by maxDepth. Each auto-skip writes a terminal
// work session with the step recorded as skipped, so the audit trail shows
// the bypass. A tripped guard releases the lease and degrades to
// no-tasks-available rather than looping forever on a misconfigured pipeline.
func (e *Engine) applySkipConditions(rec *datastore.Recognition, reviewerID string, maxDepth int) (*datastore.Recognition, error) {
	for depth := 0; depth < maxDepth; depth++ {
		if rec.WorkflowState == datastore.StateCompleted {
			return nil, errNoTasks(rec.CurrentStageID)
		}
		stage := e.stageByID(rec.CurrentStageID)
		if stage == nil {
			return nil, errors.Newf("recognition %d references unknown stage %s", rec.ID, rec.CurrentStageID).
				Component("workflow").
				Category(errors.CategoryIntegrity).
				Priority(errors.PriorityHigh).
				Build()
		}
		if stage.SkipCondition == "" {
			return rec, nil
		}
		cond, ok := e.registry.Skip(stage.SkipCondition)
		if !ok {
			return nil, errors.Newf("stage %s references unregistered skip condition %q",
				stage.ID, stage.SkipCondition).
				Component("workflow").
				Category(errors.CategoryConfiguration).
				Build()
		}
		ec, err := e.initialEvalContext(rec)
		if err != nil {
			return nil, err
		}
		if !cond(ec) {
			return rec, nil
		}
		if err := e.autoSkip(rec, stage.ID, reviewerID); err != nil {
			return nil, err
		}
		e.log.Info("stage auto-skipped",
			"recognition_id", rec.ID,
			"stage_id", stage.ID,
			"condition", stage.SkipCondition,
			"depth", depth)
	}

	// Depth guard tripped: release the lease and report an empty queue.
	rec.AssignedTo = ""
	rec.StartedAt = nil
	if e.settings.Validation.AutoAssign {
		rec.WorkflowState = datastore.StatePending
	}
	if err := e.ds.SaveRecognition(rec); err != nil {
		return nil, err
	}
	e.log.Warn("skip depth guard tripped, releasing lease",
		"recognition_id", rec.ID,
		"stage_id", rec.CurrentStageID)
	return nil, errNoTasks(rec.CurrentStageID)
}

// autoSkip records a skipped outcome for the stage without any reviewer
// interaction: a terminal session with no cloned work layer, then advance.
func (e *Engine) autoSkip(rec *datastore.Recognition, stageID, reviewerID string) error {
	now := e.now()
	steps := e.seedSteps(rec.ID, stageID)
	for i := range steps {
		if steps[i].StageID == stageID {
			steps[i].Status = datastore.StepSkipped
		}
	}
	// An auto-skip of the last stage would complete the recognition, so the
	// required-stage gate applies here too; a trip means the pipeline is
	// misconfigured (a required stage behind a skip condition).
	if e.stageIndex(stageID) == len(e.Stages())-1 {
		if err := e.requiredStagesCompleted(steps); err != nil {
			return err
		}
	}
	return e.ds.Transaction(func(tx datastore.Interface) error {
		session := &datastore.WorkSession{
			SessionUUID:   uuid.NewString(),
			RecognitionID: rec.ID,
			StageID:       stageID,
			Assignee:      reviewerID,
			Status:        datastore.SessionCompleted,
			Steps:         steps,
			CompletedAt:   &now,
		}
		if err := tx.CreateWorkSession(session); err != nil {
			return err
		}
		assignee, startedAt := rec.AssignedTo, rec.StartedAt
		e.advance(rec, stageID)
		if rec.WorkflowState != datastore.StateCompleted {
			// keep the lease while walking to the first real stage
			rec.AssignedTo = assignee
			rec.StartedAt = startedAt
			if e.settings.Validation.AutoAssign {
				rec.WorkflowState = datastore.StateInProgress
			}
		}
		return tx.SaveRecognition(rec)
	})
}
