package workflow

import (
	"github.com/google/uuid"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/datastore"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/errors"
)

// CreateSession opens a work session for the recognition's current stage and
// clones the work layer from the initial snapshot, all in one transaction.
// Uniqueness is per (recognition, stage): a second non-terminal session is a
// conflict regardless of assignee.
func (e *Engine) CreateSession(recognitionID uint, assignee string) (*datastore.WorkSession, error) {
	rec, err := e.ds.GetRecognition(recognitionID)
	if err != nil {
		return nil, err
	}
	if rec.WorkflowState == datastore.StateCompleted {
		return nil, errors.Newf("recognition %d already completed the pipeline", recognitionID).
			Component("workflow").
			Category(errors.CategoryInvalidState).
			Build()
	}
	stage := e.stageByID(rec.CurrentStageID)
	if stage == nil {
		return nil, errors.Newf("recognition %d has no active stage", recognitionID).
			Component("workflow").
			Category(errors.CategoryInvalidState).
			Context("workflow_state", string(rec.WorkflowState)).
			Build()
	}

	if existing, err := e.ds.GetActiveWorkSession(rec.ID, stage.ID); err == nil {
		return nil, errors.Newf("session %d already open for recognition %d stage %s",
			existing.ID, rec.ID, stage.ID).
			Component("workflow").
			Category(errors.CategoryConflict).
			Build()
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	session := &datastore.WorkSession{
		SessionUUID:   uuid.NewString(),
		RecognitionID: rec.ID,
		StageID:       stage.ID,
		Assignee:      assignee,
		Status:        datastore.SessionInProgress,
		Steps:         e.seedSteps(rec.ID, stage.ID),
	}

	err = e.ds.Transaction(func(tx datastore.Interface) error {
		if err := tx.CreateWorkSession(session); err != nil {
			return err
		}
		return e.cloneFromInitial(tx, session)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("work session created",
		"session_id", session.ID,
		"recognition_id", rec.ID,
		"stage_id", stage.ID,
		"assignee", assignee)
	return session, nil
}

// seedSteps snapshots the pipeline into a fresh outcome list, carrying
// forward the outcomes recorded by the recognition's last terminal session so
// each work log is self-contained.
func (e *Engine) seedSteps(recognitionID uint, currentStageID string) datastore.StepOutcomes {
	steps := make(datastore.StepOutcomes, 0, len(e.Stages()))
	var prior *datastore.WorkSession
	if p, err := e.ds.GetLatestTerminalSession(recognitionID); err == nil {
		prior = p
	}
	for _, stage := range e.Stages() {
		status := datastore.StepPending
		if prior != nil && stage.ID != currentStageID {
			if step := prior.StepFor(stage.ID); step != nil {
				status = step.Status
			}
		}
		steps = append(steps, datastore.StepOutcome{StageID: stage.ID, Status: status})
	}
	return steps
}

// cloneFromInitial creates one work item per initial item and one work
// annotation per initial annotation of a cloned item. Boxes and metadata are
// copied verbatim; quantity comes from the matched recipe line when linked.
func (e *Engine) cloneFromInitial(tx datastore.Interface, session *datastore.WorkSession) error {
	initialItems, err := e.snapshots.InitialItems(session.RecognitionID)
	if err != nil {
		return err
	}
	images, err := e.snapshots.Images(session.RecognitionID)
	if err != nil {
		return err
	}
	recipeLines, err := e.snapshots.RecipeLines(session.RecognitionID)
	if err != nil {
		return err
	}
	lineQuantity := make(map[uint]int, len(recipeLines))
	for _, line := range recipeLines {
		lineQuantity[line.ID] = line.Quantity
	}

	items := make([]datastore.WorkItem, 0, len(initialItems))
	for i := range initialItems {
		src := &initialItems[i]
		quantity := src.Quantity
		if src.RecipeLineID != nil {
			if q, ok := lineQuantity[*src.RecipeLineID]; ok {
				quantity = q
			}
		}
		items = append(items, datastore.WorkItem{
			SessionID:     session.ID,
			RecognitionID: session.RecognitionID,
			InitialItemID: &src.ID,
			Type:          src.Type,
			Name:          src.Name,
			Quantity:      quantity,
			DishIndex:     src.DishIndex,
			RecipeLineID:  src.RecipeLineID,
		})
	}
	if err := tx.CreateWorkItems(items); err != nil {
		return err
	}

	itemByInitial := make(map[uint]uint, len(items))
	for i := range items {
		itemByInitial[*items[i].InitialItemID] = items[i].ID
	}

	imageIDs := make([]uint, len(images))
	for i := range images {
		imageIDs[i] = images[i].ID
	}
	initialAnnotations, err := e.snapshots.InitialAnnotations(imageIDs)
	if err != nil {
		return err
	}

	annotations := make([]datastore.WorkAnnotation, 0, len(initialAnnotations))
	for i := range initialAnnotations {
		src := &initialAnnotations[i]
		if src.InitialItemID == nil {
			continue // unlinked machine boxes are not part of the reviewable layer
		}
		workItemID, ok := itemByInitial[*src.InitialItemID]
		if !ok {
			return errors.Newf("initial annotation %d references item %d outside recognition %d",
				src.ID, *src.InitialItemID, session.RecognitionID).
				Component("workflow").
				Category(errors.CategoryIntegrity).
				Priority(errors.PriorityHigh).
				Build()
		}
		annotations = append(annotations, datastore.WorkAnnotation{
			SessionID:           session.ID,
			WorkItemID:          workItemID,
			ImageID:             src.ImageID,
			InitialAnnotationID: &src.ID,
			BBox:                src.BBox,
			DishIndex:           src.DishIndex,
		})
	}
	return tx.CreateWorkAnnotations(annotations)
}

// ResetSession discards every work entity of the session and reclones from
// the initial snapshot. All-or-nothing: a reviewer never observes items
// without annotations mid-reset. Only in_progress sessions may be reset.
func (e *Engine) ResetSession(sessionID uint) error {
	session, err := e.ds.GetWorkSession(sessionID)
	if err != nil {
		return err
	}
	if session.Status != datastore.SessionInProgress {
		return errors.Newf("cannot reset session %d in status %s", sessionID, session.Status).
			Component("workflow").
			Category(errors.CategoryInvalidState).
			Build()
	}
	err = e.ds.Transaction(func(tx datastore.Interface) error {
		if err := tx.DeleteWorkLayer(sessionID); err != nil {
			return err
		}
		return e.cloneFromInitial(tx, session)
	})
	if err != nil {
		return err
	}
	e.log.Info("work session reset", "session_id", sessionID)
	return nil
}

// ItemPatch is a partial update of a work item. Nil fields stay untouched.
type ItemPatch struct {
	Type      *datastore.ItemType     `json:"type,omitempty"`
	Name      *string                 `json:"name,omitempty"`
	Quantity  *int                    `json:"quantity,omitempty"`
	DishIndex *int                    `json:"dish_index,omitempty"`
	Metadata  *datastore.ItemMetadata `json:"metadata,omitempty"`
}

// AnnotationPatch is a partial update of a work annotation.
type AnnotationPatch struct {
	BBox              *datastore.BBox `json:"bbox,omitempty"`
	DishIndex         *int            `json:"dish_index,omitempty"`
	ResolvedLabel     *string         `json:"resolved_label,omitempty"`
	IsOccluded        *bool           `json:"is_occluded,omitempty"`
	OcclusionMetadata *string         `json:"occlusion_metadata,omitempty"`
}

// sessionMutable verifies the session owning a work entity is open for edits.
func (e *Engine) sessionMutable(sessionID uint) error {
	session, err := e.ds.GetWorkSession(sessionID)
	if err != nil {
		return err
	}
	if session.Status != datastore.SessionInProgress {
		return errors.Newf("session %d is %s, not editable", sessionID, session.Status).
			Component("workflow").
			Category(errors.CategoryInvalidState).
			Build()
	}
	return nil
}

// MutateItem applies a partial update to a work item. The initial counterpart
// is never touched; GORM stamps updated_at on save.
func (e *Engine) MutateItem(itemID uint, patch ItemPatch) (*datastore.WorkItem, error) {
	item, err := e.ds.GetWorkItem(itemID)
	if err != nil {
		return nil, err
	}
	if err := e.sessionMutable(item.SessionID); err != nil {
		return nil, err
	}
	if patch.Type != nil {
		item.Type = *patch.Type
	}
	if patch.Name != nil {
		item.Name = *patch.Name
	}
	if patch.Quantity != nil {
		item.Quantity = *patch.Quantity
	}
	if patch.DishIndex != nil {
		item.DishIndex = patch.DishIndex
	}
	if patch.Metadata != nil {
		item.Metadata = *patch.Metadata
	}
	if !item.Metadata.ValidFor(item.Type) {
		return nil, errors.Newf("metadata variant does not match item type %s", item.Type).
			Component("workflow").
			Category(errors.CategoryValidation).
			Context("item_id", itemID).
			Build()
	}
	if err := e.ds.SaveWorkItem(item); err != nil {
		return nil, err
	}
	return item, nil
}

// MutateAnnotation applies a partial update to a work annotation.
func (e *Engine) MutateAnnotation(annotationID uint, patch AnnotationPatch) (*datastore.WorkAnnotation, error) {
	annotation, err := e.ds.GetWorkAnnotation(annotationID)
	if err != nil {
		return nil, err
	}
	if err := e.sessionMutable(annotation.SessionID); err != nil {
		return nil, err
	}
	if patch.BBox != nil {
		annotation.BBox = *patch.BBox
	}
	if patch.DishIndex != nil {
		annotation.DishIndex = patch.DishIndex
	}
	if patch.ResolvedLabel != nil {
		annotation.ResolvedLabel = *patch.ResolvedLabel
	}
	if patch.IsOccluded != nil {
		annotation.IsOccluded = *patch.IsOccluded
	}
	if patch.OcclusionMetadata != nil {
		annotation.OcclusionMetadata = *patch.OcclusionMetadata
	}
	if err := e.ds.SaveWorkAnnotation(annotation); err != nil {
		return nil, err
	}
	return annotation, nil
}

// SoftDeleteItem flags a work item as deleted. The row stays for audit; the
// merged view hides the item and its annotations.
func (e *Engine) SoftDeleteItem(itemID uint) error {
	item, err := e.ds.GetWorkItem(itemID)
	if err != nil {
		return err
	}
	if err := e.sessionMutable(item.SessionID); err != nil {
		return err
	}
	item.IsDeleted = true
	return e.ds.SaveWorkItem(item)
}

// SoftDeleteAnnotation flags a work annotation as deleted.
func (e *Engine) SoftDeleteAnnotation(annotationID uint) error {
	annotation, err := e.ds.GetWorkAnnotation(annotationID)
	if err != nil {
		return err
	}
	if err := e.sessionMutable(annotation.SessionID); err != nil {
		return err
	}
	annotation.IsDeleted = true
	return e.ds.SaveWorkAnnotation(annotation)
}

// AddItem inserts a reviewer-introduced work item (no initial counterpart).
func (e *Engine) AddItem(sessionID uint, item datastore.WorkItem) (*datastore.WorkItem, error) {
	session, err := e.ds.GetWorkSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != datastore.SessionInProgress {
		return nil, errors.Newf("session %d is %s, not editable", sessionID, session.Status).
			Component("workflow").
			Category(errors.CategoryInvalidState).
			Build()
	}
	item.ID = 0
	item.SessionID = session.ID
	item.RecognitionID = session.RecognitionID
	item.InitialItemID = nil
	item.IsDeleted = false
	if !item.Metadata.ValidFor(item.Type) {
		return nil, errors.Newf("metadata variant does not match item type %s", item.Type).
			Component("workflow").
			Category(errors.CategoryValidation).
			Build()
	}
	items := []datastore.WorkItem{item}
	if err := e.ds.CreateWorkItems(items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

// AddAnnotation inserts a reviewer-drawn work annotation. The session's stage
// must allow drawing, the owning item must belong to the same session, the
// image to the same recognition.
func (e *Engine) AddAnnotation(sessionID uint, annotation datastore.WorkAnnotation) (*datastore.WorkAnnotation, error) {
	session, err := e.ds.GetWorkSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != datastore.SessionInProgress {
		return nil, errors.Newf("session %d is %s, not editable", sessionID, session.Status).
			Component("workflow").
			Category(errors.CategoryInvalidState).
			Build()
	}
	stage := e.stageByID(session.StageID)
	if stage == nil {
		return nil, errors.Newf("session %d references unknown stage %s", sessionID, session.StageID).
			Component("workflow").
			Category(errors.CategoryIntegrity).
			Priority(errors.PriorityHigh).
			Build()
	}
	if !stage.AllowDrawing {
		return nil, errors.Newf("stage %s does not allow drawing new annotations", stage.ID).
			Component("workflow").
			Category(errors.CategoryInvalidState).
			Build()
	}
	item, err := e.ds.GetWorkItem(annotation.WorkItemID)
	if err != nil {
		return nil, err
	}
	if item.SessionID != session.ID {
		return nil, errors.Newf("work item %d belongs to another session", item.ID).
			Component("workflow").
			Category(errors.CategoryValidation).
			Build()
	}
	images, err := e.snapshots.Images(session.RecognitionID)
	if err != nil {
		return nil, err
	}
	validImage := false
	for i := range images {
		if images[i].ID == annotation.ImageID {
			validImage = true
			break
		}
	}
	if !validImage {
		return nil, errors.Newf("image %d does not belong to recognition %d",
			annotation.ImageID, session.RecognitionID).
			Component("workflow").
			Category(errors.CategoryValidation).
			Build()
	}
	annotation.ID = 0
	annotation.SessionID = session.ID
	annotation.InitialAnnotationID = nil
	annotation.IsDeleted = false
	annotations := []datastore.WorkAnnotation{annotation}
	if err := e.ds.CreateWorkAnnotations(annotations); err != nil {
		return nil, err
	}
	return &annotations[0], nil
}
