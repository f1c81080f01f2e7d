package workflow

import (
	"github.com/rshstkv/foodtray-annotations-sub002/internal/datastore"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/errors"
)

// Layered pairs one work-layer entity with the immutable snapshot it was
// cloned from, if any. The work layer is always the effective set; the
// snapshot is kept only to answer "what did the machine originally say".
type Layered[S, W any] struct {
	Snapshot *S
	Working  *W
}

// IsNew reports whether the entity was introduced by a reviewer rather than
// cloned from the snapshot.
func (l Layered[S, W]) IsNew() bool {
	return l.Snapshot == nil
}

// overlay joins each working entity to its snapshot through linkOf/idOf. A
// non-nil link that resolves to no snapshot is a dangling reference and
// violates the layering invariant.
func overlay[S, W any](snapshots []S, working []W, idOf func(*S) uint, linkOf func(*W) *uint) ([]Layered[S, W], error) {
	byID := make(map[uint]*S, len(snapshots))
	for i := range snapshots {
		byID[idOf(&snapshots[i])] = &snapshots[i]
	}
	layered := make([]Layered[S, W], 0, len(working))
	for i := range working {
		entry := Layered[S, W]{Working: &working[i]}
		if link := linkOf(&working[i]); link != nil {
			snapshot, ok := byID[*link]
			if !ok {
				return nil, errors.Newf("work entity references missing snapshot %d", *link).
					Component("workflow").
					Category(errors.CategoryIntegrity).
					Priority(errors.PriorityHigh).
					Build()
			}
			entry.Snapshot = snapshot
		}
		layered = append(layered, entry)
	}
	return layered, nil
}

// TrayItem is the reviewer-facing projection of a work item.
type TrayItem struct {
	ID            uint                   `json:"id"`
	InitialItemID *uint                  `json:"initial_item_id,omitempty"`
	Type          datastore.ItemType     `json:"type"`
	Name          string                 `json:"name"`
	Quantity      int                    `json:"quantity"`
	DishIndex     *int                   `json:"dish_index,omitempty"`
	Metadata      datastore.ItemMetadata `json:"metadata"`
	IsNew         bool                   `json:"is_new"`
}

// AnnotationView is the reviewer-facing projection of a work annotation,
// carrying the was_modified flag computed against the initial bbox.
type AnnotationView struct {
	ID                  uint               `json:"id"`
	WorkItemID          uint               `json:"work_item_id"`
	ImageID             uint               `json:"image_id"`
	InitialAnnotationID *uint              `json:"initial_annotation_id,omitempty"`
	BBox                datastore.BBox     `json:"bbox"`
	DishIndex           *int               `json:"dish_index,omitempty"`
	ResolvedLabel       string             `json:"resolved_label,omitempty"`
	IsOccluded          bool               `json:"is_occluded"`
	IsNew               bool               `json:"is_new"`
	WasModified         bool               `json:"was_modified"`
	OriginalBBox        *datastore.BBox    `json:"original_bbox,omitempty"`
}

// SessionView is the merged, reviewer-facing view of one work session:
// exactly the non-deleted work layer, annotated with clone provenance.
type SessionView struct {
	Session     *datastore.WorkSession `json:"session"`
	Items       []TrayItem             `json:"items"`
	Annotations []AnnotationView       `json:"annotations"`
}

// View assembles the merged view for a session. Soft-deleted entities never
// appear; annotations of a soft-deleted item are hidden with it.
func (e *Engine) View(sessionID uint) (*SessionView, error) {
	session, err := e.ds.GetWorkSession(sessionID)
	if err != nil {
		return nil, err
	}
	items, err := e.ds.GetWorkItems(sessionID, false)
	if err != nil {
		return nil, err
	}
	annotations, err := e.ds.GetWorkAnnotations(sessionID, false)
	if err != nil {
		return nil, err
	}
	return e.buildView(session, items, annotations)
}

func (e *Engine) buildView(session *datastore.WorkSession, items []datastore.WorkItem, annotations []datastore.WorkAnnotation) (*SessionView, error) {
	liveItems := make(map[uint]bool, len(items))
	for i := range items {
		liveItems[items[i].ID] = true
	}

	// Items: pair with initial items only to expose the is_new flag.
	initialItems, err := e.snapshots.InitialItems(session.RecognitionID)
	if err != nil {
		return nil, err
	}
	layeredItems, err := overlay(initialItems, items,
		func(s *datastore.InitialItem) uint { return s.ID },
		func(w *datastore.WorkItem) *uint { return w.InitialItemID })
	if err != nil {
		return nil, err
	}

	// Annotations: pair with their exact clone sources for was_modified.
	linkedIDs := make([]uint, 0, len(annotations))
	for i := range annotations {
		if annotations[i].InitialAnnotationID != nil {
			linkedIDs = append(linkedIDs, *annotations[i].InitialAnnotationID)
		}
	}
	initialAnnotations, err := e.ds.GetInitialAnnotationsByIDs(linkedIDs)
	if err != nil {
		return nil, err
	}
	layeredAnnotations, err := overlay(initialAnnotations, annotations,
		func(s *datastore.InitialAnnotation) uint { return s.ID },
		func(w *datastore.WorkAnnotation) *uint { return w.InitialAnnotationID })
	if err != nil {
		return nil, err
	}

	view := &SessionView{Session: session}
	for _, l := range layeredItems {
		w := l.Working
		view.Items = append(view.Items, TrayItem{
			ID:            w.ID,
			InitialItemID: w.InitialItemID,
			Type:          w.Type,
			Name:          w.Name,
			Quantity:      w.Quantity,
			DishIndex:     w.DishIndex,
			Metadata:      w.Metadata,
			IsNew:         l.IsNew(),
		})
	}

	tolerance := e.tolerance()
	for _, l := range layeredAnnotations {
		w := l.Working
		if !liveItems[w.WorkItemID] {
			// owning item was soft-deleted, hide its annotations with it
			continue
		}
		av := AnnotationView{
			ID:                  w.ID,
			WorkItemID:          w.WorkItemID,
			ImageID:             w.ImageID,
			InitialAnnotationID: w.InitialAnnotationID,
			BBox:                w.BBox,
			DishIndex:           w.DishIndex,
			ResolvedLabel:       w.ResolvedLabel,
			IsOccluded:          w.IsOccluded,
			IsNew:               l.IsNew(),
		}
		if l.IsNew() {
			av.WasModified = true
		} else {
			original := l.Snapshot.BBox
			av.WasModified = !w.BBox.Equals(original, tolerance)
			av.OriginalBBox = &original
		}
		view.Annotations = append(view.Annotations, av)
	}
	return view, nil
}

// evalContext builds the predicate evaluation context for a session.
func (e *Engine) evalContext(rec *datastore.Recognition, view *SessionView) (EvalContext, error) {
	images, err := e.snapshots.Images(rec.ID)
	if err != nil {
		return EvalContext{}, err
	}
	return EvalContext{
		Recognition: rec,
		Images:      images,
		Items:       view.Items,
		Annotations: view.Annotations,
	}, nil
}

// initialEvalContext builds a predicate context straight from the immutable
// snapshot, used before any session (and hence any work layer) exists.
func (e *Engine) initialEvalContext(rec *datastore.Recognition) (EvalContext, error) {
	images, err := e.snapshots.Images(rec.ID)
	if err != nil {
		return EvalContext{}, err
	}
	imageIDs := make([]uint, len(images))
	for i := range images {
		imageIDs[i] = images[i].ID
	}
	initialItems, err := e.snapshots.InitialItems(rec.ID)
	if err != nil {
		return EvalContext{}, err
	}
	initialAnnotations, err := e.snapshots.InitialAnnotations(imageIDs)
	if err != nil {
		return EvalContext{}, err
	}

	ec := EvalContext{Recognition: rec, Images: images}
	for i := range initialItems {
		item := &initialItems[i]
		ec.Items = append(ec.Items, TrayItem{
			ID:            item.ID,
			InitialItemID: &item.ID,
			Type:          item.Type,
			Name:          item.Name,
			Quantity:      item.Quantity,
			DishIndex:     item.DishIndex,
		})
	}
	for i := range initialAnnotations {
		ann := &initialAnnotations[i]
		if ann.InitialItemID == nil {
			continue
		}
		ec.Annotations = append(ec.Annotations, AnnotationView{
			ID:                  ann.ID,
			WorkItemID:          *ann.InitialItemID,
			ImageID:             ann.ImageID,
			InitialAnnotationID: &ann.ID,
			BBox:                ann.BBox,
			DishIndex:           ann.DishIndex,
		})
	}
	return ec, nil
}
