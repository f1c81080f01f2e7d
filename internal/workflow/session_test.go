package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/datastore"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/errors"
)

func TestCreateSessionClonesInitialLayer(t *testing.T) {
	engine, ds := newTestEngine(t)
	rec := seedRecognition(t, ds, "validate_dishes", 3)
	food, plate := seedTray(t, ds, rec)

	session, err := engine.CreateSession(rec.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, datastore.SessionInProgress, session.Status)
	assert.Equal(t, "validate_dishes", session.StageID)
	assert.NotEmpty(t, session.SessionUUID)
	require.Len(t, session.Steps, 5)
	assert.Equal(t, datastore.StepPending, session.Steps[0].Status)

	view, err := engine.View(session.ID)
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	require.Len(t, view.Annotations, 2)

	byInitial := make(map[uint]TrayItem)
	for _, item := range view.Items {
		require.NotNil(t, item.InitialItemID)
		assert.False(t, item.IsNew)
		byInitial[*item.InitialItemID] = item
	}
	assert.Equal(t, "Borscht", byInitial[food.ID].Name)
	assert.Equal(t, datastore.ItemPlate, byInitial[plate.ID].Type)

	for _, ann := range view.Annotations {
		assert.False(t, ann.IsNew)
		assert.False(t, ann.WasModified, "fresh clone must not read as modified")
		require.NotNil(t, ann.OriginalBBox)
		assert.Equal(t, *ann.OriginalBBox, ann.BBox)
	}
}

func TestCreateSessionSecondOpenIsConflict(t *testing.T) {
	engine, ds := newTestEngine(t)
	rec := seedRecognition(t, ds, "validate_dishes", 3)
	seedTray(t, ds, rec)

	_, err := engine.CreateSession(rec.ID, "alice")
	require.NoError(t, err)

	_, err = engine.CreateSession(rec.ID, "bob")
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestCreateSessionCompletedRecognition(t *testing.T) {
	engine, ds := newTestEngine(t)
	rec := seedRecognition(t, ds, "validate_nonfood", 3)
	seedTray(t, ds, rec)
	rec.WorkflowState = datastore.StateCompleted
	require.NoError(t, ds.SaveRecognition(rec))

	_, err := engine.CreateSession(rec.ID, "alice")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))
}

func TestMutateAnnotationTracksModification(t *testing.T) {
	engine, ds := newTestEngine(t)
	rec := seedRecognition(t, ds, "validate_dishes", 3)
	seedTray(t, ds, rec)
	session, err := engine.CreateSession(rec.ID, "alice")
	require.NoError(t, err)

	view, err := engine.View(session.ID)
	require.NoError(t, err)
	require.Len(t, view.Annotations, 2)
	target := view.Annotations[0]

	// a shift within tolerance is floating-point noise, not an edit
	nudged := target.BBox
	nudged.X += 0.5
	_, err = engine.MutateAnnotation(target.ID, AnnotationPatch{BBox: &nudged})
	require.NoError(t, err)

	view, err = engine.View(session.ID)
	require.NoError(t, err)
	for _, ann := range view.Annotations {
		if ann.ID == target.ID {
			assert.False(t, ann.WasModified)
		}
	}

	moved := target.BBox
	moved.X += 30
	moved.W += 5
	_, err = engine.MutateAnnotation(target.ID, AnnotationPatch{BBox: &moved})
	require.NoError(t, err)

	view, err = engine.View(session.ID)
	require.NoError(t, err)
	found := false
	for _, ann := range view.Annotations {
		if ann.ID == target.ID {
			found = true
			assert.True(t, ann.WasModified)
			require.NotNil(t, ann.OriginalBBox)
			assert.Equal(t, target.BBox, *ann.OriginalBBox, "original snapshot box must survive edits")
		}
	}
	assert.True(t, found)
}

func TestMutateItemRejectsMismatchedMetadata(t *testing.T) {
	engine, ds := newTestEngine(t)
	rec := seedRecognition(t, ds, "validate_dishes", 3)
	seedTray(t, ds, rec)
	session, err := engine.CreateSession(rec.ID, "alice")
	require.NoError(t, err)

	view, err := engine.View(session.ID)
	require.NoError(t, err)
	var foodItem TrayItem
	for _, item := range view.Items {
		if item.Type == datastore.ItemFood {
			foodItem = item
		}
	}
	require.NotZero(t, foodItem.ID)

	_, err = engine.MutateItem(foodItem.ID, ItemPatch{
		Metadata: &datastore.ItemMetadata{Buzzer: &datastore.BuzzerMetadata{Color: "red"}},
	})
	require.Error(t, err)
	var ee *errors.EnhancedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, errors.CategoryValidation, ee.Category)
}

func TestSoftDeleteItemHidesItsAnnotations(t *testing.T) {
	engine, ds := newTestEngine(t)
	rec := seedRecognition(t, ds, "validate_dishes", 3)
	seedTray(t, ds, rec)
	session, err := engine.CreateSession(rec.ID, "alice")
	require.NoError(t, err)

	view, err := engine.View(session.ID)
	require.NoError(t, err)
	var plateItem TrayItem
	for _, item := range view.Items {
		if item.Type == datastore.ItemPlate {
			plateItem = item
		}
	}
	require.NotZero(t, plateItem.ID)

	require.NoError(t, engine.SoftDeleteItem(plateItem.ID))

	view, err = engine.View(session.ID)
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
	assert.Len(t, view.Annotations, 1, "annotations of a deleted item are hidden with it")

	// the row itself stays for audit
	items, err := ds.GetWorkItems(session.ID, true)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestAddItemAndAnnotation(t *testing.T) {
	engine, ds := newTestEngine(t)
	rec := seedRecognition(t, ds, "validate_dishes", 3)
	seedTray(t, ds, rec)
	session, err := engine.CreateSession(rec.ID, "alice")
	require.NoError(t, err)

	item, err := engine.AddItem(session.ID, datastore.WorkItem{
		Type:     datastore.ItemFood,
		Name:     "Compote",
		Quantity: 1,
	})
	require.NoError(t, err)
	require.NotZero(t, item.ID)
	assert.Nil(t, item.InitialItemID)

	// an image from another recognition is rejected
	_, err = engine.AddAnnotation(session.ID, datastore.WorkAnnotation{
		WorkItemID: item.ID,
		ImageID:    99999,
		BBox:       datastore.BBox{X: 60, Y: 60, W: 10, H: 10},
	})
	require.Error(t, err)

	ann, err := engine.AddAnnotation(session.ID, datastore.WorkAnnotation{
		WorkItemID: item.ID,
		ImageID:    rec.Images[0].ID,
		BBox:       datastore.BBox{X: 60, Y: 60, W: 10, H: 10},
	})
	require.NoError(t, err)

	view, err := engine.View(session.ID)
	require.NoError(t, err)
	assert.Len(t, view.Items, 3)
	assert.Len(t, view.Annotations, 3)
	for _, av := range view.Annotations {
		if av.ID == ann.ID {
			assert.True(t, av.IsNew)
			assert.True(t, av.WasModified)
			assert.Nil(t, av.OriginalBBox)
		}
	}
}

func TestAddAnnotationRefusedWhenDrawingDisallowed(t *testing.T) {
	engine, ds := newTestEngine(t)
	rec := seedRecognition(t, ds, "validate_plates", 3)
	seedTray(t, ds, rec)
	session, err := engine.CreateSession(rec.ID, "alice")
	require.NoError(t, err)

	view, err := engine.View(session.ID)
	require.NoError(t, err)
	require.NotEmpty(t, view.Items)

	_, err = engine.AddAnnotation(session.ID, datastore.WorkAnnotation{
		WorkItemID: view.Items[0].ID,
		ImageID:    rec.Images[0].ID,
		BBox:       datastore.BBox{X: 60, Y: 60, W: 10, H: 10},
	})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))

	// adjusting an existing box is editing, not drawing, and stays allowed
	require.NotEmpty(t, view.Annotations)
	moved := view.Annotations[0].BBox
	moved.X += 30
	_, err = engine.MutateAnnotation(view.Annotations[0].ID, AnnotationPatch{BBox: &moved})
	require.NoError(t, err)
}

func TestResetSessionReclonesFromSnapshot(t *testing.T) {
	engine, ds := newTestEngine(t)
	rec := seedRecognition(t, ds, "validate_dishes", 3)
	seedTray(t, ds, rec)
	session, err := engine.CreateSession(rec.ID, "alice")
	require.NoError(t, err)

	view, err := engine.View(session.ID)
	require.NoError(t, err)
	moved := view.Annotations[0].BBox
	moved.X += 100
	_, err = engine.MutateAnnotation(view.Annotations[0].ID, AnnotationPatch{BBox: &moved})
	require.NoError(t, err)
	_, err = engine.AddItem(session.ID, datastore.WorkItem{Type: datastore.ItemOther, Name: "Tray card"})
	require.NoError(t, err)

	require.NoError(t, engine.ResetSession(session.ID))

	view, err = engine.View(session.ID)
	require.NoError(t, err)
	assert.Len(t, view.Items, 2, "reviewer-added item is discarded by reset")
	require.Len(t, view.Annotations, 2)
	for _, ann := range view.Annotations {
		assert.False(t, ann.WasModified, "reset restores the machine boxes exactly")
		assert.False(t, ann.IsNew)
	}
}

// layerFingerprint reduces a session view to a shape that survives row-id
// churn: work rows are recreated on every reset, so entries are keyed by
// their initial-layer ancestors.
func layerFingerprint(t *testing.T, engine *Engine, sessionID uint) (map[uint]TrayItem, map[uint]datastore.BBox) {
	t.Helper()
	view, err := engine.View(sessionID)
	require.NoError(t, err)

	items := make(map[uint]TrayItem, len(view.Items))
	for _, item := range view.Items {
		require.NotNil(t, item.InitialItemID, "a freshly reset layer holds no reviewer-added items")
		item.ID = 0
		items[*item.InitialItemID] = item
	}
	boxes := make(map[uint]datastore.BBox, len(view.Annotations))
	for _, ann := range view.Annotations {
		require.NotNil(t, ann.InitialAnnotationID)
		boxes[*ann.InitialAnnotationID] = ann.BBox
	}
	return items, boxes
}

func TestResetSessionIsIdempotent(t *testing.T) {
	engine, ds := newTestEngine(t)
	rec := seedRecognition(t, ds, "validate_dishes", 3)
	seedTray(t, ds, rec)
	session, err := engine.CreateSession(rec.ID, "alice")
	require.NoError(t, err)

	view, err := engine.View(session.ID)
	require.NoError(t, err)
	moved := view.Annotations[0].BBox
	moved.X += 100
	_, err = engine.MutateAnnotation(view.Annotations[0].ID, AnnotationPatch{BBox: &moved})
	require.NoError(t, err)
	_, err = engine.AddItem(session.ID, datastore.WorkItem{Type: datastore.ItemOther, Name: "Tray card"})
	require.NoError(t, err)

	require.NoError(t, engine.ResetSession(session.ID))
	itemsOnce, boxesOnce := layerFingerprint(t, engine, session.ID)

	require.NoError(t, engine.ResetSession(session.ID))
	itemsTwice, boxesTwice := layerFingerprint(t, engine, session.ID)

	assert.Equal(t, itemsOnce, itemsTwice)
	assert.Equal(t, boxesOnce, boxesTwice)
}

func TestResetSessionRefusedWhenTerminal(t *testing.T) {
	engine, ds := newTestEngine(t)
	rec := seedRecognition(t, ds, "validate_dishes", 3)
	seedTray(t, ds, rec)
	session, err := engine.CreateSession(rec.ID, "alice")
	require.NoError(t, err)

	_, err = engine.CompleteStage(session.ID)
	require.NoError(t, err)

	err = engine.ResetSession(session.ID)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))
}
