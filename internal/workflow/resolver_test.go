package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/datastore"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/errors"
)

// seedAmbiguousDish sets up one food detection that the upstream matcher
// boxed three times for the same receipt line: two boxes on the same spot,
// one clearly elsewhere.
func seedAmbiguousDish(t *testing.T, engine *Engine, ds datastore.Interface) (*datastore.Recognition, *datastore.WorkSession) {
	t.Helper()
	rec := seedRecognition(t, ds, "validate_dishes", 3)
	dish := 1
	items := []datastore.InitialItem{
		{RecognitionID: rec.ID, Type: datastore.ItemFood, Name: "Soup of the day", Quantity: 1, DishIndex: &dish},
	}
	require.NoError(t, ds.CreateInitialItems(items))
	imageID := rec.Images[0].ID
	annotations := []datastore.InitialAnnotation{
		{ImageID: imageID, InitialItemID: &items[0].ID, Type: datastore.ItemFood, DishIndex: &dish,
			BBox: datastore.BBox{X: 5, Y: 5, W: 15, H: 15}},
		{ImageID: imageID, InitialItemID: &items[0].ID, Type: datastore.ItemFood, DishIndex: &dish,
			BBox: datastore.BBox{X: 5.4, Y: 4.8, W: 15, H: 15}},
		{ImageID: imageID, InitialItemID: &items[0].ID, Type: datastore.ItemFood, DishIndex: &dish,
			BBox: datastore.BBox{X: 50, Y: 50, W: 15, H: 15}},
	}
	require.NoError(t, ds.CreateInitialAnnotations(annotations))

	session, err := engine.CreateSession(rec.ID, "alice")
	require.NoError(t, err)
	return rec, session
}

func TestResolveAmbiguityCollapsesDuplicates(t *testing.T) {
	engine, ds := newTestEngine(t)
	_, session := seedAmbiguousDish(t, engine, ds)

	result, err := engine.ResolveAmbiguity(session.ID, 1, "Soup", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Groups, "two distinct coordinate groups")
	assert.Len(t, result.Kept, 2)
	assert.Len(t, result.Collapsed, 1)

	view, err := engine.View(session.ID)
	require.NoError(t, err)
	require.Len(t, view.Annotations, 2, "the duplicate is gone from the merged view")
	for _, ann := range view.Annotations {
		assert.Equal(t, "Soup", ann.ResolvedLabel)
	}

	// keeper is the earliest annotation of its group
	minKept := result.Kept[0]
	for _, id := range result.Kept {
		if id < minKept {
			minKept = id
		}
	}
	assert.Less(t, minKept, result.Collapsed[0])
	assert.NotContains(t, result.Kept, result.Collapsed[0])

	// the collapsed row survives as a soft-deleted audit record
	all, err := ds.GetWorkAnnotations(session.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// the owning food item carries the resolved label too
	items, err := ds.GetWorkItems(session.ID, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Metadata.Food)
	assert.Equal(t, "Soup", items[0].Metadata.Food.ResolvedLabel)
}

func TestResolveAmbiguityIsIdempotent(t *testing.T) {
	engine, ds := newTestEngine(t)
	_, session := seedAmbiguousDish(t, engine, ds)

	_, err := engine.ResolveAmbiguity(session.ID, 1, "Soup", nil)
	require.NoError(t, err)

	again, err := engine.ResolveAmbiguity(session.ID, 1, "Soup", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Groups)
	assert.Empty(t, again.Collapsed, "second pass finds nothing left to collapse")

	view, err := engine.View(session.ID)
	require.NoError(t, err)
	assert.Len(t, view.Annotations, 2)
}

func TestResolveAmbiguityGroupLabelOverride(t *testing.T) {
	engine, ds := newTestEngine(t)
	_, session := seedAmbiguousDish(t, engine, ds)

	// the far group is genuinely a different dish
	farKey := datastore.BBox{X: 50, Y: 50, W: 15, H: 15}.GroupKey(1.0)
	result, err := engine.ResolveAmbiguity(session.ID, 1, "Soup", map[string]string{farKey: "Salad"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Groups)

	view, err := engine.View(session.ID)
	require.NoError(t, err)
	labels := make(map[string]bool)
	for _, ann := range view.Annotations {
		labels[ann.ResolvedLabel] = true
	}
	assert.True(t, labels["Soup"])
	assert.True(t, labels["Salad"])
}

func TestResolveAmbiguityNoMatchingAnnotations(t *testing.T) {
	engine, ds := newTestEngine(t)
	_, session := seedAmbiguousDish(t, engine, ds)

	_, err := engine.ResolveAmbiguity(session.ID, 7, "Soup", nil)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestResolveAmbiguityRefusedOnTerminalSession(t *testing.T) {
	engine, ds := newTestEngine(t)
	_, session := seedAmbiguousDish(t, engine, ds)

	_, err := engine.ResolveAmbiguity(session.ID, 1, "Soup", nil)
	require.NoError(t, err)
	_, err = engine.CompleteStage(session.ID)
	require.NoError(t, err)

	_, err = engine.ResolveAmbiguity(session.ID, 1, "Stew", nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))
}
