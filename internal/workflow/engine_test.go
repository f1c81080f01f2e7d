package workflow

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/conf"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/datastore"
)

// testTime is the fixed instant injected into engines under test.
var testTime = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	return &conf.Settings{
		Output: conf.OutputSettings{
			SQLite: conf.SQLiteSettings{
				Enabled: true,
				Path:    filepath.Join(t.TempDir(), "test.db"),
			},
		},
		Validation: conf.ValidationSettings{
			LeaseDuration: conf.DefaultLeaseDuration,
			MaxSkipDepth:  conf.DefaultMaxSkipDepth,
			BBoxTolerance: conf.DefaultBBoxTolerance,
			Stages:        conf.DefaultStages(),
		},
	}
}

// newTestEngine opens a fresh SQLite-backed engine with a frozen clock.
func newTestEngine(t *testing.T) (*Engine, datastore.Interface) {
	t.Helper()
	settings := testSettings(t)
	store := datastore.New(settings)
	require.NotNil(t, store)
	require.NoError(t, store.Open())
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	engine := New(store, settings)
	engine.now = func() time.Time { return testTime }
	return engine, store
}

func seedRecognition(t *testing.T, ds datastore.Interface, stageID string, tier int) *datastore.Recognition {
	t.Helper()
	rec := &datastore.Recognition{
		ExternalID:      uuid.NewString(),
		RecognitionDate: testTime.Add(-24 * time.Hour),
		Tier:            tier,
		WorkflowState:   datastore.StatePending,
		CurrentStageID:  stageID,
		Images:          []datastore.Image{{CameraNumber: 1}},
	}
	require.NoError(t, ds.SaveRecognition(rec))
	require.NotZero(t, rec.ID)
	require.NotZero(t, rec.Images[0].ID)
	return rec
}

// seedTray attaches one food and one plate detection with one box each.
func seedTray(t *testing.T, ds datastore.Interface, rec *datastore.Recognition) (food, plate datastore.InitialItem) {
	t.Helper()
	dish := 1
	items := []datastore.InitialItem{
		{RecognitionID: rec.ID, Type: datastore.ItemFood, Name: "Borscht", Quantity: 1, DishIndex: &dish},
		{RecognitionID: rec.ID, Type: datastore.ItemPlate, Name: "Plate", Quantity: 1},
	}
	require.NoError(t, ds.CreateInitialItems(items))

	imageID := rec.Images[0].ID
	annotations := []datastore.InitialAnnotation{
		{ImageID: imageID, InitialItemID: &items[0].ID, Type: datastore.ItemFood, DishIndex: &dish,
			BBox: datastore.BBox{X: 0, Y: 0, W: 10, H: 10}},
		{ImageID: imageID, InitialItemID: &items[1].ID, Type: datastore.ItemPlate,
			BBox: datastore.BBox{X: 20, Y: 20, W: 10, H: 10}},
	}
	require.NoError(t, ds.CreateInitialAnnotations(annotations))
	return items[0], items[1]
}

// seedCompletedStages records a terminal session with the given stages
// completed, the way a recognition seeded mid-pipeline would carry history.
func seedCompletedStages(t *testing.T, ds datastore.Interface, rec *datastore.Recognition, stageIDs ...string) {
	t.Helper()
	steps := make(datastore.StepOutcomes, 0, len(stageIDs))
	for _, id := range stageIDs {
		steps = append(steps, datastore.StepOutcome{StageID: id, Status: datastore.StepCompleted})
	}
	done := testTime
	session := &datastore.WorkSession{
		SessionUUID:   uuid.NewString(),
		RecognitionID: rec.ID,
		StageID:       stageIDs[len(stageIDs)-1],
		Status:        datastore.SessionCompleted,
		Steps:         steps,
		CompletedAt:   &done,
	}
	require.NoError(t, ds.CreateWorkSession(session))
}

// seedBottle attaches one bottle detection to an existing recognition.
func seedBottle(t *testing.T, ds datastore.Interface, rec *datastore.Recognition) datastore.InitialItem {
	t.Helper()
	items := []datastore.InitialItem{
		{RecognitionID: rec.ID, Type: datastore.ItemBottle, Name: "Water bottle", Quantity: 1},
	}
	require.NoError(t, ds.CreateInitialItems(items))
	annotations := []datastore.InitialAnnotation{
		{ImageID: rec.Images[0].ID, InitialItemID: &items[0].ID, Type: datastore.ItemBottle,
			BBox: datastore.BBox{X: 40, Y: 5, W: 8, H: 24}},
	}
	require.NoError(t, ds.CreateInitialAnnotations(annotations))
	return items[0]
}
