package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validTestSettings() *Settings {
	return &Settings{
		Output: OutputSettings{
			SQLite: SQLiteSettings{Enabled: true, Path: "test.db"},
		},
		Validation: ValidationSettings{
			LeaseDuration: DefaultLeaseDuration,
			MaxSkipDepth:  DefaultMaxSkipDepth,
			BBoxTolerance: DefaultBBoxTolerance,
			Stages:        defaultStages(),
		},
	}
}

func TestValidateSettingsAcceptsDefaults(t *testing.T) {
	require.NoError(t, validateSettings(validTestSettings()))
}

func TestValidateSettingsRejectsNoOutput(t *testing.T) {
	s := validTestSettings()
	s.Output.SQLite.Enabled = false
	assert.Error(t, validateSettings(s))
}

func TestValidateSettingsRejectsBadLease(t *testing.T) {
	s := validTestSettings()
	s.Validation.LeaseDuration = 0
	assert.Error(t, validateSettings(s))

	s = validTestSettings()
	s.Validation.LeaseDuration = -time.Minute
	assert.Error(t, validateSettings(s))
}

func TestValidateSettingsRejectsDuplicateStageIDs(t *testing.T) {
	s := validTestSettings()
	s.Validation.Stages = append(s.Validation.Stages, StageSettings{ID: "validate_dishes"})
	assert.Error(t, validateSettings(s))
}

func TestValidateSettingsRejectsEmptyStageID(t *testing.T) {
	s := validTestSettings()
	s.Validation.Stages = append(s.Validation.Stages, StageSettings{Name: "anonymous"})
	assert.Error(t, validateSettings(s))
}

func TestDefaultStagesPipeline(t *testing.T) {
	stages := DefaultStages()
	require.Len(t, stages, 5)

	ids := make([]string, len(stages))
	for i, stage := range stages {
		ids[i] = stage.ID
	}
	assert.Equal(t, []string{
		"validate_dishes",
		"validate_plates",
		"validate_buzzers",
		"validate_bottles",
		"validate_nonfood",
	}, ids)

	first := stages[0]
	assert.True(t, first.Required)
	assert.True(t, first.NonSkippable, "the dish stage cannot be bypassed")
	assert.Contains(t, first.Checks, "every_item_annotated")
	assert.Empty(t, first.SkipCondition)

	buzzers := stages[2]
	assert.Equal(t, "no_buzzer_event", buzzers.SkipCondition)
	assert.Contains(t, buzzers.Checks, "buzzer_annotation_present")
}

func TestSaveYAMLRoundTrip(t *testing.T) {
	s := validTestSettings()
	s.Main.Name = "night-shift"
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, s.SaveYAML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var loaded Settings
	require.NoError(t, yaml.Unmarshal(data, &loaded))
	assert.Equal(t, "night-shift", loaded.Main.Name)
	assert.Equal(t, s.Validation.LeaseDuration, loaded.Validation.LeaseDuration)
	require.Len(t, loaded.Validation.Stages, len(s.Validation.Stages))
	assert.Equal(t, "validate_dishes", loaded.Validation.Stages[0].ID)
}

func TestStageLookups(t *testing.T) {
	s := validTestSettings()

	stage := s.StageByID("validate_bottles")
	require.NotNil(t, stage)
	assert.Equal(t, "no_bottle_detections", stage.SkipCondition)
	assert.Nil(t, s.StageByID("validate_unicorns"))

	assert.Equal(t, 0, s.StageIndex("validate_dishes"))
	assert.Equal(t, 4, s.StageIndex("validate_nonfood"))
	assert.Equal(t, -1, s.StageIndex("validate_unicorns"))
}
