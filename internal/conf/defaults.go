// defaults.go: default configuration values applied before any config file.
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default engine constants. The lease duration matches the upstream system's
// 15-minute soft lease; the bbox tolerance keeps floating-point noise from
// flagging boxes as modified.
const (
	DefaultLeaseDuration = 15 * time.Minute
	DefaultMaxSkipDepth  = 10
	DefaultBBoxTolerance = 1.0
)

func setDefaultConfig() {
	viper.SetDefault("main.name", "trayvalidation")
	viper.SetDefault("main.debug", false)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "trayvalidation.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "trayvalidation")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "trayvalidation")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("web.enabled", true)
	viper.SetDefault("web.port", "8080")

	viper.SetDefault("validation.leaseduration", DefaultLeaseDuration)
	viper.SetDefault("validation.maxskipdepth", DefaultMaxSkipDepth)
	viper.SetDefault("validation.bboxtolerance", DefaultBBoxTolerance)
	viper.SetDefault("validation.autoassign", false)
}

// defaultStages returns the standard validation pipeline of the annotation
// tool. Order matters: recognitions advance through these stages front to
// back.
func defaultStages() []StageSettings {
	return []StageSettings{
		{
			ID:           "validate_dishes",
			Name:         "Dish validation against receipt",
			Required:     true,
			AllowDrawing: true,
			NonSkippable: true,
			Checks:       []string{"every_item_annotated"},
		},
		{
			ID:           "validate_plates",
			Name:         "Plate validation",
			Required:     false,
			AllowDrawing: false,
		},
		{
			ID:            "validate_buzzers",
			Name:          "Buzzer validation",
			Required:      false,
			AllowDrawing:  true,
			SkipCondition: "no_buzzer_event",
			Checks:        []string{"buzzer_annotation_present"},
		},
		{
			ID:            "validate_bottles",
			Name:          "Bottle orientation",
			Required:      false,
			AllowDrawing:  true,
			SkipCondition: "no_bottle_detections",
		},
		{
			ID:            "validate_nonfood",
			Name:          "Other objects",
			Required:      false,
			AllowDrawing:  true,
			SkipCondition: "no_nonfood_detections",
		},
	}
}

// DefaultStages exposes the built-in pipeline, mainly for tests and for
// seeding a config file.
func DefaultStages() []StageSettings {
	return defaultStages()
}
