// config.go: settings struct and loading for the tray validation service.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/errors"
)

// MainSettings contains general application settings.
type MainSettings struct {
	Name  string // instance name, used in logs
	Debug bool   // true to enable debug logging
}

// SQLiteSettings contains settings for the SQLite store.
type SQLiteSettings struct {
	Enabled bool
	Path    string // path to the database file
}

// MySQLSettings contains settings for the MySQL store.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// OutputSettings selects the backing store.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// StageSettings defines one named, ordered validation step.
type StageSettings struct {
	ID            string   // stable stage id, e.g. "validate_dishes"
	Name          string   // display name
	Required      bool     // required stages gate recognition completion
	AllowDrawing  bool     // whether reviewers may draw new boxes in this stage
	NonSkippable  bool     // explicit reviewer skip is refused
	SkipCondition string   // registered predicate name, empty means never auto-skip
	Checks        []string // registered completion check names
}

// WebSettings contains settings for the HTTP API surface.
type WebSettings struct {
	Enabled bool
	Port    string
}

// ValidationSettings contains the workflow engine knobs.
type ValidationSettings struct {
	LeaseDuration time.Duration // how long a reviewer may hold a unit before lazy reclamation
	MaxSkipDepth  int           // bound on consecutive auto-skipped stages per lease
	BBoxTolerance float64       // pixel tolerance for modified/duplicate bbox comparison
	AutoAssign    bool          // flip workflow state to in_progress at lease time
	Stages        []StageSettings
}

// Settings contains all application settings.
type Settings struct {
	Main       MainSettings
	Output     OutputSettings
	Web        WebSettings
	Validation ValidationSettings
}

// Load reads the configuration into a new Settings instance. The config file
// is optional; defaults cover a runnable SQLite setup with the standard
// pipeline.
func Load() (*Settings, error) {
	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if len(settings.Validation.Stages) == 0 {
		settings.Validation.Stages = defaultStages()
	}
	if err := validateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return err
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("TRAYVAL")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
		// no config file is fine, defaults apply
	}
	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user directory: %w", err)
	}
	return []string{
		".",
		filepath.Join(homeDir, ".config", "trayvalidation"),
		"/etc/trayvalidation",
	}, nil
}

// SaveYAML writes the current settings to the given path, for bootstrapping a
// config file from defaults.
func (s *Settings) SaveYAML(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("error marshaling settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// StageByID returns the stage definition with the given id, or nil.
func (s *Settings) StageByID(id string) *StageSettings {
	for i := range s.Validation.Stages {
		if s.Validation.Stages[i].ID == id {
			return &s.Validation.Stages[i]
		}
	}
	return nil
}

// StageIndex returns the pipeline position of the given stage id, or -1.
func (s *Settings) StageIndex(id string) int {
	for i := range s.Validation.Stages {
		if s.Validation.Stages[i].ID == id {
			return i
		}
	}
	return -1
}

func validateSettings(s *Settings) error {
	if !s.Output.SQLite.Enabled && !s.Output.MySQL.Enabled {
		return errors.Newf("no database output enabled, enable either sqlite or mysql").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.Validation.LeaseDuration <= 0 {
		return errors.Newf("validation.leaseduration must be positive, got %s", s.Validation.LeaseDuration).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.Validation.MaxSkipDepth <= 0 {
		return errors.Newf("validation.maxskipdepth must be positive, got %d", s.Validation.MaxSkipDepth).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	seen := make(map[string]bool, len(s.Validation.Stages))
	for _, stage := range s.Validation.Stages {
		if stage.ID == "" {
			return errors.Newf("stage with empty id in pipeline").
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
		if seen[stage.ID] {
			return errors.Newf("duplicate stage id %q in pipeline", stage.ID).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
		seen[stage.ID] = true
	}
	return nil
}
