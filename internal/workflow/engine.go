// Package workflow implements the validation workflow engine: the stage state
// machine, the layered initial/work data model with merged session views,
// duplicate-detection collapse, declarative skip conditions and timeout-based
// task leasing.
package workflow

import (
	"log/slog"
	"time"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/conf"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/datastore"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/logging"
)

// Engine ties the workflow components to one datastore. All multi-step
// mutations run inside a single store transaction; concurrency control is
// delegated to the backing store, the engine holds no cross-request locks.
type Engine struct {
	ds        datastore.Interface
	snapshots *datastore.SnapshotStore
	settings  *conf.Settings
	registry  *Registry
	now       func() time.Time
	log       *slog.Logger
}

// New creates a workflow engine on top of an opened datastore.
func New(ds datastore.Interface, settings *conf.Settings) *Engine {
	return &Engine{
		ds:        ds,
		snapshots: datastore.NewSnapshotStore(ds),
		settings:  settings,
		registry:  DefaultRegistry(),
		now:       time.Now,
		log:       logging.ForService("workflow"),
	}
}

// Registry returns the predicate registry so callers can add custom skip
// conditions or completion checks before serving traffic.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Stages returns the configured pipeline in order.
func (e *Engine) Stages() []conf.StageSettings {
	return e.settings.Validation.Stages
}

// stageByID returns the pipeline stage with the given id, or nil.
func (e *Engine) stageByID(id string) *conf.StageSettings {
	return e.settings.StageByID(id)
}

// stageIndex returns the pipeline position of a stage id, or -1.
func (e *Engine) stageIndex(id string) int {
	return e.settings.StageIndex(id)
}

// tolerance is the bbox comparison tolerance shared by was_modified
// computation and duplicate grouping.
func (e *Engine) tolerance() float64 {
	if e.settings.Validation.BBoxTolerance > 0 {
		return e.settings.Validation.BBoxTolerance
	}
	return conf.DefaultBBoxTolerance
}
