package workflow

import (
	"fmt"
	"sync"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/datastore"
)

// EvalContext is the data a skip condition or completion check sees: the
// recognition, its camera views, and the effective (merged) items and
// annotations for the layer under evaluation.
type EvalContext struct {
	Recognition *datastore.Recognition
	Images      []datastore.Image
	Items       []TrayItem
	Annotations []AnnotationView
}

// annotationCountByType counts effective annotations per item type, resolved
// through the owning item.
func (ec EvalContext) annotationCountByType(t datastore.ItemType) int {
	itemTypes := make(map[uint]datastore.ItemType, len(ec.Items))
	for _, item := range ec.Items {
		itemTypes[item.ID] = item.Type
	}
	count := 0
	for _, ann := range ec.Annotations {
		if itemTypes[ann.WorkItemID] == t {
			count++
		}
	}
	return count
}

// SkipCondition decides whether a stage can be bypassed without reviewer
// interaction. True means skip.
type SkipCondition func(EvalContext) bool

// CompletionCheck is a predicate that must hold before a stage may be marked
// completed. A non-nil error describes the failing condition for the reviewer.
type CompletionCheck func(EvalContext) error

// Registry maps predicate names referenced by stage configuration to their
// implementations.
type Registry struct {
	mu     sync.RWMutex
	skips  map[string]SkipCondition
	checks map[string]CompletionCheck
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		skips:  make(map[string]SkipCondition),
		checks: make(map[string]CompletionCheck),
	}
}

// RegisterSkip adds or replaces a named skip condition.
func (r *Registry) RegisterSkip(name string, cond SkipCondition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skips[name] = cond
}

// RegisterCheck adds or replaces a named completion check.
func (r *Registry) RegisterCheck(name string, check CompletionCheck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = check
}

// Skip looks up a skip condition by name.
func (r *Registry) Skip(name string) (SkipCondition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cond, ok := r.skips[name]
	return cond, ok
}

// Check looks up a completion check by name.
func (r *Registry) Check(name string) (CompletionCheck, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	check, ok := r.checks[name]
	return check, ok
}

// DefaultRegistry returns the registry with the built-in predicates used by
// the standard pipeline.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	// A recognition without a buzzer-flagged event has no buzzers to review.
	r.RegisterSkip("no_buzzer_event", func(ec EvalContext) bool {
		return !ec.Recognition.HasBuzzerEvent
	})
	r.RegisterSkip("no_bottle_detections", func(ec EvalContext) bool {
		return ec.annotationCountByType(datastore.ItemBottle) == 0
	})
	r.RegisterSkip("no_plate_detections", func(ec EvalContext) bool {
		return ec.annotationCountByType(datastore.ItemPlate) == 0
	})
	r.RegisterSkip("no_nonfood_detections", func(ec EvalContext) bool {
		return ec.annotationCountByType(datastore.ItemOther) == 0
	})

	r.RegisterCheck("every_item_annotated", func(ec EvalContext) error {
		annotated := make(map[uint]bool, len(ec.Annotations))
		for _, ann := range ec.Annotations {
			annotated[ann.WorkItemID] = true
		}
		for _, item := range ec.Items {
			if !annotated[item.ID] {
				return fmt.Errorf("item %q (#%d) has no annotation", item.Name, item.ID)
			}
		}
		return nil
	})
	r.RegisterCheck("buzzer_annotation_present", func(ec EvalContext) error {
		if ec.annotationCountByType(datastore.ItemBuzzer) == 0 {
			return fmt.Errorf("no buzzer annotation present")
		}
		return nil
	})

	return r
}
