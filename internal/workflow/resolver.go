package workflow

import (
	"sort"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/datastore"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/errors"
)

// ResolveResult reports what ambiguity resolution did.
type ResolveResult struct {
	Groups    int    `json:"groups"`    // distinct coordinate groups found
	Kept      []uint `json:"kept"`      // surviving annotation ids, one per group
	Collapsed []uint `json:"collapsed"` // soft-deleted duplicate ids
}

// ResolveAmbiguity collapses duplicate dish detections sharing a dish index.
// Annotations whose boxes quantize to the same coordinate key describe the
// same physical detection: the first by creation order survives, the rest are
// soft-deleted. Every survivor gets the chosen label; groupLabels overrides
// the label per coordinate key for the distinct-objects edge case. The whole
// operation is transactional and idempotent.
func (e *Engine) ResolveAmbiguity(sessionID uint, dishIndex int, chosenLabel string, groupLabels map[string]string) (*ResolveResult, error) {
	session, err := e.ds.GetWorkSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != datastore.SessionInProgress {
		return nil, errors.Newf("session %d is %s, ambiguity cannot be resolved", sessionID, session.Status).
			Component("workflow").
			Category(errors.CategoryInvalidState).
			Build()
	}

	items, err := e.ds.GetWorkItems(sessionID, false)
	if err != nil {
		return nil, err
	}
	itemType := make(map[uint]datastore.ItemType, len(items))
	itemByID := make(map[uint]*datastore.WorkItem, len(items))
	for i := range items {
		itemType[items[i].ID] = items[i].Type
		itemByID[items[i].ID] = &items[i]
	}

	annotations, err := e.ds.GetWorkAnnotations(sessionID, false)
	if err != nil {
		return nil, err
	}

	// Dish annotations carrying the requested index, grouped by box corners.
	tolerance := e.tolerance()
	groups := make(map[string][]*datastore.WorkAnnotation)
	keys := make([]string, 0)
	for i := range annotations {
		ann := &annotations[i]
		if ann.DishIndex == nil || *ann.DishIndex != dishIndex {
			continue
		}
		if itemType[ann.WorkItemID] != datastore.ItemFood {
			continue
		}
		key := ann.BBox.GroupKey(tolerance)
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], ann)
	}
	if len(groups) == 0 {
		return nil, errors.Newf("no dish annotations with index %d in session %d", dishIndex, sessionID).
			Component("workflow").
			Category(errors.CategoryNotFound).
			Build()
	}
	sort.Strings(keys)

	result := &ResolveResult{Groups: len(groups)}
	err = e.ds.Transaction(func(tx datastore.Interface) error {
		for _, key := range keys {
			group := groups[key]
			// creation order; GetWorkAnnotations returns id ASC already
			sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })

			label := chosenLabel
			if override, ok := groupLabels[key]; ok {
				label = override
			}

			keeper := group[0]
			keeper.ResolvedLabel = label
			if err := tx.SaveWorkAnnotation(keeper); err != nil {
				return err
			}
			result.Kept = append(result.Kept, keeper.ID)

			if item := itemByID[keeper.WorkItemID]; item != nil && item.Type == datastore.ItemFood {
				if item.Metadata.Food == nil {
					item.Metadata.Food = &datastore.FoodMetadata{}
				}
				item.Metadata.Food.ResolvedLabel = label
				if err := tx.SaveWorkItem(item); err != nil {
					return err
				}
			}

			for _, dup := range group[1:] {
				dup.IsDeleted = true
				if err := tx.SaveWorkAnnotation(dup); err != nil {
					return err
				}
				result.Collapsed = append(result.Collapsed, dup.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("ambiguity resolved",
		"session_id", sessionID,
		"dish_index", dishIndex,
		"label", chosenLabel,
		"groups", result.Groups,
		"collapsed", len(result.Collapsed))
	return result, nil
}
