package datastore

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// SnapshotStore provides read access to the immutable initial layer of a
// recognition. Initial entities never change after ingestion, so results are
// cached and never invalidated; the TTL only bounds memory on long-running
// processes.
type SnapshotStore struct {
	ds    Interface
	cache *cache.Cache
}

const (
	snapshotCacheTTL     = 1 * time.Hour
	snapshotCacheCleanup = 10 * time.Minute
)

// NewSnapshotStore wraps a store with a read-through cache for initial data.
func NewSnapshotStore(ds Interface) *SnapshotStore {
	return &SnapshotStore{
		ds:    ds,
		cache: cache.New(snapshotCacheTTL, snapshotCacheCleanup),
	}
}

// InitialItems returns the immutable items of a recognition. An empty result
// means there is nothing to clone, not a failure.
func (ss *SnapshotStore) InitialItems(recognitionID uint) ([]InitialItem, error) {
	key := fmt.Sprintf("items:%d", recognitionID)
	if cached, found := ss.cache.Get(key); found {
		return cached.([]InitialItem), nil
	}
	items, err := ss.ds.GetInitialItems(recognitionID)
	if err != nil {
		return nil, err
	}
	ss.cache.Set(key, items, cache.DefaultExpiration)
	return items, nil
}

// InitialAnnotations returns the immutable annotations on the given images.
func (ss *SnapshotStore) InitialAnnotations(imageIDs []uint) ([]InitialAnnotation, error) {
	key := "annotations:"
	for _, id := range imageIDs {
		key += fmt.Sprintf("%d,", id)
	}
	if cached, found := ss.cache.Get(key); found {
		return cached.([]InitialAnnotation), nil
	}
	annotations, err := ss.ds.GetInitialAnnotations(imageIDs)
	if err != nil {
		return nil, err
	}
	ss.cache.Set(key, annotations, cache.DefaultExpiration)
	return annotations, nil
}

// Images returns the camera views of a recognition.
func (ss *SnapshotStore) Images(recognitionID uint) ([]Image, error) {
	key := fmt.Sprintf("images:%d", recognitionID)
	if cached, found := ss.cache.Get(key); found {
		return cached.([]Image), nil
	}
	images, err := ss.ds.GetImages(recognitionID)
	if err != nil {
		return nil, err
	}
	ss.cache.Set(key, images, cache.DefaultExpiration)
	return images, nil
}

// RecipeLines returns the receipt lines of a recognition.
func (ss *SnapshotStore) RecipeLines(recognitionID uint) ([]RecipeLine, error) {
	key := fmt.Sprintf("recipe:%d", recognitionID)
	if cached, found := ss.cache.Get(key); found {
		return cached.([]RecipeLine), nil
	}
	lines, err := ss.ds.GetRecipeLines(recognitionID)
	if err != nil {
		return nil, err
	}
	ss.cache.Set(key, lines, cache.DefaultExpiration)
	return lines, nil
}
