// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/conf"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/errors"
)

// LeaseQuery describes one leaseNext selection. Reclamation is lazy: a unit
// whose lease stamp predates ReclaimBefore is eligible again regardless of
// its assignee.
type LeaseQuery struct {
	StageID       string
	States        []WorkflowState
	TierMin       int
	TierMax       int
	AssignedTo    string // non-empty restricts to pre-assigned work for that reviewer
	ReclaimBefore time.Time
}

// Interface defines the database operations used by the workflow engine.
type Interface interface {
	Open() error
	Close() error
	// Transaction runs fn against a store bound to one database transaction.
	// Any error from fn rolls the whole transaction back, so multi-step
	// mutations leave either the pre-state or the fully applied post-state.
	Transaction(fn func(Interface) error) error

	// recognitions
	GetRecognition(id uint) (*Recognition, error)
	GetRecognitionByExternalID(externalID string) (*Recognition, error)
	SaveRecognition(rec *Recognition) error
	SelectLeasable(q LeaseQuery) (*Recognition, error)

	// immutable snapshot reads
	GetInitialItems(recognitionID uint) ([]InitialItem, error)
	GetInitialAnnotations(imageIDs []uint) ([]InitialAnnotation, error)
	GetInitialAnnotationsByIDs(ids []uint) ([]InitialAnnotation, error)
	GetImages(recognitionID uint) ([]Image, error)
	GetRecipeLines(recognitionID uint) ([]RecipeLine, error)
	CreateInitialItems(items []InitialItem) error
	CreateInitialAnnotations(annotations []InitialAnnotation) error

	// work sessions
	CreateWorkSession(session *WorkSession) error
	GetWorkSession(id uint) (*WorkSession, error)
	GetActiveWorkSession(recognitionID uint, stageID string) (*WorkSession, error)
	GetLatestTerminalSession(recognitionID uint) (*WorkSession, error)
	SaveWorkSession(session *WorkSession) error
	DeleteRecognitionWorkData(recognitionID uint) error

	// work layer
	CreateWorkItems(items []WorkItem) error
	CreateWorkAnnotations(annotations []WorkAnnotation) error
	GetWorkItems(sessionID uint, includeDeleted bool) ([]WorkItem, error)
	GetWorkAnnotations(sessionID uint, includeDeleted bool) ([]WorkAnnotation, error)
	GetWorkItem(id uint) (*WorkItem, error)
	GetWorkAnnotation(id uint) (*WorkAnnotation, error)
	SaveWorkItem(item *WorkItem) error
	SaveWorkAnnotation(annotation *WorkAnnotation) error
	DeleteWorkLayer(sessionID uint) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new store instance based on the provided settings.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// Transaction wraps fn in a database transaction, handing it a store bound to
// the transaction connection.
func (ds *DataStore) Transaction(fn func(Interface) error) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		return fn(&txStore{DataStore{DB: tx}})
	})
}

// txStore is a DataStore already bound to an open transaction. Nesting
// reuses the same connection; GORM's savepoint support is not relied on.
type txStore struct {
	DataStore
}

func (ts *txStore) Transaction(fn func(Interface) error) error {
	return fn(ts)
}

func (ts *txStore) Open() error  { return nil }
func (ts *txStore) Close() error { return nil }

// GetRecognition retrieves a recognition by its primary key.
func (ds *DataStore) GetRecognition(id uint) (*Recognition, error) {
	var rec Recognition
	if err := ds.DB.Preload("Images").Preload("RecipeLines.Options").First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("recognition", fmt.Sprintf("%d", id))
		}
		return nil, dbError(err, "get_recognition", "", "recognition_id", id)
	}
	return &rec, nil
}

// GetRecognitionByExternalID retrieves a recognition by its stable external id.
func (ds *DataStore) GetRecognitionByExternalID(externalID string) (*Recognition, error) {
	var rec Recognition
	err := ds.DB.Preload("Images").Preload("RecipeLines.Options").
		Where("external_id = ?", externalID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("recognition", externalID)
		}
		return nil, dbError(err, "get_recognition_by_external_id", "", "external_id", externalID)
	}
	return &rec, nil
}

// SaveRecognition persists a recognition, creating or updating as needed.
func (ds *DataStore) SaveRecognition(rec *Recognition) error {
	if err := ds.DB.Save(rec).Error; err != nil {
		return dbError(err, "save_recognition", "", "recognition_id", rec.ID)
	}
	return nil
}

// SelectLeasable picks the next leasable recognition: requested states and
// stage, tier within range, and either unassigned or with an expired lease
// stamp. Easier tiers first, newest recognitions break ties.
func (ds *DataStore) SelectLeasable(q LeaseQuery) (*Recognition, error) {
	tierMin, tierMax := q.TierMin, q.TierMax
	if tierMin == 0 {
		tierMin = TierMin
	}
	if tierMax == 0 {
		tierMax = TierMax
	}

	query := ds.DB.Where("workflow_state IN ?", q.States).
		Where("current_stage_id = ?", q.StageID).
		Where("tier BETWEEN ? AND ?", tierMin, tierMax)

	if q.AssignedTo != "" {
		query = query.Where("assigned_to = ?", q.AssignedTo)
	} else {
		query = query.Where("assigned_to = '' OR started_at IS NULL OR started_at < ?", q.ReclaimBefore)
	}

	var rec Recognition
	err := query.Order("tier ASC").Order("recognition_date DESC").First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("leasable recognition", q.StageID)
		}
		return nil, dbError(err, "select_leasable", "", "stage_id", q.StageID)
	}
	return &rec, nil
}

// GetInitialItems returns the immutable items of a recognition. An empty
// result is not an error.
func (ds *DataStore) GetInitialItems(recognitionID uint) ([]InitialItem, error) {
	var items []InitialItem
	if err := ds.DB.Where("recognition_id = ?", recognitionID).Order("id ASC").Find(&items).Error; err != nil {
		return nil, dbError(err, "get_initial_items", "", "recognition_id", recognitionID)
	}
	return items, nil
}

// GetInitialAnnotations returns the immutable annotations on the given images.
func (ds *DataStore) GetInitialAnnotations(imageIDs []uint) ([]InitialAnnotation, error) {
	if len(imageIDs) == 0 {
		return nil, nil
	}
	var annotations []InitialAnnotation
	if err := ds.DB.Where("image_id IN ?", imageIDs).Order("id ASC").Find(&annotations).Error; err != nil {
		return nil, dbError(err, "get_initial_annotations", "", "image_count", len(imageIDs))
	}
	return annotations, nil
}

// GetInitialAnnotationsByIDs fetches specific initial annotations, used to
// compare work boxes against their clone sources.
func (ds *DataStore) GetInitialAnnotationsByIDs(ids []uint) ([]InitialAnnotation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var annotations []InitialAnnotation
	if err := ds.DB.Where("id IN ?", ids).Find(&annotations).Error; err != nil {
		return nil, dbError(err, "get_initial_annotations_by_ids", "", "id_count", len(ids))
	}
	return annotations, nil
}

// GetImages returns the camera views of a recognition ordered by camera number.
func (ds *DataStore) GetImages(recognitionID uint) ([]Image, error) {
	var images []Image
	if err := ds.DB.Where("recognition_id = ?", recognitionID).Order("camera_number ASC").Find(&images).Error; err != nil {
		return nil, dbError(err, "get_images", "", "recognition_id", recognitionID)
	}
	return images, nil
}

// GetRecipeLines returns the receipt lines of a recognition with their options.
func (ds *DataStore) GetRecipeLines(recognitionID uint) ([]RecipeLine, error) {
	var lines []RecipeLine
	if err := ds.DB.Preload("Options").Where("recognition_id = ?", recognitionID).Order("id ASC").Find(&lines).Error; err != nil {
		return nil, dbError(err, "get_recipe_lines", "", "recognition_id", recognitionID)
	}
	return lines, nil
}

// CreateInitialItems inserts snapshot items in one batch (ingestion path).
func (ds *DataStore) CreateInitialItems(items []InitialItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := ds.DB.Create(&items).Error; err != nil {
		return dbError(err, "create_initial_items", "", "count", len(items))
	}
	return nil
}

// CreateInitialAnnotations inserts snapshot annotations in one batch.
func (ds *DataStore) CreateInitialAnnotations(annotations []InitialAnnotation) error {
	if len(annotations) == 0 {
		return nil
	}
	if err := ds.DB.Create(&annotations).Error; err != nil {
		return dbError(err, "create_initial_annotations", "", "count", len(annotations))
	}
	return nil
}

// CreateWorkSession inserts a new work session.
func (ds *DataStore) CreateWorkSession(session *WorkSession) error {
	if err := ds.DB.Create(session).Error; err != nil {
		return dbError(err, "create_work_session", "", "recognition_id", session.RecognitionID)
	}
	return nil
}

// GetWorkSession retrieves a work session by its primary key.
func (ds *DataStore) GetWorkSession(id uint) (*WorkSession, error) {
	var session WorkSession
	if err := ds.DB.First(&session, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("work session", fmt.Sprintf("%d", id))
		}
		return nil, dbError(err, "get_work_session", "", "session_id", id)
	}
	return &session, nil
}

// GetActiveWorkSession returns the non-terminal session for a recognition and
// stage, or a not-found error. At most one such session exists by contract.
func (ds *DataStore) GetActiveWorkSession(recognitionID uint, stageID string) (*WorkSession, error) {
	var session WorkSession
	err := ds.DB.Where("recognition_id = ? AND stage_id = ? AND status = ?",
		recognitionID, stageID, SessionInProgress).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("active work session", fmt.Sprintf("%d/%s", recognitionID, stageID))
		}
		return nil, dbError(err, "get_active_work_session", "", "recognition_id", recognitionID)
	}
	return &session, nil
}

// GetLatestTerminalSession returns the most recently completed session for a
// recognition, used to carry step outcomes forward into the next stage.
func (ds *DataStore) GetLatestTerminalSession(recognitionID uint) (*WorkSession, error) {
	var session WorkSession
	err := ds.DB.Where("recognition_id = ? AND status = ?", recognitionID, SessionCompleted).
		Order("id DESC").First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("terminal work session", fmt.Sprintf("%d", recognitionID))
		}
		return nil, dbError(err, "get_latest_terminal_session", "", "recognition_id", recognitionID)
	}
	return &session, nil
}

// SaveWorkSession persists session changes.
func (ds *DataStore) SaveWorkSession(session *WorkSession) error {
	if err := ds.DB.Save(session).Error; err != nil {
		return dbError(err, "save_work_session", "", "session_id", session.ID)
	}
	return nil
}

// DeleteRecognitionWorkData removes all sessions, work items and work
// annotations of a recognition, children before parents, in one transaction.
// Initial entities are never touched.
func (ds *DataStore) DeleteRecognitionWorkData(recognitionID uint) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id IN (?)",
			tx.Model(&WorkSession{}).Select("id").Where("recognition_id = ?", recognitionID),
		).Delete(&WorkAnnotation{}).Error; err != nil {
			return dbError(err, "delete_work_annotations", errors.PriorityHigh, "recognition_id", recognitionID)
		}
		if err := tx.Where("recognition_id = ?", recognitionID).Delete(&WorkItem{}).Error; err != nil {
			return dbError(err, "delete_work_items", errors.PriorityHigh, "recognition_id", recognitionID)
		}
		if err := tx.Where("recognition_id = ?", recognitionID).Delete(&WorkSession{}).Error; err != nil {
			return dbError(err, "delete_work_sessions", errors.PriorityHigh, "recognition_id", recognitionID)
		}
		return nil
	})
}

// CreateWorkItems inserts work items in one batch.
func (ds *DataStore) CreateWorkItems(items []WorkItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := ds.DB.Create(&items).Error; err != nil {
		return dbError(err, "create_work_items", "", "count", len(items))
	}
	return nil
}

// CreateWorkAnnotations inserts work annotations in one batch.
func (ds *DataStore) CreateWorkAnnotations(annotations []WorkAnnotation) error {
	if len(annotations) == 0 {
		return nil
	}
	if err := ds.DB.Create(&annotations).Error; err != nil {
		return dbError(err, "create_work_annotations", "", "count", len(annotations))
	}
	return nil
}

// GetWorkItems returns the work items of a session ordered by creation.
func (ds *DataStore) GetWorkItems(sessionID uint, includeDeleted bool) ([]WorkItem, error) {
	query := ds.DB.Where("session_id = ?", sessionID)
	if !includeDeleted {
		query = query.Where("is_deleted = ?", false)
	}
	var items []WorkItem
	if err := query.Order("id ASC").Find(&items).Error; err != nil {
		return nil, dbError(err, "get_work_items", "", "session_id", sessionID)
	}
	return items, nil
}

// GetWorkAnnotations returns the work annotations of a session ordered by creation.
func (ds *DataStore) GetWorkAnnotations(sessionID uint, includeDeleted bool) ([]WorkAnnotation, error) {
	query := ds.DB.Where("session_id = ?", sessionID)
	if !includeDeleted {
		query = query.Where("is_deleted = ?", false)
	}
	var annotations []WorkAnnotation
	if err := query.Order("id ASC").Find(&annotations).Error; err != nil {
		return nil, dbError(err, "get_work_annotations", "", "session_id", sessionID)
	}
	return annotations, nil
}

// GetWorkItem retrieves a single work item.
func (ds *DataStore) GetWorkItem(id uint) (*WorkItem, error) {
	var item WorkItem
	if err := ds.DB.First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("work item", fmt.Sprintf("%d", id))
		}
		return nil, dbError(err, "get_work_item", "", "item_id", id)
	}
	return &item, nil
}

// GetWorkAnnotation retrieves a single work annotation.
func (ds *DataStore) GetWorkAnnotation(id uint) (*WorkAnnotation, error) {
	var annotation WorkAnnotation
	if err := ds.DB.First(&annotation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("work annotation", fmt.Sprintf("%d", id))
		}
		return nil, dbError(err, "get_work_annotation", "", "annotation_id", id)
	}
	return &annotation, nil
}

// SaveWorkItem persists item changes.
func (ds *DataStore) SaveWorkItem(item *WorkItem) error {
	if err := ds.DB.Save(item).Error; err != nil {
		return dbError(err, "save_work_item", "", "item_id", item.ID)
	}
	return nil
}

// SaveWorkAnnotation persists annotation changes.
func (ds *DataStore) SaveWorkAnnotation(annotation *WorkAnnotation) error {
	if err := ds.DB.Save(annotation).Error; err != nil {
		return dbError(err, "save_work_annotation", "", "annotation_id", annotation.ID)
	}
	return nil
}

// DeleteWorkLayer removes all work items and annotations of one session,
// children before parents. Used by session reset before recloning.
func (ds *DataStore) DeleteWorkLayer(sessionID uint) error {
	if err := ds.DB.Where("session_id = ?", sessionID).Delete(&WorkAnnotation{}).Error; err != nil {
		return dbError(err, "delete_session_annotations", errors.PriorityHigh, "session_id", sessionID)
	}
	if err := ds.DB.Where("session_id = ?", sessionID).Delete(&WorkItem{}).Error; err != nil {
		return dbError(err, "delete_session_items", errors.PriorityHigh, "session_id", sessionID)
	}
	return nil
}
