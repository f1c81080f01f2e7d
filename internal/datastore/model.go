// model.go defines the data model for the validation workflow engine.
package datastore

import (
	"fmt"
	"math"
	"time"
)

// WorkflowState tracks where a recognition sits in the validation pipeline.
type WorkflowState string

const (
	StatePending            WorkflowState = "pending"
	StateInProgress         WorkflowState = "in_progress"
	StateCompleted          WorkflowState = "completed"
	StateSkipped            WorkflowState = "skipped"
	StateRequiresCorrection WorkflowState = "requires_correction"
)

// SessionStatus is the lifecycle status of a work session.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
)

// StepStatus is the recorded outcome of one validation step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
)

// ItemType classifies a physical object on the tray.
type ItemType string

const (
	ItemFood   ItemType = "food"
	ItemPlate  ItemType = "plate"
	ItemBuzzer ItemType = "buzzer"
	ItemBottle ItemType = "bottle"
	ItemOther  ItemType = "other"
)

// Tier bounds; 1 is the easiest work, 5 the hardest.
const (
	TierMin = 1
	TierMax = 5
)

// BBox is a bounding box in the coordinate system of its recognition, either
// pixel or normalized but consistent within one recognition. Values must
// round-trip exactly through mutate/reset cycles, hence plain float64 columns.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Equals compares two boxes allowing per-component drift up to tolerance.
func (b BBox) Equals(other BBox, tolerance float64) bool {
	return math.Abs(b.X-other.X) <= tolerance &&
		math.Abs(b.Y-other.Y) <= tolerance &&
		math.Abs(b.W-other.W) <= tolerance &&
		math.Abs(b.H-other.H) <= tolerance
}

// GroupKey quantizes the box corners to the tolerance grid. Boxes describing
// the same physical detection land on the same key.
func (b BBox) GroupKey(tolerance float64) string {
	if tolerance <= 0 {
		tolerance = 1
	}
	q := func(v float64) int64 { return int64(math.Round(v / tolerance)) }
	return fmt.Sprintf("%d:%d:%d:%d", q(b.X), q(b.Y), q(b.X+b.W), q(b.Y+b.H))
}

// BuzzerMetadata is the buzzer-specific payload of an item.
type BuzzerMetadata struct {
	Color string `json:"color"`
}

// BottleMetadata is the bottle-specific payload of an item.
type BottleMetadata struct {
	Orientation string `json:"orientation"` // "upright", "lying", "tilted"
}

// FoodMetadata is the food-specific payload of an item. ResolvedLabel is set
// by ambiguity resolution when a receipt line mapped to several candidates.
type FoodMetadata struct {
	ResolvedLabel string `json:"resolved_label,omitempty"`
	MenuSource    string `json:"menu_source,omitempty"`
}

// ItemMetadata is a tagged union keyed by item type: exactly the variant
// matching the item's type may be populated. Plate and other items carry no
// payload.
type ItemMetadata struct {
	Buzzer *BuzzerMetadata `json:"buzzer,omitempty"`
	Bottle *BottleMetadata `json:"bottle,omitempty"`
	Food   *FoodMetadata   `json:"food,omitempty"`
}

// ValidFor reports whether the populated variant is legal for the item type.
func (m ItemMetadata) ValidFor(t ItemType) bool {
	switch t {
	case ItemBuzzer:
		return m.Bottle == nil && m.Food == nil
	case ItemBottle:
		return m.Buzzer == nil && m.Food == nil
	case ItemFood:
		return m.Buzzer == nil && m.Bottle == nil
	default:
		return m.Buzzer == nil && m.Bottle == nil && m.Food == nil
	}
}

// StepOutcome records the status of one pipeline step within a work session.
type StepOutcome struct {
	StageID string     `json:"stage_id"`
	Status  StepStatus `json:"status"`
}

// StepOutcomes is the ordered list of step outcomes, stored as JSON.
type StepOutcomes []StepOutcome

// Recognition is one captured scene flowing through the validation pipeline.
type Recognition struct {
	ID              uint          `gorm:"primaryKey"`
	ExternalID      string        `gorm:"uniqueIndex;not null"`
	RecognitionDate time.Time     `gorm:"index:idx_recognitions_date"`
	Tier            int           `gorm:"index:idx_recognitions_queue;default:3"` // 1..5, easier first
	WorkflowState   WorkflowState `gorm:"type:varchar(32);index:idx_recognitions_queue"`
	CurrentStageID  string        `gorm:"type:varchar(64);index:idx_recognitions_queue"`
	AssignedTo      string        `gorm:"type:varchar(64)"` // empty means unassigned
	StartedAt       *time.Time    // lease stamp, nil means no active lease
	HasBuzzerEvent  bool          `gorm:"default:false"`
	Images          []Image       `gorm:"foreignKey:RecognitionID;constraint:OnDelete:CASCADE"`
	RecipeLines     []RecipeLine  `gorm:"foreignKey:RecognitionID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Image is one camera view of a recognition.
type Image struct {
	ID            uint   `gorm:"primaryKey"`
	RecognitionID uint   `gorm:"index;not null"`
	CameraNumber  int    `gorm:"not null"`
	StoragePath   string `gorm:"type:varchar(255)"`
	Width         int
	Height        int
}

// RecipeLine is one expected line of the receipt/menu for a recognition.
type RecipeLine struct {
	ID            uint               `gorm:"primaryKey"`
	RecognitionID uint               `gorm:"index;not null"`
	Quantity      int                `gorm:"default:1"`
	Options       []RecipeLineOption `gorm:"foreignKey:RecipeLineID;constraint:OnDelete:CASCADE"`
}

// RecipeLineOption is one candidate dish name for a recipe line. Lines with
// several options are the source of dish-label ambiguity.
type RecipeLineOption struct {
	ID           uint   `gorm:"primaryKey"`
	RecipeLineID uint   `gorm:"index;not null"`
	ExternalID   string `gorm:"type:varchar(64)"`
	Name         string `gorm:"type:varchar(255)"`
	IsSelected   bool   `gorm:"default:false"`
}

// InitialItem is one machine-detected physical object. Initial entities are
// created once at ingestion and never mutated or deleted.
type InitialItem struct {
	ID            uint     `gorm:"primaryKey"`
	RecognitionID uint     `gorm:"index;not null"`
	Type          ItemType `gorm:"type:varchar(16);not null"`
	Name          string   `gorm:"type:varchar(255)"` // denormalized display name
	Quantity      int      `gorm:"default:1"`         // derived from the matched recipe line
	DishIndex     *int     // receipt-line index for food detections
	RecipeLineID  *uint
	CreatedAt     time.Time
}

// InitialAnnotation is one machine-produced bounding box on one image.
type InitialAnnotation struct {
	ID            uint     `gorm:"primaryKey"`
	ImageID       uint     `gorm:"index;not null"`
	InitialItemID *uint    `gorm:"index"` // nil for boxes not linked to an item
	Type          ItemType `gorm:"type:varchar(16);not null"`
	DishIndex     *int
	BBox          BBox `gorm:"embedded;embeddedPrefix:bbox_"`
	CreatedAt     time.Time
}

// WorkSession is one reviewer's pass over one recognition at one stage.
// GORM table name overridden to match the original work log table.
type WorkSession struct {
	ID            uint          `gorm:"primaryKey"`
	SessionUUID   string        `gorm:"uniqueIndex;type:varchar(36)"`
	RecognitionID uint          `gorm:"index:idx_worklogs_rec_stage;not null"`
	StageID       string        `gorm:"type:varchar(64);index:idx_worklogs_rec_stage;not null"`
	Assignee      string        `gorm:"type:varchar(64)"`
	Status        SessionStatus `gorm:"type:varchar(32);index"`
	Steps         StepOutcomes  `gorm:"serializer:json"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// TableName keeps the historical table name used by the annotation tool.
func (WorkSession) TableName() string {
	return "validation_work_logs"
}

// StepFor returns a pointer into Steps for the given stage id, or nil.
func (ws *WorkSession) StepFor(stageID string) *StepOutcome {
	for i := range ws.Steps {
		if ws.Steps[i].StageID == stageID {
			return &ws.Steps[i]
		}
	}
	return nil
}

// WorkItem is the mutable, session-scoped copy of (or reviewer-added
// counterpart to) an initial item.
type WorkItem struct {
	ID            uint     `gorm:"primaryKey"`
	SessionID     uint     `gorm:"index;not null"`
	RecognitionID uint     `gorm:"index;not null"`
	InitialItemID *uint    // nil means reviewer-added
	Type          ItemType `gorm:"type:varchar(16);not null"`
	Name          string   `gorm:"type:varchar(255)"`
	Quantity      int      `gorm:"default:1"`
	DishIndex     *int
	RecipeLineID  *uint
	Metadata      ItemMetadata `gorm:"serializer:json"`
	IsDeleted     bool         `gorm:"index;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WorkAnnotation is the mutable, session-scoped copy of (or reviewer-drawn
// counterpart to) an initial annotation.
type WorkAnnotation struct {
	ID                  uint  `gorm:"primaryKey"`
	SessionID           uint  `gorm:"index;not null"`
	WorkItemID          uint  `gorm:"index;not null"`
	ImageID             uint  `gorm:"index;not null"`
	InitialAnnotationID *uint // nil means reviewer-drawn
	BBox                BBox  `gorm:"embedded;embeddedPrefix:bbox_"`
	DishIndex           *int
	ResolvedLabel       string `gorm:"type:varchar(255)"` // set by ambiguity resolution
	IsOccluded          bool   `gorm:"default:false"`
	OcclusionMetadata   string `gorm:"type:text"`
	IsDeleted           bool   `gorm:"index;default:false"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
