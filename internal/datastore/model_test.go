package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBBoxEquals(t *testing.T) {
	base := BBox{X: 10, Y: 20, W: 30, H: 40}

	assert.True(t, base.Equals(base, 0))
	assert.True(t, base.Equals(BBox{X: 10.9, Y: 20, W: 30, H: 40}, 1.0))
	assert.False(t, base.Equals(BBox{X: 11.1, Y: 20, W: 30, H: 40}, 1.0))
	assert.False(t, base.Equals(BBox{X: 10, Y: 20, W: 30, H: 45}, 1.0))
}

func TestBBoxGroupKey(t *testing.T) {
	a := BBox{X: 5, Y: 5, W: 15, H: 15}
	b := BBox{X: 5.4, Y: 4.8, W: 15, H: 15}
	c := BBox{X: 50, Y: 50, W: 15, H: 15}

	assert.Equal(t, a.GroupKey(1.0), b.GroupKey(1.0), "near-identical boxes share a group")
	assert.NotEqual(t, a.GroupKey(1.0), c.GroupKey(1.0))

	// a non-positive tolerance falls back to the unit grid
	assert.Equal(t, a.GroupKey(0), a.GroupKey(1.0))
}

func TestItemMetadataValidFor(t *testing.T) {
	buzzer := ItemMetadata{Buzzer: &BuzzerMetadata{Color: "red"}}
	bottle := ItemMetadata{Bottle: &BottleMetadata{Orientation: "lying"}}
	food := ItemMetadata{Food: &FoodMetadata{ResolvedLabel: "Soup"}}
	empty := ItemMetadata{}

	assert.True(t, buzzer.ValidFor(ItemBuzzer))
	assert.False(t, buzzer.ValidFor(ItemBottle))
	assert.False(t, buzzer.ValidFor(ItemPlate))

	assert.True(t, bottle.ValidFor(ItemBottle))
	assert.False(t, bottle.ValidFor(ItemFood))

	assert.True(t, food.ValidFor(ItemFood))
	assert.False(t, food.ValidFor(ItemOther))

	for _, typ := range []ItemType{ItemFood, ItemPlate, ItemBuzzer, ItemBottle, ItemOther} {
		assert.True(t, empty.ValidFor(typ), "empty metadata fits any type")
	}
}

func TestWorkSessionStepFor(t *testing.T) {
	session := WorkSession{Steps: StepOutcomes{
		{StageID: "validate_dishes", Status: StepCompleted},
		{StageID: "validate_plates", Status: StepPending},
	}}

	step := session.StepFor("validate_plates")
	assert.NotNil(t, step)
	assert.Equal(t, StepPending, step.Status)

	step.Status = StepSkipped
	assert.Equal(t, StepSkipped, session.Steps[1].Status, "StepFor returns a live pointer")

	assert.Nil(t, session.StepFor("validate_buzzers"))
}
