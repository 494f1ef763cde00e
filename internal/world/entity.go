package world

import (
	"fmt"

	"github.com/roach88/loom/internal/ir"
)

// EntityType is the kind of an entity. Ids are unique per type.
type EntityType string

const (
	Item      EntityType = "item"
	Character EntityType = "character"
	Place     EntityType = "place"
)

// EntityTypes lists every type in a stable order.
var EntityTypes = []EntityType{Item, Character, Place}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case Item, Character, Place:
		return true
	}
	return false
}

// ParseEntityType accepts the canonical lowercase names.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// Ref addresses one entity.
type Ref struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

func (r Ref) String() string {
	return string(r.Type) + ":" + r.ID
}

// Entity is an item, character or place. Deleted entities stay in the state
// with Destroyed set.
type Entity struct {
	ID         string
	Type       EntityType
	Attributes ir.Object
	Destroyed  bool
}

// NameKey is the attribute every entity carries; it defaults to the id.
const NameKey = "name"

// Ref returns the entity's address.
func (e *Entity) Ref() Ref {
	return Ref{Type: e.Type, ID: e.ID}
}

// Get returns an attribute value.
func (e *Entity) Get(key string) (ir.Value, bool) {
	v, ok := e.Attributes[key]
	return v, ok
}

// Clone deep-copies the entity.
func (e *Entity) Clone() *Entity {
	cp := *e
	cp.Attributes = e.Attributes.Clone()
	if cp.Attributes == nil {
		cp.Attributes = ir.Object{}
	}
	return &cp
}

// Equal reports whether two entities hold the same data.
func (e *Entity) Equal(other *Entity) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.ID == other.ID &&
		e.Type == other.Type &&
		e.Destroyed == other.Destroyed &&
		ir.Equal(e.Attributes, other.Attributes)
}
