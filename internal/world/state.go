package world

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/loom/internal/ir"
)

// State is one snapshot of the world: three entity maps keyed by id.
// A State is not safe for concurrent use; the block that owns it serializes
// access.
type State struct {
	Items      map[string]*Entity
	Characters map[string]*Entity
	Places     map[string]*Entity
}

// NewState returns an empty State.
func NewState() *State {
	return &State{
		Items:      make(map[string]*Entity),
		Characters: make(map[string]*Entity),
		Places:     make(map[string]*Entity),
	}
}

// bucket returns the map for t, or nil for an unknown type.
func (s *State) bucket(t EntityType) map[string]*Entity {
	switch t {
	case Item:
		return s.Items
	case Character:
		return s.Characters
	case Place:
		return s.Places
	}
	return nil
}

// Get returns the entity at (t, id), tombstones included.
func (s *State) Get(t EntityType, id string) (*Entity, bool) {
	b := s.bucket(t)
	if b == nil {
		return nil, false
	}
	e, ok := b[ir.Normalize(id)]
	return e, ok
}

// Live returns the entity at (t, id) unless it is absent or destroyed.
func (s *State) Live(t EntityType, id string) (*Entity, bool) {
	e, ok := s.Get(t, id)
	if !ok || e.Destroyed {
		return nil, false
	}
	return e, true
}

// Has reports whether any entity, live or tombstoned, occupies (t, id).
func (s *State) Has(t EntityType, id string) bool {
	_, ok := s.Get(t, id)
	return ok
}

// Entities returns the entities of type t in id order.
func (s *State) Entities(t EntityType) []*Entity {
	b := s.bucket(t)
	out := make([]*Entity, 0, len(b))
	for _, id := range ir.SortedKeys(b) {
		out = append(out, b[id])
	}
	return out
}

// Len counts entities of every type, tombstones included.
func (s *State) Len() int {
	return len(s.Items) + len(s.Characters) + len(s.Places)
}

// Clone returns an independent deep copy.
func (s *State) Clone() *State {
	cp := NewState()
	for _, t := range EntityTypes {
		dst := cp.bucket(t)
		for id, e := range s.bucket(t) {
			dst[id] = e.Clone()
		}
	}
	return cp
}

// Equal reports whether both states hold the same entities.
func (s *State) Equal(other *State) bool {
	if s == nil || other == nil {
		return s == other
	}
	for _, t := range EntityTypes {
		a, b := s.bucket(t), other.bucket(t)
		if len(a) != len(b) {
			return false
		}
		for id, e := range a {
			if !e.Equal(b[id]) {
				return false
			}
		}
	}
	return true
}

// Value renders the state as an ir.Object, the form used for JSON and
// digests.
func (s *State) Value() ir.Object {
	out := make(ir.Object, len(EntityTypes))
	for _, t := range EntityTypes {
		entities := make(ir.Object, len(s.bucket(t)))
		for id, e := range s.bucket(t) {
			attrs := e.Attributes
			if attrs == nil {
				attrs = ir.Object{}
			}
			entities[id] = ir.Object{
				"attributes": attrs,
				"destroyed":  ir.Bool(e.Destroyed),
			}
		}
		out[string(t)] = entities
	}
	return out
}

// Digest is a stable content hash of the state.
func (s *State) Digest() string {
	return ir.MustDigest(ir.DomainWorldState, s.Value())
}

// MarshalJSON implements json.Marshaler.
func (s *State) MarshalJSON() ([]byte, error) {
	return s.Value().MarshalJSON()
}

type entityJSON struct {
	Attributes ir.Object `json:"attributes"`
	Destroyed  bool      `json:"destroyed"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw map[EntityType]map[string]entityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = *NewState()
	for t, entities := range raw {
		b := s.bucket(t)
		if b == nil {
			return fmt.Errorf("unknown entity type %q", t)
		}
		for id, e := range entities {
			attrs := e.Attributes
			if attrs == nil {
				attrs = ir.Object{}
			}
			b[id] = &Entity{ID: id, Type: t, Attributes: attrs, Destroyed: e.Destroyed}
		}
	}
	return nil
}
