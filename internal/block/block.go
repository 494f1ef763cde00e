package block

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/world"
)

// Metadata keys the manager writes.
const (
	MetaCreatedAt       = "created_at"
	MetaError           = "error"
	MetaOutputVariables = "output_variables"
	MetaRawText         = "raw_text"
)

// Conflict is what a block in StatusConflict exposes for resolution: both
// full command lists and the blocking subset of each side.
type Conflict struct {
	AI              []world.Operation `json:"ai"`
	User            []world.Operation `json:"user"`
	ConflictingAI   []world.Operation `json:"conflicting_ai"`
	ConflictingUser []world.Operation `json:"conflicting_user"`
}

// Clone copies the four lists.
func (c *Conflict) Clone() *Conflict {
	if c == nil {
		return nil
	}
	return &Conflict{
		AI:              cloneOps(c.AI),
		User:            cloneOps(c.User),
		ConflictingAI:   cloneOps(c.ConflictingAI),
		ConflictingUser: cloneOps(c.ConflictingUser),
	}
}

// Block is one node of the history tree.
//
// The three named world states:
//   - Input: the common ancestor, captured from the parent when generation
//     starts
//   - PostAI: Input plus the workflow's operations (after a successful merge
//     it holds the merged result)
//   - PostUser: Input plus every user operation; in Idle this is the single
//     live state
//
// A Block is a plain value. The manager owns locking; everything handed out
// by the manager is a Clone.
type Block struct {
	ID            string
	ParentID      string
	Children      []string
	SelectedChild string

	Content              string
	Metadata             map[string]string
	GameState            ir.Object
	TriggeredChildParams ir.Object

	Status Status

	Input    *world.State
	PostAI   *world.State
	PostUser *world.State

	// Pending holds the successful user operations submitted while
	// Loading, in submission order.
	Pending []world.Operation

	// Conflict is set only in StatusConflict.
	Conflict *Conflict
}

// NewRoot returns the Idle super-root with an empty world.
func NewRoot() *Block {
	return NewIdle(RootID, "", world.NewState())
}

// NewIdle returns an Idle block whose live state is a copy of state.
func NewIdle(id, parentID string, state *world.State) *Block {
	return &Block{
		ID:        id,
		ParentID:  parentID,
		Metadata:  make(map[string]string),
		GameState: ir.Object{},
		Status:    StatusIdle,
		Input:     state.Clone(),
		PostAI:    state.Clone(),
		PostUser:  state.Clone(),
	}
}

// NewLoading returns a block that is about to be generated from input.
func NewLoading(id, parentID string, input *world.State) *Block {
	b := &Block{
		ID:        id,
		ParentID:  parentID,
		Metadata:  make(map[string]string),
		GameState: ir.Object{},
		Status:    StatusLoading,
	}
	b.resetWorkingStates(input)
	return b
}

func (b *Block) resetWorkingStates(input *world.State) {
	b.Input = input.Clone()
	b.PostUser = b.Input.Clone()
	b.PostAI = nil
	b.Pending = nil
	b.Conflict = nil
}

// IsRoot reports whether this is the super-root.
func (b *Block) IsRoot() bool {
	return b.ID == RootID
}

// Transition moves the block to status to, or fails if the edge is not
// allowed.
func (b *Block) Transition(to Status) error {
	if !b.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, b.Status, to)
	}
	b.Status = to
	return nil
}

// BeginLoading restarts generation from input: Idle or Error -> Loading,
// with fresh working states and an empty pending list.
func (b *Block) BeginLoading(input *world.State) error {
	if err := b.Transition(StatusLoading); err != nil {
		return err
	}
	b.resetWorkingStates(input)
	return nil
}

// Settle makes merged the new live state and returns to Idle.
func (b *Block) Settle(merged *world.State) error {
	if err := b.Transition(StatusIdle); err != nil {
		return err
	}
	b.PostAI = merged
	b.PostUser = merged.Clone()
	b.Pending = nil
	b.Conflict = nil
	delete(b.Metadata, MetaError)
	return nil
}

// Abandon stops waiting for a workflow: Loading -> Idle, keeping the queued
// user edits as the live state.
func (b *Block) Abandon() error {
	if err := b.Transition(StatusIdle); err != nil {
		return err
	}
	b.PostAI = b.Input.Clone()
	b.Pending = nil
	return nil
}

// Fail moves the block to Error and records reason.
func (b *Block) Fail(reason string) error {
	if err := b.Transition(StatusError); err != nil {
		return err
	}
	b.Conflict = nil
	if reason != "" {
		b.Metadata[MetaError] = reason
	}
	return nil
}

// Live returns the state readers should see: PostUser when present, then
// PostAI, then Input. While Loading this is the working state with the
// queued user edits.
func (b *Block) Live() *world.State {
	switch {
	case b.PostUser != nil:
		return b.PostUser
	case b.PostAI != nil:
		return b.PostAI
	default:
		return b.Input
	}
}

// AddChild appends id and makes it the selected child.
func (b *Block) AddChild(id string) {
	if !slices.Contains(b.Children, id) {
		b.Children = append(b.Children, id)
	}
	b.SelectedChild = id
}

// RemoveChild unlinks id. When it was selected, selection moves to the first
// remaining child, or clears.
func (b *Block) RemoveChild(id string) {
	b.Children = slices.DeleteFunc(b.Children, func(c string) bool { return c == id })
	if b.SelectedChild == id {
		b.SelectedChild = ""
		if len(b.Children) > 0 {
			b.SelectedChild = b.Children[0]
		}
	}
}

// Select makes id the selected child.
func (b *Block) Select(id string) error {
	if !slices.Contains(b.Children, id) {
		return fmt.Errorf("block %s has no child %s", b.ID, id)
	}
	b.SelectedChild = id
	return nil
}

// Node returns the structural view of the block.
func (b *Block) Node() Node {
	return Node{
		ID:            b.ID,
		ParentID:      b.ParentID,
		Children:      slices.Clone(b.Children),
		SelectedChild: b.SelectedChild,
		Status:        b.Status,
	}
}

// Clone returns a deep copy.
func (b *Block) Clone() *Block {
	cp := *b
	cp.Children = slices.Clone(b.Children)
	cp.Metadata = maps.Clone(b.Metadata)
	if cp.Metadata == nil {
		cp.Metadata = make(map[string]string)
	}
	cp.GameState = b.GameState.Clone()
	cp.TriggeredChildParams = b.TriggeredChildParams.Clone()
	cp.Input = cloneState(b.Input)
	cp.PostAI = cloneState(b.PostAI)
	cp.PostUser = cloneState(b.PostUser)
	cp.Pending = cloneOps(b.Pending)
	cp.Conflict = b.Conflict.Clone()
	return &cp
}

func cloneState(s *world.State) *world.State {
	if s == nil {
		return nil
	}
	return s.Clone()
}

func cloneOps(ops []world.Operation) []world.Operation {
	if ops == nil {
		return nil
	}
	out := make([]world.Operation, len(ops))
	for i, op := range ops {
		out[i] = op.Clone()
	}
	return out
}
