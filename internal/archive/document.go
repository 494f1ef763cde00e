// Package archive saves a whole block tree to a single JSON document and
// restores it.
//
// Every block comes back Idle. Pending user edits, conflict lists and
// in-flight workflows are not persisted; a block saved mid-generation
// restores with its most advanced state (post_user, else post_ai, else
// input) as the live state.
package archive

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/world"
)

// Version is the document format written by this package.
const Version = 1

// Names of the world states in a BlockRecord.
const (
	StateInput    = "input"
	StatePostAI   = "post_ai"
	StatePostUser = "post_user"
)

// Document is the archive root.
type Document struct {
	Version int           `json:"version"`
	SavedAt time.Time     `json:"saved_at"`
	Root    string        `json:"root"`
	Blocks  []BlockRecord `json:"blocks"`

	// Blind is an opaque JSON payload stored and returned verbatim.
	Blind json.RawMessage `json:"blind,omitempty"`
}

// BlockRecord is one saved block.
type BlockRecord struct {
	ID                   string                  `json:"id"`
	ParentID             string                  `json:"parent_id,omitempty"`
	Children             []string                `json:"children"`
	SelectedChild        string                  `json:"selected_child,omitempty"`
	Content              string                  `json:"content"`
	Metadata             map[string]string       `json:"metadata"`
	GameState            ir.Object               `json:"game_state"`
	TriggeredChildParams ir.Object               `json:"triggered_child_params,omitempty"`
	StatusAtSave         block.Status            `json:"status_at_save"`
	WorldStates          map[string]*world.State `json:"world_states"`
}

// New builds a document from block snapshots. Blocks are written in id
// order with the root first so diffs between saves stay small.
func New(blocks []*block.Block, blind json.RawMessage, savedAt time.Time) (*Document, error) {
	if len(blind) > 0 && !json.Valid(blind) {
		return nil, fmt.Errorf("blind payload is not valid JSON")
	}
	doc := &Document{
		Version: Version,
		SavedAt: savedAt.UTC(),
		Root:    block.RootID,
		Blind:   blind,
	}

	sorted := slices.Clone(blocks)
	slices.SortFunc(sorted, func(a, b *block.Block) int {
		switch {
		case a.IsRoot():
			return -1
		case b.IsRoot():
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	for _, b := range sorted {
		doc.Blocks = append(doc.Blocks, recordOf(b))
	}
	return doc, nil
}

func recordOf(b *block.Block) BlockRecord {
	rec := BlockRecord{
		ID:                   b.ID,
		ParentID:             b.ParentID,
		Children:             slices.Clone(b.Children),
		SelectedChild:        b.SelectedChild,
		Content:              b.Content,
		Metadata:             b.Metadata,
		GameState:            b.GameState,
		TriggeredChildParams: b.TriggeredChildParams,
		StatusAtSave:         b.Status,
		WorldStates:          make(map[string]*world.State, 3),
	}
	if rec.Children == nil {
		rec.Children = []string{}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]string{}
	}
	if rec.GameState == nil {
		rec.GameState = ir.Object{}
	}
	if b.Input != nil {
		rec.WorldStates[StateInput] = b.Input
	}
	if b.PostAI != nil {
		rec.WorldStates[StatePostAI] = b.PostAI
	}
	if b.PostUser != nil {
		rec.WorldStates[StatePostUser] = b.PostUser
	}
	return rec
}

// Tree rebuilds the blocks, all Idle, and validates their links.
func (d *Document) Tree() (block.Tree, error) {
	if d.Version != Version {
		return nil, fmt.Errorf("unsupported archive version %d", d.Version)
	}
	tree := make(block.Tree, len(d.Blocks))
	for _, rec := range d.Blocks {
		if _, dup := tree[rec.ID]; dup {
			return nil, fmt.Errorf("duplicate block %s", rec.ID)
		}
		tree[rec.ID] = rec.restore()
	}
	if _, ok := tree[d.Root]; !ok {
		return nil, fmt.Errorf("root block %s missing", d.Root)
	}
	if err := tree.Validate(); err != nil {
		return nil, fmt.Errorf("archive tree: %w", err)
	}
	return tree, nil
}

func (rec BlockRecord) restore() *block.Block {
	live := rec.WorldStates[StatePostUser]
	if live == nil {
		live = rec.WorldStates[StatePostAI]
	}
	if live == nil {
		live = rec.WorldStates[StateInput]
	}
	if live == nil {
		live = world.NewState()
	}

	b := block.NewIdle(rec.ID, rec.ParentID, live)
	if in := rec.WorldStates[StateInput]; in != nil {
		b.Input = in
	}
	if ai := rec.WorldStates[StatePostAI]; ai != nil {
		b.PostAI = ai
	}
	if len(rec.Children) > 0 {
		b.Children = slices.Clone(rec.Children)
	}
	b.SelectedChild = rec.SelectedChild
	b.Content = rec.Content
	if rec.Metadata != nil {
		b.Metadata = rec.Metadata
	}
	if rec.GameState != nil {
		b.GameState = rec.GameState
	}
	b.TriggeredChildParams = rec.TriggeredChildParams
	return b
}
