package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/loom/internal/archive"
	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/notify"
)

// Save writes every block and the opaque blind payload to w.
//
// Blocks are copied one at a time, without a global lock. Links to blocks
// created or deleted while the copy ran are dropped, so the saved tree is
// always consistent.
func (m *Manager) Save(ctx context.Context, w io.Writer, blind json.RawMessage) (err error) {
	ctx, span := m.startSpan(ctx, "Save", "")
	defer func() { endSpan(span, err) }()

	doc, err := m.document(ctx, blind)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("loom.blocks", len(doc.Blocks)))
	return archive.Encode(w, doc)
}

// SaveToFile is Save to a file; a ".zst" suffix compresses it.
func (m *Manager) SaveToFile(ctx context.Context, path string, blind json.RawMessage) (err error) {
	ctx, span := m.startSpan(ctx, "SaveToFile", "")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("loom.path", path))

	doc, err := m.document(ctx, blind)
	if err != nil {
		return err
	}
	if err := archive.WriteFile(path, doc); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "tree saved", "path", path, "blocks", len(doc.Blocks))
	return nil
}

func (m *Manager) document(ctx context.Context, blind json.RawMessage) (*archive.Document, error) {
	tree := make(block.Tree)
	for _, id := range m.blockIDs() {
		e, ok := m.lookup(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		if !e.deleted.Load() {
			tree[id] = e.snapshot()
		}
		e.mu.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blocks := prune(tree)
	if dropped := len(tree) - len(blocks); dropped > 0 {
		m.logger.DebugContext(ctx, "blocks changed during save were left out", "count", dropped)
	}
	return archive.New(blocks, blind, m.now())
}

// prune drops child links to blocks missing from the copy, then keeps only
// what is reachable from the root.
func prune(tree block.Tree) []*block.Block {
	for _, b := range tree {
		for _, c := range slices.Clone(b.Children) {
			if child, ok := tree[c]; !ok || child.ParentID != b.ID {
				b.RemoveChild(c)
			}
		}
	}
	ids, err := block.Subtree(tree.Lookup, block.RootID)
	if err != nil {
		return []*block.Block{tree[block.RootID]}
	}
	out := make([]*block.Block, 0, len(ids))
	for _, id := range ids {
		out = append(out, tree[id])
	}
	return out
}

// Load replaces the whole tree with the archive read from r and returns its
// blind payload. Every block comes back Idle. On error the current tree is
// left untouched.
func (m *Manager) Load(ctx context.Context, r io.Reader) (_ json.RawMessage, err error) {
	ctx, span := m.startSpan(ctx, "Load", "")
	defer func() { endSpan(span, err) }()

	doc, err := archive.Decode(r)
	if err != nil {
		return nil, err
	}
	return m.restore(ctx, doc)
}

// LoadFromFile is Load from a file written by SaveToFile.
func (m *Manager) LoadFromFile(ctx context.Context, path string) (_ json.RawMessage, err error) {
	ctx, span := m.startSpan(ctx, "LoadFromFile", "")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("loom.path", path))

	doc, err := archive.ReadFile(path)
	if err != nil {
		return nil, err
	}
	blind, err := m.restore(ctx, doc)
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "tree loaded", "path", path, "blocks", len(doc.Blocks))
	return blind, nil
}

func (m *Manager) restore(ctx context.Context, doc *archive.Document) (json.RawMessage, error) {
	tree, err := doc.Tree()
	if err != nil {
		return nil, fmt.Errorf("load archive: %w", err)
	}
	if doc.Root != block.RootID {
		return nil, fmt.Errorf("load archive: root is %q, want %q", doc.Root, block.RootID)
	}

	fresh := make(map[string]*entry, len(tree))
	for id, b := range tree {
		fresh[id] = newEntry(b)
	}

	m.mu.Lock()
	old := m.blocks
	m.blocks = fresh
	m.mu.Unlock()
	// Operations already holding an old entry finish before Load returns;
	// later ones see it deleted.
	for _, e := range old {
		e.mu.Lock()
		e.deleted.Store(true)
		e.mu.Unlock()
	}
	m.metrics.blocks.Set(float64(len(fresh)))

	ev := m.newEvents()
	ids := make([]string, 0, len(tree))
	for id := range tree {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		ev.status(id, "", block.StatusIdle)
	}
	ev.content(notify.ContentEvent{BlockID: block.RootID, Source: notify.SourceSystem, Fields: []string{notify.FieldTree}})
	ev.flush(ctx)

	return doc.Blind, nil
}
