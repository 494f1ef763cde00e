package manager

import (
	"context"
	"fmt"
	"maps"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/notify"
)

// CreateChildBlock starts generating a new child of parentID. The child is
// Loading with its input state cloned from the parent's live state and its
// game state cloned from the parent's. The parent records params as its
// triggered child parameters and selects the new child.
//
// The parent must be Idle: a parent that is still generating has no
// settled state to branch from.
func (m *Manager) CreateChildBlock(ctx context.Context, parentID string, params ir.Object) (_ *block.Block, err error) {
	const op = "CreateChildBlock"
	ctx, span := m.startSpan(ctx, op, parentID)
	defer func() { endSpan(span, err) }()

	ev := m.newEvents()
	defer ev.flush(ctx)

	parent, err := m.lock(op, parentID)
	if err != nil {
		return nil, err
	}
	defer parent.mu.Unlock()
	if err := branchable(op, parent); err != nil {
		return nil, err
	}

	child := block.NewLoading(m.ids.Generate(), parentID, parent.b.Live())
	child.GameState = parent.gameStateCopy()
	child.Metadata[block.MetaCreatedAt] = m.stamp()
	snap := child.Clone()
	if err := m.insert(op, parent, newEntry(child)); err != nil {
		return nil, err
	}
	parent.b.TriggeredChildParams = params.Clone()
	parent.b.AddChild(child.ID)

	ev.status(child.ID, "", block.StatusLoading)
	ev.content(notify.ContentEvent{BlockID: parentID, Source: notify.SourceSystem, Fields: []string{notify.FieldTree}})

	m.logger.InfoContext(ctx, "child block created", "block", child.ID, "parent", parentID)
	return snap, nil
}

// CreateManualChildBlock adds an Idle child with the given content, no
// workflow involved. Its live state and game state are copies of the
// parent's.
func (m *Manager) CreateManualChildBlock(ctx context.Context, parentID, content string, metadata map[string]string) (_ *block.Block, err error) {
	const op = "CreateManualChildBlock"
	ctx, span := m.startSpan(ctx, op, parentID)
	defer func() { endSpan(span, err) }()

	ev := m.newEvents()
	defer ev.flush(ctx)

	parent, err := m.lock(op, parentID)
	if err != nil {
		return nil, err
	}
	defer parent.mu.Unlock()
	if err := branchable(op, parent); err != nil {
		return nil, err
	}

	child := block.NewIdle(m.ids.Generate(), parentID, parent.b.Live())
	child.Content = content
	child.GameState = parent.gameStateCopy()
	maps.Copy(child.Metadata, metadata)
	child.Metadata[block.MetaCreatedAt] = m.stamp()
	snap := child.Clone()
	if err := m.insert(op, parent, newEntry(child)); err != nil {
		return nil, err
	}
	parent.b.AddChild(child.ID)

	ev.status(child.ID, "", block.StatusIdle)
	ev.content(notify.ContentEvent{BlockID: parentID, Source: notify.SourceSystem, Fields: []string{notify.FieldTree}})

	m.logger.InfoContext(ctx, "manual child block created", "block", child.ID, "parent", parentID)
	return snap, nil
}

// RegenerateBlock restarts generation of an Idle or Error block from its
// parent's current live state. Queued edits and the previous merge are
// discarded.
func (m *Manager) RegenerateBlock(ctx context.Context, id string, params ir.Object) (_ *block.Block, err error) {
	const op = "RegenerateBlock"
	ctx, span := m.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()

	if id == block.RootID {
		return nil, blockErr(op, id, "", ErrRootBlock)
	}
	e, ok := m.lookup(id)
	if !ok {
		return nil, blockErr(op, id, "", ErrBlockNotFound)
	}

	ev := m.newEvents()
	defer ev.flush(ctx)

	parent, err := m.lock(op, e.parent)
	if err != nil {
		return nil, err
	}
	defer parent.mu.Unlock()
	if err := branchable(op, parent); err != nil {
		return nil, err
	}

	child, err := m.lock(op, id)
	if err != nil {
		return nil, err
	}
	defer child.mu.Unlock()

	from := child.b.Status
	switch from {
	case block.StatusLoading:
		return nil, blockErr(op, id, from, ErrWorkflowInFlight)
	case block.StatusConflict:
		return nil, blockErr(op, id, from, ErrInvalidState)
	}
	if err := child.b.BeginLoading(parent.b.Live()); err != nil {
		return nil, blockErr(op, id, from, err)
	}
	if params != nil {
		parent.b.TriggeredChildParams = params.Clone()
	}
	_ = parent.b.Select(id)

	ev.status(id, from, block.StatusLoading)
	ev.content(notify.ContentEvent{BlockID: e.parent, Source: notify.SourceSystem, Fields: []string{notify.FieldTree}})

	m.logger.InfoContext(ctx, "block regenerating", "block", id, "from", from)
	return child.snapshot(), nil
}

// branchable reports whether a new generation may start under p.
func branchable(op string, p *entry) error {
	switch p.b.Status {
	case block.StatusIdle:
		return nil
	case block.StatusLoading:
		return blockErr(op, p.b.ID, p.b.Status, ErrWorkflowInFlight)
	default:
		return blockErr(op, p.b.ID, p.b.Status, ErrInvalidState)
	}
}

// insert publishes a new entry under parent. The caller holds the parent's
// lock.
func (m *Manager) insert(op string, parent, e *entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blocks[parent.b.ID] != parent {
		return blockErr(op, parent.b.ID, "", ErrBlockNotFound)
	}
	if _, taken := m.blocks[e.b.ID]; taken {
		return blockErr(op, e.b.ID, "", fmt.Errorf("generated block id already in use"))
	}
	m.blocks[e.b.ID] = e
	m.metrics.blocks.Inc()
	return nil
}
