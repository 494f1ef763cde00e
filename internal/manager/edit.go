package manager

import (
	"context"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/notify"
)

// UpdateBlockGameState merges updates into the block's GameState whatever
// the block's status. A Null value removes the key. Concurrent writers are
// last-writer-wins per key.
//
// Only the GameState lock is taken, so this never waits on a completion or
// a batch of operations.
func (m *Manager) UpdateBlockGameState(ctx context.Context, id string, updates ir.Object) (err error) {
	const op = "UpdateBlockGameState"
	ctx, span := m.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()

	e, ok := m.lookup(id)
	if !ok || e.deleted.Load() {
		return blockErr(op, id, "", ErrBlockNotFound)
	}

	ev := m.newEvents()
	e.gsMu.Lock()
	for k, v := range updates {
		k = ir.Normalize(k)
		if _, null := v.(ir.Null); null || v == nil {
			delete(e.gameState, k)
			continue
		}
		e.gameState[k] = ir.Clone(v)
	}
	ev.content(notify.ContentEvent{BlockID: id, Source: notify.SourceUser, Fields: []string{notify.FieldGameState}})
	e.gsMu.Unlock()

	ev.flush(ctx)
	return nil
}

// GameState returns a copy of the block's GameState.
func (m *Manager) GameState(ctx context.Context, id string) (ir.Object, error) {
	e, ok := m.lookup(id)
	if !ok || e.deleted.Load() {
		return nil, blockErr("GameState", id, "", ErrBlockNotFound)
	}
	e.gsMu.Lock()
	defer e.gsMu.Unlock()
	return e.gameState.Clone(), nil
}

// UpdateBlockContent replaces the narrative text of an Idle block.
func (m *Manager) UpdateBlockContent(ctx context.Context, id, content string) (err error) {
	const op = "UpdateBlockContent"
	ctx, span := m.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()

	ev := m.newEvents()
	defer ev.flush(ctx)

	e, err := m.lock(op, id)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if e.b.Status != block.StatusIdle {
		return blockErr(op, id, e.b.Status, ErrInvalidState)
	}
	e.b.Content = content
	ev.content(notify.ContentEvent{BlockID: id, Source: notify.SourceUser, Fields: []string{notify.FieldContent}})
	return nil
}

// SelectChild makes id the selected child of its parent, so the selected
// path runs through it.
func (m *Manager) SelectChild(ctx context.Context, id string) (err error) {
	const op = "SelectChild"
	ctx, span := m.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()

	if id == block.RootID {
		return blockErr(op, id, "", ErrRootBlock)
	}
	e, ok := m.lookup(id)
	if !ok {
		return blockErr(op, id, "", ErrBlockNotFound)
	}

	ev := m.newEvents()
	defer ev.flush(ctx)

	parent, err := m.lock(op, e.parent)
	if err != nil {
		return err
	}
	defer parent.mu.Unlock()

	if err := parent.b.Select(id); err != nil {
		return blockErr(op, id, "", ErrBlockNotFound)
	}
	ev.content(notify.ContentEvent{BlockID: e.parent, Source: notify.SourceUser, Fields: []string{notify.FieldTree}})
	return nil
}
