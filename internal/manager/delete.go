package manager

import (
	"context"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/notify"
)

// DeleteBlock removes a block and, when recursive, its whole subtree.
// Without recursive a block with children is refused with ErrHasChildren.
// Without force every removed block must be Idle or Error; force deletes
// blocks mid-generation, and a later completion for them reports
// ErrBlockNotFound.
//
// It returns the removed ids, parents before children.
func (m *Manager) DeleteBlock(ctx context.Context, id string, recursive, force bool) (_ []string, err error) {
	const op = "DeleteBlock"
	ctx, span := m.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()

	if id == block.RootID {
		return nil, blockErr(op, id, "", ErrRootBlock)
	}
	target, ok := m.lookup(id)
	if !ok {
		return nil, blockErr(op, id, "", ErrBlockNotFound)
	}

	ev := m.newEvents()
	defer ev.flush(ctx)

	parent, err := m.lock(op, target.parent)
	if err != nil {
		return nil, err
	}
	defer parent.mu.Unlock()

	target.mu.Lock()
	if target.deleted.Load() {
		target.mu.Unlock()
		return nil, blockErr(op, id, "", ErrBlockNotFound)
	}
	locked := []*entry{target}
	defer func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}()

	if len(target.b.Children) > 0 && !recursive {
		return nil, blockErr(op, id, target.b.Status, ErrHasChildren)
	}

	// Lock the subtree top-down, breadth first.
	for i := 0; i < len(locked); i++ {
		for _, cid := range locked[i].b.Children {
			child, ok := m.lookup(cid)
			if !ok {
				m.logger.WarnContext(ctx, "dangling child during delete", "block", locked[i].b.ID, "child", cid)
				continue
			}
			child.mu.Lock()
			locked = append(locked, child)
		}
	}

	if !force {
		for _, e := range locked {
			if st := e.b.Status; st != block.StatusIdle && st != block.StatusError {
				return nil, blockErr(op, e.b.ID, st, ErrInvalidState)
			}
		}
	}

	removed := make([]string, len(locked))
	m.mu.Lock()
	for i, e := range locked {
		e.deleted.Store(true)
		if m.blocks[e.b.ID] == e {
			delete(m.blocks, e.b.ID)
		}
		removed[i] = e.b.ID
	}
	m.mu.Unlock()
	m.metrics.blocks.Sub(float64(len(removed)))

	parent.b.RemoveChild(id)
	ev.content(notify.ContentEvent{BlockID: target.parent, Source: notify.SourceSystem, Fields: []string{notify.FieldTree}})

	m.logger.InfoContext(ctx, "blocks deleted", "block", id, "count", len(removed), "forced", force)
	return removed, nil
}
