package manager

import (
	"context"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/world"
)

// GetBlock returns a deep copy of the block.
func (m *Manager) GetBlock(ctx context.Context, id string) (*block.Block, error) {
	e, err := m.lock("GetBlock", id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.snapshot(), nil
}

// GetBlocks returns a deep copy of every block. Blocks are copied one at a
// time, so the result is not a single atomic cut of the tree; Save is the
// operation that produces a consistent one.
func (m *Manager) GetBlocks(ctx context.Context) map[string]*block.Block {
	_, span := m.startSpan(ctx, "GetBlocks", "")
	defer span.End()

	out := make(map[string]*block.Block)
	for _, id := range m.blockIDs() {
		if b, err := m.GetBlock(ctx, id); err == nil {
			out[id] = b
		}
	}
	return out
}

// GetNodeOnlyBlocks returns the structure of the tree: links and status,
// no content or world states.
func (m *Manager) GetNodeOnlyBlocks(ctx context.Context) map[string]block.Node {
	out := make(map[string]block.Node)
	for _, id := range m.blockIDs() {
		if n, ok := m.node(id); ok {
			out[id] = n
		}
	}
	return out
}

// GetPathToRoot returns the root-to-leaf path through id, descending along
// last children. A broken tree is logged and yields an empty path.
func (m *Manager) GetPathToRoot(ctx context.Context, id string) (_ []string, err error) {
	const op = "GetPathToRoot"
	ctx, span := m.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()

	if _, ok := m.node(id); !ok {
		return nil, blockErr(op, id, "", ErrBlockNotFound)
	}
	path, err := block.PathToRoot(m.node, id)
	if err != nil {
		m.logger.ErrorContext(ctx, "block tree is inconsistent", "start", id, "error", err)
		return []string{}, nil
	}
	return path, nil
}

// GetSelectedPath follows selected children from the root.
func (m *Manager) GetSelectedPath(ctx context.Context) []string {
	return block.SelectedPath(m.node, block.RootID)
}

// ChildrenPage returns one page of a block's children. perPage 0 uses the
// manager's default.
func (m *Manager) ChildrenPage(ctx context.Context, id string, page, perPage int) (block.Page, error) {
	n, ok := m.node(id)
	if !ok {
		return block.Page{}, blockErr("ChildrenPage", id, "", ErrBlockNotFound)
	}
	if perPage <= 0 {
		perPage = m.perPage
	}
	return block.Paginate(n.Children, page, perPage), nil
}

// Entity reads one entity from the block's live state (the working state
// while Loading). Tombstones are returned with Destroyed set.
func (m *Manager) Entity(ctx context.Context, id string, t world.EntityType, entityID string) (*world.Entity, error) {
	const op = "Entity"
	e, err := m.lock(op, id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	ent, ok := e.b.Live().Get(t, entityID)
	if !ok {
		return nil, blockErr(op, id, e.b.Status, &world.Error{
			Code:       world.CodeNotFound,
			Message:    "entity not found",
			EntityType: t,
			EntityID:   entityID,
		})
	}
	return ent.Clone(), nil
}

// Exists reports whether a block with id is in the tree.
func (m *Manager) Exists(id string) bool {
	_, ok := m.node(id)
	return ok
}
