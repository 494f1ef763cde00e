// Package manager is the public surface over the block tree.
//
// Locking model:
//   - every block has its own mutex; operations on unrelated blocks never
//     wait on each other
//   - GameState has a second, separate mutex per block so side-channel
//     writes never wait on narrative work
//   - the id -> entry map has an RWMutex held only for lookups, inserts and
//     removals; it is always the last lock taken
//
// When an operation needs several blocks it locks them top-down: parent,
// then child, then descendants in pre-order. Tree walks (paths, listings,
// save) lock one block at a time and never hold two.
//
// Notifications are collected while locks are held and delivered after
// they are released.
package manager

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/notify"
)

// TracerName is the instrumentation scope of the manager's spans.
const TracerName = "loom/manager"

// entry is one block plus its locks.
type entry struct {
	mu sync.Mutex
	b  *block.Block // b.GameState is unused; see gameState

	gsMu      sync.Mutex
	gameState ir.Object

	// parent is fixed for the life of the entry.
	parent string

	deleted atomic.Bool
}

func newEntry(b *block.Block) *entry {
	gs := b.GameState
	if gs == nil {
		gs = ir.Object{}
	}
	b.GameState = nil
	return &entry{b: b, gameState: gs, parent: b.ParentID}
}

// gameStateCopy returns a deep copy of the game state under gsMu.
func (e *entry) gameStateCopy() ir.Object {
	e.gsMu.Lock()
	defer e.gsMu.Unlock()
	return e.gameState.Clone()
}

// snapshot returns a deep copy with GameState filled in. Callers hold e.mu.
func (e *entry) snapshot() *block.Block {
	cp := e.b.Clone()
	cp.GameState = e.gameStateCopy()
	return cp
}

// Manager owns the block tree.
type Manager struct {
	mu     sync.RWMutex
	blocks map[string]*entry

	logger   *slog.Logger
	notifier notify.Notifier
	ids      block.IDGenerator
	clock    Clock
	now      NowFunc
	tracer   trace.Tracer
	metrics  *Metrics
	perPage  int
}

// New returns a manager holding only the super-root block.
func New(opts ...Option) *Manager {
	m := &Manager{
		blocks:   make(map[string]*entry),
		logger:   slog.Default(),
		notifier: notify.Nop{},
		ids:      block.UUIDv7Generator{},
		clock:    NewClock(),
		now:      time.Now,
		perPage:  block.DefaultPerPage,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(TracerName)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}

	root := block.NewRoot()
	root.Metadata[block.MetaCreatedAt] = m.stamp()
	m.blocks[root.ID] = newEntry(root)
	m.metrics.blocks.Set(1)
	return m
}

func (m *Manager) stamp() string {
	return m.now().UTC().Format(time.RFC3339Nano)
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.blocks[id]
	return e, ok
}

// lock returns the entry for id with its mutex held.
func (m *Manager) lock(op, id string) (*entry, error) {
	e, ok := m.lookup(id)
	if !ok {
		return nil, blockErr(op, id, "", ErrBlockNotFound)
	}
	e.mu.Lock()
	if e.deleted.Load() {
		e.mu.Unlock()
		return nil, blockErr(op, id, "", ErrBlockNotFound)
	}
	return e, nil
}

// node is the block.Lookup the path queries walk with.
func (m *Manager) node(id string) (block.Node, bool) {
	e, ok := m.lookup(id)
	if !ok {
		return block.Node{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted.Load() {
		return block.Node{}, false
	}
	return e.b.Node(), true
}

// blockIDs returns every block id currently in the map, sorted.
func (m *Manager) blockIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ir.SortedKeys(m.blocks)
}

func (m *Manager) startSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("loom.op", op)}
	if id != "" {
		attrs = append(attrs, attribute.String("loom.block_id", id))
	}
	return m.tracer.Start(ctx, "manager."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// events buffers notifications produced under lock. Sequence numbers are
// assigned when the change happens, delivery waits for flush.
type events struct {
	m    *Manager
	list []event
}

type event struct {
	status  *notify.StatusEvent
	content *notify.ContentEvent
}

func (m *Manager) newEvents() *events {
	return &events{m: m}
}

func (ev *events) status(id string, from, to block.Status) {
	if from != "" {
		ev.m.metrics.transition(from, to)
	}
	ev.list = append(ev.list, event{status: &notify.StatusEvent{
		Seq:     ev.m.clock.Next(),
		BlockID: id,
		From:    from,
		Status:  to,
	}})
}

func (ev *events) content(c notify.ContentEvent) {
	c.Seq = ev.m.clock.Next()
	ev.list = append(ev.list, event{content: &c})
}

// flush delivers the buffered events. Delivery failures are logged, never
// returned: the change they describe has already happened.
func (ev *events) flush(ctx context.Context) {
	for _, e := range ev.list {
		switch {
		case e.status != nil:
			if err := ev.m.notifier.StatusChanged(ctx, *e.status); err != nil {
				ev.m.logger.WarnContext(ctx, "status notification failed",
					"block", e.status.BlockID, "seq", e.status.Seq, "error", err)
			}
		case e.content != nil:
			if err := ev.m.notifier.ContentChanged(ctx, *e.content); err != nil {
				ev.m.logger.WarnContext(ctx, "content notification failed",
					"block", e.content.BlockID, "seq", e.content.Seq, "error", err)
			}
		}
	}
	ev.list = nil
}

// Len returns the number of blocks, root included.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}
