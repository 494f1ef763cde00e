package notify

import (
	"context"
	"log/slog"
	"sync"
)

// item is one queued event; exactly one of status/content is set.
type item struct {
	status  *StatusEvent
	content *ContentEvent
}

// queue is an unbounded FIFO with a coalescing wake-up signal.
//
// Unbounded so that a slow sink (a NATS round trip, an fsync) never blocks
// the manager.
type queue struct {
	mu     sync.Mutex
	items  []item
	closed bool
	signal chan struct{} // buffered, size 1
}

func newQueue() *queue {
	return &queue{
		items:  make([]item, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// push returns false once the queue is closed.
func (q *queue) push(it item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, it)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *queue) tryPop() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item{}, false
	}
	it := q.items[0]
	// Clear the slot so the backing array does not pin event payloads.
	q.items[0] = item{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return it, true
}

// drained reports closed and empty.
func (q *queue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Async decouples the manager from a slow Notifier. Events are queued in
// call order and delivered by Run from a single goroutine, so the inner
// notifier sees them in order and never concurrently.
type Async struct {
	inner  Notifier
	q      *queue
	logger *slog.Logger
	done   chan struct{}
}

// NewAsync wraps inner. Call Run in its own goroutine.
func NewAsync(inner Notifier, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{
		inner:  inner,
		q:      newQueue(),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// StatusChanged queues the event.
func (a *Async) StatusChanged(_ context.Context, ev StatusEvent) error {
	if !a.q.push(item{status: &ev}) {
		a.logger.Warn("status event dropped: notifier stopped", "block", ev.BlockID, "seq", ev.Seq)
	}
	return nil
}

// ContentChanged queues the event.
func (a *Async) ContentChanged(_ context.Context, ev ContentEvent) error {
	if !a.q.push(item{content: &ev}) {
		a.logger.Warn("content event dropped: notifier stopped", "block", ev.BlockID, "seq", ev.Seq)
	}
	return nil
}

// Run delivers queued events until Stop is called and the queue drains, or
// ctx is cancelled. Delivery errors are logged and delivery continues.
func (a *Async) Run(ctx context.Context) error {
	defer close(a.done)
	for {
		if it, ok := a.q.tryPop(); ok {
			a.deliver(ctx, it)
			continue
		}
		select {
		case <-ctx.Done():
			a.q.close()
			return ctx.Err()
		case <-a.q.signal:
			if a.q.drained() {
				return nil
			}
		}
	}
}

// Stop closes the queue and waits for Run to deliver what is left. Run must
// have been started.
func (a *Async) Stop() {
	a.q.close()
	<-a.done
}

func (a *Async) deliver(ctx context.Context, it item) {
	var err error
	switch {
	case it.status != nil:
		err = a.inner.StatusChanged(ctx, *it.status)
		if err != nil {
			a.logger.Warn("status notification failed", "block", it.status.BlockID, "seq", it.status.Seq, "error", err)
		}
	case it.content != nil:
		err = a.inner.ContentChanged(ctx, *it.content)
		if err != nil {
			a.logger.Warn("content notification failed", "block", it.content.BlockID, "seq", it.content.Seq, "error", err)
		}
	}
}
