package notify

import (
	"context"
	"sync"
)

// Recorder keeps every event in memory. Tests and the scenario harness use
// it to assert on what was emitted. The zero value is ready to use.
type Recorder struct {
	mu       sync.Mutex
	statuses []StatusEvent
	contents []ContentEvent
}

// StatusChanged implements Notifier.
func (r *Recorder) StatusChanged(_ context.Context, ev StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, ev)
	return nil
}

// ContentChanged implements Notifier.
func (r *Recorder) ContentChanged(_ context.Context, ev ContentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contents = append(r.contents, ev)
	return nil
}

// Statuses returns a copy of the status events seen so far.
func (r *Recorder) Statuses() []StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusEvent(nil), r.statuses...)
}

// Contents returns a copy of the content events seen so far.
func (r *Recorder) Contents() []ContentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ContentEvent(nil), r.contents...)
}

// StatusesFor filters status events by block.
func (r *Recorder) StatusesFor(blockID string) []StatusEvent {
	var out []StatusEvent
	for _, ev := range r.Statuses() {
		if ev.BlockID == blockID {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = nil
	r.contents = nil
}
