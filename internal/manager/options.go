package manager

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/notify"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithNotifier sets where status and content events go. Default: discard.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithIDGenerator sets the block id source. Default: block.UUIDv7Generator.
//
// Use block.NewSequenceGenerator for deterministic runs.
func WithIDGenerator(g block.IDGenerator) Option {
	return func(m *Manager) {
		m.ids = g
	}
}

// WithClock sets the event sequence clock.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithNow sets the wall clock used for creation stamps and archives.
func WithNow(now NowFunc) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithTracer overrides the global "loom/manager" tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// WithMetrics sets the collectors. Default: NewMetrics(nil).
func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithChildrenPerPage sets the page size ChildrenPage uses when the caller
// passes zero.
func WithChildrenPerPage(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.perPage = n
		}
	}
}
