// Package store keeps an append-only SQLite journal of everything the
// manager reports: status transitions, applied operation batches and
// GameState or content edits.
//
// The journal is a notify.Notifier, so it is attached to a manager like any
// other listener. It is an audit trail, not the source of truth: the tree
// itself is persisted by archives.
//
// # Ordering
//
// Every row carries the manager's logical sequence number. Queries order by
// seq only, never by wall time, so two runs of the same scenario produce
// identical journals.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: operations rows must reference their batch
package store
