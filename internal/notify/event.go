// Package notify carries block change events from the manager to whoever
// listens: a NATS subject tree, the structured log, the SQLite journal.
//
// Events are stamped with a logical sequence number by the manager, so
// consumers can order them without wall-clock timestamps.
package notify

import (
	"context"
	"errors"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/world"
)

// Source says where an applied batch came from.
type Source string

const (
	SourceUser     Source = "user"
	SourceMerge    Source = "merge"
	SourceResolved Source = "resolved"
	SourceSystem   Source = "system"
)

// Field groups a content event may report besides entities.
const (
	FieldContent   = "content"
	FieldGameState = "game_state"
	FieldMetadata  = "metadata"
	FieldWorld     = "world_state"
	FieldTree      = "tree"
)

// StatusEvent reports a block's status after a transition. From is empty
// when the block was just created.
type StatusEvent struct {
	Seq     int64        `json:"seq"`
	BlockID string       `json:"block_id"`
	From    block.Status `json:"from,omitempty"`
	Status  block.Status `json:"status"`
}

// ContentEvent reports what changed in a block.
type ContentEvent struct {
	Seq     int64       `json:"seq"`
	BlockID string      `json:"block_id"`
	Source  Source      `json:"source,omitempty"`
	Changed []world.Ref `json:"changed,omitempty"`
	Fields  []string    `json:"fields,omitempty"`

	// Operations is the applied batch, when the event comes from one.
	Operations []world.Operation `json:"operations,omitempty"`

	// Digest is the content hash of the block's live state afterwards.
	Digest string `json:"digest,omitempty"`
}

// Notifier receives events. Implementations must be safe for concurrent
// use; the manager calls them after releasing block locks.
type Notifier interface {
	StatusChanged(ctx context.Context, ev StatusEvent) error
	ContentChanged(ctx context.Context, ev ContentEvent) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) StatusChanged(context.Context, StatusEvent) error   { return nil }
func (Nop) ContentChanged(context.Context, ContentEvent) error { return nil }

// Multi fans events out to several notifiers. Every notifier sees every
// event; errors are joined.
type Multi []Notifier

// StatusChanged implements Notifier.
func (m Multi) StatusChanged(ctx context.Context, ev StatusEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.StatusChanged(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ContentChanged implements Notifier.
func (m Multi) ContentChanged(ctx context.Context, ev ContentEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.ContentChanged(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
