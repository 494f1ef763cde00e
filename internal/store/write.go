package store

import (
	"context"
	"fmt"

	"github.com/roach88/loom/internal/notify"
)

var _ notify.Notifier = (*Journal)(nil)

// StatusChanged implements notify.Notifier. Re-delivering an event with a
// seq already stored is a no-op.
func (j *Journal) StatusChanged(ctx context.Context, ev notify.StatusEvent) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO status_events (seq, block_id, from_status, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, ev.Seq, ev.BlockID, string(ev.From), string(ev.Status))
	if err != nil {
		return fmt.Errorf("write status event %d: %w", ev.Seq, err)
	}
	return nil
}

// ContentChanged implements notify.Notifier. The event and its operations
// are written in one transaction.
func (j *Journal) ContentChanged(ctx context.Context, ev notify.ContentEvent) (err error) {
	fields, err := marshalText(nonNil(ev.Fields))
	if err != nil {
		return err
	}
	changed, err := marshalText(nonNil(ev.Changed))
	if err != nil {
		return err
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin content event %d: %w", ev.Seq, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO content_events (seq, block_id, source, fields, changed, digest)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, ev.Seq, ev.BlockID, string(ev.Source), fields, changed, ev.Digest)
	if err != nil {
		return fmt.Errorf("write content event %d: %w", ev.Seq, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already journaled along with its operations.
		return tx.Commit()
	}

	for i, op := range ev.Operations {
		payload, err := marshalText(op)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO operations (content_seq, idx, entity_type, entity_id, op)
			VALUES (?, ?, ?, ?, ?)
		`, ev.Seq, i, string(op.EntityType), op.EntityID, payload)
		if err != nil {
			return fmt.Errorf("write operation %d of event %d: %w", i, ev.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit content event %d: %w", ev.Seq, err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
