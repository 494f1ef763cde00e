package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/notify"
	"github.com/roach88/loom/internal/world"
)

// Kind tells the two journal tables apart in a timeline.
type Kind string

const (
	KindStatus  Kind = "status"
	KindContent Kind = "content"
)

// Entry is one journal row. Exactly one of Status and Content is set,
// matching Kind.
type Entry struct {
	Seq     int64
	BlockID string
	Kind    Kind
	Status  *notify.StatusEvent
	Content *notify.ContentEvent
}

// StatusHistory returns a block's status transitions in seq order.
// Returns an empty slice, not nil, when the block has none.
func (j *Journal) StatusHistory(ctx context.Context, blockID string) ([]notify.StatusEvent, error) {
	return j.statusWhere(ctx, "WHERE block_id = ?", blockID)
}

// ContentHistory returns a block's content events in seq order, each with
// its operations in batch order.
func (j *Journal) ContentHistory(ctx context.Context, blockID string) ([]notify.ContentEvent, error) {
	events, err := j.contentWhere(ctx, "WHERE block_id = ?", blockID)
	if err != nil {
		return nil, err
	}
	out := make([]notify.ContentEvent, len(events))
	for i, ev := range events {
		out[i] = *ev
	}
	return out, nil
}

// Timeline merges both tables in seq order. An empty blockID returns the
// whole journal; afterSeq skips everything at or below it.
func (j *Journal) Timeline(ctx context.Context, blockID string, afterSeq int64) ([]Entry, error) {
	where := []string{"seq > ?"}
	args := []any{afterSeq}
	if blockID != "" {
		where = append(where, "block_id = ?")
		args = append(args, blockID)
	}
	clause := "WHERE " + strings.Join(where, " AND ")

	statuses, err := j.statusWhere(ctx, clause, args...)
	if err != nil {
		return nil, err
	}
	contents, err := j.contentWhere(ctx, clause, args...)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(statuses)+len(contents))
	si, ci := 0, 0
	for si < len(statuses) || ci < len(contents) {
		if ci == len(contents) || (si < len(statuses) && statuses[si].Seq < contents[ci].Seq) {
			s := statuses[si]
			out = append(out, Entry{Seq: s.Seq, BlockID: s.BlockID, Kind: KindStatus, Status: &s})
			si++
			continue
		}
		c := contents[ci]
		out = append(out, Entry{Seq: c.Seq, BlockID: c.BlockID, Kind: KindContent, Content: c})
		ci++
	}
	return out, nil
}

// BlockIDs returns every block id the journal mentions, sorted.
func (j *Journal) BlockIDs(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT block_id FROM status_events
		UNION
		SELECT block_id FROM content_events
		ORDER BY block_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query block ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan block id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (j *Journal) statusWhere(ctx context.Context, clause string, args ...any) ([]notify.StatusEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, block_id, from_status, status
		FROM status_events
		`+clause+`
		ORDER BY seq ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query status events: %w", err)
	}
	defer rows.Close()

	out := []notify.StatusEvent{}
	for rows.Next() {
		ev, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status events: %w", err)
	}
	return out, nil
}

func scanStatus(rows *sql.Rows) (notify.StatusEvent, error) {
	var (
		ev         notify.StatusEvent
		from, stat string
	)
	if err := rows.Scan(&ev.Seq, &ev.BlockID, &from, &stat); err != nil {
		return ev, fmt.Errorf("scan status event: %w", err)
	}
	ev.From = block.Status(from)
	ev.Status = block.Status(stat)
	return ev, nil
}

// contentWhere loads content events and then their operations. The two
// queries run back to back on the single connection.
func (j *Journal) contentWhere(ctx context.Context, clause string, args ...any) ([]*notify.ContentEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, block_id, source, fields, changed, digest
		FROM content_events
		`+clause+`
		ORDER BY seq ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query content events: %w", err)
	}

	out := []*notify.ContentEvent{}
	bySeq := make(map[int64]*notify.ContentEvent)
	for rows.Next() {
		var (
			ev              notify.ContentEvent
			source          string
			fields, changed string
		)
		if err := rows.Scan(&ev.Seq, &ev.BlockID, &source, &fields, &changed, &ev.Digest); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan content event: %w", err)
		}
		ev.Source = notify.Source(source)
		if err := unmarshalText(fields, &ev.Fields); err != nil {
			rows.Close()
			return nil, err
		}
		if err := unmarshalText(changed, &ev.Changed); err != nil {
			rows.Close()
			return nil, err
		}
		if len(ev.Fields) == 0 {
			ev.Fields = nil
		}
		if len(ev.Changed) == 0 {
			ev.Changed = nil
		}
		p := &ev
		out = append(out, p)
		bySeq[ev.Seq] = p
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate content events: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	if err := j.attachOperations(ctx, bySeq, out[0].Seq, out[len(out)-1].Seq); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *Journal) attachOperations(ctx context.Context, bySeq map[int64]*notify.ContentEvent, lo, hi int64) error {
	rows, err := j.db.QueryContext(ctx, `
		SELECT content_seq, op
		FROM operations
		WHERE content_seq BETWEEN ? AND ?
		ORDER BY content_seq ASC, idx ASC
	`, lo, hi)
	if err != nil {
		return fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int64
			payload string
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return fmt.Errorf("scan operation: %w", err)
		}
		ev, ok := bySeq[seq]
		if !ok {
			continue
		}
		var op world.Operation
		if err := unmarshalText(payload, &op); err != nil {
			return err
		}
		ev.Operations = append(ev.Operations, op)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate operations: %w", err)
	}
	return nil
}
