package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/notify"
	"github.com/roach88/loom/internal/world"
)

// createTestJournal opens a journal in a temporary directory that is
// removed when the test ends.
func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpenAppliesPragmas(t *testing.T) {
	j := createTestJournal(t)

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		if err := j.verifyPragma(tt.name, tt.want); err != nil {
			t.Errorf("verifyPragma(%s): %v", tt.name, err)
		}
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	j := createTestJournal(t)

	for _, table := range []string{"status_events", "content_events", "operations"} {
		var name string
		err := j.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	var version int
	require.NoError(t, j.DB().QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, len(migrations), version)

	var idx string
	err := j.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_content_events_block'`).Scan(&idx)
	assert.NoError(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.StatusChanged(ctx, notify.StatusEvent{Seq: 1, BlockID: "A", Status: block.StatusIdle}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	hist, err := j.StatusHistory(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	_, err = j.DB().Exec(fmt.Sprintf("PRAGMA user_version = %d", len(migrations)+1))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than this build")
}

func TestCloseNilDB(t *testing.T) {
	var j Journal
	assert.NoError(t, j.Close())
}

func TestStatusHistory(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	events := []notify.StatusEvent{
		{Seq: 3, BlockID: "A", From: block.StatusLoading, Status: block.StatusConflict},
		{Seq: 1, BlockID: "A", Status: block.StatusLoading},
		{Seq: 2, BlockID: "B", Status: block.StatusIdle},
	}
	for _, ev := range events {
		require.NoError(t, j.StatusChanged(ctx, ev))
	}

	hist, err := j.StatusHistory(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []notify.StatusEvent{events[1], events[0]}, hist, "ordered by seq, not insertion")

	hist, err = j.StatusHistory(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, hist)
	assert.Empty(t, hist)
}

func TestContentRoundTrip(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	ops := []world.Operation{
		world.Create(world.Item, "letter", ir.Obj(ir.O("text", ir.String("<sealed> & kept")))),
		world.Modify(world.Character, "npc1", "hp", world.Subtract, ir.Int(10)),
		world.Delete(world.Place, "cellar"),
	}
	ev := notify.ContentEvent{
		Seq:     7,
		BlockID: "A",
		Source:  notify.SourceUser,
		Changed: []world.Ref{
			{Type: world.Character, ID: "npc1"},
			{Type: world.Item, ID: "letter"},
			{Type: world.Place, ID: "cellar"},
		},
		Fields:     []string{notify.FieldWorld},
		Operations: ops,
		Digest:     "abc123",
	}
	require.NoError(t, j.ContentChanged(ctx, ev))

	hist, err := j.ContentHistory(ctx, "A")
	require.NoError(t, err)
	require.Len(t, hist, 1)

	got := hist[0]
	assert.Equal(t, ev.Seq, got.Seq)
	assert.Equal(t, ev.Source, got.Source)
	assert.Equal(t, ev.Changed, got.Changed)
	assert.Equal(t, ev.Fields, got.Fields)
	assert.Equal(t, ev.Digest, got.Digest)
	require.Len(t, got.Operations, len(ops))
	for i := range ops {
		assert.Equal(t, ops[i].String(), got.Operations[i].String(), "operation %d", i)
	}

	var raw string
	require.NoError(t, j.DB().QueryRow(`SELECT op FROM operations WHERE content_seq = 7 AND idx = 0`).Scan(&raw))
	assert.Contains(t, raw, "<sealed> & kept", "html is not escaped")
}

func TestContentWithoutOperations(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	require.NoError(t, j.ContentChanged(ctx, notify.ContentEvent{
		Seq: 1, BlockID: block.RootID, Source: notify.SourceSystem,
	}))

	hist, err := j.ContentHistory(ctx, block.RootID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Nil(t, hist[0].Fields)
	assert.Nil(t, hist[0].Changed)
	assert.Nil(t, hist[0].Operations)
}

func TestRedeliveryIsIgnored(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	ev := notify.ContentEvent{
		Seq:        4,
		BlockID:    "A",
		Operations: []world.Operation{world.Create(world.Item, "coin", nil)},
	}
	require.NoError(t, j.ContentChanged(ctx, ev))
	require.NoError(t, j.ContentChanged(ctx, ev))

	st := notify.StatusEvent{Seq: 5, BlockID: "A", Status: block.StatusIdle}
	require.NoError(t, j.StatusChanged(ctx, st))
	require.NoError(t, j.StatusChanged(ctx, st))

	var ops, statuses int
	require.NoError(t, j.DB().QueryRow(`SELECT COUNT(*) FROM operations`).Scan(&ops))
	require.NoError(t, j.DB().QueryRow(`SELECT COUNT(*) FROM status_events`).Scan(&statuses))
	assert.Equal(t, 1, ops)
	assert.Equal(t, 1, statuses)
}

func TestTimelineAndLastSeq(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	seq, err := j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, j.StatusChanged(ctx, notify.StatusEvent{Seq: 1, BlockID: "A", Status: block.StatusLoading}))
	require.NoError(t, j.ContentChanged(ctx, notify.ContentEvent{Seq: 2, BlockID: block.RootID, Fields: []string{notify.FieldTree}}))
	require.NoError(t, j.ContentChanged(ctx, notify.ContentEvent{Seq: 3, BlockID: "A", Fields: []string{notify.FieldWorld}}))
	require.NoError(t, j.StatusChanged(ctx, notify.StatusEvent{Seq: 4, BlockID: "A", From: block.StatusLoading, Status: block.StatusIdle}))

	all, err := j.Timeline(ctx, "", 0)
	require.NoError(t, err)
	kinds := make([]Kind, len(all))
	for i, e := range all {
		kinds[i] = e.Kind
		assert.Equal(t, int64(i+1), e.Seq)
	}
	assert.Equal(t, []Kind{KindStatus, KindContent, KindContent, KindStatus}, kinds)
	assert.NotNil(t, all[0].Status)
	assert.Nil(t, all[0].Content)

	forA, err := j.Timeline(ctx, "A", 1)
	require.NoError(t, err)
	require.Len(t, forA, 2)
	assert.Equal(t, int64(3), forA[0].Seq)
	assert.Equal(t, block.StatusIdle, forA[1].Status.Status)

	seq, err = j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)

	ids, err := j.BlockIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", block.RootID}, ids)
}
