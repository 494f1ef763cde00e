package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/manager"
	"github.com/roach88/loom/internal/store"
	"github.com/roach88/loom/internal/testutil"
	"github.com/roach88/loom/internal/world"
)

func TestJournalRecordsManagerConflict(t *testing.T) {
	ctx := context.Background()
	j, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	m := manager.New(
		manager.WithNotifier(j),
		manager.WithIDGenerator(testutil.NewListIDs("", "A")),
		manager.WithClock(testutil.NewDeterministicClock()),
		manager.WithNow(testutil.NewSteppedTime(testutil.Epoch, time.Second).Now),
	)

	_, _, err = m.EnqueueOrExecuteAtomicOperations(ctx, block.RootID, []world.Operation{
		world.Create(world.Character, "npc1", ir.Obj(ir.O("hp", ir.Int(100)))),
	})
	require.NoError(t, err)
	_, err = m.CreateChildBlock(ctx, block.RootID, nil)
	require.NoError(t, err)
	_, _, err = m.EnqueueOrExecuteAtomicOperations(ctx, "A", []world.Operation{
		world.Modify(world.Character, "npc1", "hp", world.Subtract, ir.Int(10)),
	})
	require.NoError(t, err)
	out, err := m.HandleWorkflowCompletion(ctx, manager.Completion{
		BlockID: "A",
		Success: true,
		RawText: "The blade bites.",
		Commands: []world.Operation{
			world.Modify(world.Character, "npc1", "hp", world.Subtract, ir.Int(20)),
		},
	})
	require.NoError(t, err)
	require.Equal(t, block.StatusConflict, out.Status)

	hist, err := j.StatusHistory(ctx, "A")
	require.NoError(t, err)
	statuses := make([]block.Status, len(hist))
	for i, ev := range hist {
		statuses[i] = ev.Status
	}
	assert.Equal(t, []block.Status{block.StatusLoading, block.StatusConflict}, statuses)

	content, err := j.ContentHistory(ctx, "A")
	require.NoError(t, err)
	require.NotEmpty(t, content)
	require.Len(t, content[0].Operations, 1)
	assert.Equal(t, "npc1", content[0].Operations[0].EntityID)

	last, err := j.LastSeq(ctx)
	require.NoError(t, err)

	// A resumed manager continues the sequence instead of colliding with it.
	clock := manager.NewClockAt(last)
	assert.Greater(t, clock.Next(), last)
}
