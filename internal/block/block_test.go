package block

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/world"
)

func sampleState(t *testing.T) *world.State {
	t.Helper()
	s := world.NewState()
	require.NoError(t, s.Apply(world.Create(world.Character, "npc1", ir.Obj(ir.O("hp", ir.Int(100))))))
	return s
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusIdle, StatusLoading, true},
		{StatusIdle, StatusConflict, false},
		{StatusIdle, StatusError, false},
		{StatusLoading, StatusIdle, true},
		{StatusLoading, StatusConflict, true},
		{StatusLoading, StatusError, true},
		{StatusConflict, StatusIdle, true},
		{StatusConflict, StatusError, true},
		{StatusConflict, StatusLoading, false},
		{StatusError, StatusLoading, true},
		{StatusError, StatusIdle, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStatusAcceptsEdits(t *testing.T) {
	assert.True(t, StatusIdle.AcceptsEdits())
	assert.True(t, StatusLoading.AcceptsEdits())
	assert.False(t, StatusConflict.AcceptsEdits())
	assert.False(t, StatusError.AcceptsEdits())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("conflict")
	require.NoError(t, err)
	assert.Equal(t, StatusConflict, s)

	_, err = ParseStatus("done")
	assert.Error(t, err)
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	b := NewIdle("b", RootID, world.NewState())
	err := b.Transition(StatusConflict)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, StatusIdle, b.Status)
}

func TestNewLoadingCapturesIndependentInput(t *testing.T) {
	parent := sampleState(t)
	b := NewLoading("b", RootID, parent)

	require.Equal(t, StatusLoading, b.Status)
	assert.True(t, parent.Equal(b.Input))
	assert.True(t, parent.Equal(b.PostUser))
	assert.Nil(t, b.PostAI)

	require.NoError(t, b.PostUser.Apply(world.Modify(world.Character, "npc1", "hp", world.Assign, ir.Int(1))))
	assert.True(t, parent.Equal(b.Input), "working state is not the input")

	require.NoError(t, parent.Apply(world.Delete(world.Character, "npc1")))
	_, ok := b.Input.Live(world.Character, "npc1")
	assert.True(t, ok, "input is not the parent's state")
}

func TestSettleAndBeginLoading(t *testing.T) {
	b := NewLoading("b", RootID, sampleState(t))
	b.Pending = []world.Operation{world.Delete(world.Character, "npc1")}

	merged := sampleState(t)
	require.NoError(t, merged.Apply(world.Create(world.Item, "sword", nil)))
	require.NoError(t, b.Settle(merged))

	assert.Equal(t, StatusIdle, b.Status)
	assert.Nil(t, b.Pending)
	assert.True(t, merged.Equal(b.Live()))
	assert.NotSame(t, b.PostAI, b.PostUser)

	require.NoError(t, b.BeginLoading(world.NewState()))
	assert.Equal(t, StatusLoading, b.Status)
	assert.Nil(t, b.PostAI)
	assert.Equal(t, 0, b.Live().Len())
}

func TestFailRecordsReason(t *testing.T) {
	b := NewLoading("b", RootID, world.NewState())
	require.NoError(t, b.Fail("workflow failed"))
	assert.Equal(t, StatusError, b.Status)
	assert.Equal(t, "workflow failed", b.Metadata[MetaError])

	assert.ErrorIs(t, b.Fail("again"), ErrIllegalTransition)
}

func TestAbandonKeepsUserEdits(t *testing.T) {
	b := NewLoading("b", RootID, sampleState(t))
	require.NoError(t, b.PostUser.Apply(world.Modify(world.Character, "npc1", "hp", world.Assign, ir.Int(5))))

	require.NoError(t, b.Abandon())
	npc, _ := b.Live().Live(world.Character, "npc1")
	assert.Equal(t, ir.Int(5), npc.Attributes["hp"])
	assert.True(t, b.Input.Equal(b.PostAI))
}

func TestChildSelection(t *testing.T) {
	b := NewRoot()
	b.AddChild("a")
	b.AddChild("b")
	b.AddChild("c")
	assert.Equal(t, "c", b.SelectedChild, "newest child is selected")

	require.NoError(t, b.Select("a"))
	assert.Error(t, b.Select("zzz"))

	b.RemoveChild("a")
	assert.Equal(t, []string{"b", "c"}, b.Children)
	assert.Equal(t, "b", b.SelectedChild, "selection falls back to first child")

	b.RemoveChild("c")
	assert.Equal(t, "b", b.SelectedChild)

	b.RemoveChild("b")
	assert.Empty(t, b.Children)
	assert.Empty(t, b.SelectedChild)
}

func TestCloneIsDeep(t *testing.T) {
	b := NewLoading("b", RootID, sampleState(t))
	b.Children = []string{"c1"}
	b.Metadata["k"] = "v"
	b.GameState = ir.Obj(ir.O("turn", ir.Int(1)))
	b.Pending = []world.Operation{world.Create(world.Item, "x", ir.Obj(ir.O("n", ir.Int(1))))}
	b.Conflict = &Conflict{AI: []world.Operation{world.Delete(world.Item, "x")}}

	cp := b.Clone()
	cp.Children[0] = "other"
	cp.Metadata["k"] = "changed"
	cp.GameState["turn"] = ir.Int(2)
	cp.Pending[0].Attributes["n"] = ir.Int(2)
	cp.Conflict.AI[0].EntityID = "y"
	require.NoError(t, cp.PostUser.Apply(world.Delete(world.Character, "npc1")))

	assert.Equal(t, []string{"c1"}, b.Children)
	assert.Equal(t, "v", b.Metadata["k"])
	assert.Equal(t, ir.Int(1), b.GameState["turn"])
	assert.Equal(t, ir.Int(1), b.Pending[0].Attributes["n"])
	assert.Equal(t, "x", b.Conflict.AI[0].EntityID)
	_, ok := b.PostUser.Live(world.Character, "npc1")
	assert.True(t, ok)
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.True(t, strings.HasPrefix(a, IDPrefix))
	assert.Len(t, a, len(IDPrefix)+36)
	assert.NotEqual(t, a, b)
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("")
	assert.Equal(t, "blk_1", g.Generate())
	assert.Equal(t, "blk_2", g.Generate())

	g = NewSequenceGenerator("n")
	var wg sync.WaitGroup
	ids := make(chan string, 100)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				ids <- g.Generate()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 100)
}
