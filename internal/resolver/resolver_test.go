package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/world"
)

func ancestor(t *testing.T) *world.State {
	t.Helper()
	s := world.NewState()
	rs := s.ApplyAll([]world.Operation{
		world.Create(world.Character, "npc1", ir.Obj(ir.O("hp", ir.Int(100)), ir.O("mood", ir.String("calm")))),
		world.Create(world.Item, "sword", nil),
		world.Create(world.Place, "tavern", nil),
	})
	require.True(t, rs.OK())
	return s
}

func applyMerged(t *testing.T, input *world.State, ops []world.Operation) *world.State {
	t.Helper()
	out := input.Clone()
	rs := out.ApplyAll(ops)
	require.True(t, rs.OK(), "merged list must apply cleanly: %v", rs.Err())
	return out
}

func TestDisjointStreamsMerge(t *testing.T) {
	input := ancestor(t)
	ai := []world.Operation{
		world.Modify(world.Character, "npc1", "hp", world.Add, ir.Int(-20)),
		world.Create(world.Item, "shield", nil),
	}
	user := []world.Operation{
		world.Modify(world.Character, "npc1", "mood", world.Assign, ir.String("angry")),
		world.Delete(world.Place, "tavern"),
	}

	res := Resolve(input, ai, user)
	require.False(t, res.Blocking)
	assert.Equal(t, append(append([]world.Operation{}, ai...), user...), res.Merged)
	assert.Empty(t, res.ConflictingAI)
	assert.Empty(t, res.ConflictingUser)

	merged := applyMerged(t, input, res.Merged)

	// Order independence: user-first gives the same state.
	userFirst := input.Clone()
	require.True(t, userFirst.ApplyAll(user).OK())
	require.True(t, userFirst.ApplyAll(ai).OK())
	assert.True(t, merged.Equal(userFirst))

	npc, _ := merged.Live(world.Character, "npc1")
	assert.Equal(t, ir.Int(80), npc.Attributes["hp"])
	assert.Equal(t, ir.String("angry"), npc.Attributes["mood"])
}

func TestNPCHealthScenario(t *testing.T) {
	input := ancestor(t)
	ai := []world.Operation{world.Modify(world.Character, "npc1", "hp", world.Add, ir.Int(-20))}
	user := []world.Operation{world.Modify(world.Character, "npc1", "hp", world.Assign, ir.Int(50))}

	res := Resolve(input, ai, user)
	require.True(t, res.Blocking)
	assert.Nil(t, res.Merged)
	assert.Equal(t, ai, res.AI)
	assert.Equal(t, user, res.User)
	assert.Equal(t, ai, res.ConflictingAI)
	assert.Equal(t, user, res.ConflictingUser)
}

func TestModifyDifferentKeysIsIndependent(t *testing.T) {
	res := Resolve(ancestor(t),
		[]world.Operation{world.Modify(world.Character, "npc1", "hp", world.Assign, ir.Int(1))},
		[]world.Operation{world.Modify(world.Character, "npc1", "mood", world.Assign, ir.String("x"))},
	)
	assert.False(t, res.Blocking)
	assert.Len(t, res.Merged, 2)
}

func TestCreateCreateRenamesUserEntity(t *testing.T) {
	input := ancestor(t)
	ai := []world.Operation{
		world.Create(world.Item, "gem", ir.Obj(ir.O("color", ir.String("red")))),
	}
	user := []world.Operation{
		world.Create(world.Item, "gem", ir.Obj(ir.O("color", ir.String("blue")))),
		world.Modify(world.Item, "gem", "color", world.Assign, ir.String("green")),
	}

	res := Resolve(input, ai, user)
	require.False(t, res.Blocking, "create/create never blocks")
	assert.Equal(t, map[world.Ref]string{{Type: world.Item, ID: "gem"}: "gem_2"}, res.Renamed)
	require.Len(t, res.Merged, 3)
	assert.Equal(t, "gem", res.Merged[0].EntityID)
	assert.Equal(t, "gem_2", res.Merged[1].EntityID)
	assert.Equal(t, "gem_2", res.Merged[2].EntityID, "later user ops follow the rename")

	merged := applyMerged(t, input, res.Merged)
	red, ok := merged.Live(world.Item, "gem")
	require.True(t, ok)
	assert.Equal(t, ir.String("red"), red.Attributes["color"])
	green, ok := merged.Live(world.Item, "gem_2")
	require.True(t, ok)
	assert.Equal(t, ir.String("green"), green.Attributes["color"])

	// Inputs are untouched.
	assert.Equal(t, "gem", user[0].EntityID)
}

func TestRenameStartsAtUserCreate(t *testing.T) {
	input := ancestor(t)
	ai := []world.Operation{
		world.Delete(world.Item, "sword"),
		world.Create(world.Item, "sword", ir.Obj(ir.O("edge", ir.String("keen")))),
	}
	user := []world.Operation{
		world.Delete(world.Item, "sword"),
		world.Create(world.Item, "sword", ir.Obj(ir.O("edge", ir.String("dull")))),
		world.Modify(world.Item, "sword", "edge", world.Assign, ir.String("chipped")),
	}

	res := Resolve(input, ai, user)
	require.False(t, res.Blocking)
	assert.Equal(t, "sword_2", res.Renamed[world.Ref{Type: world.Item, ID: "sword"}])

	assert.Equal(t, "sword", res.User[0].EntityID, "the delete before the create keeps the ancestor id")
	assert.Equal(t, "sword_2", res.User[1].EntityID)
	assert.Equal(t, "sword_2", res.User[2].EntityID)
	assert.Equal(t, []world.Operation{user[0]}, res.Deduplicated)
	require.Len(t, res.Merged, 4)

	merged := applyMerged(t, input, res.Merged)
	keen, ok := merged.Live(world.Item, "sword")
	require.True(t, ok)
	assert.Equal(t, ir.String("keen"), keen.Attributes["edge"])
	chipped, ok := merged.Live(world.Item, "sword_2")
	require.True(t, ok)
	assert.Equal(t, ir.String("chipped"), chipped.Attributes["edge"])
}

func TestRenameSkipsTakenIDs(t *testing.T) {
	input := ancestor(t)
	require.NoError(t, input.Apply(world.Create(world.Item, "gem_2", nil)))
	require.NoError(t, input.Apply(world.Delete(world.Item, "gem_2")))

	ai := []world.Operation{
		world.Create(world.Item, "gem", nil),
		world.Create(world.Item, "gem_3", nil),
	}
	user := []world.Operation{
		world.Create(world.Item, "gem", nil),
		world.Create(world.Item, "gem_4", nil),
	}

	res := Resolve(input, ai, user)
	require.False(t, res.Blocking)
	assert.Equal(t, "gem_5", res.Renamed[world.Ref{Type: world.Item, ID: "gem"}])
	applyMerged(t, input, res.Merged)
}

func TestRenameIsPerType(t *testing.T) {
	res := Resolve(ancestor(t),
		[]world.Operation{world.Create(world.Item, "x", nil)},
		[]world.Operation{world.Create(world.Place, "x", nil)},
	)
	assert.False(t, res.Blocking)
	assert.Empty(t, res.Renamed, "same id, different type does not collide")
}

func TestModifyDeleteBlocksBothWays(t *testing.T) {
	mod := world.Modify(world.Character, "npc1", "hp", world.Assign, ir.Int(1))
	del := world.Delete(world.Character, "npc1")

	res := Resolve(ancestor(t), []world.Operation{mod}, []world.Operation{del})
	require.True(t, res.Blocking)
	assert.Equal(t, []world.Operation{mod}, res.ConflictingAI)
	assert.Equal(t, []world.Operation{del}, res.ConflictingUser)

	res = Resolve(ancestor(t), []world.Operation{del}, []world.Operation{mod})
	require.True(t, res.Blocking)
	assert.Equal(t, []world.Operation{del}, res.ConflictingAI)
	assert.Equal(t, []world.Operation{mod}, res.ConflictingUser)
}

func TestDeleteDeleteDeduplicates(t *testing.T) {
	input := ancestor(t)
	del := world.Delete(world.Place, "tavern")

	res := Resolve(input, []world.Operation{del}, []world.Operation{del})
	require.False(t, res.Blocking)
	assert.Equal(t, []world.Operation{del}, res.Merged)
	assert.Equal(t, []world.Operation{del}, res.Deduplicated)

	merged := applyMerged(t, input, res.Merged)
	_, ok := merged.Live(world.Place, "tavern")
	assert.False(t, ok)
}

func TestConflictingSubsetsKeepStreamOrder(t *testing.T) {
	ai := []world.Operation{
		world.Modify(world.Character, "npc1", "hp", world.Assign, ir.Int(1)),
		world.Create(world.Item, "coin", nil),
		world.Modify(world.Character, "npc1", "mood", world.Assign, ir.String("sad")),
	}
	user := []world.Operation{
		world.Modify(world.Character, "npc1", "mood", world.Assign, ir.String("glad")),
		world.Modify(world.Item, "sword", "dmg", world.Assign, ir.Int(4)),
		world.Modify(world.Character, "npc1", "hp", world.Assign, ir.Int(2)),
	}

	res := Resolve(ancestor(t), ai, user)
	require.True(t, res.Blocking)
	assert.Equal(t, []world.Operation{ai[0], ai[2]}, res.ConflictingAI)
	assert.Equal(t, []world.Operation{user[0], user[2]}, res.ConflictingUser)
	assert.Len(t, res.AI, 3)
	assert.Len(t, res.User, 3)
}

func TestEmptyStreams(t *testing.T) {
	res := Resolve(ancestor(t), nil, nil)
	assert.False(t, res.Blocking)
	assert.Empty(t, res.Merged)

	user := []world.Operation{world.Delete(world.Item, "sword")}
	res = Resolve(ancestor(t), nil, user)
	assert.Equal(t, user, res.Merged)
}
