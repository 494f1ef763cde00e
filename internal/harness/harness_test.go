package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/manager"
	"github.com/roach88/loom/internal/notify"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func requirePass(t *testing.T, r *Result) {
	t.Helper()
	if !r.Pass {
		t.Fatalf("scenario failed:\n%s\ntrace:\n%s", strings.Join(r.Errors, "\n"), FormatTrace(r.Trace))
	}
}

func TestNPCConflictGolden(t *testing.T) {
	r, err := RunWithGolden(t, loadTestScenario(t, "npc_conflict"))
	require.NoError(t, err)
	requirePass(t, r)
	require.Len(t, r.Steps, 6)
	assert.Equal(t, string(block.StatusConflict), r.Steps[4].Status, "rejected edit reports the blocking status")
}

func TestScenarios(t *testing.T) {
	for _, name := range []string{"branching", "create_collision"} {
		t.Run(name, func(t *testing.T) {
			r, err := Run(context.Background(), loadTestScenario(t, name))
			require.NoError(t, err)
			requirePass(t, r)
		})
	}
}

func TestRunIsDeterministic(t *testing.T) {
	s := loadTestScenario(t, "branching")
	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, FormatTrace(first.Trace), FormatTrace(second.Trace))
	assert.NotEmpty(t, first.Trace)
}

func TestFailedExpectationsAreReported(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong
description: "expectations that do not hold"
ids: [A]
flow:
  - action: create_child
    parent: __WORLD__
    expect: { status: idle }
  - action: force_idle
    block: A
    expect: { error: not_found }
  - action: select
    block: ghost
assertions:
  - type: status
    block: A
    status: conflict
  - type: block_count
    count: 5
`))
	require.NoError(t, err)

	r, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, r.Pass)
	require.Len(t, r.Errors, 5)
	assert.Contains(t, r.Errors[0], `status "loading", expected "idle"`)
	assert.Contains(t, r.Errors[1], "succeeded, expected not_found")
	assert.Contains(t, r.Errors[2], "unexpected error")
	assert.Contains(t, r.Errors[3], "Assertion failed: status")
	assert.Contains(t, r.Errors[4], "Assertion failed: block_count")
}

func TestMalformedOperationsStopTheRun(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: bad_ops
description: "operations that fail schema validation"
flow:
  - action: apply
    block: __WORLD__
    operations:
      - { op: explode, entity_type: item, entity_id: x }
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), s)
	assert.ErrorContains(t, err, "flow[0] apply")
}

func TestRunFeedsExtraNotifiers(t *testing.T) {
	rec := &notify.Recorder{}
	r, err := Run(context.Background(), loadTestScenario(t, "npc_conflict"), WithNotifier(rec))
	require.NoError(t, err)
	requirePass(t, r)
	assert.Len(t, rec.Statuses(), 3)
	assert.Len(t, rec.Contents(), 5)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, loadTestScenario(t, "branching"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResultCarriesTheTree(t *testing.T) {
	r, err := Run(context.Background(), loadTestScenario(t, "create_collision"))
	require.NoError(t, err)
	require.NotNil(t, r.Manager)
	assert.True(t, r.Manager.Exists("A"))
	assert.Equal(t, []string{"loading", "idle"}, r.StatusesOf("A"))
}

func TestRunWithSharedClock(t *testing.T) {
	clock := manager.NewClockAt(100)
	s := loadTestScenario(t, "npc_conflict")

	r, err := Run(context.Background(), s, WithClock(clock))
	require.NoError(t, err)
	requirePass(t, r)
	assert.Equal(t, int64(100), r.SeqBase)
	assert.Equal(t, int64(101), r.Trace[0].Seq)
	AssertGolden(t, s.Name, r)

	again, err := Run(context.Background(), s, WithClock(clock))
	require.NoError(t, err)
	assert.Equal(t, int64(108), again.SeqBase)
	assert.Equal(t, FormatTrace(r.RelativeTrace()), FormatTrace(again.RelativeTrace()))
}
