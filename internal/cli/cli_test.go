package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manualScenario = `name: manual_branch
description: "A hand written child sees the root's world"
ids: [A]
flow:
  - action: apply
    block: __WORLD__
    operations:
      - { op: create, entity_type: item, entity_id: cup, attributes: { full: true } }
    expect: { status: idle }
  - action: create_manual
    parent: __WORLD__
    content: "A cup on the table."
    metadata: { mood: calm }
    expect: { status: idle }
assertions:
  - type: entity
    block: A
    entity_type: item
    entity_id: cup
    attributes: { full: true }
  - type: block_count
    count: 2
`

const failingScenario = `name: wrong_status
description: "Expects the wrong status"
ids: [A]
flow:
  - action: create_manual
    parent: __WORLD__
    expect: { status: loading }
`

func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func decodeEnvelope(t *testing.T, out string, data any) Envelope {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *ErrorBody      `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	if data != nil {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return Envelope{Status: raw.Status, Error: raw.Error}
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"run", "inspect", "validate", "journal"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	for _, flag := range []string{"verbose", "format", "config"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	_, _, err := executeCommand(t, "validate", "--format", "xml", "whatever.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestRootCommand_BadConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "loom.yaml", "tree:\n  children_per_page: 0\n")

	_, _, err := executeCommand(t, "validate", "--config", cfg, "whatever.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRun_GoldenLifecycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "manual_branch.yaml", manualScenario)

	out, _, err := executeCommand(t, "run", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ manual_branch")
	assert.Contains(t, out, "Summary: 1 passed, 0 failed, 1 total")

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "manual_branch.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), "#0001 content __WORLD__ source=user fields=world_state changed=item:cup")

	_, _, err = executeCommand(t, "run", dir)
	require.NoError(t, err, "golden matches")

	writeFile(t, filepath.Join(dir, "golden"), "manual_branch.golden", "#0001 something else\n")
	out, _, err = executeCommand(t, "run", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestRun_FailureJSON(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "wrong_status.yaml", failingScenario)

	out, _, err := executeCommand(t, "run", file, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result RunResult
	env := decodeEnvelope(t, out, &result)
	assert.Equal(t, "error", env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "E_SCENARIO_FAILED", env.Error.Code)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Scenarios, 1)
	assert.False(t, result.Scenarios[0].Pass)
	assert.NotEmpty(t, result.Scenarios[0].Errors)
}

func TestRun_Filter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "manual_branch.yaml", manualScenario)
	writeFile(t, dir, "wrong_status.yaml", failingScenario)

	out, _, err := executeCommand(t, "run", dir, "--filter", "manual_*")
	require.NoError(t, err)
	assert.Contains(t, out, "Summary: 1 passed, 0 failed, 1 total")

	out, _, err = executeCommand(t, "run", dir, "--filter", "nothing_*")
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")

	_, _, err = executeCommand(t, "run", filepath.Join(dir, "missing"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_SaveNeedsOneScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", manualScenario)
	writeFile(t, dir, "b.yaml", manualScenario)

	_, _, err := executeCommand(t, "run", dir, "--save", filepath.Join(dir, "tree.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSaveInspectValidate(t *testing.T) {
	dir := t.TempDir()
	scenario := writeFile(t, dir, "manual_branch.yaml", manualScenario)
	tree := filepath.Join(dir, "tree.json")

	out, _, err := executeCommand(t, "run", scenario, "--save", tree)
	require.NoError(t, err)
	assert.Contains(t, out, "Tree saved to "+tree)

	out, _, err = executeCommand(t, "inspect", tree)
	require.NoError(t, err)
	assert.Contains(t, out, "(2 blocks)")
	assert.Contains(t, out, "* __WORLD__ [idle]")
	assert.Contains(t, out, "  * A [idle]")
	assert.Contains(t, out, "Selected path: __WORLD__ > A")

	out, _, err = executeCommand(t, "inspect", tree, "--block", "A")
	require.NoError(t, err)
	assert.Contains(t, out, "Content: A cup on the table.")
	assert.Contains(t, out, "meta mood = calm")
	assert.Contains(t, out, "item:cup")

	out, _, err = executeCommand(t, "inspect", tree, "--block", "A", "--format", "json")
	require.NoError(t, err)
	var view struct {
		ID       string            `json:"id"`
		ParentID string            `json:"parent_id"`
		Status   string            `json:"status"`
		Metadata map[string]string `json:"metadata"`
	}
	env := decodeEnvelope(t, out, &view)
	assert.Equal(t, "ok", env.Status)
	assert.Equal(t, "A", view.ID)
	assert.Equal(t, "__WORLD__", view.ParentID)
	assert.Equal(t, "idle", view.Status)
	assert.Equal(t, "calm", view.Metadata["mood"])

	_, _, err = executeCommand(t, "inspect", tree, "--block", "nope")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, _, err = executeCommand(t, "validate", scenario, tree)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+scenario+" (scenario: manual_branch, 2 step(s), 2 assertion(s))")
	assert.Contains(t, out, "✓ "+tree+" (archive: 2 block(s))")
}

func TestInspect_NeedsArchive(t *testing.T) {
	_, _, err := executeCommand(t, "inspect")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = executeCommand(t, "inspect", filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	badScenario := writeFile(t, dir, "bad.yaml", "name: x\nflow: []\n")
	badArchive := writeFile(t, dir, "bad.json", `{"version":1}`)
	jsonOps := writeFile(t, dir, "ops.json", `[{"op":"delete","entity_type":"item","entity_id":"cup"}]`)
	yamlOps := writeFile(t, dir, "ops.yaml", "operations:\n  - { op: create, entity_type: place, entity_id: inn }\n")
	badOps := writeFile(t, dir, "bad_ops.json", `[{"op":"explode"}]`)

	out, _, err := executeCommand(t, "validate", badScenario, badArchive)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ "+badScenario+" (scenario)")
	assert.Contains(t, out, "✗ "+badArchive+" (archive)")

	out, _, err = executeCommand(t, "validate", "--ops", jsonOps, yamlOps)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+jsonOps+" (operations: 1 operation(s))")
	assert.Contains(t, out, "✓ "+yamlOps+" (operations: 1 operation(s))")

	out, _, err = executeCommand(t, "validate", "--ops", "--format", "json", jsonOps, badOps)
	require.Error(t, err)
	var result ValidateResult
	env := decodeEnvelope(t, out, &result)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, 1, result.Valid)
	assert.Equal(t, 1, result.Invalid)
	assert.False(t, result.Files[1].Valid)
	assert.Equal(t, KindOperations, result.Files[1].Kind)
}

func TestJournalAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	scenario := writeFile(t, dir, "manual_branch.yaml", manualScenario)
	db := filepath.Join(dir, "loom.db")

	_, _, err := executeCommand(t, "run", scenario, "--journal", db)
	require.NoError(t, err)

	out, _, err := executeCommand(t, "journal", db, "--format", "json")
	require.NoError(t, err)
	var first JournalResult
	decodeEnvelope(t, out, &first)
	require.NotEmpty(t, first.Events)
	assert.Equal(t, int64(1), first.Events[0].Seq)
	assert.Equal(t, []string{"A", "__WORLD__"}, first.Blocks)

	_, _, err = executeCommand(t, "run", scenario, "--journal", db)
	require.NoError(t, err)

	out, _, err = executeCommand(t, "journal", db, "--format", "json")
	require.NoError(t, err)
	var both JournalResult
	decodeEnvelope(t, out, &both)
	require.Len(t, both.Events, 2*len(first.Events), "the second run continues the sequence")
	last := first.Events[len(first.Events)-1].Seq
	assert.Equal(t, last+1, both.Events[len(first.Events)].Seq)

	out, _, err = executeCommand(t, "journal", db, "--block", "A", "--after", "0")
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.HasPrefix(line, "#") {
			assert.Contains(t, line, " A ", line)
		}
	}

	out, _, err = executeCommand(t, "journal", db, "--after", "1000")
	require.NoError(t, err)
	assert.Equal(t, "No events.\n", out)

	_, _, err = executeCommand(t, "journal")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
