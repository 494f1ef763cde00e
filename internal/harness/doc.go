// Package harness runs YAML scenarios against a block manager and checks the
// outcome, so tree behaviour can be pinned down without writing Go.
//
// # Scenario Format
//
//	name: npc_conflict
//	description: "Concurrent edits to the same attribute conflict"
//	ids: [A, B]              # ids handed to new blocks, in order
//	flow:
//	  - action: apply
//	    block: __WORLD__
//	    operations:
//	      - { op: create, entity_type: character, entity_id: npc1, attributes: { hp: 100 } }
//	    expect: { status: idle }
//	  - action: create_child
//	    parent: __WORLD__
//	  - action: complete
//	    block: A
//	    raw_text: "The guard swings."
//	    operations: [...]
//	    expect: { status: conflict }
//	assertions:
//	  - type: status
//	    block: A
//	    status: conflict
//
// Operations use the workflow wire form and are validated by opcodec.
//
// # Actions
//
//   - apply: EnqueueOrExecuteAtomicOperations
//   - create_child, create_manual, regenerate
//   - complete: HandleWorkflowCompletion (success defaults to true)
//   - resolve: ApplyResolvedCommands
//   - force_idle, delete, select
//   - game_state, content: the direct edits
//
// A step's expect clause checks the returned status, or the error kind:
// not_found, invalid_state, not_editable, in_flight, has_children, root.
//
// # Assertion Types
//
//   - status: a block's current status
//   - status_sequence: every status a block went through, in order
//   - entity: attributes of an entity in a block's live state (subset match)
//   - missing: an entity is absent or destroyed in a block's live state
//   - path: GetPathToRoot from a block
//   - selected_path: the selection path from the root
//   - conflict: sizes of the four lists of a Conflict block
//   - content: a block's narrative text
//   - block_count: number of blocks in the tree
//
// # Deterministic Testing
//
// Every run uses testutil's sequence clock, stepped wall time and listed ids,
// so the event trace is identical across runs and can be compared against
// golden files in testdata/golden.
package harness
