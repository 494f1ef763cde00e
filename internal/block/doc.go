// Package block models the nodes of the history tree and their lifecycle.
//
// A Block moves between four statuses:
//
//	Idle --generate--> Loading --merge ok--> Idle
//	                   Loading --blocking pairs--> Conflict --resolved--> Idle
//	                   Loading --workflow failed--> Error --regenerate--> Loading
//	                   Conflict --resolution failed--> Error
//
// Blocks carry three named world states (Input, PostAI, PostUser). The
// manager package owns locking and orchestration; this package holds the
// data, the transition table, and the tree walks, which operate on a
// Lookup so they can run against a locked arena or a plain Tree alike.
package block
