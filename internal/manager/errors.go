package manager

import (
	"errors"
	"fmt"

	"github.com/roach88/loom/internal/block"
)

// Sentinel causes carried by BlockError. Match with errors.Is.
var (
	// ErrBlockNotFound: no block with that id (or it was deleted while the
	// call waited for its lock).
	ErrBlockNotFound = errors.New("block not found")

	// ErrInvalidState: the block's status does not allow the call, e.g. a
	// completion for a block that is not Loading.
	ErrInvalidState = errors.New("invalid block state")

	// ErrBlockNotEditable: user operations were submitted to a block in
	// Conflict or Error. Nothing was applied or queued.
	ErrBlockNotEditable = errors.New("block does not accept edits")

	// ErrWorkflowInFlight: a second generation was requested while one is
	// still running.
	ErrWorkflowInFlight = errors.New("workflow already in flight")

	// ErrHasChildren: non-recursive delete of a block with children.
	ErrHasChildren = errors.New("block has children")

	// ErrRootBlock: the super-root cannot be deleted or regenerated.
	ErrRootBlock = errors.New("operation not allowed on root block")
)

// BlockError is the error type every manager operation returns.
type BlockError struct {
	// Op is the manager method that failed.
	Op string

	BlockID string

	// Status is the block's status when the call was rejected, if known.
	Status block.Status

	Err error
}

// Error implements the error interface.
func (e *BlockError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.BlockID, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.BlockID, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}

func blockErr(op, id string, status block.Status, err error) error {
	return &BlockError{Op: op, BlockID: id, Status: status, Err: err}
}

// IsNotFound reports whether err means the block does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBlockNotFound)
}

// StatusOf returns the status recorded in a BlockError, or "".
func StatusOf(err error) block.Status {
	var be *BlockError
	if errors.As(err, &be) {
		return be.Status
	}
	return ""
}
