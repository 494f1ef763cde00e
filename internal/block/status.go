package block

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a block.
type Status string

const (
	// StatusIdle: stable. Edits apply immediately to the live state.
	StatusIdle Status = "idle"

	// StatusLoading: a workflow is generating this block. User edits are
	// applied to the working state and queued for the merge.
	StatusLoading Status = "loading"

	// StatusConflict: the merge found blocking pairs. Waiting for a
	// resolved command list.
	StatusConflict Status = "conflict"

	// StatusError: the workflow or the final application failed.
	StatusError Status = "error"
)

// ErrIllegalTransition is returned by Transition for an edge the lifecycle
// does not allow.
var ErrIllegalTransition = errors.New("illegal status transition")

// transitions lists every allowed edge. Idle->Loading and Error->Loading are
// regenerations; Loading->Idle covers both a clean merge and a forced stop.
var transitions = map[Status][]Status{
	StatusIdle:     {StatusLoading},
	StatusLoading:  {StatusIdle, StatusConflict, StatusError},
	StatusConflict: {StatusIdle, StatusError},
	StatusError:    {StatusLoading},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether s -> to is an allowed edge.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// AcceptsEdits reports whether user operations may be submitted.
func (s Status) AcceptsEdits() bool {
	return s == StatusIdle || s == StatusLoading
}

// ParseStatus accepts the lowercase status names.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown block status %q", s)
	}
	return st, nil
}
