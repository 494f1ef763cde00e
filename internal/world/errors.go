package world

import (
	"errors"
	"fmt"
)

// Code categorizes a failed operation.
type Code string

const (
	// CodeNotFound: the target entity (or attribute) does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict: the target already exists.
	CodeConflict Code = "CONFLICT"

	// CodeInvalidInput: the operation is malformed or the operator does not
	// apply to the attribute's kind.
	CodeInvalidInput Code = "INVALID_INPUT"

	// CodeError: anything else.
	CodeError Code = "ERROR"
)

// Error is the per-operation failure carried in a Result.
type Error struct {
	Code       Code
	Message    string
	EntityType EntityType
	EntityID   string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s (%s %q)", e.Code, e.Message, e.EntityType, e.EntityID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf extracts the Code from err, or CodeError when err is not an *Error.
func CodeOf(err error) Code {
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	return CodeError
}

// IsNotFound reports whether err is a NOT_FOUND operation error.
func IsNotFound(err error) bool {
	return err != nil && CodeOf(err) == CodeNotFound
}

// IsConflict reports whether err is a CONFLICT operation error.
func IsConflict(err error) bool {
	return err != nil && CodeOf(err) == CodeConflict
}

// IsInvalidInput reports whether err is an INVALID_INPUT operation error.
func IsInvalidInput(err error) bool {
	return err != nil && CodeOf(err) == CodeInvalidInput
}

func newError(code Code, op Operation, format string, args ...any) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		EntityType: op.EntityType,
		EntityID:   op.EntityID,
	}
}
