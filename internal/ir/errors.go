package ir

import (
	"errors"
	"fmt"
)

// Type error codes (E201-E209)
const (
	ErrCodeUnknownOp    = "E201" // operation kind outside the closed set
	ErrCodeArity        = "E202" // wrong number of inputs
	ErrCodeOutOfRange   = "E203" // input references an undefined or future variable
	ErrCodeKindMismatch = "E204" // input variable has the wrong kind
	ErrCodeContext      = "E205" // context precondition not met
	ErrCodeParameter    = "E206" // immediate parameter out of bounds
)

// TypeError is returned when an instruction does not type-check against the
// variables and context available at its position. No mutation happens.
type TypeError struct {
	Code    string
	Op      OpKind
	Input   int // offending input position, -1 when not input-specific
	Message string
}

func (e *TypeError) Error() string {
	if e.Input >= 0 {
		return fmt.Sprintf("[%s] %s input %d: %s", e.Code, e.Op, e.Input, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Op, e.Message)
}

// IsTypeError reports whether err is (or wraps) a TypeError.
func IsTypeError(err error) bool {
	var te *TypeError
	return errors.As(err, &te)
}

// IsContextError reports whether err is a TypeError caused by an unmet
// context precondition, e.g. a connection operation with zero connections.
func IsContextError(err error) bool {
	var te *TypeError
	if errors.As(err, &te) {
		return te.Code == ErrCodeContext
	}
	return false
}
