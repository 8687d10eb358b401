package compiler

import (
	"errors"
	"fmt"

	"github.com/brunoerg/fuzzamoto/internal/ir"
)

// Compile error codes (E301-E309)
const (
	ErrCodeUnbound       = "E301" // input variable not bound (or arity mismatch)
	ErrCodeKindMismatch  = "E302" // bound value has the wrong kind
	ErrCodeEmptyResource = "E303" // resource table required but empty
	ErrCodeEncoding      = "E304" // value cannot be encoded (range overflow)
	ErrCodeUnknownOp     = "E305" // operation outside the closed set
	ErrCodePrecondition  = "E306" // context or parameter precondition not met
)

// CompileError is returned when a program cannot be lowered. Compilation is
// all-or-nothing: no partial program accompanies it.
type CompileError struct {
	Code        string
	Instruction int
	Op          ir.OpKind
	Message     string
	Err         error
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("[%s] instruction %d (%s): %s", e.Code, e.Instruction, e.Op, e.Message)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// fromTypeError converts a builder rejection of instruction pos into a
// CompileError.
func fromTypeError(pos int, op ir.OpKind, err error) error {
	code := ErrCodePrecondition
	var te *ir.TypeError
	if errors.As(err, &te) {
		switch te.Code {
		case ir.ErrCodeUnknownOp:
			code = ErrCodeUnknownOp
		case ir.ErrCodeArity, ir.ErrCodeOutOfRange:
			code = ErrCodeUnbound
		case ir.ErrCodeKindMismatch:
			code = ErrCodeKindMismatch
		}
	}
	return &CompileError{Code: code, Instruction: pos, Op: op, Message: "does not type-check", Err: err}
}

// IsCompileError reports whether err is (or wraps) a CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}
