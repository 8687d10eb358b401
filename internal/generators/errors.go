package generators

import (
	"errors"
	"fmt"

	"github.com/brunoerg/fuzzamoto/internal/ir"
)

// ErrorKind classifies generator failures.
type ErrorKind string

// ErrInvalidContext marks a generator that cannot run against the program's
// context, e.g. a connection operation when no connection exists.
const ErrInvalidContext ErrorKind = "InvalidContext"

// GeneratorError is returned by Generate and Insert. The program is never
// mutated when one is returned.
type GeneratorError struct {
	Kind      ErrorKind
	Generator string
	Context   ir.ProgramContext
	Err       error
}

func (e *GeneratorError) Error() string {
	msg := fmt.Sprintf("%s: %s (nodes=%d connections=%d)",
		e.Generator, e.Kind, e.Context.NumNodes, e.Context.NumConnections)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *GeneratorError) Unwrap() error {
	return e.Err
}

// IsInvalidContext reports whether err is an InvalidContext GeneratorError.
func IsInvalidContext(err error) bool {
	var ge *GeneratorError
	if errors.As(err, &ge) {
		return ge.Kind == ErrInvalidContext
	}
	return false
}

func invalidContext(g Generator, ctx ir.ProgramContext) error {
	return &GeneratorError{Kind: ErrInvalidContext, Generator: g.Name(), Context: ctx}
}
