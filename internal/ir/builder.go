package ir

import (
	"fmt"
	"slices"
)

// maxCommandLen is the size of the command field in a protocol message header.
const maxCommandLen = 12

// ProgramBuilder wraps a program under construction and enforces the typing
// and causal-ordering invariants on every append.
//
// The builder holds exclusive write access to its instruction stream for its
// lifetime. Generators receive a builder containing the program prefix up to
// their insertion point, so "the end" of the stream is always the insertion
// point.
type ProgramBuilder struct {
	context      ProgramContext
	instructions []Instruction
	variables    []VariableKind
}

// NewProgramBuilder returns an empty builder for the given context.
func NewProgramBuilder(ctx ProgramContext) *ProgramBuilder {
	return &ProgramBuilder{context: ctx}
}

// FromProgram replays every instruction of p through Append. It fails with
// the first TypeError, which makes it the well-typedness check for programs.
func FromProgram(p *Program) (*ProgramBuilder, error) {
	return FromInstructions(p.Context, p.Instructions)
}

// FromInstructions builds a validated builder from ctx and insts.
func FromInstructions(ctx ProgramContext, insts []Instruction) (*ProgramBuilder, error) {
	b := NewProgramBuilder(ctx)
	for i, inst := range insts {
		if _, err := b.Append(inst); err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	return b, nil
}

// Context returns the environment the program is built against.
func (b *ProgramBuilder) Context() ProgramContext {
	return b.context
}

// Len returns the number of instructions appended so far.
func (b *ProgramBuilder) Len() int {
	return len(b.instructions)
}

// Instruction returns the instruction at position i.
func (b *ProgramBuilder) Instruction(i int) (Instruction, bool) {
	if i < 0 || i >= len(b.instructions) {
		return Instruction{}, false
	}
	return b.instructions[i], true
}

// VariableCount returns the number of variables defined so far.
func (b *ProgramBuilder) VariableCount() int {
	return len(b.variables)
}

// Append type-checks inst against the variables defined so far and the
// context, appends it, and returns handles to its outputs.
// On error the builder is left unchanged.
func (b *ProgramBuilder) Append(inst Instruction) ([]Variable, error) {
	if err := b.check(inst); err != nil {
		return nil, err
	}

	inst.Inputs = slices.Clone(inst.Inputs)
	if inst.Op.Bytes != nil {
		inst.Op.Bytes = slices.Clone(inst.Op.Bytes)
	}
	b.instructions = append(b.instructions, inst)

	outputs := inst.Op.Kind.Signature().Outputs
	vars := make([]Variable, len(outputs))
	for i, kind := range outputs {
		vars[i] = Variable{Index: len(b.variables), Kind: kind}
		b.variables = append(b.variables, kind)
	}
	return vars, nil
}

// ForceAppend appends op applied to inputs at the end of the stream, right
// after the instructions that justify it. Validation is identical to Append;
// a failure panics because callers must have checked the preconditions.
func (b *ProgramBuilder) ForceAppend(inputs []int, op Operation) []Variable {
	vars, err := b.Append(Instruction{Op: op, Inputs: inputs})
	if err != nil {
		panic(fmt.Sprintf("ForceAppend %s: %v", op.Kind, err))
	}
	return vars
}

// AppendShifted re-attaches the tail of a program after an insertion.
// Inputs at or above boundary are shifted by shift so they keep pointing at
// the same producing instruction.
func (b *ProgramBuilder) AppendShifted(insts []Instruction, boundary, shift int) error {
	for i, inst := range insts {
		inputs := make([]int, len(inst.Inputs))
		for j, idx := range inst.Inputs {
			if idx >= boundary {
				idx += shift
			}
			inputs[j] = idx
		}
		if _, err := b.Append(Instruction{Op: inst.Op, Inputs: inputs}); err != nil {
			return fmt.Errorf("shifted instruction %d: %w", i, err)
		}
	}
	return nil
}

// RandomVariable picks a variable of the given kind uniformly at random.
func (b *ProgramBuilder) RandomVariable(rng Rand, kind VariableKind) (Variable, bool) {
	var candidates []int
	for i, k := range b.variables {
		if k == kind {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return Variable{}, false
	}
	return Variable{Index: candidates[rng.Intn(len(candidates))], Kind: kind}, true
}

// GetOrCreateRandomConnection returns an existing connection variable chosen
// uniformly at random, or appends a load_connection for a random established
// connection. It fails only when the context has no connections.
func (b *ProgramBuilder) GetOrCreateRandomConnection(rng Rand) (Variable, error) {
	if v, ok := b.RandomVariable(rng, KindConnection); ok {
		return v, nil
	}
	if b.context.NumConnections <= 0 {
		return Variable{}, &TypeError{
			Code:    ErrCodeContext,
			Op:      OpLoadConnection,
			Input:   -1,
			Message: "no connections available in context",
		}
	}
	vars, err := b.Append(Instruction{Op: LoadConnection(uint64(rng.Intn(b.context.NumConnections)))})
	if err != nil {
		return Variable{}, err
	}
	return vars[0], nil
}

// Finalize returns the built program. The builder must not be used afterwards.
func (b *ProgramBuilder) Finalize() *Program {
	return &Program{
		Instructions: b.instructions,
		Context:      b.context,
	}
}

func (b *ProgramBuilder) check(inst Instruction) error {
	kind := inst.Op.Kind
	if !kind.Valid() {
		return &TypeError{Code: ErrCodeUnknownOp, Op: kind, Input: -1, Message: "unknown operation"}
	}

	want := kind.Signature().Inputs
	if len(inst.Inputs) != len(want) {
		return &TypeError{
			Code:    ErrCodeArity,
			Op:      kind,
			Input:   -1,
			Message: fmt.Sprintf("expected %d inputs, got %d", len(want), len(inst.Inputs)),
		}
	}

	for i, idx := range inst.Inputs {
		if idx < 0 || idx >= len(b.variables) {
			return &TypeError{
				Code:    ErrCodeOutOfRange,
				Op:      kind,
				Input:   i,
				Message: fmt.Sprintf("variable %d is not defined (have %d)", idx, len(b.variables)),
			}
		}
		if got := b.variables[idx]; got != want[i] {
			return &TypeError{
				Code:    ErrCodeKindMismatch,
				Op:      kind,
				Input:   i,
				Message: fmt.Sprintf("variable %d is %s, want %s", idx, got, want[i]),
			}
		}
	}

	if kind == OpLoadConnection && b.context.NumConnections <= 0 {
		return &TypeError{
			Code:    ErrCodeContext,
			Op:      kind,
			Input:   -1,
			Message: "no connections available in context",
		}
	}

	if kind == OpLoadMsgType && (inst.Op.Command == "" || len(inst.Op.Command) > maxCommandLen) {
		return &TypeError{
			Code:    ErrCodeParameter,
			Op:      kind,
			Input:   -1,
			Message: fmt.Sprintf("command %q must be 1-%d bytes", inst.Op.Command, maxCommandLen),
		}
	}

	return nil
}
