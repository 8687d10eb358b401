package ir

import "slices"

// Rand is the random source threaded through generation. Both math/rand and
// pgregory.net/rand generators satisfy it.
type Rand interface {
	Intn(n int) int
}

// Requirement is the context a generator needs before it can emit anything.
type Requirement uint8

const (
	RequireNothing Requirement = iota
	RequireConnection
)

// Satisfied reports whether ctx meets r.
func (r Requirement) Satisfied(ctx ProgramContext) bool {
	switch r {
	case RequireConnection:
		return ctx.NumConnections > 0
	default:
		return true
	}
}

// Validate checks well-typedness and the causal-ordering invariant.
func (p *Program) Validate() error {
	_, err := FromProgram(p)
	return err
}

// Variables returns the kind of every variable in definition order.
func (p *Program) Variables() []VariableKind {
	var vars []VariableKind
	for _, inst := range p.Instructions {
		vars = append(vars, inst.Op.Kind.Signature().Outputs...)
	}
	return vars
}

// VariablesBefore returns the number of variables defined by the first n
// instructions.
func (p *Program) VariablesBefore(n int) int {
	count := 0
	for _, inst := range p.Instructions[:min(n, len(p.Instructions))] {
		count += len(inst.Op.Kind.Signature().Outputs)
	}
	return count
}

// ActionCount returns how many instructions lower to a compiled action.
func (p *Program) ActionCount() int {
	count := 0
	for _, inst := range p.Instructions {
		if inst.Op.Kind.Signature().Action {
			count++
		}
	}
	return count
}

// GetRandomInstructionIndex picks a uniformly random insertion position in
// [0, len(instructions)] when req is satisfied by the program's context.
func (p *Program) GetRandomInstructionIndex(rng Rand, req Requirement) (int, bool) {
	if !req.Satisfied(p.Context) {
		return 0, false
	}
	return rng.Intn(len(p.Instructions) + 1), true
}

// Clone returns a deep copy of p.
func (p *Program) Clone() *Program {
	insts := make([]Instruction, len(p.Instructions))
	for i, inst := range p.Instructions {
		inst.Inputs = slices.Clone(inst.Inputs)
		inst.Op.Bytes = slices.Clone(inst.Op.Bytes)
		insts[i] = inst
	}
	return &Program{Instructions: insts, Context: p.Context}
}
