// Package generators implements the strategies that grow a program: each
// generator decides where to insert (ChooseIndex) and what to emit at that
// point (Generate).
//
// Generators that answer a request recorded during a previous execution
// use PerTestcaseMetadata to place their output directly after the
// instruction that triggered the request, addressed to the connection the
// request arrived on.
package generators

import (
	"fmt"

	"github.com/brunoerg/fuzzamoto/internal/ir"
)

// Generator emits instructions into a program under construction.
type Generator interface {
	// Name identifies the generator in configuration and logs.
	Name() string

	// Requirement is the context the generator needs to emit anything.
	Requirement() ir.Requirement

	// ChooseIndex picks the insertion position in [0, len(p.Instructions)].
	// It returns false when no legal position exists.
	ChooseIndex(p *ir.Program, rng ir.Rand, meta *ir.PerTestcaseMetadata) (int, bool)

	// Generate appends instructions at the end of b, which holds the
	// program prefix up to the chosen position. Returning an error leaves
	// b unchanged.
	Generate(b *ir.ProgramBuilder, rng ir.Rand, meta *ir.PerTestcaseMetadata) error
}

// DefaultChooseIndex picks a uniformly random position when the program's
// context satisfies req.
func DefaultChooseIndex(p *ir.Program, rng ir.Rand, req ir.Requirement) (int, bool) {
	return p.GetRandomInstructionIndex(rng, req)
}

// Insert runs g against p and returns the grown program. p itself is never
// modified: the prefix up to the chosen position is replayed into a fresh
// builder, g appends to it, and the remaining tail is re-attached with its
// variable references shifted past the new outputs.
func Insert(p *ir.Program, g Generator, rng ir.Rand, meta *ir.PerTestcaseMetadata) (*ir.Program, error) {
	idx, ok := g.ChooseIndex(p, rng, meta)
	if !ok {
		return nil, invalidContext(g, p.Context)
	}
	if idx < 0 || idx > len(p.Instructions) {
		panic(fmt.Sprintf("%s chose index %d outside [0, %d]", g.Name(), idx, len(p.Instructions)))
	}

	b, err := ir.FromInstructions(p.Context, p.Instructions[:idx])
	if err != nil {
		return nil, fmt.Errorf("replay prefix: %w", err)
	}

	boundary := b.VariableCount()
	if err := g.Generate(b, rng, meta); err != nil {
		return nil, err
	}
	shift := b.VariableCount() - boundary

	if err := b.AppendShifted(p.Instructions[idx:], boundary, shift); err != nil {
		return nil, fmt.Errorf("reattach tail after %s: %w", g.Name(), err)
	}
	return b.Finalize(), nil
}
