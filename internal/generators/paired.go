package generators

import (
	"fmt"

	"github.com/brunoerg/fuzzamoto/internal/ir"
)

// chooseAfterRequest places the insertion point directly after the
// triggering instruction of one of events, chosen uniformly among the
// events that fall inside p. Without such events it falls back to a random
// position. No position is legal when p's context does not satisfy req.
func chooseAfterRequest(p *ir.Program, rng ir.Rand, events []ir.RequestEvent, req ir.Requirement) (int, bool) {
	if !req.Satisfied(p.Context) {
		return 0, false
	}
	var matches []int
	for _, ev := range events {
		if ev.TriggeringInstructionIndex >= 0 && ev.TriggeringInstructionIndex < len(p.Instructions) {
			matches = append(matches, ev.TriggeringInstructionIndex)
		}
	}
	if len(matches) == 0 {
		return DefaultChooseIndex(p, rng, req)
	}
	return matches[rng.Intn(len(matches))] + 1, true
}

// requestAt returns the first event whose triggering instruction is the
// last instruction of b. Events sharing a trigger resolve to the first one
// so a given metadata snapshot always produces the same response.
func requestAt(b *ir.ProgramBuilder, events []ir.RequestEvent) (ir.RequestEvent, ir.Instruction, bool) {
	trigger := b.Len() - 1
	if trigger < 0 {
		return ir.RequestEvent{}, ir.Instruction{}, false
	}
	for _, ev := range events {
		if ev.TriggeringInstructionIndex == trigger {
			inst, _ := b.Instruction(trigger)
			return ev, inst, true
		}
	}
	return ir.RequestEvent{}, ir.Instruction{}, false
}

// mustFollow aborts when the metadata points at an instruction that cannot
// have issued the request: the metadata and the program no longer
// correspond.
func mustFollow(g Generator, inst ir.Instruction, want ir.OpKind) {
	if inst.Op.Kind != want {
		panic(fmt.Sprintf("%s: triggering instruction is %s, want %s", g.Name(), inst.Op.Kind, want))
	}
}

// TemplateGenerator answers a recorded template request with a
// build_template immediately followed by a send_template to the connection
// that asked for it.
type TemplateGenerator struct{}

func (TemplateGenerator) Name() string { return "template" }

func (TemplateGenerator) Requirement() ir.Requirement { return ir.RequireConnection }

func (g TemplateGenerator) ChooseIndex(p *ir.Program, rng ir.Rand, meta *ir.PerTestcaseMetadata) (int, bool) {
	return chooseAfterRequest(p, rng, meta.TemplateRequest(), g.Requirement())
}

func (g TemplateGenerator) Generate(b *ir.ProgramBuilder, rng ir.Rand, meta *ir.PerTestcaseMetadata) error {
	if !g.Requirement().Satisfied(b.Context()) {
		return invalidContext(g, b.Context())
	}

	ev, trigger, ok := requestAt(b, meta.TemplateRequest())
	if !ok {
		return nil
	}
	mustFollow(g, trigger, ir.OpSendGetTemplate)

	tmpl := b.ForceAppend(nil, ir.BuildTemplate(uint64(rng.Intn(maxResourceIndex))))
	b.ForceAppend([]int{ev.Connection, tmpl[0].Index}, ir.Op(ir.OpSendTemplate))
	return nil
}

// BlockTxnGenerator answers a recorded block-transaction request, issued
// by the target after a compact block it could not reconstruct, with the
// missing transactions of that block.
type BlockTxnGenerator struct{}

func (BlockTxnGenerator) Name() string { return "block_txn" }

func (BlockTxnGenerator) Requirement() ir.Requirement { return ir.RequireConnection }

func (g BlockTxnGenerator) ChooseIndex(p *ir.Program, rng ir.Rand, meta *ir.PerTestcaseMetadata) (int, bool) {
	return chooseAfterRequest(p, rng, meta.BlockTxnRequest(), g.Requirement())
}

func (g BlockTxnGenerator) Generate(b *ir.ProgramBuilder, _ ir.Rand, meta *ir.PerTestcaseMetadata) error {
	if !g.Requirement().Satisfied(b.Context()) {
		return invalidContext(g, b.Context())
	}

	ev, trigger, ok := requestAt(b, meta.BlockTxnRequest())
	if !ok {
		return nil
	}
	mustFollow(g, trigger, ir.OpSendCmpctBlock)

	block := trigger.Inputs[1]
	bt := b.ForceAppend([]int{block}, ir.Op(ir.OpBuildBlockTxn))
	b.ForceAppend([]int{ev.Connection, bt[0].Index}, ir.Op(ir.OpSendBlockTxn))
	return nil
}
