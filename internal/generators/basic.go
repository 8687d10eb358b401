package generators

import (
	"github.com/brunoerg/fuzzamoto/internal/ir"
)

// maxResourceIndex bounds random resource indices. The compiler reduces
// them modulo the table length.
const maxResourceIndex = 1 << 10

var (
	timeSteps = []uint64{1, 10, 60, 600, 3600, 24 * 3600, 14 * 24 * 3600}
	fees      = []uint64{0, 1, 110, 1000, 10_000, 100_000}

	// rawCommands are the commands RawMessageGenerator picks from.
	rawCommands = []string{
		"ping", "pong", "inv", "getdata", "notfound", "getheaders", "getblocks",
		"mempool", "feefilter", "sendcmpct", "sendheaders", "getblocktxn",
		"addr", "addrv2", "wtxidrelay", "sendtxrcncl",
	}
)

// GetTemplateGenerator requests a block template on a random connection.
type GetTemplateGenerator struct{}

func (GetTemplateGenerator) Name() string { return "get_template" }

func (GetTemplateGenerator) Requirement() ir.Requirement { return ir.RequireConnection }

func (g GetTemplateGenerator) ChooseIndex(p *ir.Program, rng ir.Rand, _ *ir.PerTestcaseMetadata) (int, bool) {
	return DefaultChooseIndex(p, rng, g.Requirement())
}

func (g GetTemplateGenerator) Generate(b *ir.ProgramBuilder, rng ir.Rand, _ *ir.PerTestcaseMetadata) error {
	if b.Context().NumConnections == 0 {
		return invalidContext(g, b.Context())
	}

	conn, err := b.GetOrCreateRandomConnection(rng)
	if err != nil {
		return &GeneratorError{Kind: ErrInvalidContext, Generator: g.Name(), Context: b.Context(), Err: err}
	}
	b.ForceAppend([]int{conn.Index}, ir.Op(ir.OpSendGetTemplate))
	return nil
}

// AdvanceTimeGenerator moves the target's clock forward from an existing
// time variable, or from the context timestamp when none exists.
type AdvanceTimeGenerator struct{}

func (AdvanceTimeGenerator) Name() string { return "advance_time" }

func (AdvanceTimeGenerator) Requirement() ir.Requirement { return ir.RequireNothing }

func (g AdvanceTimeGenerator) ChooseIndex(p *ir.Program, rng ir.Rand, _ *ir.PerTestcaseMetadata) (int, bool) {
	return DefaultChooseIndex(p, rng, g.Requirement())
}

func (AdvanceTimeGenerator) Generate(b *ir.ProgramBuilder, rng ir.Rand, _ *ir.PerTestcaseMetadata) error {
	t := timeVariable(b, rng)
	next := b.ForceAppend([]int{t.Index}, ir.AdvanceTime(timeSteps[rng.Intn(len(timeSteps))]))
	b.ForceAppend([]int{next[0].Index}, ir.Op(ir.OpSetTime))
	return nil
}

// SendTxGenerator spends a txo into a new transaction and relays it.
type SendTxGenerator struct{}

func (SendTxGenerator) Name() string { return "send_tx" }

func (SendTxGenerator) Requirement() ir.Requirement { return ir.RequireConnection }

func (g SendTxGenerator) ChooseIndex(p *ir.Program, rng ir.Rand, _ *ir.PerTestcaseMetadata) (int, bool) {
	return DefaultChooseIndex(p, rng, g.Requirement())
}

func (g SendTxGenerator) Generate(b *ir.ProgramBuilder, rng ir.Rand, _ *ir.PerTestcaseMetadata) error {
	conn, err := b.GetOrCreateRandomConnection(rng)
	if err != nil {
		return &GeneratorError{Kind: ErrInvalidContext, Generator: g.Name(), Context: b.Context(), Err: err}
	}

	// Chaining onto an earlier output builds dependent transactions.
	txo, ok := b.RandomVariable(rng, ir.KindTxo)
	if !ok || rng.Intn(2) == 0 {
		txo = b.ForceAppend(nil, ir.LoadTxo(uint64(rng.Intn(maxResourceIndex))))[0]
	}
	tx := b.ForceAppend([]int{txo.Index}, ir.BuildTransaction(fees[rng.Intn(len(fees))]))
	b.ForceAppend([]int{conn.Index, tx[0].Index}, ir.Op(ir.OpSendTx))
	return nil
}

// BlockGenerator mines a block on a known or previously built header,
// includes a random selection of built transactions, and announces it.
type BlockGenerator struct{}

func (BlockGenerator) Name() string { return "block" }

func (BlockGenerator) Requirement() ir.Requirement { return ir.RequireConnection }

func (g BlockGenerator) ChooseIndex(p *ir.Program, rng ir.Rand, _ *ir.PerTestcaseMetadata) (int, bool) {
	return DefaultChooseIndex(p, rng, g.Requirement())
}

func (g BlockGenerator) Generate(b *ir.ProgramBuilder, rng ir.Rand, _ *ir.PerTestcaseMetadata) error {
	conn, err := b.GetOrCreateRandomConnection(rng)
	if err != nil {
		return &GeneratorError{Kind: ErrInvalidContext, Generator: g.Name(), Context: b.Context(), Err: err}
	}

	parent, ok := b.RandomVariable(rng, ir.KindHeader)
	if !ok || rng.Intn(4) == 0 {
		parent = b.ForceAppend(nil, ir.LoadHeader(uint64(rng.Intn(maxResourceIndex))))[0]
	}
	t := timeVariable(b, rng)

	list := b.ForceAppend(nil, ir.Op(ir.OpBeginTxList))[0]
	for n := rng.Intn(4); n > 0; n-- {
		tx, ok := b.RandomVariable(rng, ir.KindTransaction)
		if !ok {
			break
		}
		b.ForceAppend([]int{list.Index, tx.Index}, ir.Op(ir.OpAddTx))
	}
	txs := b.ForceAppend([]int{list.Index}, ir.Op(ir.OpEndTxList))[0]

	out := b.ForceAppend([]int{parent.Index, t.Index, txs.Index}, ir.Op(ir.OpBuildBlock))
	block, header := out[0], out[1]

	switch rng.Intn(3) {
	case 0:
		b.ForceAppend([]int{conn.Index, header.Index}, ir.Op(ir.OpSendHeader))
		b.ForceAppend([]int{conn.Index, block.Index}, ir.Op(ir.OpSendBlock))
	case 1:
		b.ForceAppend([]int{conn.Index, block.Index}, ir.Op(ir.OpSendBlock))
	default:
		b.ForceAppend([]int{conn.Index, block.Index}, ir.Op(ir.OpSendCmpctBlock))
	}
	return nil
}

// RawMessageGenerator sends random bytes under a known command.
type RawMessageGenerator struct{}

func (RawMessageGenerator) Name() string { return "raw_message" }

func (RawMessageGenerator) Requirement() ir.Requirement { return ir.RequireConnection }

func (g RawMessageGenerator) ChooseIndex(p *ir.Program, rng ir.Rand, _ *ir.PerTestcaseMetadata) (int, bool) {
	return DefaultChooseIndex(p, rng, g.Requirement())
}

func (g RawMessageGenerator) Generate(b *ir.ProgramBuilder, rng ir.Rand, _ *ir.PerTestcaseMetadata) error {
	conn, err := b.GetOrCreateRandomConnection(rng)
	if err != nil {
		return &GeneratorError{Kind: ErrInvalidContext, Generator: g.Name(), Context: b.Context(), Err: err}
	}

	cmd := b.ForceAppend(nil, ir.LoadMsgType(rawCommands[rng.Intn(len(rawCommands))]))[0]
	payload := make([]byte, rng.Intn(65))
	for i := range payload {
		payload[i] = byte(rng.Intn(256))
	}
	data := b.ForceAppend(nil, ir.LoadBytes(payload))[0]
	b.ForceAppend([]int{conn.Index, cmd.Index, data.Index}, ir.Op(ir.OpSendRawMessage))
	return nil
}

func timeVariable(b *ir.ProgramBuilder, rng ir.Rand) ir.Variable {
	if t, ok := b.RandomVariable(rng, ir.KindTime); ok {
		return t
	}
	return b.ForceAppend(nil, ir.LoadTime(b.Context().Timestamp))[0]
}
