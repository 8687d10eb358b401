package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"fortio.org/safecast"

	"github.com/brunoerg/fuzzamoto/internal/compiler"
	"github.com/brunoerg/fuzzamoto/internal/ir"
	"github.com/brunoerg/fuzzamoto/internal/scenario"
	"github.com/brunoerg/fuzzamoto/internal/store"
	"github.com/brunoerg/fuzzamoto/internal/target"
	"github.com/brunoerg/fuzzamoto/internal/testutil"
)

// Defaults for scenarios that leave the target unsized.
const (
	DefaultTimestamp   = 1_296_688_602
	DefaultChainHeight = 200
)

// Harness runs one scenario against simulated targets with fixed run IDs
// and a sequenced trace, so identical scenarios yield identical traces.
type Harness struct {
	store     *store.Store
	trace     *testutil.Trace
	primary   *testutil.FakeTarget
	reference *testutil.FakeTarget
	logger    *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Build the simulated primary and the chain snapshot
// 2. Set up the scheduler (reference target when an oracle needs it)
// 3. Encode the program as a raw fuzz input and run it
// 4. Evaluate assertions over trace, verdict and stored run
func Run(s *Scenario) (*Result, error) {
	return RunWithLogger(s, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with scheduler logging routed to logger.
func RunWithLogger(s *Scenario, logger *slog.Logger) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	h := &Harness{store: st, trace: testutil.NewTrace(), logger: logger}

	sched, err := h.setup(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("failed to set up scenario: %w", err)
	}
	h.applyFaults(s.Faults)

	mode := scenario.ModeProgram
	if s.Mode != "" {
		mode, _ = scenario.ParseMode(s.Mode)
	}
	comp := compiler.New(sched.Resources(), compiler.WithLogger(logger))
	input, err := encodeInput(s, sched.Context().Context, mode, comp)
	if err != nil {
		return nil, err
	}

	dec := &scenario.Decoder{Mode: mode, Compiler: comp}
	run, err := sched.RunInput(ctx, dec, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run scenario: %w", err)
	}

	result := NewResult()
	result.Run = run
	result.AddEvents(h.trace.Events())

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, s.Assertions, actx) {
		result.AddError(msg)
	}

	h.logger.Info("scenario finished",
		"scenario", s.Name,
		"pass", result.Pass,
		"actions", run.Actions,
		"rpc_calls", run.RPCCalls,
	)
	return result, nil
}

func (h *Harness) setup(ctx context.Context, s *Scenario) (*scenario.Scenario, error) {
	timestamp := s.Target.Timestamp
	if timestamp == 0 {
		timestamp = DefaultTimestamp
	}
	height := s.Target.ChainHeight
	if height == 0 {
		height = DefaultChainHeight
	}

	h.primary = testutil.NewFakeTarget("primary", h.trace, s.Target.Connections)
	setup := scenario.Setup{
		Primary:       h.primary,
		Time:          timestamp,
		Chain:         SyntheticChain(height, timestamp),
		ReferencePath: "reference",
		Factory: testutil.FakeFactory(h.trace, 0, func(_ string, t *testutil.FakeTarget) {
			h.reference = t
		}),
	}

	consensusTimeout := time.Duration(s.Options.ConsensusTimeoutMS) * time.Millisecond
	return scenario.New(ctx, setup,
		scenario.WithLogger(h.logger),
		scenario.WithStore(h.store),
		scenario.WithRunIDs(scenario.NewFixedRunIDs(s.Name+"-run")),
		scenario.WithForceSendAndPing(s.Options.ForceSendAndPing),
		scenario.WithRPCMethod(s.Options.RPCMethod),
		scenario.WithNetSplitOracle(s.Options.NetSplit),
		scenario.WithConsensusOracle(s.Options.Consensus, consensusTimeout, time.Millisecond),
	)
}

func (h *Harness) applyFaults(f FaultSpec) {
	h.primary.Crashed = f.Crash
	h.primary.FailRPC = f.FailRPC
	for _, i := range f.FailSends {
		if i >= 0 && i < len(h.primary.Connections()) {
			h.primary.Connection(i).FailSends = true
		}
	}
	if h.reference == nil {
		return
	}
	if f.Split {
		h.primary.Disconnect(h.reference)
	}
	if f.Diverge {
		var a, b [32]byte
		a[0], b[0] = 1, 2
		h.primary.SetTips(a)
		h.reference.SetTips(b)
	}
}

// encodeInput builds the program and lays it out as a raw fuzz input for
// the given decode mode.
func encodeInput(s *Scenario, ctx ir.ProgramContext, mode scenario.Mode, comp *compiler.Compiler) ([]byte, error) {
	insts := make([]ir.Instruction, 0, len(s.Program))
	for i, step := range s.Program {
		inst, err := step.Instruction()
		if err != nil {
			return nil, fmt.Errorf("program[%d]: %w", i, err)
		}
		insts = append(insts, inst)
	}
	b, err := ir.FromInstructions(ctx, insts)
	if err != nil {
		return nil, fmt.Errorf("invalid program: %w", err)
	}
	prog := b.Finalize()

	var body []byte
	switch mode {
	case scenario.ModeProgram:
		body, err = ir.EncodeProgram(prog)
	default:
		var compiled *compiler.CompiledProgram
		compiled, err = comp.Compile(prog)
		if err == nil {
			body, err = compiled.Encode()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("encode program: %w", err)
	}
	return scenario.EncodeTestCase(s.RPCPoints, body)
}

// SyntheticChain returns a regtest-like chain of the given height whose
// blocks are one second apart starting at timestamp.
func SyntheticChain(height uint32, timestamp uint64) []target.Block {
	chain := make([]target.Block, 0, height)
	base := safecast.MustConv[uint32](timestamp)
	var prev [32]byte
	for h := uint32(1); h <= height; h++ {
		var txid, hash [32]byte
		txid[0], txid[1], txid[31] = byte(h), byte(h>>8), 0xc0
		hash[0], hash[1], hash[31] = byte(h), byte(h>>8), 0xb1
		chain = append(chain, target.Block{
			Height:       h,
			CoinbaseTxid: txid,
			Header: target.BlockHeader{
				Version:    4,
				Prev:       prev,
				MerkleRoot: txid,
				Time:       base + h,
				Bits:       compiler.RegtestBits,
			},
		})
		prev = hash
	}
	return chain
}
