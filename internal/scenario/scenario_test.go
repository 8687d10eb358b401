package scenario

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunoerg/fuzzamoto/internal/compiler"
	"github.com/brunoerg/fuzzamoto/internal/ir"
	"github.com/brunoerg/fuzzamoto/internal/store"
	"github.com/brunoerg/fuzzamoto/internal/target"
	"github.com/brunoerg/fuzzamoto/internal/testutil"
)

type fixture struct {
	trace     *testutil.Trace
	primary   *testutil.FakeTarget
	reference *testutil.FakeTarget
	setup     Setup
}

func newFixture(conns int) *fixture {
	f := &fixture{trace: testutil.NewTrace()}
	f.primary = testutil.NewFakeTarget("primary", f.trace, conns)
	f.setup = Setup{
		Primary:       f.primary,
		Time:          1_700_000_000,
		Chain:         testChain(200),
		ReferencePath: "reference",
		Factory: testutil.FakeFactory(f.trace, 0, func(_ string, t *testutil.FakeTarget) {
			f.reference = t
		}),
	}
	return f
}

func testChain(n uint32) []target.Block {
	chain := make([]target.Block, 0, n)
	for h := uint32(1); h <= n; h++ {
		var txid [32]byte
		txid[0], txid[1] = byte(h), byte(h>>8)
		chain = append(chain, target.Block{
			Height:       h,
			CoinbaseTxid: txid,
			Header: target.BlockHeader{
				Version: 4,
				Bits:    compiler.RegtestBits,
				Time:    1_700_000_000 + h,
				Nonce:   h,
			},
		})
	}
	return chain
}

func tip(b byte) [32]byte {
	var h [32]byte
	h[0] = b
	return h
}

func runCase(t *testing.T, s *Scenario, points []int, p *compiler.CompiledProgram) Result {
	t.Helper()
	res, err := s.Run(context.Background(), &TestCase{Program: p, RPCCallPoints: points})
	require.NoError(t, err)
	return res
}

func TestNewBuildsContext(t *testing.T) {
	f := newFixture(3)

	s, err := New(context.Background(), f.setup)
	require.NoError(t, err)

	full := s.Context()
	assert.Equal(t, ir.ProgramContext{NumNodes: 1, NumConnections: 3, Timestamp: 1_700_000_000}, full.Context)
	assert.Len(t, full.Txos, 99)
	assert.Len(t, full.Headers, 10)
	assert.Nil(t, s.Reference(), "no reference without differential oracles")
	assert.Empty(t, f.trace.Events())
}

func TestRunDispatchesInOrder(t *testing.T) {
	f := newFixture(2)
	s, err := New(context.Background(), f.setup, WithRunIDs(NewFixedRunIDs("run-1")))
	require.NoError(t, err)

	res := runCase(t, s, []int{0, 4, 9}, fourActions())
	assert.True(t, res.Pass)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 4, res.Actions)
	assert.Equal(t, 3, res.RPCCalls)

	assert.Equal(t, []string{
		testutil.EventRPC,
		testutil.EventSend,
		testutil.EventMocktime,
		testutil.EventSend,
		testutil.EventSend,
		testutil.EventRPC,
		testutil.EventRPC,
		testutil.EventPing,
		testutil.EventPing,
	}, f.trace.Kinds())

	events := f.trace.Events()
	assert.Equal(t, DefaultRPCMethod, events[0].Method)
	assert.Equal(t, "ping", events[1].Command)
	assert.Equal(t, uint64(1_700_000_100), f.primary.Mocktime())
	assert.Equal(t, 1, events[3].Connection)
	assert.Equal(t, "0203", events[3].Payload)
}

func TestRunConnectionModulo(t *testing.T) {
	f := newFixture(2)
	s, err := New(context.Background(), f.setup)
	require.NoError(t, err)

	runCase(t, s, nil, &compiler.CompiledProgram{Actions: []compiler.CompiledAction{
		compiler.SendRawMessage(5, "a", nil),
		compiler.SendRawMessage(-1, "b", nil),
		compiler.SendRawMessage(2, "c", nil),
	}})

	events := f.trace.Events()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, 1, events[0].Connection)
	assert.Equal(t, 1, events[1].Connection)
	assert.Equal(t, 0, events[2].Connection)
}

func TestRunSwallowsDispatchFailures(t *testing.T) {
	f := newFixture(1)
	f.primary.Connection(0).FailSends = true
	f.primary.FailRPC = true
	s, err := New(context.Background(), f.setup)
	require.NoError(t, err)

	res := runCase(t, s, []int{1}, fourActions())
	assert.True(t, res.Pass)
	assert.Equal(t, 4, res.Actions)
	assert.Equal(t, 3, f.trace.Count(testutil.EventSend), "every send is attempted")
	assert.Equal(t, 1, f.trace.Count(testutil.EventPing))
}

func TestRunWithoutConnections(t *testing.T) {
	f := newFixture(0)
	s, err := New(context.Background(), f.setup)
	require.NoError(t, err)

	res := runCase(t, s, nil, fourActions())
	assert.True(t, res.Pass)
	assert.Equal(t, []string{testutil.EventMocktime}, f.trace.Kinds())
}

func TestRunForceSendAndPing(t *testing.T) {
	f := newFixture(1)
	s, err := New(context.Background(), f.setup, WithForceSendAndPing(true), WithRPCMethod("getblockcount"))
	require.NoError(t, err)

	runCase(t, s, []int{0}, fourActions())
	assert.Equal(t, 0, f.trace.Count(testutil.EventSend))
	assert.Equal(t, 3, f.trace.Count(testutil.EventSendAndPing))
	assert.Equal(t, "getblockcount", f.trace.Events()[0].Method)
}

func TestRunCrashOracle(t *testing.T) {
	f := newFixture(1)
	s, err := New(context.Background(), f.setup, WithNetSplitOracle(true))
	require.NoError(t, err)
	f.primary.Crashed = true
	f.primary.Disconnect(f.reference)

	res := runCase(t, s, nil, fourActions())
	assert.False(t, res.Pass)
	assert.Equal(t, "crash", res.Oracle)
}

func TestNewStartsAndSyncsReference(t *testing.T) {
	f := newFixture(1)
	s, err := New(context.Background(), f.setup, WithNetSplitOracle(true))
	require.NoError(t, err)
	require.NotNil(t, f.reference)
	assert.Same(t, f.reference, s.Reference())

	connected, err := f.primary.IsConnectedTo(context.Background(), f.reference)
	require.NoError(t, err)
	assert.True(t, connected)
	assert.Equal(t, []string{testutil.EventConnect}, f.trace.Kinds())
}

func TestRunSetsReferenceMocktime(t *testing.T) {
	f := newFixture(1)
	s, err := New(context.Background(), f.setup, WithConsensusOracle(true, 0, 0))
	require.NoError(t, err)

	runCase(t, s, nil, fourActions())
	assert.Equal(t, uint64(1_700_000_100), f.reference.Mocktime())
	assert.Equal(t, 2, f.trace.Count(testutil.EventMocktime))
}

func TestRunNetSplitShortCircuits(t *testing.T) {
	f := newFixture(1)
	s, err := New(context.Background(), f.setup,
		WithNetSplitOracle(true),
		WithConsensusOracle(true, 0, 0),
	)
	require.NoError(t, err)
	f.primary.Disconnect(f.reference)

	res := runCase(t, s, nil, fourActions())
	assert.False(t, res.Pass)
	assert.Equal(t, "netsplit", res.Oracle)
	assert.Equal(t, 1, f.trace.Count(testutil.EventConnect), "consensus must not run")
}

func TestRunReconnectsBeforeConsensus(t *testing.T) {
	f := newFixture(1)
	s, err := New(context.Background(), f.setup, WithConsensusOracle(true, 0, 0))
	require.NoError(t, err)
	f.primary.Disconnect(f.reference)

	res := runCase(t, s, nil, fourActions())
	assert.True(t, res.Pass, res.Message)
	assert.Equal(t, 2, f.trace.Count(testutil.EventConnect))
}

func TestRunConsensusFailure(t *testing.T) {
	f := newFixture(1)
	s, err := New(context.Background(), f.setup, WithConsensusOracle(true, 30*time.Millisecond, time.Millisecond))
	require.NoError(t, err)
	f.primary.SetTips(tip(1))
	f.reference.SetTips(tip(2))

	res := runCase(t, s, nil, fourActions())
	assert.False(t, res.Pass)
	assert.Equal(t, "consensus", res.Oracle)
	assert.Contains(t, res.Message, "consensus failure")
}

func TestNewSyncTimeout(t *testing.T) {
	f := newFixture(1)
	f.primary.SetTips(tip(1))
	f.setup.Factory = testutil.FakeFactory(f.trace, 0, func(_ string, t *testutil.FakeTarget) {
		t.SetTips(tip(2))
	})

	_, err := New(context.Background(), f.setup,
		WithConsensusOracle(true, 0, 0),
		WithSync(20*time.Millisecond, time.Millisecond),
	)
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Error(), "nodes failed to sync")
}

func TestNewReferenceErrors(t *testing.T) {
	t.Run("no factory", func(t *testing.T) {
		f := newFixture(1)
		f.setup.Factory = nil
		_, err := New(context.Background(), f.setup, WithNetSplitOracle(true))
		assert.Error(t, err)
	})

	t.Run("connect refused", func(t *testing.T) {
		f := newFixture(1)
		f.setup.Factory = testutil.FakeFactory(f.trace, 0, func(_ string, t *testutil.FakeTarget) {
			t.RefuseConnections = true
		})
		_, err := New(context.Background(), f.setup, WithNetSplitOracle(true))
		assert.ErrorIs(t, err, testutil.ErrInjected)
	})

	t.Run("no primary", func(t *testing.T) {
		_, err := New(context.Background(), Setup{})
		assert.Error(t, err)
	})
}

func TestNewDumpsContext(t *testing.T) {
	f := newFixture(2)
	path := filepath.Join(t.TempDir(), "context.bin")

	s, err := New(context.Background(), f.setup, WithContextDump(path))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	got, err := ir.DecodeContext(data)
	require.NoError(t, err)
	assert.Equal(t, s.Context(), got)
}

func TestRunInputRejectsBeforeTargetInteraction(t *testing.T) {
	f := newFixture(1)
	s, err := New(context.Background(), f.setup)
	require.NoError(t, err)

	_, err = s.RunInput(context.Background(), &Decoder{Mode: ModeCompiled}, []byte{2, 1, 2, 0xc1})
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Empty(t, f.trace.Events())
}

func TestRunRecordsIntoStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := newFixture(1)
	s, err := New(context.Background(), f.setup,
		WithStore(st),
		WithRunIDs(NewFixedRunIDs("run-a", "run-b")),
	)
	require.NoError(t, err)

	data := encodeCompiled(t, []int{1}, fourActions())
	_, err = s.RunInput(context.Background(), &Decoder{Mode: ModeCompiled}, data)
	require.NoError(t, err)
	f.primary.Crashed = true
	_, err = s.RunInput(context.Background(), &Decoder{Mode: ModeCompiled}, data)
	require.NoError(t, err)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)

	contextID, err := ir.ContextID(s.Context())
	require.NoError(t, err)
	assert.Equal(t, "run-a", runs[0].ID)
	assert.True(t, runs[0].Pass)
	assert.Equal(t, ir.InputID(data), runs[0].InputID)
	assert.Equal(t, contextID, runs[0].ContextID)
	assert.Equal(t, 4, runs[0].Actions)
	assert.Equal(t, 1, runs[0].RPCCalls)
	assert.False(t, runs[1].Pass)
	assert.Equal(t, "crash", runs[1].Oracle)
}
