package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunoerg/fuzzamoto/internal/compiler"
	"github.com/brunoerg/fuzzamoto/internal/ir"
	"github.com/brunoerg/fuzzamoto/internal/testutil"
)

func TestBuildTxos(t *testing.T) {
	chain := testChain(120)
	txos := BuildTxos(chain)
	require.Len(t, txos, 99)

	first := txos[0]
	assert.Equal(t, chain[0].CoinbaseTxid, first.Outpoint.Txid)
	assert.Equal(t, uint32(0), first.Outpoint.Vout)
	assert.Equal(t, uint64(compiler.CoinbaseValue), first.Value)
	assert.Equal(t, compiler.OpTrueScriptPubKey, first.ScriptPubKey)
	assert.Equal(t, [][]byte{{0x51}}, first.SpendingWitness)
	assert.Empty(t, first.SpendingScriptSig)

	assert.Equal(t, chain[98].CoinbaseTxid, txos[98].Outpoint.Txid, "height 99 is the last mature coinbase")
}

func TestBuildHeaders(t *testing.T) {
	chain := testChain(195)
	headers := BuildHeaders(chain)
	require.Len(t, headers, 5)

	for i, h := range headers {
		b := chain[190+i]
		assert.Equal(t, b.Height, h.Height)
		assert.Equal(t, b.Header.Time, h.Time)
		assert.Equal(t, b.Header.Bits, h.Bits)
		assert.Equal(t, b.Header.Nonce, h.Nonce)
		assert.Equal(t, b.Header.Version, h.Version)
	}
	assert.Equal(t, uint32(191), headers[0].Height)

	assert.Empty(t, BuildHeaders(testChain(190)))
}

func TestBuildFullContextCompiles(t *testing.T) {
	full := BuildFullContext(2, 1_700_000_000, testChain(200))
	c := compiler.New(Resources(full))

	out, err := c.Compile(&ir.Program{
		Context: full.Context,
		Instructions: []ir.Instruction{
			{Op: ir.LoadConnection(0)},
			{Op: ir.LoadTxo(3)},
			{Op: ir.BuildTransaction(1000), Inputs: []int{1}},
			{Op: ir.Op(ir.OpSendTx), Inputs: []int{0, 2}},
		},
	})
	require.NoError(t, err)
	require.Len(t, out.Actions, 1)
	assert.Equal(t, compiler.CommandTx, out.Actions[0].Command)
}

func TestSyncNodes(t *testing.T) {
	trace := testutil.NewTrace()
	a := testutil.NewFakeTarget("a", trace, 0)
	b := testutil.NewFakeTarget("b", trace, 0)

	a.SetTips(tip(1), tip(3))
	b.SetTips(tip(2), tip(2), tip(3))
	require.NoError(t, SyncNodes(context.Background(), a, b, time.Second, time.Millisecond))

	b.SetTips(tip(9))
	err := SyncNodes(context.Background(), a, b, 10*time.Millisecond, time.Millisecond)
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFixedRunIDs(t *testing.T) {
	ids := NewFixedRunIDs("a", "b")
	assert.Equal(t, "a", ids.Generate())
	assert.Equal(t, "b", ids.Generate())
	assert.Panics(t, func() { ids.Generate() })

	assert.Len(t, UUIDv7Generator{}.Generate(), 36)
}
