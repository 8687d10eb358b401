package compiler

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteCompactSize(t *testing.T) {
	tests := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{0xfc, []byte{0xfc}},
		{0xfd, []byte{0xfd, 0xfd, 0x00}},
		{0xffff, []byte{0xfd, 0xff, 0xff}},
		{0x10000, []byte{0xfe, 0x00, 0x00, 0x01, 0x00}},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		writeCompactSize(&buf, tt.n)
		assert.Equal(t, tt.want, buf.Bytes(), "n=%d", tt.n)
	}
}

func TestWriteScriptNum(t *testing.T) {
	tests := []struct {
		n    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x51}},
		{16, []byte{0x60}},
		{17, []byte{0x01, 0x11}},
		{128, []byte{0x02, 0x80, 0x00}},
		{201, []byte{0x02, 0xc9, 0x00}},
		{-1, []byte{0x01, 0x81}},
		{500_000, []byte{0x03, 0x20, 0xa1, 0x07}},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		writeScriptNum(&buf, tt.n)
		assert.Equal(t, tt.want, buf.Bytes(), "n=%d", tt.n)
	}
}

func TestCompactToTarget(t *testing.T) {
	want := new(big.Int).Lsh(big.NewInt(0xffff), 8*(0x1d-3))
	assert.Equal(t, 0, want.Cmp(compactToTarget(0x1d00ffff)))

	regtest := new(big.Int).Lsh(big.NewInt(0x7fffff), 8*(0x20-3))
	assert.Equal(t, 0, regtest.Cmp(compactToTarget(RegtestBits)))
}

func TestMerkleRoot(t *testing.T) {
	a := doubleSHA256([]byte("a"))
	b := doubleSHA256([]byte("b"))
	c := doubleSHA256([]byte("c"))

	assert.Equal(t, [32]byte{}, merkleRoot(nil))
	assert.Equal(t, a, merkleRoot([][32]byte{a}))

	ab := doubleSHA256(append(a[:], b[:]...))
	assert.Equal(t, ab, merkleRoot([][32]byte{a, b}))

	// Odd levels duplicate the last hash.
	cc := doubleSHA256(append(c[:], c[:]...))
	want := doubleSHA256(append(ab[:], cc[:]...))
	assert.Equal(t, want, merkleRoot([][32]byte{a, b, c}))
}

func TestCoinbase(t *testing.T) {
	cb := coinbase(201, nil)
	assert.False(t, cb.hasWitness())
	assert.Equal(t, []byte{0x02, 0xc9, 0x00, 0x00}, cb.inputs[0].scriptSig)
	assert.Equal(t, uint64(CoinbaseValue), cb.outputs[0].value)
	assert.Equal(t, OpTrueScriptPubKey, cb.outputs[0].script)

	var commitment [32]byte
	commitment[0] = 0x42
	withCommit := coinbase(201, &commitment)
	assert.True(t, withCommit.hasWitness())
	assert.Len(t, withCommit.outputs, 2)
	assert.Equal(t, witnessCommitmentHeader, withCommit.outputs[1].script[:6])
	assert.Equal(t, byte(0x42), withCommit.outputs[1].script[6])
	// The txid ignores witness data.
	assert.NotEqual(t, withCommit.txid(), withCommit.wtxid())
}

func TestSolve(t *testing.T) {
	h := testResources().Headers[0]
	solve(&h)
	assert.True(t, checkProofOfWork(h))
}
