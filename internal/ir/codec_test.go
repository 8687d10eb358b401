package ir

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFullContext() *FullProgramContext {
	return &FullProgramContext{
		Context: ProgramContext{NumNodes: 1, NumConnections: 8, Timestamp: 1_296_688_602},
		Txos: []Txo{
			{
				Outpoint:          Outpoint{Txid: [32]byte{1, 2, 3}, Vout: 0},
				Value:             25 * 100_000_000,
				ScriptPubKey:      []byte{0x00, 0x20, 0xaa},
				SpendingScriptSig: []byte{0x01},
				SpendingWitness:   [][]byte{{0x51}},
			},
			{
				Outpoint:          Outpoint{Txid: [32]byte{9}, Vout: 3},
				Value:             1,
				ScriptPubKey:      []byte{0x51},
				SpendingScriptSig: []byte{0x00},
				SpendingWitness:   [][]byte{{0x01, 0x02}, {0x03}},
			},
		},
		Headers: []Header{
			{
				Prev:       [32]byte{0xff},
				MerkleRoot: [32]byte{0xee},
				Nonce:      7,
				Bits:       0x207fffff,
				Time:       1_296_688_700,
				Version:    0x20000000,
				Height:     191,
			},
		},
	}
}

func TestContextRoundTrip(t *testing.T) {
	orig := sampleFullContext()

	data, err := EncodeContext(orig)
	require.NoError(t, err)

	decoded, err := DecodeContext(data)
	require.NoError(t, err)
	assert.Equal(t, orig, decoded)
}

func TestProgramRoundTrip(t *testing.T) {
	orig := &Program{
		Context: ProgramContext{NumNodes: 1, NumConnections: 2, Timestamp: 99},
		Instructions: []Instruction{
			{Op: LoadConnection(1)},
			{Op: LoadMsgType("ping")},
			{Op: LoadBytes([]byte{0xde, 0xad})},
			{Op: Op(OpSendRawMessage), Inputs: []int{0, 1, 2}},
		},
	}

	data, err := EncodeProgram(orig)
	require.NoError(t, err)

	decoded, err := DecodeProgram(data)
	require.NoError(t, err)
	assert.Equal(t, orig, decoded)
	assert.NoError(t, decoded.Validate())
}

func TestMetadataRoundTrip(t *testing.T) {
	orig := &PerTestcaseMetadata{
		TemplateRequests: []RequestEvent{{TriggeringInstructionIndex: 3, Connection: 0}},
		BlockTxnRequests: []RequestEvent{{TriggeringInstructionIndex: 9, Connection: 4}},
	}

	data, err := EncodeMetadata(orig)
	require.NoError(t, err)

	decoded, err := DecodeMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, orig, decoded)
}

func TestDecodeProgramRejectsGarbage(t *testing.T) {
	_, err := DecodeProgram(nil)
	assert.Error(t, err)

	_, err = DecodeProgram([]byte{0xc1})
	assert.Error(t, err)
}

func TestUnmarshalBinaryBoundsLengths(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bin32 larger than input", []byte{0x91, 0xc6, 0xa0, 0x00, 0x00, 0x00}, ErrLengthOverflow},
		{"str32 larger than input", []byte{0x91, 0xdb, 0x7f, 0xff, 0xff, 0xff, 'a'}, ErrLengthOverflow},
		{"array32 larger than input", []byte{0xdd, 0xff, 0xff, 0xff, 0xff, 0x00}, ErrLengthOverflow},
		{"map32 larger than input", []byte{0xdf, 0x00, 0x00, 0x00, 0x02, 0xa0, 0x00}, ErrLengthOverflow},
		{"trailing bytes", []byte{0x91, 0x90, 0x00}, ErrTrailingBytes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Program
			err := UnmarshalBinary(tt.data, &p)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUnmarshalBinaryRejectsDeepNesting(t *testing.T) {
	data := bytes.Repeat([]byte{0x91}, maxNesting+2)
	data = append(data, 0x00)

	var v any
	err := UnmarshalBinary(data, &v)
	assert.ErrorIs(t, err, ErrTooDeep)
}

func TestDecodeProgramRejectsTrailingBytes(t *testing.T) {
	data, err := EncodeProgram(&Program{
		Context:      ProgramContext{NumNodes: 1, NumConnections: 1},
		Instructions: []Instruction{{Op: LoadTime(5)}},
	})
	require.NoError(t, err)

	_, err = DecodeProgram(data)
	require.NoError(t, err)

	_, err = DecodeProgram(append(data, 0x00))
	assert.ErrorIs(t, err, ErrTrailingBytes)
}

func TestEncodingIsDeterministic(t *testing.T) {
	a, err := EncodeContext(sampleFullContext())
	require.NoError(t, err)
	b, err := EncodeContext(sampleFullContext())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
