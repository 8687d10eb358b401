package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rand"
)

func testContext(conns int) ProgramContext {
	return ProgramContext{NumNodes: 1, NumConnections: conns, Timestamp: 1_700_000_000}
}

func TestAppendReturnsOutputHandles(t *testing.T) {
	b := NewProgramBuilder(testContext(1))

	txo, err := b.Append(Instruction{Op: LoadTxo(0)})
	require.NoError(t, err)
	require.Len(t, txo, 1)
	assert.Equal(t, Variable{Index: 0, Kind: KindTxo}, txo[0])

	outs, err := b.Append(Instruction{Op: BuildTransaction(100), Inputs: []int{txo[0].Index}})
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, Variable{Index: 1, Kind: KindTransaction}, outs[0])
	assert.Equal(t, Variable{Index: 2, Kind: KindTxo}, outs[1])

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 3, b.VariableCount())
}

func TestAppendRejectsWithoutMutation(t *testing.T) {
	tests := []struct {
		name string
		inst Instruction
		code string
	}{
		{"unknown op", Instruction{Op: Operation{Kind: 200}}, ErrCodeUnknownOp},
		{"arity", Instruction{Op: Op(OpSendTx), Inputs: []int{0}}, ErrCodeArity},
		{"future reference", Instruction{Op: Op(OpSendGetTemplate), Inputs: []int{5}}, ErrCodeOutOfRange},
		{"negative reference", Instruction{Op: Op(OpSendGetTemplate), Inputs: []int{-1}}, ErrCodeOutOfRange},
		{"kind mismatch", Instruction{Op: Op(OpSendGetTemplate), Inputs: []int{1}}, ErrCodeKindMismatch},
		{"empty command", Instruction{Op: LoadMsgType("")}, ErrCodeParameter},
		{"long command", Instruction{Op: LoadMsgType("thisistoolongcmd")}, ErrCodeParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewProgramBuilder(testContext(1))
			_, err := b.Append(Instruction{Op: LoadConnection(0)})
			require.NoError(t, err)
			_, err = b.Append(Instruction{Op: LoadTime(10)})
			require.NoError(t, err)

			_, err = b.Append(tt.inst)
			require.Error(t, err)

			var te *TypeError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.code, te.Code)
			assert.Equal(t, 2, b.Len(), "failed append must not mutate")
			assert.Equal(t, 2, b.VariableCount())
		})
	}
}

func TestAppendConnectionNeedsContext(t *testing.T) {
	b := NewProgramBuilder(testContext(0))

	_, err := b.Append(Instruction{Op: LoadConnection(0)})
	require.Error(t, err)
	assert.True(t, IsContextError(err))
	assert.Equal(t, 0, b.Len())
}

func TestForceAppendPanicsOnInvalidInputs(t *testing.T) {
	b := NewProgramBuilder(testContext(1))
	assert.Panics(t, func() {
		b.ForceAppend([]int{0}, Op(OpSendGetTemplate))
	})
	assert.Equal(t, 0, b.Len())
}

func TestForceAppendAppendsAtEnd(t *testing.T) {
	b := NewProgramBuilder(testContext(2))
	conn, err := b.GetOrCreateRandomConnection(rand.New(1))
	require.NoError(t, err)

	vars := b.ForceAppend([]int{conn.Index}, Op(OpSendGetTemplate))
	assert.Empty(t, vars)

	last, ok := b.Instruction(b.Len() - 1)
	require.True(t, ok)
	assert.Equal(t, OpSendGetTemplate, last.Op.Kind)
	assert.Equal(t, []int{conn.Index}, last.Inputs)
}

func TestGetOrCreateRandomConnection(t *testing.T) {
	t.Run("fails without connections", func(t *testing.T) {
		b := NewProgramBuilder(testContext(0))
		_, err := b.GetOrCreateRandomConnection(rand.New(1))
		require.Error(t, err)
		assert.True(t, IsContextError(err))
		assert.Equal(t, 0, b.Len())
	})

	t.Run("creates when none defined", func(t *testing.T) {
		b := NewProgramBuilder(testContext(3))
		v, err := b.GetOrCreateRandomConnection(rand.New(7))
		require.NoError(t, err)
		assert.Equal(t, KindConnection, v.Kind)
		require.Equal(t, 1, b.Len())

		inst, _ := b.Instruction(0)
		assert.Equal(t, OpLoadConnection, inst.Op.Kind)
		assert.Less(t, inst.Op.Index, uint64(3))
	})

	t.Run("reuses existing variables", func(t *testing.T) {
		b := NewProgramBuilder(testContext(3))
		_, err := b.Append(Instruction{Op: LoadConnection(0)})
		require.NoError(t, err)
		_, err = b.Append(Instruction{Op: LoadTime(1)})
		require.NoError(t, err)
		_, err = b.Append(Instruction{Op: LoadConnection(2)})
		require.NoError(t, err)

		rng := rand.New(3)
		seen := map[int]bool{}
		for i := 0; i < 64; i++ {
			v, err := b.GetOrCreateRandomConnection(rng)
			require.NoError(t, err)
			seen[v.Index] = true
		}
		assert.Equal(t, map[int]bool{0: true, 2: true}, seen)
		assert.Equal(t, 3, b.Len(), "no new instruction when a connection exists")
	})
}

func TestAppendPreservesCausalOrdering(t *testing.T) {
	rng := rand.New(42)
	kinds := AllOpKinds()
	b := NewProgramBuilder(testContext(2))

	for i := 0; i < 2000; i++ {
		kind := kinds[rng.Intn(len(kinds))]
		op := Operation{Kind: kind, Command: "ping", Index: uint64(rng.Intn(4))}
		inputs := make([]int, len(kind.Signature().Inputs))
		for j := range inputs {
			inputs[j] = rng.Intn(b.VariableCount()+2) - 1
		}
		_, _ = b.Append(Instruction{Op: op, Inputs: inputs})
	}

	p := b.Finalize()
	require.NotEmpty(t, p.Instructions)
	for i, inst := range p.Instructions {
		defined := p.VariablesBefore(i)
		for _, idx := range inst.Inputs {
			assert.GreaterOrEqual(t, idx, 0)
			assert.Less(t, idx, defined, "instruction %d references variable %d", i, idx)
		}
	}
	assert.NoError(t, p.Validate())
}

func TestAppendShifted(t *testing.T) {
	b := NewProgramBuilder(testContext(1))
	_, err := b.Append(Instruction{Op: LoadConnection(0)})
	require.NoError(t, err)
	// Two variables inserted between the prefix and the tail.
	_, err = b.Append(Instruction{Op: LoadTime(5)})
	require.NoError(t, err)
	_, err = b.Append(Instruction{Op: AdvanceTime(1), Inputs: []int{1}})
	require.NoError(t, err)

	tail := []Instruction{
		{Op: LoadTxo(0)},
		{Op: BuildTransaction(1), Inputs: []int{1}},
		{Op: Op(OpSendTx), Inputs: []int{0, 2}},
	}
	require.NoError(t, b.AppendShifted(tail, 1, 2))

	p := b.Finalize()
	require.NoError(t, p.Validate())
	assert.Equal(t, []int{3}, p.Instructions[4].Inputs)
	assert.Equal(t, []int{0, 4}, p.Instructions[5].Inputs)
}

func TestFromProgramRejectsIllTyped(t *testing.T) {
	p := &Program{
		Context: testContext(1),
		Instructions: []Instruction{
			{Op: Op(OpSendGetTemplate), Inputs: []int{0}},
			{Op: LoadConnection(0)},
		},
	}
	_, err := FromProgram(p)
	require.Error(t, err)
	assert.True(t, IsTypeError(err))
	assert.Contains(t, err.Error(), "instruction 0")
}
