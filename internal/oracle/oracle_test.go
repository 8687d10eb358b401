package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/brunoerg/fuzzamoto/internal/target"
	"github.com/brunoerg/fuzzamoto/internal/testutil"
)

var (
	_ Oracle[target.Target] = CrashOracle{}
	_ Oracle[Pair]          = NetSplitOracle{}
	_ Oracle[Pair]          = ConsensusOracle{}
)

func pair(t *testing.T) (*testutil.FakeTarget, *testutil.FakeTarget) {
	t.Helper()
	trace := testutil.NewTrace()
	primary := testutil.NewFakeTarget("primary", trace, 1)
	reference := testutil.NewFakeTarget("reference", trace, 0)
	if err := reference.ConnectTo(context.Background(), primary); err != nil {
		t.Fatal(err)
	}
	return primary, reference
}

func TestCrashOracle(t *testing.T) {
	primary, _ := pair(t)
	ctx := context.Background()

	assert.True(t, CrashOracle{}.Evaluate(ctx, primary).Pass)

	primary.Crashed = true
	res := CrashOracle{}.Evaluate(ctx, primary)
	assert.False(t, res.Pass)
	assert.Contains(t, res.Message, "not responsive")
}

func TestNetSplitOracle(t *testing.T) {
	primary, reference := pair(t)
	ctx := context.Background()

	assert.True(t, NetSplitOracle{}.Evaluate(ctx, Pair{Primary: primary, Reference: reference}).Pass)

	primary.Disconnect(reference)
	res := NetSplitOracle{}.Evaluate(ctx, Pair{Primary: primary, Reference: reference})
	assert.False(t, res.Pass)
	assert.Contains(t, res.Message, "network split")
}

func TestConsensusOracle(t *testing.T) {
	ctx := context.Background()

	t.Run("converges after polling", func(t *testing.T) {
		primary, reference := pair(t)
		primary.SetTips([32]byte{9})
		reference.SetTips([32]byte{1}, [32]byte{2}, [32]byte{9})

		o := ConsensusOracle{Timeout: time.Second, PollInterval: time.Millisecond}
		assert.True(t, o.Evaluate(ctx, Pair{Primary: primary, Reference: reference}).Pass)
	})

	t.Run("times out on divergence", func(t *testing.T) {
		primary, reference := pair(t)
		primary.SetTips([32]byte{9})
		reference.SetTips([32]byte{1})

		o := ConsensusOracle{Timeout: 30 * time.Millisecond, PollInterval: time.Millisecond}
		res := o.Evaluate(ctx, Pair{Primary: primary, Reference: reference})
		assert.False(t, res.Pass)
		assert.Contains(t, res.Message, "consensus failure")
		assert.Contains(t, res.Message, tipString([32]byte{9}))
	})
}

func TestTipString(t *testing.T) {
	var h [32]byte
	h[0] = 0xab
	s := tipString(h)
	assert.Len(t, s, 64)
	assert.Equal(t, "ab", s[62:])
}
