// Package oracle holds the correctness checks evaluated after a test case
// has been executed against the target.
package oracle

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/brunoerg/fuzzamoto/internal/target"
)

// Result is the verdict of one oracle.
type Result struct {
	Pass    bool   `json:"pass"`
	Oracle  string `json:"oracle,omitempty"`
	Message string `json:"message,omitempty"`
}

// Pass returns a passing result.
func Pass() Result { return Result{Pass: true} }

// Fail returns a failing result with a diagnostic.
func Fail(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

// Oracle evaluates one correctness property over a context C.
type Oracle[C any] interface {
	Name() string
	Evaluate(ctx context.Context, c C) Result
}

// Pair is the context of the differential oracles: the target under test
// and an independently driven reference.
type Pair struct {
	Primary   target.Target
	Reference target.Target
}

// CrashOracle fails when the target stopped answering.
type CrashOracle struct{}

func (CrashOracle) Name() string { return "crash" }

func (CrashOracle) Evaluate(ctx context.Context, t target.Target) Result {
	if err := t.IsAlive(ctx); err != nil {
		return Fail("target is not responsive: %v", err)
	}
	return Pass()
}

// NetSplitOracle fails when the primary and the reference no longer see
// each other as peers.
type NetSplitOracle struct{}

func (NetSplitOracle) Name() string { return "netsplit" }

func (NetSplitOracle) Evaluate(ctx context.Context, p Pair) Result {
	forward, err := p.Primary.IsConnectedTo(ctx, p.Reference)
	if err != nil {
		return Fail("query primary peers: %v", err)
	}
	backward, err := p.Reference.IsConnectedTo(ctx, p.Primary)
	if err != nil {
		return Fail("query reference peers: %v", err)
	}
	if !forward || !backward {
		return Fail("network split: primary->reference=%t reference->primary=%t", forward, backward)
	}
	return Pass()
}

// Default consensus polling.
const (
	DefaultConsensusTimeout = 60 * time.Second
	DefaultPollInterval     = 10 * time.Millisecond
)

// ConsensusOracle fails when the primary and the reference do not agree on
// the chain tip within Timeout, polling every PollInterval.
type ConsensusOracle struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

func (ConsensusOracle) Name() string { return "consensus" }

func (o ConsensusOracle) Evaluate(ctx context.Context, p Pair) Result {
	timeout, interval := o.Timeout, o.PollInterval
	if timeout <= 0 {
		timeout = DefaultConsensusTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	primary, reference, err := TipsAgree(ctx, p.Primary, p.Reference, interval)
	if err != nil {
		return Fail("consensus failure after %s: primary tip %s, reference tip %s: %v",
			timeout, tipString(primary), tipString(reference), err)
	}
	return Pass()
}

// TipsAgree polls both targets every interval until they report the same
// tip hash or ctx is done. It returns the last observed tips.
func TipsAgree(ctx context.Context, a, b target.Target, interval time.Duration) ([32]byte, [32]byte, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var tipA, tipB [32]byte
	for {
		var errA, errB error
		tipA, errA = a.TipHash(ctx)
		tipB, errB = b.TipHash(ctx)
		if errA == nil && errB == nil && tipA == tipB {
			return tipA, tipB, nil
		}

		select {
		case <-ctx.Done():
			return tipA, tipB, ctx.Err()
		case <-ticker.C:
		}
	}
}

// tipString renders a hash in the byte order block explorers use.
func tipString(h [32]byte) string {
	for i, j := 0, len(h)-1; i < j; i, j = i+1, j-1 {
		h[i], h[j] = h[j], h[i]
	}
	return hex.EncodeToString(h[:])
}
