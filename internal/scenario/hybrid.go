package scenario

import (
	"github.com/brunoerg/fuzzamoto/internal/compiler"
)

// HybridAction is either a compiled network action or a control-plane call.
type HybridAction struct {
	RPC    bool
	Action compiler.CompiledAction
}

func (a HybridAction) String() string {
	if a.RPC {
		return "rpc"
	}
	return a.Action.String()
}

// BuildHybridActions interleaves the control-plane calls of tc with its
// compiled actions. Each occurrence of a point i < len(actions) puts one
// call directly before action i. Points at or beyond the end become
// trailing calls in their original relative order.
func BuildHybridActions(tc *TestCase) []HybridAction {
	actions := tc.Program.Actions

	before := make(map[int]int, len(tc.RPCCallPoints))
	for _, p := range tc.RPCCallPoints {
		before[p]++
	}

	out := make([]HybridAction, 0, len(actions)+len(tc.RPCCallPoints))
	for i, a := range actions {
		for n := before[i]; n > 0; n-- {
			out = append(out, HybridAction{RPC: true})
		}
		out = append(out, HybridAction{Action: a})
	}
	for _, p := range tc.RPCCallPoints {
		if p >= len(actions) {
			out = append(out, HybridAction{RPC: true})
		}
	}
	return out
}
