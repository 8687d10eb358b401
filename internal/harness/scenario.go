package harness

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/brunoerg/fuzzamoto/internal/ir"
	"github.com/brunoerg/fuzzamoto/internal/scenario"
)

// Scenario defines a conformance test scenario: a symbolic program, the
// control-plane call points to interleave, the simulated target it runs
// against and the assertions over the resulting trace.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Mode is the decode mode the raw input is built for: "program"
	// (default) or "compiled".
	Mode string `yaml:"mode,omitempty"`

	// Target describes the simulated node.
	Target TargetSpec `yaml:"target"`

	// Options configure the scheduler.
	Options OptionsSpec `yaml:"options,omitempty"`

	// Faults are injected into the simulated targets after setup.
	Faults FaultSpec `yaml:"faults,omitempty"`

	// RPCPoints are the control-plane call insertion points.
	RPCPoints []int `yaml:"rpc_points,omitempty"`

	// Program is the instruction list, one step per instruction.
	Program []Step `yaml:"program"`

	// Assertions validate the trace, the run result and the stored run.
	Assertions []Assertion `yaml:"assertions"`
}

// TargetSpec sizes the simulated primary target.
type TargetSpec struct {
	Connections int    `yaml:"connections"`
	Timestamp   uint64 `yaml:"timestamp"`
	// ChainHeight is the number of blocks in the chain snapshot.
	ChainHeight uint32 `yaml:"chain_height"`
}

// OptionsSpec mirrors the scheduler options a scenario may set.
type OptionsSpec struct {
	ForceSendAndPing bool   `yaml:"force_send_and_ping,omitempty"`
	RPCMethod        string `yaml:"rpc_method,omitempty"`
	NetSplit         bool   `yaml:"netsplit,omitempty"`
	Consensus        bool   `yaml:"consensus,omitempty"`
	// ConsensusTimeoutMS bounds the consensus oracle. Scenarios that
	// expect a consensus failure keep it small.
	ConsensusTimeoutMS int `yaml:"consensus_timeout_ms,omitempty"`
}

// FaultSpec injects failures into the simulated targets.
type FaultSpec struct {
	Crash     bool  `yaml:"crash,omitempty"`
	FailSends []int `yaml:"fail_sends,omitempty"`
	FailRPC   bool  `yaml:"fail_rpc,omitempty"`
	// Split drops the primary/reference peering.
	Split bool `yaml:"split,omitempty"`
	// Diverge makes the reference report a different tip.
	Diverge bool `yaml:"diverge,omitempty"`
}

// Step is one instruction. Only the parameters Op uses may be set.
type Step struct {
	Op      string `yaml:"op"`
	Inputs  []int  `yaml:"inputs,omitempty"`
	Index   uint64 `yaml:"index,omitempty"`
	Time    uint64 `yaml:"time,omitempty"`
	Seconds uint64 `yaml:"seconds,omitempty"`
	Hex     string `yaml:"hex,omitempty"`
	Command string `yaml:"command,omitempty"`
	Fee     uint64 `yaml:"fee,omitempty"`
}

// Assertion validates trace, result or stored state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "action_count": Check the number of executed compiled actions
	// - "rpc_count": Check the number of control-plane calls
	// - "action_order": Check event kinds appear in order
	// - "trace_contains": Check an event matching kind/command/connection exists
	// - "result": Check the run verdict and the failing oracle
	// - "final_state": Query a store table and verify expected values
	Type string `yaml:"type"`

	// Count is the expected number (action_count, rpc_count).
	Count int `yaml:"count,omitempty"`

	// Kinds is the expected event kind order (action_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Kind, Command and Connection select an event (trace_contains).
	Kind       string `yaml:"kind,omitempty"`
	Command    string `yaml:"command,omitempty"`
	Connection *int   `yaml:"connection,omitempty"`

	// Pass and Oracle are the expected verdict (result).
	Pass   *bool  `yaml:"pass,omitempty"`
	Oracle string `yaml:"oracle,omitempty"`

	// Table, Where and Expect drive final_state.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertActionCount   = "action_count"
	AssertRPCCount      = "rpc_count"
	AssertActionOrder   = "action_order"
	AssertTraceContains = "trace_contains"
	AssertResult        = "result"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Mode != "" {
		if _, err := scenario.ParseMode(s.Mode); err != nil {
			return err
		}
	}
	if s.Target.Connections < 0 {
		return fmt.Errorf("target.connections must be non-negative")
	}
	if len(s.RPCPoints) > scenario.MaxRPCCalls {
		return fmt.Errorf("rpc_points: at most %d points", scenario.MaxRPCCalls)
	}
	for i, p := range s.RPCPoints {
		if p < 0 || p > 255 {
			return fmt.Errorf("rpc_points[%d]: %d does not fit in a byte", i, p)
		}
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Program {
		if _, err := step.Instruction(); err != nil {
			return fmt.Errorf("program[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertActionCount, AssertRPCCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertActionOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for action_order", index)
		}
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertResult:
		if a.Pass == nil {
			return fmt.Errorf("assertions[%d]: pass is required for result", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// Instruction converts the step into an IR instruction. Input arity and
// kinds are checked later by the program builder.
func (s Step) Instruction() (ir.Instruction, error) {
	kind, err := ir.ParseOpKind(s.Op)
	if err != nil {
		return ir.Instruction{}, err
	}

	op := ir.Op(kind)
	switch kind {
	case ir.OpLoadConnection, ir.OpLoadTxo, ir.OpLoadHeader, ir.OpBuildTemplate:
		op.Index = s.Index
	case ir.OpLoadTime:
		op.Time = s.Time
	case ir.OpAdvanceTime:
		op.Seconds = s.Seconds
	case ir.OpLoadBytes:
		b, err := hex.DecodeString(s.Hex)
		if err != nil {
			return ir.Instruction{}, fmt.Errorf("hex: %w", err)
		}
		op.Bytes = b
	case ir.OpLoadMsgType:
		op.Command = s.Command
	case ir.OpBuildTransaction:
		op = ir.BuildTransaction(s.Fee)
	}
	return ir.Instruction{Op: op, Inputs: s.Inputs}, nil
}
