package compiler

import (
	"fmt"

	"github.com/brunoerg/fuzzamoto/internal/ir"
)

// ActionKind tags a compiled action.
type ActionKind uint8

const (
	// ActionSendRawMessage sends Payload under Command on connection Connection.
	ActionSendRawMessage ActionKind = iota + 1
	// ActionSetTime advances the target's simulated clock to Time.
	ActionSetTime
)

func (k ActionKind) String() string {
	switch k {
	case ActionSendRawMessage:
		return "send_raw_message"
	case ActionSetTime:
		return "set_time"
	default:
		return fmt.Sprintf("action(%d)", uint8(k))
	}
}

// CompiledAction is a concrete, directly executable step with no symbolic
// references left.
type CompiledAction struct {
	Kind ActionKind `msgpack:"kind" json:"kind"`

	// Connection is a logical connection index. The scheduler maps it onto
	// a live connection modulo the live connection count.
	Connection int    `msgpack:"connection" json:"connection,omitempty"`
	Command    string `msgpack:"command" json:"command,omitempty"`
	Payload    []byte `msgpack:"payload" json:"payload,omitempty"`

	Time uint64 `msgpack:"time" json:"time,omitempty"`
}

// SendRawMessage builds a send action.
func SendRawMessage(conn int, command string, payload []byte) CompiledAction {
	return CompiledAction{Kind: ActionSendRawMessage, Connection: conn, Command: command, Payload: payload}
}

// SetTime builds a clock action.
func SetTime(t uint64) CompiledAction {
	return CompiledAction{Kind: ActionSetTime, Time: t}
}

func (a CompiledAction) String() string {
	switch a.Kind {
	case ActionSendRawMessage:
		return fmt.Sprintf("send_raw_message(conn=%d, %s, %d bytes)", a.Connection, a.Command, len(a.Payload))
	case ActionSetTime:
		return fmt.Sprintf("set_time(%d)", a.Time)
	default:
		return a.Kind.String()
	}
}

// CompiledProgram is the compiler output: an ordered list of actions.
// It is immutable once produced.
type CompiledProgram struct {
	Actions []CompiledAction `msgpack:"actions" json:"actions"`
}

// Encode serializes the compiled program with the shared binary codec.
func (p *CompiledProgram) Encode() ([]byte, error) {
	data, err := ir.MarshalBinary(p)
	if err != nil {
		return nil, fmt.Errorf("encode compiled program: %w", err)
	}
	return data, nil
}

// DecodeCompiledProgram deserializes a compiled program.
func DecodeCompiledProgram(data []byte) (*CompiledProgram, error) {
	var p CompiledProgram
	if err := ir.UnmarshalBinary(data, &p); err != nil {
		return nil, fmt.Errorf("decode compiled program: %w", err)
	}
	return &p, nil
}
