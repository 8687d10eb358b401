package scenario

import (
	"fmt"

	"fortio.org/safecast"

	"github.com/brunoerg/fuzzamoto/internal/compiler"
	"github.com/brunoerg/fuzzamoto/internal/ir"
)

// MaxRPCCalls bounds the number of control-plane calls per test case.
const MaxRPCCalls = 9

// Mode selects what the trailing segment of a raw input holds.
type Mode uint8

const (
	// ModeCompiled inputs carry an already compiled program.
	ModeCompiled Mode = iota
	// ModeProgram inputs carry a symbolic program compiled during decode.
	ModeProgram
)

func (m Mode) String() string {
	if m == ModeProgram {
		return "program"
	}
	return "compiled"
}

// ParseMode resolves a mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "compiled":
		return ModeCompiled, nil
	case "program":
		return ModeProgram, nil
	default:
		return 0, fmt.Errorf("unknown decode mode %q", s)
	}
}

// TestCase is one decoded fuzz input.
type TestCase struct {
	Program *compiler.CompiledProgram
	// RPCCallPoints are action indices before which a control-plane call
	// is issued. They are not bounded by the program length.
	RPCCallPoints []int
	// ID identifies the raw input the test case was decoded from.
	ID string
}

// DecodeError rejects a raw input. No target interaction happens for a
// rejected input.
type DecodeError struct {
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode test case: %s: %v", e.Message, e.Err)
	}
	return "decode test case: " + e.Message
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder turns raw fuzz inputs into test cases. Decoding is a pure
// function of the input bytes.
type Decoder struct {
	Mode Mode
	// Compiler lowers symbolic programs in ModeProgram.
	Compiler *compiler.Compiler
}

// NewDecoder returns a decoder in the build's default mode.
func NewDecoder(c *compiler.Compiler) *Decoder {
	return &Decoder{Mode: DefaultMode, Compiler: c}
}

// Decode parses the layout
//
//	byte 0            : n = byte0 % 10
//	bytes 1..1+n      : one call point per byte
//	bytes (1+n)..end  : encoded Program or CompiledProgram
//
// Call points missing because the input is too short are dropped.
func (d *Decoder) Decode(data []byte) (*TestCase, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Message: "empty input"}
	}

	n := int(data[0] % (MaxRPCCalls + 1))
	var points []int
	for i := 0; i < n; i++ {
		if i+1 < len(data) {
			points = append(points, int(data[i+1]))
		}
	}
	rest := data[min(n+1, len(data)):]

	tc := &TestCase{RPCCallPoints: points, ID: ir.InputID(data)}
	switch d.Mode {
	case ModeProgram:
		p, err := ir.DecodeProgram(rest)
		if err != nil {
			return nil, &DecodeError{Message: "program", Err: err}
		}
		if d.Compiler == nil {
			return nil, &DecodeError{Message: "no compiler configured for program inputs"}
		}
		compiled, err := d.Compiler.Compile(p)
		if err != nil {
			return nil, &DecodeError{Message: "compile", Err: err}
		}
		tc.Program = compiled
	default:
		compiled, err := compiler.DecodeCompiledProgram(rest)
		if err != nil {
			return nil, &DecodeError{Message: "compiled program", Err: err}
		}
		tc.Program = compiled
	}
	return tc, nil
}

// EncodeTestCase produces a raw input that decodes to the given call points
// followed by body, the encoding of a Program or CompiledProgram.
func EncodeTestCase(points []int, body []byte) ([]byte, error) {
	if len(points) > MaxRPCCalls {
		return nil, fmt.Errorf("%d call points exceed the maximum of %d", len(points), MaxRPCCalls)
	}
	out := make([]byte, 0, 1+len(points)+len(body))
	out = append(out, byte(len(points)))
	for _, p := range points {
		b, err := safecast.Conv[uint8](p)
		if err != nil {
			return nil, fmt.Errorf("call point %d: %w", p, err)
		}
		out = append(out, b)
	}
	return append(out, body...), nil
}
