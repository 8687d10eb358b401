package ir

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// maxNesting bounds container depth in decoded artifacts.
const maxNesting = 32

var (
	// ErrLengthOverflow marks a container or byte string whose declared
	// length exceeds the bytes left in the input.
	ErrLengthOverflow = errors.New("declared length exceeds remaining input")

	// ErrTrailingBytes marks input with data after the encoded value.
	ErrTrailingBytes = errors.New("trailing bytes after encoded value")

	// ErrTooDeep marks input nested deeper than maxNesting.
	ErrTooDeep = errors.New("value nested too deep")
)

// MarshalBinary encodes v with the fixed compact codec shared by every
// on-disk and on-wire artifact: msgpack, structs as arrays, compact ints.
// Field order is therefore part of the format.
func MarshalBinary(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseArrayEncodedStructs(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes data produced by MarshalBinary into v. data must
// hold exactly one value, and every length it declares must fit in the
// bytes that follow, so arbitrary input never drives an allocation larger
// than itself.
func UnmarshalBinary(data []byte, v any) error {
	r := bytes.NewReader(data)
	if err := checkLengths(msgpack.NewDecoder(r), r, 0); err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, r.Len())
	}
	return msgpack.Unmarshal(data, v)
}

// checkLengths walks one value from dec, which reads directly from r,
// without materializing it.
func checkLengths(dec *msgpack.Decoder, r *bytes.Reader, depth int) error {
	if depth > maxNesting {
		return ErrTooDeep
	}
	c, err := dec.PeekCode()
	if err != nil {
		return err
	}

	switch {
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		if n > r.Len() {
			return fmt.Errorf("%w: array of %d, %d bytes left", ErrLengthOverflow, n, r.Len())
		}
		for range n {
			if err := checkLengths(dec, r, depth+1); err != nil {
				return err
			}
		}
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return err
		}
		if 2*n > r.Len() {
			return fmt.Errorf("%w: map of %d, %d bytes left", ErrLengthOverflow, n, r.Len())
		}
		for range 2 * n {
			if err := checkLengths(dec, r, depth+1); err != nil {
				return err
			}
		}
	case msgpcode.IsString(c) || msgpcode.IsBin(c):
		n, err := dec.DecodeBytesLen()
		if err != nil {
			return err
		}
		if n > r.Len() {
			return fmt.Errorf("%w: %d bytes declared, %d left", ErrLengthOverflow, n, r.Len())
		}
		if _, err := r.Seek(int64(n), io.SeekCurrent); err != nil {
			return err
		}
	default:
		return dec.Skip()
	}
	return nil
}

// EncodeProgram serializes a program.
func EncodeProgram(p *Program) ([]byte, error) {
	data, err := MarshalBinary(p)
	if err != nil {
		return nil, fmt.Errorf("encode program: %w", err)
	}
	return data, nil
}

// DecodeProgram deserializes a program. It does not type-check it.
func DecodeProgram(data []byte) (*Program, error) {
	var p Program
	if err := UnmarshalBinary(data, &p); err != nil {
		return nil, fmt.Errorf("decode program: %w", err)
	}
	return &p, nil
}

// EncodeContext serializes the full context blob.
func EncodeContext(c *FullProgramContext) ([]byte, error) {
	data, err := MarshalBinary(c)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	return data, nil
}

// DecodeContext deserializes the full context blob.
func DecodeContext(data []byte) (*FullProgramContext, error) {
	var c FullProgramContext
	if err := UnmarshalBinary(data, &c); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &c, nil
}

// EncodeMetadata serializes execution feedback.
func EncodeMetadata(m *PerTestcaseMetadata) ([]byte, error) {
	data, err := MarshalBinary(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}

// DecodeMetadata deserializes execution feedback.
func DecodeMetadata(data []byte) (*PerTestcaseMetadata, error) {
	var m PerTestcaseMetadata
	if err := UnmarshalBinary(data, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &m, nil
}
