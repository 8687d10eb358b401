// Package target declares the collaborators the scheduler drives: the node
// under test and the peer connections it accepts. Process management,
// transport framing and the RPC wire format live behind these interfaces.
package target

import (
	"context"
	"encoding/json"
)

// Message is a protocol message ready for framing.
type Message struct {
	Command string
	Payload []byte
}

// Connection is an established peer connection to a target.
type Connection interface {
	// Send queues msg for delivery.
	Send(ctx context.Context, msg Message) error
	// SendAndPing sends msg followed by a ping and waits for the pong, so
	// the target has processed msg when it returns.
	SendAndPing(ctx context.Context, msg Message) error
	// Ping round-trips a ping.
	Ping(ctx context.Context) error
}

// Target is a running node.
type Target interface {
	// Connections returns the established peer connections in a stable order.
	Connections() []Connection
	// SetMocktime sets the node's simulated clock.
	SetMocktime(ctx context.Context, t uint64) error
	// CallRPC invokes a control-plane method.
	CallRPC(ctx context.Context, method string, args ...any) (json.RawMessage, error)
	// ConnectTo opens an outbound connection to other.
	ConnectTo(ctx context.Context, other Target) error
	// IsConnectedTo reports whether the two nodes are peers.
	IsConnectedTo(ctx context.Context, other Target) (bool, error)
	// TipHash returns the hash of the best block.
	TipHash(ctx context.Context) ([32]byte, error)
	// IsAlive reports whether the process still answers.
	IsAlive(ctx context.Context) error
	// Address is what other targets dial to reach this one.
	Address() string
}

// Factory creates a target from an executable path.
type Factory func(ctx context.Context, path string) (Target, error)

// Block is a block of the chain a scenario starts from, as reported by
// the node that mined it.
type Block struct {
	Height       uint32
	Header       BlockHeader
	CoinbaseTxid [32]byte
}

// BlockHeader mirrors the 80-byte header fields.
type BlockHeader struct {
	Version    int32
	Prev       [32]byte
	MerkleRoot [32]byte
	Time       uint32
	Bits       uint32
	Nonce      uint32
}
