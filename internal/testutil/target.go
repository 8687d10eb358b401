package testutil

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/brunoerg/fuzzamoto/internal/target"
)

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("injected failure")

// Event is one observed call on a fake target or connection.
type Event struct {
	Seq        int64  `json:"seq" yaml:"seq"`
	Target     string `json:"target" yaml:"target"`
	Kind       string `json:"kind" yaml:"kind"`
	Connection int    `json:"connection,omitempty" yaml:"connection,omitempty"`
	Command    string `json:"command,omitempty" yaml:"command,omitempty"`
	Payload    string `json:"payload,omitempty" yaml:"payload,omitempty"`
	Time       uint64 `json:"time,omitempty" yaml:"time,omitempty"`
	Method     string `json:"method,omitempty" yaml:"method,omitempty"`
	Failed     bool   `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// Event kinds.
const (
	EventSend        = "send"
	EventSendAndPing = "send_and_ping"
	EventPing        = "ping"
	EventMocktime    = "set_mocktime"
	EventRPC         = "rpc"
	EventConnect     = "connect"
)

// Trace records events from any number of fakes in call order.
type Trace struct {
	mu     sync.Mutex
	seq    *Sequence
	events []Event
}

// NewTrace creates an empty trace.
func NewTrace() *Trace {
	return &Trace{seq: NewSequence()}
}

func (t *Trace) record(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.Seq = t.seq.Next()
	t.events = append(t.events, e)
}

// Events returns a copy of the recorded events.
func (t *Trace) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.events...)
}

// Kinds returns the kind of every event, in order.
func (t *Trace) Kinds() []string {
	events := t.Events()
	kinds := make([]string, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Count returns how many events of the given kind were recorded.
func (t *Trace) Count(kind string) int {
	n := 0
	for _, e := range t.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// FakeConnection is an in-memory peer connection.
type FakeConnection struct {
	target *FakeTarget
	index  int

	// FailSends makes Send and SendAndPing return ErrInjected.
	FailSends bool
}

func (c *FakeConnection) sendEvent(kind string, msg target.Message) error {
	e := Event{
		Target:     c.target.name,
		Kind:       kind,
		Connection: c.index,
		Command:    msg.Command,
		Payload:    hex.EncodeToString(msg.Payload),
		Failed:     c.FailSends,
	}
	c.target.trace.record(e)
	if c.FailSends {
		return ErrInjected
	}
	return nil
}

func (c *FakeConnection) Send(_ context.Context, msg target.Message) error {
	return c.sendEvent(EventSend, msg)
}

func (c *FakeConnection) SendAndPing(_ context.Context, msg target.Message) error {
	return c.sendEvent(EventSendAndPing, msg)
}

func (c *FakeConnection) Ping(_ context.Context) error {
	c.target.trace.record(Event{Target: c.target.name, Kind: EventPing, Connection: c.index})
	return nil
}

// FakeTarget is an in-memory node that records every call into a Trace.
type FakeTarget struct {
	name  string
	trace *Trace
	conns []*FakeConnection

	mu       sync.Mutex
	peers    map[*FakeTarget]bool
	tips     [][32]byte
	tipCalls int
	mocktime uint64

	// Crashed makes IsAlive fail.
	Crashed bool
	// FailRPC makes CallRPC return ErrInjected.
	FailRPC bool
	// RefuseConnections makes ConnectTo fail.
	RefuseConnections bool
}

// NewFakeTarget creates a fake with numConns established connections.
func NewFakeTarget(name string, trace *Trace, numConns int) *FakeTarget {
	t := &FakeTarget{name: name, trace: trace, peers: make(map[*FakeTarget]bool)}
	for i := 0; i < numConns; i++ {
		t.conns = append(t.conns, &FakeConnection{target: t, index: i})
	}
	return t
}

// Connection returns the i-th fake connection.
func (t *FakeTarget) Connection(i int) *FakeConnection {
	return t.conns[i]
}

// SetTips scripts successive TipHash results. The last one repeats.
func (t *FakeTarget) SetTips(tips ...[32]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tips = tips
	t.tipCalls = 0
}

// Mocktime returns the last time set through SetMocktime.
func (t *FakeTarget) Mocktime() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mocktime
}

// Disconnect drops the peering in both directions.
func (t *FakeTarget) Disconnect(other *FakeTarget) {
	t.mu.Lock()
	delete(t.peers, other)
	t.mu.Unlock()

	other.mu.Lock()
	delete(other.peers, t)
	other.mu.Unlock()
}

func (t *FakeTarget) Connections() []target.Connection {
	out := make([]target.Connection, len(t.conns))
	for i, c := range t.conns {
		out[i] = c
	}
	return out
}

func (t *FakeTarget) SetMocktime(_ context.Context, ts uint64) error {
	t.mu.Lock()
	t.mocktime = ts
	t.mu.Unlock()
	t.trace.record(Event{Target: t.name, Kind: EventMocktime, Time: ts})
	return nil
}

func (t *FakeTarget) CallRPC(_ context.Context, method string, _ ...any) (json.RawMessage, error) {
	t.trace.record(Event{Target: t.name, Kind: EventRPC, Method: method, Failed: t.FailRPC})
	if t.FailRPC {
		return nil, ErrInjected
	}
	return json.RawMessage(`{}`), nil
}

func (t *FakeTarget) ConnectTo(_ context.Context, other target.Target) error {
	peer, ok := other.(*FakeTarget)
	if !ok {
		return fmt.Errorf("cannot connect fake to %T", other)
	}
	t.trace.record(Event{Target: t.name, Kind: EventConnect, Method: peer.name, Failed: t.RefuseConnections})
	if t.RefuseConnections {
		return ErrInjected
	}

	t.mu.Lock()
	t.peers[peer] = true
	t.mu.Unlock()

	peer.mu.Lock()
	peer.peers[t] = true
	peer.mu.Unlock()
	return nil
}

func (t *FakeTarget) IsConnectedTo(_ context.Context, other target.Target) (bool, error) {
	peer, ok := other.(*FakeTarget)
	if !ok {
		return false, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peers[peer], nil
}

func (t *FakeTarget) TipHash(_ context.Context) ([32]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.tips) == 0 {
		return [32]byte{}, nil
	}
	tip := t.tips[min(t.tipCalls, len(t.tips)-1)]
	t.tipCalls++
	return tip, nil
}

func (t *FakeTarget) IsAlive(_ context.Context) error {
	if t.Crashed {
		return fmt.Errorf("%s: %w", t.name, ErrInjected)
	}
	return nil
}

func (t *FakeTarget) Address() string {
	return "fake://" + t.name
}

// FakeFactory returns a target.Factory handing out fakes that share trace.
// Each created fake is also delivered to created, when non-nil.
func FakeFactory(trace *Trace, numConns int, created func(path string, t *FakeTarget)) target.Factory {
	return func(_ context.Context, path string) (target.Target, error) {
		t := NewFakeTarget(path, trace, numConns)
		if created != nil {
			created(path, t)
		}
		return t, nil
	}
}
