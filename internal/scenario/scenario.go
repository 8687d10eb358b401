// Package scenario drives decoded test cases against a live target: it
// prepares the program context from the target's chain, interleaves
// control-plane calls with compiled actions, and evaluates the oracles.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brunoerg/fuzzamoto/internal/compiler"
	"github.com/brunoerg/fuzzamoto/internal/ir"
	"github.com/brunoerg/fuzzamoto/internal/oracle"
	"github.com/brunoerg/fuzzamoto/internal/store"
	"github.com/brunoerg/fuzzamoto/internal/target"
)

// DefaultRPCMethod is the control-plane call interleaved with actions.
const DefaultRPCMethod = "getmempoolinfo"

// Setup is the environment a scenario starts from.
type Setup struct {
	// Primary is the target under test, already connected.
	Primary target.Target
	// Time is the simulated time the chain was mined at.
	Time uint64
	// Chain is the snapshot of the primary's chain, genesis excluded.
	Chain []target.Block
	// ReferencePath is the executable of the reference target. Only used
	// when a differential oracle is enabled.
	ReferencePath string
	// Factory starts the reference target.
	Factory target.Factory
}

// Option configures a Scenario.
type Option func(*Scenario)

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scenario) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithForceSendAndPing makes every send wait for the target to process it.
func WithForceSendAndPing(on bool) Option {
	return func(s *Scenario) {
		s.forceSendAndPing = on
	}
}

// WithRPCMethod sets the interleaved control-plane method.
func WithRPCMethod(method string) Option {
	return func(s *Scenario) {
		if method != "" {
			s.rpcMethod = method
		}
	}
}

// WithNetSplitOracle enables the network-partition oracle.
func WithNetSplitOracle(on bool) Option {
	return func(s *Scenario) {
		s.netSplit = on
	}
}

// WithConsensusOracle enables the consensus oracle with the given polling.
// Zero durations keep the defaults.
func WithConsensusOracle(on bool, timeout, poll time.Duration) Option {
	return func(s *Scenario) {
		s.consensus = on
		if timeout > 0 {
			s.consensusOracle.Timeout = timeout
		}
		if poll > 0 {
			s.consensusOracle.PollInterval = poll
		}
	}
}

// WithSync sets the setup synchronization polling. Zero durations keep
// the defaults.
func WithSync(timeout, poll time.Duration) Option {
	return func(s *Scenario) {
		if timeout > 0 {
			s.syncTimeout = timeout
		}
		if poll > 0 {
			s.syncPoll = poll
		}
	}
}

// WithContextDump writes the encoded context blob to path during setup.
func WithContextDump(path string) Option {
	return func(s *Scenario) {
		s.contextDumpPath = path
	}
}

// WithStore records every run and the setup context into st.
func WithStore(st *store.Store) Option {
	return func(s *Scenario) {
		s.store = st
	}
}

// WithRunIDs sets the run ID generator. Default is UUIDv7Generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(s *Scenario) {
		if g != nil {
			s.runIDs = g
		}
	}
}

// Scenario owns the primary and reference targets for the duration of a
// fuzzing session. Only the scenario issues commands to either target.
type Scenario struct {
	primary   target.Target
	reference target.Target
	full      *ir.FullProgramContext
	contextID string

	logger           *slog.Logger
	forceSendAndPing bool
	rpcMethod        string
	netSplit         bool
	consensus        bool
	consensusOracle  oracle.ConsensusOracle
	syncTimeout      time.Duration
	syncPoll         time.Duration
	contextDumpPath  string
	store            *store.Store
	runIDs           RunIDGenerator
}

// New prepares a scenario: it derives the program context from the chain
// snapshot, dumps it when configured, and when a differential oracle is
// enabled starts the reference target, connects it to the primary and
// waits for both to agree on the tip.
func New(ctx context.Context, setup Setup, opts ...Option) (*Scenario, error) {
	if setup.Primary == nil {
		return nil, errors.New("scenario: no primary target")
	}

	s := &Scenario{
		primary:   setup.Primary,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		rpcMethod: DefaultRPCMethod,
		consensusOracle: oracle.ConsensusOracle{
			Timeout:      oracle.DefaultConsensusTimeout,
			PollInterval: oracle.DefaultPollInterval,
		},
		syncTimeout: DefaultSyncTimeout,
		syncPoll:    DefaultSyncPoll,
		runIDs:      UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.full = BuildFullContext(len(setup.Primary.Connections()), setup.Time, setup.Chain)
	s.logger.Debug("program context built",
		"num_connections", s.full.Context.NumConnections,
		"txos", len(s.full.Txos),
		"headers", len(s.full.Headers),
	)

	if s.contextDumpPath != "" {
		if err := DumpContext(s.contextDumpPath, s.full); err != nil {
			return nil, err
		}
		s.logger.Info("context dumped", "path", s.contextDumpPath)
	}

	if s.store != nil {
		id, err := s.store.WriteContext(ctx, s.full)
		if err != nil {
			return nil, fmt.Errorf("scenario: %w", err)
		}
		s.contextID = id
	}

	if s.netSplit || s.consensus {
		if err := s.startReference(ctx, setup); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Scenario) startReference(ctx context.Context, setup Setup) error {
	if setup.Factory == nil {
		return errors.New("scenario: differential oracles need a target factory")
	}
	ref, err := setup.Factory(ctx, setup.ReferencePath)
	if err != nil {
		return fmt.Errorf("scenario: start reference target: %w", err)
	}
	if err := ref.ConnectTo(ctx, s.primary); err != nil {
		return fmt.Errorf("scenario: connect reference target: %w", err)
	}
	if err := SyncNodes(ctx, s.primary, ref, s.syncTimeout, s.syncPoll); err != nil {
		return err
	}
	s.reference = ref
	s.logger.Debug("reference target synced", "address", ref.Address())
	return nil
}

// Context returns the context blob built during setup.
func (s *Scenario) Context() *ir.FullProgramContext {
	return s.full
}

// Resources returns the compiler resource tables of the setup context.
func (s *Scenario) Resources() compiler.Resources {
	return Resources(s.full)
}

// Reference returns the reference target, nil when no differential
// oracle is enabled.
func (s *Scenario) Reference() target.Target {
	return s.reference
}

// Result is the outcome of one run.
type Result struct {
	RunID string `json:"run_id"`
	oracle.Result
	Actions  int `json:"actions"`
	RPCCalls int `json:"rpc_calls"`
}

// RunInput decodes data with dec and runs it. A rejected input returns
// the decode error without touching the targets.
func (s *Scenario) RunInput(ctx context.Context, dec *Decoder, data []byte) (Result, error) {
	tc, err := dec.Decode(data)
	if err != nil {
		return Result{}, err
	}
	return s.Run(ctx, tc)
}

// Run executes tc against the targets and evaluates the oracles. Dispatch
// failures are logged and do not abort the run. The returned error is
// non-nil only when recording the run fails.
func (s *Scenario) Run(ctx context.Context, tc *TestCase) (Result, error) {
	res := Result{RunID: s.runIDs.Generate()}
	conns := s.primary.Connections()

	for _, h := range BuildHybridActions(tc) {
		if h.RPC {
			res.RPCCalls++
			if _, err := s.primary.CallRPC(ctx, s.rpcMethod); err != nil {
				s.logger.Debug("rpc failed", "method", s.rpcMethod, "error", err)
			}
			continue
		}
		res.Actions++
		s.dispatch(ctx, conns, h.Action)
	}

	for i, c := range conns {
		if err := c.Ping(ctx); err != nil {
			s.logger.Debug("ping failed", "connection", i, "error", err)
		}
	}

	res.Result = s.evaluate(ctx)
	s.logger.Info("run finished",
		"run_id", res.RunID,
		"actions", res.Actions,
		"rpc_calls", res.RPCCalls,
		"pass", res.Pass,
		"oracle", res.Oracle,
	)

	if s.store != nil {
		_, err := s.store.WriteRun(ctx, store.Run{
			ID:            res.RunID,
			InputID:       tc.ID,
			ContextID:     s.contextID,
			Actions:       res.Actions,
			RPCCalls:      res.RPCCalls,
			Pass:          res.Pass,
			Oracle:        res.Oracle,
			Message:       res.Message,
			EngineVersion: ir.EngineVersion,
			IRVersion:     ir.IRVersion,
		})
		if err != nil {
			return res, fmt.Errorf("record run: %w", err)
		}
	}
	return res, nil
}

func (s *Scenario) dispatch(ctx context.Context, conns []target.Connection, a compiler.CompiledAction) {
	switch a.Kind {
	case compiler.ActionSendRawMessage:
		if len(conns) == 0 {
			return
		}
		idx := a.Connection % len(conns)
		if idx < 0 {
			idx += len(conns)
		}
		msg := target.Message{Command: a.Command, Payload: a.Payload}
		var err error
		if s.forceSendAndPing {
			err = conns[idx].SendAndPing(ctx, msg)
		} else {
			err = conns[idx].Send(ctx, msg)
		}
		if err != nil {
			s.logger.Debug("send failed", "connection", idx, "command", a.Command, "error", err)
		}
	case compiler.ActionSetTime:
		if err := s.primary.SetMocktime(ctx, a.Time); err != nil {
			s.logger.Debug("set mocktime failed", "time", a.Time, "error", err)
		}
		if s.reference != nil {
			if err := s.reference.SetMocktime(ctx, a.Time); err != nil {
				s.logger.Debug("set reference mocktime failed", "time", a.Time, "error", err)
			}
		}
	}
}

// evaluate runs crash, then netsplit, then consensus, stopping at the
// first failure.
func (s *Scenario) evaluate(ctx context.Context) oracle.Result {
	crash := oracle.CrashOracle{}
	if r := crash.Evaluate(ctx, s.primary); !r.Pass {
		r.Oracle = crash.Name()
		return r
	}
	if s.reference == nil {
		return oracle.Pass()
	}

	pair := oracle.Pair{Primary: s.primary, Reference: s.reference}
	if s.netSplit {
		split := oracle.NetSplitOracle{}
		if r := split.Evaluate(ctx, pair); !r.Pass {
			r.Oracle = split.Name()
			return r
		}
	}
	if s.consensus {
		s.reconnect(ctx)
		if r := s.consensusOracle.Evaluate(ctx, pair); !r.Pass {
			r.Oracle = s.consensusOracle.Name()
			return r
		}
	}
	return oracle.Pass()
}

// reconnect re-establishes the reference peering so the consensus oracle
// measures chain agreement, not connectivity.
func (s *Scenario) reconnect(ctx context.Context) {
	connected, err := s.reference.IsConnectedTo(ctx, s.primary)
	if err == nil && connected {
		return
	}
	if err := s.reference.ConnectTo(ctx, s.primary); err != nil {
		s.logger.Debug("reconnect reference failed", "error", err)
	}
}
