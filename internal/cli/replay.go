package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunoerg/fuzzamoto/internal/compiler"
	"github.com/brunoerg/fuzzamoto/internal/harness"
	"github.com/brunoerg/fuzzamoto/internal/scenario"
	"github.com/brunoerg/fuzzamoto/internal/store"
	"github.com/brunoerg/fuzzamoto/internal/testutil"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database    string
	Mode        string
	Connections int
	Timestamp   uint64
	ChainHeight uint32
}

// ReplayResult is the verdict for one input.
type ReplayResult struct {
	Path     string `json:"path"`
	RunID    string `json:"run_id,omitempty"`
	Pass     bool   `json:"pass"`
	Oracle   string `json:"oracle,omitempty"`
	Message  string `json:"message,omitempty"`
	Actions  int    `json:"actions"`
	RPCCalls int    `json:"rpc_calls"`
	Error    string `json:"error,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <input>...",
		Short: "Run raw fuzz inputs against a simulated target",
		Long: `Decode raw fuzz inputs and run each through the scheduler against
a simulated node on a synthetic regtest chain, with the oracles and
options of the config. Runs are recorded when a database is set.

Exit codes:
  0 - Every input ran and passed its oracles
  1 - An input was rejected or an oracle failed
  2 - Command error (setup failed, database not found, etc.)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "record runs in this database (default from config)")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "decode mode: program|compiled (default from config)")
	cmd.Flags().IntVar(&opts.Connections, "connections", 4, "connections of the simulated node")
	cmd.Flags().Uint64Var(&opts.Timestamp, "timestamp", harness.DefaultTimestamp, "chain start time")
	cmd.Flags().Uint32Var(&opts.ChainHeight, "height", harness.DefaultChainHeight, "chain height")

	return cmd
}

func runReplay(opts *ReplayOptions, paths []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger(cmd)

	mode := cfg.Mode()
	if opts.Mode != "" {
		if mode, err = scenario.ParseMode(opts.Mode); err != nil {
			return WrapExitError(ExitCommandError, "invalid --mode", err)
		}
	}

	schedOpts := append(cfg.ScenarioOptions(), scenario.WithLogger(logger))
	if opts.Database != "" || cfg.Database != "" {
		var st *store.Store
		if st, err = openStore(opts.Database, cfg.Database); err != nil {
			return err
		}
		defer st.Close()
		schedOpts = append(schedOpts, scenario.WithStore(st))
	}

	trace := testutil.NewTrace()
	setup := scenario.Setup{
		Primary:       testutil.NewFakeTarget("primary", trace, opts.Connections),
		Time:          opts.Timestamp,
		Chain:         harness.SyntheticChain(opts.ChainHeight, opts.Timestamp),
		ReferencePath: "reference",
		Factory:       testutil.FakeFactory(trace, 0, nil),
	}
	sched, err := scenario.New(cmd.Context(), setup, schedOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up scenario", err)
	}
	dec := &scenario.Decoder{
		Mode:     mode,
		Compiler: compiler.New(sched.Resources(), compiler.WithLogger(logger)),
	}

	results := make([]ReplayResult, 0, len(paths))
	failed := 0
	for _, p := range paths {
		r := replayInput(cmd, sched, dec, p)
		if !r.Pass {
			failed++
		}
		results = append(results, r)
	}

	if f.Format == "json" {
		if err := f.Success(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(f.Writer, "%s %s: %s\n", mark(false), r.Path, r.Error)
				continue
			}
			fmt.Fprintf(f.Writer, "%s %s  %s  actions=%d rpc=%d", mark(r.Pass), r.Path, verdict(r.Pass), r.Actions, r.RPCCalls)
			if r.Oracle != "" {
				fmt.Fprintf(f.Writer, "  %s: %s", r.Oracle, r.Message)
			}
			fmt.Fprintln(f.Writer)
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d input(s) failed", failed))
	}
	return nil
}

func replayInput(cmd *cobra.Command, sched *scenario.Scenario, dec *scenario.Decoder, path string) ReplayResult {
	r := ReplayResult{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		r.Error = fmt.Sprintf("read: %v", err)
		return r
	}
	res, err := sched.RunInput(cmd.Context(), dec, data)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.RunID = res.RunID
	r.Pass = res.Pass
	r.Oracle = res.Oracle
	r.Message = res.Message
	r.Actions = res.Actions
	r.RPCCalls = res.RPCCalls
	return r
}
