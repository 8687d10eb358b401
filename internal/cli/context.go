package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brunoerg/fuzzamoto/internal/harness"
	"github.com/brunoerg/fuzzamoto/internal/ir"
	"github.com/brunoerg/fuzzamoto/internal/scenario"
)

// ContextOptions holds flags for the context command.
type ContextOptions struct {
	*RootOptions
	Output      string
	Connections int
	Timestamp   uint64
	ChainHeight uint32
}

// ContextSummary describes a written context blob.
type ContextSummary struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Connections int    `json:"connections"`
	Timestamp   uint64 `json:"timestamp"`
	Txos        int    `json:"txos"`
	Headers     int    `json:"headers"`
}

// NewContextCommand creates the context command.
func NewContextCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ContextOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Write a context blob for a synthetic regtest chain",
		Long: `Build the program context, spendable coinbase outputs and
known headers of a synthetic regtest chain and write the encoded
blob. The blob is the input of generate, compile and decode.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContext(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "context.bin", "output file path")
	cmd.Flags().IntVar(&opts.Connections, "connections", 4, "number of established connections")
	cmd.Flags().Uint64Var(&opts.Timestamp, "timestamp", harness.DefaultTimestamp, "chain start time")
	cmd.Flags().Uint32Var(&opts.ChainHeight, "height", harness.DefaultChainHeight, "chain height")

	return cmd
}

func runContext(opts *ContextOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if opts.Connections < 0 {
		return NewExitError(ExitCommandError, "--connections must be non-negative")
	}

	full := scenario.BuildFullContext(opts.Connections, opts.Timestamp, harness.SyntheticChain(opts.ChainHeight, opts.Timestamp))
	if err := scenario.DumpContext(opts.Output, full); err != nil {
		return f.Fail(ExitCommandError, ErrCodeWrite, "failed to write context", err)
	}
	id, err := ir.ContextID(full)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeWrite, "failed to hash context", err)
	}

	summary := ContextSummary{
		ID:          id,
		Path:        opts.Output,
		Connections: full.Context.NumConnections,
		Timestamp:   full.Context.Timestamp,
		Txos:        len(full.Txos),
		Headers:     len(full.Headers),
	}
	if f.Format == "json" {
		return f.Success(summary)
	}
	fmt.Fprintf(f.Writer, "%s Wrote context %s to %s (%d txos, %d headers)\n",
		mark(true), id, opts.Output, summary.Txos, summary.Headers)
	return nil
}
