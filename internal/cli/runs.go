package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brunoerg/fuzzamoto/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database   string
	FailedOnly bool
	Limit      int
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "runs",
		Short:         "List recorded scheduler runs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "database path (default from config)")
	cmd.Flags().BoolVar(&opts.FailedOnly, "failed", false, "only runs an oracle failed")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of runs (0 = all)")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(opts.Database, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), store.RunFilter{FailedOnly: opts.FailedOnly, Limit: opts.Limit})
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to list runs", err)
	}

	if f.Format == "json" {
		return f.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(f.Writer, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(f.Writer, "%4d  %s  %s  actions=%d rpc=%d", r.Seq, r.ID, verdict(r.Pass), r.Actions, r.RPCCalls)
		if r.Oracle != "" {
			fmt.Fprintf(f.Writer, "  %s: %s", r.Oracle, r.Message)
		}
		fmt.Fprintln(f.Writer)
	}
	return nil
}
