package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunoerg/fuzzamoto/internal/compiler"
	"github.com/brunoerg/fuzzamoto/internal/scenario"
)

// DecodeOptions holds flags for the decode command.
type DecodeOptions struct {
	*RootOptions
	Context string
	Mode    string
}

// DecodedInput is the readable form of a raw fuzz input.
type DecodedInput struct {
	InputID   string   `json:"input_id"`
	Mode      string   `json:"mode"`
	RPCPoints []int    `json:"rpc_points"`
	Actions   int      `json:"actions"`
	Schedule  []string `json:"schedule"`
}

// NewDecodeCommand creates the decode command.
func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DecodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "decode <input>",
		Short: "Decode a raw fuzz input and print its schedule",
		Long: `Decode a raw fuzz input and print the interleaved schedule of
compiled actions and control-plane calls the scheduler would run.

Program inputs are compiled against --context; compiled inputs need
no context.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Context, "context", "context.bin", "context blob (program inputs)")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "decode mode: program|compiled (default from config)")

	return cmd
}

func runDecode(opts *DecodeOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	mode := cfg.Mode()
	if opts.Mode != "" {
		if mode, err = scenario.ParseMode(opts.Mode); err != nil {
			return WrapExitError(ExitCommandError, "invalid --mode", err)
		}
	}

	dec := &scenario.Decoder{Mode: mode}
	if mode == scenario.ModeProgram {
		full, err := readContextFile(opts.Context)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeRead, "failed to read context", err)
		}
		dec.Compiler = compiler.New(scenario.Resources(full), compiler.WithLogger(opts.logger(cmd)))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeRead, "failed to read input", err)
	}
	tc, err := dec.Decode(data)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeDecode, "failed to decode input", err)
	}

	hybrid := scenario.BuildHybridActions(tc)
	out := DecodedInput{
		InputID:   tc.ID,
		Mode:      mode.String(),
		RPCPoints: tc.RPCCallPoints,
		Actions:   len(tc.Program.Actions),
		Schedule:  make([]string, len(hybrid)),
	}
	if out.RPCPoints == nil {
		out.RPCPoints = []int{}
	}
	for i, a := range hybrid {
		out.Schedule[i] = a.String()
	}

	if f.Format == "json" {
		return f.Success(out)
	}
	fmt.Fprintf(f.Writer, "Input %s (%s mode)\n", out.InputID, out.Mode)
	fmt.Fprintf(f.Writer, "Call points: %v\n", out.RPCPoints)
	fmt.Fprintf(f.Writer, "Schedule (%d actions, %d calls):\n", out.Actions, len(hybrid)-out.Actions)
	for i, s := range out.Schedule {
		fmt.Fprintf(f.Writer, "  %3d  %s\n", i, s)
	}
	return nil
}
