package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"pgregory.net/rand"

	"github.com/brunoerg/fuzzamoto/internal/compiler"
	"github.com/brunoerg/fuzzamoto/internal/generators"
	"github.com/brunoerg/fuzzamoto/internal/ir"
	"github.com/brunoerg/fuzzamoto/internal/scenario"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	Context   string
	Program   string
	Output    string
	Database  string
	Seed      uint64
	Rounds    int
	TestCase  bool
	RPCPoints []int
}

// GenerateSummary describes a generated program.
type GenerateSummary struct {
	ProgramID    string `json:"program_id"`
	Instructions int    `json:"instructions"`
	Seed         uint64 `json:"seed"`
	Path         string `json:"path"`
	TestCase     bool   `json:"testcase"`
	Metadata     bool   `json:"metadata"`
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Grow a program with weighted generators",
		Long: `Grow a program by applying randomly picked generators.

Starts from --program, or an empty program for the context, and
applies --rounds generators chosen by the configured weights. When a
database is given, recorded request metadata for the starting
program feeds the paired generators.

With --testcase the output is a raw fuzz input carrying --rpc-points,
in the layout the configured decode mode expects.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Context, "context", "context.bin", "context blob")
	cmd.Flags().StringVar(&opts.Program, "program", "", "program to grow (default: empty program)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "program.bin", "output file path")
	cmd.Flags().StringVar(&opts.Database, "db", "", "database with request metadata")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "random seed")
	cmd.Flags().IntVar(&opts.Rounds, "rounds", 8, "number of generator applications")
	cmd.Flags().BoolVar(&opts.TestCase, "testcase", false, "write a raw fuzz input")
	cmd.Flags().IntSliceVar(&opts.RPCPoints, "rpc-points", nil, "control-plane call points (with --testcase)")

	return cmd
}

func runGenerate(opts *GenerateOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger(cmd)

	full, err := readContextFile(opts.Context)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeRead, "failed to read context", err)
	}

	prog := ir.NewProgramBuilder(full.Context).Finalize()
	if opts.Program != "" {
		if prog, err = readProgramFile(opts.Program); err != nil {
			return f.Fail(ExitCommandError, ErrCodeRead, "failed to read program", err)
		}
	}

	f.VerboseLog("Growing %d-instruction program for %d round(s)", len(prog.Instructions), opts.Rounds)
	meta, err := lookupMetadata(cmd, opts, cfg.Database, prog)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to read metadata", err)
	}

	reg, err := generators.NewRegistry(cfg.Generators, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid generator weights", err)
	}
	grown, err := reg.Grow(prog, rand.New(opts.Seed), meta, opts.Rounds)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeCompile, "generation failed", err)
	}

	var out []byte
	if opts.TestCase {
		out, err = encodeTestCase(cfg.Mode(), full, grown, opts.RPCPoints)
	} else {
		out, err = ir.EncodeProgram(grown)
	}
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeCompile, "failed to encode output", err)
	}
	if err := os.WriteFile(opts.Output, out, 0o644); err != nil {
		return f.Fail(ExitCommandError, ErrCodeWrite, "failed to write output", err)
	}

	id, err := ir.ProgramID(grown)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeCompile, "failed to hash program", err)
	}
	summary := GenerateSummary{
		ProgramID:    id,
		Instructions: len(grown.Instructions),
		Seed:         opts.Seed,
		Path:         opts.Output,
		TestCase:     opts.TestCase,
		Metadata:     meta != nil,
	}
	if f.Format == "json" {
		return f.Success(summary)
	}
	fmt.Fprintf(f.Writer, "%s Generated %s (%d instructions, seed %d) -> %s\n",
		mark(true), id, summary.Instructions, opts.Seed, opts.Output)
	return nil
}

// lookupMetadata returns the recorded metadata of prog, or nil when no
// database is configured or nothing was recorded.
func lookupMetadata(cmd *cobra.Command, opts *GenerateOptions, configured string, prog *ir.Program) (*ir.PerTestcaseMetadata, error) {
	if opts.Database == "" && configured == "" {
		return nil, nil
	}
	st, err := openStore(opts.Database, configured)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	id, err := ir.ProgramID(prog)
	if err != nil {
		return nil, err
	}
	meta, err := st.ReadMetadata(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	if len(meta.TemplateRequests) == 0 && len(meta.BlockTxnRequests) == 0 {
		return nil, nil
	}
	return meta, nil
}

// encodeTestCase lays prog out as a raw fuzz input for mode.
func encodeTestCase(mode scenario.Mode, full *ir.FullProgramContext, prog *ir.Program, points []int) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	if mode == scenario.ModeProgram {
		body, err = ir.EncodeProgram(prog)
	} else {
		var compiled *compiler.CompiledProgram
		compiled, err = compiler.New(scenario.Resources(full)).Compile(prog)
		if err == nil {
			body, err = compiled.Encode()
		}
	}
	if err != nil {
		return nil, err
	}
	return scenario.EncodeTestCase(points, body)
}
