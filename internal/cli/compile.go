package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brunoerg/fuzzamoto/internal/compiler"
	"github.com/brunoerg/fuzzamoto/internal/ir"
	"github.com/brunoerg/fuzzamoto/internal/scenario"
)

// CompiledSuffix is appended to the base name of compiled outputs.
const CompiledSuffix = ".compiled"

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Context string
	Output  string // output directory
	Jobs    int
}

// CompileResult is the outcome for one program file.
type CompileResult struct {
	Path      string `json:"path"`
	ProgramID string `json:"program_id,omitempty"`
	Actions   int    `json:"actions"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CompileSummary is the outcome of a batch.
type CompileSummary struct {
	Results  []CompileResult `json:"results"`
	Compiled int             `json:"compiled"`
	Failed   int             `json:"failed"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <program>...",
		Short: "Compile programs into network actions",
		Long: `Compile encoded programs against a context blob.

Each program is lowered to its compiled action list and written as
<name>` + CompiledSuffix + ` next to the input, or under --output.
Files are compiled in parallel; a failing file does not stop the
others.

Exit codes:
  0 - All programs compiled
  1 - One or more programs failed to compile
  2 - Command error (unreadable context, etc.)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Context, "context", "context.bin", "context blob")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output directory")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", runtime.NumCPU(), "parallel compilations")

	return cmd
}

func runCompile(opts *CompileOptions, paths []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	logger := opts.logger(cmd)

	full, err := readContextFile(opts.Context)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeRead, "failed to read context", err)
	}
	if opts.Output != "" {
		if err := os.MkdirAll(opts.Output, 0o755); err != nil {
			return f.Fail(ExitCommandError, ErrCodeWrite, "failed to create output directory", err)
		}
	}

	f.VerboseLog("Compiling %d program(s) with %d job(s)", len(paths), max(opts.Jobs, 1))
	comp := compiler.New(scenario.Resources(full), compiler.WithLogger(logger))
	results := make([]CompileResult, len(paths))

	var g errgroup.Group
	g.SetLimit(max(opts.Jobs, 1))
	for i, path := range paths {
		g.Go(func() error {
			results[i] = compileFile(comp, path, opts.Output)
			return nil
		})
	}
	_ = g.Wait()

	summary := CompileSummary{Results: results}
	for _, r := range results {
		if r.Error != "" {
			summary.Failed++
		} else {
			summary.Compiled++
		}
	}

	if f.Format == "json" {
		if err := f.Success(summary); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(f.Writer, "%s %s: %s\n", mark(false), r.Path, r.Error)
				continue
			}
			fmt.Fprintf(f.Writer, "%s %s -> %s (%d actions)\n", mark(true), r.Path, r.Output, r.Actions)
		}
		fmt.Fprintf(f.Writer, "\nCompiled %d, failed %d\n", summary.Compiled, summary.Failed)
	}

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d program(s) failed to compile", summary.Failed))
	}
	return nil
}

func compileFile(comp *compiler.Compiler, path, outDir string) CompileResult {
	res := CompileResult{Path: path}

	prog, err := readProgramFile(path)
	if err != nil {
		res.Error = fmt.Sprintf("read: %v", err)
		return res
	}
	if res.ProgramID, err = ir.ProgramID(prog); err != nil {
		res.Error = fmt.Sprintf("hash: %v", err)
		return res
	}

	compiled, err := comp.Compile(prog)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	data, err := compiled.Encode()
	if err != nil {
		res.Error = fmt.Sprintf("encode: %v", err)
		return res
	}

	res.Output = compiledPath(path, outDir)
	if err := os.WriteFile(res.Output, data, 0o644); err != nil {
		res.Error = fmt.Sprintf("write: %v", err)
		res.Output = ""
		return res
	}
	res.Actions = len(compiled.Actions)
	return res
}

func compiledPath(path, outDir string) string {
	dir := filepath.Dir(path)
	if outDir != "" {
		dir = outDir
	}
	base := filepath.Base(path)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+CompiledSuffix)
}
