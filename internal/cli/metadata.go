package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/brunoerg/fuzzamoto/internal/ir"
)

// MetadataOptions holds flags for the metadata commands.
type MetadataOptions struct {
	*RootOptions
	Database string
}

// MetadataSummary reports the request events stored for a program.
type MetadataSummary struct {
	ProgramID string                  `json:"program_id"`
	Metadata  *ir.PerTestcaseMetadata `json:"metadata"`
}

// NewMetadataCommand creates the metadata command group.
func NewMetadataCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MetadataOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Store and inspect per-program request metadata",
		Long: `Request metadata records which instructions of a program made the
target request a block template or missing block transactions. The
paired generators read it back to answer those requests.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database path (default from config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "import <program> <metadata>",
		Short: "Record metadata for a program",
		Long: `Record the request events of <metadata> under the ID of <program>,
replacing any previous record. Files ending in .json are read as JSON,
anything else as the binary codec.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetadataImport(opts, args[0], args[1], cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "show <program-id>",
		Short:         "Print the metadata recorded for a program ID",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetadataShow(opts, args[0], cmd)
		},
	})

	return cmd
}

func readMetadataFile(path string) (*ir.PerTestcaseMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) == ".json" {
		var meta ir.PerTestcaseMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, err
		}
		return &meta, nil
	}
	return ir.DecodeMetadata(data)
}

func runMetadataImport(opts *MetadataOptions, programPath, metaPath string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	prog, err := readProgramFile(programPath)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeRead, "failed to read program", err)
	}
	meta, err := readMetadataFile(metaPath)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeRead, "failed to read metadata", err)
	}
	id, err := ir.ProgramID(prog)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDecode, "failed to hash program", err)
	}

	st, err := openStore(opts.Database, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.WriteMetadata(cmd.Context(), id, meta); err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to store metadata", err)
	}

	if f.Format == "json" {
		return f.Success(MetadataSummary{ProgramID: id, Metadata: meta})
	}
	fmt.Fprintf(f.Writer, "%s Stored %d template and %d block-txn request(s) for %s\n",
		mark(true), len(meta.TemplateRequests), len(meta.BlockTxnRequests), id)
	return nil
}

func runMetadataShow(opts *MetadataOptions, programID string, cmd *cobra.Command) error {
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

	meta, err := st.ReadMetadata(cmd.Context(), programID)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to read metadata", err)
	}

	if f.Format == "json" {
		return f.Success(MetadataSummary{ProgramID: programID, Metadata: meta})
	}
	fmt.Fprintf(f.Writer, "Program %s\n", programID)
	for _, ev := range meta.TemplateRequests {
		fmt.Fprintf(f.Writer, "  template   after instruction %d on connection v%d\n", ev.TriggeringInstructionIndex, ev.Connection)
	}
	for _, ev := range meta.BlockTxnRequests {
		fmt.Fprintf(f.Writer, "  block_txn  after instruction %d on connection v%d\n", ev.TriggeringInstructionIndex, ev.Connection)
	}
	return nil
}
