package cli

import (
	"fmt"
	"os"

	"github.com/brunoerg/fuzzamoto/internal/ir"
	"github.com/brunoerg/fuzzamoto/internal/store"
)

func readContextFile(path string) (*ir.FullProgramContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ir.DecodeContext(data)
}

func readProgramFile(path string) (*ir.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ir.DecodeProgram(data)
}

// openStore opens the --db path, falling back to the configured database.
func openStore(flag, configured string) (*store.Store, error) {
	path := flag
	if path == "" {
		path = configured
	}
	if path == "" {
		return nil, NewExitError(ExitCommandError, "no database: pass --db or set database in the config")
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open database %s", path), err)
	}
	return st, nil
}
