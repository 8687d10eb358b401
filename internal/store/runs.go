package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run is the record of one executed test case.
type Run struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	InputID   string `json:"input_id"`
	ContextID string `json:"context_id,omitempty"`
	Actions   int    `json:"actions"`
	RPCCalls  int    `json:"rpc_calls"`
	Pass      bool   `json:"pass"`
	// Oracle names the oracle that failed the run, empty on pass.
	Oracle        string `json:"oracle,omitempty"`
	Message       string `json:"message,omitempty"`
	EngineVersion string `json:"engine_version"`
	IRVersion     string `json:"ir_version"`
}

// WriteRun appends a run record and returns its assigned sequence number.
// Writing an existing ID is a no-op that returns the stored sequence.
func (s *Store) WriteRun(ctx context.Context, r Run) (int64, error) {
	var contextID any
	if r.ContextID != "" {
		contextID = r.ContextID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, input_id, context_id, actions, rpc_calls, pass, oracle, message, engine_version, ir_version)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM runs), ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.ID,
		r.InputID,
		contextID,
		r.Actions,
		r.RPCCalls,
		r.Pass,
		r.Oracle,
		r.Message,
		r.EngineVersion,
		r.IRVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}

	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT seq FROM runs WHERE id = ?`, r.ID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("write run: read seq: %w", err)
	}
	return seq, nil
}

const runColumns = `id, seq, input_id, COALESCE(context_id, ''), actions, rpc_calls, pass, oracle, message, engine_version, ir_version`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Seq, &r.InputID, &r.ContextID, &r.Actions, &r.RPCCalls,
		&r.Pass, &r.Oracle, &r.Message, &r.EngineVersion, &r.IRVersion)
	return r, err
}

// ReadRun returns the run with the given ID.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run: %w", err)
	}
	return r, nil
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	// FailedOnly restricts the listing to runs an oracle failed.
	FailedOnly bool
	// Limit caps the number of runs returned; zero means no limit.
	Limit int
}

// ListRuns returns runs in sequence order.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if f.FailedOnly {
		query += ` WHERE pass = 0`
	}
	query += ` ORDER BY seq ASC, id COLLATE BINARY ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
