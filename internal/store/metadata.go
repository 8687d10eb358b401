package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brunoerg/fuzzamoto/internal/ir"
)

const (
	kindTemplate = "template"
	kindBlockTxn = "block_txn"
)

// WriteMetadata replaces the request events recorded for programID.
func (s *Store) WriteMetadata(ctx context.Context, programID string, meta *ir.PerTestcaseMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM request_events WHERE program_id = ?`, programID); err != nil {
		return fmt.Errorf("write metadata: clear: %w", err)
	}

	insert := func(kind string, events []ir.RequestEvent) error {
		for i, ev := range events {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO request_events
				(program_id, kind, position, triggering_instruction_index, connection)
				VALUES (?, ?, ?, ?, ?)
			`, programID, kind, i, ev.TriggeringInstructionIndex, ev.Connection)
			if err != nil {
				return fmt.Errorf("write metadata: %s event %d: %w", kind, i, err)
			}
		}
		return nil
	}
	if err := insert(kindTemplate, meta.TemplateRequest()); err != nil {
		return err
	}
	if err := insert(kindBlockTxn, meta.BlockTxnRequest()); err != nil {
		return err
	}

	return tx.Commit()
}

// ReadMetadata returns the request events recorded for programID, in the
// order they were written. A program without recorded events yields empty
// metadata.
func (s *Store) ReadMetadata(ctx context.Context, programID string) (*ir.PerTestcaseMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, triggering_instruction_index, connection
		FROM request_events
		WHERE program_id = ?
		ORDER BY kind COLLATE BINARY ASC, position ASC
	`, programID)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	meta := &ir.PerTestcaseMetadata{}
	for rows.Next() {
		var kind string
		var ev ir.RequestEvent
		if err := rows.Scan(&kind, &ev.TriggeringInstructionIndex, &ev.Connection); err != nil {
			return nil, fmt.Errorf("scan request event: %w", err)
		}
		switch kind {
		case kindTemplate:
			meta.TemplateRequests = append(meta.TemplateRequests, ev)
		case kindBlockTxn:
			meta.BlockTxnRequests = append(meta.BlockTxnRequests, ev)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request events: %w", err)
	}
	return meta, nil
}

// WriteContext stores an encoded context blob under its content ID.
// Writing the same context twice is a no-op.
func (s *Store) WriteContext(ctx context.Context, full *ir.FullProgramContext) (string, error) {
	id, err := ir.ContextID(full)
	if err != nil {
		return "", fmt.Errorf("write context: %w", err)
	}
	data, err := ir.EncodeContext(full)
	if err != nil {
		return "", fmt.Errorf("write context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contexts (id, data, num_nodes, num_connections, timestamp, txos, headers)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		id,
		data,
		full.Context.NumNodes,
		full.Context.NumConnections,
		int64(full.Context.Timestamp),
		len(full.Txos),
		len(full.Headers),
	)
	if err != nil {
		return "", fmt.Errorf("write context: %w", err)
	}
	return id, nil
}

// ReadContext loads the context blob with the given ID.
func (s *Store) ReadContext(ctx context.Context, id string) (*ir.FullProgramContext, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM contexts WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("context %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read context: %w", err)
	}
	return ir.DecodeContext(data)
}
