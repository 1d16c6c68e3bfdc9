package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
)

// ==================== Cell Store ====================

// CellStore returns a CellStore interface backed by this store.
func (s *Store) CellStore() driven.CellStore {
	return &cellStore{store: s, now: time.Now}
}

// cellStore implements driven.CellStore.
type cellStore struct {
	store *Store
	now   func() time.Time
}

var _ driven.CellStore = (*cellStore)(nil)

const cellColumns = `id, document_id, control_id, document_version, control_version, revision,
	state, result, failure, attempts, enqueued_at, started_at, finished_at, created_at, updated_at`

// Get returns the current cell for a pair.
func (s *cellStore) Get(ctx context.Context, documentID, controlID string) (*domain.Cell, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+cellColumns+` FROM cells WHERE document_id = ? AND control_id = ?`,
		documentID, controlID)
	return scanCell(row)
}

// Upsert makes cell the current cell for its pair, archiving a different
// previous instance into cell_history.
func (s *cellStore) Upsert(ctx context.Context, cell *domain.Cell) error {
	s.store.cellMu.Lock()
	defer s.store.cellMu.Unlock()

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cell_history (`+cellColumns+`, superseded_at)
		SELECT `+cellColumns+`, ? FROM cells
		WHERE document_id = ? AND control_id = ? AND id != ?
	`, unixNano(s.now()), cell.DocumentID, cell.ControlID, cell.ID)
	if err != nil {
		return fmt.Errorf("archiving superseded cell: %w", err)
	}

	args, err := cellArgs(cell)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cells (`+cellColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, control_id) DO UPDATE SET
			id = excluded.id,
			document_version = excluded.document_version,
			control_version = excluded.control_version,
			revision = excluded.revision,
			state = excluded.state,
			result = excluded.result,
			failure = excluded.failure,
			attempts = excluded.attempts,
			enqueued_at = excluded.enqueued_at,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`, args...)
	if err != nil {
		return fmt.Errorf("saving cell: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// MarkState applies a state change to the current cell of key.
func (s *cellStore) MarkState(ctx context.Context, key domain.CellKey, change domain.StateChange) (*domain.Cell, error) {
	s.store.cellMu.Lock()
	defer s.store.cellMu.Unlock()

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx,
		`SELECT `+cellColumns+` FROM cells WHERE document_id = ? AND control_id = ?`,
		key.DocumentID, key.ControlID)
	cell, err := scanCell(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrStaleCell
		}
		return nil, err
	}

	from := cell.State
	if err := cell.Apply(change); err != nil {
		return nil, err
	}

	result, failure, err := encodeOutcome(cell)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE cells SET
			state = ?, result = ?, failure = ?, attempts = ?,
			enqueued_at = ?, started_at = ?, finished_at = ?, updated_at = ?
		WHERE document_id = ? AND control_id = ? AND id = ? AND state = ?
	`, string(cell.State), result, failure, cell.Attempts,
		unixNano(cell.EnqueuedAt), unixNano(cell.StartedAt), unixNano(cell.FinishedAt), unixNano(cell.UpdatedAt),
		key.DocumentID, key.ControlID, cell.ID, string(from))
	if err != nil {
		return nil, fmt.Errorf("updating cell state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, domain.ErrStaleCell
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return cell, nil
}

// ListByControl returns the current cells of a control column.
func (s *cellStore) ListByControl(ctx context.Context, controlID string) ([]domain.Cell, error) {
	return s.query(ctx, `WHERE control_id = ?`, controlID)
}

// ListByDocument returns the current cells of a document row.
func (s *cellStore) ListByDocument(ctx context.Context, documentID string) ([]domain.Cell, error) {
	return s.query(ctx, `WHERE document_id = ?`, documentID)
}

// ListByState returns current cells in any of the given states.
func (s *cellStore) ListByState(ctx context.Context, states ...domain.CellState) ([]domain.Cell, error) {
	if len(states) == 0 {
		return nil, nil
	}
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}
	return s.query(ctx, `WHERE state IN (`+placeholders(len(states))+`)`, args...)
}

// ListAll returns every current cell.
func (s *cellStore) ListAll(ctx context.Context) ([]domain.Cell, error) {
	return s.query(ctx, ``)
}

// DeleteByDocument removes all cells of a document, current and superseded.
func (s *cellStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	return s.delete(ctx, "document_id", documentID)
}

// DeleteByControl removes all cells of a control, current and superseded.
func (s *cellStore) DeleteByControl(ctx context.Context, controlID string) (int, error) {
	return s.delete(ctx, "control_id", controlID)
}

// History returns the superseded instances of a pair, newest first.
func (s *cellStore) History(ctx context.Context, documentID, controlID string) ([]domain.Cell, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT `+cellColumns+`, superseded_at FROM cell_history
		WHERE document_id = ? AND control_id = ?
		ORDER BY superseded_at DESC, created_at DESC
	`, documentID, controlID)
	if err != nil {
		return nil, fmt.Errorf("listing cell history: %w", err)
	}
	defer rows.Close()

	var cells []domain.Cell
	for rows.Next() {
		var supersededAt int64
		cell, err := scanCellWith(rows, &supersededAt)
		if err != nil {
			return nil, err
		}
		cell.SupersededAt = fromUnixNano(supersededAt)
		cells = append(cells, *cell)
	}
	return cells, rows.Err()
}

func (s *cellStore) query(ctx context.Context, where string, args ...any) ([]domain.Cell, error) {
	rows, err := s.store.db.QueryContext(ctx,
		`SELECT `+cellColumns+` FROM cells `+where+` ORDER BY document_id, control_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing cells: %w", err)
	}
	defer rows.Close()

	var cells []domain.Cell
	for rows.Next() {
		cell, err := scanCell(rows)
		if err != nil {
			return nil, err
		}
		cells = append(cells, *cell)
	}
	return cells, rows.Err()
}

// delete removes current and archived cells matching column = value.
// column is always one of the fixed key columns.
func (s *cellStore) delete(ctx context.Context, column, value string) (int, error) {
	s.store.cellMu.Lock()
	defer s.store.cellMu.Unlock()

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM cells WHERE `+column+` = ?`, value)
	if err != nil {
		return 0, fmt.Errorf("deleting cells: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted cells: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cell_history WHERE `+column+` = ?`, value); err != nil {
		return 0, fmt.Errorf("deleting cell history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return int(removed), nil
}

func cellArgs(cell *domain.Cell) ([]any, error) {
	result, failure, err := encodeOutcome(cell)
	if err != nil {
		return nil, err
	}
	return []any{
		cell.ID, cell.DocumentID, cell.ControlID, cell.DocumentVersion, cell.ControlVersion, cell.Revision,
		string(cell.State), result, failure, cell.Attempts,
		unixNano(cell.EnqueuedAt), unixNano(cell.StartedAt), unixNano(cell.FinishedAt),
		unixNano(cell.CreatedAt), unixNano(cell.UpdatedAt),
	}, nil
}

// encodeOutcome marshals the result and failure payloads. Absent payloads
// are stored as NULL.
func encodeOutcome(cell *domain.Cell) (result, failure sql.NullString, err error) {
	if cell.Result != nil {
		data, err := json.Marshal(cell.Result)
		if err != nil {
			return result, failure, fmt.Errorf("marshalling cell result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}
	if cell.Failure != nil {
		data, err := json.Marshal(cell.Failure)
		if err != nil {
			return result, failure, fmt.Errorf("marshalling cell failure: %w", err)
		}
		failure = sql.NullString{String: string(data), Valid: true}
	}
	return result, failure, nil
}

func scanCell(row rowScanner) (*domain.Cell, error) {
	return scanCellWith(row)
}

// scanCellWith scans the cell columns followed by any extra destinations.
func scanCellWith(row rowScanner, extra ...any) (*domain.Cell, error) {
	var (
		cell                        domain.Cell
		state                       string
		result, failure             sql.NullString
		enqueued, started, finished int64
		createdAt, updatedAt        int64
	)
	dest := []any{
		&cell.ID, &cell.DocumentID, &cell.ControlID, &cell.DocumentVersion, &cell.ControlVersion, &cell.Revision,
		&state, &result, &failure, &cell.Attempts, &enqueued, &started, &finished, &createdAt, &updatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning cell: %w", err)
	}

	cell.State = domain.CellState(state)
	cell.EnqueuedAt = fromUnixNano(enqueued)
	cell.StartedAt = fromUnixNano(started)
	cell.FinishedAt = fromUnixNano(finished)
	cell.CreatedAt = fromUnixNano(createdAt)
	cell.UpdatedAt = fromUnixNano(updatedAt)

	if result.Valid && result.String != jsonNull {
		cell.Result = &domain.Answer{}
		if err := json.Unmarshal([]byte(result.String), cell.Result); err != nil {
			return nil, fmt.Errorf("unmarshalling cell result: %w", err)
		}
	}
	if failure.Valid && failure.String != jsonNull {
		cell.Failure = &domain.CellFailure{}
		if err := json.Unmarshal([]byte(failure.String), cell.Failure); err != nil {
			return nil, fmt.Errorf("unmarshalling cell failure: %w", err)
		}
	}
	return &cell, nil
}
