package driven

import (
	"context"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// CellStore is the authoritative record of cell lifecycle state.
//
// Exactly one cell per (document, control) pair is current. Replacing the
// current cell with a different instance moves the old one to the audit
// history. All writes to a key are atomic with respect to each other.
type CellStore interface {
	// Get returns the current cell for a pair.
	// Returns domain.ErrNotFound if there is none.
	Get(ctx context.Context, documentID, controlID string) (*domain.Cell, error)

	// Upsert makes cell the current cell for its pair. A previous current
	// cell with a different ID is archived as superseded.
	Upsert(ctx context.Context, cell *domain.Cell) error

	// MarkState applies a state change to the current cell of key as a
	// compare-and-set on the cell instance and its lifecycle. Returns
	// domain.ErrStaleCell if the instance is no longer current and
	// domain.ErrInvalidTransition if the lifecycle forbids the change.
	MarkState(ctx context.Context, key domain.CellKey, change domain.StateChange) (*domain.Cell, error)

	// ListByControl returns the current cells of a control column.
	ListByControl(ctx context.Context, controlID string) ([]domain.Cell, error)

	// ListByDocument returns the current cells of a document row.
	ListByDocument(ctx context.Context, documentID string) ([]domain.Cell, error)

	// ListByState returns current cells in any of the given states.
	ListByState(ctx context.Context, states ...domain.CellState) ([]domain.Cell, error)

	// ListAll returns every current cell.
	ListAll(ctx context.Context) ([]domain.Cell, error)

	// DeleteByDocument removes all cells of a document, current and
	// superseded, and returns the number of current cells removed.
	DeleteByDocument(ctx context.Context, documentID string) (int, error)

	// DeleteByControl removes all cells of a control, current and
	// superseded, and returns the number of current cells removed.
	DeleteByControl(ctx context.Context, controlID string) (int, error)

	// History returns the superseded instances of a pair, newest first.
	History(ctx context.Context, documentID, controlID string) ([]domain.Cell, error)
}
