package driving

import (
	"context"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// GridService exposes the document × control matrix to callers.
type GridService interface {
	// GetGridView returns every document against every active control.
	GetGridView(ctx context.Context) (*domain.GridView, error)

	// RequestRegenerate supersedes the targeted cells and re-dispatches them.
	RequestRegenerate(ctx context.Context, scope domain.RegenerateScope) (*domain.Reaction, error)

	// Subscribe streams cell state changes until ctx is done.
	Subscribe(ctx context.Context) <-chan domain.CellEvent

	// Status summarises processing progress across the grid.
	Status(ctx context.Context) (*domain.ProcessingSummary, error)

	// History returns the superseded instances of a cell, newest first.
	History(ctx context.Context, documentID, controlID string) ([]domain.Cell, error)
}
