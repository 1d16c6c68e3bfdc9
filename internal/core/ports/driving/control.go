package driving

import (
	"context"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// ControlService manages the questions evaluated against documents.
type ControlService interface {
	// Create defines a new active control at version 1.
	Create(ctx context.Context, in domain.ControlInput) (*domain.Control, error)

	// Update applies a patch. Prompt or description edits bump the version
	// and regenerate the column.
	Update(ctx context.Context, controlID string, patch domain.ControlPatch) (*domain.Control, error)

	// Remove deletes a control and its cells.
	Remove(ctx context.Context, controlID string) error

	// Get retrieves a control by ID.
	Get(ctx context.Context, controlID string) (*domain.Control, error)

	// List returns controls newest first, optionally including inactive ones.
	List(ctx context.Context, includeInactive bool) ([]domain.Control, error)

	// Search returns active controls whose title, description or prompt match.
	Search(ctx context.Context, query string) ([]domain.Control, error)

	// Duplicate copies a control with a " (Copy)" title suffix.
	Duplicate(ctx context.Context, controlID string) (*domain.Control, error)
}
