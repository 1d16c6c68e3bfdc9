package driven

import (
	"context"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// ControlStore persists controls.
type ControlStore interface {
	// SaveControl stores or updates a control.
	SaveControl(ctx context.Context, ctrl *domain.Control) error

	// GetControl retrieves a control by ID.
	// Returns domain.ErrNotFound if it does not exist.
	GetControl(ctx context.Context, id string) (*domain.Control, error)

	// DeleteControl removes a control.
	DeleteControl(ctx context.Context, id string) error

	// ListControls returns all controls, newest first.
	ListControls(ctx context.Context) ([]domain.Control, error)
}
