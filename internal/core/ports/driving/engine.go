package driving

import (
	"context"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// Engine runs cell processing in the background.
type Engine interface {
	// Start runs the worker pool and reconciliation sweep. Blocks until
	// Stop is called or ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the engine, waiting for running tasks.
	Stop() error

	// WaitIdle blocks until no task is queued or running.
	WaitIdle(ctx context.Context) error

	// Sweep runs one reconciliation pass immediately.
	Sweep(ctx context.Context) error
}

// ChangeHandler reacts to domain mutations by invalidating and dispatching cells.
type ChangeHandler interface {
	Handle(ctx context.Context, event domain.ChangeEvent) (*domain.Reaction, error)
}
