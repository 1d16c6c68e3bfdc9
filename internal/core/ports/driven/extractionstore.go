package driven

import (
	"context"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// ExtractionStore persists extraction cache rows, one per document version.
type ExtractionStore interface {
	// GetExtraction returns the entry for a document version.
	// Returns domain.ErrNotFound if there is none.
	GetExtraction(ctx context.Context, key domain.ExtractionKey) (*domain.ExtractionEntry, error)

	// SaveExtraction stores or replaces an entry.
	SaveExtraction(ctx context.Context, entry *domain.ExtractionEntry) error

	// DeleteExtractions removes every entry of a document.
	DeleteExtractions(ctx context.Context, documentID string) error
}
