package driven

import (
	"context"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// DocumentStore persists documents.
// Backed by SQLite for metadata storage.
type DocumentStore interface {
	// SaveDocument stores or updates a document.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document by ID.
	// Returns domain.ErrNotFound if it does not exist.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// GetDocumentBySourcePath retrieves the document imported from a watched path.
	// Returns domain.ErrNotFound if none matches.
	GetDocumentBySourcePath(ctx context.Context, path string) (*domain.Document, error)

	// DeleteDocument removes a document.
	DeleteDocument(ctx context.Context, id string) error

	// ListDocuments returns all documents, newest first.
	ListDocuments(ctx context.Context) ([]domain.Document, error)
}
