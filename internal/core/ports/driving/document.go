package driving

import (
	"context"
	"io"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// DocumentService manages uploaded documents.
type DocumentService interface {
	// Upload validates and stores a new document at version 1.
	Upload(ctx context.Context, req domain.UploadRequest, body io.Reader) (*domain.Document, error)

	// Replace stores a new file for a document and bumps its version.
	Replace(ctx context.Context, documentID string, req domain.UploadRequest, body io.Reader) (*domain.Document, error)

	// Reparse bumps the version without a new file, forcing re-extraction.
	Reparse(ctx context.Context, documentID string) (*domain.Document, error)

	// Remove deletes a document, its cells and its stored file.
	Remove(ctx context.Context, documentID string) error

	// Get retrieves a document by ID.
	Get(ctx context.Context, documentID string) (*domain.Document, error)

	// GetBySourcePath retrieves the document imported from a watched path.
	GetBySourcePath(ctx context.Context, path string) (*domain.Document, error)

	// List returns all documents, newest first.
	List(ctx context.Context) ([]domain.Document, error)
}
