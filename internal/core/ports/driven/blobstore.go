package driven

import (
	"context"
	"io"
)

// BlobStore persists uploaded files and hands out opaque references.
type BlobStore interface {
	// Put stores the content and returns its reference.
	Put(ctx context.Context, filename, contentType string, r io.Reader) (string, error)

	// Open returns the content for a reference. The caller closes it.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)

	// URL returns an address for the content that external services can fetch.
	URL(ctx context.Context, ref string) (string, error)

	// Delete removes the content. A missing reference returns domain.ErrNotFound.
	Delete(ctx context.Context, ref string) error
}
