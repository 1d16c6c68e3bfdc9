package driven

import (
	"context"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// Extractor calls the document extraction service.
//
// Implementations return *domain.ExternalError for service failures so
// that gateways can classify them:
//   - transient: network errors, timeouts, 5xx and rate-limit responses
//   - permanent: unsupported documents and other rejected requests
type Extractor interface {
	// Name identifies the service in logs and errors.
	Name() string

	// Extract returns the structured text and citation index of a document's
	// current file.
	Extract(ctx context.Context, doc *domain.Document) (*domain.ExtractionResult, error)
}
