package driven

import (
	"context"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// GenerationRequest carries everything needed to answer one control for one document.
type GenerationRequest struct {
	// Content is the document's extraction result.
	Content *domain.ExtractionResult

	// Prompt is the control question.
	Prompt string

	// Context is the control description.
	Context string
}

// Generator calls the answer generation service.
// Errors follow the same classification as Extractor.
type Generator interface {
	// Generate answers the prompt from the content. Returned citations are
	// resolved against the content's citation index.
	Generate(ctx context.Context, req GenerationRequest) (*domain.Answer, error)

	// ModelName returns the name of the model being used.
	ModelName() string
}
