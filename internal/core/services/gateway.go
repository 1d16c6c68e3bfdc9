package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
	"github.com/custodia-labs/tally/internal/logger"
)

// gateway applies the shared budget, per-call timeout and retry policy to
// calls against one external service.
type gateway struct {
	service string
	policy  RetryPolicy
	budget  *TokenBudget
	timeout time.Duration
	log     logger.Component
}

// call runs fn under the gateway's policies and returns the number of
// calls made. Errors are always *domain.ExternalError.
func (g *gateway) call(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts, err := g.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if g.budget != nil {
			if err := g.budget.Wait(ctx); err != nil {
				return domain.Transient(g.service, fmt.Errorf("waiting for rate budget: %w", err))
			}
		}

		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}

		err := g.classify(callCtx, fn(callCtx))
		if err == nil {
			return nil
		}
		if rl, ok := domain.AsRateLimit(err); ok {
			g.log.Warn("rate limited on attempt %d, retry after %s", attempt, rl.RetryAfter)
			if g.budget != nil {
				g.budget.RecordRateLimit(rl.RetryAfter)
			}
		} else if domain.IsRetryable(err) {
			g.log.Warn("attempt %d failed: %v", attempt, err)
		}
		return err
	})
	if err != nil && attempts > 1 {
		g.log.Debug("giving up after %d attempts: %v", attempts, err)
	}
	return attempts, err
}

// classify turns adapter errors into external errors. Unclassified errors
// and timeouts are transient.
func (g *gateway) classify(callCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var ext *domain.ExternalError
	if errors.As(err, &ext) {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return domain.Transient(g.service, fmt.Errorf("call timed out after %s: %w", g.timeout, err))
	}
	return domain.Transient(g.service, err)
}

// ExtractionGateway wraps the document extraction service.
type ExtractionGateway struct {
	extractor driven.Extractor
	gw        gateway
}

// NewExtractionGateway creates an extraction gateway.
func NewExtractionGateway(extractor driven.Extractor, policy RetryPolicy, budget *TokenBudget, timeout time.Duration) *ExtractionGateway {
	return &ExtractionGateway{
		extractor: extractor,
		gw: gateway{
			service: "extraction",
			policy:  policy,
			budget:  budget,
			timeout: timeout,
			log:     logger.With("extraction-gateway"),
		},
	}
}

// Extract fetches the extraction of doc's current version. It returns the
// number of service calls made.
func (g *ExtractionGateway) Extract(ctx context.Context, doc *domain.Document) (*domain.ExtractionResult, int, error) {
	if g.extractor == nil {
		return nil, 0, domain.Transient(g.gw.service, domain.ErrExtractorUnavailable)
	}
	var result *domain.ExtractionResult
	attempts, err := g.gw.call(ctx, func(ctx context.Context) error {
		r, err := g.extractor.Extract(ctx, doc)
		if err != nil {
			return err
		}
		if r == nil {
			return domain.Permanent(g.gw.service, "service returned no content")
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}
	return result, attempts, nil
}

// GenerationGateway wraps the answer generation service. Results are never cached.
type GenerationGateway struct {
	generator driven.Generator
	gw        gateway
}

// NewGenerationGateway creates a generation gateway.
func NewGenerationGateway(generator driven.Generator, policy RetryPolicy, budget *TokenBudget, timeout time.Duration) *GenerationGateway {
	return &GenerationGateway{
		generator: generator,
		gw: gateway{
			service: "generation",
			policy:  policy,
			budget:  budget,
			timeout: timeout,
			log:     logger.With("generation-gateway"),
		},
	}
}

// Generate answers a control for extracted content. It returns the number
// of service calls made.
func (g *GenerationGateway) Generate(ctx context.Context, req driven.GenerationRequest) (*domain.Answer, int, error) {
	if g.generator == nil {
		return nil, 0, domain.Transient(g.gw.service, domain.ErrGeneratorUnavailable)
	}
	var answer *domain.Answer
	attempts, err := g.gw.call(ctx, func(ctx context.Context) error {
		a, err := g.generator.Generate(ctx, req)
		if err != nil {
			return err
		}
		if a == nil {
			return domain.Permanent(g.gw.service, "service returned no answer")
		}
		answer = a
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}
	return answer, attempts, nil
}
