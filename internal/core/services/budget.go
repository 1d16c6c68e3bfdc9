package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// TokenBudget throttles calls to one external service. It is shared by
// every worker, so a rate-limit response slows all future dispatch rather
// than just the failing call.
type TokenBudget struct {
	limiter  *rate.Limiter
	cooldown time.Duration

	mu      sync.Mutex
	retryAt time.Time
	now     func() time.Time
}

// NewTokenBudget creates a budget from rate settings. A non-positive rate
// disables steady-state throttling but still honours cool-downs.
func NewTokenBudget(s domain.RateSettings) *TokenBudget {
	limit := rate.Inf
	if s.RequestsPerSecond > 0 {
		limit = rate.Limit(s.RequestsPerSecond)
	}
	burst := s.Burst
	if burst < 1 {
		burst = 1
	}
	return &TokenBudget{
		limiter:  rate.NewLimiter(limit, burst),
		cooldown: s.Cooldown,
		now:      time.Now,
	}
}

// Wait blocks until a call may be made or ctx is done.
func (b *TokenBudget) Wait(ctx context.Context) error {
	if wait := b.cooldownRemaining(); wait > 0 {
		if err := sleepContext(ctx, wait); err != nil {
			return err
		}
	}
	return b.limiter.Wait(ctx)
}

// RecordRateLimit pauses the budget after a rate-limit response. A zero
// retryAfter uses the configured cool-down.
func (b *TokenBudget) RecordRateLimit(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = b.cooldown
	}
	if retryAfter <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	until := b.now().Add(retryAfter)
	if until.After(b.retryAt) {
		b.retryAt = until
	}
}

// CoolingDown reports whether the budget is paused after a rate limit.
func (b *TokenBudget) CoolingDown() bool {
	return b.cooldownRemaining() > 0
}

func (b *TokenBudget) cooldownRemaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retryAt.IsZero() {
		return 0
	}
	return b.retryAt.Sub(b.now())
}
