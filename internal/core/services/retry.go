package services

import (
	"context"
	"time"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// RetryPolicy is the retry schedule injected into each gateway.
type RetryPolicy struct {
	// MaxAttempts bounds the number of calls, including the first. Values
	// below 1 are treated as 1.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// Multiplier grows the wait after each attempt.
	Multiplier float64

	// Retryable decides whether an error may be retried. Defaults to
	// domain.IsRetryable.
	Retryable func(error) bool

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy from settings.
func NewRetryPolicy(s domain.RetrySettings) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    s.MaxAttempts,
		InitialBackoff: s.InitialBackoff,
		MaxBackoff:     s.MaxBackoff,
		Multiplier:     s.Multiplier,
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.InitialBackoff <= 0 || attempt < 1 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxBackoff > 0 && d >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && time.Duration(d) > p.MaxBackoff {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. It returns the number of calls made and the last
// error. A rate-limit error with a longer Retry-After than the backoff
// waits for Retry-After instead.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = domain.IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if !retryable(err) || attempt == maxAttempts {
			return attempt, err
		}

		wait := p.Backoff(attempt)
		if rl, ok := domain.AsRateLimit(err); ok && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return attempt, err
		}
	}
	return maxAttempts, err
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
