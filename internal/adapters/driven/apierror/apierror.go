// Package apierror classifies HTTP failures from external services into
// domain.ExternalError values.
package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// maxMessageLen bounds the response body quoted in error messages.
const maxMessageLen = 512

// FromStatus classifies a non-2xx response. 429 and 5xx are transient,
// other statuses are permanent. A 429 carries the Retry-After hint.
func FromStatus(service string, resp *http.Response, body []byte) *domain.ExternalError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen] + "..."
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e := domain.RateLimit(service, RetryAfter(resp.Header.Get("Retry-After"), time.Now()))
		e.Message = msg
		return e
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusRequestTimeout:
		return &domain.ExternalError{
			Service:    service,
			Class:      domain.ErrorClassTransient,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	default:
		return &domain.ExternalError{
			Service:    service,
			Class:      domain.ErrorClassPermanent,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}
}

// FromTransport classifies an error from sending a request or reading its
// response. Cancellation by the caller is returned unchanged.
func FromTransport(ctx context.Context, service string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	return domain.Transient(service, err)
}

// Malformed reports a response body that could not be understood.
func Malformed(service string, err error) *domain.ExternalError {
	e := domain.Permanent(service, fmt.Sprintf("malformed response: %v", err))
	e.Err = err
	return e
}

// RetryAfter parses a Retry-After header given as seconds or an HTTP date.
// It returns zero when the header is absent or unparseable.
func RetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
