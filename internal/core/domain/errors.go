package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an upload with a content type that is not accepted.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrFileTooLarge indicates an upload larger than the configured limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrRateLimited indicates an external service rejected a call for rate reasons.
	ErrRateLimited = errors.New("rate limited")

	// Cell Errors.

	// ErrStaleCell indicates a state change targeted a cell instance that is
	// no longer current (superseded or deleted). Results for it are discarded.
	ErrStaleCell = errors.New("cell is no longer current")

	// ErrInvalidTransition indicates a state change the cell lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid cell state transition")

	// ErrCellBusy indicates a cell already has queued or in-flight work.
	ErrCellBusy = errors.New("cell has work in flight")

	// Service Errors.

	// ErrExtractorUnavailable indicates the extraction service is not configured.
	ErrExtractorUnavailable = errors.New("extraction service unavailable")

	// ErrGeneratorUnavailable indicates the answer generation service is not configured.
	ErrGeneratorUnavailable = errors.New("generation service unavailable")
)

// ErrorClass categorises failures for retry and display purposes.
type ErrorClass string

// Error classes.
const (
	// ErrorClassTransient covers network errors, timeouts and rate limits.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent covers malformed input, unsupported documents and
	// service-reported invalid requests. Never retried automatically.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassConsistency covers internal invariant violations.
	ErrorClassConsistency ErrorClass = "consistency"
)

// ExternalError is a failure reported by, or while calling, an external service.
type ExternalError struct {
	// Service names the collaborator (e.g. "extraction", "generation").
	Service string

	// Class is transient or permanent.
	Class ErrorClass

	// RateLimited is set when the service signalled a rate limit.
	RateLimited bool

	// RetryAfter is the service-provided wait hint, if any.
	RetryAfter time.Duration

	// StatusCode is the HTTP status, when the call reached the service.
	StatusCode int

	// Message is the human-readable failure description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ExternalError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s error (status %d): %s", e.Service, e.Class, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s error: %s", e.Service, e.Class, msg)
}

// Unwrap returns the underlying error.
func (e *ExternalError) Unwrap() error {
	if e.RateLimited && e.Err == nil {
		return ErrRateLimited
	}
	return e.Err
}

// Transient builds a retryable external error.
func Transient(service string, err error) *ExternalError {
	return &ExternalError{Service: service, Class: ErrorClassTransient, Err: err}
}

// Permanent builds a non-retryable external error.
func Permanent(service, message string) *ExternalError {
	return &ExternalError{Service: service, Class: ErrorClassPermanent, Message: message}
}

// RateLimit builds a transient, rate-limited external error.
func RateLimit(service string, retryAfter time.Duration) *ExternalError {
	return &ExternalError{
		Service:     service,
		Class:       ErrorClassTransient,
		RateLimited: true,
		RetryAfter:  retryAfter,
		StatusCode:  429,
		Message:     "rate limit exceeded",
	}
}

// ConsistencyError reports an internal invariant violation, such as a
// generation attempted before its document's extraction exists.
type ConsistencyError struct {
	CellID string
	Reason string
}

// Error implements the error interface.
func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation for cell %s: %s", e.CellID, e.Reason)
}

// ClassOf returns the error class of err. Errors that are not classified
// (unknown adapter errors, context deadlines) are treated as transient so a
// user-triggered regenerate can try again.
func ClassOf(err error) ErrorClass {
	var ext *ExternalError
	if errors.As(err, &ext) {
		return ext.Class
	}
	var ce *ConsistencyError
	if errors.As(err, &ce) {
		return ErrorClassConsistency
	}
	var cf *CellFailure
	if errors.As(err, &cf) {
		return cf.Class
	}
	return ErrorClassTransient
}

// IsRetryable reports whether err may succeed if attempted again.
func IsRetryable(err error) bool {
	return err != nil && ClassOf(err) != ErrorClassPermanent
}

// AsRateLimit extracts the rate-limit details from err, if it carries any.
func AsRateLimit(err error) (*ExternalError, bool) {
	var ext *ExternalError
	if errors.As(err, &ext) && ext.RateLimited {
		return ext, true
	}
	return nil, false
}
