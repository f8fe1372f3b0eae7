package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates a request argument violates its contract.
	// All ValidationErrors wrap it.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmbeddingUnavailable indicates the embedding service is not configured.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrRateLimited indicates the provider rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransient marks failures that may succeed when retried.
	ErrTransient = errors.New("transient failure")

	// ErrDimensionMismatch indicates a vector of the wrong length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrUnsupportedType indicates an unknown provider or backend name.
	ErrUnsupportedType = errors.New("unsupported type")
)

// ValidationError reports a request that can never succeed as given.
// It is surfaced immediately, without retry and without side effects.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid argument: " + e.Reason
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// TransientError wraps a provider or storage failure that may succeed on retry,
// such as a timeout, a rate limit or a 5xx response.
type TransientError struct {
	Op  string
	Err error

	// RetryAfter is the provider's requested delay, zero when not given.
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransient) hold for every TransientError.
func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded)
}

// EmbeddingError reports that the text at position Index of the caller's
// input could not be embedded once retries were exhausted.
type EmbeddingError struct {
	Index int
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding text %d: %v", e.Index, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// StorageConsistencyError reports a batch write that was only partly committed.
// It is fatal: ingestion halts rather than continue on an inconsistent store.
type StorageConsistencyError struct {
	Batch int
	Err   error
}

func (e *StorageConsistencyError) Error() string {
	return fmt.Sprintf("storage batch %d left inconsistent: %v", e.Batch, e.Err)
}

func (e *StorageConsistencyError) Unwrap() error {
	return e.Err
}
