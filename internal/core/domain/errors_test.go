package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrors_Existence tests that all error variables exist and are not nil
func TestErrors_Existence(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrInvalidArgument", ErrInvalidArgument},
		{"ErrEmbeddingUnavailable", ErrEmbeddingUnavailable},
		{"ErrRateLimited", ErrRateLimited},
		{"ErrTransient", ErrTransient},
		{"ErrDimensionMismatch", ErrDimensionMismatch},
		{"ErrUnsupportedType", ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.err)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("limit", "must be positive")

	assert.Equal(t, "invalid argument limit: must be positive", err.Error())
	assert.ErrorIs(t, err, ErrInvalidArgument)

	wrapped := fmt.Errorf("calling tool: %w", err)
	var ve *ValidationError
	assert.True(t, errors.As(wrapped, &ve))
	assert.Equal(t, "limit", ve.Field)
}

func TestValidationError_NoField(t *testing.T) {
	err := &ValidationError{Reason: "bad request"}
	assert.Equal(t, "invalid argument: bad request", err.Error())
}

func TestTransientError(t *testing.T) {
	cause := errors.New("status 503")
	err := &TransientError{Op: "embed", Err: cause}

	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient")
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"transient error", &TransientError{Op: "x", Err: errors.New("boom")}, true},
		{"wrapped rate limit", fmt.Errorf("call: %w", ErrRateLimited), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"validation error", NewValidationError("f", "r"), false},
		{"plain error", errors.New("boom"), false},
		{"cancelled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}

func TestEmbeddingError(t *testing.T) {
	cause := &TransientError{Op: "embed", Err: errors.New("timeout")}
	err := &EmbeddingError{Index: 3, Err: cause}

	assert.Contains(t, err.Error(), "embedding text 3")
	assert.ErrorIs(t, err, ErrTransient)

	var ee *EmbeddingError
	assert.True(t, errors.As(fmt.Errorf("unit: %w", err), &ee))
	assert.Equal(t, 3, ee.Index)
}

func TestStorageConsistencyError(t *testing.T) {
	cause := errors.New("commit lost")
	err := &StorageConsistencyError{Batch: 2, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "batch 2")
}
