// Package embedding holds what the embedding provider adapters share: the
// JSON round trip and turning HTTP failures into retryable or permanent errors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
)

// maxErrorBody bounds how much of an error response is quoted.
const maxErrorBody = 512

// StatusError classifies a non-2xx response. 429 becomes a rate-limit
// TransientError honoring Retry-After, 408 and 5xx become TransientErrors and
// anything else is permanent.
func StatusError(op string, resp *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	err := fmt.Errorf("%s: API returned status %d: %s", op, resp.StatusCode, msg)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.TransientError{
			Op:         op,
			Err:        fmt.Errorf("%w: %w", domain.ErrRateLimited, err),
			RetryAfter: RetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode >= 500:
		return &domain.TransientError{Op: op, Err: err}
	default:
		return err
	}
}

// TransportError classifies a failed round trip. Caller cancellation is
// returned as is; anything else may succeed on retry.
func TransportError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	return &domain.TransientError{Op: op, Err: err}
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP date.
// Unparseable or past values yield zero.
func RetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
