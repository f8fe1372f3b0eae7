package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
	"github.com/custodia-labs/lorekeep/internal/logger"
)

// EmbeddingClientConfig tunes batching, parallelism and retry.
type EmbeddingClientConfig struct {
	// BatchSize is the number of texts per remote call.
	BatchSize int

	// Concurrency bounds the remote calls in flight.
	Concurrency int

	// MaxAttempts bounds the tries per remote call, including the first.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RequestTimeout bounds every remote call. Exceeding it is a transient failure.
	RequestTimeout time.Duration

	// RequestsPerSecond throttles remote calls; zero disables throttling.
	RequestsPerSecond float64
}

// EmbeddingClientConfigFrom derives the client configuration from settings.
func EmbeddingClientConfigFrom(s domain.EmbeddingSettings) EmbeddingClientConfig {
	return EmbeddingClientConfig{
		BatchSize:         s.BatchSize,
		Concurrency:       s.Concurrency,
		MaxAttempts:       s.MaxAttempts,
		InitialBackoff:    s.InitialBackoff,
		MaxBackoff:        s.MaxBackoff,
		RequestTimeout:    s.RequestTimeout,
		RequestsPerSecond: s.RequestsPerSecond,
	}
}

// EmbeddingClient turns texts into vectors through an EmbeddingProvider.
// It batches texts, runs batches with bounded parallelism, retries transient
// failures with exponential backoff and falls back to per-item calls when a
// batch fails, so one bad text never fails its siblings.
type EmbeddingClient struct {
	provider driven.EmbeddingProvider
	cfg      EmbeddingClientConfig
	limiter  *rate.Limiter
}

// NewEmbeddingClient creates a client. Zero config values take the defaults
// from domain.DefaultSettings.
func NewEmbeddingClient(provider driven.EmbeddingProvider, cfg EmbeddingClientConfig) *EmbeddingClient {
	def := domain.DefaultSettings().Embedding
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.InitialBackoff)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	c := &EmbeddingClient{
		provider: provider,
		cfg:      cfg,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Concurrency)
	}
	return c
}

// Dimensions returns the provider's vector size.
func (c *EmbeddingClient) Dimensions() int {
	return c.provider.Dimensions()
}

// ModelName returns the provider's model name.
func (c *EmbeddingClient) ModelName() string {
	return c.provider.ModelName()
}

// Embed returns one vector per text in input order. If any text cannot be
// embedded the first *domain.EmbeddingError is returned and no vectors are.
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, errs := c.EmbedEach(ctx, texts)
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

// EmbedOne embeds a single text.
func (c *EmbeddingClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedEach embeds texts and reports failures per position: errs[i] is a
// *domain.EmbeddingError when texts[i] failed, and vecs[i] is then nil.
// errs is nil when every text succeeded. All remote calls have finished
// when EmbedEach returns. An empty input makes no remote call.
func (c *EmbeddingClient) EmbedEach(ctx context.Context, texts []string) ([][]float32, []error) {
	vecs := make([][]float32, len(texts))
	if len(texts) == 0 {
		return vecs, nil
	}
	errs := make([]error, len(texts))

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))
		g.Go(func() error {
			c.embedRange(ctx, texts, start, end, vecs, errs)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines report through errs

	for _, err := range errs {
		if err != nil {
			return vecs, errs
		}
	}
	return vecs, nil
}

// embedRange embeds texts[start:end] into vecs, falling back to one call per
// text when the batch call fails. Each goroutine owns a disjoint range.
func (c *EmbeddingClient) embedRange(ctx context.Context, texts []string, start, end int, vecs [][]float32, errs []error) {
	batch, err := c.call(ctx, texts[start:end])
	if err == nil {
		copy(vecs[start:end], batch)
		return
	}
	if ctx.Err() != nil || end-start == 1 {
		for i := start; i < end; i++ {
			errs[i] = &domain.EmbeddingError{Index: i, Err: err}
		}
		return
	}

	logger.Debug("Embedding batch [%d,%d) failed, retrying per item: %v", start, end, err)
	for i := start; i < end; i++ {
		one, err := c.call(ctx, texts[i:i+1])
		if err != nil {
			errs[i] = &domain.EmbeddingError{Index: i, Err: err}
			continue
		}
		vecs[i] = one[0]
	}
}

// call performs one logical remote call with throttling, timeout and retry.
func (c *EmbeddingClient) call(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := c.cfg.InitialBackoff
	var lastErr error
	attempt := 0

	for attempt < c.cfg.MaxAttempts {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		vecs, err := c.callOnce(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !domain.IsTransient(err) || attempt == c.cfg.MaxAttempts {
			break
		}

		wait := backoff
		var te *domain.TransientError
		if errors.As(err, &te) && te.RetryAfter > wait {
			wait = min(te.RetryAfter, c.cfg.MaxBackoff)
		}
		logger.Debug("Embedding attempt %d/%d failed, retrying in %s: %v", attempt, c.cfg.MaxAttempts, wait, err)
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}

	return nil, fmt.Errorf("after %d attempt(s): %w", attempt, lastErr)
}

// callOnce makes a single bounded remote call and validates the reply.
func (c *EmbeddingClient) callOnce(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	vecs, err := c.provider.EmbedBatch(callCtx, texts)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, &domain.TransientError{
				Op:  "embed",
				Err: fmt.Errorf("request timed out after %s: %w", c.cfg.RequestTimeout, err),
			}
		}
		return nil, err
	}

	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts))
	}
	dims := c.provider.Dimensions()
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("provider returned no vector for text %d", i)
		}
		if dims > 0 && len(v) != dims {
			return nil, fmt.Errorf("text %d: %w: got %d, want %d", i, domain.ErrDimensionMismatch, len(v), dims)
		}
	}
	return vecs, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
