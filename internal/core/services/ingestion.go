package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driving"
	"github.com/custodia-labs/lorekeep/internal/logger"
	"github.com/custodia-labs/lorekeep/internal/postprocessors/chunker"
)

// Ensure IngestionEngine implements the interface.
var _ driving.IngestionService = (*IngestionEngine)(nil)

// IngestionConfig tunes chunking and storage batching.
type IngestionConfig struct {
	// MaxChunkSize is the chunk budget in bytes.
	MaxChunkSize int

	// StoreBatchSize is the number of units written per transaction.
	StoreBatchSize int

	// StoreAttempts bounds the tries per storage batch, including the first.
	// Only transient failures are retried.
	StoreAttempts   int
	StoreBackoff    time.Duration
	StoreMaxBackoff time.Duration
}

// IngestionConfigFrom derives the engine configuration from settings.
// Storage writes retry on the embedding client's backoff policy.
func IngestionConfigFrom(s domain.Settings) IngestionConfig {
	return IngestionConfig{
		MaxChunkSize:    s.Ingestion.MaxChunkSize,
		StoreBatchSize:  s.Storage.BatchSize,
		StoreAttempts:   s.Embedding.MaxAttempts,
		StoreBackoff:    s.Embedding.InitialBackoff,
		StoreMaxBackoff: s.Embedding.MaxBackoff,
	}
}

// ProgressFunc is called after every storage batch with the number of units
// settled so far and the total being ingested.
type ProgressFunc func(done, total int)

// IngestionEngine turns content units into embedded, persisted records.
//
// A unit that fails validation or embedding is reported and skipped without
// affecting its siblings. Units are written in batches, each all-or-nothing.
type IngestionEngine struct {
	store     driven.ContentStore
	embedder  *EmbeddingClient
	chunker   *chunker.Processor
	averager  *VectorAverager
	labeler   *Labeler
	batchSize int
	retry     IngestionConfig
	progress  ProgressFunc
}

// NewIngestionEngine creates an engine. The labeler is optional; when set it
// labels units that arrive without content types or tags.
func NewIngestionEngine(
	store driven.ContentStore,
	embedder *EmbeddingClient,
	labeler *Labeler,
	cfg IngestionConfig,
) *IngestionEngine {
	def := domain.DefaultSettings()
	if cfg.StoreBatchSize <= 0 {
		cfg.StoreBatchSize = def.Storage.BatchSize
	}
	if cfg.StoreAttempts <= 0 {
		cfg.StoreAttempts = def.Embedding.MaxAttempts
	}
	if cfg.StoreBackoff <= 0 {
		cfg.StoreBackoff = def.Embedding.InitialBackoff
	}
	if cfg.StoreMaxBackoff < cfg.StoreBackoff {
		cfg.StoreMaxBackoff = max(def.Embedding.MaxBackoff, cfg.StoreBackoff)
	}
	return &IngestionEngine{
		store:     store,
		embedder:  embedder,
		chunker:   chunker.New(chunker.WithMaxSize(cfg.MaxChunkSize)),
		averager:  NewVectorAverager(true),
		labeler:   labeler,
		batchSize: cfg.StoreBatchSize,
		retry:     cfg,
	}
}

// SetProgress registers a callback invoked after each storage batch.
func (e *IngestionEngine) SetProgress(fn ProgressFunc) {
	e.progress = fn
}

// pending is a unit that passed validation. Its chunks occupy the flattened
// text list from start onwards.
type pending struct {
	index  int
	unit   *domain.ContentUnit
	start  int
	chunks []domain.ChunkVector
}

// Ingest embeds and stores units, isolating failures per unit. Results are
// reported in input order. The returned error is non-nil only when the run
// had to halt: on cancellation or when the store is left inconsistent.
func (e *IngestionEngine) Ingest(ctx context.Context, units []domain.ContentUnit) (*domain.IngestSummary, error) {
	if e.embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	logger.Section("Ingestion")
	results := make([]domain.IngestResult, len(units))
	settled := make([]bool, len(units))
	fail := func(i int, err error) {
		results[i].Status = domain.IngestFailed
		results[i].Err = err
		settled[i] = true
	}

	var ready []*pending
	var texts []string
	for i := range units {
		u := units[i].Clone()
		u.Embedding = nil
		results[i] = domain.IngestResult{Index: i, ID: u.ID, Title: u.Title}
		if err := u.Validate(); err != nil {
			fail(i, err)
			continue
		}
		if u.ID == "" {
			u.ID = uuid.NewString()
			results[i].ID = u.ID
		}
		if e.labeler != nil {
			e.labeler.Label(u)
		}

		p := &pending{index: i, unit: u, start: len(texts)}
		if u.Body != "" {
			for k, chunk := range e.chunker.Split(u.Body) {
				texts = append(texts, chunk)
				p.chunks = append(p.chunks, domain.ChunkVector{Index: k, Text: chunk})
			}
		}
		results[i].Chunks = len(p.chunks)
		ready = append(ready, p)
	}

	logger.Debug("Embedding %d text(s) for %d unit(s)", len(texts), len(ready))
	vecs, errs := e.embedder.EmbedEach(ctx, texts)
	if err := ctx.Err(); err != nil {
		return e.halt(results, settled, 0, err)
	}

	var store []*pending
	for _, p := range ready {
		if err := e.attach(p, vecs, errs); err != nil {
			logger.Warn("Unit %q not ingested: %v", p.unit.Title, err)
			fail(p.index, err)
			continue
		}
		store = append(store, p)
	}

	summary := &domain.IngestSummary{}
	done := len(units) - len(store)
	for start := 0; start < len(store); start += e.batchSize {
		batch := store[start:min(start+e.batchSize, len(store))]
		n := start/e.batchSize + 1

		ptrs := make([]*domain.ContentUnit, len(batch))
		for i, p := range batch {
			ptrs[i] = p.unit
		}

		err := e.write(ctx, n, ptrs)
		var sce *domain.StorageConsistencyError
		switch {
		case err == nil:
			summary.Batches++
			for _, p := range batch {
				results[p.index].Status = domain.IngestStored
				settled[p.index] = true
			}
			logger.Info("Stored batch %d: %d unit(s)", n, len(batch))
		case errors.As(err, &sce):
			if sce.Batch == 0 {
				sce.Batch = n
			}
			logger.Error("Storage batch %d left inconsistent, halting: %v", n, err)
			for _, p := range batch {
				fail(p.index, err)
			}
			return e.halt(results, settled, summary.Batches, err)
		case ctx.Err() != nil:
			return e.halt(results, settled, summary.Batches, ctx.Err())
		default:
			logger.Warn("Storage batch %d failed: %v", n, err)
			for _, p := range batch {
				fail(p.index, fmt.Errorf("storing batch %d: %w", n, err))
			}
		}

		done += len(batch)
		if e.progress != nil {
			e.progress(done, len(units))
		}
	}

	for _, r := range results {
		summary.Record(r)
	}
	logger.Info("Ingestion finished: %d stored, %d failed", summary.Stored, summary.Failed)
	return summary, nil
}

// write stores batch n, retrying transient failures with exponential backoff.
// A batch whose outcome is unknown is never retried.
func (e *IngestionEngine) write(ctx context.Context, n int, units []*domain.ContentUnit) error {
	backoff := e.retry.StoreBackoff
	for attempt := 1; ; attempt++ {
		err := e.store.UpsertBatch(ctx, units)
		var sce *domain.StorageConsistencyError
		if err == nil || errors.As(err, &sce) || !domain.IsTransient(err) || ctx.Err() != nil {
			return err
		}
		if attempt >= e.retry.StoreAttempts {
			return fmt.Errorf("after %d attempt(s): %w", attempt, err)
		}
		logger.Debug("Storage batch %d attempt %d/%d failed, retrying in %s: %v",
			n, attempt, e.retry.StoreAttempts, backoff, err)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, e.retry.StoreMaxBackoff)
	}
}

// attach sets the unit's embedding from its chunk vectors and discards them.
func (e *IngestionEngine) attach(p *pending, vecs [][]float32, errs []error) error {
	if len(p.chunks) == 0 {
		return nil
	}
	for k := range p.chunks {
		j := p.start + k
		if errs != nil && errs[j] != nil {
			return fmt.Errorf("chunk %d of %d: %w", k+1, len(p.chunks), errs[j])
		}
		p.chunks[k].Embedding = vecs[j]
	}
	vec, err := e.averager.AverageChunks(p.chunks)
	if err != nil {
		return err
	}
	p.unit.Embedding = vec
	p.chunks = nil
	return nil
}

// halt marks every unsettled unit failed with err and returns the partial summary.
func (e *IngestionEngine) halt(
	results []domain.IngestResult, settled []bool, batches int, err error,
) (*domain.IngestSummary, error) {
	summary := &domain.IngestSummary{Batches: batches}
	for i, r := range results {
		if !settled[i] {
			r.Status = domain.IngestFailed
			r.Err = err
		}
		summary.Record(r)
	}
	return summary, err
}
