package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lorekeep/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/postprocessors/chunker"
)

func newTestIngestion(p *mockProvider, store *spyStore, batchSize int) *IngestionEngine {
	return NewIngestionEngine(store, NewEmbeddingClient(p, fastConfig()), nil, IngestionConfig{
		MaxChunkSize:    32000,
		StoreBatchSize:  batchSize,
		StoreAttempts:   3,
		StoreBackoff:    time.Millisecond,
		StoreMaxBackoff: 2 * time.Millisecond,
	})
}

func longBody() string {
	return strings.Repeat("The quick brown fox jumps over the lazy dog. ", 1112)
}

func TestIngestionEngine_ChunkedUnitSurvivesTransientFailure(t *testing.T) {
	calls := 0
	p := &mockProvider{
		fail: func(int, []string) error {
			calls++
			if calls == 1 {
				return &domain.TransientError{Op: "embed", Err: errors.New("503")}
			}
			return nil
		},
	}
	mem := memory.NewContentStore()
	e := newTestIngestion(p, &spyStore{ContentStore: mem}, 100)

	body := longBody()
	require.Greater(t, len(body), 50000)

	summary, err := e.Ingest(context.Background(), []domain.ContentUnit{
		{ID: "a", Title: "Short", Body: "A short section."},
		{ID: "b", Title: "Long", Body: body},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stored)
	assert.Equal(t, 0, summary.Failed)
	assert.Empty(t, summary.Failures())
	assert.Equal(t, 1, summary.Results[0].Chunks)
	assert.Equal(t, 2, summary.Results[1].Chunks)

	chunks := chunker.New(chunker.WithMaxSize(32000)).Split(body)
	require.Len(t, chunks, 2)
	want, err := NewVectorAverager(true).Average([]WeightedVector{
		{Length: len(chunks[0]), Vector: hashVector(chunks[0], 3)},
		{Length: len(chunks[1]), Vector: hashVector(chunks[1], 3)},
	})
	require.NoError(t, err)

	stored, err := mem.GetByID(context.Background(), "b")
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, stored.Embedding, 1e-6)

	short, err := mem.GetByID(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, hashVector("A short section.", 3), short.Embedding)
}

func TestIngestionEngine_OneEmbeddingCallForAllUnits(t *testing.T) {
	p := &mockProvider{}
	e := newTestIngestion(p, &spyStore{ContentStore: memory.NewContentStore()}, 100)

	_, err := e.Ingest(context.Background(), []domain.ContentUnit{
		{Title: "One", Body: "first"},
		{Title: "Two", Body: "second"},
		{Title: "Three", Body: "third"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, p.callCount())
	assert.Equal(t, []string{"first", "second", "third"}, p.calls[0])
}

func TestIngestionEngine_ValidationFailureIsolated(t *testing.T) {
	mem := memory.NewContentStore()
	e := newTestIngestion(&mockProvider{}, &spyStore{ContentStore: mem}, 100)

	summary, err := e.Ingest(context.Background(), []domain.ContentUnit{
		{ID: "ok", Title: "Fine", Body: "text"},
		{ID: "bad", Title: "  ", Body: "text"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 1, summary.Failed)

	failures := summary.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, 1, failures[0].Index)
	assert.ErrorIs(t, failures[0].Err, domain.ErrInvalidArgument)
	assert.Equal(t, 1, mem.Len())
}

func TestIngestionEngine_EmbeddingFailureIsolated(t *testing.T) {
	p := &mockProvider{
		fail: func(_ int, texts []string) error {
			if slices.Contains(texts, "poison") {
				return errors.New("content policy")
			}
			return nil
		},
	}
	mem := memory.NewContentStore()
	e := newTestIngestion(p, &spyStore{ContentStore: mem}, 100)

	summary, err := e.Ingest(context.Background(), []domain.ContentUnit{
		{ID: "a", Title: "A", Body: "fine"},
		{ID: "b", Title: "B", Body: "poison"},
		{ID: "c", Title: "C", Body: "also fine"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stored)
	assert.Equal(t, domain.IngestFailed, summary.Results[1].Status)

	var ee *domain.EmbeddingError
	assert.ErrorAs(t, summary.Results[1].Err, &ee)

	_, err = mem.GetByID(context.Background(), "b")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIngestionEngine_AssignsIDsAndKeepsGiven(t *testing.T) {
	mem := memory.NewContentStore()
	e := newTestIngestion(&mockProvider{}, &spyStore{ContentStore: mem}, 100)

	summary, err := e.Ingest(context.Background(), []domain.ContentUnit{
		{Title: "Fresh", Body: "x"},
		{ID: "given", Title: "Given", Body: "y"},
	})
	require.NoError(t, err)
	assert.Len(t, summary.Results[0].ID, 36)
	assert.Equal(t, "given", summary.Results[1].ID)

	_, err = mem.GetByID(context.Background(), summary.Results[0].ID)
	assert.NoError(t, err)
}

func TestIngestionEngine_EmptyBodyStoredWithoutEmbedding(t *testing.T) {
	p := &mockProvider{}
	mem := memory.NewContentStore()
	e := newTestIngestion(p, &spyStore{ContentStore: mem}, 100)

	summary, err := e.Ingest(context.Background(), []domain.ContentUnit{
		{ID: "empty", Title: "Placeholder", Embedding: []float32{1, 2, 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 0, summary.Results[0].Chunks)
	assert.Equal(t, 0, p.callCount())

	u, err := mem.GetByID(context.Background(), "empty")
	require.NoError(t, err)
	assert.Nil(t, u.Embedding)
}

func TestIngestionEngine_LabelsUnlabelledUnits(t *testing.T) {
	mem := memory.NewContentStore()
	e := NewIngestionEngine(mem, NewEmbeddingClient(&mockProvider{}, fastConfig()),
		NewLabeler(domain.DefaultSettings().Vocabulary), IngestionConfig{MaxChunkSize: 32000})

	_, err := e.Ingest(context.Background(), []domain.ContentUnit{
		{ID: "r", Title: "Grapple Rules", Body: "A guide to grappling."},
		{ID: "k", Title: "Grapple Rules", Body: "x", ContentTypes: []string{"concept"}},
	})
	require.NoError(t, err)

	r, err := mem.GetByID(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, []string{"procedure"}, r.ContentTypes)
	assert.Equal(t, []string{"guide"}, r.Tags)

	k, err := mem.GetByID(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"concept"}, k.ContentTypes)
}

func TestIngestionEngine_FailedBatchIsolated(t *testing.T) {
	mem := memory.NewContentStore()
	store := &spyStore{ContentStore: mem, failBatch: 2, failErr: errors.New("disk full")}
	e := newTestIngestion(&mockProvider{}, store, 2)

	var progress [][2]int
	e.SetProgress(func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})

	units := make([]domain.ContentUnit, 5)
	for i := range units {
		units[i] = domain.ContentUnit{ID: string(rune('a' + i)), Title: "T", Body: "body"}
	}
	summary, err := e.Ingest(context.Background(), units)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Stored)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 2, summary.Batches)
	assert.Equal(t, domain.IngestFailed, summary.Results[2].Status)
	assert.Equal(t, domain.IngestFailed, summary.Results[3].Status)
	assert.Equal(t, 3, mem.Len())
	assert.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, progress)
}

func TestIngestionEngine_TransientStoreFailureRetried(t *testing.T) {
	mem := memory.NewContentStore()
	lost := &domain.TransientError{Op: "upsert", Err: errors.New("connection reset by peer")}
	store := &spyStore{ContentStore: mem, failBatch: 1, failErr: lost}
	e := newTestIngestion(&mockProvider{}, store, 100)

	summary, err := e.Ingest(context.Background(), []domain.ContentUnit{
		{ID: "a", Title: "A", Body: "1"},
		{ID: "b", Title: "B", Body: "2"},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stored)
	assert.Equal(t, 1, summary.Batches)
	assert.Equal(t, 2, store.batches, "the failed write is tried again")
	assert.Equal(t, 2, mem.Len())
}

func TestIngestionEngine_TransientStoreFailureGivesUp(t *testing.T) {
	mem := memory.NewContentStore()
	busy := &domain.TransientError{Op: "upsert", Err: errors.New("database is locked")}
	store := &spyStore{ContentStore: mem, failBatch: 1, failRepeat: 10, failErr: busy}
	e := newTestIngestion(&mockProvider{}, store, 100)

	summary, err := e.Ingest(context.Background(), []domain.ContentUnit{{ID: "a", Title: "A", Body: "1"}})

	require.NoError(t, err, "a failed batch does not halt the run")
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, store.batches)
	require.Error(t, summary.Results[0].Err)
	assert.Contains(t, summary.Results[0].Err.Error(), "after 3 attempt(s)")
	assert.ErrorIs(t, summary.Results[0].Err, domain.ErrTransient)
}

func TestIngestionEngine_PermanentStoreFailureNotRetried(t *testing.T) {
	store := &spyStore{ContentStore: memory.NewContentStore(), failBatch: 1, failErr: errors.New("disk full")}
	e := newTestIngestion(&mockProvider{}, store, 100)

	summary, err := e.Ingest(context.Background(), []domain.ContentUnit{{ID: "a", Title: "A", Body: "1"}})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, store.batches)
}

func TestIngestionEngine_InconsistentStoreHalts(t *testing.T) {
	mem := memory.NewContentStore()
	sce := &domain.StorageConsistencyError{Batch: 1, Err: errors.New("partial commit")}
	store := &spyStore{ContentStore: mem, failBatch: 1, failErr: sce}
	e := newTestIngestion(&mockProvider{}, store, 2)

	units := []domain.ContentUnit{
		{ID: "a", Title: "A", Body: "1"},
		{ID: "b", Title: "B", Body: "2"},
		{ID: "c", Title: "C", Body: "3"},
	}
	summary, err := e.Ingest(context.Background(), units)

	var got *domain.StorageConsistencyError
	require.ErrorAs(t, err, &got)
	require.NotNil(t, summary)
	assert.Equal(t, 0, summary.Stored)
	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, 1, store.batches, "no batch is attempted after the halt")
}

func TestIngestionEngine_UnknownCommitNotRetried(t *testing.T) {
	// Even a transient cause must not be retried once the outcome is unknown.
	sce := &domain.StorageConsistencyError{Err: context.DeadlineExceeded}
	store := &spyStore{ContentStore: memory.NewContentStore(), failBatch: 1, failRepeat: 10, failErr: sce}
	e := newTestIngestion(&mockProvider{}, store, 100)

	_, err := e.Ingest(context.Background(), []domain.ContentUnit{{ID: "a", Title: "A", Body: "1"}})

	var got *domain.StorageConsistencyError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, 1, got.Batch, "the engine records which batch")
	assert.Equal(t, 1, store.batches)
}

func TestIngestionEngine_CancelledRunHalts(t *testing.T) {
	e := newTestIngestion(&mockProvider{}, &spyStore{ContentStore: memory.NewContentStore()}, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := e.Ingest(ctx, []domain.ContentUnit{{Title: "A", Body: "x"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Failed)
}

func TestIngestionEngine_ReingestUpsertsInPlace(t *testing.T) {
	mem := memory.NewContentStore()
	e := newTestIngestion(&mockProvider{}, &spyStore{ContentStore: mem}, 100)

	unit := domain.ContentUnit{ID: "same", Title: "Spells", Body: "v1"}
	_, err := e.Ingest(context.Background(), []domain.ContentUnit{unit})
	require.NoError(t, err)
	first, err := mem.GetByID(context.Background(), "same")
	require.NoError(t, err)

	unit.Body = "v2"
	_, err = e.Ingest(context.Background(), []domain.ContentUnit{unit})
	require.NoError(t, err)
	second, err := mem.GetByID(context.Background(), "same")
	require.NoError(t, err)

	assert.Equal(t, 1, mem.Len())
	assert.Equal(t, "v2", second.Body)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestIngestionConfigFrom(t *testing.T) {
	s := domain.DefaultSettings()
	s.Storage.BatchSize = 7
	s.Embedding.MaxAttempts = 5

	cfg := IngestionConfigFrom(s)

	assert.Equal(t, 7, cfg.StoreBatchSize)
	assert.Equal(t, 5, cfg.StoreAttempts)
	assert.Equal(t, s.Embedding.InitialBackoff, cfg.StoreBackoff)
	assert.Equal(t, s.Embedding.MaxBackoff, cfg.StoreMaxBackoff)
}
