package services

import (
	"context"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
)

// --- Mock implementations ---

// mockProvider implements driven.EmbeddingProvider for testing.
// Vectors are deterministic per text unless overridden in vectors.
type mockProvider struct {
	mu sync.Mutex

	dims    int
	vectors map[string][]float32

	// fail is consulted on every call with its 1-based number.
	fail func(call int, texts []string) error

	// short drops the last vector of multi-text replies.
	short bool

	delay time.Duration

	calls       [][]string
	inflight    int
	maxInflight int
}

func (m *mockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, slices.Clone(texts))
	n := len(m.calls)
	m.inflight++
	m.maxInflight = max(m.maxInflight, m.inflight)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}()

	if m.delay > 0 {
		t := time.NewTimer(m.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.fail != nil {
		if err := m.fail(n, texts); err != nil {
			return nil, err
		}
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vectorFor(text)
	}
	if m.short && len(out) > 1 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (m *mockProvider) vectorFor(text string) []float32 {
	if v, ok := m.vectors[text]; ok {
		return slices.Clone(v)
	}
	return hashVector(text, m.Dimensions())
}

func (m *mockProvider) Dimensions() int {
	if m.dims > 0 {
		return m.dims
	}
	return 3
}

func (m *mockProvider) ModelName() string {
	return "mock-embed"
}

func (m *mockProvider) Ping(_ context.Context) error {
	return nil
}

func (m *mockProvider) Close() error {
	return nil
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// hashVector derives a stable, non-zero vector from text.
func hashVector(text string, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		h := fnv.New32a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		v[i] = float32(h.Sum32()%1000+1) / 1000
	}
	return v
}

// fastConfig keeps retries quick in tests.
func fastConfig() EmbeddingClientConfig {
	return EmbeddingClientConfig{
		BatchSize:      20,
		Concurrency:    2,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		RequestTimeout: time.Second,
	}
}

// spyStore wraps a ContentStore, counting calls and injecting batch failures.
// Embedding the interface hides optional methods such as TextSearch.
type spyStore struct {
	driven.ContentStore

	mu      sync.Mutex
	calls   int
	batches int

	// failBatch fails the UpsertBatch call with this 1-based number, and the
	// failRepeat calls after it.
	failBatch  int
	failRepeat int
	failErr    error
}

func (s *spyStore) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
}

func (s *spyStore) UpsertBatch(ctx context.Context, units []*domain.ContentUnit) error {
	s.touch()
	s.mu.Lock()
	s.batches++
	n := s.batches
	s.mu.Unlock()
	if s.failBatch > 0 && n >= s.failBatch && n <= s.failBatch+s.failRepeat {
		return s.failErr
	}
	return s.ContentStore.UpsertBatch(ctx, units)
}

func (s *spyStore) GetByID(ctx context.Context, id string) (*domain.ContentUnit, error) {
	s.touch()
	return s.ContentStore.GetByID(ctx, id)
}

func (s *spyStore) GetBySectionID(ctx context.Context, sectionID, sourceBook string) (*domain.ContentUnit, error) {
	s.touch()
	return s.ContentStore.GetBySectionID(ctx, sectionID, sourceBook)
}

func (s *spyStore) GetByTitle(
	ctx context.Context, pattern string, exact bool, sourceBook string, limit int,
) ([]domain.ContentUnit, error) {
	s.touch()
	return s.ContentStore.GetByTitle(ctx, pattern, exact, sourceBook, limit)
}

func (s *spyStore) Search(
	ctx context.Context, query []float32, filters domain.Filters, limit int,
) ([]domain.SearchResult, error) {
	s.touch()
	return s.ContentStore.Search(ctx, query, filters, limit)
}

func (s *spyStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
