package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driving"
	"github.com/custodia-labs/lorekeep/internal/logger"
)

// Ensure QueryEngine implements the interface.
var _ driving.QueryService = (*QueryEngine)(nil)

// QueryEngine answers similarity searches and exact lookups.
type QueryEngine struct {
	store    driven.ContentStore
	embedder *EmbeddingClient
	vocab    domain.VocabularySettings
	limits   domain.SearchSettings

	// cache memoises query embeddings keyed by model and query text.
	cache *lru.Cache[string, []float32]
}

// NewQueryEngine creates a query engine. The embedder may be nil, in which
// case SemanticSearch returns domain.ErrEmbeddingUnavailable and exact
// lookups keep working.
func NewQueryEngine(store driven.ContentStore, embedder *EmbeddingClient, settings domain.Settings) *QueryEngine {
	q := &QueryEngine{
		store:    store,
		embedder: embedder,
		vocab:    settings.Vocabulary,
		limits:   settings.Search,
	}
	if q.limits.MaxLimit <= 0 {
		q.limits = domain.DefaultSettings().Search
	}
	if size := settings.Embedding.QueryCacheSize; size > 0 {
		// lru.New only fails for a non-positive size.
		q.cache, _ = lru.New[string, []float32](size)
	}
	return q
}

// SemanticSearch embeds queryText and returns the nearest units that pass filters.
func (q *QueryEngine) SemanticSearch(
	ctx context.Context, queryText string, filters domain.Filters, limit int,
) ([]domain.SearchResult, error) {
	logger.Section("Semantic Search")
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}
	if err := q.checkContentTypes(filters.ContentTypes); err != nil {
		return nil, err
	}
	if q.embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	limit = domain.ClampLimit(limit, q.limits.DefaultLimit, q.limits.MaxLimit)
	logger.Debug("Query: %q, limit %d", queryText, limit)

	vec, err := q.queryVector(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := q.store.Search(ctx, vec, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	logger.Debug("Found %d result(s)", len(results))
	return results, nil
}

func (q *QueryEngine) queryVector(ctx context.Context, text string) ([]float32, error) {
	key := q.embedder.ModelName() + "\x00" + text
	if q.cache != nil {
		if vec, ok := q.cache.Get(key); ok {
			logger.Debug("Query embedding cache hit")
			return vec, nil
		}
	}
	vec, err := q.embedder.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	if q.cache != nil {
		q.cache.Add(key, vec)
	}
	return vec, nil
}

// GetContent looks units up by exactly one locator. The locator is checked
// before the store is touched. A miss returns an empty slice.
func (q *QueryEngine) GetContent(ctx context.Context, loc domain.ContentLocator) ([]domain.ContentUnit, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	loc.ID = strings.TrimSpace(loc.ID)
	loc.SectionID = strings.TrimSpace(loc.SectionID)
	loc.Title = strings.TrimSpace(loc.Title)
	kind, value := loc.Kind()
	logger.Debug("Lookup by %s: %q", kind, value)

	var (
		unit *domain.ContentUnit
		err  error
	)
	switch {
	case loc.ID != "":
		unit, err = q.store.GetByID(ctx, loc.ID)
	case loc.SectionID != "":
		unit, err = q.store.GetBySectionID(ctx, loc.SectionID, loc.SourceBook)
	default:
		limit := domain.ClampLimit(loc.Limit, q.limits.DefaultLimit, q.limits.MaxLimit)
		units, err := q.store.GetByTitle(ctx, loc.Title, loc.ExactMatch, loc.SourceBook, limit)
		if err != nil {
			return nil, fmt.Errorf("looking up title: %w", err)
		}
		if units == nil {
			units = []domain.ContentUnit{}
		}
		return units, nil
	}

	if errors.Is(err, domain.ErrNotFound) {
		return []domain.ContentUnit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", kind, err)
	}
	return []domain.ContentUnit{*unit}, nil
}

// TextSearch runs a full-text query when the store keeps a text index.
func (q *QueryEngine) TextSearch(
	ctx context.Context, text string, filters domain.Filters, limit int,
) ([]domain.ContentUnit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}
	if err := q.checkContentTypes(filters.ContentTypes); err != nil {
		return nil, err
	}
	ts, ok := q.store.(driven.TextSearcher)
	if !ok {
		return nil, fmt.Errorf("text search: %w", domain.ErrUnsupportedType)
	}
	limit = domain.ClampLimit(limit, q.limits.DefaultLimit, q.limits.MaxLimit)
	return ts.TextSearch(ctx, text, filters, limit)
}

// checkContentTypes rejects filter values outside the configured vocabulary.
func (q *QueryEngine) checkContentTypes(types []string) error {
	return checkVocabulary(q.vocab, types)
}

func checkVocabulary(vocab domain.VocabularySettings, types []string) error {
	if len(vocab.ContentTypes) == 0 {
		return nil
	}
	for _, t := range types {
		if !vocab.AllowsContentType(t) {
			return domain.NewValidationError("content_types",
				fmt.Sprintf("unknown content type %q (allowed: %s)", t, strings.Join(vocab.ContentTypes, ", ")))
		}
	}
	return nil
}
