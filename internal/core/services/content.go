package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driving"
	"github.com/custodia-labs/lorekeep/internal/logger"
	"github.com/custodia-labs/lorekeep/internal/postprocessors/chunker"
)

// Ensure ContentService implements the interface.
var _ driving.ContentService = (*ContentService)(nil)

// DefaultAuthoredSource is the source book and source type of units created by clients.
const DefaultAuthoredSource = "campaign_notes"

// ContentService creates, edits and removes individual units.
type ContentService struct {
	store    driven.ContentStore
	embedder *EmbeddingClient
	chunker  *chunker.Processor
	averager *VectorAverager
	vocab    domain.VocabularySettings
}

// NewContentService creates a content service. Create and body updates need
// the embedder; without one they return domain.ErrEmbeddingUnavailable.
func NewContentService(store driven.ContentStore, embedder *EmbeddingClient, settings domain.Settings) *ContentService {
	return &ContentService{
		store:    store,
		embedder: embedder,
		chunker:  chunker.New(chunker.WithMaxSize(settings.Ingestion.MaxChunkSize)),
		averager: NewVectorAverager(true),
		vocab:    settings.Vocabulary,
	}
}

// Create embeds and stores a new unit.
func (s *ContentService) Create(ctx context.Context, draft domain.ContentDraft) (*domain.ContentUnit, error) {
	if strings.TrimSpace(draft.Title) == "" {
		return nil, domain.NewValidationError("title", "must not be empty")
	}
	if strings.TrimSpace(draft.Body) == "" {
		return nil, domain.NewValidationError("content", "must not be empty")
	}
	if err := checkVocabulary(s.vocab, draft.ContentTypes); err != nil {
		return nil, err
	}

	unit := &domain.ContentUnit{
		ID:           uuid.NewString(),
		Title:        draft.Title,
		Body:         draft.Body,
		SourceType:   valueOr(draft.SourceType, DefaultAuthoredSource),
		SourceBook:   valueOr(draft.SourceBook, DefaultAuthoredSource),
		SectionID:    draft.SectionID,
		ContentTypes: draft.ContentTypes,
		Tags:         draft.Tags,
		PageRange:    draft.PageRange,
	}
	if err := s.embed(ctx, unit); err != nil {
		return nil, err
	}
	if err := s.store.Upsert(ctx, unit); err != nil {
		return nil, fmt.Errorf("storing unit: %w", err)
	}
	logger.Info("Created unit %s (%q)", unit.ID, unit.Title)
	return unit, nil
}

// Update applies a patch to an existing unit. The embedding is regenerated
// when the body changes or the patch asks for it.
func (s *ContentService) Update(
	ctx context.Context, id string, patch domain.ContentPatch,
) (*domain.ContentUnit, bool, error) {
	if strings.TrimSpace(id) == "" {
		return nil, false, domain.NewValidationError("id", "must not be empty")
	}
	if patch.ContentTypes != nil {
		if err := checkVocabulary(s.vocab, *patch.ContentTypes); err != nil {
			return nil, false, err
		}
	}

	unit, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	regenerate := patch.Apply(unit) || patch.RegenerateEmbedding
	if regenerate {
		if err := s.embed(ctx, unit); err != nil {
			return nil, false, err
		}
	}

	if err := s.store.Upsert(ctx, unit); err != nil {
		return nil, false, fmt.Errorf("storing unit: %w", err)
	}
	logger.Info("Updated unit %s (embedding regenerated: %t)", unit.ID, regenerate)
	return unit, regenerate, nil
}

// Delete removes a unit.
func (s *ContentService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.NewValidationError("id", "must not be empty")
	}
	return s.store.Delete(ctx, id)
}

// Stats summarises the stored units.
func (s *ContentService) Stats(ctx context.Context) (*domain.ContentStats, error) {
	return s.store.Stats(ctx)
}

// embed sets the unit's embedding from its body, chunking and averaging
// oversized bodies. An empty body clears it.
func (s *ContentService) embed(ctx context.Context, unit *domain.ContentUnit) error {
	if unit.Body == "" {
		unit.Embedding = nil
		return nil
	}
	if s.embedder == nil {
		return domain.ErrEmbeddingUnavailable
	}
	chunks := s.chunker.Split(unit.Body)
	vecs, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embedding unit: %w", err)
	}
	parts := make([]domain.ChunkVector, len(chunks))
	for i, c := range chunks {
		parts[i] = domain.ChunkVector{Index: i, Text: c, Embedding: vecs[i]}
	}
	vec, err := s.averager.AverageChunks(parts)
	if err != nil {
		return fmt.Errorf("embedding unit: %w", err)
	}
	unit.Embedding = vec
	return nil
}

func valueOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
