package mcp

import (
	"context"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
)

// --- Mock implementations ---

// mockQueryService implements driving.QueryService for testing.
type mockQueryService struct {
	results []domain.SearchResult
	units   []domain.ContentUnit
	err     error

	searchCalls int
	getCalls    int
	query       string
	filters     domain.Filters
	limit       int
	locator     domain.ContentLocator
}

func (m *mockQueryService) SemanticSearch(
	_ context.Context, queryText string, filters domain.Filters, limit int,
) ([]domain.SearchResult, error) {
	m.searchCalls++
	m.query, m.filters, m.limit = queryText, filters, limit
	return m.results, m.err
}

func (m *mockQueryService) GetContent(_ context.Context, loc domain.ContentLocator) ([]domain.ContentUnit, error) {
	m.getCalls++
	m.locator = loc
	if m.err != nil {
		return nil, m.err
	}
	return m.units, nil
}

func (m *mockQueryService) TextSearch(
	_ context.Context, _ string, _ domain.Filters, _ int,
) ([]domain.ContentUnit, error) {
	return m.units, m.err
}

// mockContentService implements driving.ContentService for testing.
type mockContentService struct {
	unit        *domain.ContentUnit
	regenerated bool
	stats       *domain.ContentStats
	err         error

	calls int
	draft domain.ContentDraft
	id    string
	patch domain.ContentPatch
}

func (m *mockContentService) Create(_ context.Context, draft domain.ContentDraft) (*domain.ContentUnit, error) {
	m.calls++
	m.draft = draft
	return m.unit, m.err
}

func (m *mockContentService) Update(
	_ context.Context, id string, patch domain.ContentPatch,
) (*domain.ContentUnit, bool, error) {
	m.calls++
	m.id, m.patch = id, patch
	return m.unit, m.regenerated, m.err
}

func (m *mockContentService) Delete(_ context.Context, id string) error {
	m.calls++
	m.id = id
	return m.err
}

func (m *mockContentService) Stats(_ context.Context) (*domain.ContentStats, error) {
	m.calls++
	return m.stats, m.err
}
