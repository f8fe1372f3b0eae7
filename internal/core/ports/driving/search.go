package driving

import (
	"context"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
)

// QueryService answers similarity searches and exact lookups.
type QueryService interface {
	// SemanticSearch embeds queryText and returns the nearest units that pass filters.
	SemanticSearch(ctx context.Context, queryText string, filters domain.Filters, limit int) ([]domain.SearchResult, error)

	// GetContent looks units up by exactly one locator. A miss returns an empty slice.
	GetContent(ctx context.Context, locator domain.ContentLocator) ([]domain.ContentUnit, error)

	// TextSearch matches every term of text against titles and bodies.
	// Stores without a text index return domain.ErrUnsupportedType.
	TextSearch(ctx context.Context, text string, filters domain.Filters, limit int) ([]domain.ContentUnit, error)
}
