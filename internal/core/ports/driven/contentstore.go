package driven

import (
	"context"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
)

// ContentStore persists content units and answers similarity and exact-match queries.
//
// Upserts are idempotent on ID: re-upserting replaces content, metadata and
// embedding, keeps CreatedAt and moves UpdatedAt strictly forward. Upserts to
// the same ID are serialised; a batch is written all-or-nothing.
type ContentStore interface {
	// Upsert stores or replaces a single unit. The unit's timestamps and
	// derived counts are updated in place.
	Upsert(ctx context.Context, unit *domain.ContentUnit) error

	// UpsertBatch stores units in one transaction. On error nothing is committed.
	UpsertBatch(ctx context.Context, units []*domain.ContentUnit) error

	// Delete removes a unit and its embedding. Returns domain.ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// GetByID returns domain.ErrNotFound if the unit does not exist.
	GetByID(ctx context.Context, id string) (*domain.ContentUnit, error)

	// GetBySectionID returns the most recently updated unit with the section id,
	// optionally restricted to a source book. Returns domain.ErrNotFound on a miss.
	GetBySectionID(ctx context.Context, sectionID, sourceBook string) (*domain.ContentUnit, error)

	// GetByTitle matches titles exactly, or as a case-insensitive substring with
	// exact matches first, then shorter titles. sourceBook is optional.
	GetByTitle(ctx context.Context, pattern string, exact bool, sourceBook string, limit int) ([]domain.ContentUnit, error)

	// Search filters units and ranks them by ascending cosine distance to query.
	// Ties go to the most recently updated unit, then the smaller ID.
	Search(ctx context.Context, query []float32, filters domain.Filters, limit int) ([]domain.SearchResult, error)

	// Stats summarises the stored units.
	Stats(ctx context.Context) (*domain.ContentStats, error)

	// Close releases the connection.
	Close() error
}

// TextSearcher is implemented by stores that keep a full-text index over
// titles and bodies.
type TextSearcher interface {
	// TextSearch returns units matching every term of text, most relevant first.
	TextSearch(ctx context.Context, text string, filters domain.Filters, limit int) ([]domain.ContentUnit, error)
}
