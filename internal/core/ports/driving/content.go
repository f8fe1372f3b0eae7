package driving

import (
	"context"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
)

// ContentService manages individual units on behalf of clients.
type ContentService interface {
	// Create embeds and stores a new unit.
	Create(ctx context.Context, draft domain.ContentDraft) (*domain.ContentUnit, error)

	// Update applies a patch and reports whether the embedding was regenerated.
	Update(ctx context.Context, id string, patch domain.ContentPatch) (*domain.ContentUnit, bool, error)

	// Delete removes a unit.
	Delete(ctx context.Context, id string) error

	// Stats summarises the stored units.
	Stats(ctx context.Context) (*domain.ContentStats, error)
}
