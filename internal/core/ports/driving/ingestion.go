package driving

import (
	"context"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
)

// IngestionService embeds and stores batches of content units.
type IngestionService interface {
	// Ingest embeds and stores units, isolating failures per unit.
	// The returned error is non-nil only when the run had to halt.
	Ingest(ctx context.Context, units []domain.ContentUnit) (*domain.IngestSummary, error)
}
