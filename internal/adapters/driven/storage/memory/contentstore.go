// Package memory provides an in-process ContentStore.
// It holds the same semantics as the persistent stores and backs tests and
// throwaway runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/lorekeep/internal/adapters/driven/storage"
	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
)

// Ensure ContentStore implements the interfaces.
var (
	_ driven.ContentStore = (*ContentStore)(nil)
	_ driven.TextSearcher = (*ContentStore)(nil)
)

// ContentStore is an in-memory implementation of driven.ContentStore.
type ContentStore struct {
	mu    sync.RWMutex
	units map[string]*domain.ContentUnit
	dims  int
	now   func() time.Time
	last  time.Time
}

// Option configures a ContentStore.
type Option func(*ContentStore)

// WithDimensions fixes the embedding length. Writes and queries of any
// other length fail with domain.ErrDimensionMismatch.
func WithDimensions(dims int) Option {
	return func(s *ContentStore) {
		s.dims = dims
	}
}

// NewContentStore creates a new in-memory content store.
func NewContentStore(opts ...Option) *ContentStore {
	s := &ContentStore{
		units: make(map[string]*domain.ContentUnit),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert stores or replaces a unit.
func (s *ContentStore) Upsert(ctx context.Context, unit *domain.ContentUnit) error {
	return s.UpsertBatch(ctx, []*domain.ContentUnit{unit})
}

// UpsertBatch validates every unit before writing any, so a bad unit leaves
// the store untouched.
func (s *ContentStore) UpsertBatch(ctx context.Context, units []*domain.ContentUnit) error {
	for _, u := range units {
		if u.ID == "" {
			return domain.NewValidationError("id", "must not be empty")
		}
		if err := u.Validate(); err != nil {
			return fmt.Errorf("unit %s: %w", u.ID, err)
		}
		if err := storage.CheckDimensions(s.dims, u.Embedding); err != nil {
			return fmt.Errorf("unit %s: %w", u.ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := domain.NextUpdate(s.last, s.now().UTC().Truncate(time.Microsecond))
	s.last = now
	for _, u := range units {
		u.Touch(now)
		u.Supersede(s.units[u.ID])
		s.units[u.ID] = u.Clone()
	}
	return nil
}

// Delete removes a unit.
func (s *ContentStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.units, id)
	return nil
}

// GetByID retrieves a unit by ID.
func (s *ContentStore) GetByID(_ context.Context, id string) (*domain.ContentUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u.Clone(), nil
}

// GetBySectionID returns the most recently updated unit with the section id.
func (s *ContentStore) GetBySectionID(_ context.Context, sectionID, sourceBook string) (*domain.ContentUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.ContentUnit
	for _, u := range s.units {
		if u.SectionID != sectionID || (sourceBook != "" && u.SourceBook != sourceBook) {
			continue
		}
		if found == nil || u.UpdatedAt.After(found.UpdatedAt) ||
			(u.UpdatedAt.Equal(found.UpdatedAt) && u.ID < found.ID) {
			found = u
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found.Clone(), nil
}

// GetByTitle matches titles exactly or partially.
func (s *ContentStore) GetByTitle(
	_ context.Context,
	pattern string,
	exact bool,
	sourceBook string,
	limit int,
) ([]domain.ContentUnit, error) {
	units := s.snapshot(func(u *domain.ContentUnit) bool {
		return sourceBook == "" || u.SourceBook == sourceBook
	})
	return storage.MatchTitles(units, pattern, exact, limit), nil
}

// Search filters units and ranks them by cosine distance.
func (s *ContentStore) Search(
	_ context.Context,
	query []float32,
	filters domain.Filters,
	limit int,
) ([]domain.SearchResult, error) {
	if err := storage.CheckQuery(s.dims, query); err != nil {
		return nil, err
	}
	candidates := s.snapshot(filters.Match)
	return storage.Rank(query, candidates, domain.ClampLimit(limit, domain.DefaultSearchLimit, domain.MaxSearchLimit))
}

// TextSearch returns units whose title or body contains every term,
// case-insensitively. Title hits rank before body-only hits.
func (s *ContentStore) TextSearch(
	_ context.Context,
	text string,
	filters domain.Filters,
	limit int,
) ([]domain.ContentUnit, error) {
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 {
		return nil, nil
	}
	titleHits := func(u *domain.ContentUnit) int {
		title := strings.ToLower(u.Title)
		n := 0
		for _, t := range terms {
			if strings.Contains(title, t) {
				n++
			}
		}
		return n
	}

	units := s.snapshot(func(u *domain.ContentUnit) bool {
		if !filters.Match(u) {
			return false
		}
		haystack := strings.ToLower(u.Title + "\n" + u.Body)
		for _, t := range terms {
			if !strings.Contains(haystack, t) {
				return false
			}
		}
		return true
	})

	sort.SliceStable(units, func(i, j int) bool {
		a, b := titleHits(&units[i]), titleHits(&units[j])
		if a != b {
			return a > b
		}
		if !units[i].UpdatedAt.Equal(units[j].UpdatedAt) {
			return units[i].UpdatedAt.After(units[j].UpdatedAt)
		}
		return units[i].ID < units[j].ID
	})

	limit = domain.ClampLimit(limit, domain.DefaultSearchLimit, domain.MaxSearchLimit)
	if len(units) > limit {
		units = units[:limit]
	}
	return units, nil
}

// Stats summarises the stored units.
func (s *ContentStore) Stats(_ context.Context) (*domain.ContentStats, error) {
	return storage.CountStats(s.snapshot(nil)), nil
}

// Close is a no-op.
func (s *ContentStore) Close() error {
	return nil
}

// Len returns the number of stored units.
func (s *ContentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}

// snapshot copies the units accepted by keep, or all units when keep is nil.
func (s *ContentStore) snapshot(keep func(*domain.ContentUnit) bool) []domain.ContentUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ContentUnit, 0, len(s.units))
	for _, u := range s.units {
		if keep == nil || keep(u) {
			out = append(out, *u.Clone())
		}
	}
	return out
}
