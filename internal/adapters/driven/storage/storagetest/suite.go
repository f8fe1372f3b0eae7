// Package storagetest holds the behaviour every driven.ContentStore must share.
// Adapter tests call Run with a constructor for a fresh, empty store.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
)

// Factory returns an empty store. Cleanup is registered on t by the factory.
type Factory func(t *testing.T) driven.ContentStore

// NewUnit builds a valid unit with a three-dimensional embedding.
func NewUnit(id, title string, vec []float32, types ...string) *domain.ContentUnit {
	return &domain.ContentUnit{
		ID:           id,
		Title:        title,
		Body:         "Body of " + title,
		Embedding:    vec,
		SourceType:   "official",
		SourceBook:   "players_book",
		ContentTypes: types,
	}
}

// Run executes the shared ContentStore behaviour tests.
func Run(t *testing.T, newStore Factory) {
	t.Run("upsert and get", func(t *testing.T) { testUpsertGet(t, newStore(t)) })
	t.Run("upsert is idempotent", func(t *testing.T) { testIdempotent(t, newStore(t)) })
	t.Run("upsert replaces content", func(t *testing.T) { testReplace(t, newStore(t)) })
	t.Run("batch is all or nothing", func(t *testing.T) { testBatchAtomic(t, newStore(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("search ranks by distance", func(t *testing.T) { testSearchOrder(t, newStore(t)) })
	t.Run("search filters", func(t *testing.T) { testSearchFilters(t, newStore(t)) })
	t.Run("search limit", func(t *testing.T) { testSearchLimit(t, newStore(t)) })
	t.Run("search skips units without embedding", func(t *testing.T) { testSearchNoEmbedding(t, newStore(t)) })
	t.Run("search ignores other dimensions", func(t *testing.T) { testSearchMixedDimensions(t, newStore(t)) })
	t.Run("section lookup", func(t *testing.T) { testSection(t, newStore(t)) })
	t.Run("title lookup", func(t *testing.T) { testTitle(t, newStore(t)) })
	t.Run("stats", func(t *testing.T) { testStats(t, newStore(t)) })
	t.Run("concurrent upserts to one id", func(t *testing.T) { testConcurrentUpserts(t, newStore(t)) })
	t.Run("text search", func(t *testing.T) {
		s := newStore(t)
		ts, ok := s.(driven.TextSearcher)
		if !ok {
			t.Skip("store has no full-text index")
		}
		testTextSearch(t, s, ts)
	})
}

func testUpsertGet(t *testing.T, s driven.ContentStore) {
	ctx := context.Background()
	u := NewUnit("u1", "Spell Casting", []float32{1, 0, 0}, "procedure", "procedure")
	u.Tags = []string{"magic", "combat"}
	u.PageRange = "10-12"
	u.SectionID = "4.2"
	u.FilePath = "/tmp/players_book_section_4.2.md"

	require.NoError(t, s.Upsert(ctx, u))

	got, err := s.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Spell Casting", got.Title)
	assert.Equal(t, "Body of Spell Casting", got.Body)
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)
	assert.Equal(t, []string{"procedure"}, got.ContentTypes)
	assert.Equal(t, []string{"combat", "magic"}, got.Tags)
	assert.Equal(t, "10-12", got.PageRange)
	assert.Equal(t, "4.2", got.SectionID)
	assert.Equal(t, "/tmp/players_book_section_4.2.md", got.FilePath)
	assert.Equal(t, 21, got.CharCount)
	assert.Equal(t, 4, got.WordCount)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testIdempotent(t *testing.T, s driven.ContentStore) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, NewUnit("u1", "Title", []float32{1, 0, 0})))
	first, err := s.GetByID(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, NewUnit("u1", "Title", []float32{1, 0, 0})))
	second, err := s.GetByID(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, first.Title, second.Title)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, first.Embedding, second.Embedding)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt), "created timestamp is preserved")
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt), "updated timestamp advances")

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func testReplace(t *testing.T, s driven.ContentStore) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, NewUnit("u1", "Old", []float32{1, 0, 0}, "concept")))

	replacement := NewUnit("u1", "New", []float32{0, 1, 0})
	replacement.Tags = []string{"revised"}
	require.NoError(t, s.Upsert(ctx, replacement))

	got, err := s.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "New", got.Title)
	assert.Equal(t, []float32{0, 1, 0}, got.Embedding)
	assert.Empty(t, got.ContentTypes)
	assert.Equal(t, []string{"revised"}, got.Tags)
}

func testBatchAtomic(t *testing.T, s driven.ContentStore) {
	ctx := context.Background()
	good := NewUnit("good", "Good", []float32{1, 0, 0})
	bad := NewUnit("bad", "", []float32{1, 0, 0})

	err := s.UpsertBatch(ctx, []*domain.ContentUnit{good, bad})
	require.Error(t, err)

	_, err = s.GetByID(ctx, "good")
	assert.ErrorIs(t, err, domain.ErrNotFound, "no unit of a failed batch is committed")

	batch := []*domain.ContentUnit{
		NewUnit("a", "A", []float32{1, 0, 0}),
		NewUnit("b", "B", []float32{0, 1, 0}),
	}
	require.NoError(t, s.UpsertBatch(ctx, batch))
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
}

func testDelete(t *testing.T, s driven.ContentStore) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, NewUnit("u1", "Title", []float32{1, 0, 0})))

	require.NoError(t, s.Delete(ctx, "u1"))
	_, err := s.GetByID(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	results, err := s.Search(ctx, []float32{1, 0, 0}, domain.Filters{}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.ErrorIs(t, s.Delete(ctx, "u1"), domain.ErrNotFound)
}

func testSearchOrder(t *testing.T, s driven.ContentStore) {
	ctx := context.Background()
	units := []*domain.ContentUnit{
		NewUnit("far", "Far", []float32{0, 0, 1}),
		NewUnit("mid", "Mid", []float32{1, 1, 0}),
		NewUnit("near", "Near", []float32{1, 0.1, 0}),
		NewUnit("same", "Same", []float32{2, 0, 0}),
	}
	require.NoError(t, s.UpsertBatch(ctx, units))

	results, err := s.Search(ctx, []float32{1, 0, 0}, domain.Filters{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 4)

	ids := make([]string, len(results))
	for i := range results {
		ids[i] = results[i].Unit.ID
		if i > 0 {
			assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance+1e-6)
		}
	}
	assert.Equal(t, []string{"same", "near", "mid", "far"}, ids)
	assert.InDelta(t, 0, results[0].Distance, 1e-5)
}

func testSearchFilters(t *testing.T, s driven.ContentStore) {
	ctx := context.Background()
	rule1 := NewUnit("r1", "Combat", []float32{1, 0, 0}, "rule")
	rule2 := NewUnit("r2", "Magic", []float32{0.9, 0.1, 0}, "rule", "magic")
	rule2.SourceBook = "campaign_book"
	other := NewUnit("o1", "Monsters", []float32{1, 0, 0}, "bestiary")
	other.SourceType = "supplementary"
	untyped := NewUnit("o2", "Untyped", []float32{1, 0, 0})
	require.NoError(t, s.UpsertBatch(ctx, []*domain.ContentUnit{rule1, rule2, other, untyped}))

	tests := []struct {
		name     string
		filters  domain.Filters
		expected []string
	}{
		{"content type", domain.Filters{ContentTypes: []string{"rule"}}, []string{"r1", "r2"}},
		{"content type any of", domain.Filters{ContentTypes: []string{"magic", "bestiary"}}, []string{"o1", "r2"}},
		{"source book", domain.Filters{SourceBooks: []string{"campaign_book"}}, []string{"r2"}},
		{"source type", domain.Filters{SourceTypes: []string{"supplementary"}}, []string{"o1"}},
		{
			name: "AND across fields",
			filters: domain.Filters{
				ContentTypes: []string{"rule"},
				SourceBooks:  []string{"players_book"},
			},
			expected: []string{"r1"},
		},
		{"no match", domain.Filters{ContentTypes: []string{"example"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.Search(ctx, []float32{1, 0, 0}, tt.filters, 10)
			require.NoError(t, err)
			var ids []string
			for i := range results {
				assert.True(t, tt.filters.Match(&results[i].Unit), "result %s violates filter", results[i].Unit.ID)
				ids = append(ids, results[i].Unit.ID)
			}
			assert.ElementsMatch(t, tt.expected, ids)
		})
	}
}

func testSearchLimit(t *testing.T, s driven.ContentStore) {
	ctx := context.Background()
	var batch []*domain.ContentUnit
	for i := 0; i < 25; i++ {
		batch = append(batch, NewUnit(fmt.Sprintf("u%02d", i), fmt.Sprintf("Unit %d", i), []float32{1, float32(i), 0}))
	}
	require.NoError(t, s.UpsertBatch(ctx, batch))

	results, err := s.Search(ctx, []float32{1, 0, 0}, domain.Filters{}, 0)
	require.NoError(t, err)
	assert.Len(t, results, domain.DefaultSearchLimit)

	results, err = s.Search(ctx, []float32{1, 0, 0}, domain.Filters{}, 100)
	require.NoError(t, err)
	assert.Len(t, results, domain.MaxSearchLimit)

	results, err = s.Search(ctx, []float32{1, 0, 0}, domain.Filters{}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "u00", results[0].Unit.ID)
}

func testSearchNoEmbedding(t *testing.T, s driven.ContentStore) {
	ctx := context.Background()
	empty := &domain.ContentUnit{ID: "empty", Title: "Empty section", SourceType: "official"}
	require.NoError(t, s.Upsert(ctx, empty))
	require.NoError(t, s.Upsert(ctx, NewUnit("full", "Full", []float32{1, 0, 0})))

	results, err := s.Search(ctx, []float32{1, 0, 0}, domain.Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "full", results[0].Unit.ID)

	got, err := s.GetByID(ctx, "empty")
	require.NoError(t, err)
	assert.Nil(t, got.Embedding)
}

// testSearchMixedDimensions covers a store holding vectors from two models.
// Stores with a fixed dimension refuse the foreign write instead.
func testSearchMixedDimensions(t *testing.T, s driven.ContentStore) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, NewUnit("three", "Three", []float32{1, 0, 0})))

	err := s.Upsert(ctx, NewUnit("two", "Two", []float32{1, 0}))
	mixed := err == nil
	if !mixed {
		require.ErrorIs(t, err, domain.ErrDimensionMismatch)
	}

	results, err := s.Search(ctx, []float32{1, 0, 0}, domain.Filters{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "three", results[0].Unit.ID)

	if mixed {
		results, err = s.Search(ctx, []float32{0, 1}, domain.Filters{}, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "two", results[0].Unit.ID)
	}

	_, err = s.Search(ctx, nil, domain.Filters{}, 10)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func testSection(t *testing.T, s driven.ContentStore) {
	ctx := context.Background()
	a := NewUnit("a", "Hex 0101", []float32{1, 0, 0})
	a.SectionID = "0101"
	a.SourceBook = "campaign_book"
	b := NewUnit("b", "Spell 0101", []float32{0, 1, 0})
	b.SectionID = "0101"
	b.SourceBook = "players_book"
	require.NoError(t, s.Upsert(ctx, a))
	require.NoError(t, s.Upsert(ctx, b))

	got, err := s.GetBySectionID(ctx, "0101", "campaign_book")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	got, err = s.GetBySectionID(ctx, "0101", "")
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID, "most recently updated wins without a book")

	_, err = s.GetBySectionID(ctx, "9999", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testTitle(t *testing.T, s driven.ContentStore) {
	ctx := context.Background()
	titles := map[string]string{"1": "Combat Rules", "2": "Combat", "3": "Mounted Combat", "4": "Magic"}
	for id, title := range titles {
		require.NoError(t, s.Upsert(ctx, NewUnit(id, title, []float32{1, 0, 0})))
	}

	got, err := s.GetByTitle(ctx, "combat", false, "", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "1", got[1].ID)
	assert.Equal(t, "3", got[2].ID)

	got, err = s.GetByTitle(ctx, "Combat", true, "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)

	got, err = s.GetByTitle(ctx, "combat", false, "", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.GetByTitle(ctx, "combat", false, "monster_book", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testStats(t *testing.T, s driven.ContentStore) {
	ctx := context.Background()
	a := NewUnit("a", "A", []float32{1, 0, 0}, "procedure")
	b := NewUnit("b", "B", []float32{1, 0, 0}, "procedure", "reference")
	c := NewUnit("c", "C", []float32{1, 0, 0})
	c.SourceBook = "monster_book"
	require.NoError(t, s.UpsertBatch(ctx, []*domain.ContentUnit{a, b, c}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.BySourceBook["players_book"])
	assert.Equal(t, 1, stats.BySourceBook["monster_book"])
	assert.Equal(t, 2, stats.ByContentType["procedure"])
	assert.Equal(t, 1, stats.ByContentType["reference"])
}

func testConcurrentUpserts(t *testing.T, s driven.ContentStore) {
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := NewUnit("shared", fmt.Sprintf("Version %d", i), []float32{1, float32(i), 0})
			errs <- s.Upsert(ctx, u)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetByID(ctx, "shared")
	require.NoError(t, err)

	var version int
	_, err = fmt.Sscanf(got.Title, "Version %d", &version)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, float32(version), 0}, got.Embedding, "title and embedding come from the same write")
}

func testTextSearch(t *testing.T, s driven.ContentStore, ts driven.TextSearcher) {
	ctx := context.Background()
	grapple := NewUnit("g", "Grappling", []float32{1, 0, 0}, "procedure")
	grapple.Body = "To grapple a creature, make an opposed strength check."
	spell := NewUnit("s", "Casting Spells", []float32{0, 1, 0}, "reference")
	spell.Body = "A spell check uses your casting ability."
	spell.SourceBook = "campaign_book"
	require.NoError(t, s.UpsertBatch(ctx, []*domain.ContentUnit{grapple, spell}))

	ids := func(units []domain.ContentUnit) []string {
		var out []string
		for i := range units {
			out = append(out, units[i].ID)
		}
		return out
	}

	got, err := ts.TextSearch(ctx, "check", domain.Filters{}, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"g", "s"}, ids(got))

	got, err = ts.TextSearch(ctx, "strength check", domain.Filters{}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"g"}, ids(got), "every term must match")

	got, err = ts.TextSearch(ctx, "check", domain.Filters{SourceBooks: []string{"campaign_book"}}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"s"}, ids(got))

	got, err = ts.TextSearch(ctx, "check", domain.Filters{}, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = ts.TextSearch(ctx, "   ", domain.Filters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Delete(ctx, "g"))
	got, err = ts.TextSearch(ctx, "grapple", domain.Filters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, got, "deleted units leave the index")
}
