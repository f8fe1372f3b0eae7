// Package storage holds the ranking and matching rules shared by the
// ContentStore adapters that rank in process (sqlite, memory).
package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
)

// CheckDimensions reports ErrDimensionMismatch when dims is fixed and v has
// another length. An empty v always passes; units may carry no embedding.
func CheckDimensions(dims int, v []float32) error {
	if dims > 0 && len(v) > 0 && len(v) != dims {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(v), dims)
	}
	return nil
}

// CheckQuery validates a query vector against the fixed dimension dims.
func CheckQuery(dims int, query []float32) error {
	if len(query) == 0 {
		return fmt.Errorf("empty query vector: %w", domain.ErrDimensionMismatch)
	}
	if err := CheckDimensions(dims, query); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}

// Rank scores candidates by cosine distance to query and returns the nearest
// limit results. Candidates without an embedding, or whose embedding has a
// different length than query, are skipped.
func Rank(query []float32, candidates []domain.ContentUnit, limit int) ([]domain.SearchResult, error) {
	if err := CheckQuery(0, query); err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(candidates))
	for i := range candidates {
		if len(candidates[i].Embedding) != len(query) {
			continue
		}
		d, err := domain.CosineDistance(query, candidates[i].Embedding)
		if err != nil {
			return nil, fmt.Errorf("ranking %s: %w", candidates[i].ID, err)
		}
		results = append(results, domain.SearchResult{Unit: candidates[i], Distance: d})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return Less(results[i], results[j])
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Less orders results by ascending distance, then most recent update, then ID.
func Less(a, b domain.SearchResult) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	if !a.Unit.UpdatedAt.Equal(b.Unit.UpdatedAt) {
		return a.Unit.UpdatedAt.After(b.Unit.UpdatedAt)
	}
	return a.Unit.ID < b.Unit.ID
}

// MatchTitles selects units whose title matches pattern. Exact matching is
// case-sensitive equality. Partial matching is a case-insensitive substring
// test ordered by case-insensitive equality first, then shorter titles, then
// title and ID.
func MatchTitles(units []domain.ContentUnit, pattern string, exact bool, limit int) []domain.ContentUnit {
	needle := strings.ToLower(pattern)
	var out []domain.ContentUnit
	for i := range units {
		if exact {
			if units[i].Title == pattern {
				out = append(out, units[i])
			}
			continue
		}
		if strings.Contains(strings.ToLower(units[i].Title), needle) {
			out = append(out, units[i])
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ae, be := strings.EqualFold(a.Title, pattern), strings.EqualFold(b.Title, pattern)
		if ae != be {
			return ae
		}
		if len(a.Title) != len(b.Title) {
			return len(a.Title) < len(b.Title)
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ID < b.ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CountStats aggregates totals over units.
func CountStats(units []domain.ContentUnit) *domain.ContentStats {
	stats := &domain.ContentStats{
		BySourceBook:  make(map[string]int),
		ByContentType: make(map[string]int),
	}
	for i := range units {
		stats.Total++
		stats.BySourceBook[units[i].SourceBook]++
		for _, ct := range units[i].ContentTypes {
			stats.ByContentType[ct]++
		}
	}
	return stats
}
