package mcp

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
)

var separator = "\n" + strings.Repeat("=", 50) + "\n"

func formatSearch(query string, results []domain.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for query: '%s'", query)
	}
	lines := []string{fmt.Sprintf("Found %d result(s) for: '%s'\n", len(results), query)}
	for i := range results {
		u := &results[i].Unit
		lines = append(lines, fmt.Sprintf("## Result %d: %s", i+1, u.Title), source(u))
		lines = append(lines, labels(u)...)
		lines = append(lines, "", u.Body, separator)
	}
	return strings.Join(lines, "\n")
}

func formatContent(loc domain.ContentLocator, units []domain.ContentUnit) string {
	switch len(units) {
	case 0:
		kind, value := loc.Kind()
		return fmt.Sprintf("No content found for %s: '%s'", kind, value)
	case 1:
		return strings.Join(detail(&units[0]), "\n")
	}

	lines := []string{fmt.Sprintf("Found %d result(s):\n", len(units))}
	for i := range units {
		u := &units[i]
		lines = append(lines, fmt.Sprintf("## Result %d: %s", i+1, u.Title), source(u), "**ID:** "+u.ID)
		if u.SectionID != "" {
			lines = append(lines, "**Section ID:** "+u.SectionID)
		}
		lines = append(lines, labels(u)...)
		lines = append(lines, "", u.Body, separator)
	}
	return strings.Join(lines, "\n")
}

func formatCreated(u *domain.ContentUnit) string {
	lines := []string{"Content created successfully!\n"}
	lines = append(lines, detail(u)...)
	lines = slices.Insert(lines, len(lines)-2, "**Source Type:** "+u.SourceType)
	lines = append(lines, "\nVector embedding generated and stored")
	return strings.Join(lines, "\n")
}

func formatUpdated(u *domain.ContentUnit, regenerated bool) string {
	lines := []string{"Content updated successfully!\n"}
	lines = append(lines, detail(u)...)
	if regenerated {
		lines = append(lines, "\nVector embedding regenerated")
	}
	return strings.Join(lines, "\n")
}

func formatStats(stats *domain.ContentStats) string {
	lines := []string{fmt.Sprintf("Total sections: %d", stats.Total)}
	lines = append(lines, counts("By source book", stats.BySourceBook)...)
	lines = append(lines, counts("By content type", stats.ByContentType)...)
	return strings.Join(lines, "\n")
}

// detail renders one unit as a document with its metadata block.
// The last two lines are always the blank line and the body.
func detail(u *domain.ContentUnit) []string {
	lines := []string{"# " + u.Title, source(u), "**ID:** " + u.ID}
	if u.SectionID != "" {
		lines = append(lines, "**Section ID:** "+u.SectionID)
	}
	lines = append(lines, labels(u)...)
	return append(lines, "", u.Body)
}

func source(u *domain.ContentUnit) string {
	pages := u.PageRange
	if pages == "" {
		pages = "N/A"
	}
	return fmt.Sprintf("**Source:** %s (%s)", u.SourceBook, pages)
}

func labels(u *domain.ContentUnit) []string {
	var lines []string
	if len(u.ContentTypes) > 0 {
		lines = append(lines, "**Content Type:** "+strings.Join(u.ContentTypes, ", "))
	}
	if len(u.Tags) > 0 {
		lines = append(lines, "**Tags:** "+strings.Join(u.Tags, ", "))
	}
	return lines
}

func counts(heading string, m map[string]int) []string {
	if len(m) == 0 {
		return nil
	}
	lines := []string{"", heading + ":"}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		lines = append(lines, fmt.Sprintf("- %s: %d", k, m[k]))
	}
	return lines
}
