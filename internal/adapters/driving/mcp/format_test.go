package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
)

func TestFormatSearch(t *testing.T) {
	assert.Equal(t, "No results found for query: 'q'", formatSearch("q", nil))

	got := formatSearch("q", []domain.SearchResult{{Unit: domain.ContentUnit{Title: "T", Body: "body", SourceBook: "b"}}})
	want := "Found 1 result(s) for: 'q'\n\n## Result 1: T\n**Source:** b (N/A)\n\nbody\n\n" +
		strings.Repeat("=", 50) + "\n"
	assert.Equal(t, want, got)
}

func TestFormatContent_Miss(t *testing.T) {
	tests := []struct {
		loc  domain.ContentLocator
		want string
	}{
		{domain.ContentLocator{ID: "abc"}, "No content found for ID: 'abc'"},
		{domain.ContentLocator{SectionID: "12"}, "No content found for section ID: '12'"},
		{domain.ContentLocator{Title: "Owl"}, "No content found for title: 'Owl'"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatContent(tt.loc, nil))
		})
	}
}

func TestFormatUpdated(t *testing.T) {
	u := &domain.ContentUnit{ID: "1", Title: "T", Body: "b", SourceBook: "s", PageRange: "3",
		ContentTypes: []string{"concept", "example"}}
	got := formatUpdated(u, false)
	assert.Equal(t, "Content updated successfully!\n\n# T\n**Source:** s (3)\n**ID:** 1\n"+
		"**Content Type:** concept, example\n\nb", got)
	assert.True(t, strings.HasSuffix(formatUpdated(u, true), "\n\nVector embedding regenerated"))
}
