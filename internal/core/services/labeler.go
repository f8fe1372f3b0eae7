package services

import (
	"sort"
	"strings"

	"github.com/custodia-labs/lorekeep/internal/classifiers"
	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
)

// Labeler assigns content types and tags to units that arrive without them.
// Content types come from title keywords, tags from body keywords.
type Labeler struct {
	types    []driven.SpanClassifier
	tags     []driven.SpanClassifier
	fallback string
}

// NewLabeler creates a labeler for the vocabulary. Content types are tried in
// vocabulary order; a type without configured keywords matches its own name.
func NewLabeler(v domain.VocabularySettings) *Labeler {
	l := &Labeler{}
	for _, ct := range v.ContentTypes {
		keywords := v.TypeKeywords[ct]
		if len(keywords) == 0 {
			keywords = []string{strings.ToLower(ct)}
		}
		l.types = append(l.types, classifiers.Keyword{Keywords: keywords, Label: ct})
	}
	if len(v.ContentTypes) > 0 {
		l.fallback = v.ContentTypes[0]
	}

	tagNames := make([]string, 0, len(v.TagKeywords))
	for tag := range v.TagKeywords {
		tagNames = append(tagNames, tag)
	}
	sort.Strings(tagNames)
	for _, tag := range tagNames {
		l.tags = append(l.tags, classifiers.Keyword{Keywords: v.TagKeywords[tag], Label: tag})
	}
	return l
}

// ContentTypes returns every type whose keywords occur in title, or the
// first configured type when none do.
func (l *Labeler) ContentTypes(title string) []string {
	types := classifiers.ClassifyAll(domain.Span{Text: title}, l.types...)
	if len(types) == 0 && l.fallback != "" {
		return []string{l.fallback}
	}
	return types
}

// Tags returns every tag whose keywords occur in body.
func (l *Labeler) Tags(body string) []string {
	return classifiers.ClassifyAll(domain.Span{Text: body}, l.tags...)
}

// Label fills in missing content types and tags. Labels already present are kept.
func (l *Labeler) Label(u *domain.ContentUnit) {
	if len(u.ContentTypes) == 0 {
		u.ContentTypes = l.ContentTypes(u.Title)
	}
	if len(u.Tags) == 0 {
		u.Tags = l.Tags(u.Body)
	}
}
