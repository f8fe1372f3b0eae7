// Package classifiers provides rule-based span classifiers.
//
// Each variant is an independent driven.SpanClassifier: a span either matches
// the rule and receives its label or does not. Chain composes variants with
// first-match-wins semantics.
package classifiers

import (
	"strings"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
)

// Ensure variants implement the interface.
var (
	_ driven.SpanClassifier = FontSize{}
	_ driven.SpanClassifier = Color{}
	_ driven.SpanClassifier = Keyword{}
	_ driven.SpanClassifier = Chain{}
)

// FontSize labels spans set at MinSize points or larger.
type FontSize struct {
	MinSize float64
	Label   string
}

// Classify implements driven.SpanClassifier.
func (c FontSize) Classify(span domain.Span) (string, bool) {
	if span.Size > 0 && span.Size >= c.MinSize && strings.TrimSpace(span.Text) != "" {
		return c.Label, true
	}
	return "", false
}

// Color labels spans whose color is one of Colors, compared case-insensitively.
type Color struct {
	Colors []string
	Label  string
}

// Classify implements driven.SpanClassifier.
func (c Color) Classify(span domain.Span) (string, bool) {
	if span.Color == "" {
		return "", false
	}
	for _, col := range c.Colors {
		if strings.EqualFold(normalizeColor(col), normalizeColor(span.Color)) {
			return c.Label, true
		}
	}
	return "", false
}

func normalizeColor(c string) string {
	return strings.TrimPrefix(strings.TrimSpace(c), "#")
}

// Keyword labels spans containing any of Keywords, case-insensitively.
type Keyword struct {
	Keywords []string
	Label    string
}

// Classify implements driven.SpanClassifier.
func (c Keyword) Classify(span domain.Span) (string, bool) {
	text := strings.ToLower(span.Text)
	for _, kw := range c.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return c.Label, true
		}
	}
	return "", false
}

// Chain tries classifiers in order; the first match wins.
type Chain []driven.SpanClassifier

// Classify implements driven.SpanClassifier.
func (c Chain) Classify(span domain.Span) (string, bool) {
	for _, cl := range c {
		if label, ok := cl.Classify(span); ok {
			return label, true
		}
	}
	return "", false
}

// ClassifyAll returns every distinct label assigned by classifiers, in order.
func ClassifyAll(span domain.Span, classifiers ...driven.SpanClassifier) []string {
	var labels []string
	seen := make(map[string]bool)
	for _, cl := range classifiers {
		if label, ok := cl.Classify(span); ok && !seen[label] {
			seen[label] = true
			labels = append(labels, label)
		}
	}
	return labels
}
