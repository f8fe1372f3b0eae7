package driven

import "github.com/custodia-labs/lorekeep/internal/core/domain"

// SpanClassifier labels a span of extracted text.
// Variants are independent rules (font size, color, keyword) selected by configuration.
type SpanClassifier interface {
	// Classify returns the label and true when the rule matches the span.
	Classify(span domain.Span) (string, bool)
}
