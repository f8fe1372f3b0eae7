package classifiers

import (
	"fmt"
	"sort"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
)

// Classifier kinds accepted in configuration.
const (
	KindFontSize = "font_size"
	KindColor    = "color"
	KindKeyword  = "keyword"
)

// BuilderFunc creates a SpanClassifier from a configured rule.
type BuilderFunc func(rule domain.ClassifierRule) (driven.SpanClassifier, error)

// Registry maps classifier kinds to their builders.
type Registry struct {
	builders map[string]BuilderFunc
}

// NewRegistry creates a registry with the built-in kinds registered.
func NewRegistry() *Registry {
	r := &Registry{
		builders: make(map[string]BuilderFunc),
	}
	r.Register(KindFontSize, buildFontSize)
	r.Register(KindColor, buildColor)
	r.Register(KindKeyword, buildKeyword)
	return r
}

// Register adds a builder. A later registration replaces an earlier one.
func (r *Registry) Register(kind string, builder BuilderFunc) {
	r.builders[kind] = builder
}

// Build creates a classifier for rule.
func (r *Registry) Build(rule domain.ClassifierRule) (driven.SpanClassifier, error) {
	builder, ok := r.builders[rule.Kind]
	if !ok {
		return nil, fmt.Errorf("classifier kind %q: %w", rule.Kind, domain.ErrUnsupportedType)
	}
	if rule.Label == "" {
		return nil, domain.NewValidationError("label", "classifier "+rule.Kind+" needs a label")
	}
	return builder(rule)
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.builders))
	for k := range r.builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// FromConfig builds one classifier per rule with the built-in registry.
func FromConfig(rules []domain.ClassifierRule) ([]driven.SpanClassifier, error) {
	r := NewRegistry()
	out := make([]driven.SpanClassifier, 0, len(rules))
	for i, rule := range rules {
		c, err := r.Build(rule)
		if err != nil {
			return nil, fmt.Errorf("classifier %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Labelled returns a Chain of the classifiers built from rules carrying label.
func Labelled(rules []domain.ClassifierRule, label string) (Chain, error) {
	var selected []domain.ClassifierRule
	for _, rule := range rules {
		if rule.Label == label {
			selected = append(selected, rule)
		}
	}
	built, err := FromConfig(selected)
	if err != nil {
		return nil, err
	}
	return Chain(built), nil
}

func buildFontSize(rule domain.ClassifierRule) (driven.SpanClassifier, error) {
	if rule.MinSize <= 0 {
		return nil, domain.NewValidationError("min_size", "must be positive")
	}
	return FontSize{MinSize: rule.MinSize, Label: rule.Label}, nil
}

func buildColor(rule domain.ClassifierRule) (driven.SpanClassifier, error) {
	if len(rule.Colors) == 0 {
		return nil, domain.NewValidationError("colors", "at least one color is required")
	}
	return Color{Colors: rule.Colors, Label: rule.Label}, nil
}

func buildKeyword(rule domain.ClassifierRule) (driven.SpanClassifier, error) {
	if len(rule.Keywords) == 0 {
		return nil, domain.NewValidationError("keywords", "at least one keyword is required")
	}
	return Keyword{Keywords: rule.Keywords, Label: rule.Label}, nil
}
