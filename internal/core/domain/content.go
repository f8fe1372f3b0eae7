package domain

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// ContentUnit is one persisted block of document text with metadata and an embedding.
// It is the canonical record served by search and lookup.
type ContentUnit struct {
	// ID is the unique, immutable identifier.
	ID string

	// Title is the human-readable title. Never empty.
	Title string

	// Body is the full text of the unit.
	Body string

	// Embedding is the vector representation of Body.
	// Nil until computed, and always nil for an empty Body.
	Embedding []float32

	// SourceType is the provenance class (e.g. official, supplementary, annotation).
	SourceType string

	// SourceBook names the collection the unit was extracted from.
	SourceBook string

	// SectionID is an optional locator within SourceBook.
	SectionID string

	// ContentTypes is the set of content-type labels.
	ContentTypes []string

	// Tags is the set of free-form tags.
	Tags []string

	// PageRange is the optional page range in the source, e.g. "10-12".
	PageRange string

	// CharCount and WordCount are derived from Body.
	CharCount int
	WordCount int

	// FilePath is the origin file, if any.
	FilePath string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Touch derives counts, collapses label sets and stamps the unit as mutated at now.
// Timestamps are kept at microsecond precision so every store round-trips them exactly.
func (u *ContentUnit) Touch(now time.Time) {
	now = now.UTC().Truncate(time.Microsecond)

	u.ContentTypes = NormalizeLabels(u.ContentTypes)
	u.Tags = NormalizeLabels(u.Tags)
	u.CharCount = utf8.RuneCountInString(u.Body)
	u.WordCount = len(strings.Fields(u.Body))

	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.UpdatedAt.Before(u.CreatedAt) {
		u.UpdatedAt = u.CreatedAt
	}
}

// Supersede carries identity fields over from the stored version of the unit
// and guarantees UpdatedAt moves strictly forward.
func (u *ContentUnit) Supersede(prev *ContentUnit) {
	if prev == nil {
		return
	}
	u.CreatedAt = prev.CreatedAt
	u.UpdatedAt = NextUpdate(prev.UpdatedAt, u.UpdatedAt)
}

// HasEmbedding reports whether the unit can take part in vector search.
func (u *ContentUnit) HasEmbedding() bool {
	return len(u.Embedding) > 0
}

// Validate checks the invariants a unit must satisfy before it is stored.
func (u *ContentUnit) Validate() error {
	if strings.TrimSpace(u.Title) == "" {
		return NewValidationError("title", "must not be empty")
	}
	if u.Body == "" && len(u.Embedding) > 0 {
		return NewValidationError("embedding", "a unit without text cannot carry an embedding")
	}
	return nil
}

// Clone returns a deep copy so stores never share slices with callers.
func (u *ContentUnit) Clone() *ContentUnit {
	c := *u
	c.Embedding = slices.Clone(u.Embedding)
	c.ContentTypes = slices.Clone(u.ContentTypes)
	c.Tags = slices.Clone(u.Tags)
	return &c
}

// HasAnyContentType reports whether the unit carries at least one of the labels.
func (u *ContentUnit) HasAnyContentType(labels []string) bool {
	for _, l := range labels {
		if slices.Contains(u.ContentTypes, l) {
			return true
		}
	}
	return false
}

// NextUpdate returns the update timestamp that follows prev, never earlier than now.
func NextUpdate(prev, now time.Time) time.Time {
	floor := prev.Add(time.Microsecond)
	if now.Before(floor) {
		return floor
	}
	return now
}

// NormalizeLabels turns a label list into a set: trimmed, non-empty, unique and sorted.
// A nil or empty input yields nil.
func NormalizeLabels(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ChunkVector is a transient sub-split of an oversized unit together with its embedding.
// It only exists while a unit is being ingested.
type ChunkVector struct {
	Index     int
	Text      string
	Embedding []float32
}

// ContentDraft describes a unit to be created by a client.
type ContentDraft struct {
	Title        string
	Body         string
	ContentTypes []string
	Tags         []string
	SourceBook   string
	SourceType   string
	SectionID    string
	PageRange    string
}

// ContentPatch is a partial update. Nil fields are left unchanged.
type ContentPatch struct {
	Title        *string
	Body         *string
	ContentTypes *[]string
	Tags         *[]string
	SourceBook   *string
	SectionID    *string
	PageRange    *string

	// RegenerateEmbedding forces a new embedding even when Body is unchanged.
	RegenerateEmbedding bool
}

// Apply writes the patch onto u and reports whether the body changed.
func (p ContentPatch) Apply(u *ContentUnit) (bodyChanged bool) {
	if p.Title != nil {
		u.Title = *p.Title
	}
	if p.Body != nil {
		bodyChanged = *p.Body != u.Body
		u.Body = *p.Body
	}
	if p.ContentTypes != nil {
		u.ContentTypes = slices.Clone(*p.ContentTypes)
	}
	if p.Tags != nil {
		u.Tags = slices.Clone(*p.Tags)
	}
	if p.SourceBook != nil {
		u.SourceBook = *p.SourceBook
	}
	if p.SectionID != nil {
		u.SectionID = *p.SectionID
	}
	if p.PageRange != nil {
		u.PageRange = *p.PageRange
	}
	return bodyChanged
}

// ContentStats summarises the store contents.
type ContentStats struct {
	Total         int
	BySourceBook  map[string]int
	ByContentType map[string]int
}

// Span is a run of extracted text with the layout attributes the
// extraction collaborator reports for it.
type Span struct {
	Text string

	// Size is the font size in points, zero when unknown.
	Size float64

	// Color is a hex color such as "#7f1d1d", empty when unknown.
	Color string

	// Page is the 1-based page number, zero when unknown.
	Page int

	// Level is the markdown heading level (1-6), zero for body text.
	Level int
}
