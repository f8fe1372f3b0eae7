package domain

import "strings"

// Result limits shared by every query path.
const (
	DefaultSearchLimit = 5
	MaxSearchLimit     = 20
)

// ClampLimit applies the default to a non-positive limit and caps it at max.
// Requests above the ceiling are clamped, never rejected.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

// Filters narrows a search to matching units. Empty fields do not filter.
// Fields are AND-combined; values within a field are alternatives.
type Filters struct {
	SourceTypes  []string
	ContentTypes []string
	SourceBooks  []string
}

// IsEmpty reports whether no filter is set.
func (f Filters) IsEmpty() bool {
	return len(f.SourceTypes) == 0 && len(f.ContentTypes) == 0 && len(f.SourceBooks) == 0
}

// Match reports whether the unit satisfies every set filter.
func (f Filters) Match(u *ContentUnit) bool {
	if len(f.SourceTypes) > 0 && !contains(f.SourceTypes, u.SourceType) {
		return false
	}
	if len(f.SourceBooks) > 0 && !contains(f.SourceBooks, u.SourceBook) {
		return false
	}
	if len(f.ContentTypes) > 0 && !u.HasAnyContentType(f.ContentTypes) {
		return false
	}
	return true
}

// SearchResult is one ranked hit of a similarity search.
type SearchResult struct {
	Unit ContentUnit

	// Distance is the cosine distance to the query, 0 for identical direction.
	Distance float64
}

// Score returns the cosine similarity implied by Distance.
func (r SearchResult) Score() float64 {
	return 1 - r.Distance
}

// ContentLocator addresses units for exact lookup.
// Exactly one of ID, SectionID and Title must be set.
type ContentLocator struct {
	ID        string
	SectionID string
	Title     string

	// ExactMatch restricts title lookups to exact matches.
	ExactMatch bool

	// SourceBook optionally restricts section and title lookups.
	SourceBook string

	// Limit bounds title lookups.
	Limit int
}

// Validate enforces the one-locator rule.
func (l ContentLocator) Validate() error {
	set := 0
	for _, v := range []string{l.ID, l.SectionID, l.Title} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	switch set {
	case 0:
		return NewValidationError("locator", "one of id, section_id or title is required")
	case 1:
		return nil
	default:
		return NewValidationError("locator", "only one of id, section_id or title may be given")
	}
}

// Kind names the locator in use, for messages.
func (l ContentLocator) Kind() (string, string) {
	switch {
	case l.ID != "":
		return "ID", l.ID
	case l.SectionID != "":
		return "section ID", l.SectionID
	default:
		return "title", l.Title
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
