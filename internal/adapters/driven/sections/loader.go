// Package sections loads extracted document sections from markdown files.
//
// Each file holds one section. An optional YAML front matter block carries
// metadata and the layout spans reported by the extraction step:
//
//	---
//	title: Grappling
//	section_id: "12"
//	source_book: players_book
//	content_types: [procedure]
//	spans:
//	  - {text: Grappling, size: 18, color: "#7f1d1d", page: 41}
//	---
//	# Grappling
//	...
//
// Files without front matter fall back to the conventions of the extraction
// output: the first heading is the title, "**Pages:**" and "**Section ID:**"
// lines carry the page range and section id, and file names follow
// <book>_section_<id>.md.
package sections

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
	"github.com/custodia-labs/lorekeep/internal/logger"
)

// Defaults applied when a file does not say otherwise.
const (
	DefaultPattern    = "*_section_*.md"
	DefaultTitle      = "Unknown Section"
	DefaultSourceBook = "unknown"

	sectionMarker = "_section_"
)

// ErrEmpty is returned for files with no content.
var ErrEmpty = errors.New("empty section file")

// namespace scopes the name-based unit IDs.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("lorekeep:section"))

var (
	pagesLine   = regexp.MustCompile(`(?m)^\*\*Pages:\*\*\s*(\d+(?:-\d+)?)`)
	sectionLine = regexp.MustCompile(`(?m)^\*\*Section ID:\*\*\s*(\S+)`)
)

type frontMatter struct {
	Title        string     `yaml:"title"`
	SectionID    string     `yaml:"section_id"`
	SourceBook   string     `yaml:"source_book"`
	SourceType   string     `yaml:"source_type"`
	PageRange    string     `yaml:"page_range"`
	ContentTypes []string   `yaml:"content_types"`
	Tags         []string   `yaml:"tags"`
	Spans        []spanMeta `yaml:"spans"`
}

type spanMeta struct {
	Text  string  `yaml:"text"`
	Size  float64 `yaml:"size"`
	Color string  `yaml:"color"`
	Page  int     `yaml:"page"`
}

// Loader reads section files into content units.
type Loader struct {
	pattern    string
	sourceType string
	header     driven.SpanClassifier

	mu  sync.Mutex
	ids map[string]string // path -> unit ID of the last load
}

// Option configures the loader.
type Option func(*Loader)

// WithPattern sets the file name glob used by LoadDir and Watch.
func WithPattern(pattern string) Option {
	return func(l *Loader) {
		if pattern != "" {
			l.pattern = pattern
		}
	}
}

// WithDefaultSourceType sets the source type of files that do not declare one.
func WithDefaultSourceType(sourceType string) Option {
	return func(l *Loader) {
		l.sourceType = sourceType
	}
}

// WithHeaderClassifier sets the classifier that picks the title span.
func WithHeaderClassifier(c driven.SpanClassifier) Option {
	return func(l *Loader) {
		l.header = c
	}
}

// NewLoader creates a loader with the given options.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		pattern: DefaultPattern,
		ids:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Pattern returns the file name glob.
func (l *Loader) Pattern() string {
	return l.pattern
}

// Matches reports whether path names a section file.
func (l *Loader) Matches(path string) bool {
	ok, err := filepath.Match(l.pattern, filepath.Base(path))
	return err == nil && ok && !isHidden(filepath.Base(path))
}

// LoadDir loads every matching file under dir in lexical order. Files that
// fail to load are skipped and reported in the joined error; empty files
// are skipped silently.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]domain.ContentUnit, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("root path error: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path error: %s is not a directory", dir)
	}

	var units []domain.ContentUnit
	var errs []error
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != dir && isHidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !l.Matches(path) {
			return nil
		}

		unit, err := l.LoadFile(path)
		switch {
		case errors.Is(err, ErrEmpty):
			logger.Debug("Skipping empty section file %s", path)
		case err != nil:
			errs = append(errs, err)
		default:
			units = append(units, *unit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded %d section(s) from %s", len(units), dir)
	return units, errors.Join(errs...)
}

// LoadFile reads and parses one section file.
func (l *Loader) LoadFile(path string) (*domain.ContentUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	unit, err := l.Parse(path, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	l.mu.Lock()
	l.ids[path] = unit.ID
	l.mu.Unlock()
	return unit, nil
}

// LoadedID returns the unit ID last loaded from path.
func (l *Loader) LoadedID(path string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.ids[path]
	return id, ok
}

// Parse builds a unit from the contents of a section file.
func (l *Loader) Parse(path string, data []byte) (*domain.ContentUnit, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	var fm frontMatter
	if rest, block, ok := splitFrontMatter(text); ok {
		if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
			return nil, fmt.Errorf("parsing front matter: %w", err)
		}
		text = rest
	}

	body := strings.TrimSpace(text)
	if body == "" {
		return nil, ErrEmpty
	}

	book, section, marked := nameParts(path)
	declared := firstOf(fm.SectionID, submatch(sectionLine, body))
	if marked {
		declared = firstOf(declared, section)
	}
	unit := &domain.ContentUnit{
		Title:        l.title(fm, body),
		Body:         body,
		SourceType:   firstOf(fm.SourceType, l.sourceType),
		SourceBook:   firstOf(fm.SourceBook, book, DefaultSourceBook),
		SectionID:    firstOf(declared, section),
		ContentTypes: fm.ContentTypes,
		Tags:         fm.Tags,
		PageRange:    firstOf(fm.PageRange, submatch(pagesLine, body), spanPages(fm.Spans)),
		FilePath:     path,
	}
	// A bare file stem is not unique across directories, so only a declared
	// section id keys the unit; anything else is keyed by its path.
	unit.ID = UnitID(unit.SourceBook, declared, path)
	return unit, nil
}

// UnitID derives a stable ID so reloading a section replaces it in place.
// The section id is used when known, the absolute file path otherwise.
func UnitID(sourceBook, sectionID, path string) string {
	key := sourceBook + "/" + sectionID
	if sectionID == "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		key = "path:" + filepath.Clean(path)
	}
	return uuid.NewSHA1(namespace, []byte(key)).String()
}

// title picks the first header span, then the first heading line.
func (l *Loader) title(fm frontMatter, body string) string {
	if t := strings.TrimSpace(fm.Title); t != "" {
		return t
	}
	if l.header != nil {
		for _, s := range fm.Spans {
			span := domain.Span{Text: s.Text, Size: s.Size, Color: s.Color, Page: s.Page}
			if _, ok := l.header.Classify(span); ok {
				if t := strings.TrimSpace(s.Text); t != "" {
					return t
				}
			}
		}
	}
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "#") {
			if t := strings.TrimSpace(strings.TrimLeft(line, "#")); t != "" {
				return t
			}
		}
	}
	return DefaultTitle
}

// splitFrontMatter separates a leading "---" delimited block from the rest.
func splitFrontMatter(text string) (rest, block string, ok bool) {
	if !strings.HasPrefix(text, "---\n") {
		return text, "", false
	}
	inner := text[len("---\n"):]
	if strings.HasPrefix(inner, "---\n") || inner == "---" {
		return strings.TrimPrefix(inner, "---"), "", true
	}
	end := strings.Index(inner, "\n---")
	if end < 0 {
		return text, "", false
	}
	after := inner[end+len("\n---"):]
	if after != "" && !strings.HasPrefix(after, "\n") {
		return text, "", false
	}
	return after, inner[:end], true
}

// nameParts splits <book>_section_<id>.md into book and id. Other names
// yield their stem as the id and marked is false.
func nameParts(path string) (book, section string, marked bool) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if i := strings.Index(stem, sectionMarker); i >= 0 {
		return stem[:i], stem[i+len(sectionMarker):], true
	}
	return "", stem, false
}

// spanPages formats the page span covered by spans, e.g. "10-12".
func spanPages(spans []spanMeta) string {
	lo, hi := 0, 0
	for _, s := range spans {
		if s.Page <= 0 {
			continue
		}
		if lo == 0 || s.Page < lo {
			lo = s.Page
		}
		hi = max(hi, s.Page)
	}
	switch {
	case lo == 0:
		return ""
	case lo == hi:
		return strconv.Itoa(lo)
	default:
		return fmt.Sprintf("%d-%d", lo, hi)
	}
}

func submatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// isHidden reports whether any element of path starts with a dot.
// "." and ".." are not hidden.
func isHidden(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return true
		}
	}
	return false
}
