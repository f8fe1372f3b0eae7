// Package chunker splits oversized text into ordered, boundary-aligned chunks.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxSize is the default chunk budget in bytes.
const DefaultMaxSize = 32000

var (
	// paragraphBreak matches a whitespace run holding at least one blank line.
	paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n\s*`)

	// sentenceBreak matches sentence punctuation, optional closing quotes or
	// brackets, and the whitespace that follows.
	sentenceBreak = regexp.MustCompile(`[.!?]["'”’)\]]*\s+`)
)

// Processor splits text at paragraph boundaries, then sentence boundaries,
// and only cuts hard where a piece has no boundary at all.
//
// Chunks keep their trailing whitespace, so concatenating them in order
// reconstructs the input exactly.
type Processor struct {
	maxSize int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithMaxSize sets the chunk budget in bytes.
func WithMaxSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.maxSize = size
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		maxSize: DefaultMaxSize,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// MaxSize returns the chunk budget.
func (p *Processor) MaxSize() int {
	return p.maxSize
}

// NeedsSplit reports whether text exceeds the budget.
func (p *Processor) NeedsSplit(text string) bool {
	return len(text) > p.maxSize
}

// Split returns the ordered chunks of text. Text within the budget is returned
// as a single chunk. No chunk exceeds the budget except a single sentence that
// is itself longer, which is emitted whole rather than truncated.
func (p *Processor) Split(text string) []string {
	if !p.NeedsSplit(text) {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	add := func(seg string) {
		if cur.Len()+len(seg) > p.maxSize {
			flush()
		}
		if len(seg) > p.maxSize {
			chunks = append(chunks, seg)
			return
		}
		cur.WriteString(seg)
	}

	for _, para := range splitAfter(text, paragraphBreak) {
		if len(para) <= p.maxSize {
			add(para)
			continue
		}
		for _, sentence := range splitAfter(para, sentenceBreak) {
			if len(sentence) <= p.maxSize || isSentence(sentence) {
				add(sentence)
				continue
			}
			for _, piece := range p.hardCut(sentence) {
				add(piece)
			}
		}
	}
	flush()

	return chunks
}

// splitAfter cuts s after every match of re, keeping the separators.
func splitAfter(s string, re *regexp.Regexp) []string {
	var parts []string
	start := 0
	for _, loc := range re.FindAllStringIndex(s, -1) {
		if loc[1] > start {
			parts = append(parts, s[start:loc[1]])
			start = loc[1]
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// isSentence reports whether s ends with sentence punctuation.
func isSentence(s string) bool {
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(`"'”’)]`, r)
	})
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}

// hardCut splits s into pieces within the budget, preferring whitespace and
// never splitting a UTF-8 sequence.
func (p *Processor) hardCut(s string) []string {
	var pieces []string
	for len(s) > p.maxSize {
		cut := p.maxSize
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if ws := strings.LastIndexFunc(s[:cut], unicode.IsSpace); ws > 0 {
			_, size := utf8.DecodeRuneInString(s[ws:])
			cut = ws + size
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(s)
		}
		pieces = append(pieces, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		pieces = append(pieces, s)
	}
	return pieces
}
