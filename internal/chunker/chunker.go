// Package chunker splits document text into overlapping, token-bounded pieces.
package chunker

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/MikeSquared-Agency/surveyor/internal/tokens"
)

const (
	DefaultMaxTokens     = 800
	DefaultOverlapTokens = 50
)

const (
	paragraphSep = "\n\n"
	sentenceSep  = " "
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Piece is one emitted chunk. Oversized marks a single sentence longer than the ceiling
// that could not be split further; it is the only piece allowed to exceed it.
type Piece struct {
	Index     int
	Text      string
	Tokens    int
	Oversized bool
}

// Chunker holds a ceiling and overlap so callers can configure it once.
type Chunker struct {
	maxTokens int
	overlap   int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxTokens sets the per-chunk token ceiling.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithOverlap sets how many trailing tokens of a chunk seed the next one.
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// New returns a Chunker with the defaults (800 tokens, 50 overlap) unless overridden.
func New(opts ...Option) *Chunker {
	c := &Chunker{maxTokens: DefaultMaxTokens, overlap: DefaultOverlapTokens}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxTokens returns the configured ceiling.
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// Chunk splits text with the configured ceiling and overlap.
func (c *Chunker) Chunk(text string) []Piece {
	return Chunk(text, c.maxTokens, c.overlap)
}

// Chunk splits text on paragraph boundaries, falling back to sentence boundaries for
// paragraphs above maxTokens, and packs the units into pieces of at most maxTokens.
// Each new piece starts with the trailing overlapTokens of the previous one when that
// still fits under the ceiling. Empty or whitespace-only input yields no pieces.
func Chunk(text string, maxTokens, overlapTokens int) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens / 4
	}

	b := &builder{maxTokens: maxTokens, overlap: overlapTokens}
	for _, para := range splitParagraphs(text) {
		if tokens.Estimate(para) <= maxTokens {
			b.add(para, paragraphSep)
			continue
		}
		for i, sentence := range splitSentences(para) {
			sep := sentenceSep
			if i == 0 {
				sep = paragraphSep
			}
			b.add(sentence, sep)
		}
	}
	b.flush()
	return b.pieces
}

type builder struct {
	maxTokens int
	overlap   int

	buf    string
	seed   string
	pieces []Piece
}

func (b *builder) add(unit, sep string) {
	if tokens.Estimate(unit) > b.maxTokens {
		b.flush()
		b.emit(unit, true)
		return
	}

	if b.buf == "" {
		b.buf = unit
		if b.seed != "" {
			if seeded := b.seed + sep + unit; tokens.Estimate(seeded) <= b.maxTokens {
				b.buf = seeded
			}
			b.seed = ""
		}
		return
	}

	if candidate := b.buf + sep + unit; tokens.Estimate(candidate) <= b.maxTokens {
		b.buf = candidate
		return
	}

	b.flush()
	b.add(unit, sep)
}

func (b *builder) flush() {
	if b.buf == "" {
		return
	}
	b.emit(b.buf, false)
	b.buf = ""
}

func (b *builder) emit(text string, oversized bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.pieces = append(b.pieces, Piece{
		Index:     len(b.pieces),
		Text:      text,
		Tokens:    tokens.Estimate(text),
		Oversized: oversized,
	})
	b.seed = tokens.Tail(text, b.overlap)
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences cuts after '.', '!' or '?' when followed by whitespace.
func splitSentences(para string) []string {
	var out []string
	runes := []rune(para)
	start := 0
	for i := 0; i < len(runes)-1; i++ {
		switch runes[i] {
		case '.', '!', '?':
			if unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
