// Package chunker splits raw corpus text into bounded, overlapping chunks
// suitable for embedding.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 50
	DefaultMaxBytes     = 32000
)

// Splitter wraps a recursive character splitter and guarantees that no
// emitted chunk exceeds MaxBytes of UTF-8.
type Splitter struct {
	splitter textsplitter.TextSplitter
	maxBytes int
}

// New builds a Splitter. Non-positive arguments take the package defaults.
func New(chunkSize, chunkOverlap, maxBytes int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Splitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
		maxBytes: maxBytes,
	}
}

// MaxBytes reports the byte ceiling applied to every chunk.
func (s *Splitter) MaxBytes() int { return s.maxBytes }

// Split breaks text into chunks. Empty or whitespace-only chunks are dropped.
func (s *Splitter) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	raw, err := s.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}

	out := make([]string, 0, len(raw))
	for _, chunk := range raw {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		out = append(out, EnforceByteCeiling(chunk, s.maxBytes)...)
	}
	return out, nil
}

// EnforceByteCeiling cuts chunk into pieces of at most maxBytes bytes,
// never splitting a multi-byte rune. Cuts prefer the last whitespace in the
// back half of each window.
func EnforceByteCeiling(chunk string, maxBytes int) []string {
	if maxBytes <= 0 || len(chunk) <= maxBytes {
		return []string{chunk}
	}

	var pieces []string
	rest := chunk
	for len(rest) > maxBytes {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(rest[cut]) {
			cut--
		}
		if cut == 0 {
			// maxBytes is smaller than a single rune; emit the rune alone.
			_, size := utf8.DecodeRuneInString(rest)
			cut = size
		} else if ws := strings.LastIndexAny(rest[:cut], " \n\t"); ws >= cut/2 {
			cut = ws + 1
		}
		if piece := strings.TrimSpace(rest[:cut]); piece != "" {
			pieces = append(pieces, piece)
		}
		rest = rest[cut:]
	}
	if strings.TrimSpace(rest) != "" {
		pieces = append(pieces, strings.TrimSpace(rest))
	}
	return pieces
}
