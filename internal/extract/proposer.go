// Package extract proposes claims from chunk text. Proposers only suggest:
// every candidate carries a verbatim quote, and the engine rejects any
// candidate whose selectors fail to resolve inside the chunk it names.
package extract

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/avolkau/evidentia/internal/model"
)

// Candidate is a proposed claim before grounding and persistence.
type Candidate struct {
	Quote       string
	Selectors   model.AnchorSet
	Modality    model.Modality
	Slots       model.Slots
	Attribution model.Attribution
	Heuristic   string
}

// Proposer suggests claim candidates from one chunk.
type Proposer interface {
	// Name identifies the proposer for claim provenance.
	Name() string

	// Propose returns candidates whose quotes appear verbatim in the chunk.
	Propose(ctx context.Context, chunk model.Chunk) ([]Candidate, error)
}

// SelectorsFor builds document-level selectors for a quote found inside a
// chunk: the chunk's structural path, the quote with surrounding context
// from the chunk text, and absolute rune offsets.
func SelectorsFor(chunk model.Chunk, quote string, contextRunes int) (model.AnchorSet, bool) {
	idx := strings.Index(chunk.Text, quote)
	if idx < 0 {
		return model.AnchorSet{}, false
	}
	runeStart := utf8.RuneCountInString(chunk.Text[:idx])
	runeEnd := runeStart + utf8.RuneCountInString(quote)

	chunkRunes := []rune(chunk.Text)
	prefixFrom := runeStart - contextRunes
	if prefixFrom < 0 {
		prefixFrom = 0
	}
	suffixTo := runeEnd + contextRunes
	if suffixTo > len(chunkRunes) {
		suffixTo = len(chunkRunes)
	}

	selectors := model.AnchorSet{
		Structural: chunk.Anchors.Structural,
		Quote: &model.QuoteSelector{
			Prefix: string(chunkRunes[prefixFrom:runeStart]),
			Exact:  quote,
			Suffix: string(chunkRunes[runeEnd:suffixTo]),
		},
	}
	if chunk.Anchors.Offset != nil {
		selectors.Offset = &model.OffsetSelector{
			Start: chunk.Anchors.Offset.Start + runeStart,
			End:   chunk.Anchors.Offset.Start + runeEnd,
		}
	}
	return selectors, true
}

// splitSentences cuts chunk text into sentences. Terminator followed by
// whitespace, with short and oversized fragments dropped.
func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "\n", " ")

	var sentences []string
	var current strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\t' {
				if s := usableSentence(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := usableSentence(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func usableSentence(s string) string {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	if n < 30 || n > 500 {
		return ""
	}
	return s
}
