package anchor

import (
	"context"
	"strings"
	"time"

	"github.com/avolkau/evidentia/internal/model"
)

// Confidence ladder. Confidence is a monotonic function of how many
// resolution steps succeeded without falling back; the exact constants are
// presentation policy, the ordering is not.
const (
	confidenceClean    = 1.0 // structural and quote agree at the recorded offset
	confidenceDrifted  = 0.9 // structural and quote agree, offset moved
	confidenceFallback = 0.7 // quote search with surrounding context confirmed
	confidenceQuote    = 0.6 // quote search, exact text only
	confidenceOffset   = 0.4 // offset span only, nothing else resolvable
	confidenceBroken   = 0.0
)

// LocateResult is the outcome of re-resolving an anchor set against stored
// content: the recovered span in document-text rune coordinates plus the
// health record describing how the resolution went.
type LocateResult struct {
	Start  int
	End    int
	Health model.AnchorHealth
}

// Locate re-resolves an anchor set against a version's content. Ordered
// fallback: structural selector first, verified against the recorded quote;
// then full-text quote search; then the raw offset span. A timeout during
// the search tiers is reported as a broken anchor, not an error. Broken
// anchors are data the caller must surface.
func (e *Engine) Locate(ctx context.Context, digest string, content []byte, contentType string, anchors model.AnchorSet) LocateResult {
	health := model.AnchorHealth{CheckedAt: time.Now().UTC()}

	doc, err := e.documentFor(digest, content, contentType)
	if err != nil {
		// Content the engine cannot segment (binary formats carrying
		// region selectors) cannot be re-verified locally.
		health.AnchorBroken = true
		health.Confidence = confidenceBroken
		return LocateResult{Health: health}
	}

	// Tier 1: structural resolution, verified against the recorded quote.
	if anchors.Structural != nil && anchors.Quote != nil {
		if b, ok := doc.blockAt(anchors.Structural.Path); ok {
			if rel := runeIndex(b.Text, anchors.Quote.Exact); rel >= 0 {
				start := b.Start + rel
				end := start + len([]rune(anchors.Quote.Exact))
				health.Locatable = true
				if anchors.Offset != nil && anchors.Offset.Start != start {
					health.DriftDetected = true
					health.Confidence = confidenceDrifted
				} else {
					health.Confidence = confidenceClean
				}
				return LocateResult{Start: start, End: end, Health: health}
			}
			// Structural path resolved but the text there no longer
			// matches the recorded quote.
			health.DriftDetected = true
		}
	}

	if err := ctx.Err(); err != nil {
		health.FallbackUsed = true
		health.AnchorBroken = true
		health.Confidence = confidenceBroken
		return LocateResult{Health: health}
	}

	// Tier 2: full-text quote search.
	if anchors.Quote != nil && anchors.Quote.Exact != "" {
		health.FallbackUsed = true
		start, contextMatched, timedOut := searchQuote(ctx, doc.Text, *anchors.Quote)
		if timedOut {
			health.AnchorBroken = true
			health.Confidence = confidenceBroken
			return LocateResult{Health: health}
		}
		if start >= 0 {
			end := start + len([]rune(anchors.Quote.Exact))
			health.Locatable = true
			health.DriftDetected = true
			if contextMatched {
				health.Confidence = confidenceFallback
			} else {
				health.Confidence = confidenceQuote
			}
			return LocateResult{Start: start, End: end, Health: health}
		}
	}

	// Tier 3: raw offset span, the weakest evidence of location.
	if anchors.Offset != nil {
		health.FallbackUsed = true
		docLen := len([]rune(doc.Text))
		if anchors.Offset.Start >= 0 && anchors.Offset.End <= docLen && anchors.Offset.Start < anchors.Offset.End {
			health.Locatable = true
			health.DriftDetected = true
			health.Confidence = confidenceOffset
			return LocateResult{Start: anchors.Offset.Start, End: anchors.Offset.End, Health: health}
		}
	}

	health.AnchorBroken = true
	health.Confidence = confidenceBroken
	return LocateResult{Health: health}
}

// Resolves reports whether claim selectors resolve against the chunk they
// claim to be grounded in: the claimed quote must be recoverable without
// breaking, and it must land inside the chunk's own span. This is the write
// time grounding check for record_claim.
func (e *Engine) Resolves(ctx context.Context, digest string, content []byte, contentType string, chunk model.Chunk, selectors model.AnchorSet) bool {
	if selectors.Quote == nil || selectors.Quote.Exact == "" {
		return false
	}
	result := e.Locate(ctx, digest, content, contentType, selectors)
	if result.Health.AnchorBroken || !result.Health.Locatable {
		return false
	}
	if chunk.Anchors.Offset != nil {
		return result.Start >= chunk.Anchors.Offset.Start && result.End <= chunk.Anchors.Offset.End
	}
	// Without chunk offsets, fall back to direct containment.
	return strings.Contains(chunk.Text, selectors.Quote.Exact)
}

// searchQuote finds the recorded quote in the document text, preferring an
// occurrence whose surrounding context matches the selector's prefix and
// suffix. Returns (-1, false, false) when absent. The scan checks the
// context's deadline between candidates so a caller-supplied timeout aborts
// a pathological search.
func searchQuote(ctx context.Context, text string, quote model.QuoteSelector) (start int, contextMatched, timedOut bool) {
	textRunes := []rune(text)
	exactRunes := []rune(quote.Exact)

	first := -1
	for i := 0; i+len(exactRunes) <= len(textRunes); i++ {
		if i%4096 == 0 && ctx.Err() != nil {
			return -1, false, true
		}
		if string(textRunes[i:i+len(exactRunes)]) != quote.Exact {
			continue
		}
		if first < 0 {
			first = i
		}
		if contextMatches(textRunes, i, i+len(exactRunes), quote) {
			return i, true, false
		}
	}
	if first >= 0 {
		return first, false, false
	}
	return -1, false, false
}

// contextMatches checks the prefix/suffix context around a candidate match.
// Empty context fields match anything.
func contextMatches(textRunes []rune, start, end int, quote model.QuoteSelector) bool {
	if quote.Prefix != "" {
		before := string(textRunes[maxInt(0, start-len([]rune(quote.Prefix))):start])
		if !strings.HasSuffix(before, quote.Prefix) && !strings.HasSuffix(quote.Prefix, before) {
			return false
		}
	}
	if quote.Suffix != "" {
		after := string(textRunes[end:minInt(len(textRunes), end+len([]rune(quote.Suffix)))])
		if !strings.HasPrefix(after, quote.Suffix) && !strings.HasPrefix(quote.Suffix, after) {
			return false
		}
	}
	return true
}

// runeIndex returns the rune offset of needle in haystack, or -1.
func runeIndex(haystack, needle string) int {
	byteIdx := strings.Index(haystack, needle)
	if byteIdx < 0 {
		return -1
	}
	return len([]rune(haystack[:byteIdx]))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
