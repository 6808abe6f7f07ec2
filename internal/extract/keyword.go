package extract

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/avolkau/evidentia/internal/model"
)

// KeywordProposer proposes claims by keyword matching over sentences. Cheap,
// deterministic, and deliberately over-eager: grounding and fusion filter
// downstream.
type KeywordProposer struct {
	keywords     []string
	contextRunes int
}

// NewKeywordProposer creates the built-in heuristic proposer.
func NewKeywordProposer(cfg model.AnchorConfig) *KeywordProposer {
	return &KeywordProposer{
		keywords: []string{
			"signed", "ratified", "announced", "confirmed", "declared",
			"founded", "established", "created", "launched", "appointed",
			"according to", "reportedly", "allegedly", "denied", "disputed",
			"was born", "died", "elected", "resigned", "acquired",
		},
		contextRunes: cfg.ContextRunes,
	}
}

// Name identifies this proposer in claim provenance.
func (p *KeywordProposer) Name() string {
	return "keyword"
}

// Propose scans sentences for claim-bearing keywords. One candidate per
// sentence at most; the first matching keyword wins.
func (p *KeywordProposer) Propose(_ context.Context, chunk model.Chunk) ([]Candidate, error) {
	var candidates []Candidate
	seen := map[string]bool{}

	for _, sentence := range splitSentences(chunk.Text) {
		lower := strings.ToLower(sentence)
		for _, keyword := range p.keywords {
			if !strings.Contains(lower, keyword) {
				continue
			}
			dedupe := strings.ToLower(strings.TrimSpace(sentence))
			if seen[dedupe] {
				break
			}
			seen[dedupe] = true

			selectors, ok := SelectorsFor(chunk, sentence, p.contextRunes)
			if !ok {
				break
			}
			candidates = append(candidates, Candidate{
				Quote:       sentence,
				Selectors:   selectors,
				Modality:    modalityFor(lower),
				Slots:       slotsFor(sentence),
				Attribution: attributionFor(sentence),
				Heuristic:   "keyword:" + keyword,
			})
			break
		}
	}
	return candidates, nil
}

// modalityFor reads the source's own framing from hedging and denial cues.
func modalityFor(lower string) model.Modality {
	switch {
	case strings.Contains(lower, "denied") || strings.Contains(lower, "denies"):
		return model.ModalityDenied
	case strings.Contains(lower, "allegedly") || strings.Contains(lower, "reportedly") ||
		strings.Contains(lower, "according to") || strings.Contains(lower, "claimed"):
		return model.ModalityAlleged
	case strings.Contains(lower, "likely") || strings.Contains(lower, "probably") ||
		strings.Contains(lower, "expected") || strings.Contains(lower, "appears"):
		return model.ModalityLikely
	case strings.Contains(lower, "confirmed") || strings.Contains(lower, "announced") ||
		strings.Contains(lower, "signed") || strings.Contains(lower, "ratified") ||
		strings.Contains(lower, "declared") || strings.Contains(lower, "established"):
		return model.ModalityConfirmed
	default:
		return model.ModalityUnknown
	}
}

var (
	eventPattern = regexp.MustCompile(
		`(?i)^(?:the\s+)?(.{3,80}?)\s+(?:was|were|is|are)\s+` +
			`(signed|ratified|founded|established|created|launched|announced|confirmed|elected|born)\s+` +
			`(?:on|in|at|by)\s+(.{3,120}?)[.,]`)
	datePattern = regexp.MustCompile(
		`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2},\s+\d{4}\b|\b\d{4}\b`)
	speakerPattern = regexp.MustCompile(`(?i)according to\s+(?:the\s+)?(.{3,60}?)[,.]`)
)

// slotsFor attempts a structured projection of one sentence. A single
// passive-voice event pattern, enough for simple announcements; everything
// else stays an unstructured quote.
func slotsFor(sentence string) model.Slots {
	m := eventPattern.FindStringSubmatch(sentence)
	if m == nil {
		return model.Slots{}
	}
	slots := model.Slots{
		Subject:   strings.TrimSpace(m[1]),
		Predicate: strings.ToLower(m[2]),
		Object:    strings.TrimSpace(m[3]),
	}
	if date := datePattern.FindString(sentence); date != "" {
		slots.Time = parseTimeRange(date)
	}
	return slots
}

func attributionFor(sentence string) model.Attribution {
	m := speakerPattern.FindStringSubmatch(sentence)
	if m == nil {
		return model.Attribution{}
	}
	return model.Attribution{
		Speaker:  strings.TrimSpace(m[1]),
		Reported: true,
	}
}

// parseTimeRange turns a matched date string into a range. A bare year spans
// the whole year; a full date is an instant.
func parseTimeRange(date string) model.TimeRange {
	if t, err := time.Parse("January 2, 2006", date); err == nil {
		return model.TimeRange{Start: t}
	}
	if t, err := time.Parse("2006", date); err == nil {
		return model.TimeRange{
			Start:       t,
			End:         t.AddDate(1, 0, 0).Add(-time.Nanosecond),
			Approximate: true,
		}
	}
	return model.TimeRange{}
}
