package anchor

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/avolkau/evidentia/internal/keys"
	"github.com/avolkau/evidentia/internal/model"
)

// Engine chunks content versions and re-resolves anchor sets against them.
type Engine struct {
	cfg  model.AnchorConfig
	log  *slog.Logger
	docs *gocache.Cache // content digest -> *document
}

// New creates an anchor engine.
func New(cfg model.AnchorConfig, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	ttl := cfg.TextCacheTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Engine{
		cfg:  cfg,
		log:  log,
		docs: gocache.New(ttl, ttl),
	}
}

// documentFor returns the extracted form of a version's content. Extraction
// is a pure function of the bytes, so the result is cached under the content
// digest and is always safe to drop.
func (e *Engine) documentFor(digest string, content []byte, contentType string) (*document, error) {
	if cached, found := e.docs.Get(digest); found {
		return cached.(*document), nil
	}
	doc, err := extractDocument(content, contentType)
	if err != nil {
		return nil, err
	}
	e.docs.Set(digest, doc, gocache.DefaultExpiration)
	return doc, nil
}

// Chunk segments a version's content deterministically: the same bytes under
// the same policy version always yield the same boundaries, anchor sets, and
// chunk keys. Every chunk carries at least three independent selector kinds
// (structural path, contextual quote, rune offsets), satisfying the
// redundancy invariant.
func (e *Engine) Chunk(version model.ArtifactVersion, content []byte) ([]model.Chunk, error) {
	doc, err := e.documentFor(version.ContentDigest, content, version.ContentType)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", version.Key, err)
	}

	docRunes := []rune(doc.Text)
	var chunks []model.Chunk
	seq := 0
	for _, b := range doc.Blocks {
		for _, span := range splitBlock(b, e.cfg.MaxChunkRunes) {
			text := span.Text
			if len([]rune(text)) < e.cfg.MinChunkRunes {
				continue
			}

			anchors := model.AnchorSet{
				Structural: &model.StructuralSelector{Path: b.Path},
				Quote: &model.QuoteSelector{
					Prefix: contextBefore(docRunes, span.Start, e.cfg.ContextRunes),
					Exact:  text,
					Suffix: contextAfter(docRunes, span.End, e.cfg.ContextRunes),
				},
				Offset: &model.OffsetSelector{Start: span.Start, End: span.End},
			}

			key, err := keys.DeriveChunkKey(version.Key, anchors.Fingerprint(), keys.QuoteDigest(text))
			if err != nil {
				return nil, err
			}

			chunks = append(chunks, model.Chunk{
				Key:        key,
				VersionKey: version.Key,
				Seq:        seq,
				Text:       text,
				Anchors:    anchors,
				Health: model.AnchorHealth{
					Locatable:  true,
					Confidence: confidenceClean,
				},
				PolicyVersion: e.cfg.PolicyVersion,
			})
			seq++
		}
	}

	e.log.Debug("chunked version", "version", version.Key, "blocks", len(doc.Blocks), "chunks", len(chunks))
	return chunks, nil
}

// span is a piece of a block in document-text rune coordinates.
type span struct {
	Text  string
	Start int
	End   int
}

// splitBlock cuts an over-long block into sentence-aligned pieces no longer
// than maxRunes. Most paragraphs fit in one piece.
func splitBlock(b block, maxRunes int) []span {
	runes := []rune(b.Text)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return []span{{Text: b.Text, Start: b.Start, End: b.End}}
	}

	var spans []span
	pieceStart := 0
	for pieceStart < len(runes) {
		end := pieceStart + maxRunes
		if end >= len(runes) {
			end = len(runes)
		} else {
			// Back up to the last sentence terminator in the window.
			cut := -1
			for i := end - 1; i > pieceStart; i-- {
				if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
					cut = i + 1
					break
				}
			}
			if cut > pieceStart {
				end = cut
			}
		}
		piece := string(runes[pieceStart:end])
		trimmed := strings.TrimSpace(piece)
		if trimmed != "" {
			leading := len([]rune(piece)) - len([]rune(strings.TrimLeft(piece, " ")))
			start := b.Start + pieceStart + leading
			spans = append(spans, span{
				Text:  trimmed,
				Start: start,
				End:   start + len([]rune(trimmed)),
			})
		}
		pieceStart = end
	}
	return spans
}

// contextBefore returns up to n runes of document text preceding offset.
func contextBefore(docRunes []rune, offset, n int) string {
	if offset <= 0 || n <= 0 {
		return ""
	}
	start := offset - n
	if start < 0 {
		start = 0
	}
	return string(docRunes[start:offset])
}

// contextAfter returns up to n runes of document text following offset.
func contextAfter(docRunes []rune, offset, n int) string {
	if offset >= len(docRunes) || n <= 0 {
		return ""
	}
	end := offset + n
	if end > len(docRunes) {
		end = len(docRunes)
	}
	return string(docRunes[offset:end])
}
