package anchor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/avolkau/evidentia/internal/keys"
	"github.com/avolkau/evidentia/internal/model"
)

const testHTML = `
<html>
<body>
	<h1>Border Treaty</h1>
	<p>The treaty was signed in Guadalupe Hidalgo on February 2, 1848, ending the war.</p>
	<p>According to archival records, the ratification followed three months later in May.</p>
	<script>ignore_me();</script>
	<p>Short.</p>
</body>
</html>
`

func testEngine() *Engine {
	return New(model.AnchorConfig{
		PolicyVersion: "chunk:v1",
		MinChunkRunes: 10,
		MaxChunkRunes: 2000,
		ContextRunes:  32,
		LocateTimeout: 5 * time.Second,
		TextCacheTTL:  time.Minute,
		Revalidators:  2,
	}, nil)
}

func testVersion(content []byte) model.ArtifactVersion {
	digest, _ := keys.ContentDigest(content)
	versionKey, _ := keys.DeriveVersionKey(digest, "")
	return model.ArtifactVersion{
		Key:           versionKey,
		ContentDigest: digest,
		ContentType:   "text/html",
	}
}

func TestChunkDeterministic(t *testing.T) {
	e := testEngine()
	content := []byte(testHTML)
	version := testVersion(content)

	first, err := e.Chunk(version, content)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := e.Chunk(version, content)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Key != second[i].Key {
			t.Errorf("chunk %d key differs across runs", i)
		}
	}

	// The headline and two long paragraphs survive; the short one is
	// filtered by the minimum length policy.
	if len(first) != 3 {
		t.Errorf("expected 3 chunks, got %d", len(first))
	}
	for _, chunk := range first {
		if chunk.Anchors.SelectorCount() < 2 {
			t.Errorf("chunk %s has %d selector kinds, want >= 2", chunk.Key, chunk.Anchors.SelectorCount())
		}
		if strings.Contains(chunk.Text, "ignore_me") {
			t.Error("script content leaked into a chunk")
		}
	}
}

func TestChunkPlainText(t *testing.T) {
	e := testEngine()
	content := []byte("First paragraph of the report, long enough to keep.\n\nSecond paragraph,\nstill the same block across lines.\n")
	version := testVersion(content)
	version.ContentType = "text/plain"

	chunks, err := e.Chunk(version, content)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Anchors.Structural.Path, "lines:") {
		t.Errorf("expected line-range structural path, got %s", chunks[0].Anchors.Structural.Path)
	}
	if chunks[1].Text != "Second paragraph, still the same block across lines." {
		t.Errorf("unexpected second chunk text: %q", chunks[1].Text)
	}
}

func TestChunkUnsupportedContentType(t *testing.T) {
	e := testEngine()
	content := []byte{0x25, 0x50, 0x44, 0x46}
	version := testVersion(content)
	version.ContentType = "application/pdf"

	if _, err := e.Chunk(version, content); err == nil {
		t.Error("expected error for unsegmentable content type")
	}
}

// Anchor round-trip: freshly chunked content must locate cleanly.
func TestLocateRoundTrip(t *testing.T) {
	e := testEngine()
	content := []byte(testHTML)
	version := testVersion(content)

	chunks, err := e.Chunk(version, content)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, chunk := range chunks {
		result := e.Locate(context.Background(), version.ContentDigest, content, version.ContentType, chunk.Anchors)
		if result.Health.AnchorBroken {
			t.Errorf("chunk %s: anchor broken on unchanged content", chunk.Key)
		}
		if result.Health.DriftDetected {
			t.Errorf("chunk %s: drift detected on unchanged content", chunk.Key)
		}
		if result.Health.FallbackUsed {
			t.Errorf("chunk %s: fallback used on unchanged content", chunk.Key)
		}
		if result.Health.Confidence != confidenceClean {
			t.Errorf("chunk %s: confidence %v, want %v", chunk.Key, result.Health.Confidence, confidenceClean)
		}
		if result.Start != chunk.Anchors.Offset.Start || result.End != chunk.Anchors.Offset.End {
			t.Errorf("chunk %s: span (%d,%d) does not match recorded offsets (%d,%d)",
				chunk.Key, result.Start, result.End, chunk.Anchors.Offset.Start, chunk.Anchors.Offset.End)
		}
	}
}

// A re-render that inserts a new paragraph shifts both sibling indices and
// offsets: structural resolution lands on the wrong block, quote search must
// recover the text.
func TestLocateDriftRecovery(t *testing.T) {
	e := testEngine()
	original := []byte(testHTML)
	version := testVersion(original)

	chunks, err := e.Chunk(version, original)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	mutated := []byte(strings.Replace(testHTML,
		"<p>The treaty",
		"<p>An editorial note inserted by a later revision of this page.</p>\n\t<p>The treaty",
		1))
	mutatedDigest, _ := keys.ContentDigest(mutated)

	// The treaty paragraph was chunk [1] (after the h1); its structural
	// path now points at the editorial note.
	target := chunks[1]
	if !strings.Contains(target.Text, "treaty") {
		t.Fatalf("unexpected chunk layout: %q", target.Text)
	}

	result := e.Locate(context.Background(), mutatedDigest, mutated, version.ContentType, target.Anchors)
	if !result.Health.DriftDetected {
		t.Error("expected drift_detected=true")
	}
	if !result.Health.FallbackUsed {
		t.Error("expected fallback_used=true")
	}
	if result.Health.AnchorBroken {
		t.Error("expected anchor_broken=false: quote search should recover the span")
	}
	if !result.Health.Locatable {
		t.Error("expected locatable=true")
	}
	if result.Health.Confidence >= confidenceClean || result.Health.Confidence <= confidenceBroken {
		t.Errorf("fallback confidence %v must sit strictly between broken and clean", result.Health.Confidence)
	}
}

func TestLocateBrokenAnchor(t *testing.T) {
	e := testEngine()
	content := []byte(testHTML)
	digest, _ := keys.ContentDigest(content)

	anchors := model.AnchorSet{
		Structural: &model.StructuralSelector{Path: "html[1]/body[1]/p[9]"},
		Quote:      &model.QuoteSelector{Exact: "text that was never on this page"},
	}

	result := e.Locate(context.Background(), digest, content, "text/html", anchors)
	if !result.Health.AnchorBroken {
		t.Error("expected anchor_broken=true")
	}
	if result.Health.Confidence != confidenceBroken {
		t.Errorf("expected zero confidence, got %v", result.Health.Confidence)
	}
}

func TestLocateTimeoutIsBrokenNotError(t *testing.T) {
	e := testEngine()
	content := []byte(testHTML)
	digest, _ := keys.ContentDigest(content)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	anchors := model.AnchorSet{
		Quote:  &model.QuoteSelector{Exact: "the ratification followed"},
		Offset: &model.OffsetSelector{Start: 0, End: 10},
	}

	result := e.Locate(ctx, digest, content, "text/html", anchors)
	if !result.Health.AnchorBroken {
		t.Error("expected timeout to surface as anchor_broken")
	}
	if !result.Health.FallbackUsed {
		t.Error("expected fallback_used=true on timeout")
	}
}

func TestResolves(t *testing.T) {
	e := testEngine()
	content := []byte(testHTML)
	version := testVersion(content)

	chunks, err := e.Chunk(version, content)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	target := chunks[1]

	good := model.AnchorSet{
		Quote: &model.QuoteSelector{Exact: "signed in Guadalupe Hidalgo"},
	}
	if !e.Resolves(context.Background(), version.ContentDigest, content, version.ContentType, target, good) {
		t.Error("expected in-chunk quote to resolve")
	}

	elsewhere := model.AnchorSet{
		Quote: &model.QuoteSelector{Exact: "the ratification followed three months later"},
	}
	if e.Resolves(context.Background(), version.ContentDigest, content, version.ContentType, target, elsewhere) {
		t.Error("quote from another chunk must not resolve against this chunk")
	}

	if e.Resolves(context.Background(), version.ContentDigest, content, version.ContentType, target, model.AnchorSet{}) {
		t.Error("empty selectors must not resolve")
	}
}

func TestRevalidateAll(t *testing.T) {
	e := testEngine()
	content := []byte(testHTML)
	version := testVersion(content)

	chunks, err := e.Chunk(version, content)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	applied := make(map[string]model.AnchorHealth)
	summary, err := e.RevalidateAll(context.Background(), version, content, chunks,
		func(chunkKey string, health model.AnchorHealth, expectedRevision uint64) error {
			applied[chunkKey] = health
			return nil
		})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if summary.Checked != len(chunks) {
		t.Errorf("checked %d chunks, want %d", summary.Checked, len(chunks))
	}
	if summary.Broken != 0 || summary.Drifted != 0 {
		t.Errorf("unchanged content reported drift/broken: %+v", summary)
	}
	for key, health := range applied {
		if !health.Locatable {
			t.Errorf("chunk %s not locatable after revalidation", key)
		}
	}
}

func TestRevalidateAllSkipsLostCAS(t *testing.T) {
	e := testEngine()
	content := []byte(testHTML)
	version := testVersion(content)

	chunks, err := e.Chunk(version, content)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	summary, err := e.RevalidateAll(context.Background(), version, content, chunks,
		func(string, model.AnchorHealth, uint64) error {
			return model.ErrRevisionMismatch
		})
	if err != nil {
		t.Fatalf("lost CAS races must not fail the pass, got %v", err)
	}
	if summary.Skipped != len(chunks) {
		t.Errorf("skipped %d, want %d", summary.Skipped, len(chunks))
	}
}
