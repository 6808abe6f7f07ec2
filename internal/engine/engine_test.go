package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkau/evidentia/internal/extract"
	"github.com/avolkau/evidentia/internal/model"
)

const pageA = `<html><body>
<h1>Treaty Coverage</h1>
<p>The border treaty was signed on February 2, 1848, in the town of Guadalupe Hidalgo after months of negotiation.</p>
</body></html>`

const pageB = `<html><body>
<h1>Archive Record</h1>
<p>According to the national archive, the border treaty was signed on February 2, 1848, by representatives of both governments.</p>
</body></html>`

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.Store.InMemory = true
	cfg.Blob.Dir = t.TempDir()
	cfg.Anchor.MinChunkRunes = 10

	e, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func submit(t *testing.T, e *Engine, locator, publisher, content string) SubmitResult {
	t.Helper()
	result, err := e.SubmitContent(context.Background(), SubmitRequest{
		Locator:     locator,
		Publisher:   publisher,
		Content:     []byte(content),
		ContentType: "text/html",
		Actor:       "test",
	})
	require.NoError(t, err)
	return result
}

func firstParagraphChunk(t *testing.T, e *Engine, versionKey string) model.Chunk {
	t.Helper()
	entries, err := e.ChunksWithClaims(versionKey)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	// Skip the headline; the paragraph carries the claim.
	for _, entry := range entries {
		if len(entry.Chunk.Text) > 60 {
			return entry.Chunk
		}
	}
	t.Fatal("no paragraph chunk found")
	return model.Chunk{}
}

func recordTreatyClaim(t *testing.T, e *Engine, chunk model.Chunk, scope, object string) model.SourceClaim {
	t.Helper()
	claim, created, err := e.RecordClaim(context.Background(), ClaimRequest{
		ChunkKey:  chunk.Key,
		Scope:     scope,
		Quote:     chunk.Anchors.Quote.Exact,
		Selectors: chunk.Anchors,
		Modality:  model.ModalityConfirmed,
		Slots: model.Slots{
			Subject:   "border treaty",
			Predicate: "signed",
			Object:    object,
		},
		Proposer: "test",
		Actor:    "test",
	})
	require.NoError(t, err)
	require.True(t, created)
	return claim
}

func TestSubmitIdempotent(t *testing.T) {
	e := testEngine(t)

	first := submit(t, e, "https://example.org/treaty", "Example Press", pageA)
	assert.True(t, first.NewIdentity)
	assert.False(t, first.Deduplicated)
	assert.Greater(t, first.ChunkCount, 0)

	second := submit(t, e, "https://example.org/treaty", "Example Press", pageA)
	assert.Equal(t, first.IdentityKey, second.IdentityKey)
	assert.Equal(t, first.VersionKey, second.VersionKey)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.ChunkCount, second.ChunkCount)

	chain, err := e.VersionChain(first.IdentityKey)
	require.NoError(t, err)
	assert.Len(t, chain, 1, "identical bytes must not create a second version")

	actions, err := e.Actions()
	require.NoError(t, err)
	assert.Len(t, actions, 2, "both submissions are recorded even when deduplicated")
}

func TestSubmitDedupReportsStoredVersion(t *testing.T) {
	e := testEngine(t)

	first, err := e.SubmitContent(context.Background(), SubmitRequest{
		Locator:         "https://example.org/treaty",
		Publisher:       "Example Press",
		Content:         []byte(pageA),
		ContentType:     "text/html",
		RendererVersion: "render:v1",
		Actor:           "test",
	})
	require.NoError(t, err)

	second, err := e.SubmitContent(context.Background(), SubmitRequest{
		Locator:         "https://example.org/treaty",
		Publisher:       "Example Press",
		Content:         []byte(pageA),
		ContentType:     "text/html",
		RendererVersion: "render:v2",
		Actor:           "test",
	})
	require.NoError(t, err)

	// Identical bytes dedup on (identity, digest); the result must point at
	// the version that actually exists, not a freshly derived key.
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.VersionKey, second.VersionKey)
	assert.Equal(t, first.ChunkCount, second.ChunkCount)

	entries, err := e.ChunksWithClaims(second.VersionKey)
	require.NoError(t, err)
	assert.Len(t, entries, second.ChunkCount)
}

func TestSubmitChangedContentExtendsChain(t *testing.T) {
	e := testEngine(t)

	first := submit(t, e, "https://example.org/treaty", "Example Press", pageA)
	changed := submit(t, e, "https://example.org/treaty", "Example Press", pageA+"<!-- revised -->")

	assert.Equal(t, first.IdentityKey, changed.IdentityKey)
	assert.NotEqual(t, first.VersionKey, changed.VersionKey)

	chain, err := e.VersionChain(first.IdentityKey)
	require.NoError(t, err)
	assert.Len(t, chain, 2)
}

func TestSubmitEmptyContentRejected(t *testing.T) {
	e := testEngine(t)
	_, err := e.SubmitContent(context.Background(), SubmitRequest{
		Locator: "https://example.org/x",
		Actor:   "test",
	})
	assert.ErrorIs(t, err, model.ErrMalformedInput)

	actions, err := e.Actions()
	require.NoError(t, err)
	assert.Empty(t, actions, "rejected input must leave no ledger entry")
}

func TestRecordClaimGrounding(t *testing.T) {
	e := testEngine(t)
	result := submit(t, e, "https://example.org/treaty", "Example Press", pageA)
	chunk := firstParagraphChunk(t, e, result.VersionKey)

	claim := recordTreatyClaim(t, e, chunk, "treaty", "February 2, 1848")
	assert.Equal(t, chunk.Key, claim.ChunkKey)
	assert.NotEmpty(t, claim.Key)

	// A quote that never appeared in the chunk must be refused.
	_, _, err := e.RecordClaim(context.Background(), ClaimRequest{
		ChunkKey:  chunk.Key,
		Scope:     "treaty",
		Quote:     "The treaty was signed in Mexico City.",
		Selectors: chunk.Anchors,
		Modality:  model.ModalityConfirmed,
		Actor:     "test",
	})
	assert.ErrorIs(t, err, model.ErrUngroundedClaim)
}

func TestExtractClaims(t *testing.T) {
	e := testEngine(t)
	result := submit(t, e, "https://example.org/treaty", "Example Press", pageA)

	proposers, err := extract.Proposers(model.DefaultConfig(), nil)
	require.NoError(t, err)

	summary, err := e.ExtractClaims(context.Background(), result.VersionKey, "treaty", proposers, "test")
	require.NoError(t, err)
	assert.Greater(t, summary.Recorded, 0)
	assert.Zero(t, summary.Ungrounded, "keyword proposer quotes are verbatim and must ground")

	// Re-running is a no-op: same candidates derive the same claim keys.
	again, err := e.ExtractClaims(context.Background(), result.VersionKey, "treaty", proposers, "test")
	require.NoError(t, err)
	assert.Zero(t, again.Recorded)
	assert.Equal(t, summary.Recorded, again.Duplicates)
}

func TestFuseCorroboratedFact(t *testing.T) {
	e := testEngine(t)
	a := submit(t, e, "https://example.org/treaty", "Example Press", pageA)
	b := submit(t, e, "https://archive.example.net/record", "National Archive", pageB)

	recordTreatyClaim(t, e, firstParagraphChunk(t, e, a.VersionKey), "treaty", "February 2, 1848")
	recordTreatyClaim(t, e, firstParagraphChunk(t, e, b.VersionKey), "treaty", "February 2, 1848")

	run, err := e.Fuse(context.Background(), "treaty", "test")
	require.NoError(t, err)
	require.Len(t, run.Assertions, 1)
	assert.Equal(t, 2, run.ClaimCount)
	assert.Empty(t, run.Gaps)

	assertions, current, err := e.CurrentAssertions("treaty")
	require.NoError(t, err)
	assert.Equal(t, run.ID, current.ID)
	require.Len(t, assertions, 1)
	assert.GreaterOrEqual(t, assertions[0].Confidence, 0.75)
	assert.Len(t, assertions[0].SupportingClaims, 2)
}

func TestFuseConservation(t *testing.T) {
	e := testEngine(t)
	a := submit(t, e, "https://example.org/treaty", "Example Press", pageA)
	b := submit(t, e, "https://archive.example.net/record", "National Archive", pageB)

	recordTreatyClaim(t, e, firstParagraphChunk(t, e, a.VersionKey), "treaty", "February 2, 1848")
	recordTreatyClaim(t, e, firstParagraphChunk(t, e, b.VersionKey), "treaty", "March 10, 1848")

	run, err := e.Fuse(context.Background(), "treaty", "test")
	require.NoError(t, err)
	require.Len(t, run.Assertions, 2, "disagreement keeps one assertion per value")
	require.Len(t, run.Conflicts, 1)

	assertions, _, err := e.CurrentAssertions("treaty")
	require.NoError(t, err)
	for _, assertion := range assertions {
		total := len(assertion.SupportingClaims) + len(assertion.ContradictingClaims)
		assert.Equal(t, run.ClaimCount, total,
			"every fused claim must appear as supporting or contradicting")
		assert.Len(t, assertion.ConflictsWith, 1, "conflict links are symmetric")
	}
}

func TestFuseSupersession(t *testing.T) {
	e := testEngine(t)
	a := submit(t, e, "https://example.org/treaty", "Example Press", pageA)
	recordTreatyClaim(t, e, firstParagraphChunk(t, e, a.VersionKey), "treaty", "February 2, 1848")

	firstRun, err := e.Fuse(context.Background(), "treaty", "test")
	require.NoError(t, err)
	require.Len(t, firstRun.Assertions, 1)
	oldKey := firstRun.Assertions[0]

	b := submit(t, e, "https://archive.example.net/record", "National Archive", pageB)
	recordTreatyClaim(t, e, firstParagraphChunk(t, e, b.VersionKey), "treaty", "February 2, 1848")

	secondRun, err := e.Fuse(context.Background(), "treaty", "test")
	require.NoError(t, err)
	require.Len(t, secondRun.Assertions, 1)
	newKey := secondRun.Assertions[0]
	require.NotEqual(t, oldKey, newKey)

	prov, err := e.AssertionProvenance(oldKey)
	require.NoError(t, err)
	assert.Equal(t, newKey, prov.Assertion.SupersededBy, "old assertion points forward")
	assert.Len(t, prov.Assertion.SupportingClaims, 1, "superseded row is otherwise unchanged")

	current, err := e.AssertionProvenance(newKey)
	require.NoError(t, err)
	assert.Equal(t, oldKey, current.Assertion.Supersedes)
	assert.Empty(t, current.Assertion.SupersededBy)
}

func TestFuseScopeLock(t *testing.T) {
	e := testEngine(t)
	a := submit(t, e, "https://example.org/treaty", "Example Press", pageA)
	recordTreatyClaim(t, e, firstParagraphChunk(t, e, a.VersionKey), "treaty", "February 2, 1848")

	require.NoError(t, e.store.AcquireFusionLock("treaty", "other-holder", time.Minute))
	_, err := e.Fuse(context.Background(), "treaty", "test")
	assert.ErrorIs(t, err, model.ErrConcurrentFusion)

	require.NoError(t, e.store.ReleaseFusionLock("treaty", "other-holder"))
	_, err = e.Fuse(context.Background(), "treaty", "test")
	assert.NoError(t, err, "lock release makes the scope fusable again")
}

func TestRevalidate(t *testing.T) {
	e := testEngine(t)
	result := submit(t, e, "https://example.org/treaty", "Example Press", pageA)

	summary, err := e.Revalidate(context.Background(), result.VersionKey, "test")
	require.NoError(t, err)
	assert.Equal(t, result.ChunkCount, summary.Checked)
	assert.Zero(t, summary.Broken)

	entries, err := e.ChunksWithClaims(result.VersionKey)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.True(t, entry.Chunk.Health.Locatable)
		assert.Equal(t, uint64(1), entry.Chunk.Health.Revision, "revalidation bumps the CAS revision")
	}

	actions, err := e.Actions()
	require.NoError(t, err)
	last := actions[len(actions)-1]
	assert.Equal(t, model.ActionRevalidate, last.Type)
}

func TestExportAndVerify(t *testing.T) {
	e := testEngine(t)
	a := submit(t, e, "https://example.org/treaty", "Example Press", pageA)
	b := submit(t, e, "https://archive.example.net/record", "National Archive", pageB)
	recordTreatyClaim(t, e, firstParagraphChunk(t, e, a.VersionKey), "treaty", "February 2, 1848")
	recordTreatyClaim(t, e, firstParagraphChunk(t, e, b.VersionKey), "treaty", "February 2, 1848")
	_, err := e.Fuse(context.Background(), "treaty", "test")
	require.NoError(t, err)

	dir := t.TempDir()
	manifestPath, err := e.Export(context.Background(), "treaty", dir)
	require.NoError(t, err)
	assert.FileExists(t, manifestPath)

	report, err := e.VerifyExport(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, report.OK(), "fresh export must verify clean: %+v", report)
	assert.Equal(t, 2, report.Blobs)
	assert.Equal(t, 2, report.Claims)

	// Tampering with archived bytes must be caught offline.
	blobs, err := filepath.Glob(filepath.Join(dir, "blobs", "*"))
	require.NoError(t, err)
	require.NotEmpty(t, blobs)
	require.NoError(t, os.WriteFile(blobs[0], []byte("tampered"), 0o644))

	report, err = e.VerifyExport(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Len(t, report.BadBlobs, 1)
}

func TestVerifyExportZeroRevalidators(t *testing.T) {
	e := testEngine(t)
	a := submit(t, e, "https://example.org/treaty", "Example Press", pageA)
	recordTreatyClaim(t, e, firstParagraphChunk(t, e, a.VersionKey), "treaty", "February 2, 1848")
	_, err := e.Fuse(context.Background(), "treaty", "test")
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = e.Export(context.Background(), "treaty", dir)
	require.NoError(t, err)

	// An unset worker count must fall back to one worker, not deadlock.
	e.cfg.Anchor.Revalidators = 0
	report, err := e.VerifyExport(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestEvidenceSuppressionWithholdsContent(t *testing.T) {
	e := testEngine(t)
	a := submit(t, e, "https://example.org/treaty", "Example Press", pageA)
	chunk := firstParagraphChunk(t, e, a.VersionKey)
	recordTreatyClaim(t, e, chunk, "treaty", "February 2, 1848")
	_, err := e.Fuse(context.Background(), "treaty", "test")
	require.NoError(t, err)

	require.NoError(t, e.SetEvidence(context.Background(), model.Evidence{
		ChunkKey:   chunk.Key,
		Suppressed: true,
	}, "test"))

	dir := t.TempDir()
	_, err = e.Export(context.Background(), "treaty", dir)
	require.NoError(t, err)

	report, err := e.VerifyExport(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, report.Blobs, "suppressed evidence withholds archived bytes")

	blobs, _ := filepath.Glob(filepath.Join(dir, "blobs", "*"))
	assert.Empty(t, blobs)
}
