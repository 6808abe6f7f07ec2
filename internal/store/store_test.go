package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkau/evidentia/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testIdentity(key string) model.ArtifactIdentity {
	return model.ArtifactIdentity{
		Key:       key,
		Locator:   "https://example.com/page",
		Publisher: "example press",
	}
}

func testVersion(identityKey, versionKey, digest string) model.ArtifactVersion {
	return model.ArtifactVersion{
		Key:           versionKey,
		IdentityKey:   identityKey,
		ContentDigest: digest,
		StorageRef:    "blob:" + digest,
		ContentType:   "text/html",
	}
}

func testChunk(key, versionKey string, seq int) model.Chunk {
	return model.Chunk{
		Key:        key,
		VersionKey: versionKey,
		Seq:        seq,
		Text:       "The treaty was signed in 1848.",
		Anchors: model.AnchorSet{
			Structural: &model.StructuralSelector{Path: "html/body/p[1]"},
			Quote:      &model.QuoteSelector{Exact: "The treaty was signed in 1848."},
			Offset:     &model.OffsetSelector{Start: 0, End: 30},
		},
		PolicyVersion: "chunk:v1",
	}
}

func TestCreateIdentityIdempotent(t *testing.T) {
	s := openTestStore(t)

	var first, second model.ArtifactIdentity
	var createdFirst, createdSecond bool

	err := s.Update(func(tx *Tx) error {
		var err error
		first, createdFirst, err = tx.CreateIdentity(testIdentity("aid:v1:abc"))
		return err
	})
	require.NoError(t, err)
	require.True(t, createdFirst)

	err = s.Update(func(tx *Tx) error {
		var err error
		second, createdSecond, err = tx.CreateIdentity(testIdentity("aid:v1:abc"))
		return err
	})
	require.NoError(t, err)
	assert.False(t, createdSecond)
	assert.Equal(t, first.FirstSeen, second.FirstSeen, "existing identity must be returned unchanged")
}

func TestCreateVersionDedupByDigest(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Update(func(tx *Tx) error {
		_, _, err := tx.CreateIdentity(testIdentity("aid:v1:abc"))
		return err
	}))

	var created bool
	require.NoError(t, s.Update(func(tx *Tx) error {
		var err error
		_, created, err = tx.CreateVersion(testVersion("aid:v1:abc", "ver:v1:one", "sha256:d1"))
		return err
	}))
	require.True(t, created)

	// Byte-identical re-fetch: same digest, different candidate key.
	var dedup model.ArtifactVersion
	require.NoError(t, s.Update(func(tx *Tx) error {
		var err error
		dedup, created, err = tx.CreateVersion(testVersion("aid:v1:abc", "ver:v1:other", "sha256:d1"))
		return err
	}))
	assert.False(t, created, "idempotent dedup is a success, not an error")
	assert.Equal(t, "ver:v1:one", dedup.Key)

	// A distinct digest is a genuine new version.
	require.NoError(t, s.Update(func(tx *Tx) error {
		var err error
		_, created, err = tx.CreateVersion(testVersion("aid:v1:abc", "ver:v1:two", "sha256:d2"))
		return err
	}))
	assert.True(t, created)

	var chain []model.ArtifactVersion
	require.NoError(t, s.View(func(tx *Tx) error {
		var err error
		chain, err = tx.VersionChain("aid:v1:abc")
		return err
	}))
	assert.Len(t, chain, 2)
}

func TestCreateVersionUnknownIdentity(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(func(tx *Tx) error {
		_, _, err := tx.CreateVersion(testVersion("aid:v1:missing", "ver:v1:x", "sha256:d"))
		return err
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPutChunksRequiresTwoSelectors(t *testing.T) {
	s := openTestStore(t)

	bad := testChunk("chk:v1:bad", "ver:v1:one", 0)
	bad.Anchors = model.AnchorSet{Quote: &model.QuoteSelector{Exact: "only one"}}

	err := s.Update(func(tx *Tx) error {
		return tx.PutChunks([]model.Chunk{bad})
	})
	assert.ErrorIs(t, err, model.ErrMalformedInput)
}

func TestUpdateAnchorHealthCAS(t *testing.T) {
	s := openTestStore(t)

	chunk := testChunk("chk:v1:one", "ver:v1:one", 0)
	require.NoError(t, s.Update(func(tx *Tx) error {
		return tx.PutChunks([]model.Chunk{chunk})
	}))

	healthy := model.AnchorHealth{Locatable: true, Confidence: 1.0, CheckedAt: time.Now().UTC()}
	require.NoError(t, s.Update(func(tx *Tx) error {
		return tx.UpdateAnchorHealth(chunk.Key, healthy, 0)
	}))

	// Second pass still holding revision 0 must lose the swap.
	err := s.Update(func(tx *Tx) error {
		return tx.UpdateAnchorHealth(chunk.Key, model.AnchorHealth{AnchorBroken: true}, 0)
	})
	assert.ErrorIs(t, err, model.ErrRevisionMismatch)

	var stored model.Chunk
	require.NoError(t, s.View(func(tx *Tx) error {
		var err error
		stored, err = tx.GetChunk(chunk.Key)
		return err
	}))
	assert.True(t, stored.Health.Locatable, "losing writer must not clobber the stored health")
	assert.Equal(t, uint64(1), stored.Health.Revision)
}

func TestRecordClaim(t *testing.T) {
	s := openTestStore(t)

	chunk := testChunk("chk:v1:one", "ver:v1:one", 0)
	require.NoError(t, s.Update(func(tx *Tx) error {
		return tx.PutChunks([]model.Chunk{chunk})
	}))

	claim := model.SourceClaim{
		ChunkKey: chunk.Key,
		Scope:    "case-1",
		Quote:    "The treaty was signed in 1848.",
		Selectors: model.AnchorSet{
			Quote:  &model.QuoteSelector{Exact: "The treaty was signed in 1848."},
			Offset: &model.OffsetSelector{Start: 0, End: 30},
		},
		Modality: model.ModalityConfirmed,
	}

	var recorded model.SourceClaim
	var created bool
	require.NoError(t, s.Update(func(tx *Tx) error {
		var err error
		recorded, created, err = tx.RecordClaim(claim)
		return err
	}))
	require.True(t, created)
	require.NotEmpty(t, recorded.Key)

	// Identical re-proposal dedupes.
	require.NoError(t, s.Update(func(tx *Tx) error {
		var err error
		_, created, err = tx.RecordClaim(claim)
		return err
	}))
	assert.False(t, created)

	var forChunk, forScope []model.SourceClaim
	require.NoError(t, s.View(func(tx *Tx) error {
		var err error
		if forChunk, err = tx.ClaimsForChunk(chunk.Key); err != nil {
			return err
		}
		forScope, err = tx.ClaimsForScope("case-1")
		return err
	}))
	assert.Len(t, forChunk, 1)
	assert.Len(t, forScope, 1)
}

func TestRecordClaimRejectsMissingSelectors(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(func(tx *Tx) error {
		_, _, err := tx.RecordClaim(model.SourceClaim{ChunkKey: "chk:v1:x", Quote: "q"})
		return err
	})
	assert.ErrorIs(t, err, model.ErrUngroundedClaim)
}

func TestSupersessionPointer(t *testing.T) {
	s := openTestStore(t)

	old := model.Assertion{Key: "ast:v1:old", Scope: "case-1", Subject: "treaty", Predicate: "signed_in", Object: "1848"}
	next := model.Assertion{Key: "ast:v1:new", Scope: "case-1", Subject: "treaty", Predicate: "signed_in", Object: "1848", Supersedes: old.Key}

	require.NoError(t, s.Update(func(tx *Tx) error {
		if err := tx.PutAssertion(old); err != nil {
			return err
		}
		if err := tx.PutAssertion(next); err != nil {
			return err
		}
		return tx.MarkSuperseded(old.Key, next.Key)
	}))

	var loaded model.Assertion
	require.NoError(t, s.View(func(tx *Tx) error {
		var err error
		loaded, err = tx.GetAssertion(old.Key)
		return err
	}))
	assert.Equal(t, next.Key, loaded.SupersededBy)
}

func TestApplyAtomicity(t *testing.T) {
	s := openTestStore(t)

	boom := errors.New("mutation failed")
	_, err := s.Apply(model.ActionSubmitContent, "tester", map[string]string{"locator": "x"}, func(tx *Tx) (any, error) {
		if _, _, err := tx.CreateIdentity(testIdentity("aid:v1:doomed")); err != nil {
			return nil, err
		}
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	// Neither the entity row nor any action row survives a failed mutation.
	err = s.View(func(tx *Tx) error {
		_, err := tx.GetIdentity("aid:v1:doomed")
		return err
	})
	assert.ErrorIs(t, err, model.ErrNotFound)

	actions, err := s.Actions()
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestApplyAndReplay(t *testing.T) {
	s := openTestStore(t)

	action, err := s.Apply(model.ActionSubmitContent, "tester", map[string]string{"locator": "https://example.com"}, func(tx *Tx) (any, error) {
		identity, _, err := tx.CreateIdentity(testIdentity("aid:v1:abc"))
		if err != nil {
			return nil, err
		}
		return map[string]string{"identity_key": identity.Key}, nil
	})
	require.NoError(t, err)

	replayed, err := s.Replay(action.UID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionSubmitContent, replayed.Type)
	assert.JSONEq(t, `{"locator":"https://example.com"}`, string(replayed.Input))
	assert.JSONEq(t, `{"identity_key":"aid:v1:abc"}`, string(replayed.Output))
}

func TestFusionLock(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AcquireFusionLock("case-1", "run-a", time.Minute))

	err := s.AcquireFusionLock("case-1", "run-b", time.Minute)
	assert.ErrorIs(t, err, model.ErrConcurrentFusion)

	// Re-entrant for the same holder, free again after release.
	assert.NoError(t, s.AcquireFusionLock("case-1", "run-a", time.Minute))
	require.NoError(t, s.ReleaseFusionLock("case-1", "run-a"))
	assert.NoError(t, s.AcquireFusionLock("case-1", "run-b", time.Minute))
}

func TestFusionLockExpiry(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AcquireFusionLock("case-1", "crashed-run", -time.Second))
	assert.NoError(t, s.AcquireFusionLock("case-1", "run-b", time.Minute),
		"expired lock must be reclaimable")
}
