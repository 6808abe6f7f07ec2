package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/avolkau/evidentia/internal/keys"
	"github.com/avolkau/evidentia/internal/model"
	"github.com/avolkau/evidentia/internal/store"
)

// SubmitRequest describes one content observation.
type SubmitRequest struct {
	Locator         string
	Publisher       string
	StableKeys      map[string]string
	Content         []byte
	ContentType     string
	RendererVersion string
	RetrievedAt     time.Time
	Meta            map[string]string
	Actor           string
}

// SubmitResult reports what the submission resolved to. Resubmitting
// identical bytes returns the existing version with Deduplicated set.
type SubmitResult struct {
	IdentityKey  string `json:"identity_key"`
	VersionKey   string `json:"version_key"`
	Digest       string `json:"digest"`
	NewIdentity  bool   `json:"new_identity"`
	Deduplicated bool   `json:"deduplicated"`
	ChunkCount   int    `json:"chunk_count"`
	ActionUID    string `json:"action_uid"`
}

// SubmitContent archives content bytes, derives identity and version keys,
// chunks the content, and persists everything with one ledger action. The
// whole mutation is a single transaction: a failure leaves no partial rows.
func (e *Engine) SubmitContent(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if len(req.Content) == 0 {
		return SubmitResult{}, fmt.Errorf("submit: empty content: %w", model.ErrMalformedInput)
	}
	if req.Locator == "" {
		return SubmitResult{}, fmt.Errorf("submit: empty locator: %w", model.ErrMalformedInput)
	}
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}

	digest, err := keys.ContentDigest(req.Content)
	if err != nil {
		return SubmitResult{}, err
	}
	identityKey, err := keys.DeriveIdentityKey(req.Locator, req.Publisher, req.StableKeys)
	if err != nil {
		return SubmitResult{}, err
	}
	versionKey, err := keys.DeriveVersionKey(digest, req.RendererVersion)
	if err != nil {
		return SubmitResult{}, err
	}

	// Bytes go to the content-addressed archive before the transaction.
	// An archived blob without rows is unreachable but harmless; rows
	// without their blob would be a broken promise.
	storageRef, err := e.blobs.Put(req.Content)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("archive content: %w", err)
	}

	retrievedAt := req.RetrievedAt
	if retrievedAt.IsZero() {
		retrievedAt = time.Now().UTC()
	}
	version := model.ArtifactVersion{
		Key:           versionKey,
		IdentityKey:   identityKey,
		ContentDigest: digest,
		StorageRef:    storageRef,
		ContentType:   req.ContentType,
		RetrievedAt:   retrievedAt,
		Meta:          req.Meta,
	}

	chunks, err := e.anchors.Chunk(version, req.Content)
	if err != nil {
		// Unsupported content types are archived and versioned but not
		// chunked; claims need a chunkable rendition.
		e.log.Warn("content not chunkable", "version", versionKey, "err", err)
		chunks = nil
	}

	var result SubmitResult
	action, err := e.store.Apply(model.ActionSubmitContent, req.Actor, map[string]string{
		"locator": req.Locator,
		"digest":  digest,
	}, func(tx *store.Tx) (any, error) {
		_, newIdentity, err := tx.CreateIdentity(model.ArtifactIdentity{
			Key:        identityKey,
			Locator:    keys.NormalizeLocator(req.Locator),
			Publisher:  req.Publisher,
			StableKeys: req.StableKeys,
			FirstSeen:  tx.Now(),
		})
		if err != nil {
			return nil, err
		}
		stored, created, err := tx.CreateVersion(version)
		if err != nil {
			return nil, err
		}
		if created {
			if err := tx.PutChunks(chunks); err != nil {
				return nil, err
			}
		}

		// Dedup on (identity, digest) may hand back a version stored under a
		// different key. Report the stored row, not the derived one.
		chunkCount := len(chunks)
		if !created {
			existing, err := tx.ChunksForVersion(stored.Key)
			if err != nil {
				return nil, err
			}
			chunkCount = len(existing)
		}
		result = SubmitResult{
			IdentityKey:  identityKey,
			VersionKey:   stored.Key,
			Digest:       digest,
			NewIdentity:  newIdentity,
			Deduplicated: !created,
			ChunkCount:   chunkCount,
		}
		return result, nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	result.ActionUID = action.UID
	return result, nil
}
