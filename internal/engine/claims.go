package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/avolkau/evidentia/internal/extract"
	"github.com/avolkau/evidentia/internal/model"
	"github.com/avolkau/evidentia/internal/store"
)

// ClaimRequest proposes one claim against an existing chunk.
type ClaimRequest struct {
	ChunkKey    string
	Scope       string
	Quote       string
	Selectors   model.AnchorSet
	Attribution model.Attribution
	Modality    model.Modality
	Slots       model.Slots
	Proposer    string
	Heuristic   string
	Actor       string
}

// RecordClaim verifies grounding and persists one claim. The claim's
// selectors must resolve against the archived bytes of the chunk's version
// and land inside the chunk, or the write is refused with ErrUngroundedClaim.
func (e *Engine) RecordClaim(ctx context.Context, req ClaimRequest) (model.SourceClaim, bool, error) {
	chunk, version, content, err := e.loadChunkContext(req.ChunkKey)
	if err != nil {
		return model.SourceClaim{}, false, err
	}

	if !strings.Contains(chunk.Text, req.Quote) {
		return model.SourceClaim{}, false, fmt.Errorf("quote is not verbatim chunk text: %w", model.ErrUngroundedClaim)
	}
	if !e.anchors.Resolves(ctx, version.ContentDigest, content, version.ContentType, chunk, req.Selectors) {
		return model.SourceClaim{}, false, fmt.Errorf("selectors do not resolve inside chunk %s: %w",
			req.ChunkKey, model.ErrUngroundedClaim)
	}

	claim := model.SourceClaim{
		ChunkKey:    req.ChunkKey,
		Scope:       req.Scope,
		Quote:       req.Quote,
		Selectors:   req.Selectors,
		Attribution: req.Attribution,
		Modality:    req.Modality,
		Slots:       req.Slots,
		Proposer:    req.Proposer,
		Heuristic:   req.Heuristic,
	}

	var recorded model.SourceClaim
	var created bool
	_, err = e.store.Apply(model.ActionRecordClaim, req.Actor, map[string]string{
		"chunk_key": req.ChunkKey,
		"scope":     req.Scope,
	}, func(tx *store.Tx) (any, error) {
		var err error
		recorded, created, err = tx.RecordClaim(claim)
		if err != nil {
			return nil, err
		}
		return map[string]any{"claim_key": recorded.Key, "created": created}, nil
	})
	if err != nil {
		return model.SourceClaim{}, false, err
	}
	return recorded, created, nil
}

// ExtractSummary reports one extraction pass over a version.
type ExtractSummary struct {
	VersionKey string `json:"version_key"`
	Proposed   int    `json:"proposed"`
	Recorded   int    `json:"recorded"`
	Duplicates int    `json:"duplicates"`
	Ungrounded int    `json:"ungrounded"`
}

// ExtractClaims runs the configured proposers over every chunk of a version
// and records the candidates that survive grounding. All surviving claims
// commit in one transaction with one ledger action.
func (e *Engine) ExtractClaims(ctx context.Context, versionKey, scope string, proposers []extract.Proposer, actor string) (ExtractSummary, error) {
	summary := ExtractSummary{VersionKey: versionKey}

	var version model.ArtifactVersion
	var chunks []model.Chunk
	err := e.store.View(func(tx *store.Tx) error {
		var err error
		version, err = tx.GetVersion(versionKey)
		if err != nil {
			return err
		}
		chunks, err = tx.ChunksForVersion(versionKey)
		return err
	})
	if err != nil {
		return summary, err
	}
	content, err := e.blobs.Get(version.StorageRef)
	if err != nil {
		return summary, fmt.Errorf("load archived content: %w", err)
	}

	var grounded []model.SourceClaim
	for _, chunk := range chunks {
		for _, proposer := range proposers {
			candidates, err := proposer.Propose(ctx, chunk)
			if err != nil {
				return summary, fmt.Errorf("proposer %s: %w", proposer.Name(), err)
			}
			summary.Proposed += len(candidates)
			for _, c := range candidates {
				if !e.anchors.Resolves(ctx, version.ContentDigest, content, version.ContentType, chunk, c.Selectors) {
					summary.Ungrounded++
					continue
				}
				grounded = append(grounded, model.SourceClaim{
					ChunkKey:    chunk.Key,
					Scope:       scope,
					Quote:       c.Quote,
					Selectors:   c.Selectors,
					Attribution: c.Attribution,
					Modality:    c.Modality,
					Slots:       c.Slots,
					Proposer:    proposer.Name(),
					Heuristic:   c.Heuristic,
				})
			}
		}
	}
	if len(grounded) == 0 {
		return summary, nil
	}

	_, err = e.store.Apply(model.ActionRecordClaim, actor, map[string]string{
		"version_key": versionKey,
		"scope":       scope,
	}, func(tx *store.Tx) (any, error) {
		summary.Recorded, summary.Duplicates = 0, 0
		for _, claim := range grounded {
			_, created, err := tx.RecordClaim(claim)
			if err != nil {
				return nil, err
			}
			if created {
				summary.Recorded++
			} else {
				summary.Duplicates++
			}
		}
		return summary, nil
	})
	if err != nil {
		return summary, err
	}
	return summary, nil
}

// SetEvidence attaches license, retention, and PII policy to a chunk.
func (e *Engine) SetEvidence(ctx context.Context, evidence model.Evidence, actor string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := e.store.Apply(model.ActionSetEvidence, actor, map[string]string{
		"chunk_key": evidence.ChunkKey,
	}, func(tx *store.Tx) (any, error) {
		if err := tx.SetEvidence(evidence); err != nil {
			return nil, err
		}
		return map[string]bool{"suppressed": evidence.Suppressed}, nil
	})
	return err
}

// loadChunkContext resolves a chunk, its version, and the archived bytes.
func (e *Engine) loadChunkContext(chunkKey string) (model.Chunk, model.ArtifactVersion, []byte, error) {
	var chunk model.Chunk
	var version model.ArtifactVersion
	err := e.store.View(func(tx *store.Tx) error {
		var err error
		chunk, err = tx.GetChunk(chunkKey)
		if err != nil {
			return err
		}
		version, err = tx.GetVersion(chunk.VersionKey)
		return err
	})
	if err != nil {
		return model.Chunk{}, model.ArtifactVersion{}, nil, err
	}
	content, err := e.blobs.Get(version.StorageRef)
	if err != nil {
		return model.Chunk{}, model.ArtifactVersion{}, nil, fmt.Errorf("load archived content: %w", err)
	}
	return chunk, version, content, nil
}
