package engine

import (
	"github.com/avolkau/evidentia/internal/model"
	"github.com/avolkau/evidentia/internal/store"
)

// Identity returns one artifact identity by key.
func (e *Engine) Identity(identityKey string) (model.ArtifactIdentity, error) {
	var identity model.ArtifactIdentity
	err := e.store.View(func(tx *store.Tx) error {
		var err error
		identity, err = tx.GetIdentity(identityKey)
		return err
	})
	return identity, err
}

// VersionChain returns an identity's versions ordered by retrieval time.
func (e *Engine) VersionChain(identityKey string) ([]model.ArtifactVersion, error) {
	var chain []model.ArtifactVersion
	err := e.store.View(func(tx *store.Tx) error {
		if _, err := tx.GetIdentity(identityKey); err != nil {
			return err
		}
		var err error
		chain, err = tx.VersionChain(identityKey)
		return err
	})
	return chain, err
}

// ChunkClaims pairs a chunk with its claims and evidence policy.
type ChunkClaims struct {
	Chunk    model.Chunk         `json:"chunk"`
	Claims   []model.SourceClaim `json:"claims,omitempty"`
	Evidence *model.Evidence     `json:"evidence,omitempty"`
}

// ChunksWithClaims returns a version's chunks in sequence order, each with
// the claims grounded in it.
func (e *Engine) ChunksWithClaims(versionKey string) ([]ChunkClaims, error) {
	var out []ChunkClaims
	err := e.store.View(func(tx *store.Tx) error {
		chunks, err := tx.ChunksForVersion(versionKey)
		if err != nil {
			return err
		}
		for _, chunk := range chunks {
			claims, err := tx.ClaimsForChunk(chunk.Key)
			if err != nil {
				return err
			}
			entry := ChunkClaims{Chunk: chunk, Claims: claims}
			evidence, err := tx.GetEvidence(chunk.Key)
			if err == nil {
				entry.Evidence = &evidence
			} else if !isNotFoundErr(err) {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// Provenance is one assertion traced back to its origins: the supporting
// claims, the current anchor health of each claim's chunk, and the versions
// the chunks came from.
type Provenance struct {
	Assertion     model.Assertion                  `json:"assertion"`
	Claims        []model.SourceClaim              `json:"claims"`
	AnchorHealth  map[string]model.AnchorHealth    `json:"anchor_health"` // chunk key -> health
	Versions      map[string]model.ArtifactVersion `json:"versions"`      // version key -> version
	HealthSummary string                           `json:"health_summary"`
}

// AssertionProvenance resolves the full audit chain for one assertion.
func (e *Engine) AssertionProvenance(assertionKey string) (Provenance, error) {
	prov := Provenance{
		AnchorHealth: map[string]model.AnchorHealth{},
		Versions:     map[string]model.ArtifactVersion{},
	}
	err := e.store.View(func(tx *store.Tx) error {
		assertion, err := tx.GetAssertion(assertionKey)
		if err != nil {
			return err
		}
		prov.Assertion = assertion

		for _, claimKey := range assertion.SupportingClaims {
			claim, err := tx.GetClaim(claimKey)
			if err != nil {
				return err
			}
			prov.Claims = append(prov.Claims, claim)

			chunk, err := tx.GetChunk(claim.ChunkKey)
			if err != nil {
				return err
			}
			prov.AnchorHealth[chunk.Key] = chunk.Health
			if _, seen := prov.Versions[chunk.VersionKey]; !seen {
				version, err := tx.GetVersion(chunk.VersionKey)
				if err != nil {
					return err
				}
				prov.Versions[chunk.VersionKey] = version
			}
		}
		return nil
	})
	if err != nil {
		return Provenance{}, err
	}
	prov.HealthSummary = summarizeHealth(prov.AnchorHealth)
	return prov, nil
}

// summarizeHealth collapses per-chunk anchor health into the worst state.
func summarizeHealth(healths map[string]model.AnchorHealth) string {
	summary := "clean"
	for _, h := range healths {
		switch {
		case h.AnchorBroken:
			return "broken"
		case h.FallbackUsed:
			summary = "degraded"
		case h.DriftDetected && summary == "clean":
			summary = "drifted"
		}
	}
	return summary
}

// CurrentAssertions returns the assertions of a scope's latest fusion run,
// with supersession pointers filled in.
func (e *Engine) CurrentAssertions(scope string) ([]model.Assertion, model.FusionRun, error) {
	var assertions []model.Assertion
	var run model.FusionRun
	err := e.store.View(func(tx *store.Tx) error {
		var err error
		run, err = tx.CurrentRun(scope)
		if err != nil {
			return err
		}
		for _, key := range run.Assertions {
			assertion, err := tx.GetAssertion(key)
			if err != nil {
				return err
			}
			assertions = append(assertions, assertion)
		}
		return nil
	})
	if err != nil {
		return nil, model.FusionRun{}, err
	}
	return assertions, run, nil
}

// Chunk returns one chunk by key.
func (e *Engine) Chunk(chunkKey string) (model.Chunk, error) {
	var chunk model.Chunk
	err := e.store.View(func(tx *store.Tx) error {
		var err error
		chunk, err = tx.GetChunk(chunkKey)
		return err
	})
	return chunk, err
}
