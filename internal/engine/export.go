package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avolkau/evidentia/internal/keys"
	"github.com/avolkau/evidentia/internal/model"
	"github.com/avolkau/evidentia/internal/store"
)

const manifestName = "manifest.json"

// Manifest is the self-contained description of one exported scope. Together
// with the blobs directory it allows fully offline verification: digests can
// be recomputed and every claim re-resolved without the originating store.
type Manifest struct {
	ExportedAt time.Time                `json:"exported_at"`
	Scope      string                   `json:"scope"`
	Run        model.FusionRun          `json:"run"`
	Assertions []model.Assertion        `json:"assertions,omitempty"`
	Claims     []model.SourceClaim      `json:"claims,omitempty"`
	Chunks     []model.Chunk            `json:"chunks,omitempty"`
	Versions   []model.ArtifactVersion  `json:"versions,omitempty"`
	Identities []model.ArtifactIdentity `json:"identities,omitempty"`
	Actions    []model.Action           `json:"actions,omitempty"`
	Blobs      []string                 `json:"blobs,omitempty"` // content digests, also the file names
}

// Export writes a scope's current fusion run, its full provenance chain, the
// action trace, and the raw archived bytes into dir. Suppressed chunks keep
// their rows but their text and blobs are withheld.
func (e *Engine) Export(ctx context.Context, scope, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	manifest := Manifest{
		ExportedAt: time.Now().UTC(),
		Scope:      scope,
	}

	suppressed := map[string]bool{} // version keys with a suppressed chunk
	err := e.store.View(func(tx *store.Tx) error {
		run, err := tx.CurrentRun(scope)
		if err != nil {
			return err
		}
		manifest.Run = run
		for _, key := range run.Assertions {
			assertion, err := tx.GetAssertion(key)
			if err != nil {
				return err
			}
			manifest.Assertions = append(manifest.Assertions, assertion)
		}

		claims, err := tx.ClaimsForScope(scope)
		if err != nil {
			return err
		}
		manifest.Claims = claims

		seenChunk := map[string]bool{}
		seenVersion := map[string]bool{}
		seenIdentity := map[string]bool{}
		for _, claim := range claims {
			if seenChunk[claim.ChunkKey] {
				continue
			}
			seenChunk[claim.ChunkKey] = true
			chunk, err := tx.GetChunk(claim.ChunkKey)
			if err != nil {
				return err
			}
			if evidence, err := tx.GetEvidence(chunk.Key); err == nil && !evidence.Active(manifest.ExportedAt) {
				chunk.Text = ""
				suppressed[chunk.VersionKey] = true
			}
			manifest.Chunks = append(manifest.Chunks, chunk)

			if !seenVersion[chunk.VersionKey] {
				seenVersion[chunk.VersionKey] = true
				version, err := tx.GetVersion(chunk.VersionKey)
				if err != nil {
					return err
				}
				manifest.Versions = append(manifest.Versions, version)
				if !seenIdentity[version.IdentityKey] {
					seenIdentity[version.IdentityKey] = true
					identity, err := tx.GetIdentity(version.IdentityKey)
					if err != nil {
						return err
					}
					manifest.Identities = append(manifest.Identities, identity)
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	actions, err := e.store.Actions()
	if err != nil {
		return "", err
	}
	manifest.Actions = actions

	blobDir := filepath.Join(dir, "blobs")
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	for _, version := range manifest.Versions {
		if suppressed[version.Key] {
			continue
		}
		content, err := e.blobs.Get(version.StorageRef)
		if err != nil {
			return "", fmt.Errorf("blob for %s: %w", version.Key, err)
		}
		name := version.ContentDigest
		if err := os.WriteFile(filepath.Join(blobDir, name), content, 0o644); err != nil {
			return "", fmt.Errorf("write blob: %w", err)
		}
		manifest.Blobs = append(manifest.Blobs, name)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	path := filepath.Join(dir, manifestName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	e.log.Info("exported scope", "scope", scope, "dir", dir,
		"assertions", len(manifest.Assertions), "blobs", len(manifest.Blobs))
	return path, nil
}

// VerifyReport is the result of offline verification of an export.
type VerifyReport struct {
	Blobs          int      `json:"blobs"`
	BadBlobs       []string `json:"bad_blobs,omitempty"`
	Claims         int      `json:"claims"`
	Ungrounded     []string `json:"ungrounded,omitempty"`
	Assertions     int      `json:"assertions"`
	MissingSupport []string `json:"missing_support,omitempty"`
}

// OK reports whether the export passed every check.
func (r VerifyReport) OK() bool {
	return len(r.BadBlobs) == 0 && len(r.Ungrounded) == 0 && len(r.MissingSupport) == 0
}

// VerifyExport re-checks an export directory without touching the store:
// blob digests are recomputed, claim selectors re-resolved against the
// exported bytes, and assertion support chains checked for completeness.
func (e *Engine) VerifyExport(ctx context.Context, dir string) (VerifyReport, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return VerifyReport{}, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return VerifyReport{}, fmt.Errorf("parse manifest: %w", err)
	}

	report := VerifyReport{
		Blobs:      len(manifest.Blobs),
		Claims:     len(manifest.Claims),
		Assertions: len(manifest.Assertions),
	}
	var mu sync.Mutex

	workers := e.cfg.Anchor.Revalidators
	if workers <= 0 {
		workers = 1
	}

	contents := map[string][]byte{} // digest -> bytes
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, digest := range manifest.Blobs {
		digest := digest
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := os.ReadFile(filepath.Join(dir, "blobs", digest))
			if err != nil {
				mu.Lock()
				report.BadBlobs = append(report.BadBlobs, digest)
				mu.Unlock()
				return nil
			}
			actual, err := keys.ContentDigest(content)
			if err != nil || actual != digest {
				mu.Lock()
				report.BadBlobs = append(report.BadBlobs, digest)
				mu.Unlock()
				return nil
			}
			mu.Lock()
			contents[digest] = content
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	chunks := map[string]model.Chunk{}
	for _, chunk := range manifest.Chunks {
		chunks[chunk.Key] = chunk
	}
	versions := map[string]model.ArtifactVersion{}
	for _, version := range manifest.Versions {
		versions[version.Key] = version
	}

	for _, claim := range manifest.Claims {
		chunk, ok := chunks[claim.ChunkKey]
		if !ok {
			report.Ungrounded = append(report.Ungrounded, claim.Key)
			continue
		}
		version, ok := versions[chunk.VersionKey]
		if !ok {
			report.Ungrounded = append(report.Ungrounded, claim.Key)
			continue
		}
		content, ok := contents[version.ContentDigest]
		if !ok {
			// Withheld blob (suppressed evidence); nothing to re-check.
			continue
		}
		if !e.anchors.Resolves(ctx, version.ContentDigest, content, version.ContentType, chunk, claim.Selectors) {
			report.Ungrounded = append(report.Ungrounded, claim.Key)
		}
	}

	claimKeys := map[string]bool{}
	for _, claim := range manifest.Claims {
		claimKeys[claim.Key] = true
	}
	for _, assertion := range manifest.Assertions {
		for _, key := range assertion.SupportingClaims {
			if !claimKeys[key] {
				report.MissingSupport = append(report.MissingSupport, assertion.Key)
				break
			}
		}
	}
	return report, nil
}
