package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/avolkau/evidentia/internal/keys"
	"github.com/avolkau/evidentia/internal/model"
)

// DeriveClaimKey derives a deterministic claim key so that re-proposing an
// identical claim against the same chunk is idempotent rather than
// duplicating rows.
func DeriveClaimKey(claim model.SourceClaim) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s",
		claim.ChunkKey,
		keys.QuoteDigest(claim.Quote),
		claim.Selectors.Fingerprint(),
		claim.Modality,
		claim.Attribution.Speaker,
		claim.Proposer,
	)
	return "clm:v1:" + hex.EncodeToString(h.Sum(nil))
}

// RecordClaim persists a claim. Grounding has already been verified by the
// engine; the store still refuses claims without quote selectors or without
// an existing chunk, since a claim that cannot be re-resolved is worthless.
func (tx *Tx) RecordClaim(claim model.SourceClaim) (model.SourceClaim, bool, error) {
	if claim.Selectors.Quote == nil || claim.Selectors.Quote.Exact == "" {
		return model.SourceClaim{}, false, fmt.Errorf("%w: no quote selectors", model.ErrUngroundedClaim)
	}
	if ok, err := tx.exists(prefixChunk + claim.ChunkKey); err != nil {
		return model.SourceClaim{}, false, err
	} else if !ok {
		return model.SourceClaim{}, false, fmt.Errorf("%w: chunk %s", model.ErrNotFound, claim.ChunkKey)
	}

	if claim.Key == "" {
		claim.Key = DeriveClaimKey(claim)
	}
	var existing model.SourceClaim
	if err := tx.getJSON(prefixClaim+claim.Key, &existing); err == nil {
		return existing, false, nil
	} else if !isNotFound(err) {
		return model.SourceClaim{}, false, err
	}

	claim.RecordedAt = tx.now
	if err := tx.setJSON(prefixClaim+claim.Key, claim); err != nil {
		return model.SourceClaim{}, false, err
	}
	if err := tx.txn.Set([]byte(prefixClaimIdx+claim.ChunkKey+"/"+claim.Key), nil); err != nil {
		return model.SourceClaim{}, false, err
	}
	if err := tx.txn.Set([]byte(prefixScopeClaims+claim.Scope+"/"+claim.Key), nil); err != nil {
		return model.SourceClaim{}, false, err
	}
	return claim, true, nil
}

// GetClaim loads a claim by key.
func (tx *Tx) GetClaim(claimKey string) (model.SourceClaim, error) {
	var claim model.SourceClaim
	err := tx.getJSON(prefixClaim+claimKey, &claim)
	return claim, err
}

// ClaimsForChunk returns every claim grounded in a chunk.
func (tx *Tx) ClaimsForChunk(chunkKey string) ([]model.SourceClaim, error) {
	return tx.claimsByIndex(prefixClaimIdx + chunkKey + "/")
}

// ClaimsForScope returns every claim recorded under a case scope.
func (tx *Tx) ClaimsForScope(scope string) ([]model.SourceClaim, error) {
	return tx.claimsByIndex(prefixScopeClaims + scope + "/")
}

func (tx *Tx) claimsByIndex(prefix string) ([]model.SourceClaim, error) {
	var claims []model.SourceClaim
	err := tx.iterate(prefix, func(key string, _ *badger.Item) error {
		claimKey := strings.TrimPrefix(key, prefix)
		claim, err := tx.GetClaim(claimKey)
		if err != nil {
			return err
		}
		claims = append(claims, claim)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(claims, func(i, j int) bool {
		if !claims[i].RecordedAt.Equal(claims[j].RecordedAt) {
			return claims[i].RecordedAt.Before(claims[j].RecordedAt)
		}
		return claims[i].Key < claims[j].Key
	})
	return claims, nil
}
