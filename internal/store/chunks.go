package store

import (
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/avolkau/evidentia/internal/model"
)

// PutChunks writes the chunks produced for a version. Chunk keys are derived
// from content, so re-chunking identical content under the same policy is a
// no-op for rows that already exist.
func (tx *Tx) PutChunks(chunks []model.Chunk) error {
	for _, chunk := range chunks {
		if chunk.Anchors.SelectorCount() < 2 {
			return fmt.Errorf("%w: chunk %s carries fewer than two selector kinds", model.ErrMalformedInput, chunk.Key)
		}
		if ok, err := tx.exists(prefixChunk + chunk.Key); err != nil {
			return err
		} else if ok {
			continue
		}
		if err := tx.setJSON(prefixChunk+chunk.Key, chunk); err != nil {
			return err
		}
		idxKey := fmt.Sprintf("%s%s/%08d", prefixChunkIdx, chunk.VersionKey, chunk.Seq)
		if err := tx.txn.Set([]byte(idxKey), []byte(chunk.Key)); err != nil {
			return err
		}
	}
	return nil
}

// GetChunk loads a chunk by key.
func (tx *Tx) GetChunk(chunkKey string) (model.Chunk, error) {
	var chunk model.Chunk
	err := tx.getJSON(prefixChunk+chunkKey, &chunk)
	return chunk, err
}

// ChunksForVersion returns a version's chunks in segmentation order.
func (tx *Tx) ChunksForVersion(versionKey string) ([]model.Chunk, error) {
	var chunks []model.Chunk
	prefix := prefixChunkIdx + versionKey + "/"
	err := tx.iterate(prefix, func(_ string, item *badger.Item) error {
		chunkKey, err := stringValue(item)
		if err != nil {
			return err
		}
		chunk, err := tx.GetChunk(chunkKey)
		if err != nil {
			return err
		}
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Seq < chunks[j].Seq })
	return chunks, nil
}

// UpdateAnchorHealth replaces a chunk's health record if and only if the
// stored revision still matches expectedRevision. Racing revalidation passes
// lose the swap instead of silently overwriting each other; the loser
// re-reads and retries.
func (tx *Tx) UpdateAnchorHealth(chunkKey string, health model.AnchorHealth, expectedRevision uint64) error {
	chunk, err := tx.GetChunk(chunkKey)
	if err != nil {
		return err
	}
	if chunk.Health.Revision != expectedRevision {
		return fmt.Errorf("%w: chunk %s at revision %d, expected %d",
			model.ErrRevisionMismatch, chunkKey, chunk.Health.Revision, expectedRevision)
	}
	health.Revision = expectedRevision + 1
	if health.CheckedAt.IsZero() {
		health.CheckedAt = tx.now
	}
	chunk.Health = health
	return tx.setJSON(prefixChunk+chunkKey, chunk)
}

// SetEvidence writes the governance wrapper for a chunk. Suppression flips
// the wrapper; the chunk row itself is never touched.
func (tx *Tx) SetEvidence(evidence model.Evidence) error {
	if ok, err := tx.exists(prefixChunk + evidence.ChunkKey); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: chunk %s", model.ErrNotFound, evidence.ChunkKey)
	}
	evidence.UpdatedAt = tx.now
	return tx.setJSON(prefixEvidence+evidence.ChunkKey, evidence)
}

// GetEvidence loads the governance wrapper for a chunk, if any.
func (tx *Tx) GetEvidence(chunkKey string) (model.Evidence, error) {
	var evidence model.Evidence
	err := tx.getJSON(prefixEvidence+chunkKey, &evidence)
	return evidence, err
}
