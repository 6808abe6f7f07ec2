package engine

import (
	"context"
	"fmt"

	"github.com/avolkau/evidentia/internal/anchor"
	"github.com/avolkau/evidentia/internal/model"
	"github.com/avolkau/evidentia/internal/store"
)

// Revalidate re-locates every anchor of a version against its archived
// bytes. Health rows update one chunk at a time under CAS, so cancelling
// mid-pass leaves a clean partial result; the summary is recorded in the
// ledger once the scan finishes.
func (e *Engine) Revalidate(ctx context.Context, versionKey, actor string) (anchor.RevalidateSummary, error) {
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
		return anchor.RevalidateSummary{}, err
	}
	content, err := e.blobs.Get(version.StorageRef)
	if err != nil {
		return anchor.RevalidateSummary{}, fmt.Errorf("load archived content: %w", err)
	}

	writer := func(chunkKey string, health model.AnchorHealth, expectedRevision uint64) error {
		return e.store.Update(func(tx *store.Tx) error {
			return tx.UpdateAnchorHealth(chunkKey, health, expectedRevision)
		})
	}
	summary, err := e.anchors.RevalidateAll(ctx, version, content, chunks, writer)
	if err != nil {
		return summary, err
	}

	_, err = e.store.Apply(model.ActionRevalidate, actor, map[string]string{
		"version_key": versionKey,
	}, func(tx *store.Tx) (any, error) {
		return summary, nil
	})
	if err != nil {
		return summary, err
	}
	return summary, nil
}
