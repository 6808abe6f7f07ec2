package anchor

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avolkau/evidentia/internal/model"
)

// HealthWriter applies one chunk's recomputed health under optimistic
// concurrency: expectedRevision is the revision the locate pass read, and
// the implementation must fail with ErrRevisionMismatch if the stored row
// has moved on.
type HealthWriter func(chunkKey string, health model.AnchorHealth, expectedRevision uint64) error

// RevalidateSummary aggregates one revalidation pass.
type RevalidateSummary struct {
	VersionKey string `json:"version_key"`
	Checked    int    `json:"checked"`
	Drifted    int    `json:"drifted"`
	Fallback   int    `json:"fallback"`
	Broken     int    `json:"broken"`
	Skipped    int    `json:"skipped"` // lost CAS races, left to the winning pass
}

// RevalidateAll re-runs Locate for every chunk of a version and writes each
// result through the health writer. Health updates are atomic per chunk:
// cancelling mid-scan leaves already-checked chunks updated and the rest
// untouched, never a partially written record. A chunk whose CAS is lost was
// concurrently revalidated by someone else and is counted as skipped rather
// than retried blindly.
func (e *Engine) RevalidateAll(ctx context.Context, version model.ArtifactVersion, content []byte, chunks []model.Chunk, write HealthWriter) (RevalidateSummary, error) {
	summary := RevalidateSummary{VersionKey: version.Key}
	var mu sync.Mutex

	workers := e.cfg.Revalidators
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			locateCtx := gctx
			if e.cfg.LocateTimeout > 0 {
				var cancel context.CancelFunc
				locateCtx, cancel = context.WithTimeout(gctx, e.cfg.LocateTimeout)
				defer cancel()
			}

			result := e.Locate(locateCtx, version.ContentDigest, content, version.ContentType, chunk.Anchors)
			result.Health.CheckedAt = time.Now().UTC()

			err := write(chunk.Key, result.Health, chunk.Health.Revision)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Checked++
				if result.Health.DriftDetected {
					summary.Drifted++
				}
				if result.Health.FallbackUsed {
					summary.Fallback++
				}
				if result.Health.AnchorBroken {
					summary.Broken++
				}
			case isRevisionMismatch(err):
				summary.Skipped++
			default:
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	e.log.Info("revalidated version",
		"version", version.Key,
		"checked", summary.Checked,
		"drifted", summary.Drifted,
		"broken", summary.Broken,
		"skipped", summary.Skipped)
	return summary, nil
}

func isRevisionMismatch(err error) bool {
	return errors.Is(err, model.ErrRevisionMismatch)
}
