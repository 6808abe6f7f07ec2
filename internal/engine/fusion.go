package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avolkau/evidentia/internal/fuse"
	"github.com/avolkau/evidentia/internal/model"
	"github.com/avolkau/evidentia/internal/store"
)

// Fuse runs one fusion pass over a scope's claims. The scope is held under
// an advisory lock for the duration; a concurrent pass on the same scope
// fails fast with ErrConcurrentFusion. Earlier assertions stay untouched,
// replaced ones get a forward supersession pointer.
func (e *Engine) Fuse(ctx context.Context, scope, actor string) (model.FusionRun, error) {
	if scope == "" {
		return model.FusionRun{}, fmt.Errorf("fuse: empty scope: %w", model.ErrMalformedInput)
	}
	runID := uuid.NewString()

	if err := e.store.AcquireFusionLock(scope, runID, e.cfg.Fusion.LockTTL); err != nil {
		return model.FusionRun{}, err
	}
	defer func() {
		if err := e.store.ReleaseFusionLock(scope, runID); err != nil {
			e.log.Warn("release fusion lock", "scope", scope, "err", err)
		}
	}()

	startedAt := time.Now().UTC()
	inputs, previous, err := e.collectFusionInputs(scope)
	if err != nil {
		return model.FusionRun{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.FusionRun{}, err
	}

	result := e.fuser.Fuse(scope, runID, inputs, startedAt)
	supersessions := matchSupersessions(previous, result.Assertions)

	run := model.FusionRun{
		ID:         runID,
		Scope:      scope,
		Conflicts:  result.Conflicts,
		Gaps:       result.Gaps,
		ClaimCount: len(inputs),
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}
	for _, a := range result.Assertions {
		run.Assertions = append(run.Assertions, a.Key)
	}

	_, err = e.store.Apply(model.ActionFuse, actor, map[string]string{
		"scope":  scope,
		"run_id": runID,
	}, func(tx *store.Tx) (any, error) {
		for i := range result.Assertions {
			assertion := result.Assertions[i]
			if oldKey, ok := supersessions[assertion.Key]; ok {
				assertion.Supersedes = oldKey
			}
			if err := tx.PutAssertion(assertion); err != nil {
				return nil, err
			}
			if oldKey, ok := supersessions[assertion.Key]; ok {
				if err := tx.MarkSuperseded(oldKey, assertion.Key); err != nil {
					return nil, err
				}
			}
		}
		if err := tx.PutFusionRun(run); err != nil {
			return nil, err
		}
		return map[string]any{
			"assertions": len(run.Assertions),
			"conflicts":  len(run.Conflicts),
			"gaps":       len(run.Gaps),
		}, nil
	})
	if err != nil {
		return model.FusionRun{}, err
	}
	return run, nil
}

// collectFusionInputs loads a scope's claims together with the identity
// each descends from and the current anchor health of its chunk.
func (e *Engine) collectFusionInputs(scope string) ([]fuse.ClaimInput, []model.Assertion, error) {
	var inputs []fuse.ClaimInput
	var previous []model.Assertion
	err := e.store.View(func(tx *store.Tx) error {
		claims, err := tx.ClaimsForScope(scope)
		if err != nil {
			return err
		}
		for _, claim := range claims {
			chunk, err := tx.GetChunk(claim.ChunkKey)
			if err != nil {
				return fmt.Errorf("claim %s: %w", claim.Key, err)
			}
			version, err := tx.GetVersion(chunk.VersionKey)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", chunk.Key, err)
			}
			inputs = append(inputs, fuse.ClaimInput{
				Claim:        claim,
				IdentityKey:  version.IdentityKey,
				AnchorBroken: chunk.Health.AnchorBroken,
			})
		}

		current, err := tx.CurrentRun(scope)
		if isNotFoundErr(err) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, key := range current.Assertions {
			assertion, err := tx.GetAssertion(key)
			if err != nil {
				return err
			}
			previous = append(previous, assertion)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return inputs, previous, nil
}

// matchSupersessions maps each new assertion key to the previous-run
// assertion it replaces. Exact fact matches first; then lone value changes
// for a remaining (subject, predicate) pair, which is the common correction
// shape.
func matchSupersessions(previous, next []model.Assertion) map[string]string {
	supersessions := map[string]string{}
	if len(previous) == 0 {
		return supersessions
	}

	factKey := func(a model.Assertion) string {
		return a.Subject + "\x1f" + a.Predicate + "\x1f" + fuse.NormalizeValue(a.Object)
	}
	pairKey := func(a model.Assertion) string {
		return a.Subject + "\x1f" + a.Predicate
	}

	prevByFact := map[string]model.Assertion{}
	for _, p := range previous {
		prevByFact[factKey(p)] = p
	}

	matchedPrev := map[string]bool{}
	var unmatchedNext []model.Assertion
	for _, n := range next {
		if p, ok := prevByFact[factKey(n)]; ok && p.Key != n.Key {
			supersessions[n.Key] = p.Key
			matchedPrev[p.Key] = true
		} else if !ok {
			unmatchedNext = append(unmatchedNext, n)
		}
	}

	prevByPair := map[string][]model.Assertion{}
	for _, p := range previous {
		if !matchedPrev[p.Key] {
			prevByPair[pairKey(p)] = append(prevByPair[pairKey(p)], p)
		}
	}
	nextByPair := map[string][]model.Assertion{}
	for _, n := range unmatchedNext {
		nextByPair[pairKey(n)] = append(nextByPair[pairKey(n)], n)
	}
	for pair, prevs := range prevByPair {
		nexts := nextByPair[pair]
		if len(prevs) == 1 && len(nexts) == 1 && prevs[0].Key != nexts[0].Key {
			supersessions[nexts[0].Key] = prevs[0].Key
		}
	}
	return supersessions
}
