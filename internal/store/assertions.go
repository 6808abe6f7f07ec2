package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/avolkau/evidentia/internal/model"
)

// PutAssertion writes an assertion row. Assertions are never rewritten; a
// re-fused bucket gets a new key from its new run.
func (tx *Tx) PutAssertion(assertion model.Assertion) error {
	if ok, err := tx.exists(prefixAssertion + assertion.Key); err != nil {
		return err
	} else if ok {
		return nil
	}
	if err := tx.setJSON(prefixAssertion+assertion.Key, assertion); err != nil {
		return err
	}
	return tx.txn.Set([]byte(prefixScopeAsserts+assertion.Scope+"/"+assertion.Key), nil)
}

// GetAssertion loads an assertion, filling the SupersededBy pointer from the
// supersession index so the stored row itself stays untouched.
func (tx *Tx) GetAssertion(assertionKey string) (model.Assertion, error) {
	var assertion model.Assertion
	if err := tx.getJSON(prefixAssertion+assertionKey, &assertion); err != nil {
		return model.Assertion{}, err
	}
	if item, err := tx.txn.Get([]byte(prefixSupersede + assertionKey)); err == nil {
		successor, err := stringValue(item)
		if err != nil {
			return model.Assertion{}, err
		}
		assertion.SupersededBy = successor
	} else if !isBadgerNotFound(err) {
		return model.Assertion{}, err
	}
	return assertion, nil
}

// MarkSuperseded records that newKey supersedes oldKey. The pointer lives in
// its own row: the chain is strictly forward-linked and the old assertion is
// never mutated, which rules out supersession cycles by construction.
func (tx *Tx) MarkSuperseded(oldKey, newKey string) error {
	if ok, err := tx.exists(prefixAssertion + oldKey); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: assertion %s", model.ErrNotFound, oldKey)
	}
	return tx.txn.Set([]byte(prefixSupersede+oldKey), []byte(newKey))
}

// PutFusionRun writes a fusion run and marks it current for its scope.
func (tx *Tx) PutFusionRun(run model.FusionRun) error {
	if err := tx.setJSON(prefixRun+run.ID, run); err != nil {
		return err
	}
	if err := tx.txn.Set([]byte(prefixScopeRuns+run.Scope+"/"+run.ID), nil); err != nil {
		return err
	}
	return tx.txn.Set([]byte(prefixCurrentRun+run.Scope), []byte(run.ID))
}

// GetFusionRun loads a fusion run by ID.
func (tx *Tx) GetFusionRun(runID string) (model.FusionRun, error) {
	var run model.FusionRun
	err := tx.getJSON(prefixRun+runID, &run)
	return run, err
}

// CurrentRun returns the most recent fusion run for a scope.
func (tx *Tx) CurrentRun(scope string) (model.FusionRun, error) {
	item, err := tx.txn.Get([]byte(prefixCurrentRun + scope))
	if err != nil {
		if isBadgerNotFound(err) {
			return model.FusionRun{}, fmt.Errorf("%w: no fusion run for scope %s", model.ErrNotFound, scope)
		}
		return model.FusionRun{}, err
	}
	runID, err := stringValue(item)
	if err != nil {
		return model.FusionRun{}, err
	}
	return tx.GetFusionRun(runID)
}

// AssertionsForScope returns all assertion rows ever written for a scope,
// current and superseded alike, newest first.
func (tx *Tx) AssertionsForScope(scope string) ([]model.Assertion, error) {
	var assertions []model.Assertion
	prefix := prefixScopeAsserts + scope + "/"
	err := tx.iterate(prefix, func(key string, _ *badger.Item) error {
		assertion, err := tx.GetAssertion(strings.TrimPrefix(key, prefix))
		if err != nil {
			return err
		}
		assertions = append(assertions, assertion)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(assertions, func(i, j int) bool {
		if !assertions[i].CreatedAt.Equal(assertions[j].CreatedAt) {
			return assertions[i].CreatedAt.After(assertions[j].CreatedAt)
		}
		return assertions[i].Key < assertions[j].Key
	})
	return assertions, nil
}
