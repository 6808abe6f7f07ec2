package store

import (
	"fmt"
	"time"

	"github.com/avolkau/evidentia/internal/model"
)

// fusionLock is the persisted advisory lock record for one scope.
type fusionLock struct {
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AcquireFusionLock takes the scope-level advisory lock that serializes
// fusion runs. A held, unexpired lock from another holder yields
// ErrConcurrentFusion: the caller retries rather than running anyway, which
// would risk a split-brain supersession chain. The TTL bounds how long a
// crashed holder can wedge a scope.
func (s *Store) AcquireFusionLock(scope, holder string, ttl time.Duration) error {
	return s.Update(func(tx *Tx) error {
		key := prefixLock + scope
		var current fusionLock
		err := tx.getJSON(key, &current)
		switch {
		case err == nil:
			if current.Holder != holder && tx.now.Before(current.ExpiresAt) {
				return fmt.Errorf("%w: scope %s held by %s until %s",
					model.ErrConcurrentFusion, scope, current.Holder, current.ExpiresAt.Format(time.RFC3339))
			}
		case !isNotFound(err):
			return err
		}
		return tx.setJSON(key, fusionLock{
			Holder:     holder,
			AcquiredAt: tx.now,
			ExpiresAt:  tx.now.Add(ttl),
		})
	})
}

// ReleaseFusionLock drops the lock if the holder still owns it. Releasing a
// lock that expired and was re-acquired by someone else is a no-op.
func (s *Store) ReleaseFusionLock(scope, holder string) error {
	return s.Update(func(tx *Tx) error {
		key := prefixLock + scope
		var current fusionLock
		err := tx.getJSON(key, &current)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if current.Holder != holder {
			return nil
		}
		return tx.txn.Delete([]byte(key))
	})
}
