// Package store persists the provenance chain in an embedded BadgerDB.
// Every row is append-only: versions, claims, assertions and actions are
// written once and never edited. The two deliberate exceptions are the
// per-chunk anchor health record (guarded by compare-and-swap) and the
// evidence governance wrapper.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/avolkau/evidentia/internal/model"
)

// Key prefixes. Index rows point at primary rows; primary rows hold JSON.
const (
	prefixIdentity     = "idn/" // + identityKey -> ArtifactIdentity
	prefixVersion      = "ver/" // + versionKey -> ArtifactVersion
	prefixDigestIdx    = "dix/" // + identityKey + "/" + contentDigest -> versionKey (uniqueness + idempotency)
	prefixVersionList  = "vls/" // + identityKey + "/" + versionKey -> nil
	prefixChunk        = "chk/" // + chunkKey -> Chunk
	prefixChunkIdx     = "cix/" // + versionKey + "/" + seq -> chunkKey
	prefixClaim        = "clm/" // + claimKey -> SourceClaim
	prefixClaimIdx     = "clx/" // + chunkKey + "/" + claimKey -> nil
	prefixScopeClaims  = "csx/" // + scope + "/" + claimKey -> nil
	prefixAssertion    = "ast/" // + assertionKey -> Assertion
	prefixScopeAsserts = "asx/" // + scope + "/" + assertionKey -> nil
	prefixSupersede    = "sup/" // + oldAssertionKey -> newAssertionKey (new row, old row untouched)
	prefixRun          = "run/" // + runID -> FusionRun
	prefixScopeRuns    = "rsx/" // + scope + "/" + runID -> nil
	prefixCurrentRun   = "cur/" // + scope -> runID
	prefixAction       = "act/" // + actionUID -> Action
	prefixEvidence     = "evd/" // + chunkKey -> Evidence
	prefixLock         = "lck/" // + scope -> fusion lock record
)

// Store wraps the BadgerDB instance with the typed row operations the engine
// needs. Safe for concurrent use.
type Store struct {
	db     *badger.DB
	log    *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open opens (or creates) the store. Callers must Close it.
func Open(cfg model.StoreConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store path is required unless in-memory")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	opts = opts.WithLogger(&badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &Store{db: db, log: log}
	if !cfg.InMemory && cfg.GCInterval > 0 {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

// OpenInMemory opens an ephemeral store for tests.
func OpenInMemory(log *slog.Logger) (*Store, error) {
	return Open(model.StoreConfig{InMemory: true}, log)
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
	}
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// Badger asks to be called repeatedly while there is
			// garbage worth collecting.
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.log.Warn("value log gc", "error", err)
					}
					break
				}
			}
		}
	}
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

// Tx is one read-write transaction. All mutations inside a single ledger
// Apply share one Tx, so either everything (entity rows plus the action row)
// commits or nothing does.
type Tx struct {
	txn *badger.Txn
	now time.Time
}

// Now is the transaction timestamp; every row written in one Apply carries
// the same instant.
func (tx *Tx) Now() time.Time {
	return tx.now
}

// Update runs fn in a read-write transaction.
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn, now: time.Now().UTC()})
	})
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn, now: time.Now().UTC()})
	})
}

// setJSON marshals v under key.
func (tx *Tx) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return tx.txn.Set([]byte(key), data)
}

// getJSON unmarshals key into v, mapping badger's missing-key error onto the
// engine taxonomy.
func (tx *Tx) getJSON(key string, v any) error {
	item, err := tx.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", model.ErrNotFound, key)
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// exists reports whether key is present.
func (tx *Tx) exists(key string) (bool, error) {
	_, err := tx.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// iterate walks all keys under prefix, calling fn with each full key.
func (tx *Tx) iterate(prefix string, fn func(key string, item *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := tx.txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		if err := fn(string(item.Key()), item); err != nil {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}

func isBadgerNotFound(err error) bool {
	return errors.Is(err, badger.ErrKeyNotFound)
}

// stringValue reads an item's value as a string.
func stringValue(item *badger.Item) (string, error) {
	var out string
	err := item.Value(func(val []byte) error {
		out = string(val)
		return nil
	})
	return out, err
}
