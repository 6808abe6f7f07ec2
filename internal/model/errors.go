package model

import "errors"

// Error taxonomy. Idempotent dedup (re-submitting identical content) is not
// an error: callers get the existing row back with created=false. Anchor
// drift and fusion gaps are likewise data, not errors.
var (
	// ErrMalformedInput rejects content whose digest cannot be computed
	// (empty bytes). Fatal, raised before any write.
	ErrMalformedInput = errors.New("malformed input: content digest cannot be computed")

	// ErrNotFound is returned for lookups of keys that were never written.
	ErrNotFound = errors.New("not found")

	// ErrUngroundedClaim rejects a claim whose selectors do not resolve
	// against the owning chunk's anchor set at write time. Nothing is
	// persisted.
	ErrUngroundedClaim = errors.New("ungrounded claim: selectors do not resolve against chunk anchors")

	// ErrConcurrentFusion signals that another fusion run holds the scope
	// lock. The caller must retry; the run is never silently skipped.
	ErrConcurrentFusion = errors.New("concurrent fusion: scope lock held by another run")

	// ErrRevisionMismatch signals a lost compare-and-swap on anchor
	// health; the caller re-reads and retries.
	ErrRevisionMismatch = errors.New("anchor health revision mismatch")
)
