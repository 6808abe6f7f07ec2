package model

import "time"

// Assertion is a fused, computable statement produced from one or more
// SourceClaims. Assertions are never edited: a later fusion run writes a new
// assertion and points the old one forward through SupersededBy, keeping the
// audit chain strictly forward-linked and acyclic by construction.
type Assertion struct {
	Key        string    `json:"key"`
	Scope      string    `json:"scope"`
	RunID      string    `json:"run_id"` // fusion run that produced it
	Subject    string    `json:"subject"`
	Predicate  string    `json:"predicate"`
	Object     string    `json:"object"`
	Time       TimeRange `json:"time,omitempty"`
	Confidence float64   `json:"confidence"`

	// SupportingClaims and ContradictingClaims partition the bucket's
	// claims relative to the chosen representative value.
	SupportingClaims    []string `json:"supporting_claims"`
	ContradictingClaims []string `json:"contradicting_claims,omitempty"`

	// ConflictsWith lists assertion keys this assertion is in explicit
	// conflict with. Edges are symmetric: both assertions carry them.
	ConflictsWith []string `json:"conflicts_with,omitempty"`

	// Downgraded is set when a supporting claim's anchor is broken; the
	// assertion then must not be rendered as an unqualified fact.
	Downgraded     bool   `json:"downgraded,omitempty"`
	DowngradeCause string `json:"downgrade_cause,omitempty"`

	SupersededBy string    `json:"superseded_by,omitempty"` // forward pointer, set on the old row's successor record
	Supersedes   string    `json:"supersedes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ConflictEdge is an explicit, symmetric conflict between two assertions.
type ConflictEdge struct {
	A      string `json:"a"`
	B      string `json:"b"`
	Tier   string `json:"tier"`   // "claim" (intra-bucket) or "assertion" (cross-bucket)
	Reason string `json:"reason"` // human-readable cause, e.g. "mutually exclusive values"
}

// Gap marks a bucket the fusion engine declined to assert on, so downstream
// planning can see what is missing instead of silently getting nothing.
type Gap struct {
	Scope              string `json:"scope"`
	Subject            string `json:"subject"`
	Predicate          string `json:"predicate"`
	Bucket             string `json:"bucket"`
	Reason             string `json:"reason"` // e.g. "insufficient_sources", "anchor_broken"
	ClaimCount         int    `json:"claim_count"`
	IndependentSources int    `json:"independent_sources"`
}

// FusionRun is one complete fusion pass over a scope.
type FusionRun struct {
	ID         string         `json:"id"`
	Scope      string         `json:"scope"`
	Assertions []string       `json:"assertions"` // keys produced by this run
	Conflicts  []ConflictEdge `json:"conflicts,omitempty"`
	Gaps       []Gap          `json:"gaps,omitempty"`
	ClaimCount int            `json:"claim_count"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}
