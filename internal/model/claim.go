package model

import "time"

// Modality expresses how the source itself frames a statement.
type Modality string

const (
	ModalityConfirmed Modality = "confirmed"
	ModalityLikely    Modality = "likely"
	ModalityAlleged   Modality = "alleged"
	ModalityDenied    Modality = "denied"
	ModalityUnknown   Modality = "unknown"
)

// Weight returns the modality's contribution to fusion confidence.
// Stronger framing weighs more; denial weighs against the asserted value.
func (m Modality) Weight() float64 {
	switch m {
	case ModalityConfirmed:
		return 1.0
	case ModalityLikely:
		return 0.8
	case ModalityAlleged:
		return 0.5
	case ModalityDenied:
		return 0.3
	default:
		return 0.4
	}
}

// TimeRange is a possibly approximate time interval. A zero End means an
// instant or open-ended range.
type TimeRange struct {
	Start       time.Time `json:"start,omitempty"`
	End         time.Time `json:"end,omitempty"`
	Approximate bool      `json:"approximate,omitempty"`
}

// Overlaps reports whether two ranges intersect. Zero ranges overlap
// everything, since an unknown time cannot rule out a conflict.
func (r TimeRange) Overlaps(o TimeRange) bool {
	if r.Start.IsZero() || o.Start.IsZero() {
		return true
	}
	rEnd, oEnd := r.End, o.End
	if rEnd.IsZero() {
		rEnd = r.Start
	}
	if oEnd.IsZero() {
		oEnd = o.Start
	}
	return !rEnd.Before(o.Start) && !oEnd.Before(r.Start)
}

// Slots is the structured projection of a claim: the quote stays verbatim,
// these fields are extracted alongside it and may be empty.
type Slots struct {
	Subject   string    `json:"subject,omitempty"`
	Predicate string    `json:"predicate,omitempty"`
	Object    string    `json:"object,omitempty"`
	Time      TimeRange `json:"time,omitempty"`
}

// Empty reports whether no structured slot was extracted.
func (s Slots) Empty() bool {
	return s.Subject == "" && s.Predicate == "" && s.Object == ""
}

// Attribution records who said it, per the source.
type Attribution struct {
	Speaker  string `json:"speaker,omitempty"`
	Role     string `json:"role,omitempty"`
	Reported bool   `json:"reported,omitempty"` // second-hand attribution
}

// SourceClaim is a near-verbatim quoted statement grounded in exactly one
// chunk. Immutable once persisted; the grounding invariant is that Selectors
// resolve against the owning chunk's anchor set at write time.
type SourceClaim struct {
	Key         string      `json:"key"`
	ChunkKey    string      `json:"chunk_key"`
	Scope       string      `json:"scope"` // case scope used for fusion
	Quote       string      `json:"quote"` // verbatim, never normalized
	Selectors   AnchorSet   `json:"selectors"`
	Attribution Attribution `json:"attribution,omitempty"`
	Modality    Modality    `json:"modality"`
	Slots       Slots       `json:"slots,omitempty"`
	Proposer    string      `json:"proposer,omitempty"` // provenance of the extractor that produced it
	Heuristic   string      `json:"heuristic,omitempty"`
	RecordedAt  time.Time   `json:"recorded_at"`
}
