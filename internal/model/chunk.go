package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// StructuralSelector locates a chunk by its position in the parsed document
// structure, e.g. "html/body/div[1]/p[3]" for HTML or "line:12-18" for plain
// text.
type StructuralSelector struct {
	Path string `json:"path"`
}

// QuoteSelector locates a chunk by its text, with surrounding context to
// disambiguate repeated phrases. Exact is the chunk text itself.
type QuoteSelector struct {
	Prefix string `json:"prefix,omitempty"`
	Exact  string `json:"exact"`
	Suffix string `json:"suffix,omitempty"`
}

// OffsetSelector locates a chunk by rune offsets into the extracted plain
// text of its version.
type OffsetSelector struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// RegionSelector locates a chunk in a paginated binary format (PDF and
// friends) by page number and bounding box.
type RegionSelector struct {
	Page   int     `json:"page"`
	X0     float64 `json:"x0"`
	Y0     float64 `json:"y0"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
}

// AnchorSet is the redundant bundle of locators binding a chunk to its exact
// origin in one content version. At least two independent selector kinds must
// be present so that drift in one can be detected and recovered through
// another.
type AnchorSet struct {
	Structural *StructuralSelector `json:"structural,omitempty"`
	Quote      *QuoteSelector      `json:"quote,omitempty"`
	Offset     *OffsetSelector     `json:"offset,omitempty"`
	Region     *RegionSelector     `json:"region,omitempty"`
}

// SelectorCount returns the number of selector kinds present.
func (a AnchorSet) SelectorCount() int {
	n := 0
	if a.Structural != nil {
		n++
	}
	if a.Quote != nil {
		n++
	}
	if a.Offset != nil {
		n++
	}
	if a.Region != nil {
		n++
	}
	return n
}

// Fingerprint returns a stable digest of the anchor set, used as an input to
// chunk key derivation. Field order is fixed so the fingerprint is
// deterministic across processes.
func (a AnchorSet) Fingerprint() string {
	h := sha256.New()
	if a.Structural != nil {
		fmt.Fprintf(h, "s\x1f%s\x1e", a.Structural.Path)
	}
	if a.Quote != nil {
		fmt.Fprintf(h, "q\x1f%s\x1f%s\x1f%s\x1e", a.Quote.Prefix, a.Quote.Exact, a.Quote.Suffix)
	}
	if a.Offset != nil {
		fmt.Fprintf(h, "o\x1f%d\x1f%d\x1e", a.Offset.Start, a.Offset.End)
	}
	if a.Region != nil {
		fmt.Fprintf(h, "r\x1f%d\x1f%.4f\x1f%.4f\x1f%.4f\x1f%.4f\x1e",
			a.Region.Page, a.Region.X0, a.Region.Y0, a.Region.X1, a.Region.Y1)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AnchorHealth records the current locatability of an anchor set against
// live storage. It is the only mutable field on a Chunk; updates go through
// compare-and-swap on Revision so racing revalidation passes cannot lose
// writes.
type AnchorHealth struct {
	Locatable     bool      `json:"locatable"`
	DriftDetected bool      `json:"drift_detected"`
	FallbackUsed  bool      `json:"fallback_used"`
	AnchorBroken  bool      `json:"anchor_broken"`
	Confidence    float64   `json:"confidence"` // 0.0 (broken) .. 1.0 (clean structural + quote match)
	CheckedAt     time.Time `json:"checked_at"`
	Revision      uint64    `json:"revision"` // CAS counter
}

// Chunk is a delimited span of text extracted from one ArtifactVersion,
// together with its anchor set and anchor health. Everything but Health is
// immutable after creation.
type Chunk struct {
	Key           string       `json:"key"`
	VersionKey    string       `json:"version_key"`
	Seq           int          `json:"seq"` // position within the version's chunking
	Text          string       `json:"text"`
	Anchors       AnchorSet    `json:"anchors"`
	Health        AnchorHealth `json:"health"`
	PolicyVersion string       `json:"policy_version"` // chunking policy that produced the boundaries
}
