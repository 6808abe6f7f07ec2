// Package fuse clusters anchored source claims into computable assertions.
// Disagreement is preserved, never averaged away: mutually exclusive values
// become separate assertions joined by explicit conflict edges, and buckets
// without enough independent sourcing become gaps instead of confident
// output.
package fuse

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/avolkau/evidentia/internal/model"
)

// ClaimInput is one claim prepared for fusion: the claim itself, the
// artifact identity it ultimately descends from (for independence counting),
// and whether its anchor is currently broken.
type ClaimInput struct {
	Claim        model.SourceClaim
	IdentityKey  string
	AnchorBroken bool
}

// Result is the outcome of one fusion pass, before persistence.
type Result struct {
	Assertions []model.Assertion
	Conflicts  []model.ConflictEdge
	Gaps       []model.Gap
}

// Fuser implements the fusion pass. Pure: same claims, same config, same
// output, which is what makes re-running fusion safe.
type Fuser struct {
	cfg model.FusionConfig
	log *slog.Logger
}

// New creates a fuser.
func New(cfg model.FusionConfig, log *slog.Logger) *Fuser {
	if log == nil {
		log = slog.Default()
	}
	return &Fuser{cfg: cfg, log: log}
}

// bucketKey identifies one (subject, predicate, time bucket) block.
type bucketKey struct {
	Subject   string
	Predicate string
	Bucket    string
}

// cluster is a group of claims agreeing on one value within a bucket.
type cluster struct {
	Object string // representative raw value
	Norm   string // normalized form used for matching
	Claims []ClaimInput
}

// Fuse runs blocking, clustering, confidence scoring, and conflict
// detection over a scope's claims. Claims without structured subject and
// predicate slots stay anchored quotes: they cannot be computed over and are
// left out of fusion entirely rather than guessed at.
func (f *Fuser) Fuse(scope, runID string, claims []ClaimInput, now time.Time) Result {
	var result Result

	buckets := map[bucketKey][]ClaimInput{}
	var bucketOrder []bucketKey
	for _, in := range claims {
		slots := in.Claim.Slots
		if slots.Subject == "" || slots.Predicate == "" {
			continue
		}
		key := bucketKey{
			Subject:   NormalizeValue(slots.Subject),
			Predicate: NormalizeValue(slots.Predicate),
			Bucket:    f.bucketLabel(slots.Time),
		}
		if _, seen := buckets[key]; !seen {
			bucketOrder = append(bucketOrder, key)
		}
		buckets[key] = append(buckets[key], in)
	}
	sort.Slice(bucketOrder, func(i, j int) bool {
		a, b := bucketOrder[i], bucketOrder[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Predicate != b.Predicate {
			return a.Predicate < b.Predicate
		}
		return a.Bucket < b.Bucket
	})

	for _, key := range bucketOrder {
		bucketClaims := buckets[key]
		clusters := f.clusterByValue(bucketClaims)

		var bucketAssertions []*model.Assertion
		for _, c := range clusters {
			assertion := f.buildAssertion(scope, runID, key, c, bucketClaims, now)

			independent := countIdentities(c.Claims)
			if independent < f.cfg.MinIndependentSources {
				result.Gaps = append(result.Gaps, model.Gap{
					Scope:              scope,
					Subject:            key.Subject,
					Predicate:          key.Predicate,
					Bucket:             key.Bucket,
					Reason:             "insufficient_sources",
					ClaimCount:         len(c.Claims),
					IndependentSources: independent,
				})
			}
			if assertion.Downgraded {
				result.Gaps = append(result.Gaps, model.Gap{
					Scope:              scope,
					Subject:            key.Subject,
					Predicate:          key.Predicate,
					Bucket:             key.Bucket,
					Reason:             "anchor_broken",
					ClaimCount:         len(c.Claims),
					IndependentSources: independent,
				})
			}
			bucketAssertions = append(bucketAssertions, assertion)
		}

		// Claim-tier conflicts: multiple clusters in one bucket are
		// mutually exclusive values for the same thing.
		for i := 0; i < len(bucketAssertions); i++ {
			for j := i + 1; j < len(bucketAssertions); j++ {
				f.addConflict(&result, bucketAssertions[i], bucketAssertions[j],
					"claim", "mutually exclusive values within one bucket")
			}
		}
		for _, a := range bucketAssertions {
			result.Assertions = append(result.Assertions, *a)
		}
	}

	// Assertion-tier conflicts: values that remain mutually exclusive
	// across buckets, e.g. the same event reported at incompatible times.
	f.detectCrossBucketConflicts(&result)

	f.log.Info("fusion pass complete",
		"scope", scope,
		"run", runID,
		"assertions", len(result.Assertions),
		"conflicts", len(result.Conflicts),
		"gaps", len(result.Gaps))
	return result
}

// clusterByValue groups a bucket's claims by normalized object similarity.
// Greedy and order-stable: claims join the first cluster whose
// representative they match.
func (f *Fuser) clusterByValue(claims []ClaimInput) []*cluster {
	ordered := make([]ClaimInput, len(claims))
	copy(ordered, claims)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Claim.Key < ordered[j].Claim.Key })

	var clusters []*cluster
	for _, in := range ordered {
		norm := NormalizeValue(in.Claim.Slots.Object)
		placed := false
		for _, c := range clusters {
			if norm == c.Norm || tokenSimilarity(norm, c.Norm) >= f.cfg.SimilarityThreshold {
				c.Claims = append(c.Claims, in)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, &cluster{
				Object: in.Claim.Slots.Object,
				Norm:   norm,
				Claims: []ClaimInput{in},
			})
		}
	}

	// Representative value: the most frequent raw spelling, ties broken
	// lexicographically for determinism.
	for _, c := range clusters {
		counts := map[string]int{}
		for _, in := range c.Claims {
			counts[in.Claim.Slots.Object]++
		}
		best := c.Object
		for value, n := range counts {
			if n > counts[best] || (n == counts[best] && value < best) {
				best = value
			}
		}
		c.Object = best
	}
	return clusters
}

// buildAssertion scores one cluster and partitions the bucket's claims into
// supporting and contradicting sets relative to the chosen value.
func (f *Fuser) buildAssertion(scope, runID string, key bucketKey, c *cluster, bucketClaims []ClaimInput, now time.Time) *model.Assertion {
	independent := countIdentities(c.Claims)
	confidence := f.confidence(independent, modalityWeight(c.Claims))

	assertion := &model.Assertion{
		Key:        assertionKey(scope, runID, key, c.Norm),
		Scope:      scope,
		RunID:      runID,
		Subject:    key.Subject,
		Predicate:  key.Predicate,
		Object:     c.Object,
		Time:       unionTime(c.Claims),
		Confidence: confidence,
		CreatedAt:  now,
	}

	inCluster := map[string]bool{}
	for _, in := range c.Claims {
		inCluster[in.Claim.Key] = true
		assertion.SupportingClaims = append(assertion.SupportingClaims, in.Claim.Key)
		if in.AnchorBroken {
			assertion.Downgraded = true
			assertion.DowngradeCause = "anchor_broken"
		}
	}
	for _, in := range bucketClaims {
		if !inCluster[in.Claim.Key] {
			assertion.ContradictingClaims = append(assertion.ContradictingClaims, in.Claim.Key)
		}
	}
	sort.Strings(assertion.SupportingClaims)
	sort.Strings(assertion.ContradictingClaims)

	// An assertion resting on a broken anchor can no longer be traced to
	// its origin bytes, so it must not clear the fact threshold no
	// matter how well corroborated it looks.
	if assertion.Downgraded && assertion.Confidence >= f.cfg.FactThreshold {
		assertion.Confidence = f.cfg.GapFloor
	}
	if independent < f.cfg.MinIndependentSources && assertion.Confidence > f.cfg.GapFloor {
		assertion.Confidence = f.cfg.GapFloor
	}
	return assertion
}

// confidence is the documented scoring function:
//
//	confidence = modalityWeight * (1 - 0.5^independentSources)
//
// Monotonic in both inputs: more independent sources and stronger modality
// never lower the score. One source gives at most half the modality weight,
// so an uncorroborated claim cannot clear a fact threshold above 0.5.
func (f *Fuser) confidence(independentSources int, weight float64) float64 {
	if independentSources <= 0 {
		return 0
	}
	scale := 1.0
	for i := 0; i < independentSources; i++ {
		scale *= 0.5
	}
	return weight * (1.0 - scale)
}

// IsFact reports whether a confidence clears the configured fact threshold.
func (f *Fuser) IsFact(confidence float64) bool {
	return confidence >= f.cfg.FactThreshold
}

func (f *Fuser) bucketLabel(tr model.TimeRange) string {
	if tr.Start.IsZero() {
		return "unbounded"
	}
	if f.cfg.TimeBucket <= 0 {
		return tr.Start.UTC().Format(time.RFC3339)
	}
	return tr.Start.UTC().Truncate(f.cfg.TimeBucket).Format(time.RFC3339)
}

// addConflict links two assertions with a symmetric conflict edge.
func (f *Fuser) addConflict(result *Result, a, b *model.Assertion, tier, reason string) {
	a.ConflictsWith = append(a.ConflictsWith, b.Key)
	b.ConflictsWith = append(b.ConflictsWith, a.Key)
	result.Conflicts = append(result.Conflicts, model.ConflictEdge{
		A:      a.Key,
		B:      b.Key,
		Tier:   tier,
		Reason: reason,
	})
}

// detectCrossBucketConflicts finds assertions in different buckets that
// still exclude each other: same subject and predicate, different values,
// overlapping (or unknown) time ranges.
func (f *Fuser) detectCrossBucketConflicts(result *Result) {
	for i := range result.Assertions {
		for j := i + 1; j < len(result.Assertions); j++ {
			a, b := &result.Assertions[i], &result.Assertions[j]
			if a.Subject != b.Subject || a.Predicate != b.Predicate {
				continue
			}
			if alreadyConflicting(a, b) {
				continue
			}
			if NormalizeValue(a.Object) == NormalizeValue(b.Object) {
				continue
			}
			if !a.Time.Overlaps(b.Time) {
				continue
			}
			f.addConflict(result, a, b, "assertion", "mutually exclusive values across buckets")
		}
	}
}

func alreadyConflicting(a, b *model.Assertion) bool {
	for _, key := range a.ConflictsWith {
		if key == b.Key {
			return true
		}
	}
	return false
}

// countIdentities counts distinct artifact identities: many claims from one
// identity still count once toward source diversity.
func countIdentities(claims []ClaimInput) int {
	seen := map[string]bool{}
	for _, in := range claims {
		seen[in.IdentityKey] = true
	}
	return len(seen)
}

// modalityWeight is the strongest modality among a cluster's claims.
func modalityWeight(claims []ClaimInput) float64 {
	weight := 0.0
	for _, in := range claims {
		if w := in.Claim.Modality.Weight(); w > weight {
			weight = w
		}
	}
	return weight
}

// unionTime spans all claim time ranges in a cluster, flagged approximate
// when the sources do not agree exactly.
func unionTime(claims []ClaimInput) model.TimeRange {
	var union model.TimeRange
	for _, in := range claims {
		tr := in.Claim.Slots.Time
		if tr.Start.IsZero() {
			continue
		}
		if union.Start.IsZero() {
			union = tr
			continue
		}
		if !tr.Start.Equal(union.Start) || !tr.End.Equal(union.End) {
			union.Approximate = true
		}
		if tr.Start.Before(union.Start) {
			union.Start = tr.Start
		}
		end := tr.End
		if end.IsZero() {
			end = tr.Start
		}
		if end.After(union.End) {
			union.End = end
		}
	}
	return union
}

// NormalizeValue canonicalizes a slot value for comparison: lowercased,
// whitespace collapsed.
func NormalizeValue(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// tokenSimilarity is Jaccard similarity over whitespace tokens.
func tokenSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	setA := map[string]bool{}
	for _, tok := range strings.Fields(a) {
		setA[tok] = true
	}
	setB := map[string]bool{}
	for _, tok := range strings.Fields(b) {
		setB[tok] = true
	}
	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// assertionKey derives a deterministic key for one cluster's assertion
// within one run.
func assertionKey(scope, runID string, key bucketKey, normObject string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s",
		scope, runID, key.Subject, key.Predicate, key.Bucket, normObject)
	return "ast:v1:" + hex.EncodeToString(h.Sum(nil))
}
