// Package keys derives the deterministic identifiers that make re-ingestion
// idempotent: identical inputs always produce identical keys, across
// processes and time. Key formats are versioned so a future derivation change
// cannot silently collide with existing rows.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/avolkau/evidentia/internal/model"
)

const (
	identityPrefix = "aid:v1:"
	versionPrefix  = "ver:v1:"
	chunkPrefix    = "chk:v1:"
	digestPrefix   = "sha256:"
)

// ContentDigest computes the digest of archived bytes. Empty content is
// unhashable by policy: it would manufacture an identity for nothing.
func ContentDigest(content []byte) (string, error) {
	if len(content) == 0 {
		return "", model.ErrMalformedInput
	}
	sum := sha256.Sum256(content)
	return digestPrefix + hex.EncodeToString(sum[:]), nil
}

// QuoteDigest digests a verbatim quote for chunk key derivation.
func QuoteDigest(quote string) string {
	sum := sha256.Sum256([]byte(quote))
	return digestPrefix + hex.EncodeToString(sum[:])
}

// NormalizeLocator canonicalizes a locator so that trivially different
// spellings of the same URL derive the same identity: lowercase scheme and
// host, default ports stripped, fragment dropped, query left untouched
// (query strings can be load-bearing).
func NormalizeLocator(locator string) string {
	trimmed := strings.TrimSpace(locator)
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" {
		return trimmed
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Host)
	switch {
	case parsed.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case parsed.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	parsed.Host = host
	parsed.Fragment = ""
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return parsed.String()
}

// DeriveIdentityKey derives the stable identity key from the normalized
// locator, publisher, and any extra stable attributes. Stable keys are
// folded in sorted order so map iteration order cannot leak into the key.
func DeriveIdentityKey(locator, publisher string, stableKeys map[string]string) (string, error) {
	normalized := NormalizeLocator(locator)
	if normalized == "" {
		return "", fmt.Errorf("%w: empty locator", model.ErrMalformedInput)
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s", normalized, strings.ToLower(strings.TrimSpace(publisher)))

	names := make([]string, 0, len(stableKeys))
	for name := range stableKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(h, "\x1f%s=%s", name, stableKeys[name])
	}

	return identityPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// DeriveVersionKey derives a version key from the content digest and the
// renderer version that produced the bytes. Wall-clock time is deliberately
// excluded: re-archiving unchanged content must not manufacture a new
// version.
func DeriveVersionKey(contentDigest, rendererVersion string) (string, error) {
	if contentDigest == "" {
		return "", fmt.Errorf("%w: empty content digest", model.ErrMalformedInput)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s", contentDigest, rendererVersion)
	return versionPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// DeriveChunkKey derives a chunk key from its version, anchor fingerprint,
// and quote digest. Re-chunking identical content under the same policy
// yields identical chunk keys.
func DeriveChunkKey(versionKey, anchorFingerprint, quoteDigest string) (string, error) {
	if versionKey == "" || anchorFingerprint == "" {
		return "", fmt.Errorf("%w: version key and anchor fingerprint required", model.ErrMalformedInput)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%s", versionKey, anchorFingerprint, quoteDigest)
	return chunkPrefix + hex.EncodeToString(h.Sum(nil)), nil
}
