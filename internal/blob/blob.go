// Package blob archives raw source bytes under their content digest. Blobs
// are written once and never rewritten or deleted; the digest in the name is
// the integrity check, so a re-archive of identical bytes is a no-op.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gocache "github.com/patrickmn/go-cache"

	"github.com/avolkau/evidentia/internal/model"
)

const refPrefix = "blob:sha256:"

// Store is a content-addressed blob store: a digest-named file tree fronted
// by an in-memory cache so repeated locate passes over the same version do
// not hit the disk every time.
type Store struct {
	dir    string
	memory *gocache.Cache
}

// NewStore creates a blob store rooted at dir.
func NewStore(cfg model.BlobConfig) *Store {
	ttl := cfg.MemoryTTL
	sweep := cfg.MemorySweep
	if sweep <= 0 {
		sweep = ttl
	}
	return &Store{
		dir:    cfg.Dir,
		memory: gocache.New(ttl, sweep),
	}
}

// Put archives content and returns its storage reference. Idempotent: the
// same bytes always land at the same path, and an existing file is left
// untouched.
func (s *Store) Put(content []byte) (string, error) {
	if len(content) == 0 {
		return "", model.ErrMalformedInput
	}
	sum := sha256.Sum256(content)
	hexDigest := hex.EncodeToString(sum[:])
	ref := refPrefix + hexDigest

	path := s.path(hexDigest)
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	// Write-then-rename so a crash mid-write never leaves a truncated
	// blob under its final digest name.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize blob: %w", err)
	}

	s.memory.Set(ref, content, gocache.DefaultExpiration)
	return ref, nil
}

// Get returns the archived bytes for a storage reference, promoting disk
// reads into the memory layer.
func (s *Store) Get(ref string) ([]byte, error) {
	if val, found := s.memory.Get(ref); found {
		return val.([]byte), nil
	}

	hexDigest, ok := parseRef(ref)
	if !ok {
		return nil, fmt.Errorf("%w: bad blob ref %q", model.ErrNotFound, ref)
	}

	content, err := os.ReadFile(s.path(hexDigest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: blob %s", model.ErrNotFound, ref)
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}

	// Verify on the way out: a blob that no longer matches its name is
	// corrupt storage, not a usable version.
	sum := sha256.Sum256(content)
	if hex.EncodeToString(sum[:]) != hexDigest {
		return nil, fmt.Errorf("blob %s failed digest verification", ref)
	}

	s.memory.Set(ref, content, gocache.DefaultExpiration)
	return content, nil
}

// Has reports whether a blob exists for the reference.
func (s *Store) Has(ref string) bool {
	if _, found := s.memory.Get(ref); found {
		return true
	}
	hexDigest, ok := parseRef(ref)
	if !ok {
		return false
	}
	_, err := os.Stat(s.path(hexDigest))
	return err == nil
}

// Digest returns the "sha256:..." content digest encoded in a storage ref.
func Digest(ref string) (string, bool) {
	hexDigest, ok := parseRef(ref)
	if !ok {
		return "", false
	}
	return "sha256:" + hexDigest, true
}

func (s *Store) path(hexDigest string) string {
	// Two-level fanout keeps directories a sane size.
	return filepath.Join(s.dir, "sha256", hexDigest[:2], hexDigest)
}

func parseRef(ref string) (string, bool) {
	hexDigest, ok := strings.CutPrefix(ref, refPrefix)
	if !ok || len(hexDigest) != 64 {
		return "", false
	}
	return hexDigest, true
}
