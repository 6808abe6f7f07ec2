package model

import "time"

// ArtifactIdentity is the stable handle for a source, regardless of when it
// was fetched. The key is derived from the normalized locator plus publisher,
// so re-observing the same source always resolves to the same identity.
type ArtifactIdentity struct {
	Key        string            `json:"key"`                   // derived identity key
	Locator    string            `json:"locator"`               // normalized locator (URL or path)
	Publisher  string            `json:"publisher,omitempty"`   // publishing entity
	StableKeys map[string]string `json:"stable_keys,omitempty"` // extra stable attributes (DOI, ISBN, ...)
	FirstSeen  time.Time         `json:"first_seen"`
	Superseded bool              `json:"superseded,omitempty"` // marked, never deleted
}

// ArtifactVersion is one immutable snapshot of an identity's content.
// No field is ever mutated after creation; a changed source becomes a new
// version under the same identity.
type ArtifactVersion struct {
	Key           string            `json:"key"`            // derived version key
	IdentityKey   string            `json:"identity_key"`   // owning identity
	ContentDigest string            `json:"content_digest"` // sha256 digest of archived bytes
	StorageRef    string            `json:"storage_ref"`    // opaque pointer into the blob store
	ContentType   string            `json:"content_type,omitempty"`
	RetrievedAt   time.Time         `json:"retrieved_at"`
	Meta          map[string]string `json:"meta,omitempty"` // free-form source metadata (headers, etag, ...)
}
