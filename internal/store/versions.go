package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/avolkau/evidentia/internal/model"
)

// CreateIdentity writes an identity row unless one with the same derived key
// already exists, in which case the existing row is returned unchanged.
// Concurrent workers racing on the same source converge on one identity.
func (tx *Tx) CreateIdentity(identity model.ArtifactIdentity) (model.ArtifactIdentity, bool, error) {
	var existing model.ArtifactIdentity
	err := tx.getJSON(prefixIdentity+identity.Key, &existing)
	if err == nil {
		return existing, false, nil
	}
	if !isNotFound(err) {
		return model.ArtifactIdentity{}, false, err
	}

	identity.FirstSeen = tx.now
	if err := tx.setJSON(prefixIdentity+identity.Key, identity); err != nil {
		return model.ArtifactIdentity{}, false, err
	}
	return identity, true, nil
}

// GetIdentity loads an identity by key.
func (tx *Tx) GetIdentity(identityKey string) (model.ArtifactIdentity, error) {
	var identity model.ArtifactIdentity
	err := tx.getJSON(prefixIdentity+identityKey, &identity)
	return identity, err
}

// CreateVersion writes a version row under its identity. The
// (identity, content digest) index is the load-bearing uniqueness
// constraint: a byte-identical re-fetch returns the existing version with
// created=false instead of manufacturing a duplicate row.
func (tx *Tx) CreateVersion(version model.ArtifactVersion) (model.ArtifactVersion, bool, error) {
	if ok, err := tx.exists(prefixIdentity + version.IdentityKey); err != nil {
		return model.ArtifactVersion{}, false, err
	} else if !ok {
		return model.ArtifactVersion{}, false, fmt.Errorf("%w: identity %s", model.ErrNotFound, version.IdentityKey)
	}

	digestKey := prefixDigestIdx + version.IdentityKey + "/" + version.ContentDigest
	if item, err := tx.txn.Get([]byte(digestKey)); err == nil {
		existingKey, err := stringValue(item)
		if err != nil {
			return model.ArtifactVersion{}, false, err
		}
		existing, err := tx.GetVersion(existingKey)
		return existing, false, err
	} else if !isBadgerNotFound(err) {
		return model.ArtifactVersion{}, false, err
	}

	version.RetrievedAt = tx.now
	if err := tx.setJSON(prefixVersion+version.Key, version); err != nil {
		return model.ArtifactVersion{}, false, err
	}
	if err := tx.txn.Set([]byte(digestKey), []byte(version.Key)); err != nil {
		return model.ArtifactVersion{}, false, err
	}
	listKey := prefixVersionList + version.IdentityKey + "/" + version.Key
	if err := tx.txn.Set([]byte(listKey), nil); err != nil {
		return model.ArtifactVersion{}, false, err
	}
	return version, true, nil
}

// GetVersion loads a version by key.
func (tx *Tx) GetVersion(versionKey string) (model.ArtifactVersion, error) {
	var version model.ArtifactVersion
	err := tx.getJSON(prefixVersion+versionKey, &version)
	return version, err
}

// VersionChain returns every version of an identity, oldest first.
func (tx *Tx) VersionChain(identityKey string) ([]model.ArtifactVersion, error) {
	var versions []model.ArtifactVersion
	prefix := prefixVersionList + identityKey + "/"
	err := tx.iterate(prefix, func(key string, _ *badger.Item) error {
		versionKey := strings.TrimPrefix(key, prefix)
		version, err := tx.GetVersion(versionKey)
		if err != nil {
			return err
		}
		versions = append(versions, version)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].RetrievedAt.Before(versions[j].RetrievedAt)
	})
	return versions, nil
}
