package model

import "time"

// Evidence is the governance wrapper around a chunk: license, retention and
// PII handling live here so the chunk itself never has to be deleted. A chunk
// has at most one active Evidence record; retention policy suppresses the
// wrapper, not the underlying chunk.
type Evidence struct {
	ChunkKey    string     `json:"chunk_key"`
	License     string     `json:"license,omitempty"`
	RetainUntil *time.Time `json:"retain_until,omitempty"`
	PII         bool       `json:"pii,omitempty"`
	PIINotes    string     `json:"pii_notes,omitempty"`
	Suppressed  bool       `json:"suppressed,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Active reports whether the record is currently usable: not suppressed and
// not past retention.
func (e Evidence) Active(now time.Time) bool {
	if e.Suppressed {
		return false
	}
	if e.RetainUntil != nil && now.After(*e.RetainUntil) {
		return false
	}
	return true
}
