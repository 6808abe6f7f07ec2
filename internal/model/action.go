package model

import (
	"encoding/json"
	"time"
)

// ActionType enumerates the mutations the ledger can record.
type ActionType string

const (
	ActionSubmitContent ActionType = "submit_content"
	ActionRecordClaim   ActionType = "record_claim"
	ActionFuse          ActionType = "fuse"
	ActionRevalidate    ActionType = "revalidate"
	ActionSetEvidence   ActionType = "set_evidence"
)

// Action is the universal mutation record. Every write to the version store,
// claim store, or fusion engine commits exactly one Action in the same
// transaction as the entity rows it describes. Actions are append-only and
// never deleted.
type Action struct {
	UID        string          `json:"uid"`
	Type       ActionType      `json:"type"`
	Actor      string          `json:"actor"`
	Input      json.RawMessage `json:"input"`
	Output     json.RawMessage `json:"output,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}
