// Package audit records every emergency transition and denial in an
// append-only, hash-chained JSONL log. Records are never updated or
// deleted; each line's prev_hash is the SHA-256 of the previous line,
// making removal or edits detectable.
package audit

import "github.com/google/uuid"

// Action is the kind of event recorded.
type Action string

const (
	ActionActivate        Action = "activate"
	ActionAutoActivate    Action = "auto_activate"
	ActionDeactivate      Action = "deactivate"
	ActionDuplicate       Action = "duplicate_activation"
	ActionDenied          Action = "denied"
	ActionPersistFailure  Action = "persist_failure"
	ActionAnomalyDetected Action = "anomaly_detected"
)

// Record is one line in the audit log. All fields are scalars or flat
// slices to guarantee deterministic json.Marshal field order for
// reproducible hashing.
type Record struct {
	ID        string `json:"id"`
	Timestamp string `json:"ts"`
	Action    Action `json:"action"`
	Level     int    `json:"level"`
	Scope     string `json:"scope"`
	Tenant    string `json:"tenant,omitempty"`
	Reason    string `json:"reason"`
	ActorID   string `json:"actor_id"`
	ActorKind string `json:"actor_kind"`

	// ResultSummary describes the adapter outcome: "ok", or
	// "partial: N failed". FailedAdapters names the failures.
	ResultSummary  string   `json:"result,omitempty"`
	FailedAdapters []string `json:"failed_adapters,omitempty"`

	ConfigHash string `json:"config_hash,omitempty"`
	PrevHash   string `json:"prev_hash"`
}

// NewRecordID generates a unique record identifier.
func NewRecordID() string {
	return "ar-" + uuid.NewString()
}
