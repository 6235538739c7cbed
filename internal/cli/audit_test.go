package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/opsline/failsafe/internal/audit"
)

// The listing renders records decoded from the wire as generic maps, so
// the lookup keys must match the record's JSON tags exactly.
func TestFormatAuditLine(t *testing.T) {
	rec := audit.Record{
		ID:        audit.NewRecordID(),
		Timestamp: "2026-08-31T10:15:00Z",
		Action:    audit.ActionActivate,
		Level:     1,
		Scope:     "tenant:42",
		Tenant:    "42",
		Reason:    "billing runaway",
		ActorID:   "alice",
		ActorKind: "human",
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}

	line := formatAuditLine(m)
	if !strings.HasPrefix(line, "2026-08-31T10:15:00Z") {
		t.Errorf("line missing timestamp: %q", line)
	}
	if strings.Contains(line, "<nil>") {
		t.Errorf("line has unresolved fields: %q", line)
	}
	for _, want := range []string{"activate", "level=1", "scope=tenant:42", "actor=alice", "billing runaway"} {
		if !strings.Contains(line, want) {
			t.Errorf("line missing %q: %q", want, line)
		}
	}
}
