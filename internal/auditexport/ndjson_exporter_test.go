package auditexport

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/casework/internal/domain"
)

func TestNDJSONExporterWritesOneLinePerEntry(t *testing.T) {
	var buf bytes.Buffer
	exp := NewNDJSONExporter(&buf)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := exp.Export(context.Background(), domain.AuditEntry{
		ID:         7,
		ActorID:    "coord-1",
		Action:     domain.ActionTransition,
		EntityType: domain.EntityCase,
		EntityID:   "case-1",
		Metadata:   domain.Metadata{"from": "SUBMITTED", "to": "ASSIGNED"},
		OccurredAt: at,
	}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if err := exp.Export(context.Background(), domain.AuditEntry{
		ID:         8,
		Action:     domain.ActionWorkshopLocked,
		EntityType: domain.EntityWorkshop,
		EntityID:   "w-1",
		OccurredAt: at,
	}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%d, want 2", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first["actor_id"] != "coord-1" || first["occurred_at"] != "2026-03-01T09:00:00Z" {
		t.Fatalf("unexpected first line: %v", first)
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if second["actor_id"] != nil {
		t.Fatalf("system entry actor_id=%v, want null", second["actor_id"])
	}
	if meta, ok := second["metadata"].(map[string]any); !ok || len(meta) != 0 {
		t.Fatalf("metadata=%v, want empty object", second["metadata"])
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Format: "ndjson"}).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := (Config{Format: "csv"}).Validate(); err == nil {
		t.Fatalf("expected error for csv")
	}
}
