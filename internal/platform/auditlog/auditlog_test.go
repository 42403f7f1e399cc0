package auditlog

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/casework/internal/platform/auth"
)

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	event := Event{
		OccurredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		ActorID:    "coord-1",
		Action:     "fiche.transition",
		EntityType: "case",
		EntityID:   "case-1",
	}
	a, err := ComputeIntegritySHA256(event, []byte(`{"from":"SUBMITTED"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256: %v", err)
	}
	b, err := ComputeIntegritySHA256(event, []byte(`{"from":"SUBMITTED"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256: %v", err)
	}
	if a != b || len(a) != 64 {
		t.Fatalf("integrity mismatch: %q vs %q", a, b)
	}

	c, err := ComputeIntegritySHA256(event, []byte(`{"from":"ASSIGNED"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256: %v", err)
	}
	if a == c {
		t.Fatalf("expected metadata change to alter integrity hash")
	}
}

func TestComputeIntegritySHA256_EmptyActorIsSystem(t *testing.T) {
	base := Event{
		OccurredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Action:     "workshop.locked",
		EntityType: "workshop",
		EntityID:   "w-1",
	}
	system := base
	system.ActorID = SystemActor

	a, _ := ComputeIntegritySHA256(base, []byte(`{}`))
	b, _ := ComputeIntegritySHA256(system, []byte(`{}`))
	if a != b {
		t.Fatalf("empty actor should hash as %q", SystemActor)
	}
}

func TestEventValidate(t *testing.T) {
	ok := Event{OccurredAt: time.Now(), Action: "a", EntityType: "case", EntityID: "c"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	missing := ok
	missing.EntityID = " "
	if err := missing.Validate(); err == nil {
		t.Fatalf("expected error for blank entity id")
	}
}

func TestInsertQueryShape(t *testing.T) {
	if !strings.Contains(insertQuery, "INSERT INTO audit_entries") {
		t.Fatalf("expected audit_entries insert")
	}
	if !strings.Contains(insertQuery, "RETURNING audit_id") {
		t.Fatalf("expected RETURNING audit_id")
	}
}

func TestDenyEntry(t *testing.T) {
	event := auth.DenyEvent{
		Time:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Status:    401,
		Reason:    "unauthenticated",
		Error:     "unauthenticated",
		RequestID: "rid-1",
		Method:    "POST",
		Path:      "/cases",
	}
	entry := DenyEntry("casework", event, net.ParseIP("10.0.0.1"))
	if entry.Action != "auth.unauthenticated" {
		t.Fatalf("Action=%q", entry.Action)
	}
	if entry.EntityID != "POST /cases" {
		t.Fatalf("EntityID=%q", entry.EntityID)
	}
	if entry.ActorID != "" {
		t.Fatalf("ActorID=%q, want empty", entry.ActorID)
	}
	if err := entry.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
