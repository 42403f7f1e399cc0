package domain

import (
	"errors"
	"strings"
	"time"
)

// Audit actions.
const (
	ActionTransition         = "fiche.transition"
	ActionProvisioningFailed = "enrollment.provisioning_failed"
	ActionEnrollmentCreated  = "enrollment.created"
	ActionWorkshopLocked     = "workshop.locked"
	ActionEnrollmentUpdated  = "enrollment.updated"
	ActionCaseCreated        = "fiche.created"
	ActionReprovisioned      = "fiche.reprovisioned"
)

// Audit entity types.
const (
	EntityCase         = "case"
	EntityEnrollment   = "enrollment"
	EntityWorkshop     = "workshop"
	EntityActor        = "actor"
	EntityOrganization = "organization"
)

// AuditEntry is append-only. An empty ActorID means the system acted.
type AuditEntry struct {
	ID         int64
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	RequestID  string
	Metadata   Metadata
	OccurredAt time.Time
}

func (e AuditEntry) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("occurred_at is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("action is required")
	}
	if strings.TrimSpace(e.EntityType) == "" {
		return errors.New("entity_type is required")
	}
	if strings.TrimSpace(e.EntityID) == "" {
		return errors.New("entity_id is required")
	}
	return nil
}
