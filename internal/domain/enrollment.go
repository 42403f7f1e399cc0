package domain

import (
	"errors"
	"strings"
	"time"
)

// Enrollment registers one case into one workshop for one delivery
// organization.
type Enrollment struct {
	ID               string
	CaseID           string
	WorkshopID       string
	OrganizationID   string
	ParticipantCount int
	SessionNumber    int
	Locked           bool
	LockedAt         *time.Time
	ActivityDone     bool
	ActivityDoneAt   *time.Time
	ReportRef        string
	CreatedAt        time.Time
}

// NewEnrollment is the provisioning input. The store assigns the id and the
// session number.
type NewEnrollment struct {
	CaseID           string
	WorkshopID       string
	OrganizationID   string
	ParticipantCount int
	CreatedAt        time.Time
}

func (n NewEnrollment) Validate() error {
	if strings.TrimSpace(n.CaseID) == "" {
		return errors.New("case id is required")
	}
	if strings.TrimSpace(n.WorkshopID) == "" {
		return errors.New("workshop id is required")
	}
	if strings.TrimSpace(n.OrganizationID) == "" {
		return errors.New("organization id is required")
	}
	if n.ParticipantCount < 0 {
		return errors.New("participant count must be >= 0")
	}
	return nil
}

// EnrollmentPatch carries the collaborator-owned fields. Locking is not
// patchable.
type EnrollmentPatch struct {
	ActivityDone   *bool
	ActivityDoneAt *time.Time
	ReportRef      *string
}

func (p EnrollmentPatch) Empty() bool {
	return p.ActivityDone == nil && p.ActivityDoneAt == nil && p.ReportRef == nil
}
