// Package repo declares the persistence contracts consumed by the services.
package repo

import (
	"context"
	"time"

	"github.com/animus-labs/casework/internal/domain"
)

var (
	ErrNotFound = domain.ErrNotFound
	ErrConflict = domain.ErrConflict
)

type CaseFilter struct {
	State          domain.State
	OrganizationID string
	Limit          int
}

// EnrollmentFilter fields are ANDed; empty fields are ignored.
type EnrollmentFilter struct {
	CaseID         string
	WorkshopID     string
	OrganizationID string
	Locked         *bool
}

// CaseRepository manages cases. UpdateCase applies the whole patch in one
// write.
type CaseRepository interface {
	CreateCase(ctx context.Context, c domain.Case) error
	GetCase(ctx context.Context, id string) (domain.Case, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]domain.Case, error)
	UpdateCase(ctx context.Context, id string, patch domain.CasePatch) (domain.Case, error)
}

type ActorRepository interface {
	GetActor(ctx context.Context, id string) (domain.Actor, error)
}

// ReferenceRepository resolves workshops and organizations.
type ReferenceRepository interface {
	GetWorkshop(ctx context.Context, id string) (domain.Workshop, error)
	GetOrganization(ctx context.Context, id string) (domain.Organization, error)
}

// EnrollmentRepository manages enrollments.
//
// CreateEnrollment assigns the session number atomically as one more than
// the number of enrollments already held by (workshop, organization). When
// an enrollment already exists for (case, workshop) it is returned with
// created=false.
//
// LockUnlocked flips every unlocked enrollment of a workshop to locked and
// returns the ids it changed. Already locked rows are never touched.
type EnrollmentRepository interface {
	ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]domain.Enrollment, error)
	GetEnrollment(ctx context.Context, id string) (domain.Enrollment, error)
	CreateEnrollment(ctx context.Context, in domain.NewEnrollment) (domain.Enrollment, bool, error)
	UpdateEnrollment(ctx context.Context, id string, patch domain.EnrollmentPatch) (domain.Enrollment, error)
	LockUnlocked(ctx context.Context, workshopID string, at time.Time) ([]string, error)
}

// AuditAppender ensures append-only audit writes.
type AuditAppender interface {
	AppendAudit(ctx context.Context, entry domain.AuditEntry) (int64, error)
}

// OutboxStatus is the delivery state of a queued notification.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxRecord is a persisted notification awaiting delivery.
type OutboxRecord struct {
	ID          string
	Event       domain.NotificationEvent
	Status      OutboxStatus
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// OutboxRepository persists notifications for at-least-once delivery.
// ClaimPending returns up to limit pending records and leases them until
// leaseUntil so concurrent workers do not deliver the same record.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event domain.NotificationEvent) (string, error)
	ClaimPending(ctx context.Context, limit int, leaseUntil time.Time) ([]OutboxRecord, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string, terminal bool) error
}

// Store bundles every repository the casework service needs.
type Store interface {
	CaseRepository
	ActorRepository
	ReferenceRepository
	EnrollmentRepository
	AuditAppender
	OutboxRepository
}
