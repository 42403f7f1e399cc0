package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/casework/internal/domain"
)

// UpdateEnrollment applies the activity and report fields reported by a
// delivery organization. The locked flag is never writable here. Delivery
// actors may only touch their own organization's enrollments.
func (c *Controller) UpdateEnrollment(ctx context.Context, enrollmentID, actorID string, patch domain.EnrollmentPatch, requestID string) (domain.Enrollment, error) {
	enrollmentID = strings.TrimSpace(enrollmentID)
	if enrollmentID == "" {
		return domain.Enrollment{}, fmt.Errorf("%w: enrollment id is required", domain.ErrInvalidInput)
	}
	if patch.Empty() {
		return domain.Enrollment{}, fmt.Errorf("%w: nothing to update", domain.ErrInvalidInput)
	}
	actor, err := c.loadActor(ctx, actorID)
	if err != nil {
		return domain.Enrollment{}, err
	}
	current, err := c.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Enrollment{}, &domain.NotFoundError{Entity: domain.EntityEnrollment, ID: enrollmentID}
		}
		return domain.Enrollment{}, fmt.Errorf("get enrollment %s: %w", enrollmentID, err)
	}
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleCoordinator:
	case domain.RoleDeliveryOrg:
		if actor.OrganizationID != current.OrganizationID {
			return domain.Enrollment{}, fmt.Errorf("%w: enrollment belongs to another organization", domain.ErrForbidden)
		}
	default:
		return domain.Enrollment{}, fmt.Errorf("%w: role %s may not update enrollments", domain.ErrForbidden, actor.Role)
	}

	if patch.ActivityDone != nil && *patch.ActivityDone && patch.ActivityDoneAt == nil && current.ActivityDoneAt == nil {
		at := c.now().UTC()
		patch.ActivityDoneAt = &at
	}
	updated, err := c.store.UpdateEnrollment(ctx, enrollmentID, patch)
	if err != nil {
		return domain.Enrollment{}, fmt.Errorf("update enrollment %s: %w", enrollmentID, err)
	}

	changes := domain.Metadata{}
	if patch.ActivityDone != nil {
		changes["activity_done"] = *patch.ActivityDone
	}
	if patch.ReportRef != nil {
		changes["report_ref"] = updated.ReportRef
	}
	c.dispatcher.Fire(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     domain.ActionEnrollmentUpdated,
		EntityType: domain.EntityEnrollment,
		EntityID:   updated.ID,
		RequestID:  requestID,
		OccurredAt: c.now().UTC(),
		Metadata:   changes,
	}, nil)
	return updated, nil
}
