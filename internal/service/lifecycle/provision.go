package lifecycle

import (
	"context"
	"fmt"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/service/provisioning"
)

// Reprovision re-runs provisioning for a case at or past ACCEPTED and
// re-evaluates capacity for every selected workshop. Only coordinators and
// admins may call it. Calling it on a fully provisioned case changes
// nothing.
func (c *Controller) Reprovision(ctx context.Context, caseID, actorID, requestID string) (provisioning.Result, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.Reprovision")
	defer span.End()

	current, err := c.loadCase(ctx, caseID)
	if err != nil {
		return provisioning.Result{}, err
	}
	actor, err := c.loadActor(ctx, actorID)
	if err != nil {
		return provisioning.Result{}, err
	}
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleCoordinator {
		return provisioning.Result{}, fmt.Errorf("%w: role %s may not reprovision cases", domain.ErrForbidden, actor.Role)
	}
	if !current.State.Provisioned() {
		return provisioning.Result{}, fmt.Errorf("%w: case %s is %s and has not been accepted", domain.ErrInvalidInput, current.ID, current.State)
	}

	result := c.provisioner.Reconcile(ctx, current)
	c.logger.InfoContext(ctx, "case reprovisioned",
		"case_id", current.ID,
		"actor_id", actor.ID,
		"created", len(result.Created),
		"existing", len(result.Existing),
		"failed", len(result.Failures),
	)
	c.dispatcher.Fire(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     domain.ActionReprovisioned,
		EntityType: domain.EntityCase,
		EntityID:   current.ID,
		RequestID:  requestID,
		OccurredAt: c.now().UTC(),
		Metadata: domain.Metadata{
			"created":  len(result.Created),
			"existing": len(result.Existing),
			"failed":   len(result.Failures),
		},
	}, nil)
	c.fireProvisioning(ctx, current.ID, requestID, result)
	return result, nil
}

// fireProvisioning audits what a provisioning pass did and announces every
// workshop it locked. Lock and failure entries carry no actor: the system
// performed them.
func (c *Controller) fireProvisioning(ctx context.Context, caseID, requestID string, result provisioning.Result) {
	now := c.now().UTC()
	for _, e := range result.Created {
		c.dispatcher.Fire(ctx, domain.AuditEntry{
			Action:     domain.ActionEnrollmentCreated,
			EntityType: domain.EntityEnrollment,
			EntityID:   e.ID,
			RequestID:  requestID,
			OccurredAt: now,
			Metadata: domain.Metadata{
				"case_id":         e.CaseID,
				"workshop_id":     e.WorkshopID,
				"organization_id": e.OrganizationID,
				"session_number":  e.SessionNumber,
				"participants":    e.ParticipantCount,
			},
		}, nil)
	}

	for _, failure := range result.Failures {
		c.dispatcher.Fire(ctx, domain.AuditEntry{
			Action:     domain.ActionProvisioningFailed,
			EntityType: domain.EntityCase,
			EntityID:   caseID,
			RequestID:  requestID,
			OccurredAt: now,
			Metadata: domain.Metadata{
				"workshop_id": failure.WorkshopID,
				"stage":       failure.Stage,
				"error":       failure.Err.Error(),
			},
		}, nil)
	}

	for _, eval := range result.NewlyLocked() {
		minimum := 0
		if eval.Minimum != nil {
			minimum = *eval.Minimum
		}
		var event *domain.NotificationEvent
		if c.router != nil {
			ready := c.router.WorkshopReady(eval.WorkshopID, eval.NewlyLocked, eval.OrganizationIDs, eval.Total, minimum)
			event = &ready
		}
		c.dispatcher.Fire(ctx, domain.AuditEntry{
			Action:     domain.ActionWorkshopLocked,
			EntityType: domain.EntityWorkshop,
			EntityID:   eval.WorkshopID,
			RequestID:  requestID,
			OccurredAt: now,
			Metadata: domain.Metadata{
				"case_id":        caseID,
				"participants":   eval.Total,
				"min_capacity":   minimum,
				"enrollment_ids": append([]string(nil), eval.NewlyLocked...),
			},
		}, event)
	}
}
