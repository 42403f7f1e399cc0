package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/casework/internal/domain"
)

// NewCase is the intake payload. The case always starts in DRAFT.
type NewCase struct {
	ActorID          string
	Workshops        domain.WorkshopSelection
	ParticipantCount int
	Metadata         domain.Metadata
	RequestID        string
}

// Create records a new DRAFT case initiated by the actor.
func (c *Controller) Create(ctx context.Context, in NewCase) (domain.Case, error) {
	actor, err := c.loadActor(ctx, in.ActorID)
	if err != nil {
		return domain.Case{}, err
	}
	switch actor.Role {
	case domain.RoleOriginator, domain.RoleCoordinator, domain.RoleAdmin:
	default:
		return domain.Case{}, fmt.Errorf("%w: role %s may not open cases", domain.ErrForbidden, actor.Role)
	}

	now := c.now().UTC()
	created := domain.Case{
		ID:               uuid.NewString(),
		State:            domain.StateDraft,
		InitiatorID:      actor.ID,
		Workshops:        in.Workshops.Clone(),
		ParticipantCount: in.ParticipantCount,
		Metadata:         domain.Metadata{}.Merge(in.Metadata),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := created.Validate(); err != nil {
		return domain.Case{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := c.store.CreateCase(ctx, created); err != nil {
		return domain.Case{}, fmt.Errorf("create case: %w", err)
	}
	c.logger.InfoContext(ctx, "case created", "case_id", created.ID, "actor_id", actor.ID)

	c.dispatcher.Fire(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     domain.ActionCaseCreated,
		EntityType: domain.EntityCase,
		EntityID:   created.ID,
		RequestID:  in.RequestID,
		OccurredAt: now,
		Metadata: domain.Metadata{
			"workshops":    strings.Join(created.Workshops.Selected(), ","),
			"participants": created.ParticipantCount,
		},
	}, nil)
	return created, nil
}
