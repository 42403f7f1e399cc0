// Package provisioning materializes the enrollments of an accepted case.
package provisioning

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/service/capacity"
)

// Failure stages reported on domain.ProvisioningError.
const (
	StageWorkshop   = "workshop"
	StageEnrollment = "enrollment"
	StageCapacity   = "capacity"
)

type Store interface {
	GetWorkshop(ctx context.Context, id string) (domain.Workshop, error)
	CreateEnrollment(ctx context.Context, in domain.NewEnrollment) (domain.Enrollment, bool, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, workshopID string) (capacity.Evaluation, error)
}

// Result describes one Ensure pass. A non-empty Failures does not undo the
// enrollments that were created.
type Result struct {
	Created     []domain.Enrollment
	Existing    []domain.Enrollment
	Evaluations []capacity.Evaluation
	Failures    []*domain.ProvisioningError
}

// NewlyLocked returns the evaluations that locked at least one enrollment.
func (r Result) NewlyLocked() []capacity.Evaluation {
	var out []capacity.Evaluation
	for _, eval := range r.Evaluations {
		if len(eval.NewlyLocked) > 0 {
			out = append(out, eval)
		}
	}
	return out
}

type Provisioner struct {
	store     Store
	evaluator Evaluator
	logger    *slog.Logger
	now       func() time.Time
}

func New(store Store, evaluator Evaluator, logger *slog.Logger) (*Provisioner, error) {
	if store == nil {
		return nil, errors.New("provisioning store is required")
	}
	if evaluator == nil {
		return nil, errors.New("capacity evaluator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{store: store, evaluator: evaluator, logger: logger, now: time.Now}, nil
}

// Ensure creates one enrollment per selected workshop of c, in workshop id
// order, and evaluates capacity for every workshop that gained one. It is a
// no-op for a case without an organization or without selected workshops.
func (p *Provisioner) Ensure(ctx context.Context, c domain.Case) Result {
	return p.run(ctx, c, false)
}

// Reconcile is Ensure that also re-evaluates the workshops whose enrollment
// already existed. It repairs a workshop whose evaluation failed on an
// earlier pass.
func (p *Provisioner) Reconcile(ctx context.Context, c domain.Case) Result {
	return p.run(ctx, c, true)
}

func (p *Provisioner) run(ctx context.Context, c domain.Case, reevaluate bool) Result {
	var res Result
	orgID := strings.TrimSpace(c.OrganizationID)
	selected := c.Workshops.Selected()
	if orgID == "" || len(selected) == 0 {
		p.logger.DebugContext(ctx, "provisioning skipped", "case_id", c.ID, "organization_id", orgID, "workshops", len(selected))
		return res
	}

	for _, workshopID := range selected {
		if _, err := p.store.GetWorkshop(ctx, workshopID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				err = &domain.NotFoundError{Entity: domain.EntityWorkshop, ID: workshopID}
			}
			res.Failures = append(res.Failures, p.fail(ctx, c.ID, workshopID, StageWorkshop, err))
			continue
		}

		enrollment, created, err := p.store.CreateEnrollment(ctx, domain.NewEnrollment{
			CaseID:           c.ID,
			WorkshopID:       workshopID,
			OrganizationID:   orgID,
			ParticipantCount: c.ParticipantCount,
			CreatedAt:        p.now().UTC(),
		})
		if err != nil {
			res.Failures = append(res.Failures, p.fail(ctx, c.ID, workshopID, StageEnrollment, err))
			continue
		}
		if created {
			res.Created = append(res.Created, enrollment)
			p.logger.InfoContext(ctx, "enrollment created",
				"case_id", c.ID,
				"workshop_id", workshopID,
				"organization_id", orgID,
				"session_number", enrollment.SessionNumber,
			)
		} else {
			res.Existing = append(res.Existing, enrollment)
			if !reevaluate {
				continue
			}
		}

		eval, err := p.evaluator.Evaluate(ctx, workshopID)
		if err != nil {
			res.Failures = append(res.Failures, p.fail(ctx, c.ID, workshopID, StageCapacity, err))
			continue
		}
		res.Evaluations = append(res.Evaluations, eval)
	}
	return res
}

func (p *Provisioner) fail(ctx context.Context, caseID, workshopID, stage string, err error) *domain.ProvisioningError {
	perr := &domain.ProvisioningError{CaseID: caseID, WorkshopID: workshopID, Stage: stage, Err: err}
	p.logger.ErrorContext(ctx, "provisioning failed",
		"case_id", caseID,
		"workshop_id", workshopID,
		"stage", stage,
		"error", err,
	)
	return perr
}
