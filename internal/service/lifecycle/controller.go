package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/guard"
	"github.com/animus-labs/casework/internal/platform/telemetry"
	"github.com/animus-labs/casework/internal/repo"
	"github.com/animus-labs/casework/internal/service/provisioning"
)

type Store interface {
	CreateCase(ctx context.Context, c domain.Case) error
	GetCase(ctx context.Context, id string) (domain.Case, error)
	UpdateCase(ctx context.Context, id string, patch domain.CasePatch) (domain.Case, error)
	GetActor(ctx context.Context, id string) (domain.Actor, error)
	GetOrganization(ctx context.Context, id string) (domain.Organization, error)
	GetEnrollment(ctx context.Context, id string) (domain.Enrollment, error)
	UpdateEnrollment(ctx context.Context, id string, patch domain.EnrollmentPatch) (domain.Enrollment, error)
}

type Provisioner interface {
	Ensure(ctx context.Context, c domain.Case) provisioning.Result
	Reconcile(ctx context.Context, c domain.Case) provisioning.Result
}

// Router turns transitions and locks into notification events.
type Router interface {
	Match(c domain.Case, from domain.State, actorID string) *domain.NotificationEvent
	WorkshopReady(workshopID string, lockedIDs []string, organizationIDs []string, total, minimum int) domain.NotificationEvent
}

type Dispatcher interface {
	Fire(ctx context.Context, entry domain.AuditEntry, event *domain.NotificationEvent)
}

type Options struct {
	Store       Store
	Provisioner Provisioner
	Router      Router
	Dispatcher  Dispatcher
	Logger      *slog.Logger
	Now         func() time.Time
}

type Controller struct {
	store       Store
	provisioner Provisioner
	router      Router
	dispatcher  Dispatcher
	logger      *slog.Logger
	now         func() time.Time

	tracer      trace.Tracer
	transitions metric.Int64Counter
}

func New(opts Options) (*Controller, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("lifecycle store is required")
	case opts.Provisioner == nil:
		return nil, errors.New("provisioner is required")
	case opts.Dispatcher == nil:
		return nil, errors.New("dispatcher is required")
	}
	c := &Controller{
		store:       opts.Store,
		provisioner: opts.Provisioner,
		router:      opts.Router,
		dispatcher:  opts.Dispatcher,
		logger:      opts.Logger,
		now:         opts.Now,
		tracer:      telemetry.Tracer("casework/lifecycle"),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	counter, err := telemetry.Meter("casework/lifecycle").Int64Counter(
		"casework.transitions",
		metric.WithDescription("Case transitions by target state and outcome."),
	)
	if err != nil {
		counter, _ = noop.NewMeterProvider().Meter("casework/lifecycle").Int64Counter("casework.transitions")
	}
	c.transitions = counter
	return c, nil
}

// Request asks for one transition. Metadata is merged into the case's
// metadata; a nil value removes a key. OrganizationID is only honoured when
// the target is ASSIGNED.
type Request struct {
	CaseID         string
	Target         domain.State
	ActorID        string
	Metadata       domain.Metadata
	OrganizationID string
	RequestID      string
}

// Transition moves a case to req.Target on behalf of req.ActorID.
func (c *Controller) Transition(ctx context.Context, req Request) (out domain.Case, err error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.Transition", trace.WithAttributes(
		attribute.String("case.id", req.CaseID),
		attribute.String("case.target_state", string(req.Target)),
	))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = outcomeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		c.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("to", string(req.Target)),
			attribute.String("outcome", outcome),
		))
		span.End()
	}()

	current, err := c.loadCase(ctx, req.CaseID)
	if err != nil {
		return domain.Case{}, err
	}
	actor, err := c.loadActor(ctx, req.ActorID)
	if err != nil {
		return domain.Case{}, err
	}
	target, ok := domain.ParseState(string(req.Target))
	if !ok {
		return domain.Case{}, fmt.Errorf("%w: unknown target state %q", domain.ErrInvalidInput, req.Target)
	}
	if err := guard.Check(actor.Role, current.State, target); err != nil {
		c.logger.InfoContext(ctx, "transition rejected",
			"case_id", current.ID,
			"actor_id", actor.ID,
			"role", string(actor.Role),
			"from", string(current.State),
			"to", string(target),
		)
		return domain.Case{}, err
	}

	patch := domain.CasePatch{State: &target, Metadata: req.Metadata, UpdatedAt: c.now().UTC()}
	orgID, err := c.resolveOrganization(ctx, current, target, req.OrganizationID)
	if err != nil {
		return domain.Case{}, err
	}
	if orgID != current.OrganizationID {
		patch.OrganizationID = &orgID
	}

	updated, err := c.store.UpdateCase(ctx, current.ID, patch)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Case{}, &domain.NotFoundError{Entity: domain.EntityCase, ID: current.ID}
		}
		return domain.Case{}, fmt.Errorf("update case %s: %w", current.ID, err)
	}
	c.logger.InfoContext(ctx, "case transitioned",
		"case_id", updated.ID,
		"actor_id", actor.ID,
		"from", string(current.State),
		"to", string(updated.State),
	)

	var result provisioning.Result
	if target == domain.AcceptanceMilestone {
		result = c.provisioner.Ensure(ctx, updated)
		span.SetAttributes(
			attribute.Int("provisioning.created", len(result.Created)),
			attribute.Int("provisioning.failed", len(result.Failures)),
		)
	}

	entry := domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     domain.ActionTransition,
		EntityType: domain.EntityCase,
		EntityID:   updated.ID,
		RequestID:  req.RequestID,
		OccurredAt: updated.UpdatedAt,
		Metadata: domain.Metadata{
			"from":     string(current.State),
			"to":       string(updated.State),
			"actor_id": actor.ID,
			"role":     string(actor.Role),
			"metadata": map[string]any(req.Metadata.Clone()),
		},
	}
	var event *domain.NotificationEvent
	if c.router != nil {
		event = c.router.Match(updated, current.State, actor.ID)
	}
	c.dispatcher.Fire(ctx, entry, event)
	c.fireProvisioning(ctx, updated.ID, req.RequestID, result)

	return updated, nil
}

// AllowedTransitions lists the targets the actor may move the case to.
func (c *Controller) AllowedTransitions(ctx context.Context, caseID, actorID string) (domain.Case, []domain.State, error) {
	current, err := c.loadCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, nil, err
	}
	actor, err := c.loadActor(ctx, actorID)
	if err != nil {
		return domain.Case{}, nil, err
	}
	return current, guard.Allowed(actor.Role, current.State), nil
}

func (c *Controller) resolveOrganization(ctx context.Context, current domain.Case, target domain.State, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if target != domain.StateAssigned {
		if requested != "" && requested != current.OrganizationID {
			return "", fmt.Errorf("%w: organization can only be set when assigning", domain.ErrInvalidInput)
		}
		return current.OrganizationID, nil
	}
	orgID := requested
	if orgID == "" {
		orgID = current.OrganizationID
	}
	if orgID == "" {
		return "", fmt.Errorf("%w: organization_id is required to assign a case", domain.ErrInvalidInput)
	}
	if _, err := c.store.GetOrganization(ctx, orgID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", &domain.NotFoundError{Entity: domain.EntityOrganization, ID: orgID}
		}
		return "", fmt.Errorf("get organization %s: %w", orgID, err)
	}
	return orgID, nil
}

func (c *Controller) loadCase(ctx context.Context, id string) (domain.Case, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Case{}, fmt.Errorf("%w: case id is required", domain.ErrInvalidInput)
	}
	found, err := c.store.GetCase(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Case{}, &domain.NotFoundError{Entity: domain.EntityCase, ID: id}
		}
		return domain.Case{}, fmt.Errorf("get case %s: %w", id, err)
	}
	return found, nil
}

func (c *Controller) loadActor(ctx context.Context, id string) (domain.Actor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Actor{}, fmt.Errorf("%w: actor id is required", domain.ErrInvalidInput)
	}
	actor, err := c.store.GetActor(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Actor{}, &domain.NotFoundError{Entity: domain.EntityActor, ID: id}
		}
		return domain.Actor{}, fmt.Errorf("get actor %s: %w", id, err)
	}
	return actor, nil
}

func outcomeOf(err error) string {
	var notAllowed *domain.TransitionNotAllowedError
	switch {
	case errors.As(err, &notAllowed):
		return "not_allowed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
