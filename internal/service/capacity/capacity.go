// Package capacity sums the participants enrolled in a workshop and locks
// its enrollments once the workshop's minimum capacity is reached.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/platform/telemetry"
	"github.com/animus-labs/casework/internal/repo"
)

// Store is the subset of repo.Store the aggregator reads and writes.
type Store interface {
	GetWorkshop(ctx context.Context, id string) (domain.Workshop, error)
	ListEnrollments(ctx context.Context, filter repo.EnrollmentFilter) ([]domain.Enrollment, error)
	LockUnlocked(ctx context.Context, workshopID string, at time.Time) ([]string, error)
}

// Evaluation is the outcome of one Evaluate call. NewlyLocked only holds the
// enrollments this call flipped, so at most one caller ever sees a given id.
type Evaluation struct {
	WorkshopID      string
	Total           int
	Minimum         *int
	NewlyLocked     []string
	OrganizationIDs []string
}

// Reached reports whether the workshop has a minimum and meets it.
func (e Evaluation) Reached() bool {
	return e.Minimum != nil && e.Total >= *e.Minimum
}

// Snapshot is the read-only capacity view of a workshop.
type Snapshot struct {
	WorkshopID  string
	Name        string
	Minimum     *int
	Maximum     *int
	Total       int
	Enrollments int
	Locked      int
	Reached     bool
}

type Aggregator struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	locks  metric.Int64Counter
}

type Option func(*Aggregator)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func New(store Store, opts ...Option) (*Aggregator, error) {
	if store == nil {
		return nil, errors.New("capacity store is required")
	}
	a := &Aggregator{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	counter, err := telemetry.Meter("casework/capacity").Int64Counter(
		"casework.enrollments.locked",
		metric.WithDescription("Enrollments locked because their workshop reached minimum capacity."),
	)
	if err != nil {
		counter, _ = noop.NewMeterProvider().Meter("casework/capacity").Int64Counter("casework.enrollments.locked")
	}
	a.locks = counter
	return a, nil
}

// Evaluate recomputes the cumulative participant count of a workshop across
// every organization and, when the minimum is met, locks all unlocked
// enrollments in one store call. Calling it again is harmless.
func (a *Aggregator) Evaluate(ctx context.Context, workshopID string) (Evaluation, error) {
	workshopID = strings.TrimSpace(workshopID)
	workshop, err := a.workshop(ctx, workshopID)
	if err != nil {
		return Evaluation{}, err
	}
	eval := Evaluation{WorkshopID: workshopID, Minimum: workshop.MinCapacity}
	if workshop.MinCapacity == nil {
		return eval, nil
	}

	enrollments, err := a.store.ListEnrollments(ctx, repo.EnrollmentFilter{WorkshopID: workshopID})
	if err != nil {
		return Evaluation{}, fmt.Errorf("list enrollments for workshop %s: %w", workshopID, err)
	}
	hasUnlocked := false
	for _, e := range enrollments {
		eval.Total += e.ParticipantCount
		if !e.Locked {
			hasUnlocked = true
		}
	}
	if !eval.Reached() || !hasUnlocked {
		return eval, nil
	}

	locked, err := a.store.LockUnlocked(ctx, workshopID, a.now().UTC())
	if err != nil {
		return Evaluation{}, fmt.Errorf("lock workshop %s: %w", workshopID, err)
	}
	if len(locked) == 0 {
		return eval, nil
	}
	eval.NewlyLocked = locked
	eval.OrganizationIDs = organizations(enrollments, locked)

	a.locks.Add(ctx, int64(len(locked)), metric.WithAttributes(attribute.String("workshop_id", workshopID)))
	a.logger.InfoContext(ctx, "workshop locked",
		"workshop_id", workshopID,
		"participants", eval.Total,
		"min_capacity", *eval.Minimum,
		"locked", len(locked),
	)
	return eval, nil
}

func (a *Aggregator) Snapshot(ctx context.Context, workshopID string) (Snapshot, error) {
	workshopID = strings.TrimSpace(workshopID)
	workshop, err := a.workshop(ctx, workshopID)
	if err != nil {
		return Snapshot{}, err
	}
	enrollments, err := a.store.ListEnrollments(ctx, repo.EnrollmentFilter{WorkshopID: workshopID})
	if err != nil {
		return Snapshot{}, fmt.Errorf("list enrollments for workshop %s: %w", workshopID, err)
	}
	snap := Snapshot{
		WorkshopID:  workshop.ID,
		Name:        workshop.Name,
		Minimum:     workshop.MinCapacity,
		Maximum:     workshop.MaxCapacity,
		Enrollments: len(enrollments),
	}
	for _, e := range enrollments {
		snap.Total += e.ParticipantCount
		if e.Locked {
			snap.Locked++
		}
	}
	snap.Reached = snap.Minimum != nil && snap.Total >= *snap.Minimum
	return snap, nil
}

func (a *Aggregator) workshop(ctx context.Context, id string) (domain.Workshop, error) {
	if id == "" {
		return domain.Workshop{}, fmt.Errorf("%w: workshop id is required", domain.ErrInvalidInput)
	}
	workshop, err := a.store.GetWorkshop(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Workshop{}, &domain.NotFoundError{Entity: domain.EntityWorkshop, ID: id}
		}
		return domain.Workshop{}, fmt.Errorf("get workshop %s: %w", id, err)
	}
	return workshop, nil
}

func organizations(enrollments []domain.Enrollment, lockedIDs []string) []string {
	locked := make(map[string]struct{}, len(lockedIDs))
	for _, id := range lockedIDs {
		locked[id] = struct{}{}
	}
	seen := map[string]struct{}{}
	var out []string
	for _, e := range enrollments {
		if _, ok := locked[e.ID]; !ok {
			continue
		}
		if _, dup := seen[e.OrganizationID]; dup {
			continue
		}
		seen[e.OrganizationID] = struct{}{}
		out = append(out, e.OrganizationID)
	}
	sort.Strings(out)
	return out
}
