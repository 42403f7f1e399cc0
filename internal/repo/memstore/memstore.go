// Package memstore is an in-process implementation of repo.Store used by the
// memory backend and by service tests. All methods are safe for concurrent
// use; every read returns copies.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/repo"
	"github.com/google/uuid"
)

type Store struct {
	mu sync.Mutex

	cases         map[string]domain.Case
	actors        map[string]domain.Actor
	workshops     map[string]domain.Workshop
	organizations map[string]domain.Organization
	enrollments   []domain.Enrollment
	audit         []domain.AuditEntry
	outbox        map[string]*outboxEntry
	outboxOrder   []string

	now func() time.Time
}

type outboxEntry struct {
	record     repo.OutboxRecord
	leaseUntil time.Time
}

var _ repo.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		cases:         map[string]domain.Case{},
		actors:        map[string]domain.Actor{},
		workshops:     map[string]domain.Workshop{},
		organizations: map[string]domain.Organization{},
		outbox:        map[string]*outboxEntry{},
		now:           time.Now,
	}
}

func (s *Store) PutActor(actor domain.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors[actor.ID] = actor
}

func (s *Store) PutWorkshop(w domain.Workshop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workshops[w.ID] = cloneWorkshop(w)
}

func (s *Store) PutOrganization(o domain.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organizations[o.ID] = o
}

func (s *Store) CreateCase(ctx context.Context, c domain.Case) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cases[c.ID]; exists {
		return fmt.Errorf("case %s: %w", c.ID, repo.ErrConflict)
	}
	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	s.cases[c.ID] = cloneCase(c)
	return nil
}

func (s *Store) GetCase(ctx context.Context, id string) (domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[strings.TrimSpace(id)]
	if !ok {
		return domain.Case{}, repo.ErrNotFound
	}
	return cloneCase(c), nil
}

func (s *Store) ListCases(ctx context.Context, filter repo.CaseFilter) ([]domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Case, 0, len(s.cases))
	for _, c := range s.cases {
		if filter.State != "" && c.State != filter.State {
			continue
		}
		if filter.OrganizationID != "" && c.OrganizationID != filter.OrganizationID {
			continue
		}
		out = append(out, cloneCase(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) UpdateCase(ctx context.Context, id string, patch domain.CasePatch) (domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return domain.Case{}, repo.ErrNotFound
	}
	if patch.State != nil {
		if !patch.State.Valid() {
			return domain.Case{}, fmt.Errorf("%w: state %q", domain.ErrInvalidInput, *patch.State)
		}
		c.State = *patch.State
	}
	if patch.OrganizationID != nil {
		c.OrganizationID = strings.TrimSpace(*patch.OrganizationID)
	}
	if patch.Metadata != nil {
		c.Metadata = c.Metadata.Merge(patch.Metadata)
	}
	c.UpdatedAt = patch.UpdatedAt
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now().UTC()
	}
	s.cases[id] = c
	return cloneCase(c), nil
}

func (s *Store) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[strings.TrimSpace(id)]
	if !ok {
		return domain.Actor{}, repo.ErrNotFound
	}
	return a, nil
}

func (s *Store) GetWorkshop(ctx context.Context, id string) (domain.Workshop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workshops[id]
	if !ok {
		return domain.Workshop{}, repo.ErrNotFound
	}
	return cloneWorkshop(w), nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (domain.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.organizations[id]
	if !ok {
		return domain.Organization{}, repo.ErrNotFound
	}
	return o, nil
}

func (s *Store) ListEnrollments(ctx context.Context, filter repo.EnrollmentFilter) ([]domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Enrollment, 0)
	for _, e := range s.enrollments {
		if matches(e, filter) {
			out = append(out, cloneEnrollment(e))
		}
	}
	return out, nil
}

func (s *Store) GetEnrollment(ctx context.Context, id string) (domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.enrollments {
		if e.ID == id {
			return cloneEnrollment(e), nil
		}
	}
	return domain.Enrollment{}, repo.ErrNotFound
}

func (s *Store) CreateEnrollment(ctx context.Context, in domain.NewEnrollment) (domain.Enrollment, bool, error) {
	if err := in.Validate(); err != nil {
		return domain.Enrollment{}, false, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	held := 0
	for _, e := range s.enrollments {
		if e.CaseID == in.CaseID && e.WorkshopID == in.WorkshopID {
			return cloneEnrollment(e), false, nil
		}
		if e.WorkshopID == in.WorkshopID && e.OrganizationID == in.OrganizationID {
			held++
		}
	}

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	e := domain.Enrollment{
		ID:               uuid.NewString(),
		CaseID:           in.CaseID,
		WorkshopID:       in.WorkshopID,
		OrganizationID:   in.OrganizationID,
		ParticipantCount: in.ParticipantCount,
		SessionNumber:    held + 1,
		CreatedAt:        createdAt,
	}
	s.enrollments = append(s.enrollments, e)
	return cloneEnrollment(e), true, nil
}

func (s *Store) UpdateEnrollment(ctx context.Context, id string, patch domain.EnrollmentPatch) (domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.enrollments {
		if s.enrollments[i].ID != id {
			continue
		}
		e := &s.enrollments[i]
		if patch.ActivityDone != nil {
			e.ActivityDone = *patch.ActivityDone
		}
		if patch.ActivityDoneAt != nil {
			at := patch.ActivityDoneAt.UTC()
			e.ActivityDoneAt = &at
		}
		if patch.ReportRef != nil {
			e.ReportRef = strings.TrimSpace(*patch.ReportRef)
		}
		return cloneEnrollment(*e), nil
	}
	return domain.Enrollment{}, repo.ErrNotFound
}

func (s *Store) LockUnlocked(ctx context.Context, workshopID string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at = at.UTC()
	var locked []string
	for i := range s.enrollments {
		e := &s.enrollments[i]
		if e.WorkshopID != workshopID || e.Locked {
			continue
		}
		e.Locked = true
		lockedAt := at
		e.LockedAt = &lockedAt
		locked = append(locked, e.ID)
	}
	return locked, nil
}

func (s *Store) AppendAudit(ctx context.Context, entry domain.AuditEntry) (int64, error) {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now().UTC()
	}
	if err := entry.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = int64(len(s.audit) + 1)
	entry.Metadata = entry.Metadata.Clone()
	s.audit = append(s.audit, entry)
	return entry.ID, nil
}

// AuditEntries returns a copy of the audit log in append order.
func (s *Store) AuditEntries() []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *Store) Enqueue(ctx context.Context, event domain.NotificationEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := event.ID
	if id == "" {
		id = uuid.NewString()
		event.ID = id
	}
	if _, exists := s.outbox[id]; exists {
		return id, nil
	}
	s.outbox[id] = &outboxEntry{record: repo.OutboxRecord{
		ID:        id,
		Event:     event,
		Status:    repo.OutboxPending,
		CreatedAt: s.now().UTC(),
	}}
	s.outboxOrder = append(s.outboxOrder, id)
	return id, nil
}

func (s *Store) ClaimPending(ctx context.Context, limit int, leaseUntil time.Time) ([]repo.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]repo.OutboxRecord, 0)
	for _, id := range s.outboxOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		entry := s.outbox[id]
		if entry.record.Status != repo.OutboxPending || entry.leaseUntil.After(now) {
			continue
		}
		entry.leaseUntil = leaseUntil
		entry.record.Attempts++
		out = append(out, entry.record)
	}
	return out, nil
}

func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.outbox[id]
	if !ok {
		return repo.ErrNotFound
	}
	at = at.UTC()
	entry.record.Status = repo.OutboxDelivered
	entry.record.DeliveredAt = &at
	entry.record.LastError = ""
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, errMsg string, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.outbox[id]
	if !ok {
		return repo.ErrNotFound
	}
	entry.record.LastError = errMsg
	entry.leaseUntil = time.Time{}
	if terminal {
		entry.record.Status = repo.OutboxFailed
	}
	return nil
}

// Outbox returns a copy of every outbox record in enqueue order.
func (s *Store) Outbox() []repo.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repo.OutboxRecord, 0, len(s.outboxOrder))
	for _, id := range s.outboxOrder {
		out = append(out, s.outbox[id].record)
	}
	return out
}

func matches(e domain.Enrollment, f repo.EnrollmentFilter) bool {
	if f.CaseID != "" && e.CaseID != f.CaseID {
		return false
	}
	if f.WorkshopID != "" && e.WorkshopID != f.WorkshopID {
		return false
	}
	if f.OrganizationID != "" && e.OrganizationID != f.OrganizationID {
		return false
	}
	if f.Locked != nil && e.Locked != *f.Locked {
		return false
	}
	return true
}

func cloneCase(c domain.Case) domain.Case {
	c.Workshops = c.Workshops.Clone()
	c.Metadata = c.Metadata.Clone()
	return c
}

func cloneWorkshop(w domain.Workshop) domain.Workshop {
	if w.MinCapacity != nil {
		v := *w.MinCapacity
		w.MinCapacity = &v
	}
	if w.MaxCapacity != nil {
		v := *w.MaxCapacity
		w.MaxCapacity = &v
	}
	return w
}

func cloneEnrollment(e domain.Enrollment) domain.Enrollment {
	if e.LockedAt != nil {
		v := *e.LockedAt
		e.LockedAt = &v
	}
	if e.ActivityDoneAt != nil {
		v := *e.ActivityDoneAt
		e.ActivityDoneAt = &v
	}
	return e
}
