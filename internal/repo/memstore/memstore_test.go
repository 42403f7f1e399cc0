package memstore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/repo"
)

func newCase(id string) domain.Case {
	return domain.Case{
		ID:               id,
		State:            domain.StateDraft,
		InitiatorID:      "orig-1",
		Workshops:        domain.WorkshopSelection{"w-1": true},
		ParticipantCount: 3,
	}
}

func TestCaseCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateCase(ctx, newCase("c-1")))
	assert.ErrorIs(t, s.CreateCase(ctx, newCase("c-1")), repo.ErrConflict)

	_, err := s.GetCase(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	state := domain.StateSubmitted
	org := "org-x"
	updated, err := s.UpdateCase(ctx, "c-1", domain.CasePatch{
		State:          &state,
		OrganizationID: &org,
		Metadata:       domain.Metadata{"note": "ok"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateSubmitted, updated.State)
	assert.Equal(t, "org-x", updated.OrganizationID)
	assert.Equal(t, "ok", updated.Metadata["note"])

	got, err := s.GetCase(ctx, "c-1")
	require.NoError(t, err)
	got.Workshops["w-2"] = true
	again, err := s.GetCase(ctx, "c-1")
	require.NoError(t, err)
	assert.NotContains(t, again.Workshops, "w-2", "reads must return copies")
}

func TestCreateEnrollmentAssignsContiguousSessionNumbers(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, created, err := s.CreateEnrollment(ctx, domain.NewEnrollment{CaseID: "c-1", WorkshopID: "w-1", OrganizationID: "org-x", ParticipantCount: 2})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, first.SessionNumber)

	second, created, err := s.CreateEnrollment(ctx, domain.NewEnrollment{CaseID: "c-2", WorkshopID: "w-1", OrganizationID: "org-x", ParticipantCount: 2})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, second.SessionNumber)

	other, _, err := s.CreateEnrollment(ctx, domain.NewEnrollment{CaseID: "c-3", WorkshopID: "w-1", OrganizationID: "org-y", ParticipantCount: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, other.SessionNumber)

	dup, created, err := s.CreateEnrollment(ctx, domain.NewEnrollment{CaseID: "c-1", WorkshopID: "w-1", OrganizationID: "org-x", ParticipantCount: 9})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, dup.ID)
}

func TestCreateEnrollmentConcurrentNumbersAreUnique(t *testing.T) {
	ctx := context.Background()
	s := New()

	const n = 20
	var wg sync.WaitGroup
	numbers := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, _, err := s.CreateEnrollment(ctx, domain.NewEnrollment{
				CaseID:           "c-" + string(rune('a'+i)),
				WorkshopID:       "w-1",
				OrganizationID:   "org-x",
				ParticipantCount: 1,
			})
			if err == nil {
				numbers <- e.SessionNumber
			}
		}(i)
	}
	wg.Wait()
	close(numbers)

	seen := map[int]bool{}
	for num := range numbers {
		assert.False(t, seen[num], "duplicate session number %d", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)
	for i := 1; i <= n; i++ {
		assert.True(t, seen[i], "missing session number %d", i)
	}
}

func TestLockUnlockedIsMonotonicAndReportsOnlyFlippedRows(t *testing.T) {
	ctx := context.Background()
	s := New()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	a, _, err := s.CreateEnrollment(ctx, domain.NewEnrollment{CaseID: "c-1", WorkshopID: "w-1", OrganizationID: "org-x", ParticipantCount: 2})
	require.NoError(t, err)
	_, _, err = s.CreateEnrollment(ctx, domain.NewEnrollment{CaseID: "c-2", WorkshopID: "w-2", OrganizationID: "org-x", ParticipantCount: 2})
	require.NoError(t, err)

	locked, err := s.LockUnlocked(ctx, "w-1", at)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, locked)

	locked, err = s.LockUnlocked(ctx, "w-1", at.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, locked)

	got, err := s.GetEnrollment(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Locked)
	require.NotNil(t, got.LockedAt)
	assert.Equal(t, at, *got.LockedAt)

	yes := true
	unlockedFilter := false
	lockedRows, err := s.ListEnrollments(ctx, repo.EnrollmentFilter{Locked: &yes})
	require.NoError(t, err)
	assert.Len(t, lockedRows, 1)
	open, err := s.ListEnrollments(ctx, repo.EnrollmentFilter{Locked: &unlockedFilter})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestUpdateEnrollment(t *testing.T) {
	ctx := context.Background()
	s := New()
	e, _, err := s.CreateEnrollment(ctx, domain.NewEnrollment{CaseID: "c-1", WorkshopID: "w-1", OrganizationID: "org-x", ParticipantCount: 2})
	require.NoError(t, err)

	done := true
	ref := " reports/c-1.pdf "
	updated, err := s.UpdateEnrollment(ctx, e.ID, domain.EnrollmentPatch{ActivityDone: &done, ReportRef: &ref})
	require.NoError(t, err)
	assert.True(t, updated.ActivityDone)
	assert.Equal(t, "reports/c-1.pdf", updated.ReportRef)
	assert.False(t, updated.Locked)

	_, err = s.UpdateEnrollment(ctx, "missing", domain.EnrollmentPatch{ActivityDone: &done})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	id, err := s.Enqueue(ctx, domain.NotificationEvent{Tag: domain.EventWorkshopReady, WorkshopID: "w-1"})
	require.NoError(t, err)

	claimed, err := s.ClaimPending(ctx, 10, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
	assert.Equal(t, 1, claimed[0].Attempts)

	again, err := s.ClaimPending(ctx, 10, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, again, "leased records are not reclaimed")

	require.NoError(t, s.MarkFailed(ctx, id, "timeout", false))
	retry, err := s.ClaimPending(ctx, 10, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, 2, retry[0].Attempts)

	require.NoError(t, s.MarkDelivered(ctx, id, now))
	records := s.Outbox()
	require.Len(t, records, 1)
	assert.Equal(t, repo.OutboxDelivered, records[0].Status)
	assert.Empty(t, records[0].LastError)
}

func TestAppendAuditAllowsSystemActor(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.AppendAudit(ctx, domain.AuditEntry{Action: domain.ActionWorkshopLocked, EntityType: domain.EntityWorkshop, EntityID: "w-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = s.AppendAudit(ctx, domain.AuditEntry{Action: domain.ActionWorkshopLocked, EntityType: domain.EntityWorkshop})
	assert.Error(t, err)

	entries := s.AuditEntries()
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].ActorID)
}

func TestApplySeed(t *testing.T) {
	seed, err := ParseSeed(strings.NewReader(`
organizations:
  - id: org-x
    name: Delivery X
workshops:
  - id: w-1
    name: First aid
    min_capacity: 6
actors:
  - id: coord-1
    role: coordinator
`))
	require.NoError(t, err)

	s := New()
	require.NoError(t, s.Apply(seed))

	ctx := context.Background()
	actor, err := s.GetActor(ctx, "coord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCoordinator, actor.Role)

	w, err := s.GetWorkshop(ctx, "w-1")
	require.NoError(t, err)
	require.NotNil(t, w.MinCapacity)
	assert.Equal(t, 6, *w.MinCapacity)

	_, err = ParseSeed(strings.NewReader("actors:\n  - id: a\n    colour: red\n"))
	assert.Error(t, err, "unknown fields are rejected")

	bad := Seed{Actors: []SeedActor{{ID: "x", Role: "janitor"}}}
	assert.Error(t, New().Apply(bad))
}
