package capacity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/repo"
	"github.com/animus-labs/casework/internal/repo/memstore"
)

func intPtr(v int) *int { return &v }

func enroll(t *testing.T, store *memstore.Store, caseID, workshopID, orgID string, participants int) domain.Enrollment {
	t.Helper()
	e, created, err := store.CreateEnrollment(context.Background(), domain.NewEnrollment{
		CaseID:           caseID,
		WorkshopID:       workshopID,
		OrganizationID:   orgID,
		ParticipantCount: participants,
	})
	require.NoError(t, err)
	require.True(t, created)
	return e
}

func lockedCount(t *testing.T, store *memstore.Store, workshopID string) int {
	t.Helper()
	locked := true
	rows, err := store.ListEnrollments(context.Background(), repo.EnrollmentFilter{WorkshopID: workshopID, Locked: &locked})
	require.NoError(t, err)
	return len(rows)
}

func newAggregator(t *testing.T, store *memstore.Store) *Aggregator {
	t.Helper()
	agg, err := New(store, WithClock(func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }))
	require.NoError(t, err)
	return agg
}

func TestEvaluateWithoutMinimumIsNoop(t *testing.T) {
	store := memstore.New()
	store.PutWorkshop(domain.Workshop{ID: "W1"})
	enroll(t, store, "c-1", "W1", "org-x", 10)

	eval, err := newAggregator(t, store).Evaluate(context.Background(), "W1")
	require.NoError(t, err)
	assert.Nil(t, eval.Minimum)
	assert.Empty(t, eval.NewlyLocked)
	assert.Equal(t, 0, lockedCount(t, store, "W1"))
}

func TestEvaluateBoundary(t *testing.T) {
	store := memstore.New()
	store.PutWorkshop(domain.Workshop{ID: "W1", MinCapacity: intPtr(5)})
	agg := newAggregator(t, store)
	ctx := context.Background()

	enroll(t, store, "c-1", "W1", "org-x", 4)
	eval, err := agg.Evaluate(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, 4, eval.Total)
	assert.False(t, eval.Reached())
	assert.Empty(t, eval.NewlyLocked)

	enroll(t, store, "c-2", "W1", "org-x", 1)
	eval, err = agg.Evaluate(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, 5, eval.Total)
	assert.True(t, eval.Reached())
	assert.Len(t, eval.NewlyLocked, 2)
	assert.Equal(t, []string{"org-x"}, eval.OrganizationIDs)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	store := memstore.New()
	store.PutWorkshop(domain.Workshop{ID: "W1", MinCapacity: intPtr(3)})
	agg := newAggregator(t, store)
	ctx := context.Background()
	enroll(t, store, "c-1", "W1", "org-x", 3)

	first, err := agg.Evaluate(ctx, "W1")
	require.NoError(t, err)
	require.Len(t, first.NewlyLocked, 1)

	before, err := store.ListEnrollments(ctx, repo.EnrollmentFilter{WorkshopID: "W1"})
	require.NoError(t, err)

	second, err := agg.Evaluate(ctx, "W1")
	require.NoError(t, err)
	assert.Empty(t, second.NewlyLocked)
	assert.Equal(t, first.Total, second.Total)

	after, err := store.ListEnrollments(ctx, repo.EnrollmentFilter{WorkshopID: "W1"})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEvaluateSumsAcrossOrganizations(t *testing.T) {
	store := memstore.New()
	store.PutWorkshop(domain.Workshop{ID: "W", MinCapacity: intPtr(5)})
	agg := newAggregator(t, store)
	ctx := context.Background()

	orgs := []string{"org-x", "org-y", "org-z"}
	var eval Evaluation
	for i, org := range orgs {
		enroll(t, store, "c-"+org, "W", org, 2)
		var err error
		eval, err = agg.Evaluate(ctx, "W")
		require.NoError(t, err)
		if i < 2 {
			assert.Empty(t, eval.NewlyLocked, "locked too early after %d enrollments", i+1)
		}
	}

	assert.Equal(t, 6, eval.Total)
	assert.Len(t, eval.NewlyLocked, 3)
	assert.Equal(t, orgs, eval.OrganizationIDs)
	assert.Equal(t, 3, lockedCount(t, store, "W"))
}

func TestEvaluateLocksLateEnrollment(t *testing.T) {
	store := memstore.New()
	store.PutWorkshop(domain.Workshop{ID: "W", MinCapacity: intPtr(2)})
	agg := newAggregator(t, store)
	ctx := context.Background()

	enroll(t, store, "c-1", "W", "org-x", 2)
	_, err := agg.Evaluate(ctx, "W")
	require.NoError(t, err)

	late := enroll(t, store, "c-2", "W", "org-y", 1)
	eval, err := agg.Evaluate(ctx, "W")
	require.NoError(t, err)
	assert.Equal(t, []string{late.ID}, eval.NewlyLocked)
}

func TestEvaluateUnknownWorkshop(t *testing.T) {
	_, err := newAggregator(t, memstore.New()).Evaluate(context.Background(), "missing")
	var notFound *domain.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, domain.EntityWorkshop, notFound.Entity)

	_, err = newAggregator(t, memstore.New()).Evaluate(context.Background(), " ")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestSnapshot(t *testing.T) {
	store := memstore.New()
	store.PutWorkshop(domain.Workshop{ID: "W", Name: "Soil basics", MinCapacity: intPtr(4), MaxCapacity: intPtr(12)})
	agg := newAggregator(t, store)
	ctx := context.Background()

	enroll(t, store, "c-1", "W", "org-x", 3)
	snap, err := agg.Snapshot(ctx, "W")
	require.NoError(t, err)
	assert.Equal(t, "Soil basics", snap.Name)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 1, snap.Enrollments)
	assert.False(t, snap.Reached)
	assert.Equal(t, 0, snap.Locked)

	enroll(t, store, "c-2", "W", "org-x", 1)
	snap, err = agg.Snapshot(ctx, "W")
	require.NoError(t, err)
	assert.True(t, snap.Reached)
	assert.Equal(t, 0, snap.Locked, "snapshot must not lock")
}
