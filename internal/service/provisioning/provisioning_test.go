package provisioning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/repo"
	"github.com/animus-labs/casework/internal/repo/memstore"
	"github.com/animus-labs/casework/internal/service/capacity"
)

func intPtr(v int) *int { return &v }

type flakyStore struct {
	*memstore.Store
	failWorkshop string
}

func (s flakyStore) CreateEnrollment(ctx context.Context, in domain.NewEnrollment) (domain.Enrollment, bool, error) {
	if in.WorkshopID == s.failWorkshop {
		return domain.Enrollment{}, false, errors.New("connection refused")
	}
	return s.Store.CreateEnrollment(ctx, in)
}

type stubEvaluator struct {
	calls []string
	err   error
}

func (e *stubEvaluator) Evaluate(ctx context.Context, workshopID string) (capacity.Evaluation, error) {
	e.calls = append(e.calls, workshopID)
	if e.err != nil {
		return capacity.Evaluation{}, e.err
	}
	return capacity.Evaluation{WorkshopID: workshopID}, nil
}

func newProvisioner(t *testing.T, store Store, eval Evaluator) *Provisioner {
	t.Helper()
	p, err := New(store, eval, nil)
	require.NoError(t, err)
	return p
}

func acceptedCase(id, org string, participants int, selection domain.WorkshopSelection) domain.Case {
	return domain.Case{
		ID:               id,
		State:            domain.StateAccepted,
		InitiatorID:      "orig-1",
		OrganizationID:   org,
		Workshops:        selection,
		ParticipantCount: participants,
	}
}

func TestEnsureCreatesOnlySelectedWorkshops(t *testing.T) {
	store := memstore.New()
	store.PutWorkshop(domain.Workshop{ID: "W1"})
	store.PutWorkshop(domain.Workshop{ID: "W2"})
	eval := &stubEvaluator{}
	p := newProvisioner(t, store, eval)

	res := p.Ensure(context.Background(), acceptedCase("c-1", "X", 3, domain.WorkshopSelection{"W1": true, "W2": false}))
	require.Empty(t, res.Failures)
	require.Len(t, res.Created, 1)

	e := res.Created[0]
	assert.Equal(t, "W1", e.WorkshopID)
	assert.Equal(t, "X", e.OrganizationID)
	assert.Equal(t, 1, e.SessionNumber)
	assert.Equal(t, 3, e.ParticipantCount)
	assert.False(t, e.Locked)
	assert.Equal(t, []string{"W1"}, eval.calls)

	all, err := store.ListEnrollments(context.Background(), repo.EnrollmentFilter{CaseID: "c-1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEnsureIsNoopForExistingEnrollment(t *testing.T) {
	store := memstore.New()
	store.PutWorkshop(domain.Workshop{ID: "W1"})
	eval := &stubEvaluator{}
	p := newProvisioner(t, store, eval)
	c := acceptedCase("c-1", "X", 2, domain.WorkshopSelection{"W1": true})

	first := p.Ensure(context.Background(), c)
	require.Len(t, first.Created, 1)

	second := p.Ensure(context.Background(), c)
	assert.Empty(t, second.Created)
	require.Len(t, second.Existing, 1)
	assert.Equal(t, first.Created[0].ID, second.Existing[0].ID)
	assert.Equal(t, []string{"W1"}, eval.calls, "existing enrollments are not re-evaluated by Ensure")

	all, err := store.ListEnrollments(context.Background(), repo.EnrollmentFilter{WorkshopID: "W1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReconcileReevaluatesExisting(t *testing.T) {
	store := memstore.New()
	store.PutWorkshop(domain.Workshop{ID: "W1"})
	eval := &stubEvaluator{}
	p := newProvisioner(t, store, eval)
	c := acceptedCase("c-1", "X", 2, domain.WorkshopSelection{"W1": true})

	p.Ensure(context.Background(), c)
	res := p.Reconcile(context.Background(), c)
	assert.Len(t, res.Existing, 1)
	assert.Len(t, res.Evaluations, 1)
	assert.Equal(t, []string{"W1", "W1"}, eval.calls)
}

func TestSequentialSessionNumbers(t *testing.T) {
	store := memstore.New()
	store.PutWorkshop(domain.Workshop{ID: "W1"})
	p := newProvisioner(t, store, &stubEvaluator{})
	ctx := context.Background()

	a := p.Ensure(ctx, acceptedCase("c-1", "X", 2, domain.WorkshopSelection{"W1": true}))
	b := p.Ensure(ctx, acceptedCase("c-2", "X", 2, domain.WorkshopSelection{"W1": true}))
	other := p.Ensure(ctx, acceptedCase("c-3", "Y", 2, domain.WorkshopSelection{"W1": true}))

	assert.Equal(t, 1, a.Created[0].SessionNumber)
	assert.Equal(t, 2, b.Created[0].SessionNumber)
	assert.Equal(t, 1, other.Created[0].SessionNumber)
}

func TestEnsureSkipsWithoutOrganizationOrSelection(t *testing.T) {
	store := memstore.New()
	store.PutWorkshop(domain.Workshop{ID: "W1"})
	eval := &stubEvaluator{}
	p := newProvisioner(t, store, eval)

	res := p.Ensure(context.Background(), acceptedCase("c-1", "", 2, domain.WorkshopSelection{"W1": true}))
	assert.Empty(t, res.Created)
	res = p.Ensure(context.Background(), acceptedCase("c-2", "X", 2, domain.WorkshopSelection{"W1": false}))
	assert.Empty(t, res.Created)
	assert.Empty(t, eval.calls)
}

func TestFailureInOneWorkshopDoesNotStopOthers(t *testing.T) {
	mem := memstore.New()
	for _, id := range []string{"W1", "W2", "W3"} {
		mem.PutWorkshop(domain.Workshop{ID: id})
	}
	store := flakyStore{Store: mem, failWorkshop: "W2"}
	p := newProvisioner(t, store, &stubEvaluator{})

	res := p.Ensure(context.Background(), acceptedCase("c-1", "X", 2, domain.WorkshopSelection{"W1": true, "W2": true, "W3": true, "W9": true}))
	require.Len(t, res.Created, 2)
	assert.Equal(t, "W1", res.Created[0].WorkshopID)
	assert.Equal(t, "W3", res.Created[1].WorkshopID)

	require.Len(t, res.Failures, 2)
	assert.Equal(t, "W2", res.Failures[0].WorkshopID)
	assert.Equal(t, StageEnrollment, res.Failures[0].Stage)
	assert.Equal(t, "W9", res.Failures[1].WorkshopID)
	assert.Equal(t, StageWorkshop, res.Failures[1].Stage)
	assert.True(t, errors.Is(res.Failures[1], domain.ErrNotFound))
}

func TestCapacityFailureIsReported(t *testing.T) {
	store := memstore.New()
	store.PutWorkshop(domain.Workshop{ID: "W1"})
	p := newProvisioner(t, store, &stubEvaluator{err: errors.New("timeout")})

	res := p.Ensure(context.Background(), acceptedCase("c-1", "X", 2, domain.WorkshopSelection{"W1": true}))
	require.Len(t, res.Created, 1)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, StageCapacity, res.Failures[0].Stage)
}

func TestThreeCasesLockSharedWorkshop(t *testing.T) {
	store := memstore.New()
	store.PutWorkshop(domain.Workshop{ID: "W", MinCapacity: intPtr(5)})
	agg, err := capacity.New(store)
	require.NoError(t, err)
	p := newProvisioner(t, store, agg)
	ctx := context.Background()

	var last Result
	for i, org := range []string{"X", "Y", "X"} {
		last = p.Ensure(ctx, acceptedCase([]string{"c-1", "c-2", "c-3"}[i], org, 2, domain.WorkshopSelection{"W": true}))
		require.Empty(t, last.Failures)
	}

	locked := last.NewlyLocked()
	require.Len(t, locked, 1)
	assert.Equal(t, 6, locked[0].Total)
	assert.Len(t, locked[0].NewlyLocked, 3)

	all, err := store.ListEnrollments(ctx, repo.EnrollmentFilter{WorkshopID: "W"})
	require.NoError(t, err)
	for _, e := range all {
		assert.True(t, e.Locked, e.ID)
	}
}
