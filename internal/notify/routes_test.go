package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/casework/internal/domain"
)

const routesYAML = `
schema: casework.notify.v1
routes:
  - event: fiche.refused
    from: assigned
    to: submitted
    recipients:
      roles: [coordinator]
  - event: fiche.submitted
    to: SUBMITTED
    recipients:
      roles: [COORDINATOR]
      initiator: true
  - event: fiche.assigned
    to: ASSIGNED
    recipients:
      case_organization: true
workshop_ready:
  roles: [COORDINATOR, DELIVERY_ORG]
`

func TestParseSpec(t *testing.T) {
	spec, err := ParseSpec([]byte(routesYAML))
	require.NoError(t, err)
	assert.Len(t, spec.Routes, 3)
	assert.Equal(t, "assigned", spec.Routes[0].From)
}

func TestParseSpecRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"schema":    "schema: other\nroutes:\n  - {event: a, to: SUBMITTED}\n",
		"empty":     "schema: casework.notify.v1\n",
		"bad state": "schema: casework.notify.v1\nroutes:\n  - {event: a, to: LIMBO}\n",
		"bad role":  "schema: casework.notify.v1\nroutes:\n  - {event: a, to: SUBMITTED, recipients: {roles: [janitor]}}\n",
		"duplicate": "schema: casework.notify.v1\nroutes:\n  - {event: a, to: SUBMITTED}\n  - {event: b, to: SUBMITTED}\n",
		"no event":  "schema: casework.notify.v1\nroutes:\n  - {to: SUBMITTED}\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSpec([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestDefaultSpecIsValid(t *testing.T) {
	require.NoError(t, DefaultSpec().Validate())
}

func TestRouterMatch(t *testing.T) {
	spec, err := ParseSpec([]byte(routesYAML))
	require.NoError(t, err)
	router, err := NewRouter(spec)
	require.NoError(t, err)

	c := domain.Case{ID: "c-1", State: domain.StateSubmitted, InitiatorID: "orig-1", OrganizationID: "org-x"}

	refused := router.Match(c, domain.StateAssigned, "deliv-1")
	require.NotNil(t, refused)
	assert.Equal(t, "fiche.refused", refused.Tag)
	assert.Equal(t, []domain.Role{domain.RoleCoordinator}, refused.Recipients.Roles)

	submitted := router.Match(c, domain.StateDraft, "orig-1")
	require.NotNil(t, submitted)
	assert.Equal(t, "fiche.submitted", submitted.Tag)
	assert.Equal(t, []string{"orig-1"}, submitted.Recipients.ActorIDs)
	assert.Equal(t, "c-1", submitted.CaseID)
	assert.Equal(t, "DRAFT", submitted.Payload["from"])
	assert.NotEmpty(t, submitted.ID)

	c.State = domain.StateAssigned
	assigned := router.Match(c, domain.StateSubmitted, "coord-1")
	require.NotNil(t, assigned)
	assert.Equal(t, []string{"org-x"}, assigned.Recipients.OrganizationIDs)

	c.State = domain.StateContractSigned
	assert.Nil(t, router.Match(c, domain.StateAccepted, "coord-1"))
}

func TestRouterWorkshopReady(t *testing.T) {
	spec, err := ParseSpec([]byte(routesYAML))
	require.NoError(t, err)
	router, err := NewRouter(spec)
	require.NoError(t, err)

	event := router.WorkshopReady("w-1", []string{"e-1", "e-2"}, []string{"org-x", "org-y", "org-x"}, 7, 6)
	assert.Equal(t, domain.EventWorkshopReady, event.Tag)
	assert.Equal(t, "w-1", event.WorkshopID)
	assert.Equal(t, []domain.Role{domain.RoleCoordinator, domain.RoleDeliveryOrg}, event.Recipients.Roles)
	assert.Equal(t, []string{"org-x", "org-y"}, event.Recipients.OrganizationIDs)
	assert.Equal(t, 7, event.Payload["participants"])
}
