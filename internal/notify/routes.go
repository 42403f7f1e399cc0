// Package notify decides which lifecycle transitions are notification-worthy
// and hands the resulting events to a delivery channel.
package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/animus-labs/casework/internal/domain"
)

const SpecSchemaV1 = "casework.notify.v1"

// Spec is the YAML routing file named by CASEWORK_NOTIFY_ROUTES.
type Spec struct {
	Schema        string        `yaml:"schema"`
	Routes        []Route       `yaml:"routes"`
	WorkshopReady RecipientSpec `yaml:"workshop_ready"`
}

// Route maps a target state, optionally narrowed to one source state, to an
// event tag. The first matching route wins.
type Route struct {
	Event      string        `yaml:"event"`
	From       string        `yaml:"from,omitempty"`
	To         string        `yaml:"to"`
	Recipients RecipientSpec `yaml:"recipients"`
}

type RecipientSpec struct {
	Roles            []string `yaml:"roles,omitempty"`
	ActorIDs         []string `yaml:"actor_ids,omitempty"`
	OrganizationIDs  []string `yaml:"organization_ids,omitempty"`
	CaseOrganization bool     `yaml:"case_organization,omitempty"`
	Initiator        bool     `yaml:"initiator,omitempty"`
}

func ParseSpec(input []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(input, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode notify routes: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Schema) != SpecSchemaV1 {
		return fmt.Errorf("schema must be %q", SpecSchemaV1)
	}
	if len(s.Routes) == 0 {
		return errors.New("routes must be non-empty")
	}
	seen := make(map[string]struct{}, len(s.Routes))
	for i, route := range s.Routes {
		if strings.TrimSpace(route.Event) == "" {
			return fmt.Errorf("routes[%d].event is required", i)
		}
		if _, ok := domain.ParseState(route.To); !ok {
			return fmt.Errorf("routes[%d].to is not a state: %q", i, route.To)
		}
		if strings.TrimSpace(route.From) != "" {
			if _, ok := domain.ParseState(route.From); !ok {
				return fmt.Errorf("routes[%d].from is not a state: %q", i, route.From)
			}
		}
		key := strings.TrimSpace(route.From) + ">" + strings.TrimSpace(route.To)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("routes[%d] duplicates an earlier from/to pair", i)
		}
		seen[key] = struct{}{}
		if err := route.Recipients.validate(fmt.Sprintf("routes[%d].recipients", i)); err != nil {
			return err
		}
	}
	return s.WorkshopReady.validate("workshop_ready")
}

func (r RecipientSpec) validate(prefix string) error {
	for i, role := range r.Roles {
		if _, ok := domain.ParseRole(role); !ok {
			return fmt.Errorf("%s.roles[%d] unknown role %q", prefix, i, role)
		}
	}
	return nil
}

// DefaultSpec is used when no routing file is configured.
func DefaultSpec() Spec {
	return Spec{
		Schema: SpecSchemaV1,
		Routes: []Route{
			{Event: "fiche.refused", From: "ASSIGNED", To: "SUBMITTED", Recipients: RecipientSpec{Roles: []string{"COORDINATOR"}, Initiator: true}},
			{Event: "fiche.submitted", To: "SUBMITTED", Recipients: RecipientSpec{Roles: []string{"COORDINATOR"}}},
			{Event: "fiche.assigned", To: "ASSIGNED", Recipients: RecipientSpec{CaseOrganization: true}},
			{Event: "fiche.accepted", To: "ACCEPTED", Recipients: RecipientSpec{Roles: []string{"COORDINATOR"}, Initiator: true}},
			{Event: "fiche.rejected", To: "REJECTED", Recipients: RecipientSpec{Initiator: true}},
			{Event: "fiche.field_check_scheduled", To: "FIELD_CHECK_SCHEDULED", Recipients: RecipientSpec{CaseOrganization: true}},
			{Event: "fiche.closed", To: "CLOSED", Recipients: RecipientSpec{Initiator: true, CaseOrganization: true}},
		},
		WorkshopReady: RecipientSpec{Roles: []string{"COORDINATOR"}},
	}
}

// Router is a compiled, read-only Spec.
type Router struct {
	routes        []compiledRoute
	workshopReady RecipientSpec
	now           func() time.Time
}

type compiledRoute struct {
	event      string
	from       domain.State
	to         domain.State
	recipients RecipientSpec
}

func NewRouter(spec Spec) (*Router, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	r := &Router{workshopReady: spec.WorkshopReady, now: time.Now}
	for _, route := range spec.Routes {
		to, _ := domain.ParseState(route.To)
		var from domain.State
		if strings.TrimSpace(route.From) != "" {
			from, _ = domain.ParseState(route.From)
		}
		r.routes = append(r.routes, compiledRoute{
			event:      strings.TrimSpace(route.Event),
			from:       from,
			to:         to,
			recipients: route.Recipients,
		})
	}
	return r, nil
}

// Match returns the event for a case that just moved from -> c.State, or nil
// when the transition is not notification-worthy.
func (r *Router) Match(c domain.Case, from domain.State, actorID string) *domain.NotificationEvent {
	if r == nil {
		return nil
	}
	for _, route := range r.routes {
		if route.to != c.State {
			continue
		}
		if route.from != "" && route.from != from {
			continue
		}
		return &domain.NotificationEvent{
			ID:         uuid.NewString(),
			Tag:        route.event,
			CaseID:     c.ID,
			Recipients: resolve(route.recipients, c),
			Payload: map[string]any{
				"case_id":  c.ID,
				"from":     string(from),
				"to":       string(c.State),
				"actor_id": actorID,
			},
			OccurredAt: r.now().UTC(),
		}
	}
	return nil
}

// WorkshopReady builds the event fired once when a workshop's enrollments
// are locked.
func (r *Router) WorkshopReady(workshopID string, lockedIDs []string, organizationIDs []string, total, minimum int) domain.NotificationEvent {
	var spec RecipientSpec
	now := time.Now
	if r != nil {
		spec = r.workshopReady
		now = r.now
	}
	recipients := resolve(spec, domain.Case{})
	recipients.OrganizationIDs = appendUnique(recipients.OrganizationIDs, organizationIDs...)
	return domain.NotificationEvent{
		ID:         uuid.NewString(),
		Tag:        domain.EventWorkshopReady,
		WorkshopID: workshopID,
		Recipients: recipients,
		Payload: map[string]any{
			"workshop_id":    workshopID,
			"enrollment_ids": append([]string(nil), lockedIDs...),
			"participants":   total,
			"min_capacity":   minimum,
		},
		OccurredAt: now().UTC(),
	}
}

func resolve(spec RecipientSpec, c domain.Case) domain.Recipients {
	var out domain.Recipients
	for _, raw := range spec.Roles {
		if role, ok := domain.ParseRole(raw); ok {
			out.Roles = append(out.Roles, role)
		}
	}
	out.ActorIDs = appendUnique(nil, spec.ActorIDs...)
	out.OrganizationIDs = appendUnique(nil, spec.OrganizationIDs...)
	if spec.Initiator && c.InitiatorID != "" {
		out.ActorIDs = appendUnique(out.ActorIDs, c.InitiatorID)
	}
	if spec.CaseOrganization && c.OrganizationID != "" {
		out.OrganizationIDs = appendUnique(out.OrganizationIDs, c.OrganizationID)
	}
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dup := false
		for _, existing := range dst {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
