// Package guard holds the role-scoped transition table for cases.
//
// The table is built once at package initialization and never handed out by
// reference, so concurrent readers need no synchronization. ADMIN bypasses
// the table and may move a case between any two valid states.
package guard

import (
	"sort"

	"github.com/animus-labs/casework/internal/domain"
)

type stateSet map[domain.State]struct{}

type edge struct {
	from domain.State
	to   []domain.State
}

var table = build(map[domain.Role][]edge{
	domain.RoleOriginator: {
		{from: domain.StateDraft, to: []domain.State{domain.StateSubmitted}},
	},
	domain.RoleCoordinator: {
		{from: domain.StateSubmitted, to: []domain.State{domain.StateAssigned, domain.StateRejected}},
		{from: domain.StateAccepted, to: []domain.State{domain.StateContractSigned, domain.StateArchived}},
		{from: domain.StateRejected, to: []domain.State{domain.StateArchived}},
		{from: domain.StateActivityDone, to: []domain.State{domain.StateFieldCheckScheduled}},
		{from: domain.StateFieldCheckScheduled, to: []domain.State{domain.StateFieldCheckDone}},
		{from: domain.StateFieldCheckDone, to: []domain.State{domain.StateFinalReportReceived, domain.StateClosed}},
		{from: domain.StateFinalReportReceived, to: []domain.State{domain.StateClosed}},
		{from: domain.StateClosed, to: []domain.State{domain.StateArchived}},
	},
	domain.RoleDeliveryOrg: {
		// Moving back to SUBMITTED is a refusal of the assignment.
		{from: domain.StateAssigned, to: []domain.State{domain.StateAccepted, domain.StateSubmitted}},
		{from: domain.StateContractSigned, to: []domain.State{domain.StateActivityDone, domain.StateFieldCheckScheduled}},
		{from: domain.StateFieldCheckDone, to: []domain.State{domain.StateFinalReportReceived}},
	},
	domain.RoleAdmin:              nil,
	domain.RoleGovernanceReviewer: nil,
	domain.RoleTracking:           nil,
})

func build(spec map[domain.Role][]edge) map[domain.Role]map[domain.State]stateSet {
	out := make(map[domain.Role]map[domain.State]stateSet, len(spec))
	for role, edges := range spec {
		byState := make(map[domain.State]stateSet, len(edges))
		for _, e := range edges {
			set, ok := byState[e.from]
			if !ok {
				set = stateSet{}
				byState[e.from] = set
			}
			for _, to := range e.to {
				set[to] = struct{}{}
			}
		}
		out[role] = byState
	}
	return out
}

// CanTransition reports whether role may move a case from current to target.
// Unknown roles or states are always rejected.
func CanTransition(role domain.Role, current, target domain.State) bool {
	if !current.Valid() || !target.Valid() {
		return false
	}
	if role == domain.RoleAdmin {
		return true
	}
	byState, ok := table[role]
	if !ok {
		return false
	}
	allowed, ok := byState[current]
	if !ok {
		return false
	}
	_, ok = allowed[target]
	return ok
}

// Check is CanTransition returning the typed rejection.
func Check(role domain.Role, current, target domain.State) error {
	if CanTransition(role, current, target) {
		return nil
	}
	return &domain.TransitionNotAllowedError{Role: role, From: current, To: target}
}

// Allowed lists the targets reachable by role from current, sorted.
func Allowed(role domain.Role, current domain.State) []domain.State {
	if !current.Valid() {
		return nil
	}
	if role == domain.RoleAdmin {
		out := make([]domain.State, 0, len(domain.AllStates()))
		for _, s := range domain.AllStates() {
			if s != current {
				out = append(out, s)
			}
		}
		sortStates(out)
		return out
	}
	allowed := table[role][current]
	out := make([]domain.State, 0, len(allowed))
	for s := range allowed {
		out = append(out, s)
	}
	sortStates(out)
	return out
}

// Roles lists the roles that have a table entry.
func Roles() []domain.Role {
	out := make([]domain.Role, 0, len(table))
	for role := range table {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortStates(states []domain.State) {
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
}
