package domain

import "strings"

// Role is the workflow role of an actor.
type Role string

const (
	RoleAdmin              Role = "ADMIN"
	RoleCoordinator        Role = "COORDINATOR"
	RoleOriginator         Role = "ORIGINATOR"
	RoleDeliveryOrg        Role = "DELIVERY_ORG"
	RoleGovernanceReviewer Role = "GOVERNANCE_REVIEWER"
	RoleTracking           Role = "TRACKING"
)

var allRoles = [...]Role{
	RoleAdmin,
	RoleCoordinator,
	RoleOriginator,
	RoleDeliveryOrg,
	RoleGovernanceReviewer,
	RoleTracking,
}

func AllRoles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles[:])
	return out
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCoordinator, RoleOriginator, RoleDeliveryOrg, RoleGovernanceReviewer, RoleTracking:
		return true
	default:
		return false
	}
}

func ParseRole(raw string) (Role, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	r := Role(normalized)
	if !r.Valid() {
		return "", false
	}
	return r, true
}
