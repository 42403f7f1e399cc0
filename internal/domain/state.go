package domain

import "strings"

// State is the lifecycle position of a case.
type State string

const (
	StateDraft               State = "DRAFT"
	StateSubmitted           State = "SUBMITTED"
	StateAssigned            State = "ASSIGNED"
	StateAccepted            State = "ACCEPTED"
	StateRejected            State = "REJECTED"
	StateContractSigned      State = "CONTRACT_SIGNED"
	StateActivityDone        State = "ACTIVITY_DONE"
	StateFieldCheckScheduled State = "FIELD_CHECK_SCHEDULED"
	StateFieldCheckDone      State = "FIELD_CHECK_DONE"
	StateFinalReportReceived State = "FINAL_REPORT_RECEIVED"
	StateClosed              State = "CLOSED"
	StateArchived            State = "ARCHIVED"
)

// AcceptanceMilestone is the state whose entry materializes enrollments.
const AcceptanceMilestone = StateAccepted

var allStates = [...]State{
	StateDraft,
	StateSubmitted,
	StateAssigned,
	StateAccepted,
	StateRejected,
	StateContractSigned,
	StateActivityDone,
	StateFieldCheckScheduled,
	StateFieldCheckDone,
	StateFinalReportReceived,
	StateClosed,
	StateArchived,
}

// AllStates returns every state in declaration order.
func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates[:])
	return out
}

func (s State) Valid() bool {
	switch s {
	case StateDraft, StateSubmitted, StateAssigned, StateAccepted, StateRejected,
		StateContractSigned, StateActivityDone, StateFieldCheckScheduled,
		StateFieldCheckDone, StateFinalReportReceived, StateClosed, StateArchived:
		return true
	default:
		return false
	}
}

// Provisioned reports whether a case in this state is expected to hold
// enrollments for its selected workshops.
func (s State) Provisioned() bool {
	switch s {
	case StateAccepted, StateContractSigned, StateActivityDone, StateFieldCheckScheduled,
		StateFieldCheckDone, StateFinalReportReceived, StateClosed:
		return true
	case StateDraft, StateSubmitted, StateAssigned, StateRejected, StateArchived:
		return false
	default:
		return false
	}
}

// ParseState accepts the canonical spelling as well as lower-case and
// dash-separated variants ("contract-signed").
func ParseState(raw string) (State, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	s := State(normalized)
	if !s.Valid() {
		return "", false
	}
	return s, true
}
