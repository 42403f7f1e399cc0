package domain

import "time"

// Notification event tags.
const (
	EventWorkshopReady = "workshop.ready"
)

// Recipients are hints for the delivery collaborator; resolving them to
// addresses is not the core's concern.
type Recipients struct {
	Roles           []Role   `json:"roles,omitempty" yaml:"roles,omitempty"`
	OrganizationIDs []string `json:"organization_ids,omitempty" yaml:"organization_ids,omitempty"`
	ActorIDs        []string `json:"actor_ids,omitempty" yaml:"actor_ids,omitempty"`
}

func (r Recipients) Empty() bool {
	return len(r.Roles) == 0 && len(r.OrganizationIDs) == 0 && len(r.ActorIDs) == 0
}

// NotificationEvent is emitted at most once per triggering transition.
type NotificationEvent struct {
	ID         string         `json:"id"`
	Tag        string         `json:"event"`
	CaseID     string         `json:"case_id,omitempty"`
	WorkshopID string         `json:"workshop_id,omitempty"`
	Recipients Recipients     `json:"recipients"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
