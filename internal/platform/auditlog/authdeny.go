package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/animus-labs/casework/internal/platform/auth"
)

// InsertAuthDeny records a rejected request. Unauthenticated callers are
// stored without an actor.
func InsertAuthDeny(ctx context.Context, q QueryRower, service string, event auth.DenyEvent) error {
	var ip net.IP
	host, _, err := net.SplitHostPort(event.RemoteAddr)
	if err == nil {
		ip = net.ParseIP(host)
	}

	_, err = Insert(ctx, q, DenyEntry(service, event, ip))
	return err
}

func DenyEntry(service string, event auth.DenyEvent, ip net.IP) Event {
	return Event{
		OccurredAt: event.Time,
		ActorID:    strings.TrimSpace(event.Subject),
		Action:     "auth." + strings.TrimSpace(event.Reason),
		EntityType: "http",
		EntityID:   event.Method + " " + event.Path,
		RequestID:  event.RequestID,
		IP:         ip,
		UserAgent:  event.UserAgent,
		Metadata: map[string]any{
			"service": service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
			"subject": event.Subject,
			"role":    event.Role,
		},
	}
}
