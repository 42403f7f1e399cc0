// Package auditlog writes tamper-evident rows to the append-only
// audit_entries table.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// SystemActor is recorded in the integrity input when no actor is known.
const SystemActor = "system"

type Event struct {
	OccurredAt time.Time
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	RequestID  string
	IP         net.IP
	UserAgent  string
	Metadata   any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const insertQuery = `INSERT INTO audit_entries (
			occurred_at,
			actor_id,
			action,
			entity_type,
			entity_id,
			request_id,
			ip,
			user_agent,
			metadata,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING audit_id`

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(e.EntityType) == "" {
		return errors.New("EntityType is required")
	}
	if strings.TrimSpace(e.EntityID) == "" {
		return errors.New("EntityID is required")
	}
	return nil
}

// Insert appends event and returns its id. An empty ActorID is stored as
// NULL.
func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}

	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal metadata: %w", err)
	}

	integrity, err := ComputeIntegritySHA256(event, metadataJSON)
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		insertQuery,
		event.OccurredAt.UTC(),
		nullString(event.ActorID),
		strings.TrimSpace(event.Action),
		strings.TrimSpace(event.EntityType),
		strings.TrimSpace(event.EntityID),
		nullString(event.RequestID),
		nullString(ipString(event.IP)),
		nullString(event.UserAgent),
		metadataJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit entry: %w", err)
	}
	return id, nil
}

func ComputeIntegritySHA256(event Event, metadataJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt time.Time       `json:"occurred_at"`
		ActorID    string          `json:"actor_id"`
		Action     string          `json:"action"`
		EntityType string          `json:"entity_type"`
		EntityID   string          `json:"entity_id"`
		RequestID  string          `json:"request_id,omitempty"`
		IP         string          `json:"ip,omitempty"`
		UserAgent  string          `json:"user_agent,omitempty"`
		Metadata   json.RawMessage `json:"metadata"`
	}

	actor := strings.TrimSpace(event.ActorID)
	if actor == "" {
		actor = SystemActor
	}

	in := integrityInput{
		OccurredAt: event.OccurredAt.UTC(),
		ActorID:    actor,
		Action:     strings.TrimSpace(event.Action),
		EntityType: strings.TrimSpace(event.EntityType),
		EntityID:   strings.TrimSpace(event.EntityID),
		RequestID:  strings.TrimSpace(event.RequestID),
		IP:         ipString(event.IP),
		UserAgent:  strings.TrimSpace(event.UserAgent),
		Metadata:   metadataJSON,
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
