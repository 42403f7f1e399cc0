package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/repo"
)

type OutboxStore struct {
	db DB
}

const (
	outboxColumns = `notification_id, payload, status, attempts, last_error, created_at, delivered_at`

	enqueueNotificationQuery = `INSERT INTO notification_outbox (
		notification_id,
		event,
		payload,
		status,
		attempts,
		created_at
	) VALUES ($1,$2,$3,'pending',0,$4)
	ON CONFLICT (notification_id) DO NOTHING`

	// SKIP LOCKED lets several workers claim disjoint batches.
	claimNotificationsQuery = `UPDATE notification_outbox
	 SET lease_until = $2, attempts = attempts + 1
	 WHERE notification_id IN (
		SELECT notification_id FROM notification_outbox
		 WHERE status = 'pending' AND (lease_until IS NULL OR lease_until < now())
		 ORDER BY created_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED
	 )
	 RETURNING ` + outboxColumns

	markDeliveredQuery = `UPDATE notification_outbox
	 SET status = 'delivered', delivered_at = $2, last_error = NULL, lease_until = NULL
	 WHERE notification_id = $1`

	markFailedQuery = `UPDATE notification_outbox
	 SET status = CASE WHEN $3 THEN 'failed' ELSE status END, last_error = $2, lease_until = NULL
	 WHERE notification_id = $1`
)

func NewOutboxStore(db DB) *OutboxStore {
	if db == nil {
		return nil
	}
	return &OutboxStore{db: db}
}

func (s *OutboxStore) Enqueue(ctx context.Context, event domain.NotificationEvent) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("outbox store not initialized")
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	event.OccurredAt = normalizeTime(event.OccurredAt)
	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, enqueueNotificationQuery, event.ID, event.Tag, payload, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("enqueue notification: %w", err)
	}
	return event.ID, nil
}

func (s *OutboxStore) ClaimPending(ctx context.Context, limit int, leaseUntil time.Time) ([]repo.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("outbox store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, claimNotificationsQuery, limit, leaseUntil.UTC())
	if err != nil {
		return nil, fmt.Errorf("claim notifications: %w", err)
	}
	defer rows.Close()

	out := make([]repo.OutboxRecord, 0)
	for rows.Next() {
		record, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim notifications: %w", err)
	}
	return out, nil
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("outbox store not initialized")
	}
	res, err := s.db.ExecContext(ctx, markDeliveredQuery, id, normalizeTime(at))
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return requireRow(res)
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string, errMsg string, terminal bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("outbox store not initialized")
	}
	res, err := s.db.ExecContext(ctx, markFailedQuery, id, errMsg, terminal)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func scanOutbox(scanner rowScanner) (repo.OutboxRecord, error) {
	var (
		record      repo.OutboxRecord
		payload     []byte
		status      string
		lastError   sql.NullString
		deliveredAt sql.NullTime
	)
	if err := scanner.Scan(
		&record.ID,
		&payload,
		&status,
		&record.Attempts,
		&lastError,
		&record.CreatedAt,
		&deliveredAt,
	); err != nil {
		return repo.OutboxRecord{}, err
	}
	if err := json.Unmarshal(payload, &record.Event); err != nil {
		return repo.OutboxRecord{}, fmt.Errorf("decode notification %s: %w", record.ID, err)
	}
	record.Status = repo.OutboxStatus(status)
	record.LastError = lastError.String
	record.DeliveredAt = timePtr(deliveredAt)
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}
