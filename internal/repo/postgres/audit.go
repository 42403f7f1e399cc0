package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/animus-labs/casework/internal/auditexport"
	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/platform/auditlog"
)

type AuditAppender struct {
	db       auditlog.QueryRower
	exporter auditexport.Exporter
	now      func() time.Time
}

func NewAuditAppender(db auditlog.QueryRower, exporter auditexport.Exporter) *AuditAppender {
	if db == nil {
		return nil
	}
	if exporter == nil {
		exporter = auditexport.NoopExporter{}
	}
	return &AuditAppender{db: db, exporter: exporter, now: time.Now}
}

func (a *AuditAppender) AppendAudit(ctx context.Context, entry domain.AuditEntry) (int64, error) {
	if a == nil || a.db == nil {
		return 0, errors.New("audit appender not initialized")
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = a.now().UTC()
	}
	if err := entry.Validate(); err != nil {
		return 0, err
	}
	id, err := auditlog.Insert(ctx, a.db, auditlog.Event{
		OccurredAt: entry.OccurredAt,
		ActorID:    entry.ActorID,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		RequestID:  entry.RequestID,
		Metadata:   entry.Metadata.Clone(),
	})
	if err != nil {
		return 0, fmt.Errorf("append audit entry: %w", err)
	}
	entry.ID = id
	if err := a.exporter.Export(ctx, entry); err != nil {
		return id, fmt.Errorf("export audit entry: %w", err)
	}
	return id, nil
}
