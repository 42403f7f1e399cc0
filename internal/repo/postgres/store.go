package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/animus-labs/casework/internal/auditexport"
	"github.com/animus-labs/casework/internal/repo"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL applied by Migrate.
func Schema() string { return schemaSQL }

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, db DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Store is the Postgres-backed repo.Store.
type Store struct {
	*CaseStore
	*ReferenceStore
	*EnrollmentStore
	*AuditAppender
	*OutboxStore
}

var _ repo.Store = (*Store)(nil)

func NewStore(db DB, exporter auditexport.Exporter) *Store {
	return &Store{
		CaseStore:       NewCaseStore(db),
		ReferenceStore:  NewReferenceStore(db),
		EnrollmentStore: NewEnrollmentStore(db),
		AuditAppender:   NewAuditAppender(db, exporter),
		OutboxStore:     NewOutboxStore(db),
	}
}
