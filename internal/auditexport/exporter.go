package auditexport

import (
	"context"

	"github.com/animus-labs/casework/internal/domain"
)

// Exporter sends audit entries to external systems.
type Exporter interface {
	Export(ctx context.Context, entry domain.AuditEntry) error
}

type NoopExporter struct{}

func (NoopExporter) Export(ctx context.Context, entry domain.AuditEntry) error {
	return nil
}
