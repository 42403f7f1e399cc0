package auditexport

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/animus-labs/casework/internal/domain"
)

// NDJSONExporter writes audit entries as newline-delimited JSON. It is safe
// for concurrent use.
type NDJSONExporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewNDJSONExporter(w io.Writer) *NDJSONExporter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	return &NDJSONExporter{enc: enc}
}

func (e *NDJSONExporter) Export(ctx context.Context, entry domain.AuditEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(exportEntryFromDomain(entry))
}

type exportEntry struct {
	AuditID    int64           `json:"audit_id"`
	OccurredAt string          `json:"occurred_at"`
	ActorID    *string         `json:"actor_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	RequestID  string          `json:"request_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata"`
}

func exportEntryFromDomain(entry domain.AuditEntry) exportEntry {
	metadata, err := json.Marshal(entry.Metadata.Clone())
	if err != nil {
		metadata = []byte(`{}`)
	}
	var actor *string
	if entry.ActorID != "" {
		a := entry.ActorID
		actor = &a
	}
	return exportEntry{
		AuditID:    entry.ID,
		OccurredAt: entry.OccurredAt.UTC().Format(time.RFC3339Nano),
		ActorID:    actor,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		RequestID:  entry.RequestID,
		Metadata:   metadata,
	}
}
