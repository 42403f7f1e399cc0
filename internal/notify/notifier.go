package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/platform/env"
	"github.com/animus-labs/casework/internal/repo"
)

const (
	ModeLog    = "log"
	ModeOutbox = "outbox"
)

// Notifier hands an event to its delivery channel. Implementations must be
// safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, event domain.NotificationEvent) error
}

// LogNotifier only logs events. It is the default when no delivery channel
// is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, event domain.NotificationEvent) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"event_id", event.ID,
		"event", event.Tag,
		"case_id", event.CaseID,
		"workshop_id", event.WorkshopID,
	)
	return nil
}

// OutboxNotifier persists events for the delivery Worker.
type OutboxNotifier struct {
	outbox repo.OutboxRepository
}

func NewOutboxNotifier(outbox repo.OutboxRepository) (*OutboxNotifier, error) {
	if outbox == nil {
		return nil, errors.New("outbox repository is required")
	}
	return &OutboxNotifier{outbox: outbox}, nil
}

func (n *OutboxNotifier) Notify(ctx context.Context, event domain.NotificationEvent) error {
	if strings.TrimSpace(event.Tag) == "" {
		return errors.New("event tag is required")
	}
	if _, err := n.outbox.Enqueue(ctx, event); err != nil {
		return fmt.Errorf("enqueue %s: %w", event.Tag, err)
	}
	return nil
}

type Config struct {
	Mode       string
	RoutesFile string
	WebhookURL string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Mode:       strings.ToLower(strings.TrimSpace(env.String("CASEWORK_NOTIFY_MODE", ModeLog))),
		RoutesFile: strings.TrimSpace(env.String("CASEWORK_NOTIFY_ROUTES", "")),
		WebhookURL: strings.TrimSpace(env.String("CASEWORK_WEBHOOK_URL", "")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeLog:
	case ModeOutbox:
		if c.WebhookURL == "" {
			return errors.New("CASEWORK_WEBHOOK_URL is required when CASEWORK_NOTIFY_MODE=outbox")
		}
	default:
		return fmt.Errorf("CASEWORK_NOTIFY_MODE must be one of: log, outbox (got %q)", c.Mode)
	}
	return nil
}
