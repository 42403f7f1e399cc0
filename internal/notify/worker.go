package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/repo"
)

// Worker drains the notification outbox. Each claimed record gets a short
// in-process retry; records that still fail go back to pending until
// MaxAttempts claims have been spent.
type Worker struct {
	Outbox      repo.OutboxRepository
	Sender      Sender
	Logger      *slog.Logger
	Interval    time.Duration
	BatchSize   int
	Lease       time.Duration
	MaxAttempts int
	NewBackOff  func() backoff.BackOff

	now func() time.Time
}

func (w *Worker) defaults() {
	if w.Interval <= 0 {
		w.Interval = 5 * time.Second
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 50
	}
	if w.Lease <= 0 {
		w.Lease = time.Minute
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = 8
	}
	if w.NewBackOff == nil {
		w.NewBackOff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 200 * time.Millisecond
			bo.MaxElapsedTime = 5 * time.Second
			return bo
		}
	}
	if w.Logger == nil {
		w.Logger = slog.Default()
	}
	if w.now == nil {
		w.now = time.Now
	}
}

// Run drains until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.Outbox == nil || w.Sender == nil {
		return errors.New("outbox worker requires an outbox and a sender")
	}
	w.defaults()
	w.Logger.Info("outbox worker started", "interval", w.Interval.String())

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		if _, err := w.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			w.Logger.Error("outbox drain failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.Logger.Info("outbox worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DrainOnce delivers one batch and returns how many records were delivered.
func (w *Worker) DrainOnce(ctx context.Context) (int, error) {
	w.defaults()
	records, err := w.Outbox.ClaimPending(ctx, w.BatchSize, w.now().Add(w.Lease))
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, record := range records {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if w.deliver(ctx, record) {
			delivered++
		}
	}
	return delivered, nil
}

func (w *Worker) deliver(ctx context.Context, record repo.OutboxRecord) bool {
	event := record.Event
	if event.ID == "" {
		event.ID = record.ID
	}
	permanent := false
	err := backoff.Retry(func() error {
		sendErr := w.Sender.Send(ctx, event)
		if IsPermanent(sendErr) {
			permanent = true
		}
		return sendErr
	}, backoff.WithContext(w.NewBackOff(), ctx))

	if err == nil {
		if markErr := w.Outbox.MarkDelivered(ctx, record.ID, w.now()); markErr != nil {
			w.Logger.Error("outbox mark delivered failed", "notification_id", record.ID, "error", markErr)
		}
		return true
	}

	terminal := permanent || record.Attempts >= w.MaxAttempts
	sideErr := &domain.SideEffectError{Kind: domain.SideEffectNotification, Tag: event.Tag, Err: err}
	w.Logger.Warn("notification delivery failed",
		"notification_id", record.ID,
		"event", event.Tag,
		"attempts", record.Attempts,
		"terminal", terminal,
		"error", sideErr.Error(),
	)
	if markErr := w.Outbox.MarkFailed(ctx, record.ID, err.Error(), terminal); markErr != nil {
		w.Logger.Error("outbox mark failed failed", "notification_id", record.ID, "error", markErr)
	}
	return false
}
