// Package dispatch runs audit writes and notification hand-offs off the
// request path. Failures are logged and never reach the caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/platform/telemetry"
)

type AuditAppender interface {
	AppendAudit(ctx context.Context, entry domain.AuditEntry) (int64, error)
}

type Notifier interface {
	Notify(ctx context.Context, event domain.NotificationEvent) error
}

type Options struct {
	Audit    AuditAppender
	Notifier Notifier
	Logger   *slog.Logger
	// Timeout bounds each side effect. Zero means 30s.
	Timeout time.Duration
	// OnError observes every failed side effect after it is logged.
	OnError func(*domain.SideEffectError)
}

type Dispatcher struct {
	audit    AuditAppender
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
	onError  func(*domain.SideEffectError)
	failures metric.Int64Counter

	wg sync.WaitGroup
}

func New(opts Options) (*Dispatcher, error) {
	if opts.Audit == nil {
		return nil, errors.New("audit appender is required")
	}
	d := &Dispatcher{
		audit:    opts.Audit,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		timeout:  opts.Timeout,
		onError:  opts.OnError,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.timeout <= 0 {
		d.timeout = 30 * time.Second
	}
	counter, err := telemetry.Meter("casework/dispatch").Int64Counter(
		"casework.side_effects.failed",
		metric.WithDescription("Audit writes and notification hand-offs that failed."),
	)
	if err != nil {
		counter, _ = noop.NewMeterProvider().Meter("casework/dispatch").Int64Counter("casework.side_effects.failed")
	}
	d.failures = counter
	return d, nil
}

// Fire schedules the audit entry and, when event is non-nil, the
// notification. It returns immediately. The work is detached from ctx
// cancellation but keeps its values.
func (d *Dispatcher) Fire(ctx context.Context, entry domain.AuditEntry, event *domain.NotificationEvent) {
	base := context.WithoutCancel(ctx)
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	d.spawn(base, domain.SideEffectAudit, entry.Action, func(ctx context.Context) error {
		_, err := d.audit.AppendAudit(ctx, entry)
		return err
	})
	if event == nil {
		return
	}
	if d.notifier == nil {
		d.logger.WarnContext(ctx, "notification dropped: no notifier configured", "event", event.Tag)
		return
	}
	ev := *event
	d.spawn(base, domain.SideEffectNotification, ev.Tag, func(ctx context.Context) error {
		return d.notifier.Notify(ctx, ev)
	})
}

// Wait blocks until every scheduled side effect has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) spawn(base context.Context, kind, tag string, fn func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()

		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			err = fn(ctx)
		}()
		if err == nil {
			return
		}

		sideErr := &domain.SideEffectError{Kind: kind, Tag: tag, Err: err}
		d.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		d.logger.ErrorContext(ctx, "side effect failed",
			"kind", kind,
			"tag", tag,
			"error", sideErr.Error(),
		)
		if d.onError != nil {
			d.onError(sideErr)
		}
	}()
}
