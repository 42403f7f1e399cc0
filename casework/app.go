package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/animus-labs/casework/internal/auditexport"
	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/notify"
	"github.com/animus-labs/casework/internal/platform/auditlog"
	"github.com/animus-labs/casework/internal/platform/auth"
	"github.com/animus-labs/casework/internal/platform/httpserver"
	"github.com/animus-labs/casework/internal/platform/objectstore"
	"github.com/animus-labs/casework/internal/platform/postgres"
	"github.com/animus-labs/casework/internal/repo"
	"github.com/animus-labs/casework/internal/repo/memstore"
	pgstore "github.com/animus-labs/casework/internal/repo/postgres"
	"github.com/animus-labs/casework/internal/service/capacity"
	"github.com/animus-labs/casework/internal/service/dispatch"
	"github.com/animus-labs/casework/internal/service/lifecycle"
	"github.com/animus-labs/casework/internal/service/provisioning"
	"github.com/animus-labs/casework/internal/service/sessions"
)

// app is the wired service graph shared by the HTTP server and the CLI.
type app struct {
	logger     *slog.Logger
	db         *sql.DB
	store      repo.Store
	audit      repo.AuditAppender
	controller *lifecycle.Controller
	capacity   *capacity.Aggregator
	sessions   *sessions.View
	dispatcher *dispatch.Dispatcher
	worker     *notify.Worker
	checks     []httpserver.ReadinessCheck
}

func (a *app) Close() {
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func newApp(ctx context.Context, cfg config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	exporter, err := newAuditExporter(cfg.AuditExport)
	if err != nil {
		return nil, err
	}

	switch cfg.Store {
	case storePostgres:
		db, err := postgres.Open(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("database unavailable: %w", err)
		}
		a.db = db
		store := pgstore.NewStore(db, exporter)
		a.store = store
		a.audit = store
		a.checks = append(a.checks, httpserver.ReadinessCheck{
			Name:  "postgres",
			Check: auth.WithTimeout(750*time.Millisecond, db.PingContext),
		})
	case storeMemory:
		store := memstore.New()
		if err := applySeed(store, cfg.SeedFile); err != nil {
			return nil, err
		}
		a.store = store
		a.audit = exportingAppender{next: store, exporter: exporter}
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}

	agg, err := capacity.New(a.store, capacity.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	a.capacity = agg
	prov, err := provisioning.New(a.store, agg, logger)
	if err != nil {
		return nil, err
	}

	router, err := loadRouter(cfg.Notify.RoutesFile)
	if err != nil {
		return nil, err
	}
	var notifier dispatch.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.Notify.Mode == notify.ModeOutbox {
		outbox, err := notify.NewOutboxNotifier(a.store)
		if err != nil {
			return nil, err
		}
		sender, err := notify.NewWebhookSender(cfg.Notify.WebhookURL, nil)
		if err != nil {
			return nil, err
		}
		notifier = outbox
		a.worker = &notify.Worker{Outbox: a.store, Sender: sender, Logger: logger, Interval: cfg.OutboxInterval}
	}

	a.dispatcher, err = dispatch.New(dispatch.Options{Audit: a.audit, Notifier: notifier, Logger: logger})
	if err != nil {
		return nil, err
	}
	a.controller, err = lifecycle.New(lifecycle.Options{
		Store:       a.store,
		Provisioner: prov,
		Router:      router,
		Dispatcher:  a.dispatcher,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	var links sessions.ReportLinker
	if cfg.ObjectStore.Enabled() {
		client, err := objectstore.NewMinIOClient(cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		reportLinks, err := objectstore.NewReportLinks(client, cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		links = reportLinks
		a.checks = append(a.checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: auth.WithTimeout(2*time.Second, func(ctx context.Context) error {
				return objectstore.CheckBucket(ctx, client, cfg.ObjectStore)
			}),
		})
	}
	a.sessions, err = sessions.New(a.store, links, logger)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func newAuditExporter(cfg auditexport.Config) (auditexport.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", auditexport.FormatNone:
		return auditexport.NoopExporter{}, nil
	case auditexport.FormatNDJSON:
		return auditexport.NewNDJSONExporter(os.Stdout), nil
	default:
		return nil, fmt.Errorf("unsupported audit export format: %s", cfg.Format)
	}
}

func loadRouter(path string) (*notify.Router, error) {
	spec := notify.DefaultSpec()
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read notify routes: %w", err)
		}
		if spec, err = notify.ParseSpec(raw); err != nil {
			return nil, fmt.Errorf("notify routes %s: %w", path, err)
		}
	}
	return notify.NewRouter(spec)
}

func applySeed(store *memstore.Store, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	seed, err := memstore.ParseSeed(f)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	return store.Apply(seed)
}

// exportingAppender mirrors audit entries of the memory store to the
// configured exporter. The Postgres store does this itself.
type exportingAppender struct {
	next     repo.AuditAppender
	exporter auditexport.Exporter
}

func (a exportingAppender) AppendAudit(ctx context.Context, entry domain.AuditEntry) (int64, error) {
	id, err := a.next.AppendAudit(ctx, entry)
	if err != nil {
		return 0, err
	}
	entry.ID = id
	if exportErr := a.exporter.Export(ctx, entry); exportErr != nil {
		return id, fmt.Errorf("export audit entry %d: %w", id, exportErr)
	}
	return id, nil
}

func newAuthenticator(ctx context.Context, cfg auth.Config) (auth.Authenticator, error) {
	switch cfg.Mode {
	case auth.ModeOIDC:
		return auth.NewOIDCAuthenticator(ctx, cfg)
	case auth.ModeDev:
		return auth.NewDevAuthenticator(cfg), nil
	case auth.ModeDisabled:
		return auth.AnonymousAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}
}

// denyAuditor records rejected requests in the audit log of whichever
// store is active.
func (a *app) denyAuditor() auth.AuditFunc {
	return func(ctx context.Context, event auth.DenyEvent) error {
		auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 750*time.Millisecond)
		defer cancel()
		if a.db != nil {
			return auditlog.InsertAuthDeny(auditCtx, a.db, serviceName, event)
		}
		var ip net.IP
		if host, _, err := net.SplitHostPort(event.RemoteAddr); err == nil {
			ip = net.ParseIP(host)
		}
		ev := auditlog.DenyEntry(serviceName, event, ip)
		metadata, _ := ev.Metadata.(map[string]any)
		_, err := a.audit.AppendAudit(auditCtx, domain.AuditEntry{
			ActorID:    ev.ActorID,
			Action:     ev.Action,
			EntityType: ev.EntityType,
			EntityID:   ev.EntityID,
			RequestID:  ev.RequestID,
			OccurredAt: ev.OccurredAt,
			Metadata:   domain.Metadata(metadata),
		})
		return err
	}
}

var errNoDatabase = errors.New("this command requires CASEWORK_STORE=postgres")
