// Command casework serves the case lifecycle API and exposes the same
// operations as CLI subcommands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/casework/internal/platform/auth"
	"github.com/animus-labs/casework/internal/platform/httpserver"
	"github.com/animus-labs/casework/internal/platform/telemetry"
	pgstore "github.com/animus-labs/casework/internal/repo/postgres"
)

var version = "dev"

var (
	jsonOutput bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "casework",
	Short: "Case lifecycle, workshop capacity and enrollment service",
	Long: `casework moves cases through their approval and delivery workflow,
provisions workshop enrollments on acceptance and locks workshops once
their minimum capacity is reached.

Examples:
  casework serve                                # run the HTTP API
  casework migrate                              # apply the Postgres schema
  casework reprovision <case-id> --actor coord  # retry partial provisioning
  casework sessions --workshop W1               # list logical sessions
  casework guard --role COORDINATOR             # print the transition table`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reprovisionCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(guardCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, in outbox mode, the notification worker",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	providers, err := telemetry.Init(ctx, cfg.Telemetry, serviceName, version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	authenticator, err := newAuthenticator(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	handler := newHandler(logger, a, authenticator)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, logger, cfg.HTTP, handler)
	})
	if a.worker != nil {
		g.Go(func() error {
			return a.worker.Run(gctx)
		})
	}
	logger.Info("casework started", "addr", cfg.HTTP.Addr, "store", cfg.Store, "auth_mode", string(cfg.Auth.Mode), "notify_mode", cfg.Notify.Mode)
	return g.Wait()
}

func newHandler(logger *slog.Logger, a *app, authenticator auth.Authenticator) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, a.checks...))

	api := newCaseworkAPI(logger, a)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Audit:         a.denyAuditor(),
		SkipPrefixes:  []string{"/healthz", "/readyz"},
	}.Wrap(mux)
	return httpserver.Wrap(logger, serviceName, handler)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if cfg.Store != storePostgres {
			return errNoDatabase
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := pgstore.Migrate(cmd.Context(), a.db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema applied")
		return nil
	},
}
