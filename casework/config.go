package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/casework/internal/auditexport"
	"github.com/animus-labs/casework/internal/notify"
	"github.com/animus-labs/casework/internal/platform/auth"
	"github.com/animus-labs/casework/internal/platform/env"
	"github.com/animus-labs/casework/internal/platform/httpserver"
	"github.com/animus-labs/casework/internal/platform/objectstore"
	"github.com/animus-labs/casework/internal/platform/postgres"
	"github.com/animus-labs/casework/internal/platform/telemetry"
)

const (
	serviceName = "casework"

	storePostgres = "postgres"
	storeMemory   = "memory"
)

type config struct {
	HTTP           httpserver.Config
	Store          string
	SeedFile       string
	DB             postgres.Config
	Auth           auth.Config
	Notify         notify.Config
	OutboxInterval time.Duration
	ObjectStore    objectstore.Config
	AuditExport    auditexport.Config
	Telemetry      telemetry.Config
}

func loadConfig() (config, error) {
	shutdownTimeout, err := env.Duration("CASEWORK_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return config{}, err
	}
	outboxInterval, err := env.Duration("CASEWORK_OUTBOX_INTERVAL", 5*time.Second)
	if err != nil {
		return config{}, err
	}
	cfg := config{
		HTTP: httpserver.Config{
			Service:         serviceName,
			Addr:            env.String("CASEWORK_HTTP_ADDR", ":8080"),
			ShutdownTimeout: shutdownTimeout,
		},
		Store:          strings.ToLower(strings.TrimSpace(env.String("CASEWORK_STORE", storePostgres))),
		SeedFile:       env.String("CASEWORK_SEED", ""),
		OutboxInterval: outboxInterval,
	}

	if cfg.Store == storePostgres {
		if cfg.DB, err = postgres.ConfigFromEnv(); err != nil {
			return config{}, fmt.Errorf("database config: %w", err)
		}
	}
	if cfg.Auth, err = auth.ConfigFromEnv(); err != nil {
		return config{}, fmt.Errorf("auth config: %w", err)
	}
	if cfg.Notify, err = notify.ConfigFromEnv(); err != nil {
		return config{}, fmt.Errorf("notify config: %w", err)
	}
	if cfg.ObjectStore, err = objectstore.ConfigFromEnv(); err != nil {
		return config{}, fmt.Errorf("object store config: %w", err)
	}
	if cfg.AuditExport, err = auditexport.ConfigFromEnv(); err != nil {
		return config{}, fmt.Errorf("audit export config: %w", err)
	}
	if cfg.Telemetry, err = telemetry.ConfigFromEnv(); err != nil {
		return config{}, fmt.Errorf("telemetry config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	switch c.Store {
	case storePostgres:
		if strings.TrimSpace(c.SeedFile) != "" {
			return fmt.Errorf("CASEWORK_SEED is only supported with CASEWORK_STORE=%s", storeMemory)
		}
	case storeMemory:
	default:
		return fmt.Errorf("CASEWORK_STORE must be one of: postgres, memory (got %q)", c.Store)
	}
	if c.OutboxInterval <= 0 {
		return errors.New("CASEWORK_OUTBOX_INTERVAL must be positive")
	}
	return nil
}
