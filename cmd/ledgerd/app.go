package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mmynk/pocketledger/internal/config"
	"github.com/mmynk/pocketledger/internal/identity"
	"github.com/mmynk/pocketledger/internal/ledger"
	"github.com/mmynk/pocketledger/internal/metrics"
	"github.com/mmynk/pocketledger/internal/migrate"
	"github.com/mmynk/pocketledger/internal/replicator"
	"github.com/mmynk/pocketledger/internal/seed"
	"github.com/mmynk/pocketledger/internal/session"
	"github.com/mmynk/pocketledger/internal/storage/sqlite"
)

// app is the wired object graph of a running ledgerd.
type app struct {
	store    *sqlite.SQLiteStore
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	repl     replicator.Replicator
	session  *session.Orchestrator
	ledger   *ledger.Ledger
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger.Info("Storage initialized", "database", cfg.DBPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var repl replicator.Replicator = replicator.NewNop()
	if cfg.Sync.URL != "" {
		uploader := replicator.NewHTTPUploader(cfg.Sync.URL, &http.Client{Timeout: 30 * time.Second})
		repl = replicator.NewOutbox(store, uploader, replicator.Config{
			Interval:   cfg.Sync.Interval,
			BatchSize:  cfg.Sync.BatchSize,
			BackoffMin: cfg.Sync.BackoffMin,
			BackoffMax: cfg.Sync.BackoffMax,
		}, logger, m)
		logger.Info("Cloud sync configured", "url", cfg.Sync.URL, "interval", cfg.Sync.Interval)
	}

	o := session.New(session.Deps{
		Store:      store,
		KV:         store,
		Identity:   identity.NewManager(store, logger),
		Seeder:     seed.NewSeeder(store, logger, m),
		Migrator:   migrate.NewMigrator(store, migrate.Options{Logger: logger, Metrics: m}),
		Replicator: repl,
		Logger:     logger,
		Metrics:    m,
	})

	return &app{
		store:    store,
		registry: reg,
		metrics:  m,
		repl:     repl,
		session:  o,
		ledger:   ledger.New(o, store, logger, m),
	}, nil
}

func (a *app) close(ctx context.Context) error {
	if err := a.repl.Disconnect(ctx); err != nil {
		slog.Warn("Failed to disconnect replicator", "error", err)
	}
	return a.store.Close()
}
