package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"perq/config"
	"perq/core/events"
	"perq/native/alerts"
	"perq/native/ledger"
	"perq/native/premium"
	"perq/native/simulator"
	"perq/observability/otel"
	"perq/storage"
	"perq/storage/journal"
	"perq/storage/localstore"
)

// engine is every component wired over one data directory.
type engine struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      storage.Database
	store   *localstore.Store
	ledger  *ledger.Ledger
	catalog *config.Catalog
	journal *journal.Journal
	sim     *simulator.Simulator
	scanner *alerts.Scanner
	premium *premium.Service
}

func loadCatalog(path string) (*config.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return config.DefaultCatalog()
	}
	return config.LoadCatalog(path)
}

func openEngine(cfg *config.Config, logger *slog.Logger, emitter events.Emitter) (*engine, error) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	catalog, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	db, err := storage.Open(cfg.Backend, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	e := &engine{cfg: cfg, logger: logger, db: db, catalog: catalog}
	e.store = localstore.New(db, localstore.WithLogger(logger))

	ledgerOpts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithEmitter(emitter),
		ledger.WithRate(decimal.NewFromFloat(cfg.PointRate)),
		ledger.WithPoolMultiplier(catalog.Pool.Multiplier()),
	}
	if !cfg.Seed {
		ledgerOpts = append(ledgerOpts, ledger.WithoutSeed())
	}
	e.ledger = ledger.Open(e.store, ledgerOpts...)

	simOpts := []simulator.Option{
		simulator.WithLatency(cfg.Simulator.Latency.Duration, cfg.Simulator.Jitter.Duration),
		simulator.WithPauses(cfg.Pauses),
		simulator.WithEmitter(emitter),
		simulator.WithLogger(logger),
		simulator.WithTracer(otel.Tracer("perq/simulator")),
	}
	if !cfg.Journal.Disabled {
		j, err := journal.Open(cfg.JournalPath(), journal.WithLogger(logger))
		if err != nil {
			e.ledger.Close()
			db.Close()
			return nil, err
		}
		e.journal = j
		simOpts = append(simOpts, simulator.WithJournal(j))
	}
	e.sim = simulator.New(e.ledger, catalog, simOpts...)
	e.scanner = alerts.NewScanner(e.ledger, alerts.WithUrgentDays(cfg.Alerts.UrgentDays))
	e.premium = premium.New(e.ledger, catalog,
		premium.WithExecutor(e.sim),
		premium.WithScanner(e.scanner),
		premium.WithLogger(logger))
	return e, nil
}

// Close cancels pending transactions and releases the stores.
func (e *engine) Close(ctx context.Context) error {
	var errs []error
	if err := e.sim.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown simulator: %w", err))
	}
	e.ledger.Close()
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	e.db.Close()
	return errors.Join(errs...)
}
