package main

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/sleuth/internal/ai"
	"github.com/steveyegge/sleuth/internal/cost"
	"github.com/steveyegge/sleuth/internal/investigation"
	"github.com/steveyegge/sleuth/internal/metrics"
	"github.com/steveyegge/sleuth/internal/storage/sqlite"
	"github.com/steveyegge/sleuth/internal/telemetry"
)

// hostCPUWindow is how long the host source measures CPU utilization.
const hostCPUWindow = time.Second

// sourceOptions select where metrics come from.
type sourceOptions struct {
	snapshotFile string
	postgresDSN  string
}

// buildSource returns the metrics source and a cleanup function. A snapshot
// file replaces live collection entirely.
func buildSource(ctx context.Context, opts sourceOptions) (metrics.Source, func(), error) {
	if opts.snapshotFile != "" {
		fs, err := metrics.LoadFile(opts.snapshotFile)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}

	sources := []metrics.Source{metrics.NewHostSource(hostCPUWindow)}
	cleanup := func() {}

	dsn := opts.postgresDSN
	if dsn == "" {
		dsn = cfg.Postgres.DSN
	}
	if dsn != "" {
		pg, err := metrics.NewPostgresSource(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sources = append(sources, pg)
		cleanup = pg.Close
	}
	return metrics.NewComposite(logger, sources...), cleanup, nil
}

// runnerOptions configure buildRunner.
type runnerOptions struct {
	sourceOptions
	noAI bool
}

// openStore opens the audit database named by the configuration.
func openStore() (*sqlite.SQLiteStorage, error) {
	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Storage.Path, err)
	}
	return store, nil
}

// newTracker creates a cost tracker seeded with the current window's usage.
func newTracker(ctx context.Context, store cost.UsageStore) (*cost.Tracker, error) {
	tracker, err := cost.NewTracker(&cfg.Cost, store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cost tracker: %w", err)
	}
	if err := tracker.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to restore reasoning usage")
	}
	return tracker, nil
}

// buildRunner wires storage, metrics, reasoning and telemetry into a Runner.
func buildRunner(ctx context.Context, opts runnerOptions) (*investigation.Runner, func(), error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	source, closeSource, err := buildSource(ctx, opts.sourceOptions)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	cleanup := func() {
		closeSource()
		store.Close()
	}

	deps := investigation.Deps{
		Dialog: cfg.Dialog,
		Safety: cfg.Safety.Thresholds(),
		Source: source,
		Store:  store,
		Logger: logger,
	}

	if cfg.AI.Enabled && !opts.noAI {
		tracker, err := newTracker(ctx, store)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		retry := ai.DefaultRetryConfig()
		retry.MaxRetries = cfg.AI.MaxRetries
		retry.Timeout = cfg.Dialog.TurnTimeout
		client, err := ai.NewClient(ai.Config{
			APIKey:          cfg.AI.APIKey,
			Model:           cfg.AI.Model,
			MaxOutputTokens: cfg.AI.MaxOutputTokens,
			Retry:           retry,
			CostTracker:     tracker,
			Logger:          logger,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to create reasoning client: %w (use --no-ai for a local-only investigation)", err)
		}
		deps.Reasoner = client
	}

	if cfg.Metrics.Addr != "" {
		deps.Telemetry = telemetry.Get()
		go func() {
			if err := telemetry.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics endpoint failed")
			}
		}()
	}

	runner, err := investigation.New(deps)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return runner, cleanup, nil
}
