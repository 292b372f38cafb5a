package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/stockmetrics/internal/application/engine"
	"github.com/sawpanic/stockmetrics/internal/config"
	"github.com/sawpanic/stockmetrics/internal/infrastructure/db"
	"github.com/sawpanic/stockmetrics/internal/infrastructure/lock"
	"github.com/sawpanic/stockmetrics/internal/infrastructure/providers"
	"github.com/sawpanic/stockmetrics/internal/interfaces/alerts"
	monitor "github.com/sawpanic/stockmetrics/internal/interfaces/http"
)

// app holds the wired components shared by the subcommands
type app struct {
	config   config.Config
	db       *db.Manager
	reader   *providers.GuardedReader
	registry *monitor.MetricsRegistry
	engine   *engine.Engine
}

// loadConfig reads --config and applies --log-level precedence
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level == "" {
		if err := setLevel(cfg.LogLevel); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// newApp opens the database and wires the engine
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, err
	}
	repos := manager.Repository()
	if repos == nil {
		manager.Close()
		return nil, fmt.Errorf("database is disabled; the engine needs a price store")
	}

	locker, err := lock.New(ctx, cfg.Lock)
	if err != nil {
		manager.Close()
		return nil, err
	}

	notifiers := alerts.Multi{alerts.NewEmitter(filepath.Clean(cfg.ArtifactsDir))}
	if cfg.Telegram.Enabled {
		notifiers = append(notifiers, alerts.NewTelegramNotifier(cfg.Telegram))
	}

	reader := providers.NewGuardedReader(repos.Prices, cfg.Reader)
	registry := monitor.NewMetricsRegistry()

	eng, err := engine.New(engine.Deps{
		Prices:   reader,
		Universe: repos.Universe,
		Metrics:  repos.Metrics,
		Runs:     repos.Runs,
		Locker:   locker,
		Notifier: notifiers,
		Recorder: registry,
	}, cfg.Engine, cfg.Writer)
	if err != nil {
		manager.Close()
		return nil, err
	}

	log.Info().
		Bool("redis_lock", cfg.Lock.Enabled).
		Bool("telegram", cfg.Telegram.Enabled).
		Str("columns", cfg.Writer.Columns).
		Msg("Engine wired")

	return &app{
		config:   cfg,
		db:       manager,
		reader:   reader,
		registry: registry,
		engine:   eng,
	}, nil
}

// preflight verifies the store can take a run's write batches
func (a *app) preflight(ctx context.Context) error {
	return a.db.CheckLockCapacity(ctx)
}

// monitorDeps exposes the app to the read-only monitor server
func (a *app) monitorDeps() monitor.Deps {
	repos := a.db.Repository()
	return monitor.Deps{
		Registry: a.registry,
		Health:   a.db.Health(),
		Runs:     repos.Runs,
		Metrics:  repos.Metrics,
		Breaker:  a.reader.Status,
		Version:  version,
	}
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
}
