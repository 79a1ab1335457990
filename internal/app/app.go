package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vigilintel/internal/config"
	"vigilintel/internal/infrastructure/opencti"
	"vigilintel/internal/infrastructure/scheduler"
	"vigilintel/internal/infrastructure/source"
	"vigilintel/internal/infrastructure/storage"
	"vigilintel/internal/logging"
	"vigilintel/internal/usecase"
)

// Application wires config to adapters and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	scheduler *usecase.Scheduler
	store     *storage.PostgresStateStore
}

// New builds a runnable connector instance. Construction failures are
// the only fatal errors in the system.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	sink, err := opencti.NewClient(cfg.OpenCTI)
	if err != nil {
		return nil, fmt.Errorf("build opencti client: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Database.DSN, cfg.OpenCTI.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	reportSource := source.NewHTTPSource(
		cfg.VigilIntel.BaseURL,
		cfg.VigilIntel.Language,
		time.Duration(cfg.VigilIntel.FetchTimeoutSeconds)*time.Second,
		logging.Component(baseLogger, "source"),
	)

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:       reportSource,
		Sink:         sink,
		State:        store,
		LookbackDays: cfg.VigilIntel.LookbackDays,
		Logger:       logging.Component(baseLogger, "pipeline"),
	})

	interval := time.Duration(cfg.VigilIntel.IntervalHours) * time.Hour
	driver := scheduler.NewIntervalScheduler(interval)
	runLoop := usecase.NewScheduler(driver, pipeline, logging.Component(baseLogger, "scheduler"))

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		scheduler: runLoop,
		store:     store,
	}, nil
}

// Run starts the periodic ingestion and blocks until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	a.logger.Info("connector started",
		"language", a.cfg.VigilIntel.Language,
		"lookback_days", a.cfg.VigilIntel.LookbackDays,
		"interval_hours", a.cfg.VigilIntel.IntervalHours)

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()

	if err := a.scheduler.Stop(context.Background()); err != nil {
		a.logger.Error("stop scheduler", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("close state store", "error", err)
	}
	return ctx.Err()
}
