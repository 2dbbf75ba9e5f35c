package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pgexec/internal/catalog"
	"github.com/GriffinCanCode/pgexec/internal/engine"
	"github.com/GriffinCanCode/pgexec/internal/infrastructure/config"
	"github.com/GriffinCanCode/pgexec/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pgexec/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pgexec/internal/infrastructure/resilience"
)

const historySize = 100

// App holds the assembled service
type App struct {
	Config   *config.Config
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics
	Breakers *resilience.Set
	DB       catalog.Database
	Engine   *engine.Engine
}

// New connects to the database and starts the engine
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	db, err := catalog.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Info("Connected to database", zap.String("driver", db.Driver()))

	return NewWithDatabase(ctx, cfg, logger, db)
}

// NewWithDatabase is New with an already open database. The App takes
// ownership of db.
func NewWithDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db catalog.Database) (*App, error) {
	metrics := monitoring.NewMetrics()

	settings := catalog.BreakerSettings(cfg.Database.BreakerThreshold, cfg.Database.BreakerTimeout)
	settings.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn("Circuit breaker state changed",
			zap.String("group", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		metrics.SetBreakerState(name, int(to))
	}
	breakers := resilience.NewSet(settings)

	caps := catalog.Build(db, catalog.Options{
		RowLimit:     cfg.Database.RowLimit,
		QueryTimeout: cfg.Database.QueryTimeout,
		Breakers:     breakers,
	})

	eng := engine.New(engine.Config{
		Sandbox:     cfg.Sandbox.Options(),
		Pool:        cfg.Sandbox.PoolOptions(),
		HistorySize: historySize,
	}, caps,
		engine.WithLogger(logger.Component("engine").Logger),
		engine.WithMetrics(metrics),
		engine.WithBreakers(breakers),
	)
	if err := eng.Start(ctx); err != nil {
		eng.Close()
		db.Close()
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Breakers: breakers,
		DB:       db,
		Engine:   eng,
	}, nil
}

// Close stops the engine, then closes the database
func (a *App) Close() error {
	a.Engine.Close()
	if err := a.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// NewLogger builds the logger described by cfg
func NewLogger(cfg config.LogConfig) (*logging.Logger, error) {
	base := logging.DefaultConfig()
	if cfg.Development {
		base = logging.DevelopmentConfig()
	}
	if cfg.Level != "" {
		base.Level = cfg.Level
	}
	return logging.New(base)
}
