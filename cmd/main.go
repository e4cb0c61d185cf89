package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"astra/internal/adapters/config"
	"astra/internal/adapters/errors/noop"
	"astra/internal/adapters/errors/sentry"
	"astra/internal/adapters/polygon"
	"astra/internal/adapters/postgres"
	repository "astra/internal/repository/postgres"
	optionssvc "astra/internal/services/options"
	"astra/pkg/errors"
	"astra/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	// Initialize error tracker
	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	// Initialize database connection
	pg, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pg.Close()

	// Initialize repositories
	db := pg.DB()
	securityRepo := repository.NewSecurityRepository(db)
	barRepo := repository.NewBarRepository(db)
	chainRepo := repository.NewChainRepository(db)
	straddleRepo := repository.NewStraddleRepository(db)
	surfaceRepo := repository.NewSurfaceRepository(db)
	checkRepo := repository.NewCheckRepository(db)
	ingestionRepo := repository.NewIngestionRepository(db)

	// Initialize market data client
	marketData := polygon.NewClient(cfg.Polygon)

	// Initialize the options analytics service
	svc := optionssvc.NewService(
		cfg.Options,
		marketData,
		securityRepo,
		barRepo,
		chainRepo,
		straddleRepo,
		surfaceRepo,
		checkRepo,
		ingestionRepo,
		log,
	)
	log.Info("System initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run one analytics pass per configured symbol on startup
	runInitialPass(ctx, cfg.App.Symbols, svc, log)

	// Wait for shutdown signal
	waitForShutdown(ctx, cancel, errorTracker, log)
}

// runInitialPass ingests an ATM straddle, builds the vol surface and runs
// the expected-move calibration for each symbol. Failures are logged and
// the pass moves on; a single bad symbol should not block the rest.
func runInitialPass(ctx context.Context, symbols []string, svc *optionssvc.Service, log *logger.Logger) {
	for _, symbol := range symbols {
		if _, err := svc.IngestATMStraddle(ctx, symbol, time.Time{}, false); err != nil {
			log.Errorf("ATM straddle ingestion failed for %s: %v", symbol, err)
			continue
		}

		if _, err := svc.ComputeSurface(ctx, symbol, time.Time{}, false); err != nil {
			log.Errorf("Vol surface computation failed for %s: %v", symbol, err)
		}

		if _, err := svc.ComputeExpectedMove(ctx, symbol, 0, true, false); err != nil {
			log.Errorf("Expected move calibration failed for %s: %v", symbol, err)
		}
	}
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, errorTracker errors.Tracker, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down...")

	cancel()

	if errorTracker != nil {
		if err := errorTracker.Flush(ctx); err != nil {
			log.Warnf("Failed to flush error tracker: %v", err)
		}
	}

	log.Info("Shutdown complete")
}
