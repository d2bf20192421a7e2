package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atlas-hcm/atlas-authz/internal/app"
	"github.com/atlas-hcm/atlas-authz/internal/assignments"
	"github.com/atlas-hcm/atlas-authz/internal/batch"
	"github.com/atlas-hcm/atlas-authz/internal/catalog"
	"github.com/atlas-hcm/atlas-authz/internal/compliance"
	"github.com/atlas-hcm/atlas-authz/internal/directory"
	"github.com/atlas-hcm/atlas-authz/internal/engine"
	"github.com/atlas-hcm/atlas-authz/internal/history"
	"github.com/atlas-hcm/atlas-authz/internal/observability"
	"github.com/atlas-hcm/atlas-authz/internal/platform/cache"
	"github.com/atlas-hcm/atlas-authz/internal/platform/db"
	"github.com/atlas-hcm/atlas-authz/internal/shared"
	"github.com/atlas-hcm/atlas-authz/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	clock := shared.SystemClock{}

	catalogService := catalog.NewService(catalog.NewRepository(pool))
	catalogHandler := catalog.NewHandler(catalogService, logger)

	decisionCache := engine.NewCache(redisClient, clock, cfg.DecisionCacheTTL)
	engineService := engine.NewService(engine.PGSnapshot(pool), decisionCache, clock, metrics)
	engineHandler := engine.NewHandler(engineService, logger)

	directoryService := directory.NewService(directory.NewRepository(pool))
	locker := shared.NewMutationLocker(redisClient, cfg.MutationLockTTL)
	batchValidator := batch.NewValidator(catalogService, directoryService, directoryService)
	batchExecutor := batch.NewExecutor(batchValidator, batch.PGTxRunner(pool), locker, engineService, clock, logger)
	batchHandler := batch.NewHandler(batchValidator, batchExecutor, logger)

	historyRecorder := history.NewRecorder(pool)
	historyHandler := history.NewHandler(historyRecorder, logger)

	assignmentRepo := assignments.NewRepository(pool)
	analyzer := compliance.NewAnalyzer(assignmentRepo, engineService, historyRecorder, clock, logger, cfg.ComplianceUsers)
	notifier := compliance.NewLogNotifier(logger, cfg.ComplianceScore)
	complianceService := compliance.NewService(analyzer, compliance.NewRepository(pool), notifier)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	complianceHandler := compliance.NewHandler(complianceService, jobsClient, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		CatalogHandler:    catalogHandler,
		EngineHandler:     engineHandler,
		BatchHandler:      batchHandler,
		HistoryHandler:    historyHandler,
		ComplianceHandler: complianceHandler,
		JobsHandler:       jobsHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
