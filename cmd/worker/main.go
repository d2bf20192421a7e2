package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/atlas-hcm/atlas-authz/internal/app"
	"github.com/atlas-hcm/atlas-authz/internal/assignments"
	"github.com/atlas-hcm/atlas-authz/internal/batch"
	"github.com/atlas-hcm/atlas-authz/internal/compliance"
	"github.com/atlas-hcm/atlas-authz/internal/engine"
	"github.com/atlas-hcm/atlas-authz/internal/history"
	jobmetrics "github.com/atlas-hcm/atlas-authz/internal/jobs"
	"github.com/atlas-hcm/atlas-authz/internal/observability"
	"github.com/atlas-hcm/atlas-authz/internal/platform/cache"
	"github.com/atlas-hcm/atlas-authz/internal/platform/db"
	"github.com/atlas-hcm/atlas-authz/internal/shared"
	"github.com/atlas-hcm/atlas-authz/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
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
	taskMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	clock := shared.SystemClock{}

	decisionCache := engine.NewCache(redisClient, clock, cfg.DecisionCacheTTL)
	engineService := engine.NewService(engine.PGSnapshot(pool), decisionCache, clock, metrics)

	assignmentRepo := assignments.NewRepository(pool)
	historyRecorder := history.NewRecorder(pool)
	complianceRepo := compliance.NewRepository(pool)
	analyzer := compliance.NewAnalyzer(assignmentRepo, engineService, historyRecorder, clock, logger, cfg.ComplianceUsers)
	notifier := compliance.NewLogNotifier(logger, cfg.ComplianceScore)
	complianceService := compliance.NewService(analyzer, complianceRepo, notifier)

	reportJob := jobs.NewComplianceReportJob(complianceService, logger, taskMetrics)
	sweepJob := jobs.NewOverrideSweepJob(assignmentRepo, batch.PGTxRunner(pool), engineService, logger, taskMetrics)
	pruneJob := jobs.NewReportPruneJob(complianceRepo, logger, taskMetrics)

	reportTask, err := jobs.NewComplianceReportTask(jobs.ComplianceReportPayload{WindowDays: 30})
	if err != nil {
		logger.Error("build report task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewOverrideSweepTask(jobs.OverrideSweepPayload{Limit: 500})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	pruneTask, err := jobs.NewReportPruneTask(jobs.ReportPrunePayload{RetentionDays: cfg.RetentionDays})
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskComplianceReport, Handler: reportJob.Handle},
			{Type: jobs.TaskOverrideSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskReportPrune, Handler: pruneJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ComplianceCron, Task: reportTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.OverrideSweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
