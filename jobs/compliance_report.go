package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atlas-hcm/atlas-authz/internal/compliance"
	jobmetrics "github.com/atlas-hcm/atlas-authz/internal/jobs"
)

// ComplianceReportJob runs the scheduled compliance analysis.
type ComplianceReportJob struct {
	Service *compliance.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewComplianceReportJob initialises the report handler.
func NewComplianceReportJob(service *compliance.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ComplianceReportJob {
	return &ComplianceReportJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle generates and persists one report.
func (j *ComplianceReportJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("compliance report: handler not configured")
	}
	var payload ComplianceReportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowDays <= 0 {
		payload.WindowDays = 30
	}

	tracker := j.metrics().Track(TaskComplianceReport)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.now()
	logger := j.logger().With(slog.Int("window_days", payload.WindowDays))
	logger.Info("starting compliance report")

	report, err := j.Service.Generate(ctx, now.AddDate(0, 0, -payload.WindowDays), now)
	if err != nil {
		resultErr = err
		logger.Error("report failed", slog.Any("error", err))
		return resultErr
	}

	logger.Info("completed compliance report",
		slog.String("report_id", report.ReportID.String()),
		slog.Int("score", report.Score),
		slog.Int("violations", len(report.Violations)),
		slog.Bool("degraded", report.Degraded),
	)
	return resultErr
}

func (j *ComplianceReportJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskComplianceReport))
	}
	return slog.Default().With(slog.String("job", TaskComplianceReport))
}

func (j *ComplianceReportJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *ComplianceReportJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
