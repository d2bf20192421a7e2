package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/atlas-hcm/atlas-authz/internal/jobs"
)

// ReportPruner deletes reports older than the cutoff.
// compliance.Repository satisfies it.
type ReportPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReportPruneJob enforces report retention.
type ReportPruneJob struct {
	Pruner  ReportPruner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReportPruneJob initialises the prune handler.
func NewReportPruneJob(pruner ReportPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportPruneJob {
	return &ReportPruneJob{
		Pruner:  pruner,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle deletes reports generated before the retention horizon.
func (j *ReportPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pruner == nil {
		return errors.New("report prune: handler not configured")
	}
	var payload ReportPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = 365
	}

	tracker := j.metrics().Track(TaskReportPrune)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cutoff := j.now().AddDate(0, 0, -payload.RetentionDays)
	deleted, err := j.Pruner.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		resultErr = err
		j.logger().Error("prune failed", slog.Any("error", err))
		return resultErr
	}
	j.logger().Info("completed report prune",
		slog.Time("cutoff", cutoff),
		slog.Int64("deleted", deleted),
	)
	return resultErr
}

func (j *ReportPruneJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReportPrune))
	}
	return slog.Default().With(slog.String("job", TaskReportPrune))
}

func (j *ReportPruneJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *ReportPruneJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
