package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atlas-hcm/atlas-authz/internal/assignments"
	"github.com/atlas-hcm/atlas-authz/internal/batch"
	"github.com/atlas-hcm/atlas-authz/internal/history"
	jobmetrics "github.com/atlas-hcm/atlas-authz/internal/jobs"
	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// ExpiredOverrideSource lists overrides whose expiry passed without
// revocation. assignments.Repository satisfies it.
type ExpiredOverrideSource interface {
	ExpiredActiveOverrides(ctx context.Context, asOf time.Time, limit int) ([]assignments.Override, error)
}

// OverrideSweepJob closes out expired overrides so they cannot spring back to
// life through an expiry extension, and so compliance reports stay clean. The
// revocations run through the same transactional path as interactive
// mutations and leave history entries.
type OverrideSweepJob struct {
	Source  ExpiredOverrideSource
	Run     batch.TxRunner
	Caches  batch.CacheInvalidator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewOverrideSweepJob initialises the sweep handler.
func NewOverrideSweepJob(source ExpiredOverrideSource, run batch.TxRunner, caches batch.CacheInvalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverrideSweepJob {
	return &OverrideSweepJob{
		Source:  source,
		Run:     run,
		Caches:  caches,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle revokes up to payload.Limit expired overrides.
func (j *OverrideSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil || j.Run == nil {
		return errors.New("override sweep: handler not configured")
	}
	var payload OverrideSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Limit <= 0 {
		payload.Limit = 500
	}

	tracker := j.metrics().Track(TaskOverrideSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.now()
	logger := j.logger()
	logger.Info("starting override sweep", slog.Int("limit", payload.Limit))

	expired, err := j.Source.ExpiredActiveOverrides(ctx, now, payload.Limit)
	if err != nil {
		resultErr = err
		logger.Error("list expired overrides", slog.Any("error", err))
		return resultErr
	}
	if len(expired) == 0 {
		logger.Info("no expired overrides to sweep")
		return nil
	}

	swept := 0
	touched := map[int64]struct{}{}
	resultErr = j.Run(ctx, func(stores batch.Stores) error {
		for _, o := range expired {
			if err := stores.Assignments.RevokeOverride(ctx, o.ID, o.Version, now); err != nil {
				// A concurrent revoke is fine; anything else aborts the sweep.
				if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrConcurrentModification) {
					continue
				}
				return err
			}
			before, _ := json.Marshal(o)
			if err := stores.History.Record(ctx, history.Entry{
				Action:     history.ActionRevokeOverride,
				Entity:     "override",
				EntityID:   strconv.FormatInt(o.ID, 10),
				UserID:     o.UserID,
				Before:     before,
				OccurredAt: now,
			}); err != nil {
				return err
			}
			j.metrics().AddSwept(string(o.Decision), 1)
			touched[o.UserID] = struct{}{}
			swept++
		}
		return nil
	})
	if resultErr != nil {
		logger.Error("sweep failed", slog.Any("error", resultErr))
		return resultErr
	}

	if j.Caches != nil {
		for userID := range touched {
			j.Caches.InvalidateUser(ctx, userID)
		}
	}

	logger.Info("completed override sweep",
		slog.Int("expired", len(expired)),
		slog.Int("swept", swept),
	)
	return nil
}

func (j *OverrideSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOverrideSweep))
	}
	return slog.Default().With(slog.String("job", TaskOverrideSweep))
}

func (j *OverrideSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *OverrideSweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
