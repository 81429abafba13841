package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// SnapshotRefresher rebuilds the stock snapshot.
type SnapshotRefresher interface {
	Refresh(ctx context.Context, concurrent bool) (inventory.RefreshRecord, error)
}

// SnapshotRefreshJob handles TaskStockSnapshotRefresh.
type SnapshotRefreshJob struct {
	Service SnapshotRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSnapshotRefreshJob constructs the job handler.
func NewSnapshotRefreshJob(service SnapshotRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *SnapshotRefreshJob {
	return &SnapshotRefreshJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes the refresh.
func (j *SnapshotRefreshJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("snapshot refresh: dependencies not configured")
	}
	var payload SnapshotRefreshPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskStockSnapshotRefresh)
	rec, err := j.Service.Refresh(ctx, payload.Concurrent)
	if err != nil {
		j.log().Error("snapshot refresh", slog.Bool("concurrent", payload.Concurrent), slog.Any("error", err))
		return tracker.End(err)
	}
	j.log().Info("snapshot refresh complete",
		slog.Bool("concurrent", rec.Concurrent),
		slog.Int64("rows", rec.RowCount))
	return tracker.End(nil)
}

func (j *SnapshotRefreshJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStockSnapshotRefresh))
	}
	return slog.Default().With(slog.String("job", TaskStockSnapshotRefresh))
}
