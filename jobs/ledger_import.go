package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/ingest"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// LedgerImporter ingests a ledger batch.
type LedgerImporter interface {
	Import(ctx context.Context, batch ingest.Batch) (ingest.Report, error)
}

// RefreshEnqueuer queues a snapshot refresh.
type RefreshEnqueuer interface {
	EnqueueRefresh(ctx context.Context, concurrent bool) (*asynq.TaskInfo, error)
	EnqueueFollowUpRefresh(ctx context.Context, concurrent bool, key string) (*asynq.TaskInfo, error)
}

// ImportLedgerJob handles TaskStockImportLedger. A requested refresh is queued
// as its own task rather than run inline. When a refresh is already pending it
// may have started before this import wrote, so a follow-up is queued too.
type ImportLedgerJob struct {
	Importer LedgerImporter
	Refresh  RefreshEnqueuer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewImportLedgerJob constructs the job handler.
func NewImportLedgerJob(importer LedgerImporter, refresh RefreshEnqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ImportLedgerJob {
	return &ImportLedgerJob{Importer: importer, Refresh: refresh, Logger: logger, Metrics: metrics}
}

// Handle executes the import.
func (j *ImportLedgerJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Importer == nil {
		return errors.New("import ledger: dependencies not configured")
	}
	var payload ImportLedgerPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	batch := payload.Batch
	wantRefresh := batch.Refresh
	batch.Refresh = false

	tracker := j.Metrics.Track(TaskStockImportLedger)
	report, err := j.Importer.Import(ctx, batch)
	logger := j.log().With(slog.String("run_id", report.RunID.String()))
	if err != nil {
		logger.Error("import ledger", slog.Any("error", err))
		return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
	}
	for _, rowErr := range report.Errors {
		logger.Warn("ledger row rejected",
			slog.String("kind", rowErr.Kind),
			slog.Int("index", rowErr.Index),
			slog.String("reason", rowErr.Message))
	}
	logger.Info("ledger import complete",
		slog.Int("movements", report.Movements),
		slog.Int("lines", report.Lines),
		slog.Int("repaired", report.Repaired),
		slog.Int("errors", len(report.Errors)))

	if wantRefresh && j.Refresh != nil {
		if err := j.enqueueRefresh(ctx, logger, report, batch.Concurrent); err != nil {
			logger.Error("enqueue refresh after import", slog.Any("error", err))
			return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
		}
	}
	return tracker.End(nil)
}

func (j *ImportLedgerJob) enqueueRefresh(ctx context.Context, logger *slog.Logger, report ingest.Report, concurrent bool) error {
	_, err := j.Refresh.EnqueueRefresh(ctx, concurrent)
	if !errors.Is(err, asynq.ErrDuplicateTask) {
		return err
	}
	var key string
	if report.RunID != uuid.Nil {
		key = report.RunID.String()
	}
	logger.Info("refresh already pending, queueing follow-up", slog.Bool("concurrent", concurrent))
	_, err = j.Refresh.EnqueueFollowUpRefresh(ctx, concurrent, key)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (j *ImportLedgerJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStockImportLedger))
	}
	return slog.Default().With(slog.String("job", TaskStockImportLedger))
}
