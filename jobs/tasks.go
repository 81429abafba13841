package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/ingest"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockSnapshotRefresh rebuilds the stock snapshot.
	TaskStockSnapshotRefresh = "stock:snapshot_refresh"
	// TaskStockImportLedger ingests a ledger batch.
	TaskStockImportLedger = "stock:import_ledger"
	// TaskIdempotencyCleanup prunes expired import idempotency keys.
	TaskIdempotencyCleanup = "stock:idempotency_cleanup"
)

// refreshUniqueTTL bounds how long a queued refresh suppresses duplicates.
const refreshUniqueTTL = 15 * time.Minute

// SnapshotRefreshPayload selects the refresh mode.
type SnapshotRefreshPayload struct {
	Concurrent bool `json:"concurrent"`
}

// NewSnapshotRefreshTask constructs a refresh task. At most one refresh per
// mode is queued at a time across all producers.
func NewSnapshotRefreshTask(concurrent bool) (*asynq.Task, error) {
	body, err := json.Marshal(SnapshotRefreshPayload{Concurrent: concurrent})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockSnapshotRefresh, body,
		asynq.Queue(QueueDefault),
		asynq.Unique(refreshUniqueTTL),
		asynq.MaxRetry(3),
	), nil
}

// NewFollowUpRefreshTask constructs a refresh that bypasses the uniqueness
// lock. It is queued when a unique refresh is already pending or running and
// may have read the ledger before the caller's writes landed. key, when set,
// becomes the task id so one producer queues at most one follow-up.
func NewFollowUpRefreshTask(concurrent bool, key string) (*asynq.Task, error) {
	body, err := json.Marshal(SnapshotRefreshPayload{Concurrent: concurrent})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(3)}
	if key != "" {
		opts = append(opts, asynq.TaskID(TaskStockSnapshotRefresh+":after:"+key))
	}
	return asynq.NewTask(TaskStockSnapshotRefresh, body, opts...), nil
}

// ImportLedgerPayload wraps a ledger batch for asynchronous ingestion.
type ImportLedgerPayload struct {
	Batch ingest.Batch `json:"batch"`
}

// NewImportLedgerTask constructs an ingestion task. Imports are not retried
// since a partially applied batch must not be replayed.
func NewImportLedgerTask(batch ingest.Batch) (*asynq.Task, error) {
	body, err := json.Marshal(ImportLedgerPayload{Batch: batch})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockImportLedger, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
	), nil
}

// IdempotencyCleanupPayload bounds the age of retained keys.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
