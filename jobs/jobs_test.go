package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/ingest"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

type stubRefresher struct {
	calls []bool
	err   error
}

func (s *stubRefresher) Refresh(_ context.Context, concurrent bool) (inventory.RefreshRecord, error) {
	s.calls = append(s.calls, concurrent)
	if s.err != nil {
		return inventory.RefreshRecord{}, s.err
	}
	return inventory.RefreshRecord{Concurrent: concurrent, RowCount: 3}, nil
}

func TestSnapshotRefreshTask(t *testing.T) {
	task, err := NewSnapshotRefreshTask(true)
	require.NoError(t, err)
	require.Equal(t, TaskStockSnapshotRefresh, task.Type())
	require.JSONEq(t, `{"concurrent":true}`, string(task.Payload()))
}

func TestSnapshotRefreshJobHandle(t *testing.T) {
	refresher := &stubRefresher{}
	job := NewSnapshotRefreshJob(refresher, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewSnapshotRefreshTask(false)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []bool{false}, refresher.calls)
}

func TestSnapshotRefreshJobPropagatesFailure(t *testing.T) {
	boom := errors.New("could not obtain lock")
	job := NewSnapshotRefreshJob(&stubRefresher{err: boom}, nil, nil)
	task, err := NewSnapshotRefreshTask(true)
	require.NoError(t, err)

	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestSnapshotRefreshJobRejectsBadPayload(t *testing.T) {
	job := NewSnapshotRefreshJob(&stubRefresher{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskStockSnapshotRefresh, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubCleaner struct {
	retention time.Duration
	err       error
}

func (s *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) error {
	s.retention = olderThan
	return s.err
}

func TestIdempotencyCleanupJob(t *testing.T) {
	cleaner := &stubCleaner{}
	job := &IdempotencyCleanupJob{Store: cleaner}
	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, TaskIdempotencyCleanup, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, cleaner.retention)

	cleaner.err = errors.New("db down")
	require.ErrorIs(t, job.Handle(context.Background(), task), cleaner.err)

	zero, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), zero), asynq.SkipRetry)
}

type stubImporter struct {
	got   ingest.Batch
	runID uuid.UUID
	err   error
}

func (s *stubImporter) Import(_ context.Context, batch ingest.Batch) (ingest.Report, error) {
	s.got = batch
	report := ingest.Report{RunID: s.runID, Movements: len(batch.Movements)}
	if s.err == nil {
		report.Errors = []ingest.RowError{{Kind: ingest.KindLine, Index: 0, Message: "movement_id or movement_index required"}}
	}
	return report, s.err
}

type followUp struct {
	concurrent bool
	key        string
}

type stubEnqueuer struct {
	calls       []bool
	followUps   []followUp
	err         error
	followUpErr error
}

func (s *stubEnqueuer) EnqueueRefresh(_ context.Context, concurrent bool) (*asynq.TaskInfo, error) {
	s.calls = append(s.calls, concurrent)
	return &asynq.TaskInfo{}, s.err
}

func (s *stubEnqueuer) EnqueueFollowUpRefresh(_ context.Context, concurrent bool, key string) (*asynq.TaskInfo, error) {
	s.followUps = append(s.followUps, followUp{concurrent: concurrent, key: key})
	return &asynq.TaskInfo{}, s.followUpErr
}

func importTask(t *testing.T, batch ingest.Batch) *asynq.Task {
	t.Helper()
	task, err := NewImportLedgerTask(batch)
	require.NoError(t, err)
	require.Equal(t, TaskStockImportLedger, task.Type())
	return task
}

func TestImportLedgerJobQueuesRefresh(t *testing.T) {
	importer := &stubImporter{}
	enqueuer := &stubEnqueuer{}
	job := NewImportLedgerJob(importer, enqueuer, nil, nil)
	batch := ingest.Batch{Movements: []ingest.MovementInput{{ProductID: 1}}, Refresh: true, Concurrent: true}

	require.NoError(t, job.Handle(context.Background(), importTask(t, batch)))
	require.False(t, importer.got.Refresh)
	require.Len(t, importer.got.Movements, 1)
	require.Equal(t, []bool{true}, enqueuer.calls)
}

func TestImportLedgerJobQueuesFollowUpBehindPendingRefresh(t *testing.T) {
	runID := uuid.New()
	enqueuer := &stubEnqueuer{err: asynq.ErrDuplicateTask}
	job := NewImportLedgerJob(&stubImporter{runID: runID}, enqueuer, nil, nil)

	require.NoError(t, job.Handle(context.Background(), importTask(t, ingest.Batch{Refresh: true, Concurrent: true})))
	require.Len(t, enqueuer.calls, 1)
	require.Equal(t, []followUp{{concurrent: true, key: runID.String()}}, enqueuer.followUps)
}

func TestImportLedgerJobToleratesQueuedFollowUp(t *testing.T) {
	enqueuer := &stubEnqueuer{err: asynq.ErrDuplicateTask, followUpErr: asynq.ErrTaskIDConflict}
	job := NewImportLedgerJob(&stubImporter{runID: uuid.New()}, enqueuer, nil, nil)

	require.NoError(t, job.Handle(context.Background(), importTask(t, ingest.Batch{Refresh: true})))
	require.Len(t, enqueuer.followUps, 1)
}

func TestImportLedgerJobFailsWhenFollowUpCannotBeQueued(t *testing.T) {
	enqueuer := &stubEnqueuer{err: asynq.ErrDuplicateTask, followUpErr: errors.New("redis down")}
	job := NewImportLedgerJob(&stubImporter{}, enqueuer, nil, nil)

	err := job.Handle(context.Background(), importTask(t, ingest.Batch{Refresh: true}))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, []followUp{{key: ""}}, enqueuer.followUps)
}

func TestFollowUpRefreshTask(t *testing.T) {
	task, err := NewFollowUpRefreshTask(true, "run-1")
	require.NoError(t, err)
	require.Equal(t, TaskStockSnapshotRefresh, task.Type())
	var payload SnapshotRefreshPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.True(t, payload.Concurrent)
}

func TestImportLedgerJobSkipsRefreshWhenNotRequested(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	job := NewImportLedgerJob(&stubImporter{}, enqueuer, nil, nil)

	require.NoError(t, job.Handle(context.Background(), importTask(t, ingest.Batch{})))
	require.Empty(t, enqueuer.calls)
}

func TestImportLedgerJobDoesNotRetry(t *testing.T) {
	job := NewImportLedgerJob(&stubImporter{err: ingest.ErrInvalidBatch}, &stubEnqueuer{}, nil, nil)

	err := job.Handle(context.Background(), importTask(t, ingest.Batch{}))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthHandler(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		pending   int
	}{
		{name: "no inspector", status: http.StatusOK},
		{name: "queue info", inspector: stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4}}, status: http.StatusOK, pending: 4},
		{name: "redis down", inspector: stubInspector{err: errors.New("dial tcp: refused")}, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Route("/jobs", NewHandler(tc.inspector, nil).MountRoutes)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
			require.Equal(t, tc.status, rec.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body queueHealth
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, QueueDefault, body.Queue)
			require.Equal(t, tc.pending, body.Pending)
		})
	}
}
