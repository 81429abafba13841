package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// LedgerReader loads ledger state for replay and diagnostics.
type LedgerReader interface {
	LoadProductLedger(ctx context.Context, productID int64) (ProductLedger, error)
	ListLocations(ctx context.Context) (map[int64]Location, error)
}

// SnapshotStore owns the materialized snapshot and its bookkeeping.
type SnapshotStore interface {
	SyncMovementClasses(ctx context.Context, entries []MovementClassEntry) error
	RefreshSnapshot(ctx context.Context, concurrent bool) error
	SnapshotRows(ctx context.Context, productIDs []int64) ([]SnapshotRow, error)
	CountSnapshotRows(ctx context.Context) (int64, error)
	RecordRefresh(ctx context.Context, rec RefreshRecord) (RefreshRecord, error)
	LastRefresh(ctx context.Context) (RefreshRecord, bool, error)
}

// RegenBatchStore finds and creates regen placeholder batches.
type RegenBatchStore interface {
	FindRegenBatch(ctx context.Context, productID int64) (Batch, bool, error)
	InsertRegenBatch(ctx context.Context, batch Batch) (Batch, bool, error)
}

// LedgerWriter appends ledger rows.
type LedgerWriter interface {
	UpsertMovement(ctx context.Context, m Movement) (Movement, error)
	WriteMovementLine(ctx context.Context, line MovementLine) (LineWriteResult, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	LedgerReader
	SnapshotStore
	RegenBatchStore
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Logger  *slog.Logger
	Cache   *Cache
	Metrics *jobmetrics.Metrics
	Now     func() time.Time
}

// Service coordinates snapshot refreshes, reads and batch repair.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	cache   *Cache
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	refreshGroup    singleflight.Group
	refreshMu       sync.Mutex
	refreshRequests atomic.Uint64
}

type refreshResult struct {
	rec     RefreshRecord
	covered uint64
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:    repo,
		audit:   audit,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		logger:  logger.With(slog.String("component", "inventory")),
		now:     now,
	}
}

// SyncMovementClasses mirrors the classifier table into storage.
func (s *Service) SyncMovementClasses(ctx context.Context) error {
	if err := s.repo.SyncMovementClasses(ctx, MovementClassTable()); err != nil {
		return fmt.Errorf("inventory: sync movement classes: %w", err)
	}
	return nil
}

// Refresh rebuilds the snapshot wholesale. Calls in the same mode share one
// rebuild, but only a rebuild that began after the call was made satisfies
// it; a caller that joins a rebuild already under way waits for the next one.
// Rebuilds in different modes run one after the other. A storage failure of
// the rebuild itself is returned unwrapped.
func (s *Service) Refresh(ctx context.Context, concurrent bool) (RefreshRecord, error) {
	ticket := s.refreshRequests.Add(1)
	key := "refresh:blocking"
	if concurrent {
		key = "refresh:concurrent"
	}
	for {
		v, err, joined := s.refreshGroup.Do(key, func() (interface{}, error) {
			s.refreshMu.Lock()
			defer s.refreshMu.Unlock()
			covered := s.refreshRequests.Load()
			rec, err := s.refresh(ctx, concurrent)
			return refreshResult{rec: rec, covered: covered}, err
		})
		if joined {
			s.logger.Debug("snapshot refresh shared", slog.Bool("concurrent", concurrent))
		}
		if err != nil {
			return RefreshRecord{}, err
		}
		res := v.(refreshResult)
		if res.covered >= ticket {
			return res.rec, nil
		}
		s.logger.Debug("snapshot refresh predates request, rebuilding", slog.Bool("concurrent", concurrent))
	}
}

func (s *Service) refresh(ctx context.Context, concurrent bool) (RefreshRecord, error) {
	tracker := s.metrics.Track("stock_snapshot_refresh")
	started := s.now()
	if err := s.SyncMovementClasses(ctx); err != nil {
		return RefreshRecord{}, tracker.End(err)
	}
	if err := s.repo.RefreshSnapshot(ctx, concurrent); err != nil {
		s.logger.Error("snapshot refresh failed", slog.Bool("concurrent", concurrent), slog.Any("error", err))
		return RefreshRecord{}, tracker.End(err)
	}
	count, err := s.repo.CountSnapshotRows(ctx)
	if err != nil {
		return RefreshRecord{}, tracker.End(fmt.Errorf("inventory: count snapshot rows: %w", err))
	}
	rec, err := s.repo.RecordRefresh(ctx, RefreshRecord{
		Concurrent: concurrent,
		StartedAt:  started,
		FinishedAt: s.now(),
		RowCount:   count,
	})
	if err != nil {
		return RefreshRecord{}, tracker.End(fmt.Errorf("inventory: record snapshot refresh: %w", err))
	}
	if err := s.cache.Bump(ctx, rec.ID); err != nil {
		s.logger.Warn("announce snapshot generation", slog.Any("error", err))
	}
	s.metrics.ObserveRefresh(rec.RowCount, rec.FinishedAt)
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			Action:   "inventory:snapshot_refresh",
			Entity:   "product_stock_snapshot",
			EntityID: rec.FinishedAt.Format(time.RFC3339Nano),
			Meta: map[string]any{
				"concurrent": concurrent,
				"rows":       rec.RowCount,
				"duration":   rec.FinishedAt.Sub(rec.StartedAt).String(),
			},
			At: rec.FinishedAt,
		})
		if err != nil {
			s.logger.Warn("record refresh audit", slog.Any("error", err))
		}
	}
	s.logger.Info("snapshot refreshed",
		slog.Bool("concurrent", concurrent),
		slog.Int64("rows", rec.RowCount),
		slog.Duration("took", rec.FinishedAt.Sub(rec.StartedAt)))
	return rec, tracker.End(nil)
}

// LastRefresh reports the most recent completed refresh.
func (s *Service) LastRefresh(ctx context.Context) (RefreshRecord, bool, error) {
	return s.repo.LastRefresh(ctx)
}

// GetSnapshots returns one snapshot per id, in request order. Unknown ids read
// as zeroed snapshots; no ids returns nil.
func (s *Service) GetSnapshots(ctx context.Context, ids ...int64) ([]Snapshot, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	unique := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	generation := s.cacheGeneration(ctx)
	var cached map[int64]Snapshot
	if generation > 0 {
		var err error
		cached, err = s.cache.Lookup(ctx, generation, unique)
		if err != nil {
			s.logger.Warn("snapshot cache lookup", slog.Any("error", err))
			cached = nil
		}
	}
	missing := make([]int64, 0, len(unique))
	for _, id := range unique {
		if _, ok := cached[id]; !ok {
			missing = append(missing, id)
		}
	}

	byID := make(map[int64]Snapshot, len(unique))
	for id, snap := range cached {
		byID[id] = snap
	}
	if len(missing) > 0 {
		rows, err := s.repo.SnapshotRows(ctx, missing)
		if err != nil {
			return nil, err
		}
		loaded := GroupSnapshots(missing, rows)
		for _, snap := range loaded {
			byID[snap.ProductID] = snap
		}
		if generation > 0 {
			if err := s.cache.Store(ctx, generation, loaded); err != nil {
				s.logger.Warn("snapshot cache store", slog.Any("error", err))
			}
		}
	}

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out, nil
}

// cacheGeneration returns the id of the latest recorded refresh, or 0 when the
// cache is off, nothing was recorded yet, or bookkeeping is unreadable.
func (s *Service) cacheGeneration(ctx context.Context) int64 {
	if !s.cache.Enabled() {
		return 0
	}
	last, ok, err := s.repo.LastRefresh(ctx)
	if err != nil {
		s.logger.Warn("snapshot cache generation", slog.Any("error", err))
		return 0
	}
	if !ok {
		return 0
	}
	return last.ID
}

// GetSnapshot returns the snapshot of a single product.
func (s *Service) GetSnapshot(ctx context.Context, productID int64) (Snapshot, error) {
	snaps, err := s.GetSnapshots(ctx, productID)
	if err != nil {
		return Snapshot{}, err
	}
	return snaps[0], nil
}
