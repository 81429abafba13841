//go:build integration

package inventory

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/testing/pgtest"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	pg := pgtest.MustStart()
	testPool = pg.MustPool(context.Background())
	code := m.Run()
	testPool.Close()
	pg.Terminate()
	os.Exit(code)
}

type pgFixture struct {
	repo    *Repository
	svc     *Service
	main    int64
	sample  int64
	product int64
}

func newPGFixture(t *testing.T) pgFixture {
	t.Helper()
	ctx := context.Background()
	f := pgFixture{repo: NewRepository(testPool)}
	f.svc = NewService(f.repo, nil, ServiceConfig{Logger: pgtest.Logger()})
	require.NoError(t, testPool.QueryRow(ctx,
		`INSERT INTO stock_locations (name, kind) VALUES ('Main', 'warehouse') RETURNING id`).Scan(&f.main))
	require.NoError(t, testPool.QueryRow(ctx,
		`INSERT INTO stock_locations (name, kind) VALUES ('Sample', 'sample') RETURNING id`).Scan(&f.sample))
	require.NoError(t, testPool.QueryRow(ctx,
		`INSERT INTO products (sku, name, track_stock) VALUES ($1, 'Fabric P', TRUE) RETURNING id`,
		"P-"+uuid.NewString()).Scan(&f.product))
	return f
}

func (f pgFixture) batch(t *testing.T, qty string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, testPool.QueryRow(context.Background(),
		`INSERT INTO stock_batches (product_id, location_id, name, quantity) VALUES ($1, $2, 'B', $3) RETURNING id`,
		f.product, f.main, dec(qty)).Scan(&id))
	return id
}

func (f pgFixture) movement(t *testing.T, m Movement) Movement {
	t.Helper()
	m.ProductID = f.product
	out, err := f.repo.UpsertMovement(context.Background(), m)
	require.NoError(t, err)
	return out
}

func (f pgFixture) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := f.svc.GetSnapshot(context.Background(), f.product)
	require.NoError(t, err)
	return snap
}

func TestPostgresScenarioDualLedger(t *testing.T) {
	f := newPGFixture(t)
	f.batch(t, "0")
	f.movement(t, Movement{Type: "DEFECT_SAMPLE", LocationOutID: f.main, Quantity: dec("-1")})
	f.movement(t, Movement{Type: "DEFECT_SAMPLE", LocationInID: f.sample, Quantity: dec("1")})

	_, err := f.svc.Refresh(context.Background(), true)
	require.NoError(t, err)

	snap := f.snapshot(t)
	requireQty(t, "0", snap.TotalQty)
	requireQty(t, "-1", snapshotLocation(t, snap, f.main).Qty)
	requireQty(t, "1", snapshotLocation(t, snap, f.sample).Qty)
	require.Len(t, snap.ByBatch, 1)
}

func TestPostgresScenarioBatchFallback(t *testing.T) {
	f := newPGFixture(t)
	f.batch(t, "5")

	_, err := f.svc.Refresh(context.Background(), false)
	require.NoError(t, err)

	snap := f.snapshot(t)
	requireQty(t, "5", snap.TotalQty)
	require.Empty(t, snap.ByLocation)
	require.Len(t, snap.ByBatch, 1)
	requireQty(t, "0", snap.ByBatch[0].Qty)
}

func TestPostgresScenarioRecognizedInflow(t *testing.T) {
	f := newPGFixture(t)
	f.movement(t, Movement{Type: "purchase", LocationInID: f.main, Quantity: dec("10")})

	_, err := f.svc.Refresh(context.Background(), true)
	require.NoError(t, err)

	snap := f.snapshot(t)
	requireQty(t, "10", snap.TotalQty)
	require.Len(t, snap.ByLocation, 1)
	require.Equal(t, "Main", snap.ByLocation[0].LocationName)
	requireQty(t, "10", snap.ByLocation[0].Qty)
}

func TestPostgresMatchesInProcessAggregation(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)
	f.batch(t, "3.3333")
	f.movement(t, Movement{Type: "Purchase ", LocationInID: f.main, Quantity: dec("7.005")})
	f.movement(t, Movement{Type: "TRANSFER", LocationOutID: f.main, LocationInID: f.sample, Quantity: dec("2")})
	f.movement(t, Movement{Type: "transfer", LocationOutID: f.main, Quantity: dec("1")})
	f.movement(t, Movement{Type: "sale", Quantity: dec("-0.5")})

	_, err := f.svc.Refresh(ctx, true)
	require.NoError(t, err)

	rec, err := f.svc.Reconcile(ctx, f.product)
	require.NoError(t, err)
	require.True(t, rec.InSync(), "discrepancies: %+v", rec.Discrepancies)
	requireQty(t, rec.ReplayedTotal.String(), rec.MaterializedTotal)
}

func TestPostgresAgreesOnNonASCIIWhitespaceLabels(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)
	f.movement(t, Movement{Type: "purchase", LocationInID: f.main, Quantity: dec("9")})
	f.movement(t, Movement{Type: "TRANSFER\u00a0", LocationOutID: f.main, LocationInID: f.sample, Quantity: dec("2")})
	f.movement(t, Movement{Type: "\u0085purchase", LocationInID: f.main, Quantity: dec("5")})
	f.movement(t, Movement{Type: "\u2003sale", Quantity: dec("-1")})
	f.movement(t, Movement{Type: " \tSALE\v", Quantity: dec("-3")})

	_, err := f.svc.Refresh(ctx, true)
	require.NoError(t, err)

	rec, err := f.svc.Reconcile(ctx, f.product)
	require.NoError(t, err)
	require.True(t, rec.InSync(), "discrepancies: %+v", rec.Discrepancies)
	requireQty(t, "6", rec.MaterializedTotal)
	snap := f.snapshot(t)
	requireQty(t, "16", snapshotLocation(t, snap, f.main).Qty)
	requireQty(t, "2", snapshotLocation(t, snap, f.sample).Qty)
}

func TestPostgresRefreshIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)
	f.movement(t, Movement{Type: "purchase", LocationInID: f.main, Quantity: dec("4")})

	first, err := f.svc.Refresh(ctx, true)
	require.NoError(t, err)
	before := f.snapshot(t)
	second, err := f.svc.Refresh(ctx, true)
	require.NoError(t, err)
	after := f.snapshot(t)

	require.Equal(t, first.RowCount, second.RowCount)
	requireQty(t, before.TotalQty.String(), after.TotalQty)
	require.Equal(t, len(before.ByLocation), len(after.ByLocation))

	last, ok, err := f.svc.LastRefresh(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, last.Concurrent)
}

func TestPostgresConcurrentRefreshWithoutIndexFails(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)
	_, err := testPool.Exec(ctx, `DROP INDEX product_stock_snapshot_key`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, err := testPool.Exec(context.Background(),
			`CREATE UNIQUE INDEX product_stock_snapshot_key ON product_stock_snapshot (product_id, location_key, batch_key)`)
		require.NoError(t, err)
	})

	_, err = f.svc.Refresh(ctx, true)
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr), "want storage error, got %T", err)

	_, err = f.svc.Refresh(ctx, false)
	require.NoError(t, err)
}

func TestPostgresLineWithMissingBatch(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)
	mv := f.movement(t, Movement{Type: "consumption", LocationOutID: f.main, Quantity: dec("-2")})

	res, err := f.repo.WriteMovementLine(ctx, MovementLine{MovementID: mv.ID, ProductID: f.product, BatchID: 999999999, Quantity: dec("-2")})
	require.NoError(t, err)
	require.Equal(t, LineBatchMissing, res.Status)
	require.False(t, res.Written())

	batch, err := f.svc.GetOrCreateRegenBatch(ctx, f.product)
	require.NoError(t, err)
	res, err = f.repo.WriteMovementLine(ctx, MovementLine{MovementID: mv.ID, ProductID: f.product, BatchID: batch.ID, Quantity: dec("-2")})
	require.NoError(t, err)
	require.True(t, res.Written())
}

func TestPostgresRegenBatchRace(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)

	const workers = 8
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := f.svc.GetOrCreateRegenBatch(ctx, f.product)
			if err == nil {
				ids[i] = b.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		require.NotZero(t, id)
		require.Equal(t, ids[0], id)
	}

	var count int
	require.NoError(t, testPool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_batches WHERE product_id = $1 AND is_regen`, f.product).Scan(&count))
	require.Equal(t, 1, count)
}

func TestPostgresLoadProductLedger(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)
	batchID := f.batch(t, "1")
	mv := f.movement(t, Movement{Type: " Purchase", LocationInID: f.main, Quantity: dec("1")})
	_, err := f.repo.WriteMovementLine(ctx, MovementLine{MovementID: mv.ID, ProductID: f.product, BatchID: batchID, Quantity: dec("1")})
	require.NoError(t, err)

	ledger, err := f.repo.LoadProductLedger(ctx, f.product)
	require.NoError(t, err)
	require.Len(t, ledger.Movements, 1)
	require.Equal(t, Inflow, ledger.Movements[0].Class)
	require.Len(t, ledger.Batches, 1)
	require.Len(t, ledger.Lines, 1)

	_, err = f.repo.LoadProductLedger(ctx, -1)
	require.ErrorIs(t, err, ErrProductNotFound)
}
