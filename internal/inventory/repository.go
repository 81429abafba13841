package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const (
	snapshotView          = "product_stock_snapshot"
	lineBatchFKConstraint = "stock_movement_lines_batch_id_fkey"
)

// Repository persists the stock ledger and its snapshot in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ RepositoryPort = (*Repository)(nil)
	_ LedgerWriter   = (*Repository)(nil)
)

// SyncMovementClasses rewrites stock_movement_classes from the classifier table.
func (r *Repository) SyncMovementClasses(ctx context.Context, entries []MovementClassEntry) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM stock_movement_classes`); err != nil {
			return err
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"stock_movement_classes"},
			[]string{"label", "class"},
			pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
				return []any{entries[i].Label, entries[i].Class.String()}, nil
			}),
		)
		return err
	})
}

// RefreshSnapshot rebuilds product_stock_snapshot. Errors are returned as the
// driver reported them.
func (r *Repository) RefreshSnapshot(ctx context.Context, concurrent bool) error {
	stmt := "REFRESH MATERIALIZED VIEW " + snapshotView
	if concurrent {
		stmt = "REFRESH MATERIALIZED VIEW CONCURRENTLY " + snapshotView
	}
	_, err := r.pool.Exec(ctx, stmt)
	return err
}

// SnapshotRows reads the materialized rows of the given products in
// (product, location, batch) order.
func (r *Repository) SnapshotRows(ctx context.Context, productIDs []int64) ([]SnapshotRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, total_qty, location_id, location_name, location_qty,
		       batch_id, batch_name, batch_code, lot_number, supplier_ref, batch_received_at,
		       batch_location_id, batch_location_name, batch_qty
		FROM product_stock_snapshot
		WHERE product_id = ANY($1)
		ORDER BY product_id, location_key, batch_key`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var row SnapshotRow
		var locationID, batchID, batchLocationID pgtype.Int8
		var locationName, batchName, batchCode, lot, supRef, batchLocationName pgtype.Text
		var receivedAt pgtype.Timestamptz
		var batchQty decimal.NullDecimal
		if err := rows.Scan(
			&row.ProductID, &row.TotalQty, &locationID, &locationName, &row.LocationQty,
			&batchID, &batchName, &batchCode, &lot, &supRef, &receivedAt,
			&batchLocationID, &batchLocationName, &batchQty,
		); err != nil {
			return nil, err
		}
		row.LocationID = locationID.Int64
		row.LocationName = locationName.String
		row.BatchID = batchID.Int64
		row.BatchName = batchName.String
		row.BatchCodes = BatchCodes{Code: batchCode.String, LotNumber: lot.String, SupplierRef: supRef.String}
		row.BatchReceivedAt = timeOrZero(receivedAt)
		row.BatchLocationID = batchLocationID.Int64
		row.BatchLocationName = batchLocationName.String
		row.BatchQty = batchQty.Decimal
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountSnapshotRows returns the number of materialized rows.
func (r *Repository) CountSnapshotRows(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM product_stock_snapshot`).Scan(&n)
	return n, err
}

// RecordRefresh appends a refresh bookkeeping row and returns it with its id.
func (r *Repository) RecordRefresh(ctx context.Context, rec RefreshRecord) (RefreshRecord, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO stock_snapshot_refreshes (concurrent, started_at, finished_at, row_count)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, rec.Concurrent, rec.StartedAt, rec.FinishedAt, rec.RowCount).Scan(&rec.ID)
	if err != nil {
		return RefreshRecord{}, err
	}
	return rec, nil
}

// LastRefresh returns the most recently recorded refresh, if any.
func (r *Repository) LastRefresh(ctx context.Context) (RefreshRecord, bool, error) {
	var rec RefreshRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, concurrent, started_at, finished_at, row_count
		FROM stock_snapshot_refreshes
		ORDER BY id DESC
		LIMIT 1`).Scan(&rec.ID, &rec.Concurrent, &rec.StartedAt, &rec.FinishedAt, &rec.RowCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshRecord{}, false, nil
	}
	if err != nil {
		return RefreshRecord{}, false, err
	}
	return rec, true, nil
}

// LoadProductLedger loads a product with its classified movements, batches and
// the lines allocated to those batches.
func (r *Repository) LoadProductLedger(ctx context.Context, productID int64) (ProductLedger, error) {
	var ledger ProductLedger
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, track_stock FROM products WHERE id = $1`, productID).
		Scan(&ledger.Product.ID, &ledger.Product.SKU, &ledger.Product.Name, &ledger.Product.TrackStock)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductLedger{}, ErrProductNotFound
	}
	if err != nil {
		return ProductLedger{}, err
	}

	movements, err := r.listMovements(ctx, productID)
	if err != nil {
		return ProductLedger{}, fmt.Errorf("inventory: load movements: %w", err)
	}
	ledger.Movements = ClassifyMovements(movements)

	if ledger.Batches, err = r.listBatches(ctx, productID); err != nil {
		return ProductLedger{}, fmt.Errorf("inventory: load batches: %w", err)
	}
	if ledger.Lines, err = r.listBatchLines(ctx, productID); err != nil {
		return ProductLedger{}, fmt.Errorf("inventory: load lines: %w", err)
	}
	return ledger, nil
}

func (r *Repository) listMovements(ctx context.Context, productID int64) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, movement_type, movement_date, product_id, location_in_id, location_out_id, quantity
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var m Movement
		var in, outLoc pgtype.Int8
		if err := rows.Scan(&m.ID, &m.Type, &m.Date, &m.ProductID, &in, &outLoc, &m.Quantity); err != nil {
			return nil, err
		}
		m.LocationInID, m.LocationOutID = in.Int64, outLoc.Int64
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) listBatches(ctx context.Context, productID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+batchColumns+`
		FROM stock_batches
		WHERE product_id = $1
		ORDER BY id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) listBatchLines(ctx context.Context, productID int64) ([]MovementLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.id, l.movement_id, l.product_id, l.batch_id, l.quantity
		FROM stock_movement_lines l
		JOIN stock_batches b ON b.id = l.batch_id
		WHERE b.product_id = $1
		ORDER BY l.id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MovementLine
	for rows.Next() {
		var l MovementLine
		if err := rows.Scan(&l.ID, &l.MovementID, &l.ProductID, &l.BatchID, &l.Quantity); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListLocations returns every location keyed by id.
func (r *Repository) ListLocations(ctx context.Context) (map[int64]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, kind FROM stock_locations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]Location)
	for rows.Next() {
		var loc Location
		var kind string
		if err := rows.Scan(&loc.ID, &loc.Name, &kind); err != nil {
			return nil, err
		}
		loc.Kind = LocationKind(kind)
		out[loc.ID] = loc
	}
	return out, rows.Err()
}

const batchColumns = `id, product_id, location_id, name, code, lot_number, supplier_ref, quantity, received_at, is_regen`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var location pgtype.Int8
	var receivedAt pgtype.Timestamptz
	if err := row.Scan(&b.ID, &b.ProductID, &location, &b.Name, &b.Codes.Code, &b.Codes.LotNumber,
		&b.Codes.SupplierRef, &b.Quantity, &receivedAt, &b.Regen); err != nil {
		return Batch{}, err
	}
	b.LocationID = location.Int64
	b.ReceivedAt = timeOrZero(receivedAt)
	return b, nil
}

// FindRegenBatch looks up the product's regenerated placeholder batch.
func (r *Repository) FindRegenBatch(ctx context.Context, productID int64) (Batch, bool, error) {
	b, err := scanBatch(r.pool.QueryRow(ctx, `
		SELECT `+batchColumns+`
		FROM stock_batches
		WHERE product_id = $1 AND is_regen AND code = $2
		ORDER BY id
		LIMIT 1`, productID, RegenBatchCode(productID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, false, nil
	}
	if err != nil {
		return Batch{}, false, err
	}
	return b, true, nil
}

// InsertRegenBatch creates the regen batch unless one already exists. The
// stock_batches_regen_uniq index makes a concurrent loser fall through to the
// winner's row; created reports whether this call inserted it.
func (r *Repository) InsertRegenBatch(ctx context.Context, batch Batch) (Batch, bool, error) {
	created, err := scanBatch(r.pool.QueryRow(ctx, `
		INSERT INTO stock_batches (product_id, location_id, name, code, lot_number, supplier_ref, quantity, received_at, is_regen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		ON CONFLICT (product_id) WHERE is_regen DO NOTHING
		RETURNING `+batchColumns,
		batch.ProductID, nullInt8(batch.LocationID), batch.Name, batch.Codes.Code, batch.Codes.LotNumber,
		batch.Codes.SupplierRef, batch.Quantity, nullTime(batch.ReceivedAt)))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if shared.IsForeignKeyViolation(err, "") {
			return Batch{}, false, ErrProductNotFound
		}
		return Batch{}, false, err
	}
	existing, ok, err := r.FindRegenBatch(ctx, batch.ProductID)
	if err != nil {
		return Batch{}, false, err
	}
	if !ok {
		return Batch{}, false, ErrBatchNotFound
	}
	return existing, false, nil
}

// UpsertMovement inserts a header, or replaces it when the id already exists.
// A zero id lets storage assign one.
func (r *Repository) UpsertMovement(ctx context.Context, m Movement) (Movement, error) {
	var id int64
	var err error
	if m.ID == 0 {
		err = r.pool.QueryRow(ctx, `
			INSERT INTO stock_movements (movement_type, movement_date, product_id, location_in_id, location_out_id, quantity)
			VALUES ($1, COALESCE($2, NOW()), $3, $4, $5, $6)
			RETURNING id`,
			m.Type, nullTime(m.Date), m.ProductID, nullInt8(m.LocationInID), nullInt8(m.LocationOutID), m.Quantity).Scan(&id)
	} else {
		err = r.pool.QueryRow(ctx, `
			INSERT INTO stock_movements (id, movement_type, movement_date, product_id, location_in_id, location_out_id, quantity)
			VALUES ($1, $2, COALESCE($3, NOW()), $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				movement_type = EXCLUDED.movement_type,
				movement_date = EXCLUDED.movement_date,
				product_id = EXCLUDED.product_id,
				location_in_id = EXCLUDED.location_in_id,
				location_out_id = EXCLUDED.location_out_id,
				quantity = EXCLUDED.quantity
			RETURNING id`,
			m.ID, m.Type, nullTime(m.Date), m.ProductID, nullInt8(m.LocationInID), nullInt8(m.LocationOutID), m.Quantity).Scan(&id)
	}
	if err != nil {
		return Movement{}, err
	}
	m.ID = id
	return m, nil
}

// WriteMovementLine inserts a line. A batch foreign-key violation is reported
// as LineBatchMissing with a nil error; every other failure is an error.
func (r *Repository) WriteMovementLine(ctx context.Context, line MovementLine) (LineWriteResult, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO stock_movement_lines (movement_id, product_id, batch_id, quantity)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, line.MovementID, line.ProductID, nullInt8(line.BatchID), line.Quantity).Scan(&id)
	if err != nil {
		if shared.IsForeignKeyViolation(err, lineBatchFKConstraint) {
			return LineWriteResult{Status: LineBatchMissing}, nil
		}
		return LineWriteResult{}, err
	}
	return LineWriteResult{Status: LineWritten, LineID: id}, nil
}

func nullInt8(v int64) pgtype.Int8 {
	return pgtype.Int8{Int64: v, Valid: v != 0}
}

func nullTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func timeOrZero(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}
