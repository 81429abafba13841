package inventory

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Materialize builds the denormalized snapshot rows for the given ledgers: the
// cross product of each tracked product's location buckets and batches. It is
// the in-process rendition of the product_stock_snapshot view and is used for
// ledger replay and reconciliation.
func Materialize(ledgers []ProductLedger, locations map[int64]Location) []SnapshotRow {
	var rows []SnapshotRow
	for _, ledger := range ledgers {
		if !ledger.Product.TrackStock {
			continue
		}
		total := ComputeTotal(ledger)
		byLocation := ComputeByLocation(ledger, locations)
		byBatch := ComputeByBatch(ledger, locations)

		locRows := make([]SnapshotRow, 0, len(byLocation))
		for _, loc := range byLocation {
			row := SnapshotRow{LocationID: loc.LocationID, LocationQty: decimal.NewNullDecimal(loc.Qty)}
			if loc.LocationID != 0 {
				row.LocationName = loc.LocationName
			}
			locRows = append(locRows, row)
		}
		if len(locRows) == 0 {
			locRows = append(locRows, SnapshotRow{})
		}
		for _, lr := range locRows {
			if len(byBatch) == 0 {
				row := lr
				row.ProductID, row.TotalQty = ledger.Product.ID, total
				rows = append(rows, row)
				continue
			}
			for _, b := range byBatch {
				row := lr
				row.ProductID, row.TotalQty = ledger.Product.ID, total
				row.BatchID = b.BatchID
				row.BatchName = b.Name
				row.BatchCodes = b.Codes
				row.BatchReceivedAt = b.ReceivedAt
				row.BatchLocationID = b.LocationID
				row.BatchLocationName = b.LocationName
				row.BatchQty = b.Qty
				rows = append(rows, row)
			}
		}
	}
	SortSnapshotRows(rows)
	return rows
}

// SortSnapshotRows orders rows by (product, location, batch), matching the
// storage read order.
func SortSnapshotRows(rows []SnapshotRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		return a.BatchID < b.BatchID
	})
}

// GroupSnapshots folds denormalized rows back into one snapshot per requested
// id, in request order. Ids without rows get a zeroed snapshot. Rows with a null
// batch are left out of ByBatch; the null location bucket is kept as
// "unassigned".
func GroupSnapshots(ids []int64, rows []SnapshotRow) []Snapshot {
	byProduct := make(map[int64][]SnapshotRow)
	for _, row := range rows {
		byProduct[row.ProductID] = append(byProduct[row.ProductID], row)
	}
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, groupProduct(id, byProduct[id]))
	}
	return out
}

func groupProduct(productID int64, rows []SnapshotRow) Snapshot {
	snap := EmptySnapshot(productID)
	if len(rows) == 0 {
		return snap
	}
	snap.TotalQty = rows[0].TotalQty
	seenLocation := make(map[int64]bool)
	seenBatch := make(map[int64]bool)
	for _, row := range rows {
		if row.LocationQty.Valid && !seenLocation[row.LocationID] {
			seenLocation[row.LocationID] = true
			name := row.LocationName
			if row.LocationID == 0 {
				name = UnassignedLocationName
			}
			snap.ByLocation = append(snap.ByLocation, LocationQty{
				LocationID:   row.LocationID,
				LocationName: name,
				Qty:          row.LocationQty.Decimal,
			})
		}
		if row.BatchID != 0 && !seenBatch[row.BatchID] {
			seenBatch[row.BatchID] = true
			snap.ByBatch = append(snap.ByBatch, BatchQty{
				BatchID:      row.BatchID,
				Name:         row.BatchName,
				Codes:        row.BatchCodes,
				ReceivedAt:   row.BatchReceivedAt,
				LocationID:   row.BatchLocationID,
				LocationName: row.BatchLocationName,
				Qty:          row.BatchQty,
			})
		}
	}
	sort.Slice(snap.ByLocation, func(i, j int) bool { return snap.ByLocation[i].LocationID < snap.ByLocation[j].LocationID })
	sort.Slice(snap.ByBatch, func(i, j int) bool { return snap.ByBatch[i].BatchID < snap.ByBatch[j].BatchID })
	return snap
}
