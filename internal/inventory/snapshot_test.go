package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMaterializeCrossProduct(t *testing.T) {
	ledgers := []ProductLedger{
		{
			Product: Product{ID: 1, TrackStock: true},
			Movements: []ClassifiedMovement{
				movement(1, "purchase", 1, 0, "10"),
				movement(2, "transfer", 2, 1, "4"),
			},
			Batches: []Batch{{ID: 7, ProductID: 1, LocationID: 1}, {ID: 8, ProductID: 1}},
			Lines:   []MovementLine{{ID: 1, BatchID: 7, Quantity: dec("10")}},
		},
		{Product: Product{ID: 2, TrackStock: false}, Movements: []ClassifiedMovement{movement(3, "purchase", 1, 0, "1")}},
		{Product: Product{ID: 3, TrackStock: true}},
	}
	rows := Materialize(ledgers, testLocations)

	require.Len(t, rows, 5)
	for _, row := range rows[:4] {
		require.Equal(t, int64(1), row.ProductID)
		requireQty(t, "10", row.TotalQty)
		require.True(t, row.LocationQty.Valid)
	}
	require.Equal(t, int64(1), rows[0].LocationID)
	require.Equal(t, int64(7), rows[0].BatchID)
	require.Equal(t, int64(8), rows[1].BatchID)
	require.Equal(t, int64(2), rows[2].LocationID)

	empty := rows[4]
	require.Equal(t, int64(3), empty.ProductID)
	require.False(t, empty.LocationQty.Valid)
	require.Zero(t, empty.BatchID)
	requireQty(t, "0", empty.TotalQty)
}

func TestGroupSnapshots(t *testing.T) {
	rows := []SnapshotRow{
		{ProductID: 1, TotalQty: dec("5"), LocationID: 0, LocationQty: decimal.NewNullDecimal(dec("2")), BatchID: 9, BatchName: "B9", BatchQty: dec("5")},
		{ProductID: 1, TotalQty: dec("5"), LocationID: 1, LocationName: "Main", LocationQty: decimal.NewNullDecimal(dec("3")), BatchID: 9, BatchName: "B9", BatchQty: dec("5")},
		{ProductID: 2, TotalQty: dec("1"), LocationID: 1, LocationName: "Main", LocationQty: decimal.NewNullDecimal(dec("1"))},
		{ProductID: 3, TotalQty: dec("4")},
	}
	snaps := GroupSnapshots([]int64{2, 1, 99, 3}, rows)
	require.Len(t, snaps, 4)

	require.Equal(t, int64(2), snaps[0].ProductID)
	require.Len(t, snaps[0].ByLocation, 1)
	require.Empty(t, snaps[0].ByBatch)
	require.NotNil(t, snaps[0].ByBatch)

	p1 := snaps[1]
	requireQty(t, "5", p1.TotalQty)
	require.Len(t, p1.ByLocation, 2)
	require.Equal(t, UnassignedLocationName, p1.ByLocation[0].LocationName)
	requireQty(t, "2", p1.ByLocation[0].Qty)
	require.Equal(t, "Main", p1.ByLocation[1].LocationName)
	require.Len(t, p1.ByBatch, 1)
	require.Equal(t, "B9", p1.ByBatch[0].Name)

	unknown := snaps[2]
	require.Equal(t, int64(99), unknown.ProductID)
	requireQty(t, "0", unknown.TotalQty)
	require.Empty(t, unknown.ByLocation)
	require.Empty(t, unknown.ByBatch)

	require.Empty(t, snaps[3].ByLocation)
	requireQty(t, "4", snaps[3].TotalQty)
}

func TestGroupSnapshotsOfMaterializedRowsMatchesAggregators(t *testing.T) {
	ledger := ProductLedger{
		Product: Product{ID: 1, TrackStock: true},
		Movements: []ClassifiedMovement{
			movement(1, "purchase", 1, 0, "10"),
			movement(2, "transfer", 2, 1, "4"),
			movement(3, "scrap", 0, 0, "-1"),
		},
		Batches: []Batch{{ID: 7, ProductID: 1, LocationID: 1}},
		Lines:   []MovementLine{{ID: 1, BatchID: 7, Quantity: dec("9")}},
	}
	snap := GroupSnapshots([]int64{1}, Materialize([]ProductLedger{ledger}, testLocations))[0]
	requireQty(t, ComputeTotal(ledger).String(), snap.TotalQty)

	want := ComputeByLocation(ledger, testLocations)
	require.Len(t, snap.ByLocation, len(want))
	for i := range want {
		require.Equal(t, want[i].LocationID, snap.ByLocation[i].LocationID)
		require.Equal(t, want[i].LocationName, snap.ByLocation[i].LocationName)
		requireQty(t, want[i].Qty.String(), snap.ByLocation[i].Qty)
	}
	require.Len(t, snap.ByBatch, 1)
	requireQty(t, "9", snap.ByBatch[0].Qty)
}
