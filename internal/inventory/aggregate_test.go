package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireQty(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func movement(id int64, typ string, in, out int64, qty string) ClassifiedMovement {
	m := Movement{ID: id, Type: typ, ProductID: 1, LocationInID: in, LocationOutID: out, Quantity: dec(qty)}
	return ClassifiedMovement{Movement: m, Class: Classify(typ)}
}

func locationQty(t *testing.T, figures []LocationQty, locationID int64) decimal.Decimal {
	t.Helper()
	for _, f := range figures {
		if f.LocationID == locationID {
			return f.Qty
		}
	}
	t.Fatalf("location %d not present in %+v", locationID, figures)
	return decimal.Zero
}

var testLocations = map[int64]Location{
	1: {ID: 1, Name: "Main", Kind: LocationKindWarehouse},
	2: {ID: 2, Name: "Sample", Kind: LocationKindSample},
	3: {ID: 3, Name: "WIP", Kind: LocationKindWIP},
}

func TestComputeTotalCountsRecognizedOnly(t *testing.T) {
	ledger := ProductLedger{
		Product: Product{ID: 1, TrackStock: true},
		Movements: []ClassifiedMovement{
			movement(1, "purchase", 1, 0, "10"),
			movement(2, "sale", 0, 1, "-3"),
			movement(3, "transfer", 2, 1, "5"),
			movement(4, "DEFECT_SAMPLE", 2, 0, "2"),
		},
		Batches: []Batch{{ID: 1, ProductID: 1, Quantity: dec("100")}},
	}
	requireQty(t, "7", ComputeTotal(ledger))
}

func TestComputeTotalTrustsProducerSign(t *testing.T) {
	ledger := ProductLedger{Movements: []ClassifiedMovement{
		movement(1, "sale", 0, 1, "4"),
	}}
	requireQty(t, "4", ComputeTotal(ledger))
}

func TestComputeTotalFallsBackToBatchQuantities(t *testing.T) {
	ledger := ProductLedger{
		Product: Product{ID: 1, TrackStock: true},
		Batches: []Batch{
			{ID: 1, ProductID: 1, Quantity: dec("5")},
			{ID: 2, ProductID: 1, Quantity: dec("2.345")},
		},
	}
	requireQty(t, "7.35", ComputeTotal(ledger))
}

func TestComputeTotalSkipsFallbackWhenHeadersExist(t *testing.T) {
	ledger := ProductLedger{
		Movements: []ClassifiedMovement{movement(1, "transfer", 2, 1, "3")},
		Batches:   []Batch{{ID: 1, ProductID: 1, Quantity: dec("5")}},
	}
	requireQty(t, "0", ComputeTotal(ledger))
}

func TestTransferSplitsIntoZeroSumPair(t *testing.T) {
	contribs := LocationContributions([]ClassifiedMovement{movement(1, "transfer", 2, 1, "-4")})
	require.Len(t, contribs, 2)
	require.Equal(t, RuleTransferOut, contribs[0].Rule)
	require.Equal(t, int64(1), contribs[0].LocationID)
	requireQty(t, "-4", contribs[0].Qty)
	require.Equal(t, RuleTransferIn, contribs[1].Rule)
	require.Equal(t, int64(2), contribs[1].LocationID)
	requireQty(t, "4", contribs[1].Qty)
	requireQty(t, "0", contribs[0].Qty.Add(contribs[1].Qty))
}

func TestTransferWithMissingSideUsesUnassignedBucket(t *testing.T) {
	figures := SumContributions(LocationContributions([]ClassifiedMovement{movement(1, "transfer", 2, 0, "3")}), testLocations)
	require.Len(t, figures, 2)
	require.Equal(t, UnassignedLocationName, figures[0].LocationName)
	requireQty(t, "-3", locationQty(t, figures, 0))
	requireQty(t, "3", locationQty(t, figures, 2))
}

// A non-transfer row with both locations set credits the same signed quantity
// to each side while the total counts it once.
func TestBothLocatedNonTransferCreditsBothSides(t *testing.T) {
	ledger := ProductLedger{Movements: []ClassifiedMovement{movement(1, "purchase", 2, 1, "3")}}
	figures := ComputeByLocation(ledger, testLocations)
	require.Len(t, figures, 2)
	requireQty(t, "3", locationQty(t, figures, 1))
	requireQty(t, "3", locationQty(t, figures, 2))
	requireQty(t, "3", ComputeTotal(ledger))

	ledger = ProductLedger{Movements: []ClassifiedMovement{movement(1, "DEFECT_SAMPLE", 2, 1, "-1")}}
	figures = ComputeByLocation(ledger, testLocations)
	requireQty(t, "-1", locationQty(t, figures, 1))
	requireQty(t, "-1", locationQty(t, figures, 2))
	requireQty(t, "0", ComputeTotal(ledger))
}

func TestUnlocatedRowsLandInUnassignedBucket(t *testing.T) {
	ledger := ProductLedger{Movements: []ClassifiedMovement{
		movement(1, "", 0, 0, "2"),
		movement(2, "purchase", 0, 0, "1.5"),
		movement(3, "purchase", 3, 0, "1"),
	}}
	figures := ComputeByLocation(ledger, testLocations)
	require.Len(t, figures, 2)
	require.Equal(t, UnassignedLocationName, figures[0].LocationName)
	requireQty(t, "3.5", locationQty(t, figures, 0))
	require.Equal(t, "WIP", figures[1].LocationName)
	requireQty(t, "1", locationQty(t, figures, 3))
}

func TestUnknownLocationKeepsItsBucket(t *testing.T) {
	figures := ComputeByLocation(ProductLedger{Movements: []ClassifiedMovement{movement(1, "purchase", 42, 0, "1")}}, testLocations)
	require.Len(t, figures, 1)
	require.Equal(t, int64(42), figures[0].LocationID)
	require.Empty(t, figures[0].LocationName)
}

func TestComputeByBatchSumsLinesWithoutFallback(t *testing.T) {
	ledger := ProductLedger{
		Batches: []Batch{
			{ID: 20, ProductID: 1, LocationID: 2, Name: "B2", Quantity: dec("9")},
			{ID: 10, ProductID: 1, LocationID: 1, Name: "B1", Codes: BatchCodes{Code: "B-1", LotNumber: "L1"}},
		},
		Lines: []MovementLine{
			{ID: 1, MovementID: 1, BatchID: 10, Quantity: dec("2.5")},
			{ID: 2, MovementID: 2, BatchID: 10, Quantity: dec("-1")},
		},
	}
	figures := ComputeByBatch(ledger, testLocations)
	require.Len(t, figures, 2)
	require.Equal(t, int64(10), figures[0].BatchID)
	require.Equal(t, "Main", figures[0].LocationName)
	require.Equal(t, "L1", figures[0].Codes.LotNumber)
	requireQty(t, "1.5", figures[0].Qty)
	require.Equal(t, int64(20), figures[1].BatchID)
	requireQty(t, "0", figures[1].Qty)
}

func TestFiguresRoundIndependentlyToTwoPlaces(t *testing.T) {
	ledger := ProductLedger{
		Movements: []ClassifiedMovement{
			movement(1, "purchase", 1, 0, "1.005"),
			movement(2, "purchase", 2, 0, "2.004"),
			movement(3, "sale", 0, 3, "-0.125"),
		},
		Batches: []Batch{{ID: 1, ProductID: 1}},
		Lines:   []MovementLine{{ID: 1, BatchID: 1, Quantity: dec("3.3333")}},
	}
	requireQty(t, "2.88", ComputeTotal(ledger))
	figures := ComputeByLocation(ledger, testLocations)
	requireQty(t, "1.01", locationQty(t, figures, 1))
	requireQty(t, "2", locationQty(t, figures, 2))
	requireQty(t, "-0.13", locationQty(t, figures, 3))
	requireQty(t, "3.33", ComputeByBatch(ledger, testLocations)[0].Qty)

	for _, f := range figures {
		require.True(t, f.Qty.Equal(f.Qty.Round(QuantityScale)))
	}
}
