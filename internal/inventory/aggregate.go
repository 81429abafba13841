package inventory

import (
	"sort"

	"github.com/shopspring/decimal"
)

// QuantityScale is the number of decimal places every reported figure carries.
const QuantityScale = 2

// RoundQty rounds half away from zero to QuantityScale places, like NUMERIC ROUND.
func RoundQty(qty decimal.Decimal) decimal.Decimal {
	return qty.Round(QuantityScale)
}

// ContributionRule names how a movement reached a location bucket.
type ContributionRule string

const (
	RuleTransferOut ContributionRule = "transfer_out"
	RuleTransferIn  ContributionRule = "transfer_in"
	RuleLocationIn  ContributionRule = "location_in"
	RuleLocationOut ContributionRule = "location_out"
	RuleUnassigned  ContributionRule = "unassigned"
)

// Contribution is one movement's effect on one location bucket.
type Contribution struct {
	MovementID   int64            `json:"movement_id"`
	MovementType string           `json:"movement_type"`
	Class        MovementClass    `json:"class"`
	LocationID   int64            `json:"location_id"`
	Rule         ContributionRule `json:"rule"`
	Qty          decimal.Decimal  `json:"qty"`
}

// ComputeTotal returns the product's quantity-on-hand. Only movements admitted
// by RecognizedMovementTypes count; with no headers at all the static batch
// quantities are summed instead.
func ComputeTotal(ledger ProductLedger) decimal.Decimal {
	if len(ledger.Movements) == 0 {
		total := decimal.Zero
		for _, b := range ledger.Batches {
			total = total.Add(b.Quantity)
		}
		return RoundQty(total)
	}
	total := decimal.Zero
	for _, m := range ledger.Movements {
		if RecognizedMovementTypes.Admits(m.Class) {
			total = total.Add(m.Quantity)
		}
	}
	return RoundQty(total)
}

// LocationContributions expands movements admitted by AllMovementTypes into
// per-location deltas. Transfers split -|qty| out and +|qty| in. Any other row
// credits its signed quantity to each populated side independently, so a row
// with both sides set lands on both with the same sign. A row with neither
// side, and a transfer side left empty, falls into the unassigned bucket (0).
func LocationContributions(movements []ClassifiedMovement) []Contribution {
	out := make([]Contribution, 0, len(movements)*2)
	for _, m := range movements {
		if !AllMovementTypes.Admits(m.Class) {
			continue
		}
		base := Contribution{MovementID: m.ID, MovementType: m.Type, Class: m.Class}
		if m.Class == Transfer {
			qty := m.Quantity.Abs()
			outC := base
			outC.LocationID, outC.Rule, outC.Qty = m.LocationOutID, RuleTransferOut, qty.Neg()
			inC := base
			inC.LocationID, inC.Rule, inC.Qty = m.LocationInID, RuleTransferIn, qty
			out = append(out, outC, inC)
			continue
		}
		if m.LocationInID == 0 && m.LocationOutID == 0 {
			c := base
			c.Rule, c.Qty = RuleUnassigned, m.Quantity
			out = append(out, c)
			continue
		}
		if m.LocationInID != 0 {
			c := base
			c.LocationID, c.Rule, c.Qty = m.LocationInID, RuleLocationIn, m.Quantity
			out = append(out, c)
		}
		if m.LocationOutID != 0 {
			c := base
			c.LocationID, c.Rule, c.Qty = m.LocationOutID, RuleLocationOut, m.Quantity
			out = append(out, c)
		}
	}
	return out
}

// SumContributions groups contributions per location, rounding each bucket.
// Results are ordered by location id, so the unassigned bucket comes first.
func SumContributions(contributions []Contribution, locations map[int64]Location) []LocationQty {
	sums := make(map[int64]decimal.Decimal)
	for _, c := range contributions {
		sums[c.LocationID] = sums[c.LocationID].Add(c.Qty)
	}
	out := make([]LocationQty, 0, len(sums))
	for id, qty := range sums {
		out = append(out, LocationQty{
			LocationID:   id,
			LocationName: locationName(id, locations),
			Qty:          RoundQty(qty),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out
}

// ComputeByLocation returns the per-location breakdown for a product.
func ComputeByLocation(ledger ProductLedger, locations map[int64]Location) []LocationQty {
	return SumContributions(LocationContributions(ledger.Movements), locations)
}

// ComputeByBatch left-joins the product's batches with their lines. Lines
// already carry resolved per-batch deltas, so there is no transfer split; a
// batch without lines reports zero.
func ComputeByBatch(ledger ProductLedger, locations map[int64]Location) []BatchQty {
	sums := make(map[int64]decimal.Decimal, len(ledger.Batches))
	for _, l := range ledger.Lines {
		sums[l.BatchID] = sums[l.BatchID].Add(l.Quantity)
	}
	batches := append([]Batch(nil), ledger.Batches...)
	sort.Slice(batches, func(i, j int) bool { return batches[i].ID < batches[j].ID })
	out := make([]BatchQty, 0, len(batches))
	for _, b := range batches {
		out = append(out, BatchQty{
			BatchID:      b.ID,
			Name:         b.Name,
			Codes:        b.Codes,
			ReceivedAt:   b.ReceivedAt,
			LocationID:   b.LocationID,
			LocationName: batchLocationName(b.LocationID, locations),
			Qty:          RoundQty(sums[b.ID]),
		})
	}
	return out
}

func locationName(id int64, locations map[int64]Location) string {
	if id == 0 {
		return UnassignedLocationName
	}
	return locations[id].Name
}

func batchLocationName(id int64, locations map[int64]Location) string {
	if id == 0 {
		return ""
	}
	return locations[id].Name
}
