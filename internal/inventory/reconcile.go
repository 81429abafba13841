package inventory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Discrepancy is a location whose replayed and materialized figures differ.
type Discrepancy struct {
	LocationID   int64           `json:"location_id"`
	LocationName string          `json:"location_name"`
	Replayed     decimal.Decimal `json:"replayed"`
	Materialized decimal.Decimal `json:"materialized"`
	Delta        decimal.Decimal `json:"delta"`
}

// Reconciliation compares a live replay of a product's ledger with what the
// snapshot currently holds.
type Reconciliation struct {
	ProductID         int64           `json:"product_id"`
	Tracked           bool            `json:"tracked"`
	Contributions     []Contribution  `json:"contributions"`
	ReplayedTotal     decimal.Decimal `json:"replayed_total"`
	MaterializedTotal decimal.Decimal `json:"materialized_total"`
	Replayed          []LocationQty   `json:"replayed"`
	Materialized      []LocationQty   `json:"materialized"`
	Discrepancies     []Discrepancy   `json:"discrepancies"`
}

// InSync reports whether the snapshot agrees with the replay.
func (r Reconciliation) InSync() bool {
	if !r.Tracked {
		return true
	}
	return len(r.Discrepancies) == 0 && r.ReplayedTotal.Equal(r.MaterializedTotal)
}

// Reconcile replays the product's ledger through the location rule and diffs
// it against the snapshot reader. It reads storage directly and never touches
// the cache. Untracked products are reported without discrepancies since they
// are never materialized.
func (s *Service) Reconcile(ctx context.Context, productID int64) (Reconciliation, error) {
	if productID <= 0 {
		return Reconciliation{}, ErrInvalidProduct
	}
	var (
		ledger    ProductLedger
		locations map[int64]Location
		rows      []SnapshotRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ledger, err = s.repo.LoadProductLedger(gctx, productID)
		return err
	})
	g.Go(func() error {
		var err error
		locations, err = s.repo.ListLocations(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = s.repo.SnapshotRows(gctx, []int64{productID})
		return err
	})
	if err := g.Wait(); err != nil {
		return Reconciliation{}, err
	}

	materialized := GroupSnapshots([]int64{productID}, rows)[0]
	contributions := LocationContributions(ledger.Movements)
	rec := Reconciliation{
		ProductID:         productID,
		Tracked:           ledger.Product.TrackStock,
		Contributions:     contributions,
		ReplayedTotal:     ComputeTotal(ledger),
		MaterializedTotal: materialized.TotalQty,
		Replayed:          SumContributions(contributions, locations),
		Materialized:      materialized.ByLocation,
		Discrepancies:     []Discrepancy{},
	}
	if !rec.Tracked {
		return rec, nil
	}
	rec.Discrepancies = diffLocations(rec.Replayed, rec.Materialized)
	return rec, nil
}

func diffLocations(replayed, materialized []LocationQty) []Discrepancy {
	type pair struct {
		name         string
		replayed     decimal.Decimal
		materialized decimal.Decimal
	}
	byID := make(map[int64]*pair)
	for _, l := range replayed {
		byID[l.LocationID] = &pair{name: l.LocationName, replayed: l.Qty}
	}
	for _, l := range materialized {
		p, ok := byID[l.LocationID]
		if !ok {
			p = &pair{name: l.LocationName}
			byID[l.LocationID] = p
		}
		p.materialized = l.Qty
	}
	out := []Discrepancy{}
	for id, p := range byID {
		if p.replayed.Equal(p.materialized) {
			continue
		}
		out = append(out, Discrepancy{
			LocationID:   id,
			LocationName: p.name,
			Replayed:     p.replayed,
			Materialized: p.materialized,
			Delta:        p.replayed.Sub(p.materialized),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out
}
