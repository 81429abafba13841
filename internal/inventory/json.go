package inventory

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Reported figures are encoded with exactly QuantityScale decimals, the way
// NUMERIC(_, 2) columns print, so "10" goes out as "10.00". Decoding accepts
// either form.

func fixedQty(qty decimal.Decimal) string {
	return qty.StringFixed(QuantityScale)
}

// MarshalJSON encodes qty at the reporting scale.
func (l LocationQty) MarshalJSON() ([]byte, error) {
	type plain LocationQty
	return json.Marshal(struct {
		plain
		Qty string `json:"qty"`
	}{plain(l), fixedQty(l.Qty)})
}

// MarshalJSON encodes qty at the reporting scale.
func (b BatchQty) MarshalJSON() ([]byte, error) {
	type plain BatchQty
	return json.Marshal(struct {
		plain
		Qty string `json:"qty"`
	}{plain(b), fixedQty(b.Qty)})
}

// MarshalJSON encodes total_qty at the reporting scale.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type plain Snapshot
	return json.Marshal(struct {
		plain
		TotalQty string `json:"total_qty"`
	}{plain(s), fixedQty(s.TotalQty)})
}

// MarshalJSON encodes all three figures at the reporting scale.
func (d Discrepancy) MarshalJSON() ([]byte, error) {
	type plain Discrepancy
	return json.Marshal(struct {
		plain
		Replayed     string `json:"replayed"`
		Materialized string `json:"materialized"`
		Delta        string `json:"delta"`
	}{plain(d), fixedQty(d.Replayed), fixedQty(d.Materialized), fixedQty(d.Delta)})
}

// MarshalJSON encodes both totals at the reporting scale and adds in_sync.
// Contribution quantities are raw ledger values and keep their own scale.
func (r Reconciliation) MarshalJSON() ([]byte, error) {
	type plain Reconciliation
	return json.Marshal(struct {
		plain
		ReplayedTotal     string `json:"replayed_total"`
		MaterializedTotal string `json:"materialized_total"`
		InSync            bool   `json:"in_sync"`
	}{plain(r), fixedQty(r.ReplayedTotal), fixedQty(r.MaterializedTotal), r.InSync()})
}
