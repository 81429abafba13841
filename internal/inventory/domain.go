package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// LocationKind enumerates the supported stock location kinds.
type LocationKind string

const (
	LocationKindWarehouse     LocationKind = "warehouse"
	LocationKindWIP           LocationKind = "wip"
	LocationKindSample        LocationKind = "sample"
	LocationKindScrap         LocationKind = "scrap"
	LocationKindOffSpec       LocationKind = "off_spec"
	LocationKindReview        LocationKind = "review"
	LocationKindCustomerDepot LocationKind = "customer_depot"
)

// Product is the stock-tracked item referenced by movements and batches.
type Product struct {
	ID         int64  `json:"id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	TrackStock bool   `json:"track_stock"`
}

// Location is immutable reference data for aggregation.
type Location struct {
	ID   int64        `json:"id"`
	Name string       `json:"name"`
	Kind LocationKind `json:"kind"`
}

// BatchCodes groups the descriptive identifiers printed on a batch.
type BatchCodes struct {
	Code        string `json:"code"`
	LotNumber   string `json:"lot_number,omitempty"`
	SupplierRef string `json:"supplier_ref,omitempty"`
}

// Batch is a receipt-traceable sub-lot of a product. Quantity is the static
// fallback count used only when the product has no movement headers.
type Batch struct {
	ID         int64           `json:"id"`
	ProductID  int64           `json:"product_id"`
	LocationID int64           `json:"location_id,omitempty"`
	Name       string          `json:"name"`
	Codes      BatchCodes      `json:"codes"`
	Quantity   decimal.Decimal `json:"quantity"`
	ReceivedAt time.Time       `json:"received_at"`
	Regen      bool            `json:"regen"`
}

// Movement is a ledger header. Quantity is pre-signed by the producer.
type Movement struct {
	ID            int64           `json:"id"`
	Type          string          `json:"movement_type"`
	Date          time.Time       `json:"date"`
	ProductID     int64           `json:"product_id"`
	LocationInID  int64           `json:"location_in_id,omitempty"`
	LocationOutID int64           `json:"location_out_id,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// MovementLine allocates part of a header's effect to a batch.
type MovementLine struct {
	ID         int64           `json:"id"`
	MovementID int64           `json:"movement_id"`
	ProductID  int64           `json:"product_id"`
	BatchID    int64           `json:"batch_id"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// ProductLedger is everything the aggregators need for one product.
type ProductLedger struct {
	Product   Product
	Movements []ClassifiedMovement
	Batches   []Batch
	Lines     []MovementLine
}

// SnapshotRow is one denormalized row of the materialized read model.
// LocationQty is null when the product has no location contributions at all;
// LocationID 0 with a valid LocationQty is the unassigned bucket.
type SnapshotRow struct {
	ProductID         int64
	TotalQty          decimal.Decimal
	LocationID        int64
	LocationName      string
	LocationQty       decimal.NullDecimal
	BatchID           int64
	BatchName         string
	BatchCodes        BatchCodes
	BatchReceivedAt   time.Time
	BatchLocationID   int64
	BatchLocationName string
	BatchQty          decimal.Decimal
}

// LocationQty is a per-location quantity-on-hand figure.
type LocationQty struct {
	LocationID   int64           `json:"location_id"`
	LocationName string          `json:"location_name"`
	Qty          decimal.Decimal `json:"qty"`
}

// BatchQty is a per-batch quantity-on-hand figure.
type BatchQty struct {
	BatchID      int64           `json:"batch_id"`
	Name         string          `json:"name"`
	Codes        BatchCodes      `json:"codes"`
	ReceivedAt   time.Time       `json:"received_at"`
	LocationID   int64           `json:"location_id"`
	LocationName string          `json:"location_name"`
	Qty          decimal.Decimal `json:"qty"`
}

// Snapshot is the grouped read model for one product.
type Snapshot struct {
	ProductID  int64           `json:"product_id"`
	TotalQty   decimal.Decimal `json:"total_qty"`
	ByLocation []LocationQty   `json:"by_location"`
	ByBatch    []BatchQty      `json:"by_batch"`
}

// EmptySnapshot is the zeroed answer for unknown or never-refreshed products.
func EmptySnapshot(productID int64) Snapshot {
	return Snapshot{
		ProductID:  productID,
		TotalQty:   decimal.Zero,
		ByLocation: []LocationQty{},
		ByBatch:    []BatchQty{},
	}
}

// RefreshRecord describes one completed snapshot rebuild. ID grows with every
// recorded rebuild and doubles as the snapshot cache generation.
type RefreshRecord struct {
	ID         int64     `json:"id"`
	Concurrent bool      `json:"concurrent"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	RowCount   int64     `json:"row_count"`
}

// LineWriteStatus is the outcome of writing a movement line.
type LineWriteStatus int

const (
	// LineWritten means the line was persisted.
	LineWritten LineWriteStatus = iota
	// LineBatchMissing means the referenced batch does not exist; nothing was written.
	LineBatchMissing
)

// LineWriteResult is returned by line writes instead of a batch FK error so the
// caller can repair and retry explicitly.
type LineWriteResult struct {
	Status LineWriteStatus
	LineID int64
}

// Written reports whether the line was persisted.
func (r LineWriteResult) Written() bool {
	return r.Status == LineWritten
}

// UnassignedLocationName labels the null-location bucket.
const UnassignedLocationName = "unassigned"

// ErrBatchNotFound indicates a missing batch.
var ErrBatchNotFound = errors.New("inventory: batch not found")

// ErrInvalidProduct indicates a missing or non-positive product id.
var ErrInvalidProduct = errors.New("inventory: product id must be positive")

// ErrProductNotFound indicates the product does not exist.
var ErrProductNotFound = errors.New("inventory: product not found")

// ErrRefreshUnsupported indicates concurrent refresh without the unique index it needs.
var ErrRefreshUnsupported = errors.New("inventory: concurrent refresh requires a unique index on the snapshot")
