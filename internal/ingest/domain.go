// Package ingest appends ledger rows in bulk and repairs lines whose batch is
// missing by redirecting them to the product's regen batch.
package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
)

// Row kinds reported in RowError and metrics.
const (
	KindMovement = "movement"
	KindLine     = "line"
)

// MovementInput is one movement header to upsert. A zero ID lets storage
// assign one; a known ID replaces the stored header.
type MovementInput struct {
	ID            int64           `json:"id" validate:"gte=0"`
	Type          string          `json:"movement_type" validate:"max=64"`
	Date          time.Time       `json:"date"`
	ProductID     int64           `json:"product_id" validate:"required,gt=0"`
	LocationInID  int64           `json:"location_in_id" validate:"gte=0"`
	LocationOutID int64           `json:"location_out_id" validate:"gte=0"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// LineInput is one batch-level line. It references its header either by
// MovementID or, for headers created in the same Batch, by MovementIndex.
type LineInput struct {
	MovementID    int64           `json:"movement_id" validate:"gte=0"`
	MovementIndex *int            `json:"movement_index,omitempty" validate:"omitempty,gte=0"`
	ProductID     int64           `json:"product_id" validate:"required,gt=0"`
	BatchID       int64           `json:"batch_id" validate:"gte=0"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// Batch is one ingestion request.
type Batch struct {
	Movements  []MovementInput `json:"movements" validate:"max=5000"`
	Lines      []LineInput     `json:"lines" validate:"max=20000"`
	Refresh    bool            `json:"refresh"`
	Concurrent bool            `json:"concurrent"`
}

// RowError describes a row that could not be written. Index is the row's
// position within its kind.
type RowError struct {
	Kind    string `json:"kind"`
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// Report summarises one ingestion run.
type Report struct {
	RunID     uuid.UUID                `json:"run_id"`
	Movements int                      `json:"movements"`
	Lines     int                      `json:"lines"`
	Repaired  int                      `json:"repaired"`
	Errors    []RowError               `json:"errors"`
	Refreshed *inventory.RefreshRecord `json:"refreshed,omitempty"`
}

// Failed reports whether any row was rejected.
func (r Report) Failed() bool {
	return len(r.Errors) > 0
}
