package inventory

import (
	"context"
	"fmt"
	"log/slog"
)

const regenBatchName = "Regenerated batch"

// RegenBatchCode is the deterministic marker code of a product's regen batch.
func RegenBatchCode(productID int64) string {
	return fmt.Sprintf("REGEN-%d", productID)
}

// GetOrCreateRegenBatch returns the product's regen batch, creating it on first
// use. Repeated and concurrent calls resolve to the same batch as long as the
// storage enforces one regen batch per product.
func (s *Service) GetOrCreateRegenBatch(ctx context.Context, productID int64) (Batch, error) {
	if productID <= 0 {
		return Batch{}, ErrInvalidProduct
	}
	existing, ok, err := s.repo.FindRegenBatch(ctx, productID)
	if err != nil {
		return Batch{}, fmt.Errorf("inventory: find regen batch: %w", err)
	}
	if ok {
		s.metrics.ObserveRegenBatch(false)
		return existing, nil
	}
	batch, created, err := s.repo.InsertRegenBatch(ctx, Batch{
		ProductID:  productID,
		Name:       regenBatchName,
		Codes:      BatchCodes{Code: RegenBatchCode(productID)},
		ReceivedAt: s.now(),
		Regen:      true,
	})
	if err != nil {
		return Batch{}, fmt.Errorf("inventory: create regen batch: %w", err)
	}
	s.metrics.ObserveRegenBatch(created)
	if created {
		s.logger.Info("regen batch created", slog.Int64("product_id", productID), slog.Int64("batch_id", batch.ID))
	}
	return batch, nil
}
