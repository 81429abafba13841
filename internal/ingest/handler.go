package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// IdempotencyModule scopes ingestion keys in the idempotency store.
const IdempotencyModule = "stock.ingest"

// IdempotencyGuard claims request keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler exposes the ledger import endpoint.
type Handler struct {
	importer *Importer
	guard    IdempotencyGuard
	logger   *slog.Logger
}

// NewHandler constructs the ingestion handler. guard may be nil, in which case
// Idempotency-Key headers are ignored.
func NewHandler(importer *Importer, guard IdempotencyGuard, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{importer: importer, guard: guard, logger: logger}
}

// MountRoutes registers ingestion routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/ledger/import", h.handleImport)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	var batch Batch
	if err := httpx.DecodeJSON(r, &batch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.guard != nil {
		if err := h.guard.CheckAndInsert(ctx, key, IdempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.RespondError(w, fmt.Errorf("%w: idempotency key %q already used", httpx.ErrDuplicate, key))
				return
			}
			h.logger.Error("claim idempotency key", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
	}

	report, err := h.importer.Import(ctx, batch)
	if err != nil {
		if key != "" && h.guard != nil && report.Movements == 0 && report.Lines == 0 {
			if delErr := h.guard.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		if errors.Is(err, ErrInvalidBatch) {
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
			return
		}
		h.logger.Error("import ledger", slog.String("run_id", report.RunID.String()), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Import Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
