package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the stock snapshot.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/snapshots", h.handleSnapshots)
	r.Get("/snapshots/status", h.handleStatus)
	r.Get("/snapshots/{productID}", h.handleSnapshot)
	r.Post("/snapshots/refresh", h.handleRefresh)
	r.Get("/products/{productID}/reconciliation", h.handleReconciliation)
}

func (h *Handler) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	ids, err := parseProductIDs(r.URL.Query()["product_id"])
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	snaps, err := h.service.GetSnapshots(r.Context(), ids...)
	if err != nil {
		h.logger.Error("read snapshots", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snaps)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := parseProductID(chi.URLParam(r, "productID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	snap, err := h.service.GetSnapshot(r.Context(), id)
	if err != nil {
		h.logger.Error("read snapshot", slog.Int64("product_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

type refreshStatus struct {
	Refreshed bool           `json:"refreshed"`
	Last      *RefreshRecord `json:"last,omitempty"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := h.service.LastRefresh(r.Context())
	if err != nil {
		h.logger.Error("read refresh status", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := refreshStatus{Refreshed: ok}
	if ok {
		status.Last = &rec
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	concurrent := true
	if raw := r.URL.Query().Get("concurrent"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: concurrent must be a boolean", httpx.ErrValidation))
			return
		}
		concurrent = v
	}
	rec, err := h.service.Refresh(r.Context(), concurrent)
	if err != nil {
		h.logger.Error("refresh snapshot", slog.Bool("concurrent", concurrent), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Refresh Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := parseProductID(chi.URLParam(r, "productID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.Reconcile(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			httpx.RespondError(w, fmt.Errorf("%w: product %d", httpx.ErrNotFound, id))
			return
		}
		h.logger.Error("reconcile product", slog.Int64("product_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

// parseProductIDs accepts repeated and comma-separated product_id values.
func parseProductIDs(values []string) ([]int64, error) {
	var ids []int64
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := parseProductID(part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func parseProductID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid product id %q", httpx.ErrValidation, raw)
	}
	return id, nil
}
