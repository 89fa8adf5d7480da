package stock

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/common"
)

// Handler exposes operator stock endpoints.
type Handler struct {
	Ledger  *Ledger
	Catalog catalog.Repository
}

type restockRequest struct {
	NumInStock *int `json:"num_in_stock" validate:"required,min=0"`
}

// Restock handles PUT /api/v1/admin/stock-records/{id}.
func (h *Handler) Restock(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil || h.Ledger.Store == nil || h.Catalog == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "stock ledger not configured", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid stock record id", nil)
		return
	}
	var req restockRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}

	ctx := r.Context()
	record, err := h.Ledger.Store.StockRecord(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	item, err := h.Catalog.Item(ctx, record.ItemID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	updated, err := h.Ledger.Restock(ctx, item, id, *req.NumInStock)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": updated})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "stock record not found", nil)
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrAllocationNotConsumable):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_STOCK", err.Error(), nil)
	default:
		h.Ledger.Logger.Error().Err(err).Msg("restock failed")
		common.WriteError(w, err)
	}
}
