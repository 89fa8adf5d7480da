package alerts

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/common"
)

// Handler exposes alert endpoints.
type Handler struct {
	Svc *Service
}

type subscribeRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// Subscribe handles POST /api/v1/items/{id}/alerts.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid item id", nil)
		return
	}
	var req subscribeRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	user, _ := common.UserID(r.Context())
	sub, err := h.Svc.Subscribe(r.Context(), itemID, user, req.Email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": sub})
}

// Cancel handles DELETE /api/v1/alerts/{id}.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid alert id", nil)
		return
	}
	user, _ := common.UserID(r.Context())
	if err := h.Svc.Cancel(r.Context(), id, user); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StockAlerts handles GET /admin/stock-alerts.
func (h *Handler) StockAlerts(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	switch status {
	case "", StatusOpen, StatusClosed:
	default:
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "status must be open or closed", nil)
		return
	}
	rows, err := h.Svc.Alerts(r.Context(), status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "alert not found", nil)
	case errors.Is(err, catalog.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "item not found", nil)
	case errors.Is(err, ErrInvalidEmail):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_EMAIL", err.Error(), nil)
	case errors.Is(err, ErrAlreadySubscribed):
		common.JSONError(w, http.StatusConflict, "ALREADY_SUBSCRIBED", err.Error(), nil)
	case errors.Is(err, ErrInStock):
		common.JSONError(w, http.StatusConflict, "IN_STOCK", "item can be bought now", nil)
	default:
		h.Svc.Logger.Error().Err(err).Msg("alert request failed")
		common.WriteError(w, err)
	}
}
