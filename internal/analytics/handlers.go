package analytics

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/toko-offers/internal/common"
)

// Handler exposes analytics read endpoints.
type Handler struct {
	Svc *Service
}

// Item returns the counters and score of an item.
func (h *Handler) Item(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid item id", nil)
		return
	}
	rec, err := h.Svc.ItemStats(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rec})
}

// TopItems returns the highest scoring items.
func (h *Handler) TopItems(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	limit := common.QueryInt(r.URL.Query().Get("limit"), 10, common.MaxPerPage)
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := h.Svc.TopItems(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

// Me returns the counters of the calling user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	user, ok := common.UserID(r.Context())
	if !ok || user == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user id required", nil)
		return
	}
	rec, err := h.Svc.UserStats(r.Context(), user)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rec})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotConfigured) {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", err.Error(), nil)
		return
	}
	h.Svc.Logger.Error().Err(err).Msg("analytics query failed")
	common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", "analytics query failed", nil)
}
