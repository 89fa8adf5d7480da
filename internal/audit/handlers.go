package audit

import (
	"net/http"

	"github.com/noah-isme/toko-offers/internal/common"
)

// Handler exposes the audit trail to administrators.
type Handler struct {
	Store Store
}

// List handles GET /api/v1/admin/audit?limit=&offset=.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	limit := common.QueryInt(r.URL.Query().Get("limit"), 50, 200)
	if limit <= 0 {
		limit = 50
	}
	offset := common.QueryInt(r.URL.Query().Get("offset"), 0, 0)
	if offset < 0 {
		offset = 0
	}
	rows, err := h.Store.ListEntries(r.Context(), limit, offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit entries", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}
