package partner

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/common"
)

// Handler exposes purchase info endpoints.
type Handler struct {
	repo     catalog.Repository
	selector Selector
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Repository catalog.Repository
	Selector   Selector
}

// NewHandler constructs a Handler. A nil selector falls back to DefaultSelector.
func NewHandler(cfg HandlerConfig) *Handler {
	selector := cfg.Selector
	if selector == nil {
		selector = DefaultSelector{}
	}
	return &Handler{repo: cfg.Repository, selector: selector}
}

type childInfo struct {
	ItemID uuid.UUID `json:"item_id"`
	Title  string    `json:"title"`
	PurchaseInfo
}

type purchaseInfoResponse struct {
	ItemID    uuid.UUID         `json:"item_id"`
	Structure catalog.Structure `json:"structure"`
	Strategy  string            `json:"strategy"`
	Info      PurchaseInfo      `json:"purchase_info"`
	Children  []childInfo       `json:"children,omitempty"`
}

// PurchaseInfo handles GET /api/v1/items/{id}/purchase-info.
func (h *Handler) PurchaseInfo(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog repository not configured", nil)
		return
	}
	ctx, span := otel.Tracer("partner.Handler").Start(r.Context(), "Handler.PurchaseInfo")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ID", "item id must be a UUID", nil)
		return
	}
	item, err := h.repo.Item(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "item not found", nil)
			return
		}
		common.WriteError(w, err)
		return
	}

	userID, _ := common.UserID(ctx)
	strategy := h.selector.StrategyFor(r, userID)
	span.SetAttributes(attribute.String("strategy", strategy.Name()), attribute.String("item.structure", string(item.Structure)))

	resp := purchaseInfoResponse{
		ItemID:    item.ID,
		Structure: item.Structure,
		Strategy:  strategy.Name(),
		Info:      strategy.ForItem(item),
	}
	if item.IsParent() {
		for _, child := range item.PublicChildren() {
			resp.Children = append(resp.Children, childInfo{
				ItemID:       child.ID,
				Title:        child.DisplayTitle(),
				PurchaseInfo: strategy.FetchForItem(child, nil),
			})
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": resp})
}
