package offer

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/common"
)

// Handler exposes range and offer endpoints.
type Handler struct {
	repo    Repository
	catalog catalog.Repository
	now     func() time.Time
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Repository Repository
	Catalog    catalog.Repository
	Now        func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{repo: cfg.Repository, catalog: cfg.Catalog, now: now}
}

type createRangeRequest struct {
	Name          string      `json:"name" validate:"required,max=128"`
	Description   string      `json:"description"`
	IsPublic      bool        `json:"is_public"`
	IncludesAll   bool        `json:"includes_all"`
	IncludedItems []uuid.UUID `json:"included_items"`
	ExcludedItems []uuid.UUID `json:"excluded_items"`
	ClassIDs      []uuid.UUID `json:"class_ids"`
	Categories    []string    `json:"categories"`
	// SKUs is a bulk upload of UPCs or partner SKUs.
	SKUs string `json:"skus"`
}

type rangeResponse struct {
	*Range
	Upload *UploadResult `json:"upload,omitempty"`
}

// CreateRange handles POST /api/v1/ranges.
func (h *Handler) CreateRange(w http.ResponseWriter, r *http.Request) {
	var req createRangeRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	ctx := r.Context()

	rng := &Range{
		Name:        req.Name,
		Description: req.Description,
		IsPublic:    req.IsPublic,
		IncludesAll: req.IncludesAll,
		Included:    req.IncludedItems,
		Excluded:    req.ExcludedItems,
		Classes:     req.ClassIDs,
	}
	if len(req.Categories) > 0 {
		categories, err := h.catalog.Categories(ctx)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		bySlug := make(map[string]*catalog.Category, len(categories))
		for _, c := range categories {
			bySlug[c.Slug] = c
		}
		for _, slug := range req.Categories {
			c, ok := bySlug[slug]
			if !ok {
				common.JSONError(w, http.StatusUnprocessableEntity, "UNKNOWN_CATEGORY", "unknown category", map[string]string{"slug": slug})
				return
			}
			rng.AddCategory(c)
		}
	}

	resp := rangeResponse{Range: rng}
	if req.SKUs != "" {
		result, err := rng.AddBySKU(ctx, h.catalog, req.SKUs)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		resp.Upload = &result
	}

	if err := h.repo.SaveRange(ctx, rng); err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": resp})
}

// ItemRanges handles GET /api/v1/items/{id}/ranges.
func (h *Handler) ItemRanges(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ID", "item id must be a UUID", nil)
		return
	}
	ctx := r.Context()
	item, err := h.catalog.Item(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "item not found", nil)
			return
		}
		common.WriteError(w, err)
		return
	}
	ranges, err := h.repo.Ranges(ctx)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	out := RangesContaining(item, ranges)
	if out == nil {
		out = []*Range{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

type offerSummary struct {
	*ConditionalOffer
	Available bool `json:"available"`
}

// Offers handles GET /api/v1/offers. Pass ?available=true to list only the
// offers that can currently be applied.
func (h *Handler) Offers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.repo.Offers(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	onlyAvailable := r.URL.Query().Get("available") == "true"
	now := h.now()
	out := make([]offerSummary, 0, len(offers))
	for _, o := range offers {
		available := o.IsAvailable(now)
		if onlyAvailable && !available {
			continue
		}
		out = append(out, offerSummary{ConditionalOffer: o, Available: available})
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}
