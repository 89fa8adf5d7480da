package catalog

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-offers/internal/common"
	"github.com/noah-isme/toko-offers/internal/events"
)

// Emitter publishes domain events. *events.Bus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// Handler exposes public catalogue endpoints.
type Handler struct {
	repo   Repository
	bus    Emitter
	logger zerolog.Logger
	limit  int
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Repository   Repository
	Bus          Emitter
	Logger       *zerolog.Logger
	DefaultLimit int
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{repo: cfg.Repository, bus: cfg.Bus, logger: zerolog.Nop(), limit: cfg.DefaultLimit}
	if cfg.Logger != nil {
		h.logger = *cfg.Logger
	}
	if h.limit <= 0 {
		h.limit = 20
	}
	return h
}

// Categories handles GET /api/v1/categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog repository not configured", nil)
		return
	}
	rows, err := h.repo.Categories(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

// Items handles GET /api/v1/items. It filters on ?category= (subtree
// included) and ?q= (title substring) and paginates with ?page=&limit=.
func (h *Handler) Items(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog repository not configured", nil)
		return
	}
	ctx := r.Context()
	items, err := h.repo.Items(ctx)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	query := r.URL.Query()
	if slug := strings.TrimSpace(query.Get("category")); slug != "" {
		root, err := h.categoryBySlug(ctx, slug)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "category not found", nil)
				return
			}
			common.WriteError(w, err)
			return
		}
		items = filterItems(items, func(i *Item) bool { return inCategory(i, root) })
	}
	if q := strings.ToLower(strings.TrimSpace(query.Get("q"))); q != "" {
		items = filterItems(items, func(i *Item) bool { return strings.Contains(strings.ToLower(i.Title), q) })
	}
	items = filterItems(items, func(i *Item) bool { return i.IsPublic })

	page, perPage := common.ParsePagination(r, h.limit)
	total := len(items)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items[start:end],
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// Item handles GET /api/v1/items/{id}. The id may also be a UPC or partner
// SKU. A successful read emits item.viewed.
func (h *Handler) Item(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog repository not configured", nil)
		return
	}
	ctx := r.Context()
	ref := chi.URLParam(r, "id")

	var (
		item *Item
		err  error
	)
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		item, err = h.repo.Item(ctx, id)
	} else {
		item, err = h.repo.ItemByCode(ctx, ref)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "item not found", nil)
			return
		}
		common.WriteError(w, err)
		return
	}

	if h.bus != nil {
		userID, _ := common.UserID(ctx)
		if _, err := h.bus.Emit(ctx, events.TopicItemViewed, item.ID, events.ItemViewed{ItemID: item.ID, UserID: userID}); err != nil {
			h.logger.Warn().Err(err).Str("item_id", item.ID.String()).Msg("emit item.viewed failed")
		}
	}

	resp := map[string]any{"data": item}
	if item.IsChild() && item.Parent != nil {
		resp["parent"] = map[string]any{"id": item.Parent.ID, "title": item.Parent.Title}
	}
	common.JSON(w, http.StatusOK, resp)
}

func (h *Handler) categoryBySlug(ctx context.Context, slug string) (*Category, error) {
	all, err := h.repo.Categories(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		if c.Slug == slug {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func inCategory(item *Item, root *Category) bool {
	for _, c := range item.Categories {
		if c.IsDescendantOrSelf(root) {
			return true
		}
	}
	return false
}

func filterItems(items []*Item, keep func(*Item) bool) []*Item {
	out := items[:0:0]
	for _, i := range items {
		if keep(i) {
			out = append(out, i)
		}
	}
	return out
}
