package basket

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/common"
	"github.com/noah-isme/toko-offers/internal/offer"
	"github.com/noah-isme/toko-offers/internal/partner"
	"github.com/noah-isme/toko-offers/internal/pricing"
	"github.com/noah-isme/toko-offers/internal/shipping"
	"github.com/noah-isme/toko-offers/internal/stock"
)

// Handler exposes basket endpoints.
type Handler struct {
	Svc *Service
}

type lineResponse struct {
	Reference        string              `json:"reference"`
	ItemID           uuid.UUID           `json:"item_id"`
	Title            string              `json:"title"`
	Quantity         int                 `json:"quantity"`
	Currency         string              `json:"currency"`
	UnitPriceExclTax decimal.NullDecimal `json:"unit_price_excl_tax"`
	UnitPriceInclTax decimal.NullDecimal `json:"unit_price_incl_tax"`
	Discount         decimal.Decimal     `json:"discount"`
	LineTotal        decimal.NullDecimal `json:"line_total_excl_tax"`
	Availability     string              `json:"availability"`
	Options          map[string]string   `json:"options,omitempty"`
	Warning          string              `json:"warning,omitempty"`
}

type basketResponse struct {
	ID             uuid.UUID            `json:"id"`
	OwnerID        string               `json:"owner_id,omitempty"`
	Status         Status               `json:"status"`
	Currency       string               `json:"currency,omitempty"`
	NumItems       int                  `json:"num_items"`
	VoucherCodes   []string             `json:"voucher_codes"`
	Lines          []lineResponse       `json:"lines"`
	Offers         []*offer.Application `json:"offers"`
	ShippingMethod string               `json:"shipping_method,omitempty"`
	Shipping       shipping.Charge      `json:"shipping"`
	Summary        pricing.Summary      `json:"summary"`
	Upsells        []string             `json:"upsell_messages,omitempty"`
	Warnings       []string             `json:"warnings,omitempty"`
	Rejected       map[string]string    `json:"rejected_vouchers,omitempty"`
}

func render(v *View) basketResponse {
	b := v.Basket
	resp := basketResponse{
		ID:             b.ID,
		OwnerID:        b.OwnerID,
		Status:         b.Status,
		Currency:       b.Currency(),
		NumItems:       b.NumItems(),
		VoucherCodes:   append([]string{}, b.VoucherCodes...),
		Lines:          make([]lineResponse, 0, b.NumLines()),
		Offers:         b.OfferApplications().All(),
		ShippingMethod: v.Method,
		Shipping:       v.Shipping,
		Summary:        v.Summary,
		Upsells:        v.Upsells,
		Warnings:       v.Warnings,
	}
	for _, l := range b.lines {
		resp.Lines = append(resp.Lines, lineResponse{
			Reference:        l.reference,
			ItemID:           l.item.ID,
			Title:            l.item.DisplayTitle(),
			Quantity:         l.quantity,
			Currency:         l.currency,
			UnitPriceExclTax: l.UnitPriceExclTax(),
			UnitPriceInclTax: l.UnitPriceInclTax(),
			Discount:         l.discount,
			LineTotal:        l.LinePriceExclTaxInclDiscounts(),
			Availability:     l.info.Availability.Code(),
			Options:          l.options,
			Warning:          l.Warning(),
		})
	}
	if len(v.Rejected) > 0 {
		resp.Rejected = make(map[string]string, len(v.Rejected))
		for code, err := range v.Rejected {
			resp.Rejected[code] = err.Error()
		}
	}
	return resp
}

func requestContext(r *http.Request) context.Context {
	return partner.WithRequest(r.Context(), r)
}

func (h *Handler) basketID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid basket id", nil)
		return uuid.Nil, false
	}
	return id, true
}

// authorize hides baskets owned by someone other than the caller.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, id uuid.UUID) bool {
	b, err := h.Svc.Load(requestContext(r), id)
	if err != nil {
		h.writeError(w, err)
		return false
	}
	if b.OwnerID == "" {
		return true
	}
	if user, _ := common.UserID(r.Context()); user != b.OwnerID {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "basket not found", nil)
		return false
	}
	return true
}

// Create handles POST /api/v1/baskets.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	owner, _ := common.UserID(r.Context())
	b, err := h.Svc.Create(requestContext(r), owner)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.Svc.price(requestContext(r), b, "")
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": render(view)})
}

// Get handles GET /api/v1/baskets/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.basketID(w, r)
	if !ok || !h.authorize(w, r, id) {
		return
	}
	view, err := h.Svc.Get(requestContext(r), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": render(view)})
}

type addLineRequest struct {
	ItemID   uuid.UUID         `json:"item_id" validate:"required"`
	Quantity int               `json:"quantity" validate:"required,min=1"`
	Options  map[string]string `json:"options"`
}

// AddLine handles POST /api/v1/baskets/{id}/lines.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.basketID(w, r)
	if !ok {
		return
	}
	var req addLineRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if !h.authorize(w, r, id) {
		return
	}
	view, err := h.Svc.AddLine(requestContext(r), id, AddLineInput{ItemID: req.ItemID, Quantity: req.Quantity, Options: req.Options})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": render(view)})
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0"`
}

// SetLineQuantity handles PATCH /api/v1/baskets/{id}/lines/{ref}.
func (h *Handler) SetLineQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.basketID(w, r)
	if !ok {
		return
	}
	var req setQuantityRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if !h.authorize(w, r, id) {
		return
	}
	view, err := h.Svc.SetLineQuantity(requestContext(r), id, chi.URLParam(r, "ref"), *req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": render(view)})
}

type voucherRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// AddVoucher handles POST /api/v1/baskets/{id}/vouchers.
func (h *Handler) AddVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := h.basketID(w, r)
	if !ok {
		return
	}
	var req voucherRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if !h.authorize(w, r, id) {
		return
	}
	view, err := h.Svc.AddVoucher(requestContext(r), id, req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": render(view)})
}

// RemoveVoucher handles DELETE /api/v1/baskets/{id}/vouchers/{code}.
func (h *Handler) RemoveVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := h.basketID(w, r)
	if !ok || !h.authorize(w, r, id) {
		return
	}
	view, err := h.Svc.RemoveVoucher(requestContext(r), id, chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": render(view)})
}

// ShippingMethods handles GET /api/v1/baskets/{id}/shipping-methods.
func (h *Handler) ShippingMethods(w http.ResponseWriter, r *http.Request) {
	id, ok := h.basketID(w, r)
	if !ok || !h.authorize(w, r, id) {
		return
	}
	quotes, err := h.Svc.ShippingQuotes(requestContext(r), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quotes})
}

type submitRequest struct {
	ShippingMethod string `json:"shipping_method" validate:"omitempty,max=64"`
}

// Submit handles POST /api/v1/baskets/{id}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.basketID(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if r.ContentLength != 0 {
		if err := common.DecodeJSON(r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	if !h.authorize(w, r, id) {
		return
	}
	view, err := h.Svc.Submit(requestContext(r), id, req.ShippingMethod)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": render(view)})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var refusal *RefusalError
	switch {
	case errors.As(err, &refusal):
		common.JSONError(w, http.StatusUnprocessableEntity, refusalCode(refusal.Err), refusal.Reason, nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "basket not found", nil)
	case errors.Is(err, catalog.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "item not found", nil)
	case errors.Is(err, ErrLineNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "line not found", nil)
	case errors.Is(err, ErrCurrencyMismatch):
		common.JSONError(w, http.StatusUnprocessableEntity, "CURRENCY_MISMATCH", "item is priced in a different currency from the basket", nil)
	case errors.Is(err, ErrMissingPrice), errors.Is(err, ErrNoStockRecord):
		common.JSONError(w, http.StatusUnprocessableEntity, "NO_PRICE", "item has no price and cannot be added", nil)
	case errors.Is(err, ErrInvalidQuantity):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_QUANTITY", "quantity must be positive", nil)
	case errors.Is(err, ErrNotEditable):
		common.JSONError(w, http.StatusConflict, "BASKET_LOCKED", "basket can no longer be changed", nil)
	case errors.Is(err, ErrEmpty):
		common.JSONError(w, http.StatusUnprocessableEntity, "BASKET_EMPTY", "basket is empty", nil)
	case errors.Is(err, stock.ErrInsufficientStock):
		common.JSONError(w, http.StatusConflict, "INSUFFICIENT_STOCK", "not enough stock to fulfil the basket", nil)
	case errors.Is(err, shipping.ErrUnknownMethod):
		common.JSONError(w, http.StatusUnprocessableEntity, "UNKNOWN_SHIPPING_METHOD", "shipping method is not available", nil)
	case errors.Is(err, offer.ErrNotEligible),
		errors.Is(err, offer.ErrVoucherInactive),
		errors.Is(err, offer.ErrVoucherExpired),
		errors.Is(err, offer.ErrUsageLimitReached),
		errors.Is(err, offer.ErrPerUserLimitReached),
		errors.Is(err, offer.ErrSignInRequired):
		common.JSONError(w, http.StatusUnprocessableEntity, "VOUCHER_INVALID", err.Error(), nil)
	default:
		h.Svc.Logger.Error().Err(err).Msg("basket request failed")
		common.WriteError(w, err)
	}
}

func refusalCode(err error) string {
	switch {
	case errors.Is(err, ErrQuantityNotAllowed):
		return "QUANTITY_NOT_ALLOWED"
	case errors.Is(err, ErrVoucherNotApplied):
		return "VOUCHER_NOT_APPLIED"
	default:
		return "NOT_PURCHASABLE"
	}
}
