package offer

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ResultKind distinguishes the outcomes of applying a benefit.
type ResultKind string

const (
	// KindBasket discounts basket lines.
	KindBasket ResultKind = "basket"
	// KindShipping discounts the shipping charge.
	KindShipping ResultKind = "shipping"
	// KindZero means nothing was applied.
	KindZero ResultKind = "zero"
)

// Result is the outcome of one benefit application.
type Result struct {
	Kind   ResultKind      `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

// BasketDiscount is a line discount totalling amount.
func BasketDiscount(amount decimal.Decimal) Result {
	return Result{Kind: KindBasket, Amount: amount}
}

// ShippingDiscount marks that the shipping charge is discounted. The amount
// is resolved later against the chosen shipping method.
func ShippingDiscount() Result {
	return Result{Kind: KindShipping}
}

// ZeroDiscount is the result of an offer that did not apply.
func ZeroDiscount() Result {
	return Result{Kind: KindZero}
}

// IsSuccessful reports whether the application changed anything.
func (r Result) IsSuccessful() bool {
	switch r.Kind {
	case KindBasket:
		return r.Amount.IsPositive()
	case KindShipping:
		return true
	default:
		return false
	}
}

// IsFinal reports whether the offer must not be applied again in this pass.
func (r Result) IsFinal() bool {
	return r.Kind == KindShipping
}

// AffectsShipping reports whether the result discounts shipping.
func (r Result) AffectsShipping() bool {
	return r.Kind == KindShipping
}

// Application aggregates the results of one offer over a pass.
type Application struct {
	Offer       *ConditionalOffer `json:"-"`
	OfferID     uuid.UUID         `json:"offer_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	VoucherCode string            `json:"voucher_code,omitempty"`
	Freq        int               `json:"freq"`
	Discount    decimal.Decimal   `json:"discount"`
	Shipping    bool              `json:"shipping_discount"`
}

// Applications records which offers applied to a basket, in application order.
type Applications struct {
	order []uuid.UUID
	byID  map[uuid.UUID]*Application
}

// NewApplications returns an empty record.
func NewApplications() *Applications {
	return &Applications{byID: make(map[uuid.UUID]*Application)}
}

// Add records a successful result for offer.
func (a *Applications) Add(offer *ConditionalOffer, result Result) {
	app, ok := a.byID[offer.ID]
	if !ok {
		app = &Application{
			Offer:       offer,
			OfferID:     offer.ID,
			Name:        offer.Name,
			Description: offer.Description,
			VoucherCode: offer.VoucherCode,
			Discount:    decimal.Zero,
		}
		a.byID[offer.ID] = app
		a.order = append(a.order, offer.ID)
	}
	app.Freq++
	if result.AffectsShipping() {
		app.Shipping = true
		return
	}
	app.Discount = app.Discount.Add(result.Amount)
}

// Offers returns the applied offers keyed by id.
func (a *Applications) Offers() map[uuid.UUID]*ConditionalOffer {
	out := make(map[uuid.UUID]*ConditionalOffer, len(a.byID))
	for id, app := range a.byID {
		out[id] = app.Offer
	}
	return out
}

// All returns the applications in the order they were first recorded.
func (a *Applications) All() []*Application {
	out := make([]*Application, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.byID[id])
	}
	return out
}

// BasketDiscounts returns the applications that discounted lines.
func (a *Applications) BasketDiscounts() []*Application {
	var out []*Application
	for _, app := range a.All() {
		if !app.Shipping {
			out = append(out, app)
		}
	}
	return out
}

// ShippingOffers returns the offers that discount shipping, highest priority first.
func (a *Applications) ShippingOffers() []*ConditionalOffer {
	var out []*ConditionalOffer
	for _, app := range a.All() {
		if app.Shipping {
			out = append(out, app.Offer)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// TotalDiscount sums the line discounts of all applications.
func (a *Applications) TotalDiscount() decimal.Decimal {
	total := decimal.Zero
	for _, app := range a.byID {
		total = total.Add(app.Discount)
	}
	return total
}

// Len returns the number of distinct applied offers.
func (a *Applications) Len() int { return len(a.order) }

// Clear forgets every application.
func (a *Applications) Clear() {
	a.order = nil
	clear(a.byID)
}
