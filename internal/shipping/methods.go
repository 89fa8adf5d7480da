package shipping

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-offers/internal/offer"
	"github.com/noah-isme/toko-offers/internal/pricing"
)

// ErrInvalidBands is returned by ParseBands for malformed input.
var ErrInvalidBands = errors.New("shipping: invalid weight bands")

// Charge is the cost of shipping a basket with one method.
type Charge struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Discount decimal.Decimal `json:"discount"`
}

// Net is the amount after the shipping discount.
func (c Charge) Net() decimal.Decimal {
	return decimal.Max(c.Amount.Sub(c.Discount), decimal.Zero)
}

// Method prices shipping for a basket.
type Method interface {
	Code() string
	Name() string
	Calculate(b Basket) (Charge, error)
}

func zeroCharge(b Basket) Charge {
	return Charge{Currency: b.Currency(), Amount: decimal.Zero, Discount: decimal.Zero}
}

// Free ships at no cost.
type Free struct{}

func (Free) Code() string { return "free-shipping" }
func (Free) Name() string { return "Free shipping" }

func (Free) Calculate(b Basket) (Charge, error) { return zeroCharge(b), nil }

// NoShippingRequired is offered for baskets of items that are not shipped.
type NoShippingRequired struct{}

func (NoShippingRequired) Code() string { return "no-shipping-required" }
func (NoShippingRequired) Name() string { return "No shipping required" }

func (NoShippingRequired) Calculate(b Basket) (Charge, error) { return zeroCharge(b), nil }

// FixedPrice charges the same amount for every basket.
type FixedPrice struct {
	MethodCode string
	MethodName string
	Amount     decimal.Decimal
}

func (m FixedPrice) Code() string { return m.MethodCode }
func (m FixedPrice) Name() string { return m.MethodName }

func (m FixedPrice) Calculate(b Basket) (Charge, error) {
	c := zeroCharge(b)
	c.Amount = m.Amount
	return c, nil
}

// Band is a weight bracket: baskets up to UpperLimit cost Charge.
type Band struct {
	UpperLimit decimal.Decimal `json:"upper_limit"`
	Charge     decimal.Decimal `json:"charge"`
}

// WeightBased charges by basket weight. The charge comes from the lightest
// band whose upper limit covers the weight; heavier baskets pay the top band.
type WeightBased struct {
	MethodCode    string
	MethodName    string
	Bands         []Band
	DefaultWeight *decimal.Decimal
}

func (m WeightBased) Code() string { return m.MethodCode }
func (m WeightBased) Name() string { return m.MethodName }

// Calculate implements Method.
func (m WeightBased) Calculate(b Basket) (Charge, error) {
	c := zeroCharge(b)
	weight, err := NewScale(m.DefaultWeight).WeighBasket(b)
	if err != nil {
		return Charge{}, fmt.Errorf("%s: %w", m.MethodCode, err)
	}
	c.Amount = m.ChargeFor(weight)
	return c, nil
}

// ChargeFor returns the charge for weight. Without bands shipping is free.
func (m WeightBased) ChargeFor(weight decimal.Decimal) decimal.Decimal {
	if len(m.Bands) == 0 {
		return decimal.Zero
	}
	bands := sortedBands(m.Bands)
	for _, band := range bands {
		if weight.LessThanOrEqual(band.UpperLimit) {
			return band.Charge
		}
	}
	return bands[len(bands)-1].Charge
}

func sortedBands(bands []Band) []Band {
	out := append([]Band(nil), bands...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpperLimit.LessThan(out[j].UpperLimit) })
	return out
}

// ParseBands reads bands written as "limit:charge" pairs separated by commas,
// e.g. "1:3.00,5:5.50".
func ParseBands(raw string) ([]Band, error) {
	var bands []Band
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		limit, charge, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%q: %w", part, ErrInvalidBands)
		}
		l, err := decimal.NewFromString(strings.TrimSpace(limit))
		if err != nil || !l.IsPositive() {
			return nil, fmt.Errorf("limit %q: %w", limit, ErrInvalidBands)
		}
		c, err := decimal.NewFromString(strings.TrimSpace(charge))
		if err != nil || c.IsNegative() {
			return nil, fmt.Errorf("charge %q: %w", charge, ErrInvalidBands)
		}
		bands = append(bands, Band{UpperLimit: l, Charge: c})
	}
	return sortedBands(bands), nil
}

// Discounted is a method whose charge is reduced by a shipping offer.
type Discounted struct {
	Method
	Offer *offer.ConditionalOffer
}

// Calculate implements Method. The discount never exceeds the charge.
func (m Discounted) Calculate(b Basket) (Charge, error) {
	c, err := m.Method.Calculate(b)
	if err != nil {
		return Charge{}, err
	}
	if m.Offer == nil || m.Offer.Benefit == nil {
		return c, nil
	}
	d := m.Offer.Benefit.ShippingDiscountFor(c.Amount, c.Currency)
	c.Discount = pricing.QuantizeCurrency(decimal.Min(c.Discount.Add(d), c.Amount), c.Currency)
	return c, nil
}

// ApplyShippingOffer wraps method with the basket's highest priority shipping
// offer. Only one shipping offer discounts a charge.
func ApplyShippingOffer(method Method, b Basket) Method {
	offers := b.OfferApplications().ShippingOffers()
	if len(offers) == 0 {
		return method
	}
	return Discounted{Method: method, Offer: offers[0]}
}
