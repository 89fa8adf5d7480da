package shipping

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/offer"
)

// ErrNoWeight is returned when an item has no weight attribute and the scale
// has no default.
var ErrNoWeight = errors.New("shipping: item has no weight")

// DefaultWeightAttribute is the attribute code read by NewScale.
const DefaultWeightAttribute = "weight"

// Basket is what shipping needs from a basket.
type Basket interface {
	OfferLines() []offer.Line
	OfferApplications() *offer.Applications
	Currency() string
	IsShippingRequired() bool
}

// Scale weighs items and baskets using an item attribute.
type Scale struct {
	AttributeCode string
	// DefaultWeight is used for items without the attribute. Nil makes such
	// items an error.
	DefaultWeight *decimal.Decimal
}

// NewScale returns a scale reading the weight attribute.
func NewScale(defaultWeight *decimal.Decimal) Scale {
	return Scale{AttributeCode: DefaultWeightAttribute, DefaultWeight: defaultWeight}
}

// WeighItem returns the weight of one unit of item.
func (s Scale) WeighItem(item *catalog.Item) (decimal.Decimal, error) {
	code := s.AttributeCode
	if code == "" {
		code = DefaultWeightAttribute
	}
	raw, ok := item.Attribute(code)
	if !ok || raw == "" {
		if s.DefaultWeight == nil {
			return decimal.Zero, fmt.Errorf("attribute %q on item %s: %w", code, item.ID, ErrNoWeight)
		}
		return *s.DefaultWeight, nil
	}
	w, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("attribute %q on item %s: %w", code, item.ID, err)
	}
	return w, nil
}

// WeighBasket sums the weight of every unit in b.
func (s Scale) WeighBasket(b Basket) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, line := range b.OfferLines() {
		w, err := s.WeighItem(line.Item())
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(w.Mul(decimal.NewFromInt(int64(line.Quantity()))))
	}
	return total, nil
}
