package offer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-offers/internal/pricing"
)

// ErrInvalidBenefit is returned when a benefit fails validation.
var ErrInvalidBenefit = errors.New("offer: invalid benefit")

// BenefitType selects the discount a benefit grants.
type BenefitType string

const (
	PercentageBenefit         BenefitType = "percentage"
	AbsoluteBenefit           BenefitType = "absolute"
	MultibuyBenefit           BenefitType = "multibuy"
	FixedPriceBenefit         BenefitType = "fixed_price"
	ShippingAbsoluteBenefit   BenefitType = "shipping_absolute"
	ShippingFixedPriceBenefit BenefitType = "shipping_fixed_price"
	ShippingPercentageBenefit BenefitType = "shipping_percentage"
)

// defaultMaxAffectedItems caps benefits that set no explicit limit.
const defaultMaxAffectedItems = 10000

var hundred = decimal.NewFromInt(100)

// Benefit is the discount an offer grants once its condition is met.
type Benefit struct {
	ID               uuid.UUID       `json:"id"`
	Type             BenefitType     `json:"type"`
	Range            *Range          `json:"range,omitempty"`
	Value            decimal.Decimal `json:"value"`
	MaxAffectedItems int             `json:"max_affected_items,omitempty"`
}

// Validate checks the benefit configuration.
func (b *Benefit) Validate() error {
	if b == nil {
		return ErrInvalidBenefit
	}
	switch b.Type {
	case PercentageBenefit, AbsoluteBenefit, ShippingPercentageBenefit:
		if b.Range == nil && !b.IsShipping() {
			return fmt.Errorf("%w: %s needs a range", ErrInvalidBenefit, b.Type)
		}
		if !b.Value.IsPositive() {
			return fmt.Errorf("%w: value must be positive", ErrInvalidBenefit)
		}
		if b.Type != AbsoluteBenefit && b.Value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage cannot exceed 100", ErrInvalidBenefit)
		}
	case MultibuyBenefit:
		if b.Range == nil {
			return fmt.Errorf("%w: multibuy needs a range", ErrInvalidBenefit)
		}
		if !b.Value.IsZero() {
			return fmt.Errorf("%w: multibuy takes no value", ErrInvalidBenefit)
		}
		if b.MaxAffectedItems != 0 {
			return fmt.Errorf("%w: multibuy takes no max affected items", ErrInvalidBenefit)
		}
	case FixedPriceBenefit:
		if b.Range != nil {
			return fmt.Errorf("%w: fixed price uses the condition range", ErrInvalidBenefit)
		}
		if b.Value.IsNegative() {
			return fmt.Errorf("%w: value cannot be negative", ErrInvalidBenefit)
		}
	case ShippingAbsoluteBenefit, ShippingFixedPriceBenefit:
		if b.Value.IsNegative() {
			return fmt.Errorf("%w: value cannot be negative", ErrInvalidBenefit)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidBenefit, b.Type)
	}
	if b.MaxAffectedItems < 0 {
		return fmt.Errorf("%w: max affected items cannot be negative", ErrInvalidBenefit)
	}
	return nil
}

// IsShipping reports whether the benefit discounts shipping.
func (b *Benefit) IsShipping() bool {
	switch b.Type {
	case ShippingAbsoluteBenefit, ShippingFixedPriceBenefit, ShippingPercentageBenefit:
		return true
	}
	return false
}

func (b *Benefit) maxAffected() int {
	if b.MaxAffectedItems > 0 {
		return b.MaxAffectedItems
	}
	return defaultMaxAffectedItems
}

// Apply grants the benefit to basket for offer. The condition has already
// been checked by the caller.
func (b *Benefit) Apply(basket Basket, condition *Condition, offer *ConditionalOffer) Result {
	switch b.Type {
	case PercentageBenefit:
		return b.applyPercentage(basket, condition, offer)
	case AbsoluteBenefit:
		return b.applyAbsolute(basket, condition, offer)
	case MultibuyBenefit:
		return b.applyMultibuy(basket, condition, offer)
	case FixedPriceBenefit:
		return b.applyFixedPrice(basket, condition, offer)
	case ShippingAbsoluteBenefit, ShippingFixedPriceBenefit, ShippingPercentageBenefit:
		condition.ConsumeItems(offer, basket, nil)
		return ShippingDiscount()
	default:
		return ZeroDiscount()
	}
}

// ShippingDiscountFor returns the discount on a shipping charge. It is zero
// for benefits that do not touch shipping.
func (b *Benefit) ShippingDiscountFor(charge decimal.Decimal, currency string) decimal.Decimal {
	switch b.Type {
	case ShippingAbsoluteBenefit:
		return decimal.Min(charge, b.Value)
	case ShippingFixedPriceBenefit:
		if charge.LessThan(b.Value) {
			return decimal.Zero
		}
		return charge.Sub(b.Value)
	case ShippingPercentageBenefit:
		pct := decimal.Min(b.Value, hundred)
		return pricing.QuantizeCurrency(charge.Mul(pct).Div(hundred), currency)
	default:
		return decimal.Zero
	}
}

// applicableLines returns the discountable priced lines in r, cheapest first.
// Equal prices keep basket order.
func applicableLines(basket Basket, r *Range) []Line {
	var lines []Line
	for _, line := range basket.OfferLines() {
		item := line.Item()
		if line.StockRecord() == nil || item == nil || !item.IsDiscountable() || !r.ContainsItem(item) {
			continue
		}
		if !line.UnitEffectivePrice().IsPositive() {
			continue
		}
		lines = append(lines, line)
	}
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].UnitEffectivePrice().LessThan(lines[j].UnitEffectivePrice())
	})
	return lines
}

func (b *Benefit) applyPercentage(basket Basket, condition *Condition, offer *ConditionalOffer) Result {
	pct := decimal.Min(b.Value, hundred)
	limit := b.maxAffected()
	affectedItems := 0
	discount := decimal.Zero
	var affected []AffectedLine
	for _, line := range applicableLines(basket, b.Range) {
		if affectedItems >= limit {
			break
		}
		qty := min(availableFor(line, offer), limit-affectedItems)
		if qty <= 0 {
			continue
		}
		amount := line.UnitEffectivePrice().Mul(decimal.NewFromInt(int64(qty))).Mul(pct).Div(hundred)
		amount = pricing.RoundDown(amount, basket.Currency())
		if !amount.IsPositive() {
			continue
		}
		line.Discount(amount, qty, offer)
		affected = append(affected, AffectedLine{Line: line, Discount: amount, Quantity: qty})
		affectedItems += qty
		discount = discount.Add(amount)
	}
	if discount.IsPositive() {
		condition.ConsumeItems(offer, basket, affected)
	}
	return BasketDiscount(discount)
}

type lineShare struct {
	line  Line
	price decimal.Decimal
	qty   int
}

func (b *Benefit) applyAbsolute(basket Basket, condition *Condition, offer *ConditionalOffer) Result {
	limit := b.maxAffected()
	numAffected := 0
	itemsTotal := decimal.Zero
	var shares []lineShare
	for _, line := range applicableLines(basket, b.Range) {
		if numAffected >= limit {
			break
		}
		qty := min(availableFor(line, offer), limit-numAffected)
		if qty <= 0 {
			continue
		}
		price := line.UnitEffectivePrice()
		shares = append(shares, lineShare{line: line, price: price, qty: qty})
		numAffected += qty
		itemsTotal = itemsTotal.Add(price.Mul(decimal.NewFromInt(int64(qty))))
	}
	discount := decimal.Min(b.Value, itemsTotal)
	if !discount.IsPositive() {
		return ZeroDiscount()
	}

	affected := splitDiscount(basket.Currency(), discount, itemsTotal, shares, offer)
	condition.ConsumeItems(offer, basket, affected)
	return BasketDiscount(discount)
}

// splitDiscount spreads discount over shares in proportion to their value,
// rounding down and giving the remainder to the last share. Shares whose
// amount rounds to nothing are left unconsumed.
func splitDiscount(currency string, discount, total decimal.Decimal, shares []lineShare, offer *ConditionalOffer) []AffectedLine {
	affected := make([]AffectedLine, 0, len(shares))
	applied := decimal.Zero
	for i, s := range shares {
		var amount decimal.Decimal
		if i == len(shares)-1 {
			amount = discount.Sub(applied)
		} else {
			weight := s.price.Mul(decimal.NewFromInt(int64(s.qty)))
			amount = pricing.RoundDown(weight.Mul(discount).Div(total), currency)
		}
		if !amount.IsPositive() {
			continue
		}
		s.line.Discount(amount, s.qty, offer)
		affected = append(affected, AffectedLine{Line: s.line, Discount: amount, Quantity: s.qty})
		applied = applied.Add(amount)
	}
	return affected
}

func (b *Benefit) applyMultibuy(basket Basket, condition *Condition, offer *ConditionalOffer) Result {
	for _, line := range applicableLines(basket, b.Range) {
		if availableFor(line, offer) == 0 {
			continue
		}
		discount := line.UnitEffectivePrice()
		line.Discount(discount, 1, offer)
		condition.ConsumeItems(offer, basket, []AffectedLine{{Line: line, Discount: discount, Quantity: 1}})
		return BasketDiscount(discount)
	}
	return ZeroDiscount()
}

// applyFixedPrice sells the units that satisfy the condition for Value in
// total. It does not combine with value conditions.
func (b *Benefit) applyFixedPrice(basket Basket, condition *Condition, offer *ConditionalOffer) Result {
	if condition.Type == ValueCondition {
		return ZeroDiscount()
	}
	var lines []Line
	if condition.Type == CoverageCondition {
		lines = condition.coveredLines(offer, basket)
	} else {
		lines = applicableLines(basket, condition.Range)
	}

	permitted := condition.threshold()
	numAffected := 0
	valueAffected := decimal.Zero
	var shares []lineShare
	for _, line := range lines {
		if numAffected >= permitted {
			break
		}
		qty := 1
		if condition.Type != CoverageCondition {
			qty = min(availableFor(line, offer), permitted-numAffected)
		}
		if qty <= 0 {
			continue
		}
		price := line.UnitEffectivePrice()
		shares = append(shares, lineShare{line: line, price: price, qty: qty})
		numAffected += qty
		valueAffected = valueAffected.Add(price.Mul(decimal.NewFromInt(int64(qty))))
	}
	discount := valueAffected.Sub(b.Value)
	if !discount.IsPositive() {
		return ZeroDiscount()
	}
	affected := splitDiscount(basket.Currency(), discount, valueAffected, shares, offer)
	condition.ConsumeItems(offer, basket, affected)
	return BasketDiscount(discount)
}
