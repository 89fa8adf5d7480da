package offer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-offers/internal/pricing"
)

// ErrInvalidCondition is returned when a condition fails validation.
var ErrInvalidCondition = errors.New("offer: invalid condition")

// ConditionType selects how a condition measures the basket.
type ConditionType string

const (
	// CountCondition needs a number of matching units.
	CountCondition ConditionType = "count"
	// ValueCondition needs a spend on matching units.
	ValueCondition ConditionType = "value"
	// CoverageCondition needs a number of distinct matching items.
	CoverageCondition ConditionType = "coverage"
)

// Condition gates an offer on the contents of the basket.
type Condition struct {
	ID    uuid.UUID       `json:"id"`
	Type  ConditionType   `json:"type"`
	Range *Range          `json:"range"`
	Value decimal.Decimal `json:"value"`
}

// Validate checks the condition configuration.
func (c *Condition) Validate() error {
	if c == nil {
		return ErrInvalidCondition
	}
	switch c.Type {
	case CountCondition, ValueCondition, CoverageCondition:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCondition, c.Type)
	}
	if c.Range == nil {
		return fmt.Errorf("%w: range is required", ErrInvalidCondition)
	}
	if !c.Value.IsPositive() {
		return fmt.Errorf("%w: value must be positive", ErrInvalidCondition)
	}
	if c.Type != ValueCondition && !c.Value.Equal(c.Value.Truncate(0)) {
		return fmt.Errorf("%w: %s threshold must be a whole number", ErrInvalidCondition, c.Type)
	}
	return nil
}

func (c *Condition) threshold() int {
	return int(c.Value.IntPart())
}

// canApply reports whether line counts towards the condition at all.
func (c *Condition) canApply(line Line) bool {
	item := line.Item()
	return line.StockRecord() != nil && item != nil && item.IsDiscountable() && c.Range.ContainsItem(item)
}

// IsSatisfied reports whether the basket meets the condition for offer,
// counting only units that offer may still use.
func (c *Condition) IsSatisfied(offer *ConditionalOffer, basket Basket) bool {
	switch c.Type {
	case CountCondition:
		return c.countMatches(offer, basket) >= c.threshold()
	case ValueCondition:
		return c.valueOfMatches(offer, basket).GreaterThanOrEqual(c.Value)
	case CoverageCondition:
		return c.coveredItems(offer, basket) >= c.threshold()
	default:
		return false
	}
}

// IsPartiallySatisfied reports whether the basket has some, but not enough,
// matching content.
func (c *Condition) IsPartiallySatisfied(offer *ConditionalOffer, basket Basket) bool {
	switch c.Type {
	case CountCondition:
		n := c.countMatches(offer, basket)
		return n > 0 && n < c.threshold()
	case ValueCondition:
		v := c.valueOfMatches(offer, basket)
		return v.IsPositive() && v.LessThan(c.Value)
	case CoverageCondition:
		n := c.coveredItems(offer, basket)
		return n > 0 && n < c.threshold()
	default:
		return false
	}
}

// UpsellMessage tells the customer what is missing. It is empty unless the
// condition is partially satisfied.
func (c *Condition) UpsellMessage(offer *ConditionalOffer, basket Basket) string {
	if !c.IsPartiallySatisfied(offer, basket) {
		return ""
	}
	switch c.Type {
	case ValueCondition:
		delta := c.Value.Sub(c.valueOfMatches(offer, basket))
		return fmt.Sprintf("Spend %s more from %s", pricing.Format(delta, basket.Currency()), c.Range.Name)
	case CountCondition:
		return buyMore(c.threshold()-c.countMatches(offer, basket), c.Range.Name)
	default:
		return buyMore(c.threshold()-c.coveredItems(offer, basket), c.Range.Name)
	}
}

func buyMore(delta int, rangeName string) string {
	if delta == 1 {
		return fmt.Sprintf("Buy 1 more product from %s", rangeName)
	}
	return fmt.Sprintf("Buy %d more products from %s", delta, rangeName)
}

func (c *Condition) countMatches(offer *ConditionalOffer, basket Basket) int {
	n := 0
	for _, line := range basket.OfferLines() {
		if c.canApply(line) {
			n += availableFor(line, offer)
		}
	}
	return n
}

func (c *Condition) valueOfMatches(offer *ConditionalOffer, basket Basket) decimal.Decimal {
	total := decimal.Zero
	for _, line := range basket.OfferLines() {
		if !c.canApply(line) {
			continue
		}
		if n := availableFor(line, offer); n > 0 {
			total = total.Add(line.UnitEffectivePrice().Mul(decimal.NewFromInt(int64(n))))
		}
	}
	return total
}

func (c *Condition) coveredItems(offer *ConditionalOffer, basket Basket) int {
	covered := make(map[uuid.UUID]struct{})
	for _, line := range basket.OfferLines() {
		if c.canApply(line) && availableFor(line, offer) > 0 {
			covered[line.Item().ID] = struct{}{}
		}
	}
	return len(covered)
}

// applicableLines returns the priced matching lines, most expensive first
// when requested and cheapest first otherwise. Equal prices keep basket order.
func (c *Condition) applicableLines(basket Basket, mostExpensiveFirst bool) []Line {
	var lines []Line
	for _, line := range basket.OfferLines() {
		if c.canApply(line) && line.UnitEffectivePrice().IsPositive() {
			lines = append(lines, line)
		}
	}
	sort.SliceStable(lines, func(i, j int) bool {
		pi, pj := lines[i].UnitEffectivePrice(), lines[j].UnitEffectivePrice()
		if mostExpensiveFirst {
			return pi.GreaterThan(pj)
		}
		return pi.LessThan(pj)
	})
	return lines
}

// AffectedLine records how a benefit touched one line.
type AffectedLine struct {
	Line     Line
	Discount decimal.Decimal
	Quantity int
}

// ConsumeItems marks the units that satisfied the condition as used by offer,
// after crediting the units the benefit already consumed in affected.
func (c *Condition) ConsumeItems(offer *ConditionalOffer, basket Basket, affected []AffectedLine) {
	switch c.Type {
	case CountCondition:
		c.consumeCount(offer, basket, affected)
	case ValueCondition:
		c.consumeValue(offer, basket, affected)
	case CoverageCondition:
		c.consumeCoverage(offer, basket, affected)
	}
}

func (c *Condition) consumeCount(offer *ConditionalOffer, basket Basket, affected []AffectedLine) {
	consumed := 0
	for _, a := range affected {
		consumed += a.Quantity
	}
	toConsume := c.threshold() - consumed
	for _, line := range c.applicableLines(basket, true) {
		if toConsume <= 0 {
			return
		}
		toConsume -= consume(line, min(availableFor(line, offer), toConsume), offer)
	}
}

func (c *Condition) consumeValue(offer *ConditionalOffer, basket Basket, affected []AffectedLine) {
	consumed := decimal.Zero
	for _, a := range affected {
		consumed = consumed.Add(a.Line.UnitEffectivePrice().Mul(decimal.NewFromInt(int64(a.Quantity))))
	}
	toConsume := c.Value.Sub(consumed)
	for _, line := range c.applicableLines(basket, true) {
		if !toConsume.IsPositive() {
			return
		}
		price := line.UnitEffectivePrice()
		units := int(toConsume.Div(price).Ceil().IntPart())
		taken := consume(line, min(availableFor(line, offer), units), offer)
		toConsume = toConsume.Sub(price.Mul(decimal.NewFromInt(int64(taken))))
	}
}

func (c *Condition) consumeCoverage(offer *ConditionalOffer, basket Basket, affected []AffectedLine) {
	covered := make(map[uuid.UUID]struct{})
	for _, a := range affected {
		covered[a.Line.Item().ID] = struct{}{}
	}
	toConsume := c.threshold() - len(covered)
	for _, line := range basket.OfferLines() {
		if toConsume <= 0 {
			return
		}
		if !c.canApply(line) {
			continue
		}
		if _, ok := covered[line.Item().ID]; ok {
			continue
		}
		if consume(line, 1, offer) == 1 {
			covered[line.Item().ID] = struct{}{}
			toConsume--
		}
	}
}

// coveredLines picks one line per distinct matching item, cheapest first, up
// to the threshold. Fixed price benefits use it with coverage conditions.
func (c *Condition) coveredLines(offer *ConditionalOffer, basket Basket) []Line {
	var out []Line
	seen := make(map[uuid.UUID]struct{})
	for _, line := range c.applicableLines(basket, false) {
		if len(out) >= c.threshold() {
			break
		}
		if _, ok := seen[line.Item().ID]; ok || availableFor(line, offer) == 0 {
			continue
		}
		seen[line.Item().ID] = struct{}{}
		out = append(out, line)
	}
	return out
}
