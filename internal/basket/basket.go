package basket

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/offer"
	"github.com/noah-isme/toko-offers/internal/partner"
	"github.com/noah-isme/toko-offers/internal/pricing"
)

var (
	// ErrMissingPrice is returned when the strategy finds no price for an item.
	ErrMissingPrice = errors.New("basket: item has no price")
	// ErrCurrencyMismatch is returned when a line would mix currencies.
	ErrCurrencyMismatch = errors.New("basket: currency mismatch")
	// ErrNoStockRecord is returned when the strategy finds no stock record.
	ErrNoStockRecord = errors.New("basket: item has no stock record")
	// ErrNotEditable is returned when the basket's status forbids changes.
	ErrNotEditable = errors.New("basket: not editable")
	// ErrInvalidQuantity is returned for non-positive quantities on new lines.
	ErrInvalidQuantity = errors.New("basket: invalid quantity")
	// ErrLineNotFound is returned for unknown line references.
	ErrLineNotFound = errors.New("basket: line not found")
)

// Status is the lifecycle state of a basket.
type Status string

const (
	StatusOpen      Status = "open"
	StatusMerged    Status = "merged"
	StatusSaved     Status = "saved"
	StatusFrozen    Status = "frozen"
	StatusSubmitted Status = "submitted"
)

// Basket holds the lines a customer intends to buy. It is not safe for
// concurrent use; the service loads a fresh copy per request.
type Basket struct {
	ID           uuid.UUID
	OwnerID      string
	Status       Status
	VoucherCodes []string
	// MaxQuantity caps the number of items; zero means unlimited.
	MaxQuantity int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SubmittedAt *time.Time

	lines        []*Line
	strategy     *partner.Strategy
	applications *offer.Applications
	now          func() time.Time
}

// New returns an empty open basket priced by strategy.
func New(ownerID string, strategy *partner.Strategy) *Basket {
	if strategy == nil {
		strategy = partner.Default()
	}
	now := time.Now().UTC()
	return &Basket{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Status:       StatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
		strategy:     strategy,
		applications: offer.NewApplications(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Strategy returns the strategy pricing the basket.
func (b *Basket) Strategy() *partner.Strategy { return b.strategy }

// SetStrategy switches strategy and refreshes every line's purchase info.
func (b *Basket) SetStrategy(strategy *partner.Strategy) {
	b.strategy = strategy
	for _, l := range b.lines {
		l.refresh(strategy)
	}
	b.ResetOfferApplications()
}

// Lines returns the lines in the order they were added.
func (b *Basket) Lines() []*Line { return slices.Clone(b.lines) }

// Line looks a line up by reference.
func (b *Basket) Line(reference string) (*Line, bool) {
	for _, l := range b.lines {
		if l.reference == reference {
			return l, true
		}
	}
	return nil, false
}

// CanBeEdited reports whether lines may be changed.
func (b *Basket) CanBeEdited() bool {
	return b.Status == StatusOpen || b.Status == StatusSaved
}

// Add puts quantity units of item into the basket. Adding to an existing line
// adjusts its quantity, never below zero; a line that reaches zero is removed.
func (b *Basket) Add(item *catalog.Item, quantity int, options map[string]string) (*Line, error) {
	if !b.CanBeEdited() {
		return nil, fmt.Errorf("status %s: %w", b.Status, ErrNotEditable)
	}
	info := b.strategy.FetchForItem(item, nil)
	if !info.Price.Exists() {
		return nil, fmt.Errorf("item %s: %w", item.ID, ErrMissingPrice)
	}
	if currency := b.Currency(); currency != "" && !sameCurrency(currency, info.Price.Currency) {
		return nil, fmt.Errorf("basket uses %s, item is priced in %s: %w", currency, info.Price.Currency, ErrCurrencyMismatch)
	}
	if info.StockRecord == nil {
		return nil, fmt.Errorf("item %s: %w", item.ID, ErrNoStockRecord)
	}

	defer b.touch()
	ref := LineReference(item, info.StockRecord, options)
	if line, ok := b.Line(ref); ok {
		line.quantity = max(0, line.quantity+quantity)
		line.info = info
		if line.quantity == 0 {
			b.removeLine(ref)
		}
		b.ResetOfferApplications()
		return line, nil
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity %d: %w", quantity, ErrInvalidQuantity)
	}
	line := newLine(item, info, quantity, options, b.now())
	b.lines = append(b.lines, line)
	b.ResetOfferApplications()
	return line, nil
}

// SetQuantity sets a line's quantity. Zero removes the line.
func (b *Basket) SetQuantity(reference string, quantity int) error {
	if !b.CanBeEdited() {
		return ErrNotEditable
	}
	line, ok := b.Line(reference)
	if !ok {
		return ErrLineNotFound
	}
	if quantity < 0 {
		return ErrInvalidQuantity
	}
	line.quantity = quantity
	if quantity == 0 {
		b.removeLine(reference)
	}
	b.ResetOfferApplications()
	b.touch()
	return nil
}

func (b *Basket) removeLine(reference string) {
	b.lines = slices.DeleteFunc(b.lines, func(l *Line) bool { return l.reference == reference })
}

func (b *Basket) touch() { b.UpdatedAt = b.now() }

// ResetOfferApplications forgets applied offers and line discounts.
func (b *Basket) ResetOfferApplications() {
	b.applications.Clear()
	for _, l := range b.lines {
		l.clearDiscount()
	}
}

// sameCurrency compares ISO codes case-insensitively.
func sameCurrency(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Currency is the currency of the first line, or empty for an empty basket.
func (b *Basket) Currency() string {
	if len(b.lines) == 0 {
		return ""
	}
	return b.lines[0].currency
}

// OfferLines implements offer.Basket.
func (b *Basket) OfferLines() []offer.Line {
	out := make([]offer.Line, 0, len(b.lines))
	for _, l := range b.lines {
		out = append(out, l)
	}
	return out
}

// OfferApplications implements offer.Basket.
func (b *Basket) OfferApplications() *offer.Applications { return b.applications }

// AppliedOffers returns the offers applied in the last pass keyed by id.
func (b *Basket) AppliedOffers() map[uuid.UUID]*offer.ConditionalOffer {
	return b.applications.Offers()
}

// AddVoucher attaches a voucher code once.
func (b *Basket) AddVoucher(code string) error {
	if !b.CanBeEdited() {
		return ErrNotEditable
	}
	code = offer.NormalizeCode(code)
	if !slices.Contains(b.VoucherCodes, code) {
		b.VoucherCodes = append(b.VoucherCodes, code)
		b.touch()
	}
	return nil
}

// RemoveVoucher detaches a voucher code.
func (b *Basket) RemoveVoucher(code string) {
	code = offer.NormalizeCode(code)
	b.VoucherCodes = slices.DeleteFunc(b.VoucherCodes, func(c string) bool { return c == code })
}

// total sums f over lines, skipping lines whose value is unknown.
func (b *Basket) total(f func(*Line) decimal.NullDecimal) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range b.lines {
		if v := f(l); v.Valid {
			sum = sum.Add(v.Decimal)
		}
	}
	return sum
}

// TotalExclTax is the line total before tax, after discounts.
func (b *Basket) TotalExclTax() decimal.Decimal {
	return b.total((*Line).LinePriceExclTaxInclDiscounts)
}

// TotalInclTax is the line total after tax and discounts. Lines with unknown
// tax are left out.
func (b *Basket) TotalInclTax() decimal.Decimal {
	return b.total((*Line).LinePriceInclTaxInclDiscounts)
}

// TotalExclTaxExclDiscounts is the line total before tax and discounts.
func (b *Basket) TotalExclTaxExclDiscounts() decimal.Decimal {
	return b.total((*Line).LinePriceExclTax)
}

// TotalInclTaxExclDiscounts is the line total after tax, before discounts.
func (b *Basket) TotalInclTaxExclDiscounts() decimal.Decimal {
	return b.total((*Line).LinePriceInclTax)
}

// TotalTax sums the known line taxes.
func (b *Basket) TotalTax() decimal.Decimal {
	return b.total((*Line).LineTax)
}

// TotalDiscount sums the offer discounts on lines.
func (b *Basket) TotalDiscount() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range b.lines {
		sum = sum.Add(l.discount)
	}
	return sum
}

// IsTaxKnown reports whether every line's tax is resolved.
func (b *Basket) IsTaxKnown() bool {
	for _, l := range b.lines {
		if !l.IsTaxKnown() {
			return false
		}
	}
	return true
}

// Summary computes the pricing summary with the given shipping charge.
func (b *Basket) Summary(shipping, shippingDiscount decimal.Decimal) pricing.Summary {
	lines := make([]pricing.Line, 0, len(b.lines))
	for _, l := range b.lines {
		excl := l.UnitPriceExclTax()
		if !excl.Valid {
			continue
		}
		lines = append(lines, pricing.Line{
			Quantity:  l.quantity,
			UnitPrice: excl.Decimal,
			UnitTax:   l.UnitTax(),
			Discount:  l.discount,
		})
	}
	return pricing.Compute(b.Currency(), lines, shipping, shippingDiscount)
}

// NumLines is the number of distinct lines.
func (b *Basket) NumLines() int { return len(b.lines) }

// NumItems is the number of units across lines.
func (b *Basket) NumItems() int {
	n := 0
	for _, l := range b.lines {
		n += l.quantity
	}
	return n
}

// NumItemsWithDiscount counts the units that received a price discount.
func (b *Basket) NumItemsWithDiscount() int {
	n := 0
	for _, l := range b.lines {
		n += l.DiscountedQuantity()
	}
	return n
}

// NumItemsWithoutDiscount counts the units sold at full price.
func (b *Basket) NumItemsWithoutDiscount() int {
	return b.NumItems() - b.NumItemsWithDiscount()
}

// IsEmpty reports whether the basket has no lines.
func (b *Basket) IsEmpty() bool { return len(b.lines) == 0 }

// IsShippingRequired reports whether any line needs shipping.
func (b *Basket) IsShippingRequired() bool {
	for _, l := range b.lines {
		if l.item.IsShippingRequired() {
			return true
		}
	}
	return false
}

// MaxAllowedQuantity is how many more items may be added. It reports false
// when the basket has no limit.
func (b *Basket) MaxAllowedQuantity() (int, bool) {
	if b.MaxQuantity <= 0 {
		return 0, false
	}
	return b.MaxQuantity - b.NumItems(), true
}

// IsQuantityAllowed checks whether quantity more items may be added and
// explains refusals.
func (b *Basket) IsQuantityAllowed(quantity int) (bool, string) {
	allowed, limited := b.MaxAllowedQuantity()
	if limited && quantity > allowed {
		return false, fmt.Sprintf("Due to technical limitations we are not able to ship more than %d items in one order.", b.MaxQuantity)
	}
	return true, ""
}

// Merge moves other's lines and vouchers into b. Lines present in both
// baskets are summed when addQuantities is set, otherwise the larger
// quantity wins. other ends up empty and marked merged.
func (b *Basket) Merge(other *Basket, addQuantities bool) error {
	if !b.CanBeEdited() {
		return ErrNotEditable
	}
	for _, incoming := range other.lines {
		existing, ok := b.Line(incoming.reference)
		switch {
		case !ok:
			b.lines = append(b.lines, incoming)
		case addQuantities:
			existing.quantity += incoming.quantity
		default:
			existing.quantity = max(existing.quantity, incoming.quantity)
		}
	}
	for _, code := range other.VoucherCodes {
		if !slices.Contains(b.VoucherCodes, code) {
			b.VoucherCodes = append(b.VoucherCodes, code)
		}
	}
	other.lines = nil
	other.VoucherCodes = nil
	other.Status = StatusMerged
	other.applications.Clear()
	b.ResetOfferApplications()
	b.touch()
	return nil
}

// Flush removes every line and voucher.
func (b *Basket) Flush() error {
	if !b.CanBeEdited() {
		return ErrNotEditable
	}
	b.lines = nil
	b.VoucherCodes = nil
	b.applications.Clear()
	b.touch()
	return nil
}

// Freeze stops further edits while payment is in progress.
func (b *Basket) Freeze() {
	b.Status = StatusFrozen
	b.touch()
}

// Thaw reopens a frozen basket.
func (b *Basket) Thaw() {
	b.Status = StatusOpen
	b.touch()
}

// CanBeSubmitted reports whether the basket may still be ordered.
func (b *Basket) CanBeSubmitted() bool {
	return b.CanBeEdited() || b.Status == StatusFrozen
}

// Submit marks the basket as ordered.
func (b *Basket) Submit() error {
	if !b.CanBeSubmitted() {
		return fmt.Errorf("status %s: %w", b.Status, ErrNotEditable)
	}
	now := b.now()
	b.Status = StatusSubmitted
	b.SubmittedAt = &now
	b.UpdatedAt = now
	return nil
}

// Warnings lists the line warnings that are not empty.
func (b *Basket) Warnings() []string {
	var out []string
	for _, l := range b.lines {
		if w := l.Warning(); w != "" {
			out = append(out, w)
		}
	}
	return out
}
