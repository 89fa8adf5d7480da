package partner

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/obs"
	"github.com/noah-isme/toko-offers/internal/pricing"
)

// DefaultUKRate is the standard UK VAT rate applied by UK().
var DefaultUKRate = decimal.RequireFromString("0.20")

// PurchaseInfo is the resolved price, availability and stock record for an item.
type PurchaseInfo struct {
	Price        pricing.Price        `json:"price"`
	Availability Availability         `json:"availability"`
	StockRecord  *catalog.StockRecord `json:"stock_record,omitempty"`
}

// Line is the view of a basket line needed to refetch purchase info.
type Line interface {
	Item() *catalog.Item
	StockRecord() *catalog.StockRecord
}

// LinePolicy overrides how purchase info is resolved for basket lines.
type LinePolicy func(s *Strategy, line Line, sr *catalog.StockRecord) PurchaseInfo

// Strategy composes a stock selector with pricing and availability policies.
type Strategy struct {
	name         string
	stock        StockSelector
	pricing      PricingPolicy
	availability AvailabilityPolicy
	linePolicy   LinePolicy
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithLinePolicy installs a custom basket line policy.
func WithLinePolicy(p LinePolicy) Option {
	return func(s *Strategy) { s.linePolicy = p }
}

// WithName labels the strategy in metrics and API responses.
func WithName(name string) Option {
	return func(s *Strategy) { s.name = name }
}

// New builds a Strategy from its policies.
func New(stock StockSelector, pricingPolicy PricingPolicy, availability AvailabilityPolicy, opts ...Option) *Strategy {
	s := &Strategy{
		name:         "custom",
		stock:        stock,
		pricing:      pricingPolicy,
		availability: availability,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Default selects the first stock record, requires stock and charges no tax.
func Default() *Strategy {
	return New(FirstStockRecord{}, NoTax{}, StockRequiredPolicy{}, WithName("default"))
}

// UK applies a fixed tax rate. Zero is a valid rate; pass DefaultUKRate for
// standard VAT.
func UK(rate decimal.Decimal) *Strategy {
	return New(FirstStockRecord{}, FixedRateTax{Rate: rate}, StockRequiredPolicy{}, WithName("uk"))
}

// US defers tax calculation until a shipping address is known.
func US() *Strategy {
	return New(FirstStockRecord{}, DeferredTax{}, StockRequiredPolicy{}, WithName("us"))
}

// Name returns the strategy label.
func (s *Strategy) Name() string { return s.name }

// SelectStockRecord exposes the configured stock selector.
func (s *Strategy) SelectStockRecord(item *catalog.Item) *catalog.StockRecord {
	return s.stock.SelectStockRecord(item)
}

// FetchForItem resolves purchase info for a standalone or child item. When sr
// is nil the selector picks one.
func (s *Strategy) FetchForItem(item *catalog.Item, sr *catalog.StockRecord) PurchaseInfo {
	if sr == nil {
		sr = s.stock.SelectStockRecord(item)
	}
	info := PurchaseInfo{
		Price:        s.pricing.PriceFor(item, sr),
		Availability: s.availability.AvailabilityFor(item, sr),
		StockRecord:  sr,
	}
	s.observe(info)
	return info
}

// FetchForParent resolves purchase info for a parent from its public children.
// Parents never carry a stock record.
func (s *Strategy) FetchForParent(item *catalog.Item) PurchaseInfo {
	children := SelectChildrenStockRecords(s.stock, item)
	info := PurchaseInfo{
		Price:        s.pricing.ParentPriceFor(item, children),
		Availability: s.availability.ParentAvailabilityFor(item, children),
	}
	s.observe(info)
	return info
}

// FetchForLine resolves purchase info for a basket line.
func (s *Strategy) FetchForLine(line Line, sr *catalog.StockRecord) PurchaseInfo {
	if s.linePolicy != nil {
		return s.linePolicy(s, line, sr)
	}
	if sr == nil {
		sr = line.StockRecord()
	}
	return s.FetchForItem(line.Item(), sr)
}

// ForItem dispatches to FetchForParent or FetchForItem by item structure.
func (s *Strategy) ForItem(item *catalog.Item) PurchaseInfo {
	if item.IsParent() {
		return s.FetchForParent(item)
	}
	return s.FetchForItem(item, nil)
}

func (s *Strategy) observe(info PurchaseInfo) {
	if obs.PurchaseInfoTotal != nil {
		obs.PurchaseInfoTotal.WithLabelValues(s.name, info.Availability.Code()).Inc()
	}
}
