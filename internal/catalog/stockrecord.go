package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientStock is returned when an allocation exceeds the net stock level.
	ErrInsufficientStock = errors.New("catalog: insufficient stock")
	// ErrInvalidStockAdjustment is returned for consumption requests the
	// allocation cannot cover.
	ErrInvalidStockAdjustment = errors.New("catalog: invalid stock adjustment")
)

// StockRecord is a supplier-specific price and quantity for one item.
type StockRecord struct {
	ID                uuid.UUID           `json:"id"`
	ItemID            uuid.UUID           `json:"item_id"`
	PartnerID         uuid.UUID           `json:"partner_id"`
	PartnerName       string              `json:"partner_name,omitempty"`
	PartnerSKU        string              `json:"partner_sku"`
	Currency          string              `json:"currency"`
	Price             decimal.NullDecimal `json:"price"`
	NumInStock        *int                `json:"num_in_stock,omitempty"`
	NumAllocated      int                 `json:"num_allocated"`
	LowStockThreshold *int                `json:"low_stock_threshold,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// NetStockLevel is the quantity that can still be allocated. It may be
// negative when allocations overshoot; records without a stock count report 0.
func (s *StockRecord) NetStockLevel() int {
	if s == nil || s.NumInStock == nil {
		return 0
	}
	return *s.NumInStock - s.NumAllocated
}

// IsBelowThreshold reports whether the net stock level dropped under the
// record's low stock threshold.
func (s *StockRecord) IsBelowThreshold() bool {
	if s == nil || s.LowStockThreshold == nil {
		return false
	}
	return s.NetStockLevel() < *s.LowStockThreshold
}

// Allocate reserves quantity units. Records that count stock refuse to go
// below zero.
func (s *StockRecord) Allocate(quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("allocate %d: %w", quantity, ErrInvalidStockAdjustment)
	}
	if s.NumInStock != nil && s.NetStockLevel() < quantity {
		return fmt.Errorf("allocate %d of %d: %w", quantity, s.NetStockLevel(), ErrInsufficientStock)
	}
	s.NumAllocated += quantity
	return nil
}

// IsAllocationConsumptionPossible reports whether quantity allocated units can
// be converted into shipped stock.
func (s *StockRecord) IsAllocationConsumptionPossible(quantity int) bool {
	if s.NumInStock == nil {
		return quantity <= s.NumAllocated
	}
	return quantity <= min(s.NumAllocated, *s.NumInStock)
}

// ConsumeAllocation removes quantity from both the allocation and the stock count.
func (s *StockRecord) ConsumeAllocation(quantity int) error {
	if quantity <= 0 || !s.IsAllocationConsumptionPossible(quantity) {
		return fmt.Errorf("consume %d: %w", quantity, ErrInvalidStockAdjustment)
	}
	s.NumAllocated -= quantity
	if s.NumInStock != nil {
		remaining := *s.NumInStock - quantity
		s.NumInStock = &remaining
	}
	return nil
}

// CancelAllocation releases up to quantity allocated units.
func (s *StockRecord) CancelAllocation(quantity int) {
	if quantity <= 0 {
		return
	}
	s.NumAllocated -= min(s.NumAllocated, quantity)
}

// Clone returns a deep copy of the record.
func (s *StockRecord) Clone() *StockRecord {
	if s == nil {
		return nil
	}
	cp := *s
	if s.NumInStock != nil {
		n := *s.NumInStock
		cp.NumInStock = &n
	}
	if s.LowStockThreshold != nil {
		n := *s.LowStockThreshold
		cp.LowStockThreshold = &n
	}
	return &cp
}
