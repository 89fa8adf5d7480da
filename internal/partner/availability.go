package partner

import (
	"encoding/json"
	"fmt"
)

type availabilityKind uint8

const (
	kindUnavailable availabilityKind = iota
	kindAvailable
	kindStockRequired
)

// Availability codes.
const (
	CodeUnavailable = "unavailable"
	CodeAvailable   = "available"
	CodeInStock     = "instock"
	CodeOutOfStock  = "outofstock"
)

// Availability describes whether an item can be bought. The zero value is
// Unavailable.
type Availability struct {
	kind         availabilityKind
	numAvailable int
}

// Unavailable returns an availability that never permits purchase.
func Unavailable() Availability { return Availability{kind: kindUnavailable} }

// Available returns an availability that always permits purchase.
func Available() Availability { return Availability{kind: kindAvailable} }

// StockRequired returns an availability bounded by the net stock level. The
// level is kept as given, including negative values.
func StockRequired(numAvailable int) Availability {
	return Availability{kind: kindStockRequired, numAvailable: numAvailable}
}

// Code returns the machine-readable availability code.
func (a Availability) Code() string {
	switch a.kind {
	case kindAvailable:
		return CodeAvailable
	case kindStockRequired:
		if a.numAvailable > 0 {
			return CodeInStock
		}
		return CodeOutOfStock
	default:
		return CodeUnavailable
	}
}

// Message returns the human-readable availability description.
func (a Availability) Message() string {
	switch a.kind {
	case kindAvailable:
		return "Available"
	case kindStockRequired:
		if a.numAvailable > 0 {
			return fmt.Sprintf("In stock (%d available)", a.numAvailable)
		}
		return "Unavailable"
	default:
		return "Unavailable"
	}
}

// ShortMessage is a compact form of Message suitable for listings.
func (a Availability) ShortMessage() string {
	if a.kind == kindStockRequired && a.numAvailable > 0 {
		return "In stock"
	}
	return a.Message()
}

// IsAvailableToBuy reports whether any quantity may be bought.
func (a Availability) IsAvailableToBuy() bool {
	switch a.kind {
	case kindAvailable:
		return true
	case kindStockRequired:
		return a.numAvailable > 0
	default:
		return false
	}
}

// NumAvailable returns the stock level for stock-bound availabilities.
func (a Availability) NumAvailable() (int, bool) {
	if a.kind != kindStockRequired {
		return 0, false
	}
	return a.numAvailable, true
}

// IsPurchasePermitted checks a specific quantity and explains refusals.
func (a Availability) IsPurchasePermitted(quantity int) (bool, string) {
	switch a.kind {
	case kindAvailable:
		return true, ""
	case kindStockRequired:
		if a.numAvailable <= 0 {
			return false, "no stock available"
		}
		if quantity > a.numAvailable {
			return false, fmt.Sprintf("a maximum of %d can be bought", a.numAvailable)
		}
		return true, ""
	default:
		return false, "unavailable"
	}
}

// MarshalJSON renders the availability for API responses.
func (a Availability) MarshalJSON() ([]byte, error) {
	body := struct {
		Code             string `json:"code"`
		Message          string `json:"message"`
		IsAvailableToBuy bool   `json:"is_available_to_buy"`
		NumAvailable     *int   `json:"num_available,omitempty"`
	}{
		Code:             a.Code(),
		Message:          a.Message(),
		IsAvailableToBuy: a.IsAvailableToBuy(),
	}
	if n, ok := a.NumAvailable(); ok {
		body.NumAvailable = &n
	}
	return json.Marshal(body)
}
