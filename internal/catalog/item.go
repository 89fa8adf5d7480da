package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Structure describes where an item sits in a parent/child family.
type Structure string

const (
	StructureStandalone Structure = "standalone"
	StructureParent     Structure = "parent"
	StructureChild      Structure = "child"
)

var (
	// ErrNotFound is returned when a catalogue record does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrInvalidItem is returned when an item violates its structural rules.
	ErrInvalidItem = errors.New("catalog: invalid item")
)

// ItemClass groups items that share shipping and stock-tracking behaviour.
type ItemClass struct {
	ID               uuid.UUID `json:"id" yaml:"-"`
	Name             string    `json:"name" yaml:"name"`
	Slug             string    `json:"slug" yaml:"slug"`
	RequiresShipping bool      `json:"requires_shipping" yaml:"requires_shipping"`
	TrackStock       bool      `json:"track_stock" yaml:"track_stock"`
}

// Item is a sellable catalogue entry. Parents are abstract groupings; their
// children are the concrete variants that carry stock.
type Item struct {
	ID           uuid.UUID         `json:"id"`
	Structure    Structure         `json:"structure"`
	UPC          string            `json:"upc,omitempty"`
	Title        string            `json:"title"`
	Slug         string            `json:"slug"`
	Class        *ItemClass        `json:"class,omitempty"`
	Parent       *Item             `json:"-"`
	Children     []*Item           `json:"children,omitempty"`
	Categories   []*Category       `json:"categories,omitempty"`
	Discountable *bool             `json:"discountable,omitempty"`
	IsPublic     bool              `json:"is_public"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	StockRecords []*StockRecord    `json:"stock_records,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// IsStandalone reports whether the item has no family.
func (i *Item) IsStandalone() bool { return i.Structure == StructureStandalone || i.Structure == "" }

// IsParent reports whether the item groups child variants.
func (i *Item) IsParent() bool { return i.Structure == StructureParent }

// IsChild reports whether the item is a variant of a parent.
func (i *Item) IsChild() bool { return i.Structure == StructureChild }

// ItemClass resolves the class, falling back to the parent's for children.
func (i *Item) ItemClass() *ItemClass {
	if i == nil {
		return nil
	}
	if i.Class != nil {
		return i.Class
	}
	if i.IsChild() && i.Parent != nil {
		return i.Parent.ItemClass()
	}
	return nil
}

// IsDiscountable resolves discountability. Items are discountable unless an
// explicit override on the item (or, for children, the parent) says otherwise.
func (i *Item) IsDiscountable() bool {
	if i.Discountable != nil {
		return *i.Discountable
	}
	if i.IsChild() && i.Parent != nil {
		return i.Parent.IsDiscountable()
	}
	return true
}

// IsShippingRequired reports whether the item's class needs shipping.
func (i *Item) IsShippingRequired() bool {
	class := i.ItemClass()
	return class != nil && class.RequiresShipping
}

// TracksStock reports whether availability depends on stock levels.
func (i *Item) TracksStock() bool {
	class := i.ItemClass()
	return class != nil && class.TrackStock
}

// PublicChildren returns the children visible to shoppers, in catalogue order.
func (i *Item) PublicChildren() []*Item {
	out := make([]*Item, 0, len(i.Children))
	for _, child := range i.Children {
		if child != nil && child.IsPublic {
			out = append(out, child)
		}
	}
	return out
}

// Attribute returns the attribute value for code, checking the parent for
// children that do not set it.
func (i *Item) Attribute(code string) (string, bool) {
	if v, ok := i.Attributes[code]; ok {
		return v, true
	}
	if i.IsChild() && i.Parent != nil {
		return i.Parent.Attribute(code)
	}
	return "", false
}

// DisplayTitle returns the title, falling back to the parent's for untitled
// children.
func (i *Item) DisplayTitle() string {
	if strings.TrimSpace(i.Title) != "" {
		return i.Title
	}
	if i.Parent != nil {
		return i.Parent.Title
	}
	return i.UPC
}

// Validate checks the structural rules of the item.
func (i *Item) Validate() error {
	switch i.Structure {
	case StructureStandalone, "":
		if strings.TrimSpace(i.Title) == "" {
			return fmt.Errorf("standalone item requires a title: %w", ErrInvalidItem)
		}
	case StructureParent:
		if strings.TrimSpace(i.Title) == "" {
			return fmt.Errorf("parent item requires a title: %w", ErrInvalidItem)
		}
		if len(i.StockRecords) > 0 {
			return fmt.Errorf("parent item cannot carry stock records: %w", ErrInvalidItem)
		}
	case StructureChild:
		if i.Parent == nil || !i.Parent.IsParent() {
			return fmt.Errorf("child item requires a parent item: %w", ErrInvalidItem)
		}
	default:
		return fmt.Errorf("unknown structure %q: %w", i.Structure, ErrInvalidItem)
	}
	return nil
}
