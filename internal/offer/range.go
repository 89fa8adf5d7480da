package offer

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/common"
)

// ErrInvalidRange is returned when a range fails validation.
var ErrInvalidRange = errors.New("offer: invalid range")

// Range is a named set of items that scopes conditions and benefits.
// Exclusions always take precedence over every kind of inclusion.
type Range struct {
	ID          uuid.UUID           `json:"id"`
	Name        string              `json:"name" validate:"required,max=128"`
	Slug        string              `json:"slug"`
	Description string              `json:"description,omitempty"`
	IsPublic    bool                `json:"is_public"`
	IncludesAll bool                `json:"includes_all"`
	Included    []uuid.UUID         `json:"included_items,omitempty"`
	Excluded    []uuid.UUID         `json:"excluded_items,omitempty"`
	Classes     []uuid.UUID         `json:"classes,omitempty"`
	Categories  []*catalog.Category `json:"categories,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Validate checks the range configuration.
func (r *Range) Validate() error {
	if r == nil {
		return ErrInvalidRange
	}
	r.Name = strings.TrimSpace(r.Name)
	if err := common.ValidateStruct(r, ErrInvalidRange); err != nil {
		return err
	}
	if r.Slug == "" {
		r.Slug = catalog.Slugify(r.Name)
	}
	return nil
}

// Clone returns a copy whose membership lists can be changed independently.
func (r *Range) Clone() *Range {
	cp := *r
	cp.Included = slices.Clone(r.Included)
	cp.Excluded = slices.Clone(r.Excluded)
	cp.Classes = slices.Clone(r.Classes)
	cp.Categories = slices.Clone(r.Categories)
	return &cp
}

// ContainsItem reports whether item belongs to the range. A child belongs
// when it or its parent matches. Excluding the child always wins; excluding
// the parent only blocks what the child would inherit, so an explicitly
// included child stays in.
func (r *Range) ContainsItem(item *catalog.Item) bool {
	if r == nil || item == nil {
		return false
	}
	if r.isExcluded(item.ID) {
		return false
	}
	parent := item.Parent
	if item.IsChild() && parent != nil {
		if slices.Contains(r.Included, item.ID) {
			return true
		}
		if r.isExcluded(parent.ID) {
			return false
		}
	}
	if r.IncludesAll || r.narrowMatch(item) {
		return true
	}
	return item.IsChild() && parent != nil && r.narrowMatch(parent)
}

func (r *Range) narrowMatch(item *catalog.Item) bool {
	if slices.Contains(r.Included, item.ID) {
		return true
	}
	if class := item.ItemClass(); class != nil && slices.Contains(r.Classes, class.ID) {
		return true
	}
	for _, rc := range r.Categories {
		for _, ic := range item.Categories {
			if ic.IsDescendantOrSelf(rc) {
				return true
			}
		}
	}
	return false
}

func (r *Range) isExcluded(id uuid.UUID) bool {
	return slices.Contains(r.Excluded, id)
}

// AddItem includes item explicitly and lifts any exclusion. A nil position
// appends; otherwise the item is placed at that display position.
func (r *Range) AddItem(item *catalog.Item, position *int) {
	r.Excluded = slices.DeleteFunc(r.Excluded, func(id uuid.UUID) bool { return id == item.ID })
	if slices.Contains(r.Included, item.ID) {
		if position == nil {
			return
		}
		r.Included = slices.DeleteFunc(r.Included, func(id uuid.UUID) bool { return id == item.ID })
	}
	if position == nil || *position >= len(r.Included) {
		r.Included = append(r.Included, item.ID)
		return
	}
	at := max(*position, 0)
	r.Included = slices.Insert(r.Included, at, item.ID)
}

// RemoveItem drops an explicit inclusion and excludes the item.
func (r *Range) RemoveItem(item *catalog.Item) {
	r.Included = slices.DeleteFunc(r.Included, func(id uuid.UUID) bool { return id == item.ID })
	if !r.isExcluded(item.ID) {
		r.Excluded = append(r.Excluded, item.ID)
	}
}

// AddClass includes every item of class.
func (r *Range) AddClass(class *catalog.ItemClass) {
	if class != nil && !slices.Contains(r.Classes, class.ID) {
		r.Classes = append(r.Classes, class.ID)
	}
}

// AddCategory includes every item in the category subtree.
func (r *Range) AddCategory(category *catalog.Category) {
	if category == nil {
		return
	}
	for _, c := range r.Categories {
		if c.ID == category.ID {
			return
		}
	}
	r.Categories = append(r.Categories, category)
}

// IsReorderable reports whether the range is made only of explicit
// inclusions, whose display order can be changed.
func (r *Range) IsReorderable() bool {
	return !r.IncludesAll && len(r.Categories) == 0 && len(r.Classes) == 0
}

// AllItems filters catalogue items down to the members of the range. Explicit
// inclusions come first in display order, then the rest in catalogue order.
// Children of listed parents are considered as well.
func (r *Range) AllItems(items []*catalog.Item) []*catalog.Item {
	var candidates []*catalog.Item
	for _, item := range items {
		candidates = append(candidates, item)
		candidates = append(candidates, item.Children...)
	}
	byID := make(map[uuid.UUID]*catalog.Item, len(candidates))
	for _, item := range candidates {
		byID[item.ID] = item
	}

	out := make([]*catalog.Item, 0, len(r.Included))
	seen := make(map[uuid.UUID]struct{}, len(r.Included))
	for _, id := range r.Included {
		if item, ok := byID[id]; ok && r.ContainsItem(item) {
			out = append(out, item)
			seen[id] = struct{}{}
		}
	}
	for _, item := range candidates {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		if r.ContainsItem(item) {
			out = append(out, item)
			seen[item.ID] = struct{}{}
		}
	}
	return out
}

// NumItems counts the members of the range among items. It reports false for
// ranges that include everything, whose size is not meaningful.
func (r *Range) NumItems(items []*catalog.Item) (int, bool) {
	if r.IncludesAll {
		return 0, false
	}
	return len(r.AllItems(items)), true
}

// RangesContaining returns the ranges that contain item, preserving order.
func RangesContaining(item *catalog.Item, ranges []*Range) []*Range {
	var out []*Range
	for _, r := range ranges {
		if r.ContainsItem(item) {
			out = append(out, r)
		}
	}
	return out
}
