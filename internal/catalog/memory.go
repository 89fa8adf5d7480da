package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process catalogue and stock ledger backend. Reads return
// deep copies so callers never observe concurrent stock mutation.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[uuid.UUID]*Item
	records map[uuid.UUID]*StockRecord
	classes map[string]*ItemClass
	tree    *CategoryTree
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[uuid.UUID]*Item),
		records: make(map[uuid.UUID]*StockRecord),
		classes: make(map[string]*ItemClass),
		tree:    NewCategoryTree(),
		now:     time.Now,
	}
}

// Tree exposes the category tree backing the store.
func (s *MemoryStore) Tree() *CategoryTree { return s.tree }

// AddClass registers an item class keyed by slug.
func (s *MemoryStore) AddClass(c *ItemClass) *ItemClass {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = ClassID(c.Slug)
	}
	s.classes[c.Slug] = c
	return c
}

// ClassID derives the stable identifier of the class with slug.
func ClassID(slug string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("class:"+slug))
}

// Class returns the class registered under slug.
func (s *MemoryStore) Class(slug string) (*ItemClass, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[slug]
	return c, ok
}

// Classes returns every registered class ordered by slug.
func (s *MemoryStore) Classes() []*ItemClass {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ItemClass, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// AddItem stores item. Children must be added after their parent.
func (s *MemoryStore) AddItem(item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	if item.Slug == "" {
		item.Slug = Slugify(item.DisplayTitle())
	}
	if item.IsChild() {
		if item.Parent == nil {
			return fmt.Errorf("child item requires a parent item: %w", ErrInvalidItem)
		}
		parent, ok := s.items[item.Parent.ID]
		if !ok {
			return fmt.Errorf("parent %s: %w", item.Parent.ID, ErrNotFound)
		}
		item.Parent = parent
		parent.Children = append(parent.Children, item)
	}
	if err := item.Validate(); err != nil {
		return err
	}
	s.items[item.ID] = item
	return nil
}

// AddStockRecord attaches sr to its item.
func (s *MemoryStore) AddStockRecord(sr *StockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[sr.ItemID]
	if !ok {
		return fmt.Errorf("item %s: %w", sr.ItemID, ErrNotFound)
	}
	if item.IsParent() {
		return fmt.Errorf("parent item cannot carry stock records: %w", ErrInvalidItem)
	}
	if sr.ID == uuid.Nil {
		sr.ID = uuid.New()
	}
	now := s.now()
	if sr.CreatedAt.IsZero() {
		sr.CreatedAt = now
	}
	sr.UpdatedAt = now
	item.StockRecords = append(item.StockRecords, sr)
	s.records[sr.ID] = sr
	return nil
}

// Item returns a snapshot of the item and its family.
func (s *MemoryStore) Item(_ context.Context, id uuid.UUID) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return snapshot(item), nil
}

// ItemByCode resolves a UPC or partner SKU.
func (s *MemoryStore) ItemByCode(_ context.Context, code string) (*Item, error) {
	code = strings.TrimSpace(code)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if code == "" {
		return nil, fmt.Errorf("empty code: %w", ErrNotFound)
	}
	for _, item := range s.items {
		if item.UPC == code {
			return snapshot(item), nil
		}
	}
	for _, sr := range s.records {
		if sr.PartnerSKU == code {
			if item, ok := s.items[sr.ItemID]; ok {
				return snapshot(item), nil
			}
		}
	}
	return nil, fmt.Errorf("code %q: %w", code, ErrNotFound)
}

// Items lists standalone and parent items in creation order.
func (s *MemoryStore) Items(_ context.Context) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		if item.IsChild() {
			continue
		}
		out = append(out, snapshot(item))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Categories lists the category tree ordered by path.
func (s *MemoryStore) Categories(_ context.Context) ([]*Category, error) {
	return s.tree.All(), nil
}

// StockRecord returns a copy of the record.
func (s *MemoryStore) StockRecord(_ context.Context, id uuid.UUID) (*StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sr, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("stock record %s: %w", id, ErrNotFound)
	}
	return sr.Clone(), nil
}

// Allocate reserves quantity units on the record.
func (s *MemoryStore) Allocate(ctx context.Context, id uuid.UUID, quantity int) (*StockRecord, error) {
	return s.mutate(id, func(sr *StockRecord) error { return sr.Allocate(quantity) })
}

// ConsumeAllocation converts allocated units into shipped stock.
func (s *MemoryStore) ConsumeAllocation(ctx context.Context, id uuid.UUID, quantity int) (*StockRecord, error) {
	return s.mutate(id, func(sr *StockRecord) error { return sr.ConsumeAllocation(quantity) })
}

// CancelAllocation releases allocated units.
func (s *MemoryStore) CancelAllocation(ctx context.Context, id uuid.UUID, quantity int) (*StockRecord, error) {
	return s.mutate(id, func(sr *StockRecord) error {
		sr.CancelAllocation(quantity)
		return nil
	})
}

// SetNumInStock overwrites the physical stock count.
func (s *MemoryStore) SetNumInStock(ctx context.Context, id uuid.UUID, numInStock int) (*StockRecord, error) {
	return s.mutate(id, func(sr *StockRecord) error {
		if numInStock < 0 {
			return fmt.Errorf("stock count %d: %w", numInStock, ErrInvalidStockAdjustment)
		}
		n := numInStock
		sr.NumInStock = &n
		return nil
	})
}

func (s *MemoryStore) mutate(id uuid.UUID, fn func(*StockRecord) error) (*StockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("stock record %s: %w", id, ErrNotFound)
	}
	work := sr.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	work.UpdatedAt = s.now()
	*sr = *work
	return sr.Clone(), nil
}

// snapshot deep-copies the family containing item and returns the copy of item.
func snapshot(item *Item) *Item {
	root := item
	if item.IsChild() && item.Parent != nil {
		root = item.Parent
	}
	rootCopy := cloneItem(root)
	var found *Item
	for _, child := range root.Children {
		childCopy := cloneItem(child)
		childCopy.Parent = rootCopy
		rootCopy.Children = append(rootCopy.Children, childCopy)
		if child.ID == item.ID {
			found = childCopy
		}
	}
	if found != nil {
		return found
	}
	return rootCopy
}

func cloneItem(item *Item) *Item {
	cp := *item
	cp.Children = nil
	cp.Parent = nil
	if item.Discountable != nil {
		v := *item.Discountable
		cp.Discountable = &v
	}
	if item.Attributes != nil {
		cp.Attributes = make(map[string]string, len(item.Attributes))
		for k, v := range item.Attributes {
			cp.Attributes[k] = v
		}
	}
	cp.Categories = append([]*Category(nil), item.Categories...)
	cp.StockRecords = make([]*StockRecord, 0, len(item.StockRecords))
	for _, sr := range item.StockRecords {
		cp.StockRecords = append(cp.StockRecords, sr.Clone())
	}
	return &cp
}
