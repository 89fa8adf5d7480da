package basket

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-offers/internal/cache"
	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/offer"
	"github.com/noah-isme/toko-offers/internal/partner"
)

// ErrNotFound is returned when a basket does not exist or has expired.
var ErrNotFound = errors.New("basket: not found")

// Snapshot is the persisted form of a basket. Lines keep references to
// catalogue records, which are reloaded when the basket is restored.
type Snapshot struct {
	ID           uuid.UUID      `json:"id"`
	OwnerID      string         `json:"owner_id,omitempty"`
	Status       Status         `json:"status"`
	VoucherCodes []string       `json:"voucher_codes,omitempty"`
	MaxQuantity  int            `json:"max_quantity,omitempty"`
	Lines        []LineSnapshot `json:"lines"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	SubmittedAt  *time.Time     `json:"submitted_at,omitempty"`
}

// Snapshot captures the basket for storage.
func (b *Basket) Snapshot() Snapshot {
	s := Snapshot{
		ID:           b.ID,
		OwnerID:      b.OwnerID,
		Status:       b.Status,
		VoucherCodes: slices.Clone(b.VoucherCodes),
		MaxQuantity:  b.MaxQuantity,
		Lines:        make([]LineSnapshot, 0, len(b.lines)),
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
		SubmittedAt:  b.SubmittedAt,
	}
	for _, l := range b.lines {
		s.Lines = append(s.Lines, l.snapshot())
	}
	return s
}

// Restore rebuilds a basket from s, loading items through repo and refreshing
// purchase info through strategy. Lines whose item or stock record
// disappeared are dropped.
func Restore(ctx context.Context, s Snapshot, repo catalog.Repository, strategy *partner.Strategy) (*Basket, error) {
	b := New(s.OwnerID, strategy)
	b.ID = s.ID
	b.Status = s.Status
	b.VoucherCodes = s.VoucherCodes
	b.MaxQuantity = s.MaxQuantity
	b.CreatedAt = s.CreatedAt
	b.UpdatedAt = s.UpdatedAt
	b.SubmittedAt = s.SubmittedAt

	for _, ls := range s.Lines {
		item, err := repo.Item(ctx, ls.ItemID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("restore basket %s: %w", s.ID, err)
		}
		var sr *catalog.StockRecord
		if ls.StockRecordID != nil {
			for _, candidate := range item.StockRecords {
				if candidate.ID == *ls.StockRecordID {
					sr = candidate
					break
				}
			}
			if sr == nil {
				continue
			}
		}
		line := &Line{
			reference:   ls.Reference,
			item:        item,
			stockRecord: sr,
			quantity:    ls.Quantity,
			currency:    ls.Currency,
			priceExcl:   ls.PriceExclTax,
			priceIncl:   ls.PriceInclTax,
			options:     ls.Options,
			consumer:    offer.NewLineConsumer(),
			createdAt:   ls.CreatedAt,
		}
		line.refresh(b.strategy)
		b.lines = append(b.lines, line)
	}
	return b, nil
}

// Store persists basket snapshots.
type Store interface {
	Load(ctx context.Context, id uuid.UUID) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// RedisStore keeps snapshots as JSON documents that expire after the cache TTL.
type RedisStore struct {
	cache *cache.Cache
}

// NewRedisStore constructs a RedisStore on top of c.
func NewRedisStore(c *cache.Cache) *RedisStore {
	return &RedisStore{cache: c}
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	var snap Snapshot
	ok, err := s.cache.GetJSON(ctx, cache.KeyBasket(id.String()), &snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load basket %s: %w", id, err)
	}
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

// Save implements Store. Each save renews the TTL.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	if err := s.cache.SetJSON(ctx, cache.KeyBasket(snap.ID.String()), snap); err != nil {
		return fmt.Errorf("save basket %s: %w", snap.ID, err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.cache.Delete(ctx, cache.KeyBasket(id.String()))
}

// MemoryStore is an in-process Store for tests and fixture mode.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID]Snapshot
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[uuid.UUID]Snapshot)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, id uuid.UUID) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.ID] = s
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, id)
	return nil
}
