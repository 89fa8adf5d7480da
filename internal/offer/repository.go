package offer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a range, offer or voucher does not exist.
var ErrNotFound = errors.New("offer: not found")

// Repository persists ranges, offers and vouchers.
type Repository interface {
	Ranges(ctx context.Context) ([]*Range, error)
	Range(ctx context.Context, id uuid.UUID) (*Range, error)
	SaveRange(ctx context.Context, r *Range) error

	// Offers lists every offer, ordered by priority then id.
	Offers(ctx context.Context) ([]*ConditionalOffer, error)
	Offer(ctx context.Context, id uuid.UUID) (*ConditionalOffer, error)
	SaveOffer(ctx context.Context, o *ConditionalOffer) error
	// RecordApplications adds freq to the global application count of each offer.
	RecordApplications(ctx context.Context, freq map[uuid.UUID]int) error

	VoucherByCode(ctx context.Context, code string) (*Voucher, error)
	SaveVoucher(ctx context.Context, v *Voucher) error
	CountVoucherUsage(ctx context.Context, voucherID uuid.UUID, userID string) (int, error)
	RecordVoucherUsage(ctx context.Context, voucherID uuid.UUID, basketID uuid.UUID, userID string) error
}

type voucherUse struct {
	voucherID uuid.UUID
	basketID  uuid.UUID
	userID    string
}

// MemoryRepository is an in-process Repository for fixture mode and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	ranges   map[uuid.UUID]*Range
	offers   map[uuid.UUID]*ConditionalOffer
	vouchers map[string]*Voucher
	uses     []voucherUse
	now      func() time.Time
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		ranges:   make(map[uuid.UUID]*Range),
		offers:   make(map[uuid.UUID]*ConditionalOffer),
		vouchers: make(map[string]*Voucher),
		now:      time.Now,
	}
}

// Ranges implements Repository.
func (m *MemoryRepository) Ranges(context.Context) ([]*Range, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Range, 0, len(m.ranges))
	for _, r := range m.ranges {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Range implements Repository.
func (m *MemoryRepository) Range(_ context.Context, id uuid.UUID) (*Range, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.ranges[id]
	if !ok {
		return nil, fmt.Errorf("range %s: %w", id, ErrNotFound)
	}
	return r.Clone(), nil
}

// SaveRange implements Repository.
func (m *MemoryRepository) SaveRange(_ context.Context, r *Range) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	m.ranges[r.ID] = r.Clone()
	return nil
}

// Offers implements Repository.
func (m *MemoryRepository) Offers(context.Context) ([]*ConditionalOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ConditionalOffer, 0, len(m.offers))
	for _, o := range m.offers {
		out = append(out, o.Clone())
	}
	SortOffers(out)
	return out, nil
}

// Offer implements Repository.
func (m *MemoryRepository) Offer(_ context.Context, id uuid.UUID) (*ConditionalOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", id, ErrNotFound)
	}
	return o.Clone(), nil
}

// SaveOffer implements Repository.
func (m *MemoryRepository) SaveOffer(_ context.Context, o *ConditionalOffer) error {
	if err := o.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.now()
	}
	m.offers[o.ID] = o.Clone()
	return nil
}

// RecordApplications implements Repository.
func (m *MemoryRepository) RecordApplications(_ context.Context, freq map[uuid.UUID]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range freq {
		o, ok := m.offers[id]
		if !ok {
			continue
		}
		o.NumApplications += n
		if o.MaxGlobalApplications > 0 && o.NumApplications >= o.MaxGlobalApplications {
			o.Status = StatusConsumed
		}
	}
	return nil
}

// VoucherByCode implements Repository.
func (m *MemoryRepository) VoucherByCode(_ context.Context, code string) (*Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vouchers[NormalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("voucher %q: %w", code, ErrNotFound)
	}
	cp := *v
	return &cp, nil
}

// SaveVoucher implements Repository.
func (m *MemoryRepository) SaveVoucher(_ context.Context, v *Voucher) error {
	v.Code = NormalizeCode(v.Code)
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = m.now()
	}
	cp := *v
	m.vouchers[v.Code] = &cp
	return nil
}

// CountVoucherUsage implements Repository.
func (m *MemoryRepository) CountVoucherUsage(_ context.Context, voucherID uuid.UUID, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, use := range m.uses {
		if use.voucherID == voucherID && use.userID == userID {
			n++
		}
	}
	return n, nil
}

// RecordVoucherUsage implements Repository. Repeated calls for the same
// basket are ignored.
func (m *MemoryRepository) RecordVoucherUsage(_ context.Context, voucherID, basketID uuid.UUID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, use := range m.uses {
		if use.voucherID == voucherID && use.basketID == basketID {
			return nil
		}
	}
	m.uses = append(m.uses, voucherUse{voucherID: voucherID, basketID: basketID, userID: userID})
	for _, v := range m.vouchers {
		if v.ID == voucherID {
			v.NumOrders++
		}
	}
	return nil
}

// SortOffers orders offers by priority, highest first, then by id.
func SortOffers(offers []*ConditionalOffer) {
	sort.SliceStable(offers, func(i, j int) bool {
		if offers[i].Priority != offers[j].Priority {
			return offers[i].Priority > offers[j].Priority
		}
		return offers[i].ID.String() < offers[j].ID.String()
	})
}
