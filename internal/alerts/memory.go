package alerts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps alerts in process memory.
type MemoryStore struct {
	mu            sync.Mutex
	alerts        []*StockAlert
	subscriptions map[uuid.UUID]*Subscription
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subscriptions: make(map[uuid.UUID]*Subscription)}
}

func (m *MemoryStore) RaiseAlert(_ context.Context, a *StockAlert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.alerts {
		if existing.StockRecordID == a.StockRecordID && existing.Status == StatusOpen {
			return false, nil
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	m.alerts = append(m.alerts, &cp)
	return true, nil
}

func (m *MemoryStore) CloseAlerts(_ context.Context, stockRecordID uuid.UUID, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	closed := 0
	for _, a := range m.alerts {
		if a.StockRecordID == stockRecordID && a.Status == StatusOpen {
			a.Status = StatusClosed
			t := at
			a.ClosedAt = &t
			closed++
		}
	}
	return closed, nil
}

func (m *MemoryStore) ListAlerts(_ context.Context, status Status) ([]StockAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StockAlert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if status == "" || a.Status == status {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertSubscription(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.subscriptions {
		if existing.ItemID == s.ItemID && existing.Status == StatusActive && strings.EqualFold(existing.Email, s.Email) {
			return ErrAlreadySubscribed
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	m.subscriptions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) Subscription(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ActiveSubscriptions(_ context.Context, itemID uuid.UUID) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Subscription
	for _, s := range m.subscriptions {
		if s.ItemID == itemID && s.Status == StatusActive {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SetSubscriptionStatus(_ context.Context, id uuid.UUID, status Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	if status != StatusActive {
		t := at
		s.ClosedAt = &t
	}
	return nil
}
