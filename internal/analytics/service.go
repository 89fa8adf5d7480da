package analytics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-offers/internal/cache"
	"github.com/noah-isme/toko-offers/internal/events"
)

// Counter weights used by Score.
const (
	ViewWeight     = 1
	AdditionWeight = 3
	PurchaseWeight = 5
)

const totalWeight = float64(ViewWeight + AdditionWeight + PurchaseWeight)

const (
	fieldViews           = "views"
	fieldBasketAdditions = "basket_additions"
	fieldPurchases       = "purchases"

	fieldItemViews  = "item_views"
	fieldOrders     = "orders"
	fieldOrderLines = "order_lines"
	fieldOrderItems = "order_items"
	fieldSpent      = "spent"
	fieldLastOrder  = "last_order_at"
)

// ErrNotConfigured is returned when the service has no Redis client.
var ErrNotConfigured = errors.New("analytics service not configured")

// ItemRecord holds the interest counters of an item.
type ItemRecord struct {
	ItemID          uuid.UUID `json:"item_id"`
	Views           int64     `json:"views"`
	BasketAdditions int64     `json:"basket_additions"`
	Purchases       int64     `json:"purchases"`
	Score           float64   `json:"score"`
}

// UserRecord holds the activity counters of a user.
type UserRecord struct {
	UserID          string          `json:"user_id"`
	ItemViews       int64           `json:"item_views"`
	BasketAdditions int64           `json:"basket_additions"`
	Orders          int64           `json:"orders"`
	OrderLines      int64           `json:"order_lines"`
	OrderItems      int64           `json:"order_items"`
	Spent           decimal.Decimal `json:"spent"`
	LastOrderAt     *time.Time      `json:"last_order_at,omitempty"`
}

// Score weighs the counters of an item into a single interest value.
func Score(r ItemRecord) float64 {
	return (ViewWeight*float64(r.Views) +
		AdditionWeight*float64(r.BasketAdditions) +
		PurchaseWeight*float64(r.Purchases)) / totalWeight
}

// Service maintains analytics counters in Redis hashes. Every increment is an
// atomic HINCRBY so concurrent events never lose updates.
type Service struct {
	R      redis.UniversalClient
	Logger zerolog.Logger
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// RecordView counts an item view, and the user's view when signed in.
func (s *Service) RecordView(ctx context.Context, itemID uuid.UUID, userID string) error {
	if s == nil || s.R == nil {
		return ErrNotConfigured
	}
	_, err := s.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		bumpItem(ctx, p, itemID, fieldViews, 1, ViewWeight)
		if userID != "" {
			p.HIncrBy(ctx, cache.KeyUserStats(userID), fieldItemViews, 1)
		}
		return nil
	})
	return err
}

// RecordBasketAddition counts an item being added to a basket.
func (s *Service) RecordBasketAddition(ctx context.Context, itemID uuid.UUID, userID string) error {
	if s == nil || s.R == nil {
		return ErrNotConfigured
	}
	_, err := s.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		bumpItem(ctx, p, itemID, fieldBasketAdditions, 1, AdditionWeight)
		if userID != "" {
			p.HIncrBy(ctx, cache.KeyUserStats(userID), fieldBasketAdditions, 1)
		}
		return nil
	})
	return err
}

// RecordOrder counts the purchased quantities of every line and, for signed
// in users, the order totals.
func (s *Service) RecordOrder(ctx context.Context, order events.OrderPlaced) error {
	if s == nil || s.R == nil {
		return ErrNotConfigured
	}
	spent := decimal.Zero
	if order.Total != "" {
		parsed, err := decimal.NewFromString(order.Total)
		if err != nil {
			return fmt.Errorf("analytics: order total: %w", err)
		}
		spent = parsed
	}
	items := 0
	_, err := s.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, line := range order.Lines {
			if line.Quantity <= 0 {
				continue
			}
			items += line.Quantity
			bumpItem(ctx, p, line.ItemID, fieldPurchases, int64(line.Quantity), PurchaseWeight)
		}
		if order.UserID == "" {
			return nil
		}
		key := cache.KeyUserStats(order.UserID)
		p.HIncrBy(ctx, key, fieldOrders, 1)
		p.HIncrBy(ctx, key, fieldOrderLines, int64(len(order.Lines)))
		p.HIncrBy(ctx, key, fieldOrderItems, int64(items))
		p.HIncrByFloat(ctx, key, fieldSpent, spent.InexactFloat64())
		p.HSet(ctx, key, fieldLastOrder, s.now().Format(time.RFC3339))
		return nil
	})
	return err
}

func bumpItem(ctx context.Context, p redis.Pipeliner, itemID uuid.UUID, field string, by int64, weight int) {
	id := itemID.String()
	p.HIncrBy(ctx, cache.KeyItemStats(id), field, by)
	p.ZIncrBy(ctx, cache.KeyTopItems, float64(weight)*float64(by)/totalWeight, id)
}

// ItemStats returns the counters of an item. Unknown items have zero counters.
func (s *Service) ItemStats(ctx context.Context, itemID uuid.UUID) (ItemRecord, error) {
	if s == nil || s.R == nil {
		return ItemRecord{}, ErrNotConfigured
	}
	fields, err := s.R.HGetAll(ctx, cache.KeyItemStats(itemID.String())).Result()
	if err != nil {
		return ItemRecord{}, err
	}
	rec := ItemRecord{
		ItemID:          itemID,
		Views:           parseCount(fields[fieldViews]),
		BasketAdditions: parseCount(fields[fieldBasketAdditions]),
		Purchases:       parseCount(fields[fieldPurchases]),
	}
	rec.Score = Score(rec)
	return rec, nil
}

// UserStats returns the counters of a user.
func (s *Service) UserStats(ctx context.Context, userID string) (UserRecord, error) {
	if s == nil || s.R == nil {
		return UserRecord{}, ErrNotConfigured
	}
	fields, err := s.R.HGetAll(ctx, cache.KeyUserStats(userID)).Result()
	if err != nil {
		return UserRecord{}, err
	}
	rec := UserRecord{
		UserID:          userID,
		ItemViews:       parseCount(fields[fieldItemViews]),
		BasketAdditions: parseCount(fields[fieldBasketAdditions]),
		Orders:          parseCount(fields[fieldOrders]),
		OrderLines:      parseCount(fields[fieldOrderLines]),
		OrderItems:      parseCount(fields[fieldOrderItems]),
		Spent:           decimal.Zero,
	}
	if raw := fields[fieldSpent]; raw != "" {
		if spent, err := decimal.NewFromString(raw); err == nil {
			rec.Spent = spent.Round(2)
		}
	}
	if raw := fields[fieldLastOrder]; raw != "" {
		if at, err := time.Parse(time.RFC3339, raw); err == nil {
			rec.LastOrderAt = &at
		}
	}
	return rec, nil
}

// TopItems returns up to n items ordered by descending score.
func (s *Service) TopItems(ctx context.Context, n int) ([]ItemRecord, error) {
	if s == nil || s.R == nil {
		return nil, ErrNotConfigured
	}
	if n <= 0 {
		n = 10
	}
	ranked, err := s.R.ZRevRangeWithScores(ctx, cache.KeyTopItems, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ItemRecord, 0, len(ranked))
	for _, z := range ranked {
		member, _ := z.Member.(string)
		id, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		rec, err := s.ItemStats(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Subscribe registers the counters on the bus.
func (s *Service) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.TopicItemViewed, s.onItemViewed)
	bus.Subscribe(events.TopicBasketLineAdded, s.onLineAdded)
	bus.Subscribe(events.TopicOrderPlaced, s.onOrderPlaced)
}

func (s *Service) onItemViewed(ctx context.Context, ev events.Event) error {
	var p events.ItemViewed
	if err := ev.Decode(&p); err != nil {
		return err
	}
	return s.logged(s.RecordView(ctx, p.ItemID, p.UserID), ev)
}

func (s *Service) onLineAdded(ctx context.Context, ev events.Event) error {
	var p events.BasketLineAdded
	if err := ev.Decode(&p); err != nil {
		return err
	}
	return s.logged(s.RecordBasketAddition(ctx, p.ItemID, p.UserID), ev)
}

func (s *Service) onOrderPlaced(ctx context.Context, ev events.Event) error {
	var p events.OrderPlaced
	if err := ev.Decode(&p); err != nil {
		return err
	}
	return s.logged(s.RecordOrder(ctx, p), ev)
}

func (s *Service) logged(err error, ev events.Event) error {
	if err != nil {
		s.Logger.Warn().Err(err).Str("topic", ev.Topic).Str("event_id", ev.ID.String()).Msg("analytics counter update failed")
	}
	return err
}

func parseCount(raw string) int64 {
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
