package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/common"
	"github.com/noah-isme/toko-offers/internal/events"
	"github.com/noah-isme/toko-offers/internal/obs"
	"github.com/noah-isme/toko-offers/internal/partner"
	"github.com/noah-isme/toko-offers/internal/queue"
)

// TaskBackInStock is the queue kind of back-in-stock notifications.
const TaskBackInStock = "alerts:back_in_stock"

// ErrInvalidEmail is returned when a subscription has no usable address.
var ErrInvalidEmail = errors.New("invalid email address")

// Enqueuer publishes tasks. queue.Enqueuer satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// BackInStock is the payload of a TaskBackInStock task.
type BackInStock struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	ItemID         uuid.UUID `json:"item_id"`
}

// Service raises low stock alerts and notifies customers waiting for items.
type Service struct {
	Store    Store
	Catalog  catalog.Repository
	Strategy *partner.Strategy
	Queue    Enqueuer
	Mail     common.EmailSender
	Logger   zerolog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Register subscribes the service to stock changes.
func (s *Service) Register(bus *events.Bus) {
	bus.Subscribe(events.TopicStockChanged, s.OnStockChanged)
}

// OnStockChanged reacts to a stock.changed event.
func (s *Service) OnStockChanged(ctx context.Context, ev events.Event) error {
	var p events.StockChanged
	if err := ev.Decode(&p); err != nil {
		return err
	}
	var errs error
	if p.LowStockThreshold != nil {
		errs = errors.Join(errs, s.checkThreshold(ctx, p, *p.LowStockThreshold))
	}
	if p.NetBefore <= 0 && p.NetAfter > 0 {
		errs = errors.Join(errs, s.notifyBackInStock(ctx, p.ItemID))
	}
	return errs
}

func (s *Service) checkThreshold(ctx context.Context, p events.StockChanged, threshold int) error {
	log := s.Logger.With().Str("stock_record_id", p.StockRecordID.String()).Int("net", p.NetAfter).Int("threshold", threshold).Logger()
	if p.NetAfter < threshold {
		raised, err := s.Store.RaiseAlert(ctx, &StockAlert{
			StockRecordID: p.StockRecordID,
			ItemID:        p.ItemID,
			Threshold:     threshold,
			Status:        StatusOpen,
			CreatedAt:     s.now(),
		})
		if err != nil {
			return fmt.Errorf("raise stock alert: %w", err)
		}
		if raised {
			countAlert("raised")
			log.Warn().Msg("stock below threshold")
		}
		return nil
	}
	closed, err := s.Store.CloseAlerts(ctx, p.StockRecordID, s.now())
	if err != nil {
		return fmt.Errorf("close stock alerts: %w", err)
	}
	if closed > 0 {
		countAlert("closed")
		log.Info().Int("closed", closed).Msg("stock alert closed")
	}
	return nil
}

func (s *Service) notifyBackInStock(ctx context.Context, itemID uuid.UUID) error {
	subs, err := s.Store.ActiveSubscriptions(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	if len(subs) == 0 || s.Queue == nil {
		return nil
	}
	var errs error
	for _, sub := range subs {
		payload, err := json.Marshal(BackInStock{SubscriptionID: sub.ID, ItemID: itemID})
		if err != nil {
			return err
		}
		task := queue.Task{Kind: TaskBackInStock, Payload: payload, IdempotencyKey: sub.ID.String()}
		if err := s.Queue.Enqueue(ctx, task); err != nil {
			errs = errors.Join(errs, fmt.Errorf("enqueue back in stock %s: %w", sub.ID, err))
		}
	}
	s.Logger.Info().Str("item_id", itemID.String()).Int("subscriptions", len(subs)).Msg("back in stock notifications queued")
	return errs
}

// Subscribe registers email for a back-in-stock notification of an item that
// cannot be bought right now.
func (s *Service) Subscribe(ctx context.Context, itemID uuid.UUID, userID, email string) (*Subscription, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, ErrInvalidEmail
	}
	item, err := s.Catalog.Item(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if s.Strategy != nil && s.Strategy.ForItem(item).Availability.IsAvailableToBuy() {
		return nil, ErrInStock
	}
	sub := &Subscription{
		ItemID:    itemID,
		UserID:    userID,
		Email:     strings.ToLower(email),
		Status:    StatusActive,
		CreatedAt: s.now(),
	}
	if err := s.Store.InsertSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Cancel withdraws a subscription. Only its owner may cancel a signed-in
// subscription.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, userID string) error {
	sub, err := s.Store.Subscription(ctx, id)
	if err != nil {
		return err
	}
	if sub.UserID != "" && sub.UserID != userID {
		return ErrNotFound
	}
	if sub.Status != StatusActive {
		return nil
	}
	return s.Store.SetSubscriptionStatus(ctx, id, StatusCancelled, s.now())
}

// Alerts lists stock alerts with the given status, or all when status is empty.
func (s *Service) Alerts(ctx context.Context, status Status) ([]StockAlert, error) {
	return s.Store.ListAlerts(ctx, status)
}

// HandleBackInStock delivers a queued notification and closes the
// subscription. It is the queue.Worker handler for TaskBackInStock.
func (s *Service) HandleBackInStock(ctx context.Context, task queue.Task) error {
	var p BackInStock
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		// a malformed payload never succeeds; drop it
		s.Logger.Error().Err(err).Msg("discarding malformed back in stock task")
		return nil
	}
	sub, err := s.Store.Subscription(ctx, p.SubscriptionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sub.Status != StatusActive {
		return nil
	}
	item, err := s.Catalog.Item(ctx, sub.ItemID)
	if err != nil {
		return err
	}
	title := html.EscapeString(item.DisplayTitle())
	subject := fmt.Sprintf("%s is back in stock", item.DisplayTitle())
	body := fmt.Sprintf("<p>Good news: <strong>%s</strong> is back in stock.</p>", title)
	if s.Mail != nil {
		if err := s.Mail.Send(sub.Email, subject, body); err != nil {
			return fmt.Errorf("send back in stock email: %w", err)
		}
	}
	if err := s.Store.SetSubscriptionStatus(ctx, sub.ID, StatusClosed, s.now()); err != nil {
		return err
	}
	countAlert("notified")
	s.Logger.Info().Str("subscription_id", sub.ID.String()).Int("attempt", task.Attempt).Msg("back in stock email sent")
	return nil
}

func countAlert(transition string) {
	if obs.StockAlertsTotal != nil {
		obs.StockAlertsTotal.WithLabelValues(transition).Inc()
	}
}
