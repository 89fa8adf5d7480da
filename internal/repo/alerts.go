package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-offers/internal/alerts"
)

// AlertStore keeps stock alerts and back-in-stock subscriptions in
// Postgres. It implements alerts.Store.
type AlertStore struct {
	DB DB
}

// RaiseAlert relies on the partial unique index over open alerts, so
// concurrent raisers for one record insert at most one row.
func (s AlertStore) RaiseAlert(ctx context.Context, a *alerts.StockAlert) (bool, error) {
	if s.DB == nil {
		return false, ErrStoreUnavailable
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	tag, err := s.DB.Exec(ctx, `
INSERT INTO stock_alerts (id, stock_record_id, item_id, threshold, status, created_at)
VALUES ($1, $2, $3, $4, 'open', $5)
ON CONFLICT (stock_record_id) WHERE status = 'open' DO NOTHING`,
		a.ID, a.StockRecordID, a.ItemID, a.Threshold, a.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CloseAlerts implements alerts.Store.
func (s AlertStore) CloseAlerts(ctx context.Context, stockRecordID uuid.UUID, at time.Time) (int, error) {
	if s.DB == nil {
		return 0, ErrStoreUnavailable
	}
	tag, err := s.DB.Exec(ctx, `UPDATE stock_alerts SET status = 'closed', closed_at = $2 WHERE stock_record_id = $1 AND status = 'open'`, stockRecordID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListAlerts implements alerts.Store.
func (s AlertStore) ListAlerts(ctx context.Context, status alerts.Status) ([]alerts.StockAlert, error) {
	if s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	const cols = `SELECT id, stock_record_id, item_id, threshold, status, created_at, closed_at FROM stock_alerts`
	var (
		rows pgx.Rows
		err  error
	)
	if status != "" {
		rows, err = s.DB.Query(ctx, cols+` WHERE status = $1 ORDER BY created_at, id`, string(status))
	} else {
		rows, err = s.DB.Query(ctx, cols+` ORDER BY created_at, id`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]alerts.StockAlert, 0)
	for rows.Next() {
		var a alerts.StockAlert
		var st string
		if err := rows.Scan(&a.ID, &a.StockRecordID, &a.ItemID, &a.Threshold, &st, &a.CreatedAt, &a.ClosedAt); err != nil {
			return nil, err
		}
		a.Status = alerts.Status(st)
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertSubscription implements alerts.Store.
func (s AlertStore) InsertSubscription(ctx context.Context, sub *alerts.Subscription) error {
	if s.DB == nil {
		return ErrStoreUnavailable
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	_, err := s.DB.Exec(ctx, `
INSERT INTO stock_subscriptions (id, item_id, user_id, email, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, sub.ID, sub.ItemID, sub.UserID, sub.Email, string(sub.Status), sub.CreatedAt)
	if isUniqueViolation(err) {
		return alerts.ErrAlreadySubscribed
	}
	return err
}

const subscriptionColumns = `id, item_id, user_id, email, status, created_at, closed_at`

// Subscription implements alerts.Store.
func (s AlertStore) Subscription(ctx context.Context, id uuid.UUID) (*alerts.Subscription, error) {
	if s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	sub, err := scanSubscription(s.DB.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM stock_subscriptions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("subscription %s: %w", id, alerts.ErrNotFound)
	}
	return sub, err
}

// ActiveSubscriptions implements alerts.Store.
func (s AlertStore) ActiveSubscriptions(ctx context.Context, itemID uuid.UUID) ([]alerts.Subscription, error) {
	if s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.DB.Query(ctx, `SELECT `+subscriptionColumns+` FROM stock_subscriptions
WHERE item_id = $1 AND status = 'active' ORDER BY created_at, id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []alerts.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

// SetSubscriptionStatus implements alerts.Store.
func (s AlertStore) SetSubscriptionStatus(ctx context.Context, id uuid.UUID, status alerts.Status, at time.Time) error {
	if s.DB == nil {
		return ErrStoreUnavailable
	}
	var closedAt any
	if status != alerts.StatusActive {
		closedAt = at
	}
	tag, err := s.DB.Exec(ctx, `UPDATE stock_subscriptions SET status = $2, closed_at = $3 WHERE id = $1`, id, string(status), closedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s: %w", id, alerts.ErrNotFound)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*alerts.Subscription, error) {
	var sub alerts.Subscription
	var st string
	if err := row.Scan(&sub.ID, &sub.ItemID, &sub.UserID, &sub.Email, &st, &sub.CreatedAt, &sub.ClosedAt); err != nil {
		return nil, err
	}
	sub.Status = alerts.Status(st)
	return &sub, nil
}
