package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/offer"
)

const rangeColumns = `id, name, slug, description, is_public, includes_all, included_items, excluded_items, class_ids, category_ids, created_at`

const offerColumns = `id, name, slug, description, offer_type, status, exclusive, priority, starts_at, ends_at,
  max_basket_applications, max_global_applications, num_applications,
  condition_id, condition_type, condition_range_id, condition_value,
  benefit_id, benefit_type, benefit_range_id, benefit_value, benefit_max_affected_items, created_at`

const voucherColumns = `id, name, code, usage, starts_at, ends_at, usage_limit, num_orders, offer_ids, created_at`

// OfferStore persists ranges, offers and vouchers in Postgres. It implements
// offer.Repository.
type OfferStore struct {
	DB  DB
	Now func() time.Time
}

// NewOfferStore wraps db.
func NewOfferStore(db DB) *OfferStore {
	return &OfferStore{DB: db, Now: time.Now}
}

func (s *OfferStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Ranges implements offer.Repository.
func (s *OfferStore) Ranges(ctx context.Context) ([]*offer.Range, error) {
	if s == nil || s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	return s.queryRanges(ctx, `SELECT `+rangeColumns+` FROM ranges ORDER BY created_at, id`)
}

// Range implements offer.Repository.
func (s *OfferStore) Range(ctx context.Context, id uuid.UUID) (*offer.Range, error) {
	if s == nil || s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	ranges, err := s.queryRanges(ctx, `SELECT `+rangeColumns+` FROM ranges WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("range %s: %w", id, offer.ErrNotFound)
	}
	return ranges[0], nil
}

// SaveRange implements offer.Repository.
func (s *OfferStore) SaveRange(ctx context.Context, r *offer.Range) error {
	if s == nil || s.DB == nil {
		return ErrStoreUnavailable
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	categoryIDs := make([]uuid.UUID, 0, len(r.Categories))
	for _, c := range r.Categories {
		categoryIDs = append(categoryIDs, c.ID)
	}
	_, err := s.DB.Exec(ctx, `
INSERT INTO ranges (`+rangeColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug, description = EXCLUDED.description,
  is_public = EXCLUDED.is_public, includes_all = EXCLUDED.includes_all, included_items = EXCLUDED.included_items,
  excluded_items = EXCLUDED.excluded_items, class_ids = EXCLUDED.class_ids, category_ids = EXCLUDED.category_ids`,
		r.ID, r.Name, r.Slug, r.Description, r.IsPublic, r.IncludesAll,
		nonNilIDs(r.Included), nonNilIDs(r.Excluded), nonNilIDs(r.Classes), categoryIDs, r.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: slug %q is taken", offer.ErrInvalidRange, r.Slug)
	}
	return err
}

func (s *OfferStore) queryRanges(ctx context.Context, sql string, args ...any) ([]*offer.Range, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var (
		out         []*offer.Range
		categoryIDs = make(map[*offer.Range][]uuid.UUID)
	)
	for rows.Next() {
		var r offer.Range
		var cats []uuid.UUID
		if err := rows.Scan(&r.ID, &r.Name, &r.Slug, &r.Description, &r.IsPublic, &r.IncludesAll,
			&r.Included, &r.Excluded, &r.Classes, &cats, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, &r)
		if len(cats) > 0 {
			categoryIDs[&r] = cats
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(categoryIDs) == 0 {
		return out, nil
	}
	categories, err := s.categories(ctx)
	if err != nil {
		return nil, err
	}
	for r, ids := range categoryIDs {
		for _, id := range ids {
			if c, ok := categories[id]; ok {
				r.Categories = append(r.Categories, c)
			}
		}
	}
	return out, nil
}

func (s *OfferStore) categories(ctx context.Context) (map[uuid.UUID]*catalog.Category, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, slug, path, depth FROM categories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]*catalog.Category)
	for rows.Next() {
		var c catalog.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Path, &c.Depth); err != nil {
			return nil, err
		}
		out[c.ID] = &c
	}
	return out, rows.Err()
}

// Offers implements offer.Repository.
func (s *OfferStore) Offers(ctx context.Context) ([]*offer.ConditionalOffer, error) {
	if s == nil || s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	return s.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers ORDER BY priority DESC, id`)
}

// Offer implements offer.Repository.
func (s *OfferStore) Offer(ctx context.Context, id uuid.UUID) (*offer.ConditionalOffer, error) {
	if s == nil || s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	offers, err := s.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(offers) == 0 {
		return nil, fmt.Errorf("offer %s: %w", id, offer.ErrNotFound)
	}
	return offers[0], nil
}

func (s *OfferStore) queryOffers(ctx context.Context, sql string, args ...any) ([]*offer.ConditionalOffer, error) {
	ranges, err := s.Ranges(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*offer.Range, len(ranges))
	for _, r := range ranges {
		byID[r.ID] = r
	}
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*offer.ConditionalOffer
	for rows.Next() {
		var (
			o                       offer.ConditionalOffer
			c                       offer.Condition
			b                       offer.Benefit
			offerType, status       string
			condType, benefitType   string
			condRange, benefitRange *uuid.UUID
			condValue, benefitValue decimal.Decimal
		)
		err := rows.Scan(&o.ID, &o.Name, &o.Slug, &o.Description, &offerType, &status, &o.Exclusive, &o.Priority,
			&o.StartsAt, &o.EndsAt, &o.MaxBasketApplications, &o.MaxGlobalApplications, &o.NumApplications,
			&c.ID, &condType, &condRange, &condValue,
			&b.ID, &benefitType, &benefitRange, &benefitValue, &b.MaxAffectedItems, &o.CreatedAt)
		if err != nil {
			return nil, err
		}
		o.Type = offer.OfferType(offerType)
		o.Status = offer.Status(status)
		c.Type = offer.ConditionType(condType)
		c.Value = condValue
		b.Type = offer.BenefitType(benefitType)
		b.Value = benefitValue
		if condRange != nil {
			c.Range = byID[*condRange]
		}
		if benefitRange != nil {
			b.Range = byID[*benefitRange]
		}
		o.Condition = &c
		o.Benefit = &b
		out = append(out, &o)
	}
	return out, rows.Err()
}

// SaveOffer implements offer.Repository. Ranges referenced by the condition
// and benefit must already be saved.
func (s *OfferStore) SaveOffer(ctx context.Context, o *offer.ConditionalOffer) error {
	if s == nil || s.DB == nil {
		return ErrStoreUnavailable
	}
	if err := o.Validate(); err != nil {
		return err
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	if o.Condition.ID == uuid.Nil {
		o.Condition.ID = uuid.New()
	}
	if o.Benefit.ID == uuid.Nil {
		o.Benefit.ID = uuid.New()
	}
	_, err := s.DB.Exec(ctx, `
INSERT INTO offers (`+offerColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug, description = EXCLUDED.description,
  offer_type = EXCLUDED.offer_type, status = EXCLUDED.status, exclusive = EXCLUDED.exclusive, priority = EXCLUDED.priority,
  starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at,
  max_basket_applications = EXCLUDED.max_basket_applications, max_global_applications = EXCLUDED.max_global_applications,
  condition_type = EXCLUDED.condition_type, condition_range_id = EXCLUDED.condition_range_id, condition_value = EXCLUDED.condition_value,
  benefit_type = EXCLUDED.benefit_type, benefit_range_id = EXCLUDED.benefit_range_id, benefit_value = EXCLUDED.benefit_value,
  benefit_max_affected_items = EXCLUDED.benefit_max_affected_items`,
		o.ID, o.Name, o.Slug, o.Description, string(o.Type), string(o.Status), o.Exclusive, o.Priority,
		o.StartsAt, o.EndsAt, o.MaxBasketApplications, o.MaxGlobalApplications, o.NumApplications,
		o.Condition.ID, string(o.Condition.Type), rangeID(o.Condition.Range), o.Condition.Value,
		o.Benefit.ID, string(o.Benefit.Type), rangeID(o.Benefit.Range), o.Benefit.Value, o.Benefit.MaxAffectedItems, o.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: slug %q is taken", offer.ErrInvalidOffer, o.Slug)
	}
	return err
}

// RecordApplications implements offer.Repository. Offers reaching their
// global limit are marked consumed in the same statement.
func (s *OfferStore) RecordApplications(ctx context.Context, freq map[uuid.UUID]int) error {
	if s == nil || s.DB == nil {
		return ErrStoreUnavailable
	}
	if len(freq) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		for id, n := range freq {
			if n <= 0 {
				continue
			}
			if _, err := tx.Exec(ctx, `
UPDATE offers
SET num_applications = num_applications + $2,
    status = CASE WHEN max_global_applications > 0 AND num_applications + $2 >= max_global_applications
                  THEN 'consumed' ELSE status END
WHERE id = $1`, id, n); err != nil {
				return fmt.Errorf("record applications of %s: %w", id, err)
			}
		}
		return nil
	})
}

// VoucherByCode implements offer.Repository.
func (s *OfferStore) VoucherByCode(ctx context.Context, code string) (*offer.Voucher, error) {
	if s == nil || s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	var (
		v     offer.Voucher
		usage string
	)
	err := s.DB.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code = $1`, offer.NormalizeCode(code)).
		Scan(&v.ID, &v.Name, &v.Code, &usage, &v.StartsAt, &v.EndsAt, &v.UsageLimit, &v.NumOrders, &v.OfferIDs, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("voucher %q: %w", code, offer.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	v.Usage = offer.VoucherUsage(usage)
	return &v, nil
}

// SaveVoucher implements offer.Repository.
func (s *OfferStore) SaveVoucher(ctx context.Context, v *offer.Voucher) error {
	if s == nil || s.DB == nil {
		return ErrStoreUnavailable
	}
	v.Code = offer.NormalizeCode(v.Code)
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	_, err := s.DB.Exec(ctx, `
INSERT INTO vouchers (`+voucherColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, code = EXCLUDED.code, usage = EXCLUDED.usage,
  starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at, usage_limit = EXCLUDED.usage_limit,
  offer_ids = EXCLUDED.offer_ids`,
		v.ID, v.Name, v.Code, string(v.Usage), v.StartsAt, v.EndsAt, v.UsageLimit, v.NumOrders, nonNilIDs(v.OfferIDs), v.CreatedAt)
	return err
}

// CountVoucherUsage implements offer.Repository.
func (s *OfferStore) CountVoucherUsage(ctx context.Context, voucherID uuid.UUID, userID string) (int, error) {
	if s == nil || s.DB == nil {
		return 0, ErrStoreUnavailable
	}
	var n int
	err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM voucher_applications WHERE voucher_id = $1 AND user_id = $2`, voucherID, userID).Scan(&n)
	return n, err
}

// RecordVoucherUsage implements offer.Repository. A basket counts once per voucher.
func (s *OfferStore) RecordVoucherUsage(ctx context.Context, voucherID, basketID uuid.UUID, userID string) error {
	if s == nil || s.DB == nil {
		return ErrStoreUnavailable
	}
	return pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
INSERT INTO voucher_applications (voucher_id, basket_id, user_id) VALUES ($1, $2, $3)
ON CONFLICT (voucher_id, basket_id) DO NOTHING`, voucherID, basketID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE vouchers SET num_orders = num_orders + 1 WHERE id = $1`, voucherID)
		return err
	})
}

func rangeID(r *offer.Range) any {
	if r == nil {
		return nil
	}
	return r.ID
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
