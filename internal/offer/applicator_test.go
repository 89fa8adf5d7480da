package offer_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-offers/internal/offer"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func timep(t time.Time) *time.Time { return &t }

func intp(v int) *int { return &v }

func TestOfferAvailability(t *testing.T) {
	o := &offer.ConditionalOffer{Status: offer.StatusOpen, StartsAt: timep(now.Add(-time.Hour)), EndsAt: timep(now.Add(time.Hour))}
	require.True(t, o.IsAvailable(now))
	require.False(t, o.IsAvailable(now.Add(-2*time.Hour)))
	require.False(t, o.IsAvailable(now.Add(time.Hour)), "end is exclusive")

	o.MaxGlobalApplications = 5
	o.NumApplications = 3
	o.MaxBasketApplications = 4
	require.Equal(t, 2, o.MaxApplications())
	o.NumApplications = 5
	require.False(t, o.IsAvailable(now))

	o.Status = offer.StatusSuspended
	o.NumApplications = 0
	require.False(t, o.IsAvailable(now))
}

func TestOfferValidate(t *testing.T) {
	all := allRange("All")
	o := &offer.ConditionalOffer{
		Name:      "Summer sale",
		Condition: &offer.Condition{Type: offer.CountCondition, Range: all, Value: d("2")},
		Benefit:   &offer.Benefit{Type: offer.PercentageBenefit, Range: all, Value: d("15")},
	}
	require.NoError(t, o.Validate())
	require.Equal(t, offer.SiteOffer, o.Type)
	require.Equal(t, offer.StatusOpen, o.Status)
	require.Equal(t, "summer-sale", o.Slug)

	o.StartsAt = timep(now)
	o.EndsAt = timep(now)
	require.ErrorIs(t, o.Validate(), offer.ErrInvalidOffer)

	o.EndsAt = nil
	o.Condition.Value = d("1.5")
	require.ErrorIs(t, o.Validate(), offer.ErrInvalidCondition)

	o.Condition.Value = d("2")
	o.Type = "flash"
	require.ErrorIs(t, o.Validate(), offer.ErrInvalidOffer)
}

func TestVoucherValidate(t *testing.T) {
	offers := []uuid.UUID{uuid.New()}

	v := &offer.Voucher{Code: "SAVE", Usage: offer.MultiUse, OfferIDs: offers, StartsAt: timep(now), EndsAt: timep(now.Add(24 * time.Hour))}
	require.NoError(t, v.Validate(now, "", 0))
	require.ErrorIs(t, v.Validate(now.Add(-time.Minute), "", 0), offer.ErrVoucherInactive)
	require.ErrorIs(t, v.Validate(now.Add(48*time.Hour), "", 0), offer.ErrVoucherExpired)
	require.True(t, v.IsActive(now))

	v.UsageLimit = intp(2)
	v.NumOrders = 2
	require.ErrorIs(t, v.Validate(now, "", 0), offer.ErrUsageLimitReached)

	single := &offer.Voucher{Code: "ONCE", Usage: offer.SingleUse, OfferIDs: offers, NumOrders: 1}
	require.ErrorIs(t, single.Validate(now, "u1", 0), offer.ErrUsageLimitReached)

	perCustomer := &offer.Voucher{Code: "HELLO", Usage: offer.OncePerCustomer, OfferIDs: offers}
	require.ErrorIs(t, perCustomer.Validate(now, " ", 0), offer.ErrSignInRequired)
	require.ErrorIs(t, perCustomer.Validate(now, "u1", 1), offer.ErrPerUserLimitReached)
	require.NoError(t, perCustomer.Validate(now, "u2", 0))

	orphan := &offer.Voucher{Code: "NONE", Usage: offer.MultiUse}
	require.ErrorIs(t, orphan.Validate(now, "", 0), offer.ErrNotEligible)
}

func seedRepository(t *testing.T) (*offer.MemoryRepository, *offer.ConditionalOffer, *offer.ConditionalOffer) {
	t.Helper()
	ctx := context.Background()
	repo := offer.NewMemoryRepository()
	all := allRange("All")
	require.NoError(t, repo.SaveRange(ctx, all))

	site := &offer.ConditionalOffer{
		Name:      "Site 5%",
		Priority:  1,
		Condition: &offer.Condition{Type: offer.CountCondition, Range: all, Value: d("1")},
		Benefit:   &offer.Benefit{Type: offer.PercentageBenefit, Range: all, Value: d("5")},
	}
	voucherOffer := &offer.ConditionalOffer{
		Name:      "Voucher 2 off",
		Type:      offer.VoucherOffer,
		Priority:  5,
		Condition: &offer.Condition{Type: offer.CountCondition, Range: all, Value: d("1")},
		Benefit:   &offer.Benefit{Type: offer.AbsoluteBenefit, Range: all, Value: d("2.00"), MaxAffectedItems: 1},
	}
	suspended := &offer.ConditionalOffer{
		Name:      "Paused",
		Status:    offer.StatusSuspended,
		Condition: &offer.Condition{Type: offer.CountCondition, Range: all, Value: d("1")},
		Benefit:   &offer.Benefit{Type: offer.PercentageBenefit, Range: all, Value: d("50")},
	}
	for _, o := range []*offer.ConditionalOffer{site, voucherOffer, suspended} {
		require.NoError(t, repo.SaveOffer(ctx, o))
	}
	require.NoError(t, repo.SaveVoucher(ctx, &offer.Voucher{
		Name:     "Welcome",
		Code:     " welcome ",
		Usage:    offer.OncePerCustomer,
		OfferIDs: []uuid.UUID{voucherOffer.ID},
	}))
	return repo, site, voucherOffer
}

func TestApplicatorOffers(t *testing.T) {
	ctx := context.Background()
	repo, site, voucherOffer := seedRepository(t)
	a := &offer.Applicator{Repository: repo, Logger: zerolog.Nop(), Now: func() time.Time { return now }}

	offers, rejected, err := a.Offers(ctx, nil, "")
	require.NoError(t, err)
	require.Empty(t, rejected)
	require.Len(t, offers, 1)
	require.Equal(t, site.ID, offers[0].ID)

	offers, rejected, err = a.Offers(ctx, []string{"WELCOME", "MISSING"}, "u1")
	require.NoError(t, err)
	require.ErrorIs(t, rejected["MISSING"], offer.ErrNotEligible)
	require.Len(t, offers, 2)
	require.Equal(t, voucherOffer.ID, offers[0].ID)
	require.Equal(t, "WELCOME", offers[0].VoucherCode)

	offers, rejected, err = a.Offers(ctx, []string{"welcome"}, "")
	require.NoError(t, err)
	require.ErrorIs(t, rejected["welcome"], offer.ErrSignInRequired)
	require.Len(t, offers, 1)

	v, err := repo.VoucherByCode(ctx, "WELCOME")
	require.NoError(t, err)
	basketID := uuid.New()
	require.NoError(t, repo.RecordVoucherUsage(ctx, v.ID, basketID, "u1"))
	require.NoError(t, repo.RecordVoucherUsage(ctx, v.ID, basketID, "u1"))
	n, err := repo.CountVoucherUsage(ctx, v.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = a.Voucher(ctx, "welcome", "u1")
	require.ErrorIs(t, err, offer.ErrPerUserLimitReached)
}

func TestApplicatorApplyWithVoucher(t *testing.T) {
	ctx := context.Background()
	repo, site, voucherOffer := seedRepository(t)
	a := &offer.Applicator{Repository: repo, Logger: zerolog.Nop(), Now: func() time.Time { return now }}

	offers, _, err := a.Offers(ctx, []string{"WELCOME"}, "u1")
	require.NoError(t, err)

	b := newBasket()
	b.add(product("Book", "10.00"), 1)
	a.Apply(ctx, b, offers)

	apps := b.apps.All()
	require.Len(t, apps, 2)
	require.Equal(t, voucherOffer.ID, apps[0].OfferID)
	require.Equal(t, "WELCOME", apps[0].VoucherCode)
	require.True(t, apps[0].Discount.Equal(d("2.00")))
	require.Equal(t, site.ID, apps[1].OfferID)
	require.True(t, apps[1].Discount.Equal(d("0.50")))

	// Reapplying starts from a clean slate.
	a.Apply(ctx, b, offers)
	require.Equal(t, 2, b.apps.Len())
	require.True(t, b.apps.TotalDiscount().Equal(d("2.50")))

	freq := map[uuid.UUID]int{site.ID: 1}
	require.NoError(t, repo.RecordApplications(ctx, freq))
	stored, err := repo.Offer(ctx, site.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.NumApplications)
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := offer.NewMemoryRepository()
	r := &offer.Range{Name: "Copies"}
	require.NoError(t, repo.SaveRange(ctx, r))

	got, err := repo.Range(ctx, r.ID)
	require.NoError(t, err)
	got.Included = append(got.Included, uuid.New())

	again, err := repo.Range(ctx, r.ID)
	require.NoError(t, err)
	require.Empty(t, again.Included)

	_, err = repo.Range(ctx, uuid.New())
	require.ErrorIs(t, err, offer.ErrNotFound)
}
