package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-offers/internal/obs"
)

// Applicator runs the offer application pass over a basket.
type Applicator struct {
	Repository Repository
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Offers collects the available site offers plus the voucher offers unlocked
// by codes, ordered by priority then id. Invalid codes are skipped and
// reported in the returned map.
func (a *Applicator) Offers(ctx context.Context, codes []string, userID string) ([]*ConditionalOffer, map[string]error, error) {
	if a.Repository == nil {
		return nil, nil, errors.New("offer: repository not configured")
	}
	now := a.now()
	all, err := a.Repository.Offers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("offer: list offers: %w", err)
	}
	byID := make(map[string]*ConditionalOffer, len(all))
	var offers []*ConditionalOffer
	for _, o := range all {
		byID[o.ID.String()] = o
		if o.Type == SiteOffer && o.IsAvailable(now) {
			offers = append(offers, o)
		}
	}

	rejected := make(map[string]error)
	for _, code := range codes {
		v, err := a.Voucher(ctx, code, userID)
		if err != nil {
			rejected[code] = err
			continue
		}
		for _, id := range v.OfferIDs {
			o, ok := byID[id.String()]
			if !ok || o.Type != VoucherOffer || !o.IsAvailable(now) {
				continue
			}
			voucherOffer := o.Clone()
			voucherOffer.VoucherCode = v.Code
			offers = append(offers, voucherOffer)
		}
	}
	SortOffers(offers)
	return offers, rejected, nil
}

// Voucher loads and validates a voucher for userID.
func (a *Applicator) Voucher(ctx context.Context, code, userID string) (*Voucher, error) {
	v, err := a.Repository.VoucherByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotEligible
		}
		return nil, err
	}
	used := 0
	if userID != "" && v.Usage == OncePerCustomer {
		if used, err = a.Repository.CountVoucherUsage(ctx, v.ID, userID); err != nil {
			return nil, err
		}
	}
	if err := v.Validate(a.now(), userID, used); err != nil {
		return nil, err
	}
	return v, nil
}

// Apply resets the basket's applications and applies offers in order. Each
// offer repeats until it reaches its limit, stops succeeding or returns a
// final result. A successful exclusive offer ends the pass.
func (a *Applicator) Apply(ctx context.Context, basket Basket, offers []*ConditionalOffer) {
	_, span := otel.Tracer("offer.Applicator").Start(ctx, "Applicator.Apply")
	defer span.End()

	apps := basket.OfferApplications()
	apps.Clear()
	for _, line := range basket.OfferLines() {
		line.Consumer().Reset()
	}

	for _, o := range offers {
		applied := false
		for n := 0; n < o.MaxApplications(); n++ {
			result := o.ApplyBenefit(basket)
			if !result.IsSuccessful() {
				break
			}
			applied = true
			apps.Add(o, result)
			observeApplication(o, result, basket.Currency())
			if result.IsFinal() {
				break
			}
		}
		if applied && o.Exclusive {
			a.Logger.Debug().Str("offer_id", o.ID.String()).Msg("exclusive offer applied, pass halted")
			break
		}
	}
	span.SetAttributes(
		attribute.Int("offers.candidates", len(offers)),
		attribute.Int("offers.applied", apps.Len()),
	)
}

func observeApplication(o *ConditionalOffer, result Result, currency string) {
	if obs.OffersAppliedTotal != nil {
		obs.OffersAppliedTotal.WithLabelValues(string(o.Type), string(o.Benefit.Type)).Inc()
	}
	if obs.OfferDiscountTotal != nil && result.Kind == KindBasket {
		obs.OfferDiscountTotal.WithLabelValues(currency).Add(result.Amount.InexactFloat64())
	}
}

func (a *Applicator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}
