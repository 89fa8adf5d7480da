package offer

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotEligible is returned when the voucher cannot be applied to the provided context.
	ErrNotEligible = errors.New("voucher not eligible")
	// ErrUsageLimitReached indicates the voucher has exhausted the global usage quota.
	ErrUsageLimitReached = errors.New("voucher usage limit reached")
	// ErrPerUserLimitReached indicates the caller has already used a once-per-customer voucher.
	ErrPerUserLimitReached = errors.New("voucher per-user usage limit reached")
	// ErrVoucherInactive is returned when attempting to use a voucher before its window opens.
	ErrVoucherInactive = errors.New("voucher not active")
	// ErrVoucherExpired is returned when the voucher has already expired.
	ErrVoucherExpired = errors.New("voucher expired")
	// ErrSignInRequired is returned for once-per-customer vouchers used anonymously.
	ErrSignInRequired = errors.New("voucher requires a signed in customer")
)

// VoucherUsage controls how often a voucher may be redeemed.
type VoucherUsage string

const (
	SingleUse       VoucherUsage = "single_use"
	MultiUse        VoucherUsage = "multi_use"
	OncePerCustomer VoucherUsage = "once_per_customer"
)

// Voucher is a code that unlocks voucher offers.
type Voucher struct {
	ID         uuid.UUID    `json:"id"`
	Name       string       `json:"name" validate:"required"`
	Code       string       `json:"code" validate:"required,max=64"`
	Usage      VoucherUsage `json:"usage" validate:"required,oneof=single_use multi_use once_per_customer"`
	StartsAt   *time.Time   `json:"starts_at,omitempty"`
	EndsAt     *time.Time   `json:"ends_at,omitempty"`
	UsageLimit *int         `json:"usage_limit,omitempty"`
	NumOrders  int          `json:"num_orders"`
	OfferIDs   []uuid.UUID  `json:"offer_ids"`
	CreatedAt  time.Time    `json:"created_at"`
}

// NormalizeCode canonicalises a voucher code for lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsActive reports whether now falls inside the voucher window.
func (v *Voucher) IsActive(now time.Time) bool {
	return v.checkWindow(now) == nil
}

func (v *Voucher) checkWindow(now time.Time) error {
	if v.StartsAt != nil && now.Before(*v.StartsAt) {
		return ErrVoucherInactive
	}
	if v.EndsAt != nil && now.After(*v.EndsAt) {
		return ErrVoucherExpired
	}
	return nil
}

// Validate ensures the voucher can be redeemed at now by userID, who has
// already redeemed it userUsed times. userID may be empty for guests.
func (v *Voucher) Validate(now time.Time, userID string, userUsed int) error {
	if err := v.checkWindow(now); err != nil {
		return err
	}
	if v.UsageLimit != nil && *v.UsageLimit >= 0 && v.NumOrders >= *v.UsageLimit {
		return ErrUsageLimitReached
	}
	switch v.Usage {
	case SingleUse:
		if v.NumOrders > 0 {
			return ErrUsageLimitReached
		}
	case OncePerCustomer:
		if strings.TrimSpace(userID) == "" {
			return ErrSignInRequired
		}
		if userUsed > 0 {
			return ErrPerUserLimitReached
		}
	}
	if len(v.OfferIDs) == 0 {
		return ErrNotEligible
	}
	return nil
}
