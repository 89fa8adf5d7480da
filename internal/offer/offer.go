package offer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/common"
)

// ErrInvalidOffer is returned when an offer fails validation.
var ErrInvalidOffer = errors.New("offer: invalid offer")

// OfferType says where an offer comes from.
type OfferType string

const (
	SiteOffer    OfferType = "site"
	VoucherOffer OfferType = "voucher"
	UserOffer    OfferType = "user"
	SessionOffer OfferType = "session"
)

// Status is the lifecycle state of an offer.
type Status string

const (
	StatusOpen      Status = "open"
	StatusSuspended Status = "suspended"
	StatusConsumed  Status = "consumed"
)

// maxApplicationsCap bounds the repeat loop for offers without limits.
const maxApplicationsCap = 10000

// ConditionalOffer pairs a condition with the benefit it unlocks.
type ConditionalOffer struct {
	ID                    uuid.UUID  `json:"id"`
	Name                  string     `json:"name" validate:"required,max=128"`
	Slug                  string     `json:"slug"`
	Description           string     `json:"description,omitempty"`
	Type                  OfferType  `json:"type" validate:"required,oneof=site voucher user session"`
	Status                Status     `json:"status" validate:"required,oneof=open suspended consumed"`
	Exclusive             bool       `json:"exclusive"`
	Priority              int        `json:"priority"`
	StartsAt              *time.Time `json:"starts_at,omitempty"`
	EndsAt                *time.Time `json:"ends_at,omitempty"`
	MaxBasketApplications int        `json:"max_basket_applications,omitempty" validate:"gte=0"`
	MaxGlobalApplications int        `json:"max_global_applications,omitempty" validate:"gte=0"`
	NumApplications       int        `json:"num_applications"`
	Condition             *Condition `json:"condition" validate:"-"`
	Benefit               *Benefit   `json:"benefit" validate:"-"`
	// VoucherCode is set on voucher offers resolved for a basket.
	VoucherCode string    `json:"voucher_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the offer and its parts.
func (o *ConditionalOffer) Validate() error {
	if o == nil {
		return ErrInvalidOffer
	}
	o.Name = strings.TrimSpace(o.Name)
	if o.Type == "" {
		o.Type = SiteOffer
	}
	if o.Status == "" {
		o.Status = StatusOpen
	}
	if err := common.ValidateStruct(o, ErrInvalidOffer); err != nil {
		return err
	}
	if o.StartsAt != nil && o.EndsAt != nil && !o.EndsAt.After(*o.StartsAt) {
		return fmt.Errorf("%w: end must be after start", ErrInvalidOffer)
	}
	if err := o.Condition.Validate(); err != nil {
		return err
	}
	if err := o.Benefit.Validate(); err != nil {
		return err
	}
	if o.Slug == "" {
		o.Slug = catalog.Slugify(o.Name)
	}
	return nil
}

// IsAvailable reports whether the offer can be applied at now.
func (o *ConditionalOffer) IsAvailable(now time.Time) bool {
	if o.Status != StatusOpen {
		return false
	}
	if o.StartsAt != nil && now.Before(*o.StartsAt) {
		return false
	}
	if o.EndsAt != nil && !now.Before(*o.EndsAt) {
		return false
	}
	if o.MaxGlobalApplications > 0 && o.NumApplications >= o.MaxGlobalApplications {
		return false
	}
	return true
}

// MaxApplications is how many times the offer may apply to one basket.
func (o *ConditionalOffer) MaxApplications() int {
	limit := maxApplicationsCap
	if o.MaxBasketApplications > 0 {
		limit = min(limit, o.MaxBasketApplications)
	}
	if o.MaxGlobalApplications > 0 {
		limit = min(limit, max(o.MaxGlobalApplications-o.NumApplications, 0))
	}
	return limit
}

// IsConditionSatisfied checks the offer's condition against basket.
func (o *ConditionalOffer) IsConditionSatisfied(basket Basket) bool {
	return o.Condition.IsSatisfied(o, basket)
}

// IsConditionPartiallySatisfied checks for a partial match.
func (o *ConditionalOffer) IsConditionPartiallySatisfied(basket Basket) bool {
	return o.Condition.IsPartiallySatisfied(o, basket)
}

// UpsellMessage describes what the basket still needs.
func (o *ConditionalOffer) UpsellMessage(basket Basket) string {
	return o.Condition.UpsellMessage(o, basket)
}

// ApplyBenefit applies the benefit once, if the condition is met.
func (o *ConditionalOffer) ApplyBenefit(basket Basket) Result {
	if o.Condition == nil || o.Benefit == nil || !o.IsConditionSatisfied(basket) {
		return ZeroDiscount()
	}
	return o.Benefit.Apply(basket, o.Condition, o)
}

// Clone returns a shallow copy that can carry a voucher code.
func (o *ConditionalOffer) Clone() *ConditionalOffer {
	cp := *o
	return &cp
}
