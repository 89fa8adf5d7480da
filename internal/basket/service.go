package basket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/events"
	"github.com/noah-isme/toko-offers/internal/obs"
	"github.com/noah-isme/toko-offers/internal/offer"
	"github.com/noah-isme/toko-offers/internal/partner"
	"github.com/noah-isme/toko-offers/internal/pricing"
	"github.com/noah-isme/toko-offers/internal/shipping"
	"github.com/noah-isme/toko-offers/internal/stock"
)

var (
	// ErrQuantityNotAllowed is returned when a line would exceed the basket limit.
	ErrQuantityNotAllowed = errors.New("basket: quantity not allowed")
	// ErrNotPurchasable is returned when availability refuses the quantity.
	ErrNotPurchasable = errors.New("basket: item not available for purchase")
	// ErrVoucherNotApplied is returned when a voucher is valid but none of its
	// offers apply to the basket.
	ErrVoucherNotApplied = errors.New("basket: voucher does not apply")
	// ErrEmpty is returned when submitting a basket without lines.
	ErrEmpty = errors.New("basket: empty")
)

// RefusalError carries the customer-facing reason behind a sentinel error.
type RefusalError struct {
	Err    error
	Reason string
}

func (e *RefusalError) Error() string { return e.Reason }

func (e *RefusalError) Unwrap() error { return e.Err }

// Allocator reserves stock. *stock.Ledger satisfies it.
type Allocator interface {
	Allocate(ctx context.Context, item *catalog.Item, recordID uuid.UUID, quantity int) (*catalog.StockRecord, error)
	CancelAllocation(ctx context.Context, item *catalog.Item, recordID uuid.UUID, quantity int) (*catalog.StockRecord, error)
}

var _ Allocator = (*stock.Ledger)(nil)

// Service loads, changes and submits baskets.
type Service struct {
	Store       Store
	Catalog     catalog.Repository
	Selector    partner.Selector
	Applicator  *offer.Applicator
	Stock       Allocator
	Bus         stock.Emitter
	Shipping    *shipping.Repository
	MaxQuantity int
	Logger      zerolog.Logger
	Now         func() time.Time
}

// View is a basket with offers applied and the shipping method priced.
type View struct {
	Basket   *Basket
	Shipping shipping.Charge
	Method   string
	Summary  pricing.Summary
	Rejected map[string]error
	Upsells  []string
	Warnings []string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// strategyFor asks the selector for the strategy pricing ownerID's basket.
// The HTTP request travels in ctx via partner.WithRequest.
func (s *Service) strategyFor(ctx context.Context, ownerID string) *partner.Strategy {
	selector := s.Selector
	if selector == nil {
		selector = partner.DefaultSelector{}
	}
	if strategy := selector.StrategyFor(partner.RequestFrom(ctx), ownerID); strategy != nil {
		return strategy
	}
	return partner.Default()
}

// Create opens an empty basket for ownerID.
func (s *Service) Create(ctx context.Context, ownerID string) (*Basket, error) {
	b := New(ownerID, s.strategyFor(ctx, ownerID))
	b.MaxQuantity = s.MaxQuantity
	b.now = s.now
	b.CreatedAt = s.now()
	b.UpdatedAt = b.CreatedAt
	if err := s.Store.Save(ctx, b.Snapshot()); err != nil {
		return nil, err
	}
	return b, nil
}

// Load restores a basket without applying offers.
func (s *Service) Load(ctx context.Context, id uuid.UUID) (*Basket, error) {
	snap, err := s.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := Restore(ctx, snap, s.Catalog, s.strategyFor(ctx, snap.OwnerID))
	if err != nil {
		return nil, err
	}
	b.now = s.now
	return b, nil
}

// Get loads a basket and prices it.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	b, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.price(ctx, b, "")
}

// price applies offers and shipping to b. method selects a shipping method by
// code; empty picks the default.
func (s *Service) price(ctx context.Context, b *Basket, method string) (*View, error) {
	ctx, span := otel.Tracer("basket.Service").Start(ctx, "Service.price")
	defer span.End()
	span.SetAttributes(attribute.String("basket.id", b.ID.String()), attribute.Int("basket.lines", b.NumLines()))

	view := &View{Basket: b, Rejected: map[string]error{}}
	if s.Applicator != nil {
		offers, rejected, err := s.Applicator.Offers(ctx, b.VoucherCodes, b.OwnerID)
		if err != nil {
			return nil, err
		}
		view.Rejected = rejected
		s.Applicator.Apply(ctx, b, offers)
		for _, o := range offers {
			if _, applied := b.AppliedOffers()[o.ID]; applied {
				continue
			}
			if msg := o.UpsellMessage(b); msg != "" && o.IsConditionPartiallySatisfied(b) {
				view.Upsells = append(view.Upsells, msg)
			}
		}
	}

	charge := shipping.Charge{Currency: b.Currency(), Amount: decimal.Zero, Discount: decimal.Zero}
	if s.Shipping != nil && !b.IsEmpty() {
		m, err := s.shippingMethod(b, method)
		if err != nil {
			return nil, err
		}
		if charge, err = m.Calculate(b); err != nil {
			return nil, fmt.Errorf("shipping %s: %w", m.Code(), err)
		}
		view.Method = m.Code()
	}
	view.Shipping = charge
	view.Summary = b.Summary(charge.Amount, charge.Discount)
	view.Warnings = b.Warnings()
	return view, nil
}

func (s *Service) shippingMethod(b *Basket, code string) (shipping.Method, error) {
	if code == "" {
		return s.Shipping.Default(b), nil
	}
	return s.Shipping.Method(b, code)
}

// AddLineInput describes a line addition.
type AddLineInput struct {
	ItemID   uuid.UUID
	Quantity int
	Options  map[string]string
}

// AddLine adds units of an item to the basket and reprices it.
func (s *Service) AddLine(ctx context.Context, id uuid.UUID, in AddLineInput) (*View, error) {
	b, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	item, err := s.Catalog.Item(ctx, in.ItemID)
	if err != nil {
		return nil, err
	}
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("quantity %d: %w", in.Quantity, ErrInvalidQuantity)
	}
	if ok, reason := b.IsQuantityAllowed(in.Quantity); !ok {
		s.countLine("limit")
		return nil, &RefusalError{Err: ErrQuantityNotAllowed, Reason: reason}
	}
	line, err := b.Add(item, in.Quantity, in.Options)
	if err != nil {
		s.countLine("rejected")
		return nil, err
	}
	// The basket is discarded unsaved when the combined quantity is refused.
	if ok, reason := line.IsAvailableForPurchase(); !ok {
		s.countLine("unavailable")
		return nil, &RefusalError{Err: ErrNotPurchasable, Reason: reason}
	}
	if err := s.Store.Save(ctx, b.Snapshot()); err != nil {
		return nil, err
	}
	s.countLine("added")
	s.emit(ctx, events.TopicBasketLineAdded, b.ID, events.BasketLineAdded{
		BasketID: b.ID,
		ItemID:   item.ID,
		UserID:   b.OwnerID,
		Quantity: in.Quantity,
	})
	return s.price(ctx, b, "")
}

// SetLineQuantity changes a line's quantity; zero removes it.
func (s *Service) SetLineQuantity(ctx context.Context, id uuid.UUID, reference string, quantity int) (*View, error) {
	b, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if line, ok := b.Line(reference); ok && quantity > line.quantity {
		if ok, reason := b.IsQuantityAllowed(quantity - line.quantity); !ok {
			return nil, &RefusalError{Err: ErrQuantityNotAllowed, Reason: reason}
		}
	}
	if err := b.SetQuantity(reference, quantity); err != nil {
		return nil, err
	}
	if err := s.Store.Save(ctx, b.Snapshot()); err != nil {
		return nil, err
	}
	return s.price(ctx, b, "")
}

// AddVoucher attaches a voucher code. The code is kept only when it is valid
// for the owner and at least one of its offers applies.
func (s *Service) AddVoucher(ctx context.Context, id uuid.UUID, code string) (*View, error) {
	if s.Applicator == nil {
		return nil, errors.New("basket: offers not configured")
	}
	b, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	code = offer.NormalizeCode(code)
	if _, err := s.Applicator.Voucher(ctx, code, b.OwnerID); err != nil {
		return nil, err
	}
	if err := b.AddVoucher(code); err != nil {
		return nil, err
	}
	view, err := s.price(ctx, b, "")
	if err != nil {
		return nil, err
	}
	if !voucherApplied(b, code) {
		return nil, &RefusalError{
			Err:    ErrVoucherNotApplied,
			Reason: fmt.Sprintf("Your basket does not qualify for a voucher discount for code %s", code),
		}
	}
	if err := s.Store.Save(ctx, b.Snapshot()); err != nil {
		return nil, err
	}
	return view, nil
}

// RemoveVoucher detaches a voucher code.
func (s *Service) RemoveVoucher(ctx context.Context, id uuid.UUID, code string) (*View, error) {
	b, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	b.RemoveVoucher(code)
	if err := s.Store.Save(ctx, b.Snapshot()); err != nil {
		return nil, err
	}
	return s.price(ctx, b, "")
}

func voucherApplied(b *Basket, code string) bool {
	for _, app := range b.applications.All() {
		if app.VoucherCode == code {
			return true
		}
	}
	return false
}

// ShippingQuotes prices every shipping method for the basket.
func (s *Service) ShippingQuotes(ctx context.Context, id uuid.UUID) ([]shipping.Quote, error) {
	view, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Shipping == nil {
		return []shipping.Quote{}, nil
	}
	return s.Shipping.Quotes(view.Basket), nil
}

// Submit allocates stock for every line, records offer and voucher usage and
// marks the basket submitted. Allocations are rolled back when any line fails.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, method string) (*View, error) {
	ctx, span := otel.Tracer("basket.Service").Start(ctx, "Service.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("basket.id", id.String()))

	b, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.CanBeSubmitted() {
		return nil, fmt.Errorf("status %s: %w", b.Status, ErrNotEditable)
	}
	if b.IsEmpty() {
		return nil, ErrEmpty
	}
	view, err := s.price(ctx, b, method)
	if err != nil {
		return nil, err
	}
	for _, line := range b.lines {
		if ok, reason := line.IsAvailableForPurchase(); !ok {
			return nil, &RefusalError{Err: ErrNotPurchasable, Reason: reason}
		}
	}
	if err := s.allocate(ctx, b); err != nil {
		return nil, err
	}
	if err := b.Submit(); err != nil {
		s.release(ctx, b.lines)
		return nil, err
	}
	if err := s.Store.Save(ctx, b.Snapshot()); err != nil {
		s.release(ctx, b.lines)
		return nil, err
	}
	s.recordUsage(ctx, b)

	placed := events.OrderPlaced{
		BasketID: b.ID,
		UserID:   b.OwnerID,
		Currency: b.Currency(),
		Total:    view.Summary.Total.StringFixed(pricing.Exponent(b.Currency())),
	}
	for _, line := range b.lines {
		ol := events.OrderLine{ItemID: line.item.ID, Quantity: line.quantity}
		if line.stockRecord != nil {
			ol.StockRecordID = line.stockRecord.ID
		}
		placed.Lines = append(placed.Lines, ol)
	}
	s.emit(ctx, events.TopicOrderPlaced, b.ID, placed)
	s.Logger.Info().Str("basket_id", b.ID.String()).Str("total", placed.Total).Int("lines", len(placed.Lines)).Msg("basket submitted")
	return view, nil
}

func (s *Service) allocate(ctx context.Context, b *Basket) error {
	if s.Stock == nil {
		return nil
	}
	var done []*Line
	for _, line := range b.lines {
		if line.stockRecord == nil {
			continue
		}
		if _, err := s.Stock.Allocate(ctx, line.item, line.stockRecord.ID, line.quantity); err != nil {
			s.release(ctx, done)
			return err
		}
		done = append(done, line)
	}
	return nil
}

func (s *Service) release(ctx context.Context, lines []*Line) {
	if s.Stock == nil {
		return
	}
	for _, line := range lines {
		if line.stockRecord == nil {
			continue
		}
		if _, err := s.Stock.CancelAllocation(ctx, line.item, line.stockRecord.ID, line.quantity); err != nil {
			s.Logger.Error().Err(err).Str("stock_record_id", line.stockRecord.ID.String()).Msg("allocation rollback failed")
		}
	}
}

// recordUsage bumps offer application counts and voucher usage. The order is
// already committed, so failures are logged.
func (s *Service) recordUsage(ctx context.Context, b *Basket) {
	if s.Applicator == nil || s.Applicator.Repository == nil {
		return
	}
	repo := s.Applicator.Repository
	freq := make(map[uuid.UUID]int)
	for _, app := range b.applications.All() {
		freq[app.OfferID] += app.Freq
	}
	if len(freq) > 0 {
		if err := repo.RecordApplications(ctx, freq); err != nil {
			s.Logger.Error().Err(err).Str("basket_id", b.ID.String()).Msg("record offer applications failed")
		}
	}
	for _, code := range b.VoucherCodes {
		if !voucherApplied(b, code) {
			continue
		}
		v, err := repo.VoucherByCode(ctx, code)
		if err == nil {
			err = repo.RecordVoucherUsage(ctx, v.ID, b.ID, b.OwnerID)
		}
		if err != nil {
			s.Logger.Error().Err(err).Str("voucher", code).Msg("record voucher usage failed")
		}
	}
}

func (s *Service) emit(ctx context.Context, topic string, id uuid.UUID, payload any) {
	if s.Bus == nil {
		return
	}
	if _, err := s.Bus.Emit(ctx, topic, id, payload); err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Str("basket_id", id.String()).Msg("event dispatch failed")
	}
}

func (s *Service) countLine(result string) {
	if obs.BasketLinesTotal != nil {
		obs.BasketLinesTotal.WithLabelValues(result).Inc()
	}
}
