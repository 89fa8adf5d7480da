package basket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-offers/internal/basket"
	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/events"
	"github.com/noah-isme/toko-offers/internal/lock"
	"github.com/noah-isme/toko-offers/internal/offer"
	"github.com/noah-isme/toko-offers/internal/partner"
	"github.com/noah-isme/toko-offers/internal/shipping"
	"github.com/noah-isme/toko-offers/internal/stock"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	topics []string
	placed []events.OrderPlaced
}

func (r *recorder) handle(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, ev.Topic)
	if ev.Topic == events.TopicOrderPlaced {
		var p events.OrderPlaced
		if err := ev.Decode(&p); err != nil {
			return err
		}
		r.placed = append(r.placed, p)
	}
	return nil
}

type serviceFixture struct {
	svc    *basket.Service
	shop   *shop
	offers *offer.MemoryRepository
	events *recorder
	dune   *catalog.Item
	record *catalog.StockRecord
	pair   *offer.ConditionalOffer
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := newShop()
	dune, record := s.item(t, "Dune", "GBP", "10.00", 3)

	repo := offer.NewMemoryRepository()
	all := &offer.Range{Name: "All", IncludesAll: true}
	require.NoError(t, repo.SaveRange(ctx, all))
	pair := &offer.ConditionalOffer{
		Name:      "Pair deal",
		Condition: &offer.Condition{Type: offer.CountCondition, Range: all, Value: d("2")},
		Benefit:   &offer.Benefit{Type: offer.PercentageBenefit, Range: all, Value: d("10")},
	}
	require.NoError(t, repo.SaveOffer(ctx, pair))
	freeShip := &offer.ConditionalOffer{
		Name:      "Cheap shipping",
		Type:      offer.VoucherOffer,
		Condition: &offer.Condition{Type: offer.CountCondition, Range: all, Value: d("1")},
		Benefit:   &offer.Benefit{Type: offer.ShippingFixedPriceBenefit, Value: d("1.00")},
	}
	require.NoError(t, repo.SaveOffer(ctx, freeShip))
	require.NoError(t, repo.SaveVoucher(ctx, &offer.Voucher{
		Name:     "Ship for a pound",
		Code:     "SHIP1",
		Usage:    offer.MultiUse,
		OfferIDs: []uuid.UUID{freeShip.ID},
	}))

	rec := &recorder{}
	bus := &events.Bus{}
	for _, topic := range events.DefaultTopics() {
		bus.Subscribe(topic, rec.handle)
	}

	svc := &basket.Service{
		Store:      basket.NewMemoryStore(),
		Catalog:    s.store,
		Applicator: &offer.Applicator{Repository: repo, Logger: zerolog.Nop(), Now: func() time.Time { return now }},
		Stock: &stock.Ledger{
			Store:   s.store,
			Locker:  lock.Locker{R: client, RetryBackoff: time.Millisecond},
			Bus:     bus,
			LockTTL: time.Second,
			Logger:  zerolog.Nop(),
		},
		Bus: bus,
		Shipping: shipping.NewRepository(
			shipping.WeightBased{MethodCode: "standard", MethodName: "Standard", Bands: []shipping.Band{{UpperLimit: d("10"), Charge: d("5.00")}}},
			shipping.Free{},
		),
		MaxQuantity: 5,
		Logger:      zerolog.Nop(),
		Now:         func() time.Time { return now },
	}
	return &serviceFixture{svc: svc, shop: s, offers: repo, events: rec, dune: dune, record: record, pair: pair}
}

func TestServiceAddLineAppliesOffers(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	b, err := f.svc.Create(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 5, b.MaxQuantity)

	view, err := f.svc.AddLine(ctx, b.ID, basket.AddLineInput{ItemID: f.dune.ID, Quantity: 1})
	require.NoError(t, err)
	require.True(t, view.Basket.TotalDiscount().IsZero())
	require.Equal(t, []string{"Buy 1 more product from All"}, view.Upsells)
	require.Equal(t, "standard", view.Method)
	require.True(t, view.Summary.Total.Equal(d("15.00")))

	view, err = f.svc.AddLine(ctx, b.ID, basket.AddLineInput{ItemID: f.dune.ID, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, 2, view.Basket.NumItems())
	require.True(t, view.Basket.TotalDiscount().Equal(d("2.00")))
	require.Equal(t, 2, view.Basket.NumItemsWithDiscount())
	require.Empty(t, view.Upsells)
	require.True(t, view.Summary.Total.Equal(d("23.00")))

	require.Equal(t, []string{events.TopicBasketLineAdded, events.TopicBasketLineAdded}, f.events.topics)
}

func TestServiceAddLineRefusals(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	b, err := f.svc.Create(ctx, "")
	require.NoError(t, err)

	_, err = f.svc.AddLine(ctx, b.ID, basket.AddLineInput{ItemID: f.dune.ID, Quantity: 6})
	require.ErrorIs(t, err, basket.ErrQuantityNotAllowed)

	_, err = f.svc.AddLine(ctx, b.ID, basket.AddLineInput{ItemID: f.dune.ID, Quantity: 4})
	require.ErrorIs(t, err, basket.ErrNotPurchasable)
	var refusal *basket.RefusalError
	require.ErrorAs(t, err, &refusal)
	require.Equal(t, "a maximum of 3 can be bought", refusal.Reason)

	_, err = f.svc.AddLine(ctx, b.ID, basket.AddLineInput{ItemID: uuid.New(), Quantity: 1})
	require.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = f.svc.AddLine(ctx, uuid.New(), basket.AddLineInput{ItemID: f.dune.ID, Quantity: 1})
	require.ErrorIs(t, err, basket.ErrNotFound)

	view, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, view.Basket.IsEmpty(), "refused additions are not saved")
	require.Empty(t, f.events.topics)
}

func TestServiceVouchers(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	b, err := f.svc.Create(ctx, "u1")
	require.NoError(t, err)

	_, err = f.svc.AddVoucher(ctx, b.ID, "ship1")
	require.ErrorIs(t, err, basket.ErrVoucherNotApplied)
	_, err = f.svc.AddVoucher(ctx, b.ID, "NOPE")
	require.ErrorIs(t, err, offer.ErrNotEligible)

	_, err = f.svc.AddLine(ctx, b.ID, basket.AddLineInput{ItemID: f.dune.ID, Quantity: 2})
	require.NoError(t, err)
	view, err := f.svc.AddVoucher(ctx, b.ID, "ship1")
	require.NoError(t, err)
	require.Equal(t, []string{"SHIP1"}, view.Basket.VoucherCodes)
	require.True(t, view.Shipping.Amount.Equal(d("5.00")))
	require.True(t, view.Shipping.Discount.Equal(d("4.00")))
	require.True(t, view.Summary.Total.Equal(d("19.00")))

	view, err = f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"SHIP1"}, view.Basket.VoucherCodes)

	quotes, err := f.svc.ShippingQuotes(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	require.True(t, quotes[0].Total.Equal(d("1.00")))
	require.Equal(t, "free-shipping", quotes[1].Code)

	view, err = f.svc.RemoveVoucher(ctx, b.ID, "ship1")
	require.NoError(t, err)
	require.Empty(t, view.Basket.VoucherCodes)
	require.True(t, view.Shipping.Discount.IsZero())
}

func TestServiceSubmit(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	b, err := f.svc.Create(ctx, "u1")
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, b.ID, "")
	require.ErrorIs(t, err, basket.ErrEmpty)

	_, err = f.svc.AddLine(ctx, b.ID, basket.AddLineInput{ItemID: f.dune.ID, Quantity: 2})
	require.NoError(t, err)
	_, err = f.svc.AddVoucher(ctx, b.ID, "SHIP1")
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, b.ID, "courier")
	require.ErrorIs(t, err, shipping.ErrUnknownMethod)

	view, err := f.svc.Submit(ctx, b.ID, "free-shipping")
	require.NoError(t, err)
	require.Equal(t, basket.StatusSubmitted, view.Basket.Status)
	require.True(t, view.Summary.Total.Equal(d("18.00")))

	sr, err := f.shop.store.StockRecord(ctx, f.record.ID)
	require.NoError(t, err)
	require.Equal(t, 2, sr.NumAllocated)

	stored, err := f.offers.Offer(ctx, f.pair.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.NumApplications)
	v, err := f.offers.VoucherByCode(ctx, "SHIP1")
	require.NoError(t, err)
	require.Equal(t, 1, v.NumOrders)

	require.Len(t, f.events.placed, 1)
	placed := f.events.placed[0]
	require.Equal(t, b.ID, placed.BasketID)
	require.Equal(t, "18.00", placed.Total)
	require.Equal(t, []events.OrderLine{{ItemID: f.dune.ID, StockRecordID: f.record.ID, Quantity: 2}}, placed.Lines)

	_, err = f.svc.Submit(ctx, b.ID, "")
	require.ErrorIs(t, err, basket.ErrNotEditable)
}

func TestServiceSubmitRollsBackAllocations(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	ghost, ghostRecord := f.shop.item(t, "Ghost", "GBP", "2.50", 5)

	b, err := f.svc.Create(ctx, "")
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, b.ID, basket.AddLineInput{ItemID: ghost.ID, Quantity: 2})
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, b.ID, basket.AddLineInput{ItemID: f.dune.ID, Quantity: 2})
	require.NoError(t, err)

	// Someone else takes the remaining copies of Dune after the check.
	f.svc.Stock.(*stock.Ledger).Store = &raceStore{MemoryStore: f.shop.store, steal: f.record.ID}

	_, err = f.svc.Submit(ctx, b.ID, "")
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	sr, err := f.shop.store.StockRecord(ctx, ghostRecord.ID)
	require.NoError(t, err)
	require.Equal(t, 0, sr.NumAllocated, "earlier allocations are released")

	view, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, basket.StatusOpen, view.Basket.Status)
}

// raceStore allocates stock for another buyer just before allocating steal.
type raceStore struct {
	*catalog.MemoryStore
	steal uuid.UUID
}

func (r *raceStore) Allocate(ctx context.Context, id uuid.UUID, quantity int) (*catalog.StockRecord, error) {
	if id == r.steal {
		if _, err := r.MemoryStore.Allocate(ctx, id, 2); err != nil {
			return nil, err
		}
	}
	return r.MemoryStore.Allocate(ctx, id, quantity)
}

// regionSelector prices VAT payers and requests flagged X-Region: uk with the
// UK strategy. Everyone else gets the default.
type regionSelector struct {
	mu       sync.Mutex
	owners   []string
	requests []*http.Request
}

func (s *regionSelector) StrategyFor(r *http.Request, userID string) *partner.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners = append(s.owners, userID)
	if r != nil {
		s.requests = append(s.requests, r)
		if r.Header.Get("X-Region") == "uk" {
			return partner.UK(partner.DefaultUKRate)
		}
	}
	if userID == "vat-payer" {
		return partner.UK(partner.DefaultUKRate)
	}
	return nil
}

func TestServiceResolvesStrategyPerOwner(t *testing.T) {
	f := newServiceFixture(t)
	sel := &regionSelector{}
	f.svc.Selector = sel
	ctx := context.Background()

	vat, err := f.svc.Create(ctx, "vat-payer")
	require.NoError(t, err)
	require.Equal(t, "uk", vat.Strategy().Name())
	view, err := f.svc.AddLine(ctx, vat.ID, basket.AddLineInput{ItemID: f.dune.ID, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, "uk", view.Basket.Strategy().Name())
	require.True(t, view.Basket.Lines()[0].UnitPriceInclTax().Decimal.Equal(d("12.00")))

	plain, err := f.svc.Create(ctx, "u2")
	require.NoError(t, err)
	view, err = f.svc.AddLine(ctx, plain.ID, basket.AddLineInput{ItemID: f.dune.ID, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, "default", view.Basket.Strategy().Name(), "a nil strategy falls back to the default")
	require.True(t, view.Basket.Lines()[0].UnitPriceInclTax().Decimal.Equal(d("10.00")))

	require.Contains(t, sel.owners, "vat-payer")
	require.Contains(t, sel.owners, "u2")
	require.Empty(t, sel.requests, "no request outside the HTTP layer")
}

func TestHandlerPassesRequestToSelector(t *testing.T) {
	f := newServiceFixture(t)
	sel := &regionSelector{}
	f.svc.Selector = sel
	h := &basket.Handler{Svc: f.svc}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/baskets", nil)
	req.Header.Set("X-Region", "uk")
	rec := httptest.NewRecorder()
	h.Create(rec, asUser(req, "u9"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created basketBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.Data.ID.String()

	body := `{"item_id":"` + f.dune.ID.String() + `","quantity":1}`
	req = httptest.NewRequest(http.MethodPost, "/api/v1/baskets/"+id+"/lines", strings.NewReader(body))
	req.Header.Set("X-Region", "uk")
	rec = httptest.NewRecorder()
	h.AddLine(rec, asUser(routed(req, map[string]string{"id": id}), "u9"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var added struct {
		Data struct {
			Lines []struct {
				UnitPriceInclTax decimal.Decimal `json:"unit_price_incl_tax"`
			} `json:"lines"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	require.Len(t, added.Data.Lines, 1)
	require.True(t, added.Data.Lines[0].UnitPriceInclTax.Equal(d("12.00")))

	require.NotEmpty(t, sel.requests)
	for _, r := range sel.requests {
		require.Equal(t, "uk", r.Header.Get("X-Region"))
	}
	require.Contains(t, sel.owners, "u9")
}
