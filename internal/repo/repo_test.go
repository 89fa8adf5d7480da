package repo_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-offers/internal/alerts"
	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/db"
	"github.com/noah-isme/toko-offers/internal/events"
	"github.com/noah-isme/toko-offers/internal/offer"
	"github.com/noah-isme/toko-offers/internal/queue"
	"github.com/noah-isme/toko-offers/internal/repo"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, db.Up(url, zerolog.Nop()))
	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func suffix() string { return uuid.NewString()[:8] }

func seedItem(t *testing.T, store *repo.CatalogStore, inStock int) (*catalog.Item, *catalog.StockRecord) {
	t.Helper()
	sfx := suffix()
	class := &catalog.ItemClass{ID: uuid.New(), Name: "Books " + sfx, Slug: "books-" + sfx, TrackStock: true, RequiresShipping: true}
	category := &catalog.Category{ID: uuid.New(), Name: "Fiction " + sfx, Slug: "fiction-" + sfx, Path: "9" + sfx[:3], Depth: 1}
	n := inStock
	threshold := 2
	parent := &catalog.Item{
		ID: uuid.New(), Structure: catalog.StructureParent, Title: "Dune " + sfx, Slug: "dune-" + sfx,
		Class: class, IsPublic: true, Categories: []*catalog.Category{category}, CreatedAt: time.Now().UTC(),
	}
	child := &catalog.Item{
		ID: uuid.New(), Structure: catalog.StructureChild, UPC: "upc-" + sfx, Slug: "dune-hb-" + sfx,
		Parent: parent, IsPublic: true, Attributes: map[string]string{"weight": "0.8"}, CreatedAt: time.Now().UTC(),
	}
	record := &catalog.StockRecord{
		ID: uuid.New(), ItemID: child.ID, PartnerID: uuid.New(), PartnerName: "Acme", PartnerSKU: "sku-" + sfx,
		Currency: "GBP", Price: decimal.NewNullDecimal(decimal.RequireFromString("12.50")),
		NumInStock: &n, LowStockThreshold: &threshold, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	child.StockRecords = []*catalog.StockRecord{record}
	parent.Children = []*catalog.Item{child}

	err := store.ImportCatalog(context.Background(), repo.CatalogSnapshot{
		Classes:    []*catalog.ItemClass{class},
		Categories: []*catalog.Category{category},
		Items:      []*catalog.Item{parent},
	})
	require.NoError(t, err)
	return child, record
}

func TestCatalogStoreLoadsFamilies(t *testing.T) {
	pool := testPool(t)
	store := repo.NewCatalogStore(pool)
	ctx := context.Background()
	child, record := seedItem(t, store, 5)

	got, err := store.Item(ctx, child.ID)
	require.NoError(t, err)
	require.True(t, got.IsChild())
	require.NotNil(t, got.Parent)
	require.Equal(t, child.Parent.Title, got.DisplayTitle())
	require.True(t, got.TracksStock(), "class resolves through the parent")
	require.Len(t, got.StockRecords, 1)
	require.True(t, got.StockRecords[0].Price.Decimal.Equal(decimal.RequireFromString("12.50")))
	v, ok := got.Attribute("weight")
	require.True(t, ok)
	require.Equal(t, "0.8", v)
	require.Len(t, got.Parent.Categories, 1)

	byCode, err := store.ItemByCode(ctx, record.PartnerSKU)
	require.NoError(t, err)
	require.Equal(t, child.ID, byCode.ID)

	_, err = store.Item(ctx, uuid.New())
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestConcurrentAllocationsNeverOversell(t *testing.T) {
	pool := testPool(t)
	store := repo.NewCatalogStore(pool)
	ctx := context.Background()
	_, record := seedItem(t, store, 5)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		refused int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Allocate(ctx, record.ID, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, catalog.ErrInsufficientStock):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 5, ok)
	require.Equal(t, 7, refused)

	sr, err := store.ConsumeAllocation(ctx, record.ID, 2)
	require.NoError(t, err)
	require.Equal(t, 3, *sr.NumInStock)
	require.Equal(t, 3, sr.NumAllocated)

	_, err = store.ConsumeAllocation(ctx, record.ID, 4)
	require.ErrorIs(t, err, catalog.ErrInvalidStockAdjustment)

	sr, err = store.CancelAllocation(ctx, record.ID, 10)
	require.NoError(t, err)
	require.Zero(t, sr.NumAllocated)
}

func TestOfferStoreRoundTrip(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	child, _ := seedItem(t, repo.NewCatalogStore(pool), 5)
	store := repo.NewOfferStore(pool)
	sfx := suffix()

	rng := &offer.Range{Name: "Dune range " + sfx, Included: []uuid.UUID{child.Parent.ID}}
	require.NoError(t, store.SaveRange(ctx, rng))
	o := &offer.ConditionalOffer{
		Name:                  "Pair deal " + sfx,
		Type:                  offer.SiteOffer,
		Priority:              100000,
		MaxGlobalApplications: 3,
		Condition:             &offer.Condition{Type: offer.CountCondition, Range: rng, Value: decimal.NewFromInt(2)},
		Benefit:               &offer.Benefit{Type: offer.PercentageBenefit, Range: rng, Value: decimal.NewFromInt(10)},
	}
	require.NoError(t, store.SaveOffer(ctx, o))

	got, err := store.Offer(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, o.Name, got.Name)
	require.NotNil(t, got.Condition.Range)
	require.True(t, got.Condition.Range.ContainsItem(child))
	require.True(t, got.Benefit.Value.Equal(decimal.NewFromInt(10)))

	require.NoError(t, store.RecordApplications(ctx, map[uuid.UUID]int{o.ID: 3}))
	got, err = store.Offer(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.NumApplications)
	require.Equal(t, offer.StatusConsumed, got.Status)

	v := &offer.Voucher{Name: "Welcome", Code: "welcome-" + sfx, Usage: offer.MultiUse, OfferIDs: []uuid.UUID{o.ID}}
	require.NoError(t, store.SaveVoucher(ctx, v))
	found, err := store.VoucherByCode(ctx, " Welcome-"+sfx)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{o.ID}, found.OfferIDs)

	basketID := uuid.New()
	require.NoError(t, store.RecordVoucherUsage(ctx, v.ID, basketID, "u1"))
	require.NoError(t, store.RecordVoucherUsage(ctx, v.ID, basketID, "u1"))
	n, err := store.CountVoucherUsage(ctx, v.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	found, err = store.VoucherByCode(ctx, v.Code)
	require.NoError(t, err)
	require.Equal(t, 1, found.NumOrders)
}

func TestAlertStoreRaisesOnce(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	child, record := seedItem(t, repo.NewCatalogStore(pool), 5)
	store := repo.AlertStore{DB: pool}
	now := time.Now().UTC().Truncate(time.Microsecond)

	raised := 0
	for i := 0; i < 3; i++ {
		ok, err := store.RaiseAlert(ctx, &alerts.StockAlert{StockRecordID: record.ID, ItemID: child.ID, Threshold: 2, CreatedAt: now})
		require.NoError(t, err)
		if ok {
			raised++
		}
	}
	require.Equal(t, 1, raised)
	closed, err := store.CloseAlerts(ctx, record.ID, now)
	require.NoError(t, err)
	require.Equal(t, 1, closed)

	sub := &alerts.Subscription{ItemID: child.ID, Email: "reader@example.com", Status: alerts.StatusActive, CreatedAt: now}
	require.NoError(t, store.InsertSubscription(ctx, sub))
	err = store.InsertSubscription(ctx, &alerts.Subscription{ItemID: child.ID, Email: "READER@example.com", Status: alerts.StatusActive, CreatedAt: now})
	require.ErrorIs(t, err, alerts.ErrAlreadySubscribed)

	active, err := store.ActiveSubscriptions(ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.NoError(t, store.SetSubscriptionStatus(ctx, sub.ID, alerts.StatusClosed, now))
	got, err := store.Subscription(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, alerts.StatusClosed, got.Status)
	require.NotNil(t, got.ClosedAt)
}

func TestEventAndDeadLetterStores(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	bus := &events.Bus{Store: repo.EventStore{DB: pool}}
	aggregate := uuid.New()
	_, err := bus.Emit(ctx, events.TopicItemViewed, aggregate, events.ItemViewed{ItemID: aggregate})
	require.NoError(t, err)
	stored, err := repo.EventStore{DB: pool}.EventsFor(ctx, aggregate, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, events.TopicItemViewed, stored[0].Topic)

	dls := repo.DeadLetterStore{DB: pool}
	kind := "test:" + suffix()
	require.NoError(t, dls.InsertDeadLetter(ctx, queue.DeadLetter{Kind: kind, Payload: []byte(`{}`), Attempts: 5, LastError: "boom", FailedAt: time.Now()}))
	counts, err := dls.CountByKind(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, counts[kind])
}
