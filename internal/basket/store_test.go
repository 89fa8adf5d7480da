package basket_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-offers/internal/basket"
	"github.com/noah-isme/toko-offers/internal/cache"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*basket.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return basket.NewRedisStore(cache.New(client, ttl)), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, time.Hour)
	s := newShop()
	dune, _ := s.item(t, "Dune", "GBP", "10.00", 10)

	b := basket.New("u1", nil)
	_, err := b.Add(dune, 2, map[string]string{"wrap": "gold"})
	require.NoError(t, err)
	require.NoError(t, b.AddVoucher("save10"))
	require.NoError(t, store.Save(ctx, b.Snapshot()))

	key := cache.KeyBasket(b.ID.String())
	require.True(t, mr.Exists(key))
	require.Equal(t, time.Hour, mr.TTL(key))

	snap, err := store.Load(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, "u1", snap.OwnerID)
	require.Equal(t, []string{"SAVE10"}, snap.VoucherCodes)
	require.Len(t, snap.Lines, 1)
	require.Equal(t, dune.ID, snap.Lines[0].ItemID)
	require.Equal(t, "gold", snap.Lines[0].Options["wrap"])
	require.True(t, snap.Lines[0].PriceExclTax.Decimal.Equal(d("10.00")))

	restored, err := basket.Restore(ctx, snap, s.store, nil)
	require.NoError(t, err)
	require.Equal(t, 2, restored.NumItems())

	mr.FastForward(2 * time.Hour)
	_, err = store.Load(ctx, b.ID)
	require.ErrorIs(t, err, basket.ErrNotFound)
}

func TestRedisStoreDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t, 0)
	b := basket.New("", nil)
	require.NoError(t, store.Save(ctx, b.Snapshot()))
	require.NoError(t, store.Delete(ctx, b.ID))
	_, err := store.Load(ctx, b.ID)
	require.ErrorIs(t, err, basket.ErrNotFound)

	_, err = store.Load(ctx, uuid.New())
	require.ErrorIs(t, err, basket.ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := basket.NewMemoryStore()
	b := basket.New("", nil)
	require.NoError(t, store.Save(ctx, b.Snapshot()))
	snap, err := store.Load(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, b.ID, snap.ID)
	require.NoError(t, store.Delete(ctx, b.ID))
	_, err = store.Load(ctx, b.ID)
	require.ErrorIs(t, err, basket.ErrNotFound)
}
