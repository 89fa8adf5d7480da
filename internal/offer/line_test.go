package offer_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-offers/internal/offer"
)

func TestLineConsumerSharing(t *testing.T) {
	a := &offer.ConditionalOffer{ID: uuid.New()}
	b := &offer.ConditionalOffer{ID: uuid.New()}
	excl := &offer.ConditionalOffer{ID: uuid.New(), Exclusive: true}

	c := offer.NewLineConsumer()
	require.Equal(t, 1, c.Consume(3, 1, a))
	require.Equal(t, 2, c.Available(3, a))
	require.Equal(t, 3, c.Available(3, b), "non-exclusive offers do not block each other")
	require.Equal(t, 0, c.Available(3, excl), "exclusive offers need an untouched line")

	require.Equal(t, 2, c.Consume(3, 5, a))
	require.Equal(t, 0, c.Available(3, a))
	require.Equal(t, 3, c.Consumed(nil))
	require.Equal(t, 0, c.Available(3, nil))
	require.Len(t, c.Offers(), 1)

	c.Reset()
	require.Equal(t, 0, c.Consumed(nil))
	require.Empty(t, c.Offers())
}

func TestLineConsumerExclusiveOwner(t *testing.T) {
	a := &offer.ConditionalOffer{ID: uuid.New()}
	excl := &offer.ConditionalOffer{ID: uuid.New(), Exclusive: true}

	c := offer.NewLineConsumer()
	require.Equal(t, 1, c.Consume(4, 1, excl))
	require.Equal(t, 3, c.Available(4, excl))
	require.Equal(t, 0, c.Available(4, a))
	require.Equal(t, 0, c.Consume(4, 1, a))
	require.Equal(t, 1, c.Consumed(excl))
	require.Equal(t, 0, c.Consumed(a))
}
