package basket_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-offers/internal/basket"
	"github.com/noah-isme/toko-offers/internal/partner"
)

func TestAddMergesMatchingLines(t *testing.T) {
	s := newShop()
	dune, _ := s.item(t, "Dune", "GBP", "10.00", 10)
	b := basket.New("u1", nil)

	line, err := b.Add(dune, 2, nil)
	require.NoError(t, err)
	_, err = b.Add(dune, 1, nil)
	require.NoError(t, err)
	require.Equal(t, 1, b.NumLines())
	require.Equal(t, 3, line.Quantity())
	require.Equal(t, "GBP", b.Currency())

	gift, err := b.Add(dune, 1, map[string]string{"wrap": "gold"})
	require.NoError(t, err)
	require.NotEqual(t, line.Reference(), gift.Reference())
	require.Equal(t, 2, b.NumLines())
	require.Equal(t, 4, b.NumItems())

	_, err = b.Add(dune, -5, nil)
	require.NoError(t, err)
	require.Equal(t, 1, b.NumLines(), "a line reduced to zero is removed")

	_, err = b.Add(dune, 0, nil)
	require.ErrorIs(t, err, basket.ErrInvalidQuantity)
}

func TestAddRejectsUnpricedAndMixedCurrency(t *testing.T) {
	s := newShop()
	dune, _ := s.item(t, "Dune", "GBP", "10.00", 10)
	euro, _ := s.item(t, "Momo", "EUR", "8.00", 10)
	draft, _ := s.item(t, "Draft", "GBP", "", 10)
	b := basket.New("", nil)

	_, err := b.Add(draft, 1, nil)
	require.ErrorIs(t, err, basket.ErrMissingPrice)

	_, err = b.Add(dune, 1, nil)
	require.NoError(t, err)
	_, err = b.Add(euro, 1, nil)
	require.ErrorIs(t, err, basket.ErrCurrencyMismatch)
	require.Equal(t, 1, b.NumLines())

	lower, _ := s.item(t, "Emma", "gbp", "7.00", 10)
	_, err = b.Add(lower, 1, nil)
	require.NoError(t, err, "currency codes compare case-insensitively")
	require.Equal(t, 2, b.NumLines())
}

func TestSetQuantity(t *testing.T) {
	s := newShop()
	dune, _ := s.item(t, "Dune", "GBP", "10.00", 10)
	b := basket.New("", nil)
	line, err := b.Add(dune, 1, nil)
	require.NoError(t, err)

	require.NoError(t, b.SetQuantity(line.Reference(), 4))
	require.Equal(t, 4, b.NumItems())
	require.ErrorIs(t, b.SetQuantity(line.Reference(), -1), basket.ErrInvalidQuantity)
	require.ErrorIs(t, b.SetQuantity("missing", 1), basket.ErrLineNotFound)
	require.NoError(t, b.SetQuantity(line.Reference(), 0))
	require.True(t, b.IsEmpty())
}

func TestTotalsWithTax(t *testing.T) {
	s := newShop()
	dune, _ := s.item(t, "Dune", "GBP", "10.00", 10)
	ghost, _ := s.item(t, "Ghost", "GBP", "2.50", 10)
	b := basket.New("", partner.UK(d("0.20")))
	_, err := b.Add(dune, 2, nil)
	require.NoError(t, err)
	_, err = b.Add(ghost, 1, nil)
	require.NoError(t, err)

	require.True(t, b.IsTaxKnown())
	require.True(t, b.TotalExclTax().Equal(d("22.50")))
	require.True(t, b.TotalTax().Equal(d("4.50")))
	require.True(t, b.TotalInclTax().Equal(d("27.00")))
	require.True(t, b.TotalDiscount().IsZero())

	summary := b.Summary(d("3.00"), d("1.00"))
	require.True(t, summary.Subtotal.Equal(d("22.50")))
	require.True(t, summary.Total.Equal(d("29.00")))

	b.SetStrategy(partner.US())
	require.False(t, b.IsTaxKnown())
	require.True(t, b.TotalInclTax().IsZero())
	require.True(t, b.TotalExclTax().Equal(d("22.50")))
}

func TestQuantityLimit(t *testing.T) {
	s := newShop()
	dune, _ := s.item(t, "Dune", "GBP", "10.00", 10)
	b := basket.New("", nil)

	_, limited := b.MaxAllowedQuantity()
	require.False(t, limited)

	b.MaxQuantity = 3
	_, err := b.Add(dune, 2, nil)
	require.NoError(t, err)
	left, limited := b.MaxAllowedQuantity()
	require.True(t, limited)
	require.Equal(t, 1, left)

	ok, reason := b.IsQuantityAllowed(2)
	require.False(t, ok)
	require.Equal(t, "Due to technical limitations we are not able to ship more than 3 items in one order.", reason)
	ok, _ = b.IsQuantityAllowed(1)
	require.True(t, ok)
}

func TestMerge(t *testing.T) {
	s := newShop()
	dune, _ := s.item(t, "Dune", "GBP", "10.00", 10)
	ghost, _ := s.item(t, "Ghost", "GBP", "2.50", 10)

	build := func() (*basket.Basket, *basket.Basket) {
		a := basket.New("u1", nil)
		_, err := a.Add(dune, 2, nil)
		require.NoError(t, err)
		other := basket.New("", nil)
		_, err = other.Add(dune, 3, nil)
		require.NoError(t, err)
		_, err = other.Add(ghost, 1, nil)
		require.NoError(t, err)
		require.NoError(t, other.AddVoucher(" save10 "))
		return a, other
	}

	a, other := build()
	require.NoError(t, a.Merge(other, true))
	require.Equal(t, 6, a.NumItems())
	require.Equal(t, []string{"SAVE10"}, a.VoucherCodes)
	require.Equal(t, basket.StatusMerged, other.Status)
	require.True(t, other.IsEmpty())

	a, other = build()
	require.NoError(t, a.Merge(other, false))
	require.Equal(t, 4, a.NumItems(), "the larger quantity wins")
}

func TestStatusTransitions(t *testing.T) {
	s := newShop()
	dune, _ := s.item(t, "Dune", "GBP", "10.00", 10)
	b := basket.New("", nil)
	_, err := b.Add(dune, 1, nil)
	require.NoError(t, err)

	b.Freeze()
	require.False(t, b.CanBeEdited())
	_, err = b.Add(dune, 1, nil)
	require.ErrorIs(t, err, basket.ErrNotEditable)
	require.ErrorIs(t, b.AddVoucher("X"), basket.ErrNotEditable)

	b.Thaw()
	require.True(t, b.CanBeEdited())
	b.Freeze()
	require.NoError(t, b.Submit())
	require.Equal(t, basket.StatusSubmitted, b.Status)
	require.NotNil(t, b.SubmittedAt)
	require.ErrorIs(t, b.Submit(), basket.ErrNotEditable)
	require.ErrorIs(t, b.Flush(), basket.ErrNotEditable)
}

func TestRestoreRefreshesAndWarns(t *testing.T) {
	ctx := context.Background()
	s := newShop()
	dune, duneRecord := s.item(t, "Dune", "GBP", "10.00", 10)
	ghost, _ := s.item(t, "Ghost", "GBP", "2.50", 10)
	momo, momoRecord := s.item(t, "Momo", "GBP", "4.00", 10)

	b := basket.New("u1", nil)
	_, err := b.Add(dune, 1, nil)
	require.NoError(t, err)
	_, err = b.Add(ghost, 1, nil)
	require.NoError(t, err)
	_, err = b.Add(momo, 2, nil)
	require.NoError(t, err)
	require.NoError(t, b.AddVoucher("save10"))

	snap := b.Snapshot()
	require.Len(t, snap.Lines, 3)
	snap.Lines[1].StockRecordID = ptr(uuid.New())

	duneRecord.Price.Decimal = d("12.00")
	momoRecord.NumInStock = intp(0)

	restored, err := basket.Restore(ctx, snap, s.store, partner.Default())
	require.NoError(t, err)
	require.Equal(t, b.ID, restored.ID)
	require.Equal(t, []string{"SAVE10"}, restored.VoucherCodes)
	require.Equal(t, 2, restored.NumLines(), "lines whose stock record vanished are dropped")
	require.True(t, restored.TotalExclTax().Equal(d("20.00")))
	require.Equal(t, []string{
		"The price of 'Dune' has increased from £10.00 to £12.00 since you added it to your basket",
		"'Momo' is no longer available",
	}, restored.Warnings())

	snap.Lines[0].ItemID = uuid.New()
	restored, err = basket.Restore(ctx, snap, s.store, partner.Default())
	require.NoError(t, err)
	require.Equal(t, 1, restored.NumLines())
}

func ptr[T any](v T) *T { return &v }
