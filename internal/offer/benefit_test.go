package offer_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-offers/internal/offer"
)

func apply(b *testBasket, offers ...*offer.ConditionalOffer) {
	a := &offer.Applicator{Logger: zerolog.Nop()}
	offer.SortOffers(offers)
	a.Apply(context.Background(), b, offers)
}

func TestCountConditionWithCappedPercentage(t *testing.T) {
	all := allRange("All")
	o := newOffer("20% off one of three",
		&offer.Condition{Type: offer.CountCondition, Range: all, Value: d("3")},
		&offer.Benefit{Type: offer.PercentageBenefit, Range: all, Value: d("20"), MaxAffectedItems: 1},
	)
	b := newBasket()
	line := b.add(product("Mug", "10.00"), 3)

	apply(b, o)

	require.Equal(t, 1, line.discounted)
	require.Equal(t, 2, line.quantity-line.discounted)
	require.True(t, line.discount.Equal(d("2.00")))
	require.False(t, o.IsConditionSatisfied(b), "every unit is consumed")
	apps := b.apps.All()
	require.Len(t, apps, 1)
	require.Equal(t, 1, apps[0].Freq)
}

func TestValueConditionSingleItem(t *testing.T) {
	all := allRange("All")
	o := newOffer("Spend 10 get 10%",
		&offer.Condition{Type: offer.ValueCondition, Range: all, Value: d("10")},
		&offer.Benefit{Type: offer.PercentageBenefit, Range: all, Value: d("10")},
	)
	b := newBasket()
	line := b.add(product("Lamp", "15.00"), 1)

	apply(b, o)

	require.True(t, line.discount.Equal(d("1.50")))
	require.Equal(t, 1, b.apps.All()[0].Freq)
	require.True(t, b.apps.TotalDiscount().Equal(d("1.50")))
}

func TestValueConditionConsumesMostExpensiveFirst(t *testing.T) {
	all := allRange("All")
	o := newOffer("Spend 10",
		&offer.Condition{Type: offer.ValueCondition, Range: all, Value: d("10")},
		&offer.Benefit{Type: offer.PercentageBenefit, Range: all, Value: d("10")},
	)
	b := newBasket()
	cheap := b.add(product("Pencil", "4.00"), 2)
	pricey := b.add(product("Atlas", "12.00"), 1)
	require.True(t, o.Condition.IsSatisfied(o, b))

	o.Condition.ConsumeItems(o, b, nil)

	require.Equal(t, 1, pricey.consumer.Consumed(o))
	require.Zero(t, cheap.consumer.Consumed(o), "the threshold is met before reaching cheaper lines")
	require.False(t, o.Condition.IsSatisfied(o, b))

	tied := newBasket()
	first := tied.add(product("Red pen", "6.00"), 1)
	second := tied.add(product("Blue pen", "6.00"), 1)
	o.Condition.Value = d("6")
	o.Condition.ConsumeItems(o, tied, nil)
	require.Equal(t, 1, first.consumer.Consumed(o), "equal prices keep basket order")
	require.Zero(t, second.consumer.Consumed(o))
}

func TestZeroAmountLinesStayUnconsumed(t *testing.T) {
	all := allRange("All")
	tenPct := newOffer("10% off",
		&offer.Condition{Type: offer.CountCondition, Range: all, Value: d("1")},
		&offer.Benefit{Type: offer.PercentageBenefit, Range: all, Value: d("10")},
	)
	tenPct.Priority = 10
	tenPct.MaxBasketApplications = 1
	penny := newOffer("1p off",
		&offer.Condition{Type: offer.CountCondition, Range: all, Value: d("1")},
		&offer.Benefit{Type: offer.AbsoluteBenefit, Range: all, Value: d("0.01")},
	)
	penny.Exclusive = true
	penny.MaxBasketApplications = 1

	b := newBasket()
	line := b.add(product("Sticker", "0.01"), 1)

	apply(b, tenPct, penny)

	require.Zero(t, line.consumer.Consumed(tenPct), "a discount that rounds to nothing consumes no units")
	require.Equal(t, 1, line.discounted)
	require.True(t, line.discount.Equal(d("0.01")))
	require.Equal(t, 1, b.apps.Len())
	require.Contains(t, b.apps.Offers(), penny.ID)

	split := newOffer("1p off two",
		&offer.Condition{Type: offer.CountCondition, Range: all, Value: d("2")},
		&offer.Benefit{Type: offer.AbsoluteBenefit, Range: all, Value: d("0.01")},
	)
	split.MaxBasketApplications = 1
	b2 := newBasket()
	first := b2.add(product("A", "1.00"), 1)
	second := b2.add(product("B", "1.00"), 1)

	apply(b2, split)

	require.Zero(t, first.discounted)
	require.True(t, first.discount.IsZero())
	require.Equal(t, 1, second.discounted)
	require.True(t, second.discount.Equal(d("0.01")))
	require.True(t, b2.apps.TotalDiscount().Equal(d("0.01")))
}

func TestNonExclusiveOffersStack(t *testing.T) {
	all := allRange("All")
	first := newOffer("10% off",
		&offer.Condition{Type: offer.CountCondition, Range: all, Value: d("1")},
		&offer.Benefit{Type: offer.PercentageBenefit, Range: all, Value: d("10"), MaxAffectedItems: 1},
	)
	first.Priority = 10
	first.MaxBasketApplications = 1
	second := newOffer("2 off",
		&offer.Condition{Type: offer.CountCondition, Range: all, Value: d("1")},
		&offer.Benefit{Type: offer.AbsoluteBenefit, Range: all, Value: d("2.00"), MaxAffectedItems: 1},
	)
	second.MaxBasketApplications = 1

	b := newBasket()
	b.add(product("Pen", "10.00"), 2)

	apply(b, second, first)

	apps := b.apps.All()
	require.Len(t, apps, 2)
	require.Equal(t, first.ID, apps[0].OfferID)
	require.Equal(t, second.ID, apps[1].OfferID)
	require.Contains(t, b.apps.Offers(), first.ID)
	require.Contains(t, b.apps.Offers(), second.ID)
	require.True(t, b.apps.TotalDiscount().Equal(d("3.00")))
	require.True(t, b.totalDiscount().Equal(d("3.00")))
}

func TestExclusiveOfferHaltsPass(t *testing.T) {
	all := allRange("All")
	exclusive := newOffer("Exclusive",
		&offer.Condition{Type: offer.CountCondition, Range: all, Value: d("1")},
		&offer.Benefit{Type: offer.AbsoluteBenefit, Range: all, Value: d("1.00")},
	)
	exclusive.Exclusive = true
	exclusive.Priority = 5
	exclusive.MaxBasketApplications = 1
	other := newOffer("Other",
		&offer.Condition{Type: offer.CountCondition, Range: all, Value: d("1")},
		&offer.Benefit{Type: offer.AbsoluteBenefit, Range: all, Value: d("1.00")},
	)

	b := newBasket()
	b.add(product("Pen", "10.00"), 5)
	apply(b, exclusive, other)
	require.Equal(t, 1, b.apps.Len())
	require.Contains(t, b.apps.Offers(), exclusive.ID)

	// A line already used by a non-exclusive offer is closed to exclusive ones.
	other.Priority = 10
	b2 := newBasket()
	b2.add(product("Pen", "10.00"), 1)
	apply(b2, exclusive, other)
	require.Equal(t, 1, b2.apps.Len())
	require.Contains(t, b2.apps.Offers(), other.ID)
}

func TestCoverageIgnoresDuplicateItems(t *testing.T) {
	all := allRange("All")
	o := newOffer("Two different books",
		&offer.Condition{Type: offer.CoverageCondition, Range: all, Value: d("2")},
		&offer.Benefit{Type: offer.PercentageBenefit, Range: all, Value: d("50")},
	)
	dune := product("Dune", "8.00")
	b := newBasket()
	b.add(dune, 2)
	b.add(dune, 1)
	require.False(t, o.IsConditionSatisfied(b))
	require.True(t, o.IsConditionPartiallySatisfied(b))
	require.Equal(t, "Buy 1 more product from All", o.UpsellMessage(b))

	b.add(product("Emma", "6.00"), 1)
	require.True(t, o.IsConditionSatisfied(b))
	require.Empty(t, o.UpsellMessage(b))
}

func TestUpsellMessages(t *testing.T) {
	all := allRange("Gifts")
	count := newOffer("Three for one",
		&offer.Condition{Type: offer.CountCondition, Range: all, Value: d("3")},
		&offer.Benefit{Type: offer.MultibuyBenefit, Range: all},
	)
	value := newOffer("Spend 10",
		&offer.Condition{Type: offer.ValueCondition, Range: all, Value: d("10")},
		&offer.Benefit{Type: offer.PercentageBenefit, Range: all, Value: d("5")},
	)
	b := newBasket()
	require.Empty(t, count.UpsellMessage(b))

	b.add(product("Card", "6.00"), 1)
	require.Equal(t, "Buy 2 more products from Gifts", count.UpsellMessage(b))
	require.Equal(t, "Spend £4.00 more from Gifts", value.UpsellMessage(b))
}

func TestAbsoluteDiscountSplit(t *testing.T) {
	all := allRange("All")
	o := newOffer("1 off three",
		&offer.Condition{Type: offer.CountCondition, Range: all, Value: d("3")},
		&offer.Benefit{Type: offer.AbsoluteBenefit, Range: all, Value: d("1.00")},
	)
	b := newBasket()
	l1 := b.add(product("A", "1.00"), 1)
	l2 := b.add(product("B", "1.00"), 1)
	l3 := b.add(product("C", "1.00"), 1)

	apply(b, o)

	require.True(t, l1.discount.Equal(d("0.33")))
	require.True(t, l2.discount.Equal(d("0.33")))
	require.True(t, l3.discount.Equal(d("0.34")))
	require.True(t, b.apps.TotalDiscount().Equal(d("1.00")))
}

func TestAbsoluteDiscountCappedAtLineValue(t *testing.T) {
	all := allRange("All")
	o := newOffer("Big discount",
		&offer.Condition{Type: offer.CountCondition, Range: all, Value: d("1")},
		&offer.Benefit{Type: offer.AbsoluteBenefit, Range: all, Value: d("50.00"), MaxAffectedItems: 1},
	)
	o.MaxBasketApplications = 1
	b := newBasket()
	line := b.add(product("Sock", "3.50"), 4)

	apply(b, o)

	require.True(t, line.discount.Equal(d("3.50")))
}

func TestMultibuyMakesCheapestFree(t *testing.T) {
	all := allRange("All")
	o := newOffer("3 for 2",
		&offer.Condition{Type: offer.CountCondition, Range: all, Value: d("3")},
		&offer.Benefit{Type: offer.MultibuyBenefit, Range: all},
	)
	b := newBasket()
	five := b.add(product("Five", "5.00"), 1)
	three := b.add(product("Three", "3.00"), 1)
	eight := b.add(product("Eight", "8.00"), 1)

	apply(b, o)

	require.True(t, three.discount.Equal(d("3.00")))
	require.True(t, five.discount.IsZero())
	require.True(t, eight.discount.IsZero())
	require.Equal(t, 1, b.apps.All()[0].Freq)
}

func TestFixedPriceBenefit(t *testing.T) {
	all := allRange("All")
	o := newOffer("Any two for 10",
		&offer.Condition{Type: offer.CountCondition, Range: all, Value: d("2")},
		&offer.Benefit{Type: offer.FixedPriceBenefit, Value: d("10.00")},
	)
	require.NoError(t, o.Benefit.Validate())
	b := newBasket()
	a := b.add(product("A", "8.00"), 1)
	c := b.add(product("B", "7.00"), 1)

	apply(b, o)

	require.True(t, c.discount.Equal(d("2.33")))
	require.True(t, a.discount.Equal(d("2.67")))
	require.True(t, b.apps.TotalDiscount().Equal(d("5.00")))

	withValue := newOffer("Spend 10 pay 5",
		&offer.Condition{Type: offer.ValueCondition, Range: all, Value: d("10")},
		&offer.Benefit{Type: offer.FixedPriceBenefit, Value: d("5.00")},
	)
	b2 := newBasket()
	b2.add(product("A", "8.00"), 2)
	require.False(t, withValue.ApplyBenefit(b2).IsSuccessful())
}

func TestShippingBenefits(t *testing.T) {
	cases := []struct {
		name     string
		benefit  offer.Benefit
		charge   string
		discount string
	}{
		{"absolute below charge", offer.Benefit{Type: offer.ShippingAbsoluteBenefit, Value: d("2.00")}, "4.99", "2.00"},
		{"absolute above charge", offer.Benefit{Type: offer.ShippingAbsoluteBenefit, Value: d("5.00")}, "3.50", "3.50"},
		{"fixed price", offer.Benefit{Type: offer.ShippingFixedPriceBenefit, Value: d("2.00")}, "5.00", "3.00"},
		{"fixed price above charge", offer.Benefit{Type: offer.ShippingFixedPriceBenefit, Value: d("2.00")}, "1.50", "0"},
		{"percentage", offer.Benefit{Type: offer.ShippingPercentageBenefit, Value: d("25")}, "4.99", "1.25"},
		{"not shipping", offer.Benefit{Type: offer.PercentageBenefit, Value: d("25")}, "4.99", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.benefit.ShippingDiscountFor(d(tc.charge), "GBP")
			require.True(t, got.Equal(d(tc.discount)), "got %s", got)
		})
	}
}

func TestShippingOfferIsFinal(t *testing.T) {
	all := allRange("All")
	o := newOffer("Free delivery over 20",
		&offer.Condition{Type: offer.ValueCondition, Range: all, Value: d("20")},
		&offer.Benefit{Type: offer.ShippingPercentageBenefit, Value: d("100")},
	)
	b := newBasket()
	b.add(product("Boots", "45.00"), 1)

	apply(b, o)

	apps := b.apps.All()
	require.Len(t, apps, 1)
	require.Equal(t, 1, apps[0].Freq)
	require.True(t, apps[0].Shipping)
	require.Equal(t, []*offer.ConditionalOffer{o}, b.apps.ShippingOffers())
	require.Empty(t, b.apps.BasketDiscounts())
	require.True(t, b.apps.TotalDiscount().IsZero())
}

func TestBenefitValidate(t *testing.T) {
	all := allRange("All")
	require.ErrorIs(t, (&offer.Benefit{Type: offer.PercentageBenefit, Value: d("10")}).Validate(), offer.ErrInvalidBenefit)
	require.ErrorIs(t, (&offer.Benefit{Type: offer.PercentageBenefit, Range: all, Value: d("120")}).Validate(), offer.ErrInvalidBenefit)
	require.ErrorIs(t, (&offer.Benefit{Type: offer.MultibuyBenefit, Range: all, Value: d("1")}).Validate(), offer.ErrInvalidBenefit)
	require.ErrorIs(t, (&offer.Benefit{Type: offer.FixedPriceBenefit, Range: all, Value: d("1")}).Validate(), offer.ErrInvalidBenefit)
	require.ErrorIs(t, (&offer.Benefit{Type: "bogus"}).Validate(), offer.ErrInvalidBenefit)
	require.NoError(t, (&offer.Benefit{Type: offer.ShippingAbsoluteBenefit, Value: d("3")}).Validate())
}
