package pricing

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioInput() QuoteInput {
	return QuoteInput{
		Product:  models.Product{Code: "TEE-001", Price: decimal.NewFromInt(100)},
		Quantity: 2,
		Promotions: []models.Promotion{
			promo(7, "TEE-001", 20, testNow.Add(-time.Hour), testNow.Add(time.Hour)),
		},
		Now: testNow,
	}
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "want %s, got %s", want, got)
}

func TestQuoteScenarioPromotionOnly(t *testing.T) {
	pricer := NewCheckoutPricer(DefaultLoyaltyPolicy())

	quote, err := pricer.Quote(scenarioInput())
	require.NoError(t, err)

	assertMoney(t, "200", quote.BasePrice)
	assertMoney(t, "40", quote.PromotionDiscount)
	assertMoney(t, "0", quote.LoyaltyDiscount)
	assertMoney(t, "160", quote.Total)
	assert.Equal(t, int64(7), quote.PromotionID)
}

func TestQuoteScenarioPromotionAndLoyalty(t *testing.T) {
	pricer := NewCheckoutPricer(DefaultLoyaltyPolicy())
	in := scenarioInput()
	in.LoyaltyOptIn = true
	in.LoyaltyBalance = 5

	quote, err := pricer.Quote(in)
	require.NoError(t, err)

	assertMoney(t, "200", quote.BasePrice)
	assertMoney(t, "40", quote.PromotionDiscount)
	assertMoney(t, "8", quote.LoyaltyDiscount)
	assertMoney(t, "152", quote.Total)
	assert.True(t, quote.LoyaltyRedeemed)
}

func TestQuoteRefusesLoyaltyBelowMinimum(t *testing.T) {
	pricer := NewCheckoutPricer(DefaultLoyaltyPolicy())
	in := scenarioInput()
	in.LoyaltyOptIn = true
	in.LoyaltyBalance = 3

	_, err := pricer.Quote(in)
	require.True(t, errors.Is(err, ErrInsufficientLoyaltyPoints), "got %v", err)

	in.LoyaltyOptIn = false
	quote, err := pricer.Quote(in)
	require.NoError(t, err)
	assertMoney(t, "0", quote.LoyaltyDiscount)
	assertMoney(t, "160", quote.Total)
}

func TestQuoteRejectsNonPositiveQuantity(t *testing.T) {
	pricer := NewCheckoutPricer(DefaultLoyaltyPolicy())
	in := scenarioInput()
	in.Quantity = 0

	_, err := pricer.Quote(in)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestQuoteComponentsSumToBase(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pricer := NewCheckoutPricer(DefaultLoyaltyPolicy())

	for i := 0; i < 1000; i++ {
		in := QuoteInput{
			Product:        models.Product{Code: "SKU", Price: decimal.New(rng.Int63n(500000), -2)},
			Quantity:       1 + rng.Intn(9),
			LoyaltyOptIn:   rng.Intn(2) == 0,
			LoyaltyBalance: 5 + rng.Intn(10),
			Now:            testNow,
			Promotions: []models.Promotion{
				{
					ID:          1,
					ProductCode: "SKU",
					DiscountPct: decimal.New(rng.Int63n(10001), -2),
					StartsAt:    testNow.Add(-time.Hour),
					EndsAt:      testNow.Add(time.Hour),
				},
			},
		}

		quote, err := pricer.Quote(in)
		require.NoError(t, err)

		sum := quote.PromotionDiscount.Add(quote.LoyaltyDiscount).Add(quote.Total)
		assert.True(t, sum.Equal(quote.BasePrice), "base %s != %s", quote.BasePrice, sum)
		assert.False(t, quote.Total.IsNegative())
		assert.False(t, quote.PromotionDiscount.IsNegative())
	}
}

func TestRedemptionCostRaisesRequiredBalance(t *testing.T) {
	policy := LoyaltyPolicy{MinBalance: 5, RedemptionCost: 8, DiscountRate: decimal.RequireFromString("0.05")}

	_, err := policy.RedemptionDiscount(decimal.NewFromInt(100), true, 6)
	assert.ErrorIs(t, err, ErrInsufficientLoyaltyPoints)

	discount, err := policy.RedemptionDiscount(decimal.NewFromInt(100), true, 8)
	require.NoError(t, err)
	assertMoney(t, "5", discount)
}

func TestCheckTotal(t *testing.T) {
	quote := Quote{Total: decimal.RequireFromString("152.00")}
	tolerance := decimal.RequireFromString("0.01")

	assert.NoError(t, CheckTotal(quote, decimal.RequireFromString("152.01"), tolerance))

	err := CheckTotal(quote, decimal.RequireFromString("140"), tolerance)
	var mismatch *PriceMismatchError
	require.True(t, errors.As(err, &mismatch))
	assertMoney(t, "152", mismatch.Quoted)
}
