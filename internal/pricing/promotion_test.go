package pricing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func promo(id int64, code string, pct int64, start, end time.Time) models.Promotion {
	return models.Promotion{
		ID:          id,
		Title:       "promo",
		ProductCode: code,
		DiscountPct: decimal.NewFromInt(pct),
		StartsAt:    start,
		EndsAt:      end,
	}
}

func TestIsActiveInclusiveWindow(t *testing.T) {
	start := testNow.Add(-time.Hour)
	end := testNow.Add(time.Hour)
	p := promo(1, "SKU-1", 10, start, end)

	assert.True(t, IsActive(p, start))
	assert.True(t, IsActive(p, end))
	assert.True(t, IsActive(p, testNow))
	assert.False(t, IsActive(p, start.Add(-time.Nanosecond)))
	assert.False(t, IsActive(p, end.Add(time.Nanosecond)))
}

func TestPriceForAppliesFirstActiveMatch(t *testing.T) {
	product := models.Product{Code: "SKU-1", Price: decimal.NewFromInt(100)}
	promotions := []models.Promotion{
		promo(1, "SKU-2", 50, testNow.Add(-time.Hour), testNow.Add(time.Hour)),
		promo(2, "SKU-1", 30, testNow.Add(-48*time.Hour), testNow.Add(-24*time.Hour)),
		promo(3, "SKU-1", 20, testNow.Add(-time.Hour), testNow.Add(time.Hour)),
		promo(4, "SKU-1", 40, testNow.Add(-time.Hour), testNow.Add(time.Hour)),
	}

	price := PriceFor(product, promotions, testNow)

	assert.Equal(t, int64(3), price.PromotionID)
	assert.True(t, price.Discounted.Equal(decimal.NewFromInt(80)), "got %s", price.Discounted)
	assert.True(t, price.DiscountPct.Equal(decimal.NewFromInt(20)))
}

func TestPriceForWithoutActivePromotion(t *testing.T) {
	product := models.Product{Code: "SKU-1", Price: decimal.RequireFromString("19.99")}
	promotions := []models.Promotion{
		promo(1, "SKU-1", 30, testNow.Add(time.Hour), testNow.Add(2*time.Hour)),
	}

	price := PriceFor(product, promotions, testNow)

	assert.Zero(t, price.PromotionID)
	assert.True(t, price.Discounted.Equal(product.Price))
	assert.True(t, price.DiscountPct.IsZero())
}

func TestApplyPercentOffRoundsHalfUp(t *testing.T) {
	cases := []struct {
		amount string
		pct    string
		want   string
	}{
		{"10.05", "50", "5.03"},
		{"0.01", "50", "0.01"},
		{"19.99", "15", "16.99"},
		{"100", "100", "0"},
		{"100", "0", "100"},
		{"33.33", "33.33", "22.22"},
	}

	for _, tc := range cases {
		got := ApplyPercentOff(decimal.RequireFromString(tc.amount), decimal.RequireFromString(tc.pct))
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "%s off %s%%: got %s want %s", tc.amount, tc.pct, got, tc.want)
	}
}

func TestPriceForNeverExceedsOriginal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		product := models.Product{
			Code:  "SKU-1",
			Price: decimal.New(rng.Int63n(1000000), -2),
		}
		offset := time.Duration(rng.Intn(96)-48) * time.Hour
		promotions := []models.Promotion{
			promo(1, "SKU-1", rng.Int63n(101), testNow.Add(offset), testNow.Add(offset+24*time.Hour)),
		}

		price := PriceFor(product, promotions, testNow)

		assert.True(t, price.Discounted.LessThanOrEqual(price.Original), "discounted %s > original %s", price.Discounted, price.Original)
		if !IsActive(promotions[0], testNow) {
			assert.True(t, price.Discounted.Equal(price.Original))
		}
	}
}
