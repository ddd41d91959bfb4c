// Package pricing computes the chargeable amount of a checkout line from the
// product price, the active promotion and the customer's loyalty redemption.
package pricing

import (
	"time"

	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of decimal places of the smallest currency unit.
const MinorUnitPlaces = 2

var hundred = decimal.NewFromInt(100)

// PromotionPrice is the unit price of a product after applying at most one
// promotion. PromotionID is zero when no promotion applied.
type PromotionPrice struct {
	Original    decimal.Decimal `json:"original"`
	Discounted  decimal.Decimal `json:"discounted"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	PromotionID int64           `json:"promotion_id,omitempty"`
}

// IsActive reports whether now falls inside the promotion window, both ends inclusive.
func IsActive(p models.Promotion, now time.Time) bool {
	return !now.Before(p.StartsAt) && !now.After(p.EndsAt)
}

// PriceFor applies the first promotion in promotions that targets the
// product code and is active at now. Ties are not ranked: callers control
// precedence through the order of promotions.
func PriceFor(product models.Product, promotions []models.Promotion, now time.Time) PromotionPrice {
	price := PromotionPrice{
		Original:    product.Price,
		Discounted:  product.Price,
		DiscountPct: decimal.Zero,
	}

	for _, promo := range promotions {
		if promo.ProductCode != product.Code || !IsActive(promo, now) {
			continue
		}

		pct := clampPct(promo.DiscountPct)
		price.DiscountPct = pct
		price.Discounted = ApplyPercentOff(product.Price, pct)
		price.PromotionID = promo.ID
		return price
	}

	return price
}

// ApplyPercentOff returns amount × (100 − pct) / 100 rounded half-up to the
// minor currency unit.
func ApplyPercentOff(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(hundred.Sub(pct)).Div(hundred).Round(MinorUnitPlaces)
}

func clampPct(pct decimal.Decimal) decimal.Decimal {
	if pct.IsNegative() {
		return decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}
