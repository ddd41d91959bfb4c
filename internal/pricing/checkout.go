package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

var ErrInvalidQuantity = errors.New("pricing: quantity must be positive")

// QuoteInput carries everything needed to price one cart line. The loyalty
// balance must be read from the ledger immediately before quoting.
type QuoteInput struct {
	Product        models.Product
	Quantity       int
	Promotions     []models.Promotion
	LoyaltyOptIn   bool
	LoyaltyBalance int
	Now            time.Time
}

// Quote is the authoritative price of a cart line.
// BasePrice = PromotionDiscount + LoyaltyDiscount + Total.
type Quote struct {
	ProductCode       string          `json:"product_code"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	DiscountedUnit    decimal.Decimal `json:"discounted_unit_price"`
	DiscountPct       decimal.Decimal `json:"discount_pct"`
	PromotionID       int64           `json:"promotion_id,omitempty"`
	BasePrice         decimal.Decimal `json:"base_price"`
	PromotionDiscount decimal.Decimal `json:"promotion_discount"`
	LoyaltyDiscount   decimal.Decimal `json:"loyalty_discount"`
	Total             decimal.Decimal `json:"total"`
	LoyaltyRedeemed   bool            `json:"loyalty_redeemed"`
}

type CheckoutPricer struct {
	loyalty LoyaltyPolicy
}

func NewCheckoutPricer(loyalty LoyaltyPolicy) *CheckoutPricer {
	return &CheckoutPricer{loyalty: loyalty}
}

func (c *CheckoutPricer) Loyalty() LoyaltyPolicy {
	return c.loyalty
}

func (c *CheckoutPricer) Quote(in QuoteInput) (Quote, error) {
	if in.Quantity <= 0 {
		return Quote{}, ErrInvalidQuantity
	}
	if in.Product.Price.IsNegative() {
		return Quote{}, fmt.Errorf("pricing: negative price for product %s", in.Product.Code)
	}

	qty := decimal.NewFromInt(int64(in.Quantity))
	promo := PriceFor(in.Product, in.Promotions, in.Now)

	base := in.Product.Price.Mul(qty)
	promotionDiscount := base.Sub(promo.Discounted.Mul(qty))

	loyaltyDiscount, err := c.loyalty.RedemptionDiscount(base.Sub(promotionDiscount), in.LoyaltyOptIn, in.LoyaltyBalance)
	if err != nil {
		return Quote{}, err
	}

	total := base.Sub(promotionDiscount).Sub(loyaltyDiscount)
	if total.IsNegative() {
		loyaltyDiscount = loyaltyDiscount.Add(total)
		total = decimal.Zero
	}

	return Quote{
		ProductCode:       in.Product.Code,
		Quantity:          in.Quantity,
		UnitPrice:         in.Product.Price,
		DiscountedUnit:    promo.Discounted,
		DiscountPct:       promo.DiscountPct,
		PromotionID:       promo.PromotionID,
		BasePrice:         base,
		PromotionDiscount: promotionDiscount,
		LoyaltyDiscount:   loyaltyDiscount,
		Total:             total,
		LoyaltyRedeemed:   in.LoyaltyOptIn,
	}, nil
}

// PriceMismatchError reports a client supplied total that disagrees with the
// server quote by more than the configured tolerance.
type PriceMismatchError struct {
	Quoted   decimal.Decimal
	Supplied decimal.Decimal
}

func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("pricing: supplied total %s does not match quoted total %s", e.Supplied.StringFixed(MinorUnitPlaces), e.Quoted.StringFixed(MinorUnitPlaces))
}

// CheckTotal compares an advisory client total with the quote.
func CheckTotal(q Quote, supplied, tolerance decimal.Decimal) error {
	if q.Total.Sub(supplied).Abs().GreaterThan(tolerance) {
		return &PriceMismatchError{Quoted: q.Total, Supplied: supplied}
	}
	return nil
}
