package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInsufficientLoyaltyPoints is returned when a customer opts into
// redemption without holding the minimum balance. It is never downgraded to
// a zero discount.
var ErrInsufficientLoyaltyPoints = errors.New("pricing: insufficient loyalty points")

// LoyaltyPolicy describes how points are earned and spent.
//
// Points are held as an append-only ledger of signed events. A completed
// order earns AccrualPoints; a redemption requires MinBalance points and
// debits RedemptionCost. A zero RedemptionCost grants the discount without
// spending points.
type LoyaltyPolicy struct {
	MinBalance     int
	RedemptionCost int
	AccrualPoints  int
	DiscountRate   decimal.Decimal
}

func DefaultLoyaltyPolicy() LoyaltyPolicy {
	return LoyaltyPolicy{
		MinBalance:     5,
		RedemptionCost: 5,
		AccrualPoints:  1,
		DiscountRate:   decimal.RequireFromString("0.05"),
	}
}

// RequiredBalance is the smallest balance that allows a redemption.
func (p LoyaltyPolicy) RequiredBalance() int {
	if p.RedemptionCost > p.MinBalance {
		return p.RedemptionCost
	}
	return p.MinBalance
}

func (p LoyaltyPolicy) CanRedeem(balance int) bool {
	return balance >= p.RequiredBalance()
}

// RedemptionDiscount returns the loyalty discount on the post-promotion
// amount. Not opting in yields zero; opting in below the required balance
// is refused with ErrInsufficientLoyaltyPoints.
func (p LoyaltyPolicy) RedemptionDiscount(afterPromotion decimal.Decimal, optedIn bool, balance int) (decimal.Decimal, error) {
	if !optedIn {
		return decimal.Zero, nil
	}
	if !p.CanRedeem(balance) {
		return decimal.Zero, ErrInsufficientLoyaltyPoints
	}
	if afterPromotion.IsNegative() {
		return decimal.Zero, nil
	}
	return afterPromotion.Mul(p.DiscountRate).Round(MinorUnitPlaces), nil
}
