package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/pricing"
	"github.com/safar/go-storefront/internal/store"
)

type LoyaltySummary struct {
	Balance         int                   `json:"balance"`
	RequiredBalance int                   `json:"required_balance"`
	CanRedeem       bool                  `json:"can_redeem"`
	Events          []models.LoyaltyEvent `json:"events"`
}

type LoyaltyService struct {
	db     *sql.DB
	policy pricing.LoyaltyPolicy
}

func NewLoyaltyService(db *sql.DB, policy pricing.LoyaltyPolicy) (*LoyaltyService, error) {
	if db == nil {
		return nil, errors.New("loyalty service: db is required")
	}
	return &LoyaltyService{db: db, policy: policy}, nil
}

// Summary reads the balance from the ledger. It is informational only;
// checkout re-reads the ledger when it prices a redemption.
func (s *LoyaltyService) Summary(ctx context.Context, customerID int64) (*LoyaltySummary, error) {
	if _, err := store.GetCustomer(ctx, s.db, customerID); err != nil {
		return nil, err
	}

	balance, err := store.LoyaltyBalance(ctx, s.db, customerID)
	if err != nil {
		return nil, err
	}

	events, err := store.ListLoyaltyEvents(ctx, s.db, customerID)
	if err != nil {
		return nil, err
	}

	return &LoyaltySummary{
		Balance:         balance,
		RequiredBalance: s.policy.RequiredBalance(),
		CanRedeem:       s.policy.CanRedeem(balance),
		Events:          events,
	}, nil
}
