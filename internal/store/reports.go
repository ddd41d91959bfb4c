package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

// PeriodTotals are the raw aggregates for a half-open time range.
type PeriodTotals struct {
	PaymentsAmount        decimal.Decimal
	PaymentsCount         int64
	RefundApprovedCount   int64
	RefundRejectedCount   int64
	ApprovedRefundsAmount decimal.Decimal
}

// AggregatePeriod sums captured payments created in [from, to) and refund
// decisions taken in [from, to). Refunded payments still count as captured
// in the period they were taken.
func AggregatePeriod(ctx context.Context, db *sql.DB, from, to time.Time) (*PeriodTotals, error) {
	totals := &PeriodTotals{}

	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0), COUNT(*)
		 FROM payments
		 WHERE status IN ($1, $2)
		   AND created_at >= $3 AND created_at < $4`,
		models.PaymentStatusSucceeded, models.PaymentStatusRefunded, from.UTC(), to.UTC()).Scan(
		&totals.PaymentsAmount,
		&totals.PaymentsCount,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate payments: %w", err)
	}

	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FILTER (WHERE status = $1),
		        COUNT(*) FILTER (WHERE status = $2),
		        COALESCE(SUM(refund_amount) FILTER (WHERE status = $1), 0)
		 FROM refund_requests
		 WHERE decided_at >= $3 AND decided_at < $4`,
		models.RefundStatusApproved, models.RefundStatusRejected, from.UTC(), to.UTC()).Scan(
		&totals.RefundApprovedCount,
		&totals.RefundRejectedCount,
		&totals.ApprovedRefundsAmount,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate refunds: %w", err)
	}

	return totals, nil
}
