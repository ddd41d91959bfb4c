package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

// LoyaltyBalance is the running sum of the customer's signed point events.
func LoyaltyBalance(ctx context.Context, q DBTX, customerID int64) (int, error) {
	var balance int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM loyalty_events WHERE customer_id = $1`,
		customerID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("loyalty balance: %w", err)
	}
	return balance, nil
}

func ListLoyaltyEvents(ctx context.Context, db *sql.DB, customerID int64) ([]models.LoyaltyEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, customer_id, order_id, kind, points, created_at
		 FROM loyalty_events
		 WHERE customer_id = $1
		 ORDER BY created_at DESC, id DESC`,
		customerID)
	if err != nil {
		return nil, fmt.Errorf("list loyalty events: %w", err)
	}
	defer rows.Close()

	events := []models.LoyaltyEvent{}
	for rows.Next() {
		var e models.LoyaltyEvent
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.OrderID, &e.Kind, &e.Points, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan loyalty event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}

func AccrueLoyalty(ctx context.Context, tx *sql.Tx, customerID, orderID int64, points int) error {
	if points <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO loyalty_events (customer_id, order_id, kind, points, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		customerID, orderID, models.LoyaltyEventAccrual, points)
	if err != nil {
		return fmt.Errorf("accrue loyalty: %w", err)
	}
	return nil
}

// RedeemLoyalty debits cost points for an order. The customer row is locked
// first so the balance check and the debit see the same ledger; a balance
// below required fails with ErrInsufficientLoyaltyPoints. A zero cost only
// checks the balance.
func RedeemLoyalty(ctx context.Context, tx *sql.Tx, customerID, orderID int64, cost, required int) error {
	if err := LockCustomer(ctx, tx, customerID); err != nil {
		return err
	}

	balance, err := LoyaltyBalance(ctx, tx, customerID)
	if err != nil {
		return err
	}
	if balance < required || balance < cost {
		return database.ErrInsufficientLoyaltyPoints
	}
	if cost == 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO loyalty_events (customer_id, order_id, kind, points, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		customerID, orderID, models.LoyaltyEventRedemption, -cost)
	if err != nil {
		return fmt.Errorf("redeem loyalty: %w", err)
	}
	return nil
}
