package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

const paymentColumns = `id, customer_id, payment_method_id, amount, currency, external_id, idempotency_key, status,
	product_code, size, color, quantity, use_loyalty, created_at, updated_at`

func scanPayment(row rowScanner, p *models.Payment) error {
	return row.Scan(
		&p.ID,
		&p.CustomerID,
		&p.PaymentMethodID,
		&p.Amount,
		&p.Currency,
		&p.ExternalID,
		&p.IdempotencyKey,
		&p.Status,
		&p.ProductCode,
		&p.Size,
		&p.Color,
		&p.Quantity,
		&p.UseLoyalty,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
}

// CreatePayment records a capture outcome. A reused idempotency key fails
// with ErrDuplicateIdempotencyKey.
func CreatePayment(ctx context.Context, db *sql.DB, p models.Payment) (*models.Payment, error) {
	created := &models.Payment{}

	query := `
		INSERT INTO payments (customer_id, payment_method_id, amount, currency, external_id, idempotency_key, status,
			product_code, size, color, quantity, use_loyalty, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING ` + paymentColumns

	row := db.QueryRowContext(ctx, query,
		p.CustomerID, p.PaymentMethodID, p.Amount, p.Currency, p.ExternalID, p.IdempotencyKey, p.Status,
		p.ProductCode, p.Size, p.Color, p.Quantity, p.UseLoyalty)
	if err := scanPayment(row, created); err != nil {
		if database.IsUniqueViolation(err, "payments_idempotency_key_key") {
			return nil, database.ErrDuplicateIdempotencyKey
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}

	return created, nil
}

func GetPayment(ctx context.Context, q DBTX, id int64) (*models.Payment, error) {
	payment := &models.Payment{}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	if err := scanPayment(q.QueryRowContext(ctx, query, id), payment); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}

	return payment, nil
}

// LockPayment reads a payment and holds its row lock for the rest of tx.
func LockPayment(ctx context.Context, tx *sql.Tx, id int64) (*models.Payment, error) {
	payment := &models.Payment{}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`

	if err := scanPayment(tx.QueryRowContext(ctx, query, id), payment); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("lock payment: %w", err)
	}

	return payment, nil
}

func GetPaymentByIdempotencyKey(ctx context.Context, db *sql.DB, key string) (*models.Payment, error) {
	payment := &models.Payment{}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE idempotency_key = $1`

	if err := scanPayment(db.QueryRowContext(ctx, query, key), payment); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by idempotency key: %w", err)
	}

	return payment, nil
}

// UpdatePaymentStatus echoes a settlement status reported by the gateway.
// An empty externalID leaves the stored reference untouched.
func UpdatePaymentStatus(ctx context.Context, q DBTX, id int64, status, externalID string) (*models.Payment, error) {
	payment := &models.Payment{}

	query := `
		UPDATE payments
		SET status = $1,
		    external_id = CASE WHEN $2 = '' THEN external_id ELSE $2 END,
		    updated_at = NOW()
		WHERE id = $3
		RETURNING ` + paymentColumns

	if err := scanPayment(q.QueryRowContext(ctx, query, status, externalID, id), payment); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("update payment status: %w", err)
	}

	return payment, nil
}

// ListUnreconciledPayments returns captured payments that have neither an
// order nor an approved refund, oldest first.
func ListUnreconciledPayments(ctx context.Context, db *sql.DB, limit int) ([]models.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments p
		WHERE p.status IN ($1, $2)
		  AND NOT EXISTS (SELECT 1 FROM orders o WHERE o.payment_id = p.id)
		  AND NOT EXISTS (SELECT 1 FROM refund_requests r WHERE r.payment_id = p.id AND r.status = $3)
		ORDER BY p.created_at, p.id
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query,
		models.PaymentStatusSucceeded, models.PaymentStatusPendingVerification, models.RefundStatusApproved, limit)
	if err != nil {
		return nil, fmt.Errorf("list unreconciled payments: %w", err)
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		var p models.Payment
		if err := scanPayment(rows, &p); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return payments, nil
}
