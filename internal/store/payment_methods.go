package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

const paymentMethodColumns = `id, customer_id, external_id, brand, last4, exp_month, exp_year, is_default, created_at, updated_at`

func scanPaymentMethod(row rowScanner, pm *models.PaymentMethod) error {
	return row.Scan(
		&pm.ID,
		&pm.CustomerID,
		&pm.ExternalID,
		&pm.Brand,
		&pm.Last4,
		&pm.ExpMonth,
		&pm.ExpYear,
		&pm.IsDefault,
		&pm.CreatedAt,
		&pm.UpdatedAt,
	)
}

// AddPaymentMethod stores a card reference. The first card of a customer
// becomes the default regardless of makeDefault.
func AddPaymentMethod(ctx context.Context, db *sql.DB, pm models.PaymentMethod, makeDefault bool) (*models.PaymentMethod, error) {
	created := &models.PaymentMethod{}

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if err := LockCustomer(ctx, tx, pm.CustomerID); err != nil {
			return err
		}

		var existing int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM payment_methods WHERE customer_id = $1 AND detached_at IS NULL`,
			pm.CustomerID).Scan(&existing)
		if err != nil {
			return fmt.Errorf("count payment methods: %w", err)
		}

		isDefault := makeDefault || existing == 0
		if isDefault && existing > 0 {
			if err := clearDefaultPaymentMethod(ctx, tx, pm.CustomerID); err != nil {
				return err
			}
		}

		query := `
			INSERT INTO payment_methods (customer_id, external_id, brand, last4, exp_month, exp_year, is_default, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
			RETURNING ` + paymentMethodColumns

		row := tx.QueryRowContext(ctx, query, pm.CustomerID, pm.ExternalID, pm.Brand, pm.Last4, pm.ExpMonth, pm.ExpYear, isDefault)
		if err := scanPaymentMethod(row, created); err != nil {
			return fmt.Errorf("create payment method: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// GetPaymentMethod returns a card owned by customerID. Cards of other
// customers are reported as not found.
func GetPaymentMethod(ctx context.Context, q DBTX, customerID, id int64) (*models.PaymentMethod, error) {
	pm := &models.PaymentMethod{}

	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods WHERE id = $1 AND customer_id = $2 AND detached_at IS NULL`

	if err := scanPaymentMethod(q.QueryRowContext(ctx, query, id, customerID), pm); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentMethodNotFound
		}
		return nil, fmt.Errorf("get payment method: %w", err)
	}

	return pm, nil
}

func ListPaymentMethods(ctx context.Context, db *sql.DB, customerID int64) ([]models.PaymentMethod, error) {
	query := `
		SELECT ` + paymentMethodColumns + `
		FROM payment_methods
		WHERE customer_id = $1 AND detached_at IS NULL
		ORDER BY is_default DESC, id`

	rows, err := db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	defer rows.Close()

	methods := []models.PaymentMethod{}
	for rows.Next() {
		var pm models.PaymentMethod
		if err := scanPaymentMethod(rows, &pm); err != nil {
			return nil, fmt.Errorf("scan payment method: %w", err)
		}
		methods = append(methods, pm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return methods, nil
}

func SetDefaultPaymentMethod(ctx context.Context, db *sql.DB, customerID, id int64) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if _, err := GetPaymentMethod(ctx, tx, customerID, id); err != nil {
			return err
		}
		if err := clearDefaultPaymentMethod(ctx, tx, customerID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE payment_methods SET is_default = TRUE, updated_at = NOW() WHERE id = $1`,
			id)
		if err != nil {
			return fmt.Errorf("set default payment method: %w", err)
		}
		return nil
	})
}

func clearDefaultPaymentMethod(ctx context.Context, tx *sql.Tx, customerID int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE payment_methods SET is_default = FALSE, updated_at = NOW()
		 WHERE customer_id = $1 AND is_default`,
		customerID)
	if err != nil {
		return fmt.Errorf("clear default payment method: %w", err)
	}
	return nil
}

// DeletePaymentMethod removes a card that no payment references. Cards used
// by past payments are kept for the payment history and marked detached.
func DeletePaymentMethod(ctx context.Context, db *sql.DB, customerID, id int64) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var used bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM payments WHERE payment_method_id = $1)`,
			id).Scan(&used)
		if err != nil {
			return fmt.Errorf("check payment method usage: %w", err)
		}

		query := `DELETE FROM payment_methods WHERE id = $1 AND customer_id = $2 AND detached_at IS NULL`
		if used {
			query = `UPDATE payment_methods SET is_default = FALSE, detached_at = NOW(), updated_at = NOW()
				WHERE id = $1 AND customer_id = $2 AND detached_at IS NULL`
		}

		result, err := tx.ExecContext(ctx, query, id, customerID)
		if err != nil {
			return fmt.Errorf("delete payment method: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}

		if rowsAffected == 0 {
			return database.ErrPaymentMethodNotFound
		}
		return nil
	})
}
