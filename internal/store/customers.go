package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

const customerColumns = `id, email, name, gateway_customer_id, created_at, updated_at, version`

func scanCustomer(row rowScanner, c *models.Customer) error {
	return row.Scan(
		&c.ID,
		&c.Email,
		&c.Name,
		&c.GatewayCustomerID,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.Version,
	)
}

func CreateCustomer(ctx context.Context, db *sql.DB, email, name string) (*models.Customer, error) {
	customer := &models.Customer{}

	query := `
		INSERT INTO customers (email, name, created_at, updated_at, version)
		VALUES ($1, $2, NOW(), NOW(), 1)
		RETURNING ` + customerColumns

	if err := scanCustomer(db.QueryRowContext(ctx, query, email, name), customer); err != nil {
		if database.IsUniqueViolation(err, "customers_email_key") {
			return nil, database.ErrDuplicateCustomerEmail
		}
		return nil, fmt.Errorf("create customer: %w", err)
	}

	return customer, nil
}

func GetCustomer(ctx context.Context, q DBTX, id int64) (*models.Customer, error) {
	customer := &models.Customer{}

	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	if err := scanCustomer(q.QueryRowContext(ctx, query, id), customer); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}

	return customer, nil
}

// LockCustomer takes a row lock on the customer for the rest of tx. It
// serialises loyalty redemptions for one customer.
func LockCustomer(ctx context.Context, tx *sql.Tx, id int64) error {
	var locked int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM customers WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if err == sql.ErrNoRows {
			return database.ErrCustomerNotFound
		}
		return fmt.Errorf("lock customer: %w", err)
	}
	return nil
}

// SetGatewayCustomerID records the processor's customer reference. It only
// fills an empty slot so two concurrent first-card attachments keep the
// first reference; the stored value is returned.
func SetGatewayCustomerID(ctx context.Context, db *sql.DB, id int64, ref string) (string, error) {
	var stored string
	err := db.QueryRowContext(ctx,
		`UPDATE customers
		 SET gateway_customer_id = CASE WHEN gateway_customer_id = '' THEN $1 ELSE gateway_customer_id END,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $2
		 RETURNING gateway_customer_id`,
		ref, id).Scan(&stored)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", database.ErrCustomerNotFound
		}
		return "", fmt.Errorf("set gateway customer: %w", err)
	}
	return stored, nil
}

func ListCustomers(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count customers: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + customerColumns + `
		FROM customers
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	customers := []models.Customer{}
	for rows.Next() {
		var customer models.Customer
		if err := scanCustomer(rows, &customer); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, customer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &OffsetPage{
		Items:      customers,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}
