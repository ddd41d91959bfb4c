package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

const orderColumns = `id, order_number, customer_id, shipping_name, shipping_phone, shipping_address, shipping_city,
	shipping_postal_code, product_id, size, color, quantity, payment_type, base_price, promotion_discount,
	loyalty_discount, total_price, payment_id, status, created_at, updated_at, version`

func scanOrder(row rowScanner, o *models.Order) error {
	return row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.CustomerID,
		&o.ShippingName,
		&o.ShippingPhone,
		&o.ShippingAddress,
		&o.ShippingCity,
		&o.ShippingPostalCode,
		&o.ProductID,
		&o.Size,
		&o.Color,
		&o.Quantity,
		&o.PaymentType,
		&o.BasePrice,
		&o.PromotionDiscount,
		&o.LoyaltyDiscount,
		&o.TotalPrice,
		&o.PaymentID,
		&o.Status,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.Version,
	)
}

func generateOrderNumber() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}

// InsertOrder persists o inside tx with status Processing. A payment that
// already backs an order fails with ErrPaymentAlreadyUsed.
func InsertOrder(ctx context.Context, tx *sql.Tx, o models.Order) (*models.Order, error) {
	created := &models.Order{}

	query := `
		INSERT INTO orders (order_number, customer_id, shipping_name, shipping_phone, shipping_address, shipping_city,
			shipping_postal_code, product_id, size, color, quantity, payment_type, base_price, promotion_discount,
			loyalty_discount, total_price, payment_id, status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW(), 1)
		RETURNING ` + orderColumns

	row := tx.QueryRowContext(ctx, query,
		generateOrderNumber(), o.CustomerID, o.ShippingName, o.ShippingPhone, o.ShippingAddress, o.ShippingCity,
		o.ShippingPostalCode, o.ProductID, o.Size, o.Color, o.Quantity, o.PaymentType, o.BasePrice, o.PromotionDiscount,
		o.LoyaltyDiscount, o.TotalPrice, o.PaymentID, models.OrderStatusProcessing)
	if err := scanOrder(row, created); err != nil {
		if database.IsUniqueViolation(err, "orders_payment_id_key") {
			return nil, database.ErrPaymentAlreadyUsed
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	return created, nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	if err := scanOrder(db.QueryRowContext(ctx, query, id), order); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	return order, nil
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, customerID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, customerID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// UpdateOrderStatus moves an order from one status to the next, guarded by
// the status and version read by the caller.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, id int64, from, to string, version int) (*models.Order, error) {
	order := &models.Order{}

	query := `
		UPDATE orders
		SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND status = $3 AND version = $4
		RETURNING ` + orderColumns

	if err := scanOrder(db.QueryRowContext(ctx, query, to, id, from, version), order); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOptimisticLockFailed
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}

	return order, nil
}
