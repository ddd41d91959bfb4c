package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

type VariantInput struct {
	Size     string
	Color    string
	Quantity int
}

const productColumns = `id, code, name, description, price, created_at, updated_at, version`

func scanProduct(row rowScanner, p *models.Product) error {
	return row.Scan(
		&p.ID,
		&p.Code,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.Version,
	)
}

func CreateProduct(ctx context.Context, db *sql.DB, code, name, description string, price decimal.Decimal, variants []VariantInput) (*models.Product, error) {
	product := &models.Product{}

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		query := `
			INSERT INTO products (code, name, description, price, created_at, updated_at, version)
			VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
			RETURNING ` + productColumns

		if err := scanProduct(tx.QueryRowContext(ctx, query, code, name, description, price), product); err != nil {
			if database.IsUniqueViolation(err, "products_code_key") {
				return database.ErrDuplicateProductCode
			}
			return fmt.Errorf("create product: %w", err)
		}

		for _, v := range variants {
			variant := models.Variant{ProductID: product.ID}
			err := tx.QueryRowContext(ctx,
				`INSERT INTO product_variants (product_id, size, color, quantity, updated_at)
				 VALUES ($1, $2, $3, $4, NOW())
				 RETURNING id, size, color, quantity`,
				product.ID, v.Size, v.Color, v.Quantity).Scan(
				&variant.ID,
				&variant.Size,
				&variant.Color,
				&variant.Quantity,
			)
			if err != nil {
				if database.IsCheckViolation(err, "product_variants_quantity_check") {
					return database.ErrInsufficientStock
				}
				return fmt.Errorf("create variant %s/%s: %w", v.Size, v.Color, err)
			}
			product.Variants = append(product.Variants, variant)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return product, nil
}

func GetProductByCode(ctx context.Context, q DBTX, code string) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE code = $1`

	if err := scanProduct(q.QueryRowContext(ctx, query, code), product); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	variants, err := listVariants(ctx, q, product.ID)
	if err != nil {
		return nil, err
	}
	product.Variants = variants

	return product, nil
}

func GetProduct(ctx context.Context, q DBTX, id int64) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	if err := scanProduct(q.QueryRowContext(ctx, query, id), product); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

func listVariants(ctx context.Context, q DBTX, productID int64) ([]models.Variant, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, product_id, size, color, quantity
		 FROM product_variants
		 WHERE product_id = $1
		 ORDER BY id`,
		productID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	variants := []models.Variant{}
	for rows.Next() {
		var v models.Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Size, &v.Color, &v.Quantity); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		variants = append(variants, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return variants, nil
}

func GetVariant(ctx context.Context, q DBTX, productID int64, size, color string) (*models.Variant, error) {
	v := &models.Variant{}

	err := q.QueryRowContext(ctx,
		`SELECT id, product_id, size, color, quantity
		 FROM product_variants
		 WHERE product_id = $1 AND size = $2 AND color = $3`,
		productID, size, color).Scan(&v.ID, &v.ProductID, &v.Size, &v.Color, &v.Quantity)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrVariantNotFound
		}
		return nil, fmt.Errorf("get variant: %w", err)
	}

	return v, nil
}

// DecrementVariantStock removes quantity units in a single conditional
// update. It fails with ErrInsufficientStock when fewer units remain.
func DecrementVariantStock(ctx context.Context, tx *sql.Tx, productID int64, size, color string, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE product_variants
		 SET quantity = quantity - $1,
		     updated_at = NOW()
		 WHERE product_id = $2
		   AND size = $3
		   AND color = $4
		   AND quantity >= $1`,
		quantity, productID, size, color)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

// AdjustVariantStock adds delta units to a variant, creating the variant on
// first restock. A delta that would take stock below zero is rejected by the
// quantity check constraint.
func AdjustVariantStock(ctx context.Context, db *sql.DB, productID int64, size, color string, delta int) (*models.Variant, error) {
	v := &models.Variant{}

	err := db.QueryRowContext(ctx,
		`INSERT INTO product_variants (product_id, size, color, quantity, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT ON CONSTRAINT product_variants_key
		 DO UPDATE SET quantity = product_variants.quantity + EXCLUDED.quantity,
		               updated_at = NOW()
		 RETURNING id, product_id, size, color, quantity`,
		productID, size, color, delta).Scan(&v.ID, &v.ProductID, &v.Size, &v.Color, &v.Quantity)
	if err != nil {
		if database.IsCheckViolation(err, "product_variants_quantity_check") {
			return nil, database.ErrInsufficientStock
		}
		return nil, fmt.Errorf("adjust stock: %w", err)
	}

	return v, nil
}

func ListProducts(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &OffsetPage{
		Items:      products,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}
