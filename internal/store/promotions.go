package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

type PromotionInput struct {
	Title       string
	ProductCode string
	DiscountPct decimal.Decimal
	StartsAt    time.Time
	EndsAt      time.Time
	BannerURL   string
}

const promotionColumns = `id, title, product_code, discount_pct, starts_at, ends_at, banner_url, created_at, updated_at`

func scanPromotion(row rowScanner, p *models.Promotion) error {
	return row.Scan(
		&p.ID,
		&p.Title,
		&p.ProductCode,
		&p.DiscountPct,
		&p.StartsAt,
		&p.EndsAt,
		&p.BannerURL,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
}

func CreatePromotion(ctx context.Context, db *sql.DB, in PromotionInput) (*models.Promotion, error) {
	promotion := &models.Promotion{}

	query := `
		INSERT INTO promotions (title, product_code, discount_pct, starts_at, ends_at, banner_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING ` + promotionColumns

	row := db.QueryRowContext(ctx, query, in.Title, in.ProductCode, in.DiscountPct, in.StartsAt.UTC(), in.EndsAt.UTC(), in.BannerURL)
	if err := scanPromotion(row, promotion); err != nil {
		return nil, fmt.Errorf("create promotion: %w", err)
	}

	return promotion, nil
}

func UpdatePromotion(ctx context.Context, db *sql.DB, id int64, in PromotionInput) (*models.Promotion, error) {
	promotion := &models.Promotion{}

	query := `
		UPDATE promotions
		SET title = $1, product_code = $2, discount_pct = $3, starts_at = $4, ends_at = $5, banner_url = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING ` + promotionColumns

	row := db.QueryRowContext(ctx, query, in.Title, in.ProductCode, in.DiscountPct, in.StartsAt.UTC(), in.EndsAt.UTC(), in.BannerURL, id)
	if err := scanPromotion(row, promotion); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPromotionNotFound
		}
		return nil, fmt.Errorf("update promotion: %w", err)
	}

	return promotion, nil
}

func DeletePromotion(ctx context.Context, db *sql.DB, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM promotions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete promotion: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrPromotionNotFound
	}

	return nil
}

// ListPromotions returns promotions in creation order, which is the order
// the pricer uses to pick the first active match. An empty productCode lists
// every promotion.
func ListPromotions(ctx context.Context, q DBTX, productCode string) ([]models.Promotion, error) {
	query := `
		SELECT ` + promotionColumns + `
		FROM promotions
		WHERE ($1 = '' OR product_code = $1)
		ORDER BY id`

	rows, err := q.QueryContext(ctx, query, productCode)
	if err != nil {
		return nil, fmt.Errorf("list promotions: %w", err)
	}
	defer rows.Close()

	promotions := []models.Promotion{}
	for rows.Next() {
		var p models.Promotion
		if err := scanPromotion(rows, &p); err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		promotions = append(promotions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return promotions, nil
}
