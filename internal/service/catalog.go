package service

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type CreateCustomerInput struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type VariantInput struct {
	Size     string `json:"size"`
	Color    string `json:"color"`
	Quantity int    `json:"quantity"`
}

type CreateProductInput struct {
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Variants    []VariantInput  `json:"variants"`
}

type StockAdjustment struct {
	Size  string `json:"size"`
	Color string `json:"color"`
	Delta int    `json:"delta"`
}

type PromotionInput struct {
	Title       string          `json:"title"`
	ProductCode string          `json:"product_code"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	StartsAt    time.Time       `json:"starts_at"`
	EndsAt      time.Time       `json:"ends_at"`
	BannerURL   string          `json:"banner_url"`
}

func (in PromotionInput) validate() error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return invalid("title", "is required")
	case strings.TrimSpace(in.ProductCode) == "":
		return invalid("product_code", "is required")
	case in.DiscountPct.IsNegative() || in.DiscountPct.GreaterThan(decimal.NewFromInt(100)):
		return invalid("discount_pct", "must be between 0 and 100")
	case in.StartsAt.IsZero() || in.EndsAt.IsZero():
		return invalid("starts_at", "start and end are required")
	case in.EndsAt.Before(in.StartsAt):
		return invalid("ends_at", "must not be before starts_at")
	}
	return nil
}

func (in PromotionInput) toStore() store.PromotionInput {
	return store.PromotionInput{
		Title:       strings.TrimSpace(in.Title),
		ProductCode: strings.TrimSpace(in.ProductCode),
		DiscountPct: in.DiscountPct,
		StartsAt:    in.StartsAt.UTC(),
		EndsAt:      in.EndsAt.UTC(),
		BannerURL:   strings.TrimSpace(in.BannerURL),
	}
}

// CatalogService covers the staff-side records the checkout reads:
// customers, products with their variants, and promotions.
type CatalogService struct {
	db *sql.DB
}

func NewCatalogService(db *sql.DB) (*CatalogService, error) {
	if db == nil {
		return nil, errors.New("catalog service: db is required")
	}
	return &CatalogService{db: db}, nil
}

func (s *CatalogService) CreateCustomer(ctx context.Context, in CreateCustomerInput) (*models.Customer, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalid("email", "must be a valid address")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	return store.CreateCustomer(ctx, s.db, email, name)
}

func (s *CatalogService) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	return store.GetCustomer(ctx, s.db, id)
}

func (s *CatalogService) ListCustomers(ctx context.Context, page, pageSize int) (*store.OffsetPage, error) {
	page, pageSize = normalisePage(page, pageSize)
	return store.ListCustomers(ctx, s.db, page, pageSize)
}

func (s *CatalogService) CreateProduct(ctx context.Context, in CreateProductInput) (*models.Product, error) {
	code := strings.TrimSpace(in.Code)
	name := strings.TrimSpace(in.Name)
	switch {
	case code == "":
		return nil, invalid("code", "is required")
	case name == "":
		return nil, invalid("name", "is required")
	case in.Price.IsNegative():
		return nil, invalid("price", "must not be negative")
	}

	variants := make([]store.VariantInput, 0, len(in.Variants))
	for _, v := range in.Variants {
		size := strings.TrimSpace(v.Size)
		if size == "" {
			return nil, invalid("variants.size", "is required")
		}
		if v.Quantity < 0 {
			return nil, invalid("variants.quantity", "must not be negative")
		}
		variants = append(variants, store.VariantInput{
			Size:     size,
			Color:    strings.TrimSpace(v.Color),
			Quantity: v.Quantity,
		})
	}

	return store.CreateProduct(ctx, s.db, code, name, strings.TrimSpace(in.Description), in.Price.Round(2), variants)
}

func (s *CatalogService) GetProduct(ctx context.Context, code string) (*models.Product, error) {
	return store.GetProductByCode(ctx, s.db, strings.TrimSpace(code))
}

func (s *CatalogService) ListProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage, error) {
	page, pageSize = normalisePage(page, pageSize)
	return store.ListProducts(ctx, s.db, page, pageSize)
}

// AdjustStock adds delta (negative to remove) to a variant, creating the
// variant on first restock. Stock never goes below zero.
func (s *CatalogService) AdjustStock(ctx context.Context, code string, in StockAdjustment) (*models.Variant, error) {
	size := strings.TrimSpace(in.Size)
	if size == "" {
		return nil, invalid("size", "is required")
	}
	if in.Delta == 0 {
		return nil, invalid("delta", "must not be zero")
	}

	product, err := store.GetProductByCode(ctx, s.db, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	return store.AdjustVariantStock(ctx, s.db, product.ID, size, strings.TrimSpace(in.Color), in.Delta)
}

func (s *CatalogService) CreatePromotion(ctx context.Context, in PromotionInput) (*models.Promotion, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return store.CreatePromotion(ctx, s.db, in.toStore())
}

func (s *CatalogService) UpdatePromotion(ctx context.Context, id int64, in PromotionInput) (*models.Promotion, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return store.UpdatePromotion(ctx, s.db, id, in.toStore())
}

func (s *CatalogService) DeletePromotion(ctx context.Context, id int64) error {
	return store.DeletePromotion(ctx, s.db, id)
}

func (s *CatalogService) ListPromotions(ctx context.Context, productCode string) ([]models.Promotion, error) {
	return store.ListPromotions(ctx, s.db, strings.TrimSpace(productCode))
}

func normalisePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
