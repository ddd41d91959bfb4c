package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/pricing"
	"github.com/safar/go-storefront/internal/store"
)

// LineItem is one product variant in a checkout.
type LineItem struct {
	ProductCode string `json:"product_code"`
	Size        string `json:"size"`
	Color       string `json:"color"`
	Quantity    int    `json:"quantity"`
	UseLoyalty  bool   `json:"use_loyalty"`
}

func (l *LineItem) normalise() {
	l.ProductCode = strings.TrimSpace(l.ProductCode)
	l.Size = strings.TrimSpace(l.Size)
	l.Color = strings.TrimSpace(l.Color)
}

func (l LineItem) validate() error {
	switch {
	case l.ProductCode == "":
		return invalid("product_code", "is required")
	case l.Size == "":
		return invalid("size", "is required")
	case l.Quantity <= 0:
		return invalid("quantity", "must be positive")
	}
	return nil
}

type pricedLine struct {
	product *models.Product
	variant *models.Variant
	quote   pricing.Quote
}

// priceLine quotes a line against current catalog state. The loyalty
// balance is read from the ledger on every call.
func priceLine(ctx context.Context, q store.DBTX, pricer *pricing.CheckoutPricer, customerID int64, line LineItem, now time.Time) (*pricedLine, error) {
	product, err := store.GetProductByCode(ctx, q, line.ProductCode)
	if err != nil {
		return nil, err
	}

	variant, err := store.GetVariant(ctx, q, product.ID, line.Size, line.Color)
	if err != nil {
		return nil, err
	}

	promotions, err := store.ListPromotions(ctx, q, product.Code)
	if err != nil {
		return nil, err
	}

	balance := 0
	if line.UseLoyalty {
		balance, err = store.LoyaltyBalance(ctx, q, customerID)
		if err != nil {
			return nil, err
		}
	}

	quote, err := pricer.Quote(pricing.QuoteInput{
		Product:        *product,
		Quantity:       line.Quantity,
		Promotions:     promotions,
		LoyaltyOptIn:   line.UseLoyalty,
		LoyaltyBalance: balance,
		Now:            now,
	})
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidQuantity) {
			return nil, invalid("quantity", "must be positive")
		}
		return nil, err
	}

	return &pricedLine{product: product, variant: variant, quote: quote}, nil
}

func checkStock(v *models.Variant, quantity int) error {
	if v.Quantity < quantity {
		return database.ErrInsufficientStock
	}
	return nil
}
