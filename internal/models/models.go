package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID                int64     `json:"id"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	GatewayCustomerID string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Version           int       `json:"version"`
}

type Product struct {
	ID          int64           `json:"id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Variants    []Variant       `json:"variants,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int             `json:"version"`
}

// Variant is the stock keeping unit of a product for one size and color.
type Variant struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
}

type Promotion struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	ProductCode string          `json:"product_code"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	StartsAt    time.Time       `json:"starts_at"`
	EndsAt      time.Time       `json:"ends_at"`
	BannerURL   string          `json:"banner_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PaymentMethod is a card on file. Only display fields are kept; the card
// itself lives with the payment gateway behind ExternalID.
type PaymentMethod struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customer_id"`
	ExternalID string    `json:"-"`
	Brand      string    `json:"brand"`
	Last4      string    `json:"last4"`
	ExpMonth   int       `json:"exp_month"`
	ExpYear    int       `json:"exp_year"`
	IsDefault  bool      `json:"is_default"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Payment struct {
	ID              int64           `json:"id"`
	CustomerID      int64           `json:"customer_id"`
	PaymentMethodID int64           `json:"payment_method_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	ExternalID      string          `json:"external_id,omitempty"`
	IdempotencyKey  string          `json:"-"`
	Status          string          `json:"status"`
	ProductCode     string          `json:"product_code"`
	Size            string          `json:"size"`
	Color           string          `json:"color"`
	Quantity        int             `json:"quantity"`
	UseLoyalty      bool            `json:"use_loyalty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Order struct {
	ID                 int64           `json:"id"`
	OrderNumber        string          `json:"order_number"`
	CustomerID         int64           `json:"customer_id"`
	ShippingName       string          `json:"shipping_name"`
	ShippingPhone      string          `json:"shipping_phone"`
	ShippingAddress    string          `json:"shipping_address"`
	ShippingCity       string          `json:"shipping_city"`
	ShippingPostalCode string          `json:"shipping_postal_code"`
	ProductID          int64           `json:"product_id"`
	Size               string          `json:"size"`
	Color              string          `json:"color"`
	Quantity           int             `json:"quantity"`
	PaymentType        string          `json:"payment_type"`
	BasePrice          decimal.Decimal `json:"base_price"`
	PromotionDiscount  decimal.Decimal `json:"promotion_discount"`
	LoyaltyDiscount    decimal.Decimal `json:"loyalty_discount"`
	TotalPrice         decimal.Decimal `json:"total_price"`
	PaymentID          int64           `json:"payment_id"`
	Status             string          `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Version            int             `json:"version"`
}

type LoyaltyEvent struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customer_id"`
	OrderID    *int64    `json:"order_id,omitempty"`
	Kind       string    `json:"kind"`
	Points     int       `json:"points"`
	CreatedAt  time.Time `json:"created_at"`
}

type RefundRequest struct {
	ID               int64           `json:"id"`
	CustomerID       int64           `json:"customer_id"`
	PaymentID        int64           `json:"payment_id"`
	Reason           string          `json:"reason,omitempty"`
	Status           string          `json:"status"`
	AdminResponse    string          `json:"admin_response,omitempty"`
	RefundExternalID string          `json:"refund_external_id,omitempty"`
	RefundAmount     decimal.Decimal `json:"refund_amount"`
	DecidedBy        string          `json:"decided_by,omitempty"`
	DecidedAt        *time.Time      `json:"decided_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Version          int             `json:"version"`
}

const (
	OrderStatusProcessing = "Processing"
	OrderStatusDelivering = "Delivering"
	OrderStatusDelivered  = "Delivered"
)

const (
	PaymentStatusSucceeded           = "succeeded"
	PaymentStatusPending             = "pending"
	PaymentStatusFailed              = "failed"
	PaymentStatusPendingVerification = "pending_verification"
	PaymentStatusRefunded            = "refunded"
)

const (
	RefundStatusPending  = "pending"
	RefundStatusApproved = "approved"
	RefundStatusRejected = "rejected"
)

const (
	LoyaltyEventAccrual    = "accrual"
	LoyaltyEventRedemption = "redemption"
)

// NextOrderStatus returns the only status an order may move to from current.
func NextOrderStatus(current string) (string, bool) {
	switch current {
	case OrderStatusProcessing:
		return OrderStatusDelivering, true
	case OrderStatusDelivering:
		return OrderStatusDelivered, true
	default:
		return "", false
	}
}
