package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/payments"
	"github.com/safar/go-storefront/internal/store"
	"go.uber.org/zap"
)

type PaymentMethodServiceDeps struct {
	DB      *sql.DB
	Gateway payments.Gateway
	Logger  *zap.Logger
}

// PaymentMethodService manages cards on file. Card data never reaches the
// database; only the gateway reference and display fields are stored.
type PaymentMethodService struct {
	db      *sql.DB
	gateway payments.Gateway
	logger  *zap.Logger
}

type AddPaymentMethodInput struct {
	Token       string `json:"token"`
	MakeDefault bool   `json:"make_default"`
}

func NewPaymentMethodService(deps PaymentMethodServiceDeps) (*PaymentMethodService, error) {
	if deps.DB == nil {
		return nil, errors.New("payment method service: db is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment method service: gateway is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentMethodService{
		db:      deps.DB,
		gateway: deps.Gateway,
		logger:  logger.Named("payment_methods"),
	}, nil
}

func (s *PaymentMethodService) Add(ctx context.Context, customerID int64, in AddPaymentMethodInput) (*models.PaymentMethod, error) {
	token := strings.TrimSpace(in.Token)
	if token == "" {
		return nil, invalid("token", "is required")
	}

	customerRef, err := s.ensureGatewayCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	details, err := s.gateway.AttachMethod(ctx, customerRef, token)
	if err != nil {
		return nil, err
	}

	method, err := store.AddPaymentMethod(ctx, s.db, models.PaymentMethod{
		CustomerID: customerID,
		ExternalID: details.ExternalID,
		Brand:      details.Brand,
		Last4:      details.Last4,
		ExpMonth:   details.ExpMonth,
		ExpYear:    details.ExpYear,
	}, in.MakeDefault)
	if err != nil {
		if detachErr := s.gateway.DetachMethod(ctx, details.ExternalID); detachErr != nil {
			s.logger.Warn("detach after failed save",
				zap.Int64("customer_id", customerID),
				zap.String("method_external_id", details.ExternalID),
				zap.Error(detachErr),
			)
		}
		return nil, err
	}

	return method, nil
}

func (s *PaymentMethodService) ensureGatewayCustomer(ctx context.Context, customerID int64) (string, error) {
	customer, err := store.GetCustomer(ctx, s.db, customerID)
	if err != nil {
		return "", err
	}
	if customer.GatewayCustomerID != "" {
		return customer.GatewayCustomerID, nil
	}

	ref, err := s.gateway.EnsureCustomer(ctx, payments.CustomerRequest{
		CustomerID: customer.ID,
		Email:      customer.Email,
		Name:       customer.Name,
	})
	if err != nil {
		return "", err
	}
	return store.SetGatewayCustomerID(ctx, s.db, customer.ID, ref)
}

func (s *PaymentMethodService) List(ctx context.Context, customerID int64) ([]models.PaymentMethod, error) {
	return store.ListPaymentMethods(ctx, s.db, customerID)
}

func (s *PaymentMethodService) SetDefault(ctx context.Context, customerID, methodID int64) error {
	return store.SetDefaultPaymentMethod(ctx, s.db, customerID, methodID)
}

// Remove detaches the card at the gateway before deleting the stored row.
func (s *PaymentMethodService) Remove(ctx context.Context, customerID, methodID int64) error {
	method, err := store.GetPaymentMethod(ctx, s.db, customerID, methodID)
	if err != nil {
		return err
	}
	if err := s.gateway.DetachMethod(ctx, method.ExternalID); err != nil {
		return err
	}
	return store.DeletePaymentMethod(ctx, s.db, customerID, methodID)
}
