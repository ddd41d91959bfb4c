package main

import (
	"database/sql"

	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/httpapi"
	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/payments"
	"github.com/safar/go-storefront/internal/pricing"
	"github.com/safar/go-storefront/internal/service"
	"go.uber.org/zap"
)

func buildServices(cfg *config.Config, db *sql.DB, gateway payments.Gateway, pricer *pricing.CheckoutPricer, collectors *metrics.Collectors, logger *zap.Logger) (httpapi.Deps, error) {
	deps := httpapi.Deps{DB: db, Metrics: collectors, Logger: logger}
	var err error

	deps.Payments, err = service.NewPaymentService(service.PaymentServiceDeps{
		DB:      db,
		Gateway: gateway,
		Pricer:  pricer,
		Retry: payments.RetryPolicy{
			Timeout: cfg.Payment.CaptureTimeout,
			Backoff: cfg.Payment.RetryBackoff,
		},
		Currency:  cfg.Payment.Currency,
		Tolerance: cfg.Pricing.Tolerance,
		Logger:    logger,
		Metrics:   collectors,
	})
	if err != nil {
		return deps, err
	}

	deps.Orders, err = service.NewOrderService(service.OrderServiceDeps{
		DB:        db,
		Pricer:    pricer,
		Tolerance: cfg.Pricing.Tolerance,
		Logger:    logger,
		Metrics:   collectors,
	})
	if err != nil {
		return deps, err
	}

	deps.Refunds, err = service.NewRefundWorkflow(service.RefundWorkflowDeps{
		DB:      db,
		Gateway: gateway,
		Logger:  logger,
		Metrics: collectors,
	})
	if err != nil {
		return deps, err
	}

	deps.PaymentMethods, err = service.NewPaymentMethodService(service.PaymentMethodServiceDeps{
		DB:      db,
		Gateway: gateway,
		Logger:  logger,
	})
	if err != nil {
		return deps, err
	}

	if deps.Reports, err = service.NewReportService(db); err != nil {
		return deps, err
	}
	if deps.Catalog, err = service.NewCatalogService(db); err != nil {
		return deps, err
	}
	if deps.Loyalty, err = service.NewLoyaltyService(db, pricer.Loyalty()); err != nil {
		return deps, err
	}

	return deps, nil
}
