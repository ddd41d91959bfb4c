package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/httpapi"
	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/observability"
	"github.com/safar/go-storefront/internal/payments"
	"github.com/safar/go-storefront/internal/pricing"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	gateway, err := payments.NewStripeGateway(payments.StripeConfig{
		APIKey:      cfg.Payment.StripeAPIKey,
		AccountID:   cfg.Payment.StripeAccount,
		HTTPTimeout: cfg.Payment.CaptureTimeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	collectors := metrics.New()
	pricer := pricing.NewCheckoutPricer(pricing.LoyaltyPolicy{
		MinBalance:     cfg.Loyalty.MinBalance,
		RedemptionCost: cfg.Loyalty.RedemptionCost,
		AccrualPoints:  cfg.Loyalty.AccrualPoints,
		DiscountRate:   cfg.Loyalty.DiscountRate,
	})

	deps, err := buildServices(cfg, db, gateway, pricer, collectors, logger)
	if err != nil {
		return err
	}

	router, err := httpapi.NewRouter(deps)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
