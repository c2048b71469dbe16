package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/oakmart/payments/internal/bootstrap"
	"github.com/oakmart/payments/internal/controller"
	"github.com/oakmart/payments/internal/repository/postgres"
	"github.com/oakmart/payments/internal/service"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "payments-api", "payments")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Repositories ---
	txRepo := postgres.NewTransactionRepository(app.Pool)
	refundRepo := postgres.NewRefundRepository(app.Pool)
	methodRepo := postgres.NewMethodRepository(app.Pool)
	webhookRepo := postgres.NewWebhookRepository(app.Pool)
	orderRepo := postgres.NewOrderRepository(app.Pool)
	outboxRepo := postgres.NewOutboxRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)

	// --- Services ---
	ledger := service.NewLedgerService(
		txRepo, refundRepo, methodRepo, outboxRepo, orderRepo, txManager, app.Registry,
		service.LedgerConfig{
			SupportedCurrencies: app.Config.Payment.SupportedCurrencies,
			PublicBaseURL:       app.Config.Payment.PublicBaseURL,
			ReturnURL:           app.Config.Payment.ReturnURL,
			CancelURL:           app.Config.Payment.CancelURL,
			ProviderTimeout:     app.Config.Payment.ProviderTimeout,
		},
		app.Metrics,
		app.Logger,
	)
	webhooks := service.NewWebhookService(app.Registry, webhookRepo, ledger, txManager, app.Logger)

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:               app.Pool,
		RedisClient:        app.Redis,
		Ledger:             ledger,
		Webhooks:           webhooks,
		Metrics:            app.Metrics,
		CORSConfig:         app.Config.Server.CORS,
		RateLimitPerMinute: app.Config.Payment.RateLimitPerMinute,
		IdempotencyTTL:     app.Config.Payment.IdempotencyTTL,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
