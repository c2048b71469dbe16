package controller

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/oakmart/payments/internal/infrastructure/config"
	"github.com/oakmart/payments/internal/infrastructure/observability"
	customMW "github.com/oakmart/payments/internal/middleware"
	"github.com/oakmart/payments/internal/service"
)

type RouterDeps struct {
	Pool               *pgxpool.Pool
	RedisClient        *redis.Client
	Ledger             *service.LedgerService
	Webhooks           *service.WebhookService
	Metrics            *observability.Metrics
	CORSConfig         config.CORSConfig
	RateLimitPerMinute int
	IdempotencyTTL     time.Duration
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	paymentH := NewPaymentController(deps.Ledger)
	webhookH := NewWebhookController(deps.Webhooks, deps.Metrics)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/payment", func(r chi.Router) {
		idempotencyMW := customMW.Idempotency(
			customMW.NewIdempotencyStore(deps.RedisClient, deps.IdempotencyTTL))

		rateLimit := deps.RateLimitPerMinute
		if rateLimit <= 0 {
			rateLimit = 60
		}

		// Provider callbacks. The webhook URLs are registered with the
		// providers and never rate limited.
		r.Post("/webhook/{provider}", webhookH.Notify)

		// Checkout
		r.With(customMW.RateLimit(rateLimit), idempotencyMW).Post("/create", paymentH.CreatePayment)
		r.Get("/status/{transaction_id}", paymentH.GetStatus)
		r.With(idempotencyMW).Post("/refund", paymentH.RefundPayment)
		r.Get("/refund/{refund_id}", paymentH.GetRefund)
		r.Get("/methods", paymentH.ListMethods)

		// Operator tooling
		r.Get("/transactions", paymentH.ListTransactions)
		r.Get("/webhooks/failed", webhookH.ListFailed)
	})

	return r
}
