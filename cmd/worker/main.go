package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/oakmart/payments/internal/bootstrap"
	infraRedis "github.com/oakmart/payments/internal/infrastructure/redis"
	"github.com/oakmart/payments/internal/repository/postgres"
	"github.com/oakmart/payments/internal/service"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "payments-worker", "payments_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Repositories ---
	txRepo := postgres.NewTransactionRepository(app.Pool)
	refundRepo := postgres.NewRefundRepository(app.Pool)
	methodRepo := postgres.NewMethodRepository(app.Pool)
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
	reconciler := service.NewReconciler(txRepo, refundRepo, app.Registry, ledger, service.ReconcilerConfig{
		Interval:         app.Config.Worker.ReconcileInterval,
		RefundStuckAfter: app.Config.Worker.RefundStuckAfter,
		BatchSize:        app.Config.Worker.ReconcileBatchSize,
	}, app.Metrics, app.Logger)

	streamProducer := infraRedis.NewStreamProducer(app.Redis, app.Config.Worker.StreamName)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Reconciler, gated by a leader lock so only one instance polls providers.
	g.Go(func() error {
		return runReconciler(gCtx, app, reconciler)
	})

	// 2. Outbox processor (polls outbox table, publishes to Redis Streams).
	g.Go(func() error {
		return runOutboxProcessor(gCtx, app, outboxRepo, streamProducer, app.Config.Worker.OutboxPollInterval)
	})

	// 3. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

// runReconciler runs reconciliation sweeps while holding the leader lock.
// Instances that lose the election retry after a lock TTL, so a crashed
// leader is replaced within one TTL window.
func runReconciler(ctx context.Context, app *bootstrap.App, reconciler *service.Reconciler) error {
	lockTTL := app.Config.Worker.LeaderLockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	interval := app.Config.Worker.ReconcileInterval

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		lock := infraRedis.NewDistributedLock(app.Redis, "reconciler-leader", lockTTL)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			app.Logger.Error().Err(err).Msg("Leader election failed")
		}
		if !acquired {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(lockTTL):
			}
			continue
		}

		app.Logger.Info().Msg("Acquired reconciler leadership")
		leaderLoop(ctx, app.Logger, lock, lockTTL, interval, func(c context.Context) {
			app.Metrics.ReconcileRuns.Inc()
			if n, err := reconciler.RunOnce(c); err != nil {
				app.Logger.Error().Err(err).Msg("Reconciliation pass failed")
			} else if n > 0 {
				app.Logger.Info().Int("reconciled", n).Msg("Reconciliation pass done")
			}
		})
		lock.Release(context.WithoutCancel(ctx))

		if ctx.Err() != nil {
			return nil
		}
	}
}

// leaderLoop runs fn at the given interval, extending the lock before each
// pass. It returns when the context is cancelled or the lock is lost.
func leaderLoop(
	ctx context.Context,
	logger zerolog.Logger,
	lock *infraRedis.DistributedLock,
	lockTTL, interval time.Duration,
	fn func(context.Context),
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := lock.Extend(ctx, lockTTL); err != nil {
			logger.Warn().Err(err).Msg("Lost reconciler leadership")
			return
		}
		fn(ctx)
	}
}

func runOutboxProcessor(
	ctx context.Context,
	app *bootstrap.App,
	outboxRepo *postgres.OutboxRepository,
	streamProducer *infraRedis.StreamProducer,
	pollInterval time.Duration,
) error {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	txManager := postgres.NewTxManager(app.Pool)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			entries, err := outboxRepo.GetPending(txCtx, app.Config.Worker.OutboxBatchSize)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				if err := streamProducer.PublishEntry(ctx, entry); err != nil {
					app.Logger.Error().Err(err).Str("outbox_id", entry.ID.String()).Msg("Failed to publish outbox event")
					outboxRepo.MarkFailed(txCtx, entry.ID)
					app.Metrics.OutboxPublished.WithLabelValues("failed").Inc()
					continue
				}
				outboxRepo.MarkPublished(txCtx, entry.ID)
				app.Metrics.OutboxPublished.WithLabelValues("published").Inc()
			}
			return nil
		})
		if err != nil {
			app.Logger.Error().Err(err).Msg("Outbox processor error")
		}
	}
}
