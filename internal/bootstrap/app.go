package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/oakmart/payments/internal/infrastructure/config"
	"github.com/oakmart/payments/internal/infrastructure/observability"
	infraRedis "github.com/oakmart/payments/internal/infrastructure/redis"
	"github.com/oakmart/payments/internal/providers"
	"github.com/oakmart/payments/internal/repository/postgres"
)

type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Metrics  *observability.Metrics
	Registry *providers.Registry

	tracerShutdown func(context.Context) error
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info().Str("service", serviceName).Msg("Starting")

	app := &App{Config: cfg, Logger: logger}

	if cfg.Observability.EnableTracing {
		shutdown, err := observability.InitTracer(serviceName, cfg.InstanceID, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			app.tracerShutdown = shutdown
			logger.Info().Msg("Tracing enabled")
		}
	}

	app.Metrics = observability.NewMetrics(metricsNamespace, nil)
	logger.Info().Msg("Metrics initialized")

	app.Pool, err = postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	app.Redis, err = infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		app.Pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	app.Registry, err = buildRegistry(&cfg.Providers, &cfg.Payment)
	if err != nil {
		app.Redis.Close()
		app.Pool.Close()
		return nil, fmt.Errorf("configure providers: %w", err)
	}
	logger.Info().Strs("providers", app.Registry.Names()).Msg("Payment providers configured")

	metrics := app.Metrics
	app.Registry.OnStateChange(func(name string, state gobreaker.State) {
		metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(state))
		logger.Warn().Str("breaker", name).Str("state", state.String()).
			Msg("Circuit breaker state changed")
	})

	return app, nil
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// buildRegistry assembles adapters for every enabled provider. At least one
// provider must be enabled or the process refuses to start.
func buildRegistry(cfg *config.ProvidersConfig, payCfg *config.PaymentConfig) (*providers.Registry, error) {
	registry := providers.NewRegistry()

	if cfg.Cardgate.Enabled {
		adapter, err := providers.NewCardgate(providers.CardgateConfig{
			BaseURL:        cfg.Cardgate.BaseURL,
			APIKey:         cfg.Cardgate.APIKey,
			WebhookSecret:  cfg.Cardgate.WebhookSecret,
			RequestTimeout: payCfg.ProviderTimeout,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(adapter)
	}

	if cfg.Lunapay.Enabled {
		adapter, err := providers.NewLunapay(providers.LunapayConfig{
			BaseURL:        cfg.Lunapay.BaseURL,
			MerchantID:     cfg.Lunapay.MerchantID,
			APIKey:         cfg.Lunapay.APIKey,
			RequestTimeout: payCfg.ProviderTimeout,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(adapter)
	}

	if cfg.Orbitwallet.Enabled {
		adapter, err := providers.NewOrbitwallet(providers.OrbitwalletConfig{
			BaseURL:        cfg.Orbitwallet.BaseURL,
			AppID:          cfg.Orbitwallet.AppID,
			AppSecret:      cfg.Orbitwallet.AppSecret,
			PublicKeyPEM:   cfg.Orbitwallet.PublicKeyPEM,
			RequestTimeout: payCfg.ProviderTimeout,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(adapter)
	}

	if cfg.MockEnabled {
		registry.Register(providers.NewMockProvider("mockpay"))
	}

	if len(registry.Names()) == 0 {
		return nil, fmt.Errorf("no payment providers enabled")
	}

	return registry, nil
}

func (a *App) Close() {
	if a.tracerShutdown != nil {
		a.tracerShutdown(context.Background())
	}
	a.Redis.Close()
	a.Pool.Close()
}
