package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type PaymentConfig struct {
	SupportedCurrencies []string      `mapstructure:"supported_currencies"`
	PublicBaseURL       string        `mapstructure:"public_base_url"`
	ReturnURL           string        `mapstructure:"return_url"`
	CancelURL           string        `mapstructure:"cancel_url"`
	ProviderTimeout     time.Duration `mapstructure:"provider_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	IdempotencyTTL      time.Duration `mapstructure:"idempotency_ttl"`
	RateLimitPerMinute  int           `mapstructure:"rate_limit_per_minute"`
}

type WorkerConfig struct {
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatchSize int           `mapstructure:"reconcile_batch_size"`
	RefundStuckAfter   time.Duration `mapstructure:"refund_stuck_after"`
	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxBatchSize    int           `mapstructure:"outbox_batch_size"`
	LeaderLockTTL      time.Duration `mapstructure:"leader_lock_ttl"`
	StreamName         string        `mapstructure:"stream_name"`
}

// ProvidersConfig carries per-provider credentials. Values are supplied via
// environment variables or a config file and are never logged.
type ProvidersConfig struct {
	Cardgate    CardgateConfig    `mapstructure:"cardgate"`
	Lunapay     LunapayConfig     `mapstructure:"lunapay"`
	Orbitwallet OrbitwalletConfig `mapstructure:"orbitwallet"`
	MockEnabled bool              `mapstructure:"mock_enabled"`
}

type CardgateConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type LunapayConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BaseURL    string `mapstructure:"base_url"`
	MerchantID string `mapstructure:"merchant_id"`
	APIKey     string `mapstructure:"api_key"`
}

type OrbitwalletConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BaseURL      string `mapstructure:"base_url"`
	AppID        string `mapstructure:"app_id"`
	AppSecret    string `mapstructure:"app_secret"`
	PublicKeyPEM string `mapstructure:"public_key_pem"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PAYMENTS")
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/payments")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if len(c.Payment.SupportedCurrencies) == 0 {
		errs = append(errs, fmt.Errorf("payment.supported_currencies must not be empty"))
	}
	if c.Payment.PublicBaseURL == "" {
		errs = append(errs, fmt.Errorf("payment.public_base_url is required"))
	}
	if c.Worker.ReconcileInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker.reconcile_interval must be positive"))
	}
	if c.Worker.ReconcileBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.reconcile_batch_size must be positive"))
	}
	if c.Worker.OutboxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.outbox_batch_size must be positive"))
	}

	if c.Providers.Cardgate.Enabled {
		if c.Providers.Cardgate.APIKey == "" || c.Providers.Cardgate.WebhookSecret == "" {
			errs = append(errs, fmt.Errorf("providers.cardgate requires api_key and webhook_secret when enabled"))
		}
	}
	if c.Providers.Lunapay.Enabled {
		if c.Providers.Lunapay.MerchantID == "" || c.Providers.Lunapay.APIKey == "" {
			errs = append(errs, fmt.Errorf("providers.lunapay requires merchant_id and api_key when enabled"))
		}
	}
	if c.Providers.Orbitwallet.Enabled {
		if c.Providers.Orbitwallet.AppID == "" || c.Providers.Orbitwallet.AppSecret == "" || c.Providers.Orbitwallet.PublicKeyPEM == "" {
			errs = append(errs, fmt.Errorf("providers.orbitwallet requires app_id, app_secret and public_key_pem when enabled"))
		}
	}

	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Providers.MockEnabled {
			errs = append(errs, fmt.Errorf("providers.mock_enabled must be false in production"))
		}
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "payments")
	v.SetDefault("database.database", "payments")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Payment defaults
	v.SetDefault("payment.supported_currencies", []string{"USD", "EUR"})
	v.SetDefault("payment.public_base_url", "http://localhost:8080")
	v.SetDefault("payment.return_url", "http://localhost:3000/checkout/return")
	v.SetDefault("payment.cancel_url", "http://localhost:3000/checkout/cancel")
	v.SetDefault("payment.provider_timeout", "10s")
	v.SetDefault("payment.max_retries", 3)
	v.SetDefault("payment.retry_delay", "500ms")
	v.SetDefault("payment.idempotency_ttl", "24h")
	v.SetDefault("payment.rate_limit_per_minute", 60)

	// Worker defaults
	v.SetDefault("worker.reconcile_interval", "1m")
	v.SetDefault("worker.reconcile_batch_size", 50)
	v.SetDefault("worker.refund_stuck_after", "15m")
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.outbox_batch_size", 10)
	v.SetDefault("worker.leader_lock_ttl", "30s")
	v.SetDefault("worker.stream_name", "payments:events")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Instance ID
	v.SetDefault("instance_id", "payments-1")
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
