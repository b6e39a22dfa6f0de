package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every setting of the api, processor and cli binaries.
// Only this struct must be used to read configuration, no direct access to
// env or any other config source should be made.
type Config struct {
	AppEnv              string `env:"APP_ENV,default=dev"`
	AppName             string `env:"APP_NAME,default=esim_gateway"`
	AppDebug            bool   `env:"APP_DEBUG,default=true"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR,default=:9100"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI,default=/metrics"`

	HttpListenAddr     string `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpBaseRequestUrl string `env:"HTTP_BASE_REQUEST_URI,default=/api/v1"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`
	PostgresSSLMode       string `env:"POSTGRES_SSL_MODE,default=disable"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=esim:"`

	PromNamespace string `env:"PROM_NAMESPACE,default=esim_gateway"`

	LogLevel string `env:"LOG_LEVEL,default=info"`

	ProviderName                string        `env:"PROVIDER_NAME,default=wholesale"`
	ProviderBaseURL             string        `env:"PROVIDER_BASE_URL,default=http://localhost:8090"`
	ProviderUsername            string        `env:"PROVIDER_USERNAME"`
	ProviderPassword            string        `env:"PROVIDER_PASSWORD"`
	ProviderTimeout             time.Duration `env:"PROVIDER_TIMEOUT,default=15s"`
	ProviderTokenVerifyInterval time.Duration `env:"PROVIDER_TOKEN_VERIFY_INTERVAL,default=1m"`
	ProviderBreakerThreshold    int           `env:"PROVIDER_BREAKER_THRESHOLD,default=5"`
	ProviderBreakerTimeout      time.Duration `env:"PROVIDER_BREAKER_TIMEOUT,default=30s"`

	FulfillmentConcurrency int           `env:"FULFILLMENT_CONCURRENCY,default=4"`
	FulfillmentUnitTimeout time.Duration `env:"FULFILLMENT_UNIT_TIMEOUT,default=30s"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	PaymentCurrency     string `env:"PAYMENT_CURRENCY,default=usd"`

	JwtSecret string `env:"JWT_SECRET"`
	JwtIssuer string `env:"JWT_ISSUER,default=esim-gateway"`

	NotifyRelayURL   string `env:"NOTIFY_RELAY_URL"`
	NotifyAdminEmail string `env:"NOTIFY_ADMIN_EMAIL"`

	QueueName              string        `env:"NOTIFY_QUEUE_NAME,default=notifications"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=notifiers"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=5"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=30s"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=50"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`

	CatalogSyncInterval time.Duration `env:"CATALOG_SYNC_INTERVAL,default=6h"`
	CatalogSyncLockTTL  time.Duration `env:"CATALOG_SYNC_LOCK_TTL,default=10m"`

	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL,default=5m"`
	ReconcileMinAge   time.Duration `env:"RECONCILE_MIN_AGE,default=15m"`

	WebhookLockTTL time.Duration `env:"WEBHOOK_LOCK_TTL,default=2m"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=40"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	if err = c.validate(); err != nil {
		return err
	}
	if err = logger.SetLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "invalid LOG_LEVEL %q", c.LogLevel)
	}

	config = c
	return nil
}

func (c *Config) validate() error {
	if c.FulfillmentConcurrency < 1 {
		return errors.New("FULFILLMENT_CONCURRENCY must be at least 1")
	}
	if c.ProviderTimeout <= 0 {
		return errors.New("PROVIDER_TIMEOUT must be positive")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production" || c.AppEnv == "prod"
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// Set replaces the loaded configuration. Used by tests and embedded runs.
func Set(c *Config) {
	config = c
}
