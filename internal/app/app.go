// Package app builds the service graph shared by the api and processor binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nimasrn/esim-gateway/internal/config"
	"github.com/nimasrn/esim-gateway/internal/payment"
	"github.com/nimasrn/esim-gateway/internal/provider"
	"github.com/nimasrn/esim-gateway/internal/queue"
	"github.com/nimasrn/esim-gateway/internal/repository"
	"github.com/nimasrn/esim-gateway/internal/services"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"github.com/nimasrn/esim-gateway/pkg/redis"
)

type App struct {
	Provider      *provider.Client
	Notifications *queue.Queue
	Locker        *redis.Locker

	Carts       *services.CartService
	Catalog     *services.CatalogService
	Checkout    *services.CheckoutService
	Fulfillment *services.FulfillmentService
	Payments    *services.PaymentService
	Orders      *services.OrderService
	Health      *services.HealthService
}

func NotificationQueueConfig(c *config.Config) queue.Config {
	return queue.Config{
		Name:              c.QueueName,
		ConsumerGroup:     c.QueueConsumerGroup,
		ConsumerName:      c.QueueConsumerName,
		MaxRetries:        c.QueueMaxRetries,
		VisibilityTimeout: c.QueueVisibilityTimeout,
		PollInterval:      c.QueuePollInterval,
		BatchSize:         c.QueueBatchSize,
		MaxLen:            c.QueueMaxLen,
		EnableDLQ:         c.QueueEnableDLQ,
	}
}

func Build(c *config.Config, db *pg.DB, rdb redis.RedisAdapter) (*App, error) {
	transactionRepo := repository.NewTransactionRepository(db)
	cartRepo := repository.NewCartRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	esimRepo := repository.NewEsimRepository(db)
	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	client, err := provider.NewClient(provider.Config{
		Name:                c.ProviderName,
		BaseURL:             c.ProviderBaseURL,
		Username:            c.ProviderUsername,
		Password:            c.ProviderPassword,
		Timeout:             c.ProviderTimeout,
		TokenVerifyInterval: c.ProviderTokenVerifyInterval,
		BreakerThreshold:    c.ProviderBreakerThreshold,
		BreakerTimeout:      c.ProviderBreakerTimeout,
	}, tokenRepo)
	if err != nil {
		return nil, fmt.Errorf("provider client: %w", err)
	}

	gateway, err := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey:     c.StripeSecretKey,
		WebhookSecret: c.StripeWebhookSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}

	notifications, err := queue.New(rdb, NotificationQueueConfig(c))
	if err != nil {
		return nil, fmt.Errorf("notification queue: %w", err)
	}
	locker := redis.NewLocker(rdb)

	notifier := services.NewQueueNotifier(notifications, userRepo, c.NotifyAdminEmail)
	fulfillment := services.NewFulfillmentService(db, transactionRepo, orderRepo, cartRepo, esimRepo, catalogRepo, client, notifier, services.FulfillmentConfig{
		Concurrency: c.FulfillmentConcurrency,
		UnitTimeout: c.FulfillmentUnitTimeout,
	})

	return &App{
		Provider:      client,
		Notifications: notifications,
		Locker:        locker,
		Carts:         services.NewCartService(db, cartRepo, catalogRepo, c.PaymentCurrency),
		Catalog:       services.NewCatalogService(db, catalogRepo, client),
		Checkout:      services.NewCheckoutService(transactionRepo, cartRepo, esimRepo, catalogRepo, gateway, fulfillment, c.PaymentCurrency),
		Fulfillment:   fulfillment,
		Payments:      services.NewPaymentService(transactionRepo, gateway, fulfillment, locker, c.WebhookLockTTL),
		Orders:        services.NewOrderService(orderRepo),
		Health: services.NewHealthService(map[string]services.Pinger{
			"postgres": db,
			"redis": services.PingFunc(func(ctx context.Context) error {
				return rdb.Client().Ping(ctx).Err()
			}),
		}, client),
	}, nil
}

// PostgresConfigs maps the read and write connection settings.
func PostgresConfigs(c *config.Config) (read, write pg.Config) {
	read = pg.Config{
		User:     c.PostgresReadUser,
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
		SSLMode:  c.PostgresSSLMode,
	}
	write = pg.Config{
		User:            c.PostgresWriteUser,
		Host:            c.PostgresWriteHost,
		Port:            c.PostgresWritePort,
		Password:        c.PostgresWritePassword,
		Database:        c.PostgresWriteDatabase,
		SSLMode:         c.PostgresSSLMode,
		MaxOpenConns:    50,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
	}
	return read, write
}

func RedisOptions(c *config.Config) *redis.Options {
	return &redis.Options{
		Addrs:      []string{c.RedisAddr},
		ClientName: c.AppName,
		DB:         c.RedisDatabase,
		Username:   c.RedisUsername,
		Password:   c.RedisPassword,
	}
}
