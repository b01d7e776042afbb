// Package app wires configuration, infrastructure and services into a
// runnable HTTP service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"order-fulfillment/cache"
	"order-fulfillment/config"
	"order-fulfillment/consumers"
	"order-fulfillment/controllers"
	"order-fulfillment/database"
	"order-fulfillment/events"
	"order-fulfillment/kafka"
	"order-fulfillment/middlewares"
	"order-fulfillment/observability"
	"order-fulfillment/rabbitmq"
	"order-fulfillment/repository"
	"order-fulfillment/services"
)

const (
	authRateLimit       = 10
	authRateLimitPeriod = time.Minute
)

// Container holds the long-lived resources of the service.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	Store     repository.Store
	Redis     *redis.Client
	Publisher events.Publisher
	Rabbit    *rabbitmq.RabbitMQ

	Inventory *services.Inventory
	Orders    *services.OrderService
	Products  *services.ProductService
	Auth      *services.AuthService
	Users     *services.UserService

	tracerProvider trace.TracerProvider
	otelShutdown   observability.ShutdownFunc
}

// NewContainer builds every component described by cfg. On failure the
// resources opened so far are released.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{Config: cfg}
	if err := c.build(ctx); err != nil {
		c.Shutdown(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context) error {
	cfg := c.Config
	c.setupObservability(ctx)
	if err := c.setupStore(ctx); err != nil {
		return err
	}
	orderCache, productCache, err := c.setupCaches(ctx)
	if err != nil {
		return err
	}
	scheduler, err := c.setupBroker()
	if err != nil {
		return err
	}

	c.Inventory = services.NewInventory(c.Store, productCache, c.Logger)
	c.Orders = services.NewOrderService(services.OrderDeps{
		Store:          c.Store,
		Inventory:      c.Inventory,
		Orders:         orderCache,
		Products:       productCache,
		Publisher:      c.Publisher,
		Scheduler:      scheduler,
		PaymentTimeout: cfg.PaymentTimeout,
		Logger:         c.Logger,
	})
	c.Products = services.NewProductService(c.Store, productCache, cfg.LowStockThreshold, c.Logger)
	c.Auth = services.NewAuthService(c.Store, cfg.JWTSecret, cfg.JWTTTL, c.Logger)
	c.Users = services.NewUserService(c.Store, c.Logger)

	if err := c.Users.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	return nil
}

// setupObservability installs the OTel SDKs and builds the logger on top of
// them. OTel failures are logged and the service keeps running without export.
func (c *Container) setupObservability(ctx context.Context) {
	logShutdown, logErr := observability.SetupLoggingSDK(ctx, c.Config)
	tp, traceShutdown, traceErr := observability.SetupTracingSDK(ctx, c.Config)

	c.Logger = observability.NewLogger(zapcore.InfoLevel)
	if logErr != nil {
		c.Logger.Error("Failed to setup OpenTelemetry logging", zap.Error(logErr))
	}
	if traceErr != nil {
		c.Logger.Error("Failed to setup OpenTelemetry tracing", zap.Error(traceErr))
	}
	if tp != nil {
		c.tracerProvider = tp
	}
	c.otelShutdown = observability.JoinShutdown(logShutdown, traceShutdown)
}

func (c *Container) setupStore(ctx context.Context) error {
	switch c.Config.StorageDriver {
	case config.StorageMemory:
		c.Logger.Warn("Using in-memory storage; data is lost on restart")
		c.Store = repository.NewMemoryStore()
	default:
		if err := database.InitDB(ctx, c.Config); err != nil {
			return err
		}
		c.Store = repository.NewMySQLStore(database.DB)
		c.Logger.Info("Connected to MySQL", zap.String("host", c.Config.DBHost), zap.String("database", c.Config.DBName))
	}
	return nil
}

func (c *Container) setupCaches(ctx context.Context) (orders, products cache.Cache, err error) {
	if c.Config.RedisAddr == "" {
		return cache.NewMemory(), cache.NewMemory(), nil
	}
	c.Redis, err = cache.NewRedisClient(ctx, c.Config.RedisAddr, c.Config.RedisPassword, c.Config.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	c.Logger.Info("Connected to Redis", zap.String("addr", c.Config.RedisAddr))
	return cache.NewRedis(c.Redis, cache.NamespaceOrders, c.Config.CacheTTL),
		cache.NewRedis(c.Redis, cache.NamespaceProducts, c.Config.CacheTTL), nil
}

// setupBroker selects where order events go. Only RabbitMQ can delay a
// message, so payment checks are scheduled nowhere else.
func (c *Container) setupBroker() (events.Scheduler, error) {
	switch c.Config.EventBroker {
	case config.BrokerRabbitMQ:
		rmq, err := rabbitmq.NewRabbitMQ(c.Config, c.Logger)
		if err != nil {
			return nil, err
		}
		c.Rabbit = rmq
		if err := rmq.SetupQueues(); err != nil {
			return nil, fmt.Errorf("setup rabbitmq queues: %w", err)
		}
		c.Publisher = rmq
		return rmq, nil
	case config.BrokerKafka:
		writer, err := kafka.NewWriter(c.Config, c.tracerProvider)
		if err != nil {
			return nil, err
		}
		c.Publisher = kafka.NewPublisher(writer, c.Logger)
		if c.Config.PaymentTimeout > 0 {
			c.Logger.Warn("PAYMENT_TIMEOUT is ignored with the kafka broker")
		}
		return events.Noop{}, nil
	default:
		c.Publisher = events.Noop{}
		return events.Noop{}, nil
	}
}

// StartConsumers starts the RabbitMQ consumer when that broker is in use.
func (c *Container) StartConsumers(ctx context.Context) error {
	if c.Rabbit == nil {
		return nil
	}
	return consumers.NewOrderConsumer(c.Orders, c.Logger).Start(ctx, c.Rabbit.Channel, c.Config)
}

func (c *Container) Handler() http.Handler {
	router := &controllers.Router{
		Orders:     controllers.NewOrderController(c.Orders),
		Products:   controllers.NewProductController(c.Products, c.Inventory),
		Auth:       controllers.NewAuthController(c.Auth),
		Users:      controllers.NewUserController(c.Users),
		JWTSecret:  c.Config.JWTSecret,
		Principals: c.Users,
		Logger:     c.Logger,
	}
	if c.Redis != nil {
		router.RateLimit = middlewares.RateLimiter(c.Redis, authRateLimit, authRateLimitPeriod, c.Logger)
	}
	return router.Engine()
}

// Shutdown releases resources in reverse order of creation.
func (c *Container) Shutdown(ctx context.Context) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			logger.Error("Failed to close event publisher", zap.Error(err))
		}
	}
	if c.Rabbit != nil && c.Publisher != events.Publisher(c.Rabbit) {
		if err := c.Rabbit.Close(); err != nil {
			logger.Error("Failed to close rabbitmq", zap.Error(err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logger.Error("Failed to close redis", zap.Error(err))
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	}
	if c.otelShutdown != nil {
		if err := c.otelShutdown(ctx); err != nil {
			logger.Error("Failed to shutdown OpenTelemetry", zap.Error(err))
		}
	}
	_ = logger.Sync()
}
