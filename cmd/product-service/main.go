package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/distributed-ecommerce-saga/product-service/internal/config"
	"github.com/distributed-ecommerce-saga/product-service/internal/handlers"
	"github.com/distributed-ecommerce-saga/product-service/internal/messaging"
	"github.com/distributed-ecommerce-saga/product-service/internal/middleware"
	"github.com/distributed-ecommerce-saga/product-service/internal/observability"
	"github.com/distributed-ecommerce-saga/product-service/internal/repository"
	"github.com/distributed-ecommerce-saga/product-service/internal/service"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := observability.NewLogger(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	log.Info("Starting Product Service", zap.String("store", cfg.StoreDriver), zap.String("version", version))

	decimal.MarshalJSONWithoutQuotes = true

	ctx := context.Background()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.ServiceName, version, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("Tracer setup error", zap.Error(err))
	}

	repo, err := initRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal("Store connection error", zap.Error(err))
	}

	rabbitClient := messaging.NewRabbitMQClient(cfg.RabbitMQ(), log)
	if err := rabbitClient.Connect(); err != nil {
		log.Fatal("RabbitMQ connection error", zap.Error(err))
	}

	metrics := observability.NewMetrics("product_service")
	publisher := messaging.NewPublisher(rabbitClient, cfg.ServiceName, cfg.EventPublishRetries, log)
	consumer := messaging.NewConsumer(rabbitClient, cfg.CompensationQueue, cfg.ServiceName, cfg.CompensationRedeliveries, log)

	productService := service.NewProductService(repo, cfg.LowStockThreshold, log)
	stockService := service.NewStockService(repo, publisher, metrics, log)
	reservationService := service.NewReservationService(repo, publisher, metrics, log)

	productHandler := handlers.NewProductHandler(productService, stockService, reservationService, log)
	eventHandler := handlers.NewEventHandler(stockService, log)
	auth := middleware.NewAuth(cfg.JWTSecret, cfg.ServiceSecret, log)

	app := setupFiberApp(log)
	setupRoutes(app, cfg.ServiceName, productHandler, auth, metrics)

	log.Info("Starting compensation consumer", zap.String("queue", cfg.CompensationQueue))
	if err := eventHandler.StartConsuming(consumer); err != nil {
		log.Error("RabbitMQ consumption error", zap.Error(err))
	}

	go func() {
		log.Info("Product Service listening", zap.String("port", cfg.Port))
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal("Server startup error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down Product Service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("HTTP shutdown error", zap.Error(err))
	}
	if err := rabbitClient.Close(); err != nil {
		log.Error("RabbitMQ close error", zap.Error(err))
	}
	if err := repo.Close(shutdownCtx); err != nil {
		log.Error("Store close error", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("Tracer shutdown error", zap.Error(err))
	}
}

func initRepository(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.ProductRepository, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		return initMongo(ctx, cfg, log)
	case config.DriverPostgres:
		return initPostgres(ctx, cfg, log)
	default:
		log.Warn("Using in-memory product store; data is lost on restart")
		return repository.NewMemoryProductRepository(), nil
	}
}

func initMongo(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.ProductRepository, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect error")
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, errors.Wrap(err, "mongo ping error")
	}

	repo := repository.NewMongoProductRepository(client, cfg.MongoDatabase)
	if err := repo.EnsureIndexes(connectCtx); err != nil {
		return nil, err
	}

	log.Info("MongoDB connection successful", zap.String("database", cfg.MongoDatabase))
	return repo, nil
}

func initPostgres(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.ProductRepository, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		return nil, errors.Wrap(err, "database open error")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "database ping error")
	}

	repo := repository.NewPostgresProductRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	log.Info("Database connection successful", zap.String("database", cfg.DBName))
	return repo, nil
}

func setupFiberApp(log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Product Service v" + version,
		ErrorHandler: errorHandler(log),
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} - ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID,X-Service-Token",
	}))

	return app
}

func setupRoutes(app *fiber.App, serviceName string, productHandler *handlers.ProductHandler, auth *middleware.Auth, metrics *observability.Metrics) {
	app.Get("/health", handlers.HealthCheck(serviceName))
	app.Get("/api/health", handlers.HealthCheck(serviceName))
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api/products", auth.ServiceToken(), auth.ExtractUser())
	productHandler.RegisterRoutes(api, auth.AdminOnly())

	app.Use("*", handlers.RouteNotFound)
}

func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		}

		log.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))

		return c.Status(code).JSON(fiber.Map{
			"message": message,
			"error":   err.Error(),
		})
	}
}
