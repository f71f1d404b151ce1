package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/distributed-ecommerce-saga/product-service/internal/messaging"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port            string
	ServiceName     string
	StoreDriver     string
	ShutdownTimeout time.Duration

	MongoURI      string
	MongoDatabase string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RabbitHost               string
	RabbitPort               int
	RabbitUsername           string
	RabbitPassword           string
	RabbitVHost              string
	RabbitExchange           string
	RabbitRetryCount         int
	CompensationQueue        string
	EventPublishRetries      int
	CompensationRedeliveries int

	JWTSecret     string
	ServiceSecret string

	LogLevel     string
	LogFormat    string
	OTLPEndpoint string

	LowStockThreshold int
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnvOrDefault("PORT", "8082"),
		ServiceName:   getEnvOrDefault("SERVICE_NAME", "product-service"),
		StoreDriver:   getEnvOrDefault("STORE_DRIVER", DriverMongo),
		MongoURI:      getEnvOrDefault("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnvOrDefault("MONGO_DATABASE", "product_db"),

		DBHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:     getEnvOrDefault("DB_PORT", "5432"),
		DBUser:     getEnvOrDefault("DB_USER", "postgres"),
		DBPassword: getEnvOrDefault("DB_PASSWORD", "postgres"),
		DBName:     getEnvOrDefault("DB_NAME", "product_db"),

		RabbitHost:        getEnvOrDefault("RABBITMQ_HOST", "localhost"),
		RabbitUsername:    getEnvOrDefault("RABBITMQ_USERNAME", "guest"),
		RabbitPassword:    getEnvOrDefault("RABBITMQ_PASSWORD", "guest"),
		RabbitVHost:       getEnvOrDefault("RABBITMQ_VHOST", "/"),
		RabbitExchange:    getEnvOrDefault("RABBITMQ_EXCHANGE", "product_events"),
		CompensationQueue: getEnvOrDefault("RABBITMQ_COMPENSATION_QUEUE", "product-service.compensation"),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		ServiceSecret: os.Getenv("SERVICE_SECRET"),

		LogLevel:     getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:    getEnvOrDefault("LOG_FORMAT", "json"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.RabbitPort, err = getEnvInt("RABBITMQ_PORT", 5672); err != nil {
		return nil, err
	}
	if cfg.RabbitRetryCount, err = getEnvInt("RABBITMQ_RETRY_COUNT", 3); err != nil {
		return nil, err
	}
	if cfg.EventPublishRetries, err = getEnvInt("EVENT_PUBLISH_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.CompensationRedeliveries, err = getEnvInt("COMPENSATION_MAX_REDELIVERIES", 5); err != nil {
		return nil, err
	}
	if cfg.LowStockThreshold, err = getEnvInt("LOW_STOCK_THRESHOLD", 100); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMongo, DriverPostgres, DriverMemory:
	default:
		return errors.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.ServiceSecret == "" {
		return errors.New("SERVICE_SECRET is required")
	}
	if c.EventPublishRetries < 1 {
		return errors.New("EVENT_PUBLISH_RETRIES must be at least 1")
	}
	if c.CompensationRedeliveries < 0 {
		return errors.New("COMPENSATION_MAX_REDELIVERIES must not be negative")
	}
	return nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName,
	)
}

func (c *Config) RabbitMQ() *messaging.RabbitMQConfig {
	return &messaging.RabbitMQConfig{
		Host:              c.RabbitHost,
		Port:              c.RabbitPort,
		Username:          c.RabbitUsername,
		Password:          c.RabbitPassword,
		VHost:             c.RabbitVHost,
		Exchange:          c.RabbitExchange,
		ServiceName:       c.ServiceName,
		RetryCount:        c.RabbitRetryCount,
		RetryDelay:        5 * time.Second,
		ConnectionTimeout: 30 * time.Second,
		Heartbeat:         10 * time.Second,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return d, nil
}
