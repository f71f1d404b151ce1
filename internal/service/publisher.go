package service

import (
	"context"

	"go.opentelemetry.io/otel"
)

// EventPublisher hands an event to the broker. Implementations retry
// internally; a returned error means the event was not delivered.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

var tracer = otel.Tracer("github.com/distributed-ecommerce-saga/product-service/internal/service")
