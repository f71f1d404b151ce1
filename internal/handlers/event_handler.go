package handlers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/distributed-ecommerce-saga/product-service/internal/events"
	"github.com/distributed-ecommerce-saga/product-service/internal/messaging"
	"github.com/distributed-ecommerce-saga/product-service/internal/service"
)

type EventHandler struct {
	stock  *service.StockService
	logger *zap.Logger
}

func NewEventHandler(stock *service.StockService, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		stock:  stock,
		logger: logger.Named("events"),
	}
}

// HandleEvent is the consumer callback. Returning an error asks the
// consumer to redeliver.
func (h *EventHandler) HandleEvent(ctx context.Context, eventType string, body []byte) error {
	h.logger.Debug("Event received", zap.String("event_type", eventType))

	switch eventType {
	case events.ProductStockCompensationFailed:
		return h.handleCompensationFailed(ctx, body)
	default:
		h.logger.Warn("Unhandled event type", zap.String("event_type", eventType))
		return nil
	}
}

func (h *EventHandler) handleCompensationFailed(ctx context.Context, body []byte) error {
	var payload events.CompensationFailedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		// redelivering an unreadable body cannot help
		h.logger.Error("Dropping undecodable compensation event", zap.Error(err))
		return nil
	}
	return h.stock.RestoreStock(ctx, payload)
}

func (h *EventHandler) StartConsuming(consumer *messaging.Consumer) error {
	return consumer.ConsumeEvents([]string{events.ProductStockCompensationFailed}, h.HandleEvent)
}
