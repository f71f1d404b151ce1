package service

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/distributed-ecommerce-saga/product-service/internal/domain"
	"github.com/distributed-ecommerce-saga/product-service/internal/events"
	"github.com/distributed-ecommerce-saga/product-service/internal/observability"
	"github.com/distributed-ecommerce-saga/product-service/internal/repository"
)

const (
	productNotFoundMessage   = "Product not found"
	insufficientStockMessage = "Insufficient stock"
	stockOutOfRangeMessage   = "Stock quantity out of range"
)

type StockService struct {
	repo      repository.ProductRepository
	publisher EventPublisher
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func NewStockService(repo repository.ProductRepository, publisher EventPublisher, metrics *observability.Metrics, logger *zap.Logger) *StockService {
	return &StockService{
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.Named("stock"),
	}
}

// AdjustStock applies a signed delta to one product. Positive deltas
// restock, negative deltas sell.
func (s *StockService) AdjustStock(ctx context.Context, productID string, delta int) (*domain.Product, error) {
	ctx, span := tracer.Start(ctx, "StockService.AdjustStock")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", productID), attribute.Int("stock.delta", delta))

	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return nil, domain.NotFound(productNotFoundMessage)
		}
		return nil, errors.Wrap(err, "load product")
	}

	if product.StockQuantity+delta < 0 {
		s.metrics.Adjustments.WithLabelValues(observability.ResultFailed).Inc()
		return nil, domain.InvalidRequest(insufficientStockMessage)
	}
	if delta > math.MaxInt-product.StockQuantity {
		s.metrics.Adjustments.WithLabelValues(observability.ResultFailed).Inc()
		return nil, domain.InvalidRequest(stockOutOfRangeMessage)
	}

	var updated *domain.Product
	if delta >= 0 {
		updated, err = s.repo.IncrementStock(ctx, productID, delta)
	} else {
		updated, err = s.repo.DecrementStock(ctx, productID, -delta)
	}
	if err != nil {
		s.metrics.Adjustments.WithLabelValues(observability.ResultFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "stock update failed")
		switch {
		case errors.Is(err, domain.ErrProductNotFound):
			return nil, domain.Conflict("product vanished during stock update", err)
		case errors.Is(err, domain.ErrInsufficientStock):
			return nil, domain.InvalidRequest(insufficientStockMessage)
		default:
			return nil, errors.Wrap(err, "update stock")
		}
	}

	s.metrics.Adjustments.WithLabelValues(observability.ResultOK).Inc()
	s.logger.Info("Stock updated",
		zap.String("product_id", productID),
		zap.Int("delta", delta),
		zap.Int("new_quantity", updated.StockQuantity))

	payload := events.StockAdjustedPayload{ProductID: updated.ID, NewQuantity: updated.StockQuantity}
	if err := publishEvent(ctx, s.publisher, s.metrics, events.ProductStockUpdated, payload); err != nil {
		s.logger.Error("Stock committed but event not delivered",
			zap.String("product_id", productID),
			zap.Error(err))
	}

	return updated, nil
}

// RestoreStock replays a compensation that failed during a reservation
// rollback. A product that no longer exists has nothing to restore.
func (s *StockService) RestoreStock(ctx context.Context, payload events.CompensationFailedPayload) error {
	ctx, span := tracer.Start(ctx, "StockService.RestoreStock")
	defer span.End()
	span.SetAttributes(
		attribute.String("reservation.id", payload.ReservationID),
		attribute.String("product.id", payload.ProductID),
	)

	logger := s.logger.With(
		zap.String("reservation_id", payload.ReservationID),
		zap.String("product_id", payload.ProductID))

	if payload.ProductID == "" || payload.Quantity <= 0 {
		logger.Warn("Dropping malformed compensation request", zap.Int("quantity", payload.Quantity))
		return nil
	}

	updated, err := s.repo.IncrementStock(ctx, payload.ProductID, payload.Quantity)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			logger.Warn("Product gone, compensation dropped")
			return nil
		}
		s.metrics.Compensations.WithLabelValues(observability.ResultFailed).Inc()
		span.RecordError(err)
		return errors.Wrap(err, "restore stock")
	}

	s.metrics.Compensations.WithLabelValues(observability.ResultOK).Inc()
	logger.Info("Compensation replayed",
		zap.Int("quantity", payload.Quantity),
		zap.Int("new_quantity", updated.StockQuantity))
	return nil
}
