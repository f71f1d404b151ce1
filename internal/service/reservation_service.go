package service

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/distributed-ecommerce-saga/product-service/internal/domain"
	"github.com/distributed-ecommerce-saga/product-service/internal/events"
	"github.com/distributed-ecommerce-saga/product-service/internal/observability"
	"github.com/distributed-ecommerce-saga/product-service/internal/repository"
)

const invalidItemsMessage = "Invalid items data"

// ReservationService reserves stock for a batch of demands with
// all-or-nothing semantics on top of single-document atomic updates.
type ReservationService struct {
	repo      repository.ProductRepository
	publisher EventPublisher
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func NewReservationService(repo repository.ProductRepository, publisher EventPublisher, metrics *observability.Metrics, logger *zap.Logger) *ReservationService {
	return &ReservationService{
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.Named("reservation"),
	}
}

type admittedDemand struct {
	product  *domain.Product
	quantity int
}

// CheckStockAndUpdate validates every demand, then decrements them in
// input order. A rejected batch returns *domain.OutOfStockError and touches
// nothing. A batch that fails after decrements were applied is rolled back
// and returns *domain.ReservationFailedError wrapping the original failure.
func (s *ReservationService) CheckStockAndUpdate(ctx context.Context, demands []domain.StockDemand) ([]domain.StockUpdate, error) {
	ctx, span := tracer.Start(ctx, "ReservationService.CheckStockAndUpdate",
		trace.WithAttributes(attribute.Int("reservation.items", len(demands))))
	defer span.End()

	if err := validateDemands(demands); err != nil {
		s.metrics.Reservations.WithLabelValues(observability.OutcomeInvalid).Inc()
		return nil, err
	}

	saga := domain.NewReservationSaga()
	span.SetAttributes(attribute.String("reservation.id", saga.ID.String()))
	logger := s.logger.With(zap.String("reservation_id", saga.ID.String()))

	admitted, err := s.admit(ctx, demands)
	if err != nil {
		var oos *domain.OutOfStockError
		if errors.As(err, &oos) {
			saga.Reject()
			s.metrics.Reservations.WithLabelValues(observability.OutcomeRejected).Inc()
			logger.Info("Reservation rejected", zap.Int("rejected_items", len(oos.Items)))
			span.SetAttributes(attribute.Int("reservation.rejected_items", len(oos.Items)))
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "admission failed")
		return nil, err
	}

	if err := s.apply(ctx, saga, admitted); err != nil {
		s.compensate(ctx, saga, logger)
		s.metrics.Reservations.WithLabelValues(observability.OutcomeRolledBack).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "reservation rolled back")
		return nil, &domain.ReservationFailedError{Saga: saga, Err: err}
	}

	saga.Complete()
	s.metrics.Reservations.WithLabelValues(observability.OutcomeCommitted).Inc()
	logger.Info("Reservation committed", zap.Int("items", len(saga.Steps)))

	updates := saga.Updates()
	s.publishReserved(ctx, updates, logger)
	return updates, nil
}

func validateDemands(demands []domain.StockDemand) error {
	if len(demands) == 0 {
		return domain.InvalidRequest(invalidItemsMessage)
	}
	for _, d := range demands {
		if d.ProductID == "" || d.Quantity <= 0 {
			return domain.InvalidRequest(invalidItemsMessage)
		}
	}
	return nil
}

// admit is the read-only gate. Demands naming the same product more than
// once are judged against their running total.
func (s *ReservationService) admit(ctx context.Context, demands []domain.StockDemand) ([]admittedDemand, error) {
	var (
		rejections []domain.StockRejection
		admitted   = make([]admittedDemand, 0, len(demands))
		snapshots  = make(map[string]*domain.Product)
		claimed    = make(map[string]int)
	)

	for _, d := range demands {
		product, ok := snapshots[d.ProductID]
		if !ok {
			found, err := s.repo.FindByID(ctx, d.ProductID)
			switch {
			case errors.Is(err, domain.ErrProductNotFound):
				found = nil
			case err != nil:
				return nil, errors.Wrapf(err, "load product %s", d.ProductID)
			}
			product = found
			snapshots[d.ProductID] = product
		}

		if product == nil {
			rejections = append(rejections, domain.MissingProductRejection(d.ProductID))
			continue
		}

		available := product.StockQuantity - claimed[d.ProductID]
		if available < d.Quantity {
			rejections = append(rejections, domain.ShortStockRejection(product, d.Quantity, available))
			continue
		}

		claimed[d.ProductID] += d.Quantity
		admitted = append(admitted, admittedDemand{product: product, quantity: d.Quantity})
	}

	if len(rejections) > 0 {
		return nil, &domain.OutOfStockError{Items: rejections}
	}
	return admitted, nil
}

// apply decrements in admission order and records each success on the saga.
// The guarded decrement refuses to go below zero, so a concurrent writer
// that drained the stock after admission surfaces here as a failure.
func (s *ReservationService) apply(ctx context.Context, saga *domain.ReservationSaga, admitted []admittedDemand) error {
	for _, a := range admitted {
		updated, err := s.repo.DecrementStock(ctx, a.product.ID, a.quantity)
		if err != nil {
			return domain.Conflict(fmt.Sprintf("failed to update product %s", a.product.ID), err)
		}
		saga.RecordApplied(updated, a.quantity)
	}
	return nil
}

// compensate restores every applied step in application order. Failures
// are logged and handed to the retry queue; they never stop the loop.
func (s *ReservationService) compensate(ctx context.Context, saga *domain.ReservationSaga, logger *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	saga.StartCompensation("stock update failed")
	logger.Warn("Rolling back reservation", zap.Int("applied_steps", len(saga.Steps)))

	for _, step := range saga.Steps {
		if _, err := s.repo.IncrementStock(ctx, step.ProductID, step.Quantity); err != nil {
			saga.MarkCompensationFailed(step, err)
			s.metrics.Compensations.WithLabelValues(observability.ResultFailed).Inc()
			logger.Error("Failed to roll back stock",
				zap.String("product_id", step.ProductID),
				zap.Int("quantity", step.Quantity),
				zap.Error(err))
			s.requestCompensationRetry(ctx, saga, step, logger)
			continue
		}
		saga.MarkCompensated(step)
		s.metrics.Compensations.WithLabelValues(observability.ResultOK).Inc()
		logger.Info("Rolled back stock change", zap.String("product_id", step.ProductID))
	}

	saga.FinishCompensation()
	logger.Info("Reservation compensation finished", zap.String("status", string(saga.Status)))
}

func (s *ReservationService) requestCompensationRetry(ctx context.Context, saga *domain.ReservationSaga, step *domain.ReservationStep, logger *zap.Logger) {
	payload := events.CompensationFailedPayload{
		ReservationID: saga.ID.String(),
		ProductID:     step.ProductID,
		Quantity:      step.Quantity,
		Reason:        step.FailureReason,
	}
	if err := s.publish(ctx, events.ProductStockCompensationFailed, payload); err != nil {
		logger.Error("Compensation left unrecoverable",
			zap.String("product_id", step.ProductID),
			zap.Error(err))
	}
}

func (s *ReservationService) publishReserved(ctx context.Context, updates []domain.StockUpdate, logger *zap.Logger) {
	payload := events.StockReservedPayload{
		ProductIDs:    make([]string, 0, len(updates)),
		NewQuantities: make([]int, 0, len(updates)),
	}
	for _, u := range updates {
		payload.ProductIDs = append(payload.ProductIDs, u.ProductID)
		payload.NewQuantities = append(payload.NewQuantities, u.NewStockQuantity)
	}

	if err := s.publish(ctx, events.ProductStockUpdated, payload); err != nil {
		logger.Error("Stock committed but event not delivered", zap.Error(err))
	}
}

func (s *ReservationService) publish(ctx context.Context, eventType string, payload interface{}) error {
	return publishEvent(ctx, s.publisher, s.metrics, eventType, payload)
}

func publishEvent(ctx context.Context, publisher EventPublisher, metrics *observability.Metrics, eventType string, payload interface{}) error {
	if err := publisher.Publish(ctx, eventType, payload); err != nil {
		metrics.EventsPublished.WithLabelValues(eventType, observability.ResultFailed).Inc()
		return domain.PublishFailure(eventType, err)
	}
	metrics.EventsPublished.WithLabelValues(eventType, observability.ResultOK).Inc()
	return nil
}
