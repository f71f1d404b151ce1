package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationStatusStarted            ReservationStatus = "started"
	ReservationStatusRejected           ReservationStatus = "rejected"
	ReservationStatusCompleted          ReservationStatus = "completed"
	ReservationStatusCompensating       ReservationStatus = "compensating"
	ReservationStatusCompensated        ReservationStatus = "compensated"
	ReservationStatusCompensationFailed ReservationStatus = "compensation_failed"
)

type StepStatus string

const (
	StepApplied            StepStatus = "applied"
	StepCompensated        StepStatus = "compensated"
	StepCompensationFailed StepStatus = "compensation_failed"
)

// ReservationStep records one decrement that reached the store and what
// happened to it afterwards.
type ReservationStep struct {
	ProductID        string     `json:"product_id"`
	Name             string     `json:"name"`
	Quantity         int        `json:"quantity"`
	NewStockQuantity int        `json:"new_stock_quantity"`
	Status           StepStatus `json:"status"`
	FailureReason    string     `json:"failure_reason,omitempty"`
}

// ReservationSaga is the log of a single checkStockAndUpdate batch.
type ReservationSaga struct {
	ID            uuid.UUID          `json:"id"`
	Status        ReservationStatus  `json:"status"`
	Steps         []*ReservationStep `json:"steps"`
	FailureReason string             `json:"failure_reason,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
}

func NewReservationSaga() *ReservationSaga {
	now := time.Now().UTC()
	return &ReservationSaga{
		ID:        uuid.New(),
		Status:    ReservationStatusStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *ReservationSaga) RecordApplied(product *Product, quantity int) *ReservationStep {
	step := &ReservationStep{
		ProductID:        product.ID,
		Name:             product.Name,
		Quantity:         quantity,
		NewStockQuantity: product.StockQuantity,
		Status:           StepApplied,
	}
	s.Steps = append(s.Steps, step)
	s.touch()
	return step
}

func (s *ReservationSaga) Reject() {
	s.Status = ReservationStatusRejected
	s.touch()
}

func (s *ReservationSaga) Complete() {
	s.Status = ReservationStatusCompleted
	s.finish()
}

func (s *ReservationSaga) StartCompensation(reason string) {
	s.Status = ReservationStatusCompensating
	s.FailureReason = reason
	s.touch()
}

func (s *ReservationSaga) MarkCompensated(step *ReservationStep) {
	step.Status = StepCompensated
	s.touch()
}

func (s *ReservationSaga) MarkCompensationFailed(step *ReservationStep, err error) {
	step.Status = StepCompensationFailed
	step.FailureReason = err.Error()
	s.touch()
}

// FinishCompensation settles the final status from the outcome of each step.
func (s *ReservationSaga) FinishCompensation() {
	s.Status = ReservationStatusCompensated
	for _, step := range s.Steps {
		if step.Status == StepCompensationFailed {
			s.Status = ReservationStatusCompensationFailed
			break
		}
	}
	s.finish()
}

// Updates returns the applied decrements in application order.
func (s *ReservationSaga) Updates() []StockUpdate {
	updates := make([]StockUpdate, 0, len(s.Steps))
	for _, step := range s.Steps {
		updates = append(updates, StockUpdate{
			ProductID:        step.ProductID,
			Name:             step.Name,
			NewStockQuantity: step.NewStockQuantity,
		})
	}
	return updates
}

func (s *ReservationSaga) PendingCompensations() []*ReservationStep {
	var pending []*ReservationStep
	for _, step := range s.Steps {
		if step.Status == StepCompensationFailed {
			pending = append(pending, step)
		}
	}
	return pending
}

func (s *ReservationSaga) touch() {
	s.UpdatedAt = time.Now().UTC()
}

func (s *ReservationSaga) finish() {
	s.touch()
	completed := s.UpdatedAt
	s.CompletedAt = &completed
}

// ReservationFailedError is returned when a batch broke after some
// decrements were applied. Err is the original triggering failure.
type ReservationFailedError struct {
	Saga *ReservationSaga
	Err  error
}

func (e *ReservationFailedError) Error() string {
	return e.Err.Error()
}

func (e *ReservationFailedError) Unwrap() error { return e.Err }
