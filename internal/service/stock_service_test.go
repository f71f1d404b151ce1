package service

import (
	"context"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/distributed-ecommerce-saga/product-service/internal/domain"
	"github.com/distributed-ecommerce-saga/product-service/internal/events"
	"github.com/distributed-ecommerce-saga/product-service/internal/repository"
)

func (f *fixture) stockService(repo repository.ProductRepository) *StockService {
	return NewStockService(repo, f.publisher, f.metrics, zap.NewNop())
}

func TestAdjustStock(t *testing.T) {
	tests := []struct {
		name      string
		initial   int
		delta     int
		wantStock int
		wantKind  domain.Kind
	}{
		{"sale down to zero", 5, -5, 0, domain.KindUnknown},
		{"oversell rejected", 5, -6, 5, domain.KindInvalidRequest},
		{"restock", 5, 7, 12, domain.KindUnknown},
		{"zero delta", 5, 0, 5, domain.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.seed(t, "A", "Alpha", tt.initial)

			product, err := f.stockService(f.repo).AdjustStock(context.Background(), "A", tt.delta)

			if tt.wantKind != domain.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, domain.KindOf(err))
				assert.Equal(t, "Insufficient stock", err.Error())
				assert.Empty(t, f.publisher.published())
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantStock, product.StockQuantity)

				published := f.publisher.published()
				require.Len(t, published, 1)
				assert.Equal(t, events.ProductStockUpdated, published[0].eventType)
				assert.Equal(t, events.StockAdjustedPayload{ProductID: "A", NewQuantity: tt.wantStock}, published[0].payload)
			}
			assert.Equal(t, tt.wantStock, f.stock(t, "A"))
		})
	}
}

func TestAdjustStockRejectsRestockPastRange(t *testing.T) {
	f := newFixture()
	f.seed(t, "A", "Alpha", 5)

	product, err := f.stockService(f.repo).AdjustStock(context.Background(), "A", math.MaxInt)

	assert.Nil(t, product)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))
	assert.Equal(t, "Stock quantity out of range", err.Error())
	assert.Equal(t, 5, f.stock(t, "A"))
	assert.Empty(t, f.publisher.published())
}

func TestAdjustStockUnknownProduct(t *testing.T) {
	f := newFixture()

	_, err := f.stockService(f.repo).AdjustStock(context.Background(), "nope", 1)

	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, "Product not found", err.Error())
}

func TestAdjustStockProductVanishesBeforeCommit(t *testing.T) {
	f := newFixture()
	f.seed(t, "A", "Alpha", 5)

	repo := &faultyRepository{
		ProductRepository: f.repo,
		beforeIncrement: func(id string) error {
			return f.repo.Delete(context.Background(), id)
		},
	}

	_, err := f.stockService(repo).AdjustStock(context.Background(), "A", 3)

	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.True(t, errors.Is(err, domain.ErrProductNotFound))
	assert.Empty(t, f.publisher.published())
}

func TestAdjustStockLosesRaceToConcurrentSale(t *testing.T) {
	f := newFixture()
	f.seed(t, "A", "Alpha", 5)

	repo := &faultyRepository{
		ProductRepository: f.repo,
		beforeDecrement: func(id string) error {
			_, err := f.repo.DecrementStock(context.Background(), id, 4)
			return err
		},
	}

	_, err := f.stockService(repo).AdjustStock(context.Background(), "A", -3)

	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))
	assert.Equal(t, 1, f.stock(t, "A"))
}

func TestAdjustStockKeepsCommitWhenPublishFails(t *testing.T) {
	f := newFixture()
	f.seed(t, "A", "Alpha", 5)
	f.publisher.err = errors.New("broker down")

	product, err := f.stockService(f.repo).AdjustStock(context.Background(), "A", -2)

	require.NoError(t, err)
	assert.Equal(t, 3, product.StockQuantity)
	assert.Equal(t, 3, f.stock(t, "A"))
}

func TestRestoreStock(t *testing.T) {
	f := newFixture()
	f.seed(t, "A", "Alpha", 5)
	svc := f.stockService(f.repo)

	err := svc.RestoreStock(context.Background(), events.CompensationFailedPayload{
		ReservationID: "r-1",
		ProductID:     "A",
		Quantity:      4,
	})

	require.NoError(t, err)
	assert.Equal(t, 9, f.stock(t, "A"))
}

func TestRestoreStockDropsMissingProduct(t *testing.T) {
	f := newFixture()

	err := f.stockService(f.repo).RestoreStock(context.Background(), events.CompensationFailedPayload{
		ProductID: "gone",
		Quantity:  2,
	})

	assert.NoError(t, err)
}

func TestRestoreStockSurfacesStoreFailure(t *testing.T) {
	f := newFixture()
	f.seed(t, "A", "Alpha", 5)
	repo := &faultyRepository{
		ProductRepository: f.repo,
		beforeIncrement: func(string) error {
			return errors.New("store unavailable")
		},
	}

	err := f.stockService(repo).RestoreStock(context.Background(), events.CompensationFailedPayload{
		ProductID: "A",
		Quantity:  2,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
	assert.Equal(t, 5, f.stock(t, "A"))
}
