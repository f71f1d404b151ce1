package domain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProduct(t *testing.T) {
	p := NewProduct("  Mug ", " Ceramic mug ", decimal.RequireFromString("9.50"), 12, nil)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Mug", p.Name)
	assert.Equal(t, "Ceramic mug", p.Description)
	assert.Equal(t, 12, p.StockQuantity)
	assert.NotNil(t, p.Categories)
	assert.False(t, p.CreatedAt.IsZero())
	assert.NoError(t, p.Validate())
}

func TestCategoriesAreAnOrderedSet(t *testing.T) {
	p := NewProduct("Mug", "Ceramic mug", decimal.NewFromInt(9), 1, []string{"Kitchen", " Sale", "kitchen", "", "SALE", "Gifts"})

	assert.Equal(t, []string{"Kitchen", "Sale", "Gifts"}, p.Categories)

	p.ApplyDetails("Mug", "Ceramic mug", decimal.NewFromInt(9), []string{"Gifts", "gifts", "Home"})
	assert.Equal(t, []string{"Gifts", "Home"}, p.Categories)
}

func TestProductValidate(t *testing.T) {
	tests := []struct {
		name    string
		product *Product
	}{
		{"missing name", NewProduct("", "d", decimal.Zero, 0, nil)},
		{"missing description", NewProduct("n", "", decimal.Zero, 0, nil)},
		{"negative price", NewProduct("n", "d", decimal.NewFromInt(-1), 0, nil)},
		{"negative stock", NewProduct("n", "d", decimal.Zero, -1, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.product.Validate()
			require.Error(t, err)
			assert.Equal(t, KindInvalidRequest, KindOf(err))
		})
	}
}

func TestApplyDetailsLeavesStock(t *testing.T) {
	p := NewProduct("n", "d", decimal.NewFromInt(1), 7, []string{"a"})

	p.ApplyDetails("new", "desc", decimal.NewFromInt(3), []string{"b", "c"})

	assert.Equal(t, "new", p.Name)
	assert.Equal(t, []string{"b", "c"}, p.Categories)
	assert.Equal(t, 7, p.StockQuantity)
}

func TestShortStockRejection(t *testing.T) {
	p := &Product{ID: "B", Name: "Bolt", StockQuantity: 1}

	r := ShortStockRejection(p, 2, 1)

	assert.Equal(t, "B", r.ProductID)
	assert.Equal(t, "Bolt", r.Name)
	assert.Equal(t, ReasonInsufficientStock, r.Reason)
	require.NotNil(t, r.Requested)
	require.NotNil(t, r.Available)
	assert.Equal(t, 2, *r.Requested)
	assert.Equal(t, 1, *r.Available)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("x")))
	assert.Equal(t, KindConflict, KindOf(errors.Wrap(Conflict("x", ErrProductNotFound), "outer")))
	assert.Equal(t, KindInsufficientStock, KindOf(&OutOfStockError{}))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))

	err := Conflict("failed to update product A", ErrProductNotFound)
	assert.True(t, errors.Is(err, ErrProductNotFound))
	assert.Equal(t, "failed to update product A: product not found", err.Error())
}

func TestReservationSagaCompensation(t *testing.T) {
	saga := NewReservationSaga()
	a := saga.RecordApplied(&Product{ID: "A", Name: "a", StockQuantity: 7}, 3)
	b := saga.RecordApplied(&Product{ID: "B", Name: "b", StockQuantity: 0}, 1)

	saga.StartCompensation("failed to update product C")
	saga.MarkCompensated(a)
	saga.MarkCompensationFailed(b, errors.New("timeout"))
	saga.FinishCompensation()

	assert.Equal(t, ReservationStatusCompensationFailed, saga.Status)
	assert.NotNil(t, saga.CompletedAt)
	require.Len(t, saga.PendingCompensations(), 1)
	assert.Equal(t, "B", saga.PendingCompensations()[0].ProductID)
	assert.Equal(t, []StockUpdate{
		{ProductID: "A", Name: "a", NewStockQuantity: 7},
		{ProductID: "B", Name: "b", NewStockQuantity: 0},
	}, saga.Updates())
}

func TestReservationSagaFullyCompensated(t *testing.T) {
	saga := NewReservationSaga()
	step := saga.RecordApplied(&Product{ID: "A", StockQuantity: 1}, 1)

	saga.StartCompensation("x")
	saga.MarkCompensated(step)
	saga.FinishCompensation()

	assert.Equal(t, ReservationStatusCompensated, saga.Status)
	assert.Empty(t, saga.PendingCompensations())
}
