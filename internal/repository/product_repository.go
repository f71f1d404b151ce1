package repository

import (
	"context"

	"github.com/distributed-ecommerce-saga/product-service/internal/domain"
	"github.com/shopspring/decimal"
)

// ProductRepository is the product record store. DecrementStock and
// IncrementStock are single-document atomic operations; no multi-document
// transaction is offered.
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	FindByID(ctx context.Context, id string) (*domain.Product, error)
	Update(ctx context.Context, product *domain.Product) (*domain.Product, error)
	Delete(ctx context.Context, id string) error
	Find(ctx context.Context, filter ProductFilter) ([]*domain.Product, int64, error)
	Count(ctx context.Context) (int64, error)
	LowStock(ctx context.Context, threshold, limit int) ([]*domain.Product, error)

	// DecrementStock subtracts amount only while the stock covers it.
	// It returns domain.ErrProductNotFound when the record is gone and
	// domain.ErrInsufficientStock when the guard rejected the update.
	DecrementStock(ctx context.Context, id string, amount int) (*domain.Product, error)
	IncrementStock(ctx context.Context, id string, amount int) (*domain.Product, error)

	Close(ctx context.Context) error
}

// ProductFilter narrows Find. Results are always newest first.
type ProductFilter struct {
	// Keyword matches a case-insensitive substring of the name.
	Keyword string
	// Category matches a case-insensitive substring of any category, or
	// the whole category when ExactCategory is set.
	Category      string
	ExactCategory bool
	MinPrice      *decimal.Decimal
	MaxPrice      *decimal.Decimal
	Limit         int
	Offset        int
}
