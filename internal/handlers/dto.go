package handlers

import (
	"github.com/shopspring/decimal"

	"github.com/distributed-ecommerce-saga/product-service/internal/domain"
	"github.com/distributed-ecommerce-saga/product-service/internal/service"
)

type CheckStockRequest struct {
	Items []StockItemRequest `json:"items" validate:"required,min=1,dive"`
}

type StockItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type AdjustStockRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

type ProductRequest struct {
	Name          string           `json:"name" validate:"required"`
	Description   string           `json:"description" validate:"required"`
	Price         *decimal.Decimal `json:"price" validate:"required"`
	StockQuantity int              `json:"stockQuantity" validate:"gte=0"`
	Categories    []string         `json:"categories" validate:"omitempty,dive,required"`
}

type CheckStockResponse struct {
	Message         string               `json:"message"`
	UpdatedProducts []domain.StockUpdate `json:"updatedProducts"`
}

func (r CheckStockRequest) demands() []domain.StockDemand {
	demands := make([]domain.StockDemand, 0, len(r.Items))
	for _, item := range r.Items {
		demands = append(demands, domain.StockDemand{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return demands
}

func (r ProductRequest) input() service.ProductInput {
	return service.ProductInput{
		Name:          r.Name,
		Description:   r.Description,
		Price:         *r.Price,
		StockQuantity: r.StockQuantity,
		Categories:    r.Categories,
	}
}
