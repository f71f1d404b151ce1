package service

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/distributed-ecommerce-saga/product-service/internal/domain"
	"github.com/distributed-ecommerce-saga/product-service/internal/repository"
)

const (
	defaultPageSize = 10
	searchPageSize  = 8
	maxPageSize     = 100
	topProducts     = 5
	lowStockLimit   = 10
)

type ProductInput struct {
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int
	Categories    []string
}

type ListQuery struct {
	Keyword    string
	Category   string
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	PageSize   int
	PageNumber int
}

type SearchQuery struct {
	Term       string
	Category   string
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	PageNumber int
}

type ProductPage struct {
	Products []*domain.Product `json:"products"`
	Page     int               `json:"page"`
	Pages    int               `json:"pages"`
	Total    int64             `json:"total"`
}

type LowStockProduct struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	StockQuantity int             `json:"stockQuantity"`
	Price         decimal.Decimal `json:"price"`
}

type ProductStats struct {
	TotalProducts    int64             `json:"totalProducts"`
	LowStockProducts []LowStockProduct `json:"lowStockProducts"`
}

type ProductService struct {
	repo              repository.ProductRepository
	lowStockThreshold int
	logger            *zap.Logger
}

func NewProductService(repo repository.ProductRepository, lowStockThreshold int, logger *zap.Logger) *ProductService {
	return &ProductService{
		repo:              repo,
		lowStockThreshold: lowStockThreshold,
		logger:            logger.Named("catalog"),
	}
}

func (s *ProductService) CreateProduct(ctx context.Context, input ProductInput) (*domain.Product, error) {
	product := domain.NewProduct(input.Name, input.Description, input.Price, input.StockQuantity, input.Categories)
	if err := product.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, product); err != nil {
		return nil, errors.Wrap(err, "create product")
	}

	s.logger.Info("Product created", zap.String("product_id", product.ID))
	return product, nil
}

func (s *ProductService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "get product")
	}
	return product, nil
}

// UpdateProduct replaces the descriptive fields. StockQuantity in input is
// ignored.
func (s *ProductService) UpdateProduct(ctx context.Context, id string, input ProductInput) (*domain.Product, error) {
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "get product")
	}

	product.ApplyDetails(input.Name, input.Description, input.Price, input.Categories)
	if err := product.Validate(); err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, product)
	if err != nil {
		return nil, notFoundOr(err, "update product")
	}

	s.logger.Info("Product updated", zap.String("product_id", id))
	return updated, nil
}

func (s *ProductService) DeleteProduct(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return notFoundOr(err, "delete product")
	}
	s.logger.Info("Product deleted", zap.String("product_id", id))
	return nil
}

func (s *ProductService) ListProducts(ctx context.Context, query ListQuery) (*ProductPage, error) {
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return s.page(ctx, repository.ProductFilter{
		Keyword:  query.Keyword,
		Category: query.Category,
		MinPrice: query.MinPrice,
		MaxPrice: query.MaxPrice,
	}, pageSize, query.PageNumber)
}

func (s *ProductService) SearchProducts(ctx context.Context, query SearchQuery) (*ProductPage, error) {
	return s.page(ctx, repository.ProductFilter{
		Keyword:       query.Term,
		Category:      query.Category,
		ExactCategory: true,
		MinPrice:      query.MinPrice,
		MaxPrice:      query.MaxPrice,
	}, searchPageSize, query.PageNumber)
}

func (s *ProductService) TopProducts(ctx context.Context) ([]*domain.Product, error) {
	products, _, err := s.repo.Find(ctx, repository.ProductFilter{Limit: topProducts})
	if err != nil {
		return nil, errors.Wrap(err, "top products")
	}
	return products, nil
}

func (s *ProductService) Stats(ctx context.Context) (*ProductStats, error) {
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "count products")
	}

	low, err := s.repo.LowStock(ctx, s.lowStockThreshold, lowStockLimit)
	if err != nil {
		return nil, errors.Wrap(err, "low stock products")
	}

	stats := &ProductStats{
		TotalProducts:    total,
		LowStockProducts: make([]LowStockProduct, 0, len(low)),
	}
	for _, p := range low {
		stats.LowStockProducts = append(stats.LowStockProducts, LowStockProduct{
			ID:            p.ID,
			Name:          p.Name,
			StockQuantity: p.StockQuantity,
			Price:         p.Price,
		})
	}
	return stats, nil
}

func (s *ProductService) page(ctx context.Context, filter repository.ProductFilter, pageSize, pageNumber int) (*ProductPage, error) {
	if pageNumber < 1 {
		pageNumber = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if pageNumber-1 > math.MaxInt/pageSize {
		return nil, domain.InvalidRequestf("pageNumber %d out of range", pageNumber)
	}
	if filter.MinPrice != nil && filter.MaxPrice != nil && filter.MinPrice.GreaterThan(*filter.MaxPrice) {
		return nil, domain.InvalidRequest("minPrice must not exceed maxPrice")
	}
	filter.Limit = pageSize
	filter.Offset = pageSize * (pageNumber - 1)

	products, total, err := s.repo.Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "find products")
	}
	if products == nil {
		products = []*domain.Product{}
	}

	return &ProductPage{
		Products: products,
		Page:     pageNumber,
		Pages:    int((total + int64(pageSize) - 1) / int64(pageSize)),
		Total:    total,
	}, nil
}

func notFoundOr(err error, action string) error {
	if errors.Is(err, domain.ErrProductNotFound) {
		return domain.NotFound(productNotFoundMessage)
	}
	return errors.Wrap(err, action)
}
