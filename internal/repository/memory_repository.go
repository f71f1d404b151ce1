package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/distributed-ecommerce-saga/product-service/internal/domain"
	"github.com/pkg/errors"
)

// MemoryProductRepository keeps products in process. It backs local runs
// (STORE_DRIVER=memory) and the service tests.
type MemoryProductRepository struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

func NewMemoryProductRepository() *MemoryProductRepository {
	return &MemoryProductRepository{products: make(map[string]domain.Product)}
}

func (r *MemoryProductRepository) Create(ctx context.Context, product *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.products[product.ID]; exists {
		return errors.Errorf("product already exists: %s", product.ID)
	}
	r.products[product.ID] = clone(product)
	return nil
}

func (r *MemoryProductRepository) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrProductNotFound, "id %s", id)
	}
	return cloneRef(p), nil
}

func (r *MemoryProductRepository) Update(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.products[product.ID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrProductNotFound, "id %s", product.ID)
	}
	current.Name = product.Name
	current.Description = product.Description
	current.Price = product.Price
	current.Categories = append([]string(nil), product.Categories...)
	r.products[product.ID] = current
	return cloneRef(current), nil
}

func (r *MemoryProductRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[id]; !ok {
		return errors.Wrapf(domain.ErrProductNotFound, "id %s", id)
	}
	delete(r.products, id)
	return nil
}

func (r *MemoryProductRepository) Find(ctx context.Context, filter ProductFilter) ([]*domain.Product, int64, error) {
	if filter.Offset < 0 || filter.Limit < 0 {
		return nil, 0, errors.Errorf("invalid page window offset=%d limit=%d", filter.Offset, filter.Limit)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []domain.Product
	for _, p := range r.products {
		if matches(p, filter) {
			matched = append(matched, p)
		}
	}
	sortNewestFirst(matched)

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return []*domain.Product{}, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	out := make([]*domain.Product, 0, len(matched))
	for _, p := range matched {
		out = append(out, cloneRef(p))
	}
	return out, total, nil
}

func (r *MemoryProductRepository) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.products)), nil
}

func (r *MemoryProductRepository) LowStock(ctx context.Context, threshold, limit int) ([]*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var low []domain.Product
	for _, p := range r.products {
		if p.StockQuantity < threshold {
			low = append(low, p)
		}
	}
	sort.SliceStable(low, func(i, j int) bool {
		if low[i].StockQuantity == low[j].StockQuantity {
			return low[i].ID < low[j].ID
		}
		return low[i].StockQuantity < low[j].StockQuantity
	})
	if limit > 0 && len(low) > limit {
		low = low[:limit]
	}

	out := make([]*domain.Product, 0, len(low))
	for _, p := range low {
		out = append(out, cloneRef(p))
	}
	return out, nil
}

func (r *MemoryProductRepository) DecrementStock(ctx context.Context, id string, amount int) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrProductNotFound, "id %s", id)
	}
	if p.StockQuantity < amount {
		return nil, errors.Wrapf(domain.ErrInsufficientStock, "id %s has %d, requested %d", id, p.StockQuantity, amount)
	}
	p.StockQuantity -= amount
	r.products[id] = p
	return cloneRef(p), nil
}

func (r *MemoryProductRepository) IncrementStock(ctx context.Context, id string, amount int) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrProductNotFound, "id %s", id)
	}
	p.StockQuantity += amount
	r.products[id] = p
	return cloneRef(p), nil
}

func (r *MemoryProductRepository) Close(ctx context.Context) error {
	return nil
}

func matches(p domain.Product, filter ProductFilter) bool {
	if filter.Keyword != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Keyword)) {
		return false
	}
	if filter.Category != "" && !hasCategory(p.Categories, filter.Category, filter.ExactCategory) {
		return false
	}
	if filter.MinPrice != nil && p.Price.LessThan(*filter.MinPrice) {
		return false
	}
	if filter.MaxPrice != nil && p.Price.GreaterThan(*filter.MaxPrice) {
		return false
	}
	return true
}

func hasCategory(categories []string, want string, exact bool) bool {
	want = strings.ToLower(want)
	for _, c := range categories {
		c = strings.ToLower(c)
		if exact && c == want {
			return true
		}
		if !exact && strings.Contains(c, want) {
			return true
		}
	}
	return false
}

func sortNewestFirst(products []domain.Product) {
	sort.SliceStable(products, func(i, j int) bool {
		if products[i].CreatedAt.Equal(products[j].CreatedAt) {
			return products[i].ID < products[j].ID
		}
		return products[i].CreatedAt.After(products[j].CreatedAt)
	})
}

func clone(p *domain.Product) domain.Product {
	c := *p
	c.Categories = append([]string{}, p.Categories...)
	return c
}

func cloneRef(p domain.Product) *domain.Product {
	c := clone(&p)
	return &c
}
