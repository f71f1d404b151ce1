package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
	Categories    []string        `json:"categories"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// NewProduct assigns the identity and creation time of a catalog item.
func NewProduct(name, description string, price decimal.Decimal, stock int, categories []string) *Product {
	return &Product{
		ID:            uuid.New().String(),
		Name:          strings.TrimSpace(name),
		Description:   strings.TrimSpace(description),
		Price:         price,
		StockQuantity: stock,
		Categories:    normalizeCategories(categories),
		CreatedAt:     time.Now().UTC(),
	}
}

func (p *Product) Validate() error {
	if p.Name == "" {
		return InvalidRequest("name is required")
	}
	if p.Description == "" {
		return InvalidRequest("description is required")
	}
	if p.Price.IsNegative() {
		return InvalidRequest("price must not be negative")
	}
	if p.StockQuantity < 0 {
		return InvalidRequest("stockQuantity must not be negative")
	}
	return nil
}

// CanFulfil reports whether the stock covers quantity.
func (p *Product) CanFulfil(quantity int) bool {
	return p.StockQuantity >= quantity
}

// ApplyDetails replaces the descriptive fields. Stock is left alone; it only
// moves through the atomic stock operations.
func (p *Product) ApplyDetails(name, description string, price decimal.Decimal, categories []string) {
	p.Name = strings.TrimSpace(name)
	p.Description = strings.TrimSpace(description)
	p.Price = price
	p.Categories = normalizeCategories(categories)
}

// normalizeCategories trims names and drops blanks and case-insensitive
// repeats, keeping first-seen order.
func normalizeCategories(categories []string) []string {
	out := make([]string, 0, len(categories))
	seen := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// StockDemand is one requested decrement inside a reservation batch.
type StockDemand struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// StockRejection explains why a demand failed admission.
type StockRejection struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Requested *int   `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
	Reason    string `json:"reason"`
}

const (
	ReasonProductNotFound   = "Product not found"
	ReasonInsufficientStock = "Insufficient stock"
)

func MissingProductRejection(productID string) StockRejection {
	return StockRejection{ProductID: productID, Reason: ReasonProductNotFound}
}

func ShortStockRejection(product *Product, requested, available int) StockRejection {
	return StockRejection{
		ProductID: product.ID,
		Name:      product.Name,
		Requested: &requested,
		Available: &available,
		Reason:    ReasonInsufficientStock,
	}
}

// StockUpdate is an applied decrement as reported back to the caller.
type StockUpdate struct {
	ProductID        string `json:"productId"`
	Name             string `json:"name"`
	NewStockQuantity int    `json:"newStockQuantity"`
}
