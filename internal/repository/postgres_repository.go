package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/distributed-ecommerce-saga/product-service/internal/domain"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const productColumns = `id, name, description, price, stock_quantity, categories, created_at`

const productsSchema = `
	CREATE TABLE IF NOT EXISTS products (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		description    TEXT NOT NULL,
		price          NUMERIC(12, 2) NOT NULL CHECK (price >= 0),
		stock_quantity BIGINT  NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
		categories     TEXT[] NOT NULL DEFAULT '{}',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_products_created_at ON products (created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_products_stock_quantity ON products (stock_quantity);
`

type PostgresProductRepository struct {
	db *sql.DB
}

func NewPostgresProductRepository(db *sql.DB) *PostgresProductRepository {
	return &PostgresProductRepository{db: db}
}

func (r *PostgresProductRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, productsSchema); err != nil {
		return errors.Wrap(err, "products schema")
	}
	return nil
}

func (r *PostgresProductRepository) Create(ctx context.Context, product *domain.Product) error {
	query := `
		INSERT INTO products (
			id, name, description, price, stock_quantity, categories, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		product.ID,
		product.Name,
		product.Description,
		product.Price,
		product.StockQuantity,
		pq.Array(product.Categories),
		product.CreatedAt,
	)
	return errors.Wrap(err, "insert product")
}

func (r *PostgresProductRepository) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), id)
}

func (r *PostgresProductRepository) Update(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	query := `
		UPDATE products
		SET name = $2, description = $3, price = $4, categories = $5
		WHERE id = $1
		RETURNING ` + productColumns

	row := r.db.QueryRowContext(ctx, query,
		product.ID,
		product.Name,
		product.Description,
		product.Price,
		pq.Array(product.Categories),
	)
	return r.scanOne(row, product.ID)
}

func (r *PostgresProductRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete product")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete product")
	}
	if affected == 0 {
		return errors.Wrapf(domain.ErrProductNotFound, "id %s", id)
	}
	return nil
}

func (r *PostgresProductRepository) Find(ctx context.Context, filter ProductFilter) ([]*domain.Product, int64, error) {
	where, args := buildWhere(filter)

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count products")
	}

	query := `SELECT ` + productColumns + ` FROM products` + where + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "find products")
	}
	defer rows.Close()

	products, err := scanAll(rows)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (r *PostgresProductRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	return total, errors.Wrap(err, "count products")
}

func (r *PostgresProductRepository) LowStock(ctx context.Context, threshold, limit int) ([]*domain.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE stock_quantity < $1
		ORDER BY stock_quantity ASC, id
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, threshold, limit)
	if err != nil {
		return nil, errors.Wrap(err, "low stock products")
	}
	defer rows.Close()

	return scanAll(rows)
}

func (r *PostgresProductRepository) DecrementStock(ctx context.Context, id string, amount int) (*domain.Product, error) {
	query := `
		UPDATE products
		SET stock_quantity = stock_quantity - $2
		WHERE id = $1 AND stock_quantity >= $2
		RETURNING ` + productColumns

	product, err := r.scanOne(r.db.QueryRowContext(ctx, query, id, amount), id)
	if err == nil || !errors.Is(err, domain.ErrProductNotFound) {
		return product, err
	}

	// Zero rows: either the record is gone or the guard held.
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, errors.Wrap(err, "check product")
	}
	if !exists {
		return nil, errors.Wrapf(domain.ErrProductNotFound, "id %s", id)
	}
	return nil, errors.Wrapf(domain.ErrInsufficientStock, "id %s, requested %d", id, amount)
}

func (r *PostgresProductRepository) IncrementStock(ctx context.Context, id string, amount int) (*domain.Product, error) {
	query := `
		UPDATE products
		SET stock_quantity = stock_quantity + $2
		WHERE id = $1
		RETURNING ` + productColumns

	return r.scanOne(r.db.QueryRowContext(ctx, query, id, amount), id)
}

func (r *PostgresProductRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	product := &domain.Product{}
	var categories pq.StringArray
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.StockQuantity,
		&categories,
		&product.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	product.Categories = []string(categories)
	if product.Categories == nil {
		product.Categories = []string{}
	}
	return product, nil
}

func (r *PostgresProductRepository) scanOne(row *sql.Row, id string) (*domain.Product, error) {
	product, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(domain.ErrProductNotFound, "id %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan product")
	}
	return product, nil
}

func scanAll(rows *sql.Rows) ([]*domain.Product, error) {
	products := []*domain.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		products = append(products, product)
	}
	return products, errors.Wrap(rows.Err(), "iterate products")
}

func buildWhere(filter ProductFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filter.Keyword != "" {
		args = append(args, "%"+escapeLike(filter.Keyword)+"%")
		clauses = append(clauses, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if filter.Category != "" {
		if filter.ExactCategory {
			args = append(args, filter.Category)
			clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(categories) c WHERE lower(c) = lower($%d))", len(args)))
		} else {
			args = append(args, "%"+escapeLike(filter.Category)+"%")
			clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(categories) c WHERE c ILIKE $%d)", len(args)))
		}
	}
	if filter.MinPrice != nil {
		args = append(args, *filter.MinPrice)
		clauses = append(clauses, fmt.Sprintf("price >= $%d", len(args)))
	}
	if filter.MaxPrice != nil {
		args = append(args, *filter.MaxPrice)
		clauses = append(clauses, fmt.Sprintf("price <= $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
