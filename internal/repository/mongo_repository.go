package repository

import (
	"context"
	"regexp"
	"time"

	"github.com/distributed-ecommerce-saga/product-service/internal/domain"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const productsCollection = "products"

type productDocument struct {
	ID            string               `bson:"_id"`
	Name          string               `bson:"name"`
	Description   string               `bson:"description"`
	Price         primitive.Decimal128 `bson:"price"`
	StockQuantity int                  `bson:"stockQuantity"`
	Categories    []string             `bson:"categories"`
	CreatedAt     time.Time            `bson:"createdAt"`
}

func toDocument(p *domain.Product) (productDocument, error) {
	price, err := primitive.ParseDecimal128(p.Price.String())
	if err != nil {
		return productDocument{}, errors.Wrapf(err, "price %s", p.Price)
	}
	categories := p.Categories
	if categories == nil {
		categories = []string{}
	}
	return productDocument{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         price,
		StockQuantity: p.StockQuantity,
		Categories:    categories,
		CreatedAt:     p.CreatedAt,
	}, nil
}

func (d productDocument) toDomain() (*domain.Product, error) {
	price, err := decimal.NewFromString(d.Price.String())
	if err != nil {
		return nil, errors.Wrapf(err, "price of %s", d.ID)
	}
	categories := d.Categories
	if categories == nil {
		categories = []string{}
	}
	return &domain.Product{
		ID:            d.ID,
		Name:          d.Name,
		Description:   d.Description,
		Price:         price,
		StockQuantity: d.StockQuantity,
		Categories:    categories,
		CreatedAt:     d.CreatedAt.UTC(),
	}, nil
}

// MongoProductRepository stores one document per product. Stock moves
// through $inc so every mutation is atomic on its document.
type MongoProductRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoProductRepository(client *mongo.Client, database string) *MongoProductRepository {
	return &MongoProductRepository{
		client:     client,
		collection: client.Database(database).Collection(productsCollection),
	}
}

func (r *MongoProductRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: "text"}, {Key: "description", Value: "text"}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "stockQuantity", Value: 1}}},
	})
	return errors.Wrap(err, "product indexes")
}

func (r *MongoProductRepository) Create(ctx context.Context, product *domain.Product) error {
	doc, err := toDocument(product)
	if err != nil {
		return err
	}
	_, err = r.collection.InsertOne(ctx, doc)
	return errors.Wrap(err, "insert product")
}

func (r *MongoProductRepository) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	return r.decodeOne(r.collection.FindOne(ctx, bson.M{"_id": id}), id)
}

func (r *MongoProductRepository) Update(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	doc, err := toDocument(product)
	if err != nil {
		return nil, err
	}
	update := bson.M{"$set": bson.M{
		"name":        doc.Name,
		"description": doc.Description,
		"price":       doc.Price,
		"categories":  doc.Categories,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	return r.decodeOne(r.collection.FindOneAndUpdate(ctx, bson.M{"_id": product.ID}, update, opts), product.ID)
}

func (r *MongoProductRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "delete product")
	}
	if result.DeletedCount == 0 {
		return errors.Wrapf(domain.ErrProductNotFound, "id %s", id)
	}
	return nil
}

func (r *MongoProductRepository) Find(ctx context.Context, filter ProductFilter) ([]*domain.Product, int64, error) {
	query, err := buildQuery(filter)
	if err != nil {
		return nil, 0, err
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count products")
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, errors.Wrap(err, "find products")
	}
	products, err := decodeAll(ctx, cursor)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (r *MongoProductRepository) Count(ctx context.Context) (int64, error) {
	total, err := r.collection.CountDocuments(ctx, bson.M{})
	return total, errors.Wrap(err, "count products")
}

func (r *MongoProductRepository) LowStock(ctx context.Context, threshold, limit int) ([]*domain.Product, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "stockQuantity", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"stockQuantity": bson.M{"$lt": threshold}}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "low stock products")
	}
	return decodeAll(ctx, cursor)
}

func (r *MongoProductRepository) DecrementStock(ctx context.Context, id string, amount int) (*domain.Product, error) {
	filter := bson.M{"_id": id, "stockQuantity": bson.M{"$gte": amount}}
	update := bson.M{"$inc": bson.M{"stockQuantity": -amount}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	product, err := r.decodeOne(r.collection.FindOneAndUpdate(ctx, filter, update, opts), id)
	if err == nil || !errors.Is(err, domain.ErrProductNotFound) {
		return product, err
	}

	// No match: either the document is gone or the guard held.
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return nil, errors.Wrap(err, "check product")
	}
	if count == 0 {
		return nil, errors.Wrapf(domain.ErrProductNotFound, "id %s", id)
	}
	return nil, errors.Wrapf(domain.ErrInsufficientStock, "id %s, requested %d", id, amount)
}

func (r *MongoProductRepository) IncrementStock(ctx context.Context, id string, amount int) (*domain.Product, error) {
	update := bson.M{"$inc": bson.M{"stockQuantity": amount}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	return r.decodeOne(r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts), id)
}

func (r *MongoProductRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *MongoProductRepository) decodeOne(result *mongo.SingleResult, id string) (*domain.Product, error) {
	var doc productDocument
	if err := result.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.Wrapf(domain.ErrProductNotFound, "id %s", id)
		}
		return nil, errors.Wrap(err, "decode product")
	}
	return doc.toDomain()
}

func decodeAll(ctx context.Context, cursor *mongo.Cursor) ([]*domain.Product, error) {
	defer cursor.Close(ctx)

	products := []*domain.Product{}
	for cursor.Next(ctx) {
		var doc productDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode product")
		}
		product, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, errors.Wrap(cursor.Err(), "iterate products")
}

func buildQuery(filter ProductFilter) (bson.M, error) {
	query := bson.M{}

	if filter.Keyword != "" {
		query["name"] = primitive.Regex{Pattern: regexp.QuoteMeta(filter.Keyword), Options: "i"}
	}
	if filter.Category != "" {
		pattern := regexp.QuoteMeta(filter.Category)
		if filter.ExactCategory {
			pattern = "^" + pattern + "$"
		}
		query["categories"] = primitive.Regex{Pattern: pattern, Options: "i"}
	}
	if filter.MinPrice != nil || filter.MaxPrice != nil {
		price := bson.M{}
		if filter.MinPrice != nil {
			lower, err := primitive.ParseDecimal128(filter.MinPrice.String())
			if err != nil {
				return nil, errors.Wrap(err, "minPrice")
			}
			price["$gte"] = lower
		}
		if filter.MaxPrice != nil {
			upper, err := primitive.ParseDecimal128(filter.MaxPrice.String())
			if err != nil {
				return nil, errors.Wrap(err, "maxPrice")
			}
			price["$lte"] = upper
		}
		query["price"] = price
	}

	return query, nil
}
