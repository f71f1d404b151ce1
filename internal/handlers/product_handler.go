package handlers

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/distributed-ecommerce-saga/product-service/internal/domain"
	"github.com/distributed-ecommerce-saga/product-service/internal/middleware"
	"github.com/distributed-ecommerce-saga/product-service/internal/service"
)

type ProductHandler struct {
	products     *service.ProductService
	stock        *service.StockService
	reservations *service.ReservationService
	validate     *validator.Validate
	logger       *zap.Logger
}

func NewProductHandler(products *service.ProductService, stock *service.StockService, reservations *service.ReservationService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		products:     products,
		stock:        stock,
		reservations: reservations,
		validate:     newValidator(),
		logger:       logger.Named("http"),
	}
}

// RegisterRoutes mounts the product API. The router is expected to carry
// the service token and user extraction middleware already.
func (h *ProductHandler) RegisterRoutes(router fiber.Router, admin fiber.Handler) {
	router.Post("/internal/check-stock", h.CheckStockAndUpdate)

	router.Get("/", h.ListProducts)
	router.Get("/search", h.SearchProducts)
	router.Get("/top", h.TopProducts)
	router.Get("/admin/stats", admin, h.Stats)
	router.Get("/:id", h.GetProduct)

	router.Post("/", admin, h.CreateProduct)
	router.Put("/:id", admin, h.UpdateProduct)
	router.Delete("/:id", admin, h.DeleteProduct)
	router.Put("/:id/stock", admin, h.AdjustStock)
}

func (h *ProductHandler) CheckStockAndUpdate(c *fiber.Ctx) error {
	var request CheckStockRequest
	if err := c.BodyParser(&request); err != nil {
		return messageResponse(c, fiber.StatusBadRequest, "Invalid items data")
	}
	if err := h.validate.Struct(request); err != nil {
		return messageResponse(c, fiber.StatusBadRequest, "Invalid items data")
	}

	caller := "unknown"
	if claims := middleware.ServiceFrom(c); claims != nil {
		caller = claims.Service
	}

	updated, err := h.reservations.CheckStockAndUpdate(c.UserContext(), request.demands())
	if err != nil {
		var failed *domain.ReservationFailedError
		if errors.As(err, &failed) {
			h.logger.Error("Error in checkStockAndUpdate",
				zap.String("caller", caller),
				zap.String("reservation_id", failed.Saga.ID.String()),
				zap.String("saga_status", string(failed.Saga.Status)),
				zap.Error(err))
			return serverErrorResponse(c, err)
		}
		if domain.KindOf(err) == domain.KindUnknown {
			h.logger.Error("Error in checkStockAndUpdate", zap.String("caller", caller), zap.Error(err))
		}
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(CheckStockResponse{
		Message:         "Stock checked and updated successfully",
		UpdatedProducts: updated,
	})
}

func (h *ProductHandler) AdjustStock(c *fiber.Ctx) error {
	var request AdjustStockRequest
	if err := c.BodyParser(&request); err != nil {
		return messageResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(request); err != nil {
		return messageResponse(c, fiber.StatusBadRequest, "quantity is required")
	}

	product, err := h.stock.AdjustStock(c.UserContext(), c.Params("id"), *request.Quantity)
	if err != nil {
		return h.fail(c, "updateStock", err)
	}
	return c.Status(fiber.StatusOK).JSON(product)
}

func (h *ProductHandler) GetProduct(c *fiber.Ctx) error {
	product, err := h.products.GetProduct(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, "getProductById", err)
	}
	return c.Status(fiber.StatusOK).JSON(product)
}

func (h *ProductHandler) CreateProduct(c *fiber.Ctx) error {
	request, ok := h.parseProduct(c)
	if !ok {
		return nil
	}

	product, err := h.products.CreateProduct(c.UserContext(), request.input())
	if err != nil {
		return h.fail(c, "createProduct", err)
	}
	return c.Status(fiber.StatusCreated).JSON(product)
}

func (h *ProductHandler) UpdateProduct(c *fiber.Ctx) error {
	request, ok := h.parseProduct(c)
	if !ok {
		return nil
	}

	product, err := h.products.UpdateProduct(c.UserContext(), c.Params("id"), request.input())
	if err != nil {
		return h.fail(c, "updateProduct", err)
	}
	return c.Status(fiber.StatusOK).JSON(product)
}

func (h *ProductHandler) DeleteProduct(c *fiber.Ctx) error {
	if err := h.products.DeleteProduct(c.UserContext(), c.Params("id")); err != nil {
		return h.fail(c, "deleteProduct", err)
	}
	return messageResponse(c, fiber.StatusOK, "Product deleted")
}

func (h *ProductHandler) ListProducts(c *fiber.Ctx) error {
	minPrice, maxPrice, err := priceRange(c)
	if err != nil {
		return messageResponse(c, fiber.StatusBadRequest, err.Error())
	}

	page, err := h.products.ListProducts(c.UserContext(), service.ListQuery{
		Keyword:    c.Query("keyword"),
		Category:   c.Query("category"),
		MinPrice:   minPrice,
		MaxPrice:   maxPrice,
		PageSize:   c.QueryInt("pageSize"),
		PageNumber: c.QueryInt("pageNumber", 1),
	})
	if err != nil {
		return h.fail(c, "getAllProducts", err)
	}
	return c.Status(fiber.StatusOK).JSON(page)
}

func (h *ProductHandler) SearchProducts(c *fiber.Ctx) error {
	minPrice, maxPrice, err := priceRange(c)
	if err != nil {
		return messageResponse(c, fiber.StatusBadRequest, err.Error())
	}

	page, err := h.products.SearchProducts(c.UserContext(), service.SearchQuery{
		Term:       c.Query("term"),
		Category:   c.Query("category"),
		MinPrice:   minPrice,
		MaxPrice:   maxPrice,
		PageNumber: c.QueryInt("pageNumber", 1),
	})
	if err != nil {
		return h.fail(c, "searchProducts", err)
	}
	return c.Status(fiber.StatusOK).JSON(page)
}

func (h *ProductHandler) TopProducts(c *fiber.Ctx) error {
	products, err := h.products.TopProducts(c.UserContext())
	if err != nil {
		return h.fail(c, "getTopProducts", err)
	}
	return c.Status(fiber.StatusOK).JSON(products)
}

func (h *ProductHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.products.Stats(c.UserContext())
	if err != nil {
		h.logger.Error("Error in getProductStats", zap.Error(err))
		return messageResponse(c, fiber.StatusInternalServerError, "Error fetching product stats")
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

// parseProduct writes the 400 itself and reports false when the body is
// unusable.
func (h *ProductHandler) parseProduct(c *fiber.Ctx) (ProductRequest, bool) {
	var request ProductRequest
	if err := c.BodyParser(&request); err != nil {
		_ = messageResponse(c, fiber.StatusBadRequest, "Invalid request body")
		return request, false
	}
	if err := h.validate.Struct(request); err != nil {
		_ = messageResponse(c, fiber.StatusBadRequest, validationMessage(err))
		return request, false
	}
	if request.Price.IsNegative() {
		_ = messageResponse(c, fiber.StatusBadRequest, "price must not be negative")
		return request, false
	}
	return request, true
}

func (h *ProductHandler) fail(c *fiber.Ctx, operation string, err error) error {
	if domain.KindOf(err) == domain.KindUnknown {
		h.logger.Error("Error in "+operation, zap.Error(err))
	}
	return errorResponse(c, err)
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

func priceRange(c *fiber.Ctx) (*decimal.Decimal, *decimal.Decimal, error) {
	lower, err := queryDecimal(c, "minPrice")
	if err != nil {
		return nil, nil, err
	}
	upper, err := queryDecimal(c, "maxPrice")
	if err != nil {
		return nil, nil, err
	}
	return lower, upper, nil
}

func queryDecimal(c *fiber.Ctx, key string) (*decimal.Decimal, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, errors.Errorf("Invalid %s", key)
	}
	return &value, nil
}

func validationMessage(err error) string {
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		fe := fieldErrors[0]
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "gte":
			return fe.Field() + " must not be negative"
		}
		return fe.Field() + " is invalid"
	}
	return "Invalid request body"
}
