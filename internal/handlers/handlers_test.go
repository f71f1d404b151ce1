package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/distributed-ecommerce-saga/product-service/internal/domain"
	"github.com/distributed-ecommerce-saga/product-service/internal/events"
	"github.com/distributed-ecommerce-saga/product-service/internal/middleware"
	"github.com/distributed-ecommerce-saga/product-service/internal/observability"
	"github.com/distributed-ecommerce-saga/product-service/internal/repository"
	"github.com/distributed-ecommerce-saga/product-service/internal/service"
)

const (
	testJWTSecret     = "jwt-secret"
	testServiceSecret = "svc-secret"
)

type stubPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *stubPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	return nil
}

type brokenDecrementRepository struct {
	repository.ProductRepository
	failOn string
}

func (r *brokenDecrementRepository) DecrementStock(ctx context.Context, id string, amount int) (*domain.Product, error) {
	if id == r.failOn {
		return nil, errors.New("socket closed")
	}
	return r.ProductRepository.DecrementStock(ctx, id, amount)
}

type testServer struct {
	app       *fiber.App
	repo      *repository.MemoryProductRepository
	publisher *stubPublisher
	stock     *service.StockService
}

func newTestServer(t *testing.T, wrap func(repository.ProductRepository) repository.ProductRepository) *testServer {
	t.Helper()
	memory := repository.NewMemoryProductRepository()
	var repo repository.ProductRepository = memory
	if wrap != nil {
		repo = wrap(memory)
	}

	logger := zap.NewNop()
	metrics := observability.NewMetrics("test")
	publisher := &stubPublisher{}

	products := service.NewProductService(repo, 100, logger)
	stock := service.NewStockService(repo, publisher, metrics, logger)
	reservations := service.NewReservationService(repo, publisher, metrics, logger)
	handler := NewProductHandler(products, stock, reservations, logger)
	auth := middleware.NewAuth(testJWTSecret, testServiceSecret, logger)

	app := fiber.New()
	app.Get("/health", HealthCheck("product-service"))
	api := app.Group("/api/products", auth.ServiceToken(), auth.ExtractUser())
	handler.RegisterRoutes(api, auth.AdminOnly())
	app.Use("*", RouteNotFound)

	return &testServer{app: app, repo: memory, publisher: publisher, stock: stock}
}

func (s *testServer) seed(t *testing.T, id, name string, stock int) {
	t.Helper()
	p := domain.NewProduct(name, name+" description", decimal.NewFromInt(25), stock, []string{"Tools"})
	p.ID = id
	require.NoError(t, s.repo.Create(context.Background(), p))
}

func (s *testServer) stockOf(t *testing.T, id string) int {
	t.Helper()
	p, err := s.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

type caller int

const (
	anonymous caller = iota
	customer
	admin
)

func (s *testServer) do(t *testing.T, method, path string, body interface{}, who caller) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		if raw, ok := body.(string); ok {
			reader = bytes.NewBufferString(raw)
		} else {
			encoded, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(encoded)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	serviceToken, err := middleware.SignServiceToken(testServiceSecret, "order-service", time.Hour)
	require.NoError(t, err)
	req.Header.Set(middleware.ServiceTokenHeader, serviceToken)
	if who != anonymous {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+userToken(t, who == admin))
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func userToken(t *testing.T, isAdmin bool) string {
	t.Helper()
	claims := middleware.UserClaims{
		ID:      "user-1",
		Email:   "user@example.com",
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func items(pairs ...interface{}) map[string]interface{} {
	list := make([]map[string]interface{}, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		list = append(list, map[string]interface{}{"productId": pairs[i], "quantity": pairs[i+1]})
	}
	return map[string]interface{}{"items": list}
}

func TestCheckStockCommits(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed(t, "A", "Hammer", 10)
	s.seed(t, "B", "Wrench", 1)

	status, body := s.do(t, http.MethodPost, "/api/products/internal/check-stock", items("A", 3, "B", 1), anonymous)

	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Stock checked and updated successfully", body["message"])
	updated := body["updatedProducts"].([]interface{})
	require.Len(t, updated, 2)
	first := updated[0].(map[string]interface{})
	assert.Equal(t, "A", first["productId"])
	assert.Equal(t, "Hammer", first["name"])
	assert.Equal(t, float64(7), first["newStockQuantity"])

	assert.Equal(t, 7, s.stockOf(t, "A"))
	assert.Equal(t, 0, s.stockOf(t, "B"))
	assert.Equal(t, []string{events.ProductStockUpdated}, s.publisher.types)
}

func TestCheckStockRejectsOutOfStockBatch(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed(t, "A", "Hammer", 10)
	s.seed(t, "B", "Wrench", 1)

	status, body := s.do(t, http.MethodPost, "/api/products/internal/check-stock", items("A", 3, "B", 2, "Z", 1), anonymous)

	require.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "Some items are out of stock", body["message"])
	rejected := body["outOfStockItems"].([]interface{})
	require.Len(t, rejected, 2)

	short := rejected[0].(map[string]interface{})
	assert.Equal(t, "B", short["productId"])
	assert.Equal(t, float64(2), short["requested"])
	assert.Equal(t, float64(1), short["available"])
	assert.Equal(t, "Insufficient stock", short["reason"])

	missing := rejected[1].(map[string]interface{})
	assert.Equal(t, "Z", missing["productId"])
	assert.Equal(t, "Product not found", missing["reason"])
	assert.NotContains(t, missing, "requested")

	assert.Equal(t, 10, s.stockOf(t, "A"))
	assert.Equal(t, 1, s.stockOf(t, "B"))
	assert.Empty(t, s.publisher.types)
}

func TestCheckStockRejectsMalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"no items", map[string]interface{}{}},
		{"empty items", map[string]interface{}{"items": []interface{}{}}},
		{"zero quantity", items("A", 0)},
		{"missing product", items("", 1)},
		{"not json", "{items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.seed(t, "A", "Hammer", 10)

			status, body := s.do(t, http.MethodPost, "/api/products/internal/check-stock", tt.body, anonymous)

			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, "Invalid items data", body["message"])
			assert.Equal(t, 10, s.stockOf(t, "A"))
		})
	}
}

func TestCheckStockRollsBackAndReportsServerError(t *testing.T) {
	s := newTestServer(t, func(repo repository.ProductRepository) repository.ProductRepository {
		return &brokenDecrementRepository{ProductRepository: repo, failOn: "B"}
	})
	s.seed(t, "A", "Hammer", 10)
	s.seed(t, "B", "Wrench", 10)

	status, body := s.do(t, http.MethodPost, "/api/products/internal/check-stock", items("A", 4, "B", 1), anonymous)

	require.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "Server error", body["message"])
	assert.Contains(t, body["error"], "failed to update product B")
	assert.Equal(t, 10, s.stockOf(t, "A"))
	assert.Equal(t, 10, s.stockOf(t, "B"))
}

func TestCheckStockRequiresServiceToken(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/products/internal/check-stock", bytes.NewBufferString(`{"items":[]}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := s.app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAdjustStock(t *testing.T) {
	tests := []struct {
		name       string
		who        caller
		id         string
		body       interface{}
		wantStatus int
		wantStock  int
		wantMsg    string
	}{
		{"sell to zero", admin, "A", map[string]int{"quantity": -5}, fiber.StatusOK, 0, ""},
		{"oversell", admin, "A", map[string]int{"quantity": -6}, fiber.StatusBadRequest, 5, "Insufficient stock"},
		{"restock", admin, "A", map[string]int{"quantity": 3}, fiber.StatusOK, 8, ""},
		{"unknown product", admin, "nope", map[string]int{"quantity": 1}, fiber.StatusNotFound, 5, "Product not found"},
		{"missing quantity", admin, "A", map[string]int{}, fiber.StatusBadRequest, 5, "quantity is required"},
		{"not admin", customer, "A", map[string]int{"quantity": 1}, fiber.StatusForbidden, 5, "Not authorized as admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.seed(t, "A", "Hammer", 5)

			status, body := s.do(t, http.MethodPut, "/api/products/"+tt.id+"/stock", tt.body, tt.who)

			assert.Equal(t, tt.wantStatus, status)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, body["message"])
			} else {
				assert.Equal(t, float64(tt.wantStock), body["stockQuantity"])
			}
			assert.Equal(t, tt.wantStock, s.stockOf(t, "A"))
		})
	}
}

func TestProductLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	status, created := s.do(t, http.MethodPost, "/api/products", map[string]interface{}{
		"name":          "Drill",
		"description":   "Cordless drill",
		"price":         89.5,
		"stockQuantity": 4,
		"categories":    []string{"Tools", "Power"},
	}, admin)
	require.Equal(t, fiber.StatusCreated, status)
	id := created["id"].(string)
	require.NotEmpty(t, id)

	status, fetched := s.do(t, http.MethodGet, "/api/products/"+id, nil, anonymous)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Drill", fetched["name"])

	status, updated := s.do(t, http.MethodPut, "/api/products/"+id, map[string]interface{}{
		"name":          "Hammer drill",
		"description":   "Corded",
		"price":         "99.00",
		"stockQuantity": 500,
	}, admin)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Hammer drill", updated["name"])
	assert.Equal(t, float64(4), updated["stockQuantity"])

	status, deleted := s.do(t, http.MethodDelete, "/api/products/"+id, nil, admin)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Product deleted", deleted["message"])

	status, missing := s.do(t, http.MethodGet, "/api/products/"+id, nil, anonymous)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "Product not found", missing["message"])
}

func TestCreateProductValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    map[string]interface{}
		wantMsg string
	}{
		{"missing name", map[string]interface{}{"description": "d", "price": 1}, "name is required"},
		{"missing price", map[string]interface{}{"name": "n", "description": "d"}, "price is required"},
		{"negative price", map[string]interface{}{"name": "n", "description": "d", "price": -1}, "price must not be negative"},
		{"negative stock", map[string]interface{}{"name": "n", "description": "d", "price": 1, "stockQuantity": -1}, "stockQuantity must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)

			status, body := s.do(t, http.MethodPost, "/api/products", tt.body, admin)

			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, tt.wantMsg, body["message"])
		})
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := s.do(t, http.MethodPost, "/api/products", map[string]interface{}{
		"name": "n", "description": "d", "price": 1,
	}, customer)

	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "Not authorized as admin", body["message"])
}

func TestListProducts(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed(t, "A", "Hammer", 10)
	s.seed(t, "B", "Claw hammer", 1)
	s.seed(t, "C", "Wrench", 1)

	status, body := s.do(t, http.MethodGet, "/api/products?keyword=hammer&pageSize=1&pageNumber=2", nil, anonymous)

	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(2), body["page"])
	assert.Equal(t, float64(2), body["pages"])
	assert.Equal(t, float64(2), body["total"])
	assert.Len(t, body["products"], 1)
}

func TestListProductsRejectsBadPrice(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := s.do(t, http.MethodGet, "/api/products?minPrice=cheap", nil, anonymous)

	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "Invalid minPrice", body["message"])
}

func TestStatsRequiresAdmin(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed(t, "A", "Hammer", 10)
	s.seed(t, "B", "Wrench", 500)

	status, _ := s.do(t, http.MethodGet, "/api/products/admin/stats", nil, customer)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body := s.do(t, http.MethodGet, "/api/products/admin/stats", nil, admin)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(2), body["totalProducts"])
	low := body["lowStockProducts"].([]interface{})
	require.Len(t, low, 1)
	assert.Equal(t, "A", low[0].(map[string]interface{})["id"])
}

func TestHealthAndUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, map[string]string{"status": "ok", "service": "product-service"}, health)

	resp, err = s.app.Test(httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Route not found: GET /nowhere", body["message"])
}

func TestEventHandlerRestoresStock(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed(t, "A", "Hammer", 2)
	h := NewEventHandler(s.stock, zap.NewNop())

	body, err := json.Marshal(events.CompensationFailedPayload{ReservationID: "r-1", ProductID: "A", Quantity: 3})
	require.NoError(t, err)

	require.NoError(t, h.HandleEvent(context.Background(), events.ProductStockCompensationFailed, body))
	assert.Equal(t, 5, s.stockOf(t, "A"))
}

func TestEventHandlerIgnoresUnusableEvents(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed(t, "A", "Hammer", 2)
	h := NewEventHandler(s.stock, zap.NewNop())

	assert.NoError(t, h.HandleEvent(context.Background(), events.ProductStockCompensationFailed, []byte("{not json")))
	assert.NoError(t, h.HandleEvent(context.Background(), "SomethingElse", []byte("{}")))
	assert.Equal(t, 2, s.stockOf(t, "A"))
}
