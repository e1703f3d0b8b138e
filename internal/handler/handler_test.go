package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mpetrenko/purchase-system/internal/middleware"
	"github.com/mpetrenko/purchase-system/internal/model"
	"github.com/mpetrenko/purchase-system/internal/repository"
	"github.com/mpetrenko/purchase-system/internal/service"
	"github.com/mpetrenko/purchase-system/internal/validation"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUserID int64
	authErr    error

	createCompanyID  int64
	createCompanyErr error

	company    *model.Company
	companyErr error

	companies    []model.Company
	companiesErr error

	deleteCompanyErr error

	createdOrder   *model.Order
	createOrderErr error

	order    *model.Order
	orderErr error

	orders    []model.Order
	ordersErr error

	deleteOrderErr error
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	return s.authUserID, s.authErr
}

func (s *stubService) CreateCompany(ctx context.Context, userID int64, name, address string) (int64, error) {
	return s.createCompanyID, s.createCompanyErr
}

func (s *stubService) GetCompany(ctx context.Context, id, userID int64) (*model.Company, error) {
	return s.company, s.companyErr
}

func (s *stubService) GetCompaniesByUser(ctx context.Context, userID int64) ([]model.Company, error) {
	return s.companies, s.companiesErr
}

func (s *stubService) DeleteCompany(ctx context.Context, id, userID int64) error {
	return s.deleteCompanyErr
}

func (s *stubService) CreateOrder(ctx context.Context, userID int64, draft service.OrderDraft) (*model.Order, error) {
	return s.createdOrder, s.createOrderErr
}

func (s *stubService) GetOrder(ctx context.Context, id, userID int64) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.orders, s.ordersErr
}

func (s *stubService) DeleteOrder(ctx context.Context, id, userID int64) error {
	return s.deleteOrderErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func authedRequest(t *testing.T, h *Handler, method, target string, body *bytes.Reader) *http.Request {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	token, err := h.authMiddleware.IssueToken(1)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return req
}

func TestRegister_ReturnsToken(t *testing.T) {
	svc := &stubService{
		registerUserID: 42,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Fatalf("empty token in response")
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{
		registerErr: repository.ErrUserExists,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "pass"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{
		authErr: service.ErrInvalidCredentials,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "wrong"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestCreateOrder_ValidationErrorVerbatim(t *testing.T) {
	svc := &stubService{
		createOrderErr: fmt.Errorf("%w: declared 2600, items sum 2500", validation.ErrTotalMismatch),
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createOrderRequest{
		CompanyID:   1,
		OrderDate:   "2025-06-15",
		TotalAmount: 26.00,
		LineItems: []lineItemRequest{
			{ProductID: 1, Quantity: 2, UnitPrice: 10.00},
			{ProductID: 2, Quantity: 1, UnitPrice: 5.00},
		},
	})

	req := authedRequest(t, h, http.MethodPost, "/api/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "total amount does not match") {
		t.Fatalf("body %q does not contain rejection reason", rec.Body.String())
	}
}

func TestCreateOrder_CompanyNotFound(t *testing.T) {
	svc := &stubService{
		createOrderErr: repository.ErrCompanyNotFound,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createOrderRequest{
		CompanyID:   99,
		OrderDate:   "2025-06-15",
		TotalAmount: 25.00,
		LineItems:   []lineItemRequest{{ProductID: 1, Quantity: 1, UnitPrice: 25.00}},
	})

	req := authedRequest(t, h, http.MethodPost, "/api/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "company not found or not accessible") {
		t.Fatalf("body %q does not name the rejection", rec.Body.String())
	}
}

func TestCreateOrder_Success(t *testing.T) {
	companyID := int64(1)
	notifyAt := time.Date(2025, 6, 15, 12, 0, 10, 0, time.UTC)

	svc := &stubService{
		createdOrder: &model.Order{
			ID:                100,
			UserID:            1,
			CompanyID:         &companyID,
			OrderDate:         time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
			TotalCents:        2500,
			NotificationEmail: "a@b.com",
			NotifyAt:          &notifyAt,
			LineItems: []model.LineItem{
				{ID: 1, OrderID: 100, ProductID: 1, Quantity: 2, UnitPriceCents: 1000},
				{ID: 2, OrderID: 100, ProductID: 2, Quantity: 1, UnitPriceCents: 500},
			},
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createOrderRequest{
		CompanyID:         1,
		OrderDate:         "2025-06-15",
		TotalAmount:       25.00,
		NotificationEmail: "a@b.com",
		LineItems: []lineItemRequest{
			{ProductID: 1, Quantity: 2, UnitPrice: 10.00},
			{ProductID: 2, Quantity: 1, UnitPrice: 5.00},
		},
	})

	req := authedRequest(t, h, http.MethodPost, "/api/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp orderResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 100 || resp.TotalAmount != 25.00 || len(resp.LineItems) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetOrders_NoContent(t *testing.T) {
	svc := &stubService{
		orders: []model.Order{},
	}
	h := newTestHandler(t, svc)

	req := authedRequest(t, h, http.MethodGet, "/api/orders", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNoContent)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	svc := &stubService{
		orderErr: repository.ErrOrderNotFound,
	}
	h := newTestHandler(t, svc)

	req := authedRequest(t, h, http.MethodGet, "/api/orders/7", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestDeleteOrder_NotFound(t *testing.T) {
	svc := &stubService{
		deleteOrderErr: repository.ErrOrderNotFound,
	}
	h := newTestHandler(t, svc)

	req := authedRequest(t, h, http.MethodDelete, "/api/orders/7", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestOrders_RequireAuth(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGetCompanies_JSONResponse(t *testing.T) {
	svc := &stubService{
		companies: []model.Company{
			{ID: 1, UserID: 1, Name: "Acme", Address: "Main st. 1"},
		},
	}
	h := newTestHandler(t, svc)

	req := authedRequest(t, h, http.MethodGet, "/api/companies", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}
}
