// Package handler содержит HTTP-обработчики API сервиса заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mpetrenko/purchase-system/internal/middleware"
	"github.com/mpetrenko/purchase-system/internal/model"
	"github.com/mpetrenko/purchase-system/internal/repository"
	"github.com/mpetrenko/purchase-system/internal/service"
	"github.com/mpetrenko/purchase-system/internal/validation"
)

const orderDateLayout = "2006-01-02"

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	CreateCompany(ctx context.Context, userID int64, name, address string) (int64, error)
	GetCompany(ctx context.Context, id, userID int64) (*model.Company, error)
	GetCompaniesByUser(ctx context.Context, userID int64) ([]model.Company, error)
	DeleteCompany(ctx context.Context, id, userID int64) error
	CreateOrder(ctx context.Context, userID int64, draft service.OrderDraft) (*model.Order, error)
	GetOrder(ctx context.Context, id, userID int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	DeleteOrder(ctx context.Context, id, userID int64) error
}

// Handler реализует HTTP-обработчики API сервиса заказов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeToken(w, userID)
}

// Login выполняет аутентификацию пользователя и выдачу токена.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeToken(w, userID)
}

func (h *Handler) writeToken(w http.ResponseWriter, userID int64) {
	token, err := h.authMiddleware.IssueToken(userID)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tokenResponse{Token: token}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type companyRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type companyResponse struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// CreateCompany создаёт компанию текущего пользователя.
func (h *Handler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req companyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Address == "" {
		http.Error(w, "name and address are required", http.StatusBadRequest)
		return
	}

	id, err := h.service.CreateCompany(r.Context(), userID, req.Name, req.Address)
	if err != nil {
		h.logger.Error("create company error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(companyResponse{ID: id, Name: req.Name, Address: req.Address}); err != nil {
		h.logger.Error("encode company error", zap.Error(err))
	}
}

// GetCompanies возвращает список компаний текущего пользователя.
func (h *Handler) GetCompanies(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	companies, err := h.service.GetCompaniesByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get companies error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(companies) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]companyResponse, 0, len(companies))
	for _, c := range companies {
		resp = append(resp, companyResponse{ID: c.ID, Name: c.Name, Address: c.Address})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// GetCompany возвращает одну компанию текущего пользователя.
func (h *Handler) GetCompany(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := parseID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	company, err := h.service.GetCompany(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, repository.ErrCompanyNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get company error", zap.Error(err), zap.Int64("companyID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(companyResponse{ID: company.ID, Name: company.Name, Address: company.Address}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// DeleteCompany удаляет компанию текущего пользователя.
func (h *Handler) DeleteCompany(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := parseID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteCompany(r.Context(), id, userID); err != nil {
		if errors.Is(err, repository.ErrCompanyNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("delete company error", zap.Error(err), zap.Int64("companyID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type lineItemRequest struct {
	ProductID int64   `json:"product_id"`
	Quantity  int64   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type createOrderRequest struct {
	CompanyID         int64             `json:"company_id"`
	OrderDate         string            `json:"order_date"`
	TotalAmount       float64           `json:"total_amount"`
	NotificationEmail string            `json:"notification_email,omitempty"`
	LineItems         []lineItemRequest `json:"line_items"`
}

type lineItemResponse struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Quantity  int64   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type orderResponse struct {
	ID                int64              `json:"id"`
	CompanyID         *int64             `json:"company_id,omitempty"`
	OrderDate         string             `json:"order_date"`
	TotalAmount       float64            `json:"total_amount"`
	NotificationEmail string             `json:"notification_email,omitempty"`
	NotifyAt          string             `json:"notify_at,omitempty"`
	LineItems         []lineItemResponse `json:"line_items"`
}

// CreateOrder принимает новый заказ текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	// Дата заказа не несёт зоны; интерпретируем её в зоне сервера,
	// в которой сервис определяет "сегодня".
	orderDate, err := time.ParseInLocation(orderDateLayout, req.OrderDate, time.Local)
	if err != nil {
		http.Error(w, "invalid order date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	items := make([]model.LineItem, 0, len(req.LineItems))
	for _, it := range req.LineItems {
		items = append(items, model.LineItem{
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
			UnitPriceCents: toCents(it.UnitPrice),
		})
	}

	order, err := h.service.CreateOrder(r.Context(), userID, service.OrderDraft{
		CompanyID:         req.CompanyID,
		OrderDate:         orderDate,
		TotalCents:        toCents(req.TotalAmount),
		NotificationEmail: req.NotificationEmail,
		LineItems:         items,
	})
	if err != nil {
		if errors.Is(err, repository.ErrCompanyNotFound) {
			http.Error(w, "company not found or not accessible", http.StatusBadRequest)
			return
		}
		if isValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("create order error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toOrderResponse(order)); err != nil {
		h.logger.Error("encode order error", zap.Error(err))
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, validation.ErrEmptyLineItems) ||
		errors.Is(err, validation.ErrInvalidQuantity) ||
		errors.Is(err, validation.ErrNegativeUnitPrice) ||
		errors.Is(err, validation.ErrOrderDateInPast) ||
		errors.Is(err, validation.ErrTotalMismatch)
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// GetOrder возвращает один заказ текущего пользователя.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := parseID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.GetOrder(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.Int64("orderID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toOrderResponse(order)); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// DeleteOrder удаляет заказ текущего пользователя вместе с позициями.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := parseID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteOrder(r.Context(), id, userID); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("delete order error", zap.Error(err), zap.Int64("orderID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func toOrderResponse(o *model.Order) orderResponse {
	items := make([]lineItemResponse, 0, len(o.LineItems))
	for _, it := range o.LineItems {
		items = append(items, lineItemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: fromCents(it.UnitPriceCents),
		})
	}

	resp := orderResponse{
		ID:                o.ID,
		CompanyID:         o.CompanyID,
		OrderDate:         o.OrderDate.Format(orderDateLayout),
		TotalAmount:       fromCents(o.TotalCents),
		NotificationEmail: o.NotificationEmail,
		LineItems:         items,
	}
	if o.NotifyAt != nil {
		resp.NotifyAt = o.NotifyAt.Format(time.RFC3339)
	}

	return resp
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func fromCents(v int64) float64 {
	return float64(v) / 100
}
