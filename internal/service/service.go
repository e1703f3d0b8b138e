// Package service реализует бизнес-логику системы заказов.
package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mpetrenko/purchase-system/internal/model"
	"github.com/mpetrenko/purchase-system/internal/repository"
	"github.com/mpetrenko/purchase-system/internal/validation"
)

// Задержки напоминания: заказ с сегодняшней датой подтверждается почти
// сразу, заказ с будущей датой откладывается на пять минут.
const (
	sameDayNotifyDelay = 10 * time.Second
	futureNotifyDelay  = 5 * time.Minute
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	CreateCompany(ctx context.Context, userID int64, name, address string) (int64, error)
	GetCompany(ctx context.Context, id, userID int64) (*model.Company, error)
	GetCompaniesByUser(ctx context.Context, userID int64) ([]model.Company, error)
	DeleteCompany(ctx context.Context, id, userID int64) error
	CreateOrder(ctx context.Context, order *model.Order) (int64, error)
	GetOrder(ctx context.Context, id, userID int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	DeleteOrder(ctx context.Context, id, userID int64) error
}

// Service содержит бизнес-логику системы заказов.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	return s.repo.CreateUser(ctx, login, hash)
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его
// идентификатор. Отсутствие пользователя и неверный пароль неразличимы.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

// CreateCompany создаёт компанию текущего пользователя.
func (s *Service) CreateCompany(ctx context.Context, userID int64, name, address string) (int64, error) {
	return s.repo.CreateCompany(ctx, userID, name, address)
}

// GetCompany возвращает компанию текущего пользователя.
func (s *Service) GetCompany(ctx context.Context, id, userID int64) (*model.Company, error) {
	return s.repo.GetCompany(ctx, id, userID)
}

// GetCompaniesByUser возвращает компании текущего пользователя.
func (s *Service) GetCompaniesByUser(ctx context.Context, userID int64) ([]model.Company, error) {
	return s.repo.GetCompaniesByUser(ctx, userID)
}

// DeleteCompany удаляет компанию текущего пользователя.
func (s *Service) DeleteCompany(ctx context.Context, id, userID int64) error {
	return s.repo.DeleteCompany(ctx, id, userID)
}

// OrderDraft описывает заказ, предложенный пользователем к созданию.
type OrderDraft struct {
	CompanyID         int64
	OrderDate         time.Time
	TotalCents        int64
	NotificationEmail string
	LineItems         []model.LineItem
}

// CreateOrder валидирует черновик заказа, назначает время напоминания и
// атомарно сохраняет заказ с позициями. Проверки выполняются по порядку:
// принадлежность компании, затем позиции, дата и итоговая сумма.
func (s *Service) CreateOrder(ctx context.Context, userID int64, draft OrderDraft) (*model.Order, error) {
	if _, err := s.repo.GetCompany(ctx, draft.CompanyID, userID); err != nil {
		return nil, err
	}

	now := s.now()

	if err := validation.ValidateOrder(now, draft.OrderDate, draft.TotalCents, draft.LineItems); err != nil {
		return nil, err
	}

	// Дата заказа хранится как календарный день; перед записью она
	// нормализуется к полуночи UTC, чтобы значение в колонке DATE
	// не зависело от зоны сервера.
	year, month, day := draft.OrderDate.Date()

	companyID := draft.CompanyID
	order := &model.Order{
		UserID:            userID,
		CompanyID:         &companyID,
		OrderDate:         time.Date(year, month, day, 0, 0, 0, 0, time.UTC),
		TotalCents:        draft.TotalCents,
		NotificationEmail: draft.NotificationEmail,
		NotifyAt:          scheduleNotification(now, draft.OrderDate, draft.NotificationEmail),
		LineItems:         draft.LineItems,
	}

	if _, err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// scheduleNotification вычисляет время отправки напоминания. Без адреса
// получателя напоминание не назначается и заказ не посещается воркером.
func scheduleNotification(now, orderDate time.Time, email string) *time.Time {
	if email == "" {
		return nil
	}

	var at time.Time
	if validation.SameDay(orderDate, now) {
		at = now.Add(sameDayNotifyDelay)
	} else {
		at = now.Add(futureNotifyDelay)
	}

	return &at
}

// GetOrder возвращает заказ текущего пользователя.
func (s *Service) GetOrder(ctx context.Context, id, userID int64) (*model.Order, error) {
	return s.repo.GetOrder(ctx, id, userID)
}

// GetOrdersByUser возвращает заказы текущего пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// DeleteOrder удаляет заказ текущего пользователя вместе с позициями.
func (s *Service) DeleteOrder(ctx context.Context, id, userID int64) error {
	return s.repo.DeleteOrder(ctx, id, userID)
}
