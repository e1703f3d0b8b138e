// Package model содержит доменные сущности системы заказов.
package model

import "time"

// User представляет зарегистрированного пользователя системы.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Company представляет компанию, принадлежащую пользователю.
// Заказы ссылаются на компанию по идентификатору; компания может быть
// удалена независимо, при этом заказ сохраняет последний известный id.
type Company struct {
	ID        int64
	UserID    int64
	Name      string
	Address   string
	CreatedAt time.Time
}

// LineItem описывает одну позицию заказа. Позиция принадлежит
// исключительно заказу и удаляется вместе с ним.
type LineItem struct {
	ID             int64
	OrderID        int64
	ProductID      int64
	Quantity       int64
	UnitPriceCents int64
}

// Order описывает заказ пользователя. Денежные суммы хранятся
// в копейках, дата заказа имеет дневную гранулярность.
type Order struct {
	ID                int64
	UserID            int64
	CompanyID         *int64
	OrderDate         time.Time
	TotalCents        int64
	NotificationEmail string
	NotifyAt          *time.Time
	LineItems         []LineItem
	CreatedAt         time.Time
}
