// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"time"

	"github.com/mpetrenko/purchase-system/internal/model"
)

// totalToleranceCents — допустимое расхождение между заявленной суммой
// заказа и суммой позиций, в копейках.
const totalToleranceCents = 1

// ErrEmptyLineItems возвращается для заказа без позиций.
var (
	ErrEmptyLineItems = errors.New("order must contain at least one line item")
	// ErrInvalidQuantity возвращается, если количество в позиции не положительно.
	ErrInvalidQuantity = errors.New("line item quantity must be positive")
	// ErrNegativeUnitPrice возвращается при отрицательной цене позиции.
	ErrNegativeUnitPrice = errors.New("line item unit price must not be negative")
	// ErrOrderDateInPast возвращается, если дата заказа раньше текущей.
	ErrOrderDateInPast = errors.New("order date is in the past")
	// ErrTotalMismatch возвращается при расхождении заявленной суммы с суммой позиций.
	ErrTotalMismatch = errors.New("total amount does not match line items")
)

// ValidateOrder проверяет черновик заказа: непустой список позиций,
// корректность каждой позиции, дату заказа и согласованность итоговой
// суммы с суммой позиций. Проверки выполняются по порядку, до первой
// ошибки. Функция не имеет побочных эффектов.
func ValidateOrder(now time.Time, orderDate time.Time, totalCents int64, items []model.LineItem) error {
	if len(items) == 0 {
		return ErrEmptyLineItems
	}

	for _, it := range items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: product %d", ErrInvalidQuantity, it.ProductID)
		}
		if it.UnitPriceCents < 0 {
			return fmt.Errorf("%w: product %d", ErrNegativeUnitPrice, it.ProductID)
		}
	}

	if BeforeDay(orderDate, now) {
		return ErrOrderDateInPast
	}

	var sum int64
	for _, it := range items {
		sum += it.Quantity * it.UnitPriceCents
	}

	diff := totalCents - sum
	if diff < -totalToleranceCents || diff > totalToleranceCents {
		return fmt.Errorf("%w: declared %d, items sum %d", ErrTotalMismatch, totalCents, sum)
	}

	return nil
}

// SameDay сообщает, относятся ли два момента к одной календарной дате.
// Момент b приводится к локации a перед сравнением: моменты в разных
// зонах сравниваются как даты одного календаря, а не как абсолютные
// мгновения.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// BeforeDay сообщает, предшествует ли календарная дата a календарной
// дате момента b. Момент b приводится к локации a перед сравнением.
func BeforeDay(a, b time.Time) bool {
	b = b.In(a.Location())
	if a.Year() != b.Year() {
		return a.Year() < b.Year()
	}
	return a.YearDay() < b.YearDay()
}
