// Package notifier содержит фоновый процесс отправки напоминаний о заказах.
package notifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mpetrenko/purchase-system/internal/mailer"
	"github.com/mpetrenko/purchase-system/internal/repository"
)

// DefaultInterval — период опроса хранилища на предмет наступивших напоминаний.
const DefaultInterval = 60 * time.Second

// Store описывает операции хранилища, нужные воркеру.
type Store interface {
	GetDueNotifications(ctx context.Context, now time.Time) ([]repository.DueNotification, error)
	ClearNotification(ctx context.Context, orderID int64) error
}

// Worker — одиночный фоновый процесс, который по тику таймера находит
// заказы с наступившим временем напоминания, отправляет письма и сбрасывает
// время напоминания. Время сбрасывается после каждой попытки отправки,
// успешной или нет: напоминание доставляется не более одного раза.
type Worker struct {
	store    Store
	mailer   mailer.Mailer
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
}

// NewWorker создаёт воркер напоминаний. При нулевом интервале используется
// DefaultInterval.
func NewWorker(store Store, m mailer.Mailer, logger *zap.Logger, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Worker{
		store:    store,
		mailer:   m,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Run выполняет цикл опроса до отмены контекста. Один цикл выполняется
// сразу при старте, далее по тику. Ошибка опроса не завершает воркер:
// следующая попытка произойдёт на очередном тике.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("notification worker started", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.processDue(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("notification worker stopped")
			return
		case <-ticker.C:
			w.processDue(ctx)
		}
	}
}

// processDue обрабатывает один цикл: опрос, отправка, сброс. Ошибка
// отправки одного заказа не прерывает обработку остальных.
func (w *Worker) processDue(ctx context.Context) {
	due, err := w.store.GetDueNotifications(ctx, w.now())
	if err != nil {
		w.logger.Error("poll due notifications", zap.Error(err))
		return
	}

	for _, n := range due {
		if ctx.Err() != nil {
			return
		}

		subject := fmt.Sprintf("Purchase Order Notification - Order #%d", n.OrderID)
		body := buildEmailBody(n)

		if err := w.mailer.Send(ctx, n.Email, subject, body); err != nil {
			w.logger.Error("send notification email",
				zap.Int64("orderID", n.OrderID),
				zap.Error(err),
			)
		} else {
			w.logger.Info("sent notification email", zap.Int64("orderID", n.OrderID))
		}

		if err := w.store.ClearNotification(ctx, n.OrderID); err != nil {
			w.logger.Error("clear notification",
				zap.Int64("orderID", n.OrderID),
				zap.Error(err),
			)
		}
	}
}

func buildEmailBody(n repository.DueNotification) string {
	companyName := "N/A"
	if n.CompanyName != nil {
		companyName = *n.CompanyName
	}

	return fmt.Sprintf(`<html>
<body>
	<h2>Purchase Order Notification</h2>
	<p>Your purchase order has been created and is being processed:</p>
	<ul>
		<li><strong>Order ID:</strong> %d</li>
		<li><strong>Company:</strong> %s</li>
		<li><strong>Order Date:</strong> %s</li>
		<li><strong>Total Amount:</strong> $%.2f</li>
	</ul>
	<p>Please review the order details and contact us if you have any questions.</p>
</body>
</html>`,
		n.OrderID,
		companyName,
		n.OrderDate.Format("2006-01-02"),
		float64(n.TotalCents)/100,
	)
}
