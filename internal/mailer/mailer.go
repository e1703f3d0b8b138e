// Package mailer предоставляет отправку писем для напоминаний о заказах.
package mailer

import (
	"context"

	"go.uber.org/zap"
)

// Mailer описывает способность отправить письмо. Доставка best-effort:
// ошибка отправки возвращается вызывающему, но не означает повтора.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer пишет письма в лог вместо отправки. Используется, когда ни один
// почтовый транспорт не сконфигурирован.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer создаёт Mailer, пишущий письма в лог.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send записывает письмо в лог.
func (m *LogMailer) Send(_ context.Context, to, subject, body string) error {
	m.logger.Info("mail transport not configured, logging email instead",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("bodyLength", len(body)),
	)
	return nil
}
