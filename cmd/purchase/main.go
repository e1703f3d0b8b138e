// Package main запускает HTTP-сервер системы заказов и воркер напоминаний.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mpetrenko/purchase-system/internal/config"
	"github.com/mpetrenko/purchase-system/internal/handler"
	"github.com/mpetrenko/purchase-system/internal/mailer"
	"github.com/mpetrenko/purchase-system/internal/middleware"
	"github.com/mpetrenko/purchase-system/internal/notifier"
	"github.com/mpetrenko/purchase-system/internal/repository"
	"github.com/mpetrenko/purchase-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	m, err := buildMailer(cfg, logger)
	if err != nil {
		sugar.Fatalw("mailer initialization error", "error", err.Error())
	}

	svc := service.NewService(repo)
	defer svc.Close()

	worker := notifier.NewWorker(repo, m, logger, cfg.NotifyInterval)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового воркера напоминаний
	g.Go(func() error {
		worker.Run(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting purchase system server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// buildMailer выбирает почтовый транспорт: HTTP-шлюз, затем SMTP, иначе лог.
func buildMailer(cfg *config.Config, logger *zap.Logger) (mailer.Mailer, error) {
	if cfg.MailRelayAddress != "" {
		return mailer.NewRelayMailer(cfg.MailRelayAddress), nil
	}

	if cfg.SMTPHost != "" {
		return mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}

	return mailer.NewLogMailer(logger), nil
}
