// Package main запускает HTTP-сервер сервиса мем-кредитов и розыгрыша.
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

	"github.com/mmeshcher/memeraffle-system/internal/config"
	"github.com/mmeshcher/memeraffle-system/internal/handler"
	"github.com/mmeshcher/memeraffle-system/internal/meme"
	"github.com/mmeshcher/memeraffle-system/internal/middleware"
	"github.com/mmeshcher/memeraffle-system/internal/repository"
	"github.com/mmeshcher/memeraffle-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		repo, err = repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		repo, err = repository.NewMemoryRepository(cfg.StateFile)
		if err != nil {
			sugar.Fatalw("state initialization error", "error", err.Error())
		}
		sugar.Infow("using in-memory store", "stateFile", cfg.StateFile)
	}

	svc := service.NewService(repo, meme.NewSVGRenderer(), service.Policy{
		CreditsPerPurchase: cfg.CreditsPerPurchase,
		BundlePriceCents:   cfg.BundlePriceCents(),
		MemeCost:           cfg.MemeCost,
	})
	defer svc.Close()

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := svc.EnsureDemoSeeded(startupCtx, cfg.DemoUserID, cfg.DemoCredits); err != nil {
		startupCancel()
		sugar.Fatalw("demo seeding error", "error", err.Error())
	}
	startupCancel()

	signatureMiddleware := middleware.NewSignatureMiddleware(cfg.WebhookSecret)
	h := handler.NewHandler(svc, logger, signatureMiddleware, cfg.DemoUserID)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting memeraffle server", "addr", cfg.RunAddress)
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
