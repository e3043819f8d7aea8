package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/craiglabenz/grapevine/config"
	"github.com/craiglabenz/grapevine/internal/api"
	"github.com/craiglabenz/grapevine/internal/api/handler"
	"github.com/craiglabenz/grapevine/internal/backend"
	"github.com/craiglabenz/grapevine/internal/model"
	"github.com/craiglabenz/grapevine/internal/repository"
	"github.com/craiglabenz/grapevine/internal/sendable"
	"github.com/craiglabenz/grapevine/internal/service"
	"github.com/craiglabenz/grapevine/pkg/database"
	"github.com/craiglabenz/grapevine/pkg/logger"
	"github.com/craiglabenz/grapevine/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Server.Mode); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN}); err != nil {
			logger.Warn("sentry init failed", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx := context.Background()
	if cfg.Otel.Enabled {
		shutdown, err := telemetry.Init(ctx, "grapevine", cfg)
		if err != nil {
			logger.Warn("telemetry init failed", zap.Error(err))
		} else {
			defer shutdown(ctx) //nolint:errcheck
		}
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Error("init database", zap.Error(err))
		os.Exit(1)
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Error("migrate", zap.Error(err))
		os.Exit(1)
	}
	if err := model.SeedEventCatalog(db); err != nil {
		logger.Error("seed event catalog", zap.Error(err))
		os.Exit(1)
	}

	backends, err := backend.BuildRegistry(cfg, db)
	if err != nil {
		logger.Error("build backend registry", zap.Error(err))
		os.Exit(1)
	}

	var chat *backend.ChatWebhook
	if cfg.Grapevine.Chat.WebhookURL != "" {
		chat, err = backend.NewChatWebhook(cfg.Grapevine.Chat.WebhookURL, cfg.Grapevine.Chat.AuthToken,
			cfg.Grapevine.SendTimeout, cfg.Grapevine.FailSilently)
		if err != nil {
			logger.Error("build chat webhook", zap.Error(err))
			os.Exit(1)
		}
	}

	// Channel types are registered by the embedding deployment; the
	// server binary runs the ingest/view/trigger surface either way.
	registry := sendable.NewRegistry()

	baseURL := fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	sendSvc := service.NewSendService(db, backends, chat, cfg.Grapevine, baseURL)

	var sender service.Sender
	if cfg.Grapevine.SenderStrategy == "async" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sender = service.NewAsynchronousSender(repository.NewQueueRepository(db), rdb, cfg.Redis.SendQueue)
	} else {
		sender = service.NewSynchronousSender(sendSvc)
	}

	scheduler := service.NewScheduler(db, registry, sender)
	processor := service.NewEventProcessor(db, backends)

	h := handler.NewHandler(db, scheduler, processor)
	router := api.NewRouter(cfg.Server.Mode, h)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}
