// The worker binary drains the Redis send queue until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/craiglabenz/grapevine/config"
	"github.com/craiglabenz/grapevine/internal/backend"
	"github.com/craiglabenz/grapevine/internal/model"
	"github.com/craiglabenz/grapevine/internal/sendable"
	"github.com/craiglabenz/grapevine/internal/service"
	"github.com/craiglabenz/grapevine/pkg/database"
	"github.com/craiglabenz/grapevine/pkg/logger"
)

func main() {
	workers := flag.Int("workers", 4, "concurrent send workers")
	flag.Parse()

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

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Error("init database", zap.Error(err))
		os.Exit(1)
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Error("migrate", zap.Error(err))
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

	registry := sendable.NewRegistry()
	baseURL := fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	sendSvc := service.NewSendService(db, backends, chat, cfg.Grapevine, baseURL)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	worker := service.NewQueueWorker(db, rdb, cfg.Redis.SendQueue, registry, sendSvc)
	stop := worker.Start(*workers)
	logger.Info("worker started", zap.Int("workers", *workers), zap.String("queue", cfg.Redis.SendQueue))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("worker stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Error("worker stop", zap.Error(err))
	}
}
